// Package classifier is the boundary to the external defect classification
// service. Every call reports a typed Outcome instead of an error so callers
// never inspect error text to choose between fallback and hard failure.
package classifier

import (
	"context"
	"strings"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	// OutcomeSuccess carries one or more raw labels.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeEmpty means the service answered with nothing usable.
	OutcomeEmpty
	// OutcomeAssetUnavailable means the image could not be read.
	OutcomeAssetUnavailable
	// OutcomeTransientError means the service failed after retries.
	OutcomeTransientError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeAssetUnavailable:
		return "asset_unavailable"
	case OutcomeTransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one classifier call. Labels are raw and have not
// been checked against the taxonomy.
type Outcome struct {
	Kind   OutcomeKind
	Labels []string
	Err    error
}

// Success returns a success outcome, or Empty when labels holds no
// non-blank entry.
func Success(labels ...string) Outcome {
	kept := make([]string, 0, len(labels))
	for _, l := range labels {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return Empty()
	}
	return Outcome{Kind: OutcomeSuccess, Labels: kept}
}

// Empty returns an outcome for a response with no usable labels.
func Empty() Outcome {
	return Outcome{Kind: OutcomeEmpty}
}

// AssetUnavailable returns an outcome for an unreadable image.
func AssetUnavailable(err error) Outcome {
	return Outcome{Kind: OutcomeAssetUnavailable, Err: err}
}

// TransientError returns an outcome for a failed service call.
func TransientError(err error) Outcome {
	return Outcome{Kind: OutcomeTransientError, Err: err}
}

// Classifier classifies finding content into raw labels. candidates lists
// the labels the caller will accept.
type Classifier interface {
	ClassifyText(ctx context.Context, text string, candidates []string) Outcome
	ClassifyImage(ctx context.Context, ref string, candidates []string) Outcome
}

// Disabled is used when no classification backend is configured. Every call
// is Empty, which sends findings to the keyword fallback.
type Disabled struct{}

// ClassifyText implements Classifier.
func (Disabled) ClassifyText(context.Context, string, []string) Outcome { return Empty() }

// ClassifyImage implements Classifier.
func (Disabled) ClassifyImage(context.Context, string, []string) Outcome { return Empty() }

// Features wraps a Classifier so that disabled finding types go straight to
// the keyword fallback.
type Features struct {
	Classifier
	Text  bool
	Image bool
}

// ClassifyText implements Classifier.
func (f Features) ClassifyText(ctx context.Context, text string, candidates []string) Outcome {
	if !f.Text {
		return Empty()
	}
	return f.Classifier.ClassifyText(ctx, text, candidates)
}

// ClassifyImage implements Classifier.
func (f Features) ClassifyImage(ctx context.Context, ref string, candidates []string) Outcome {
	if !f.Image {
		return Empty()
	}
	return f.Classifier.ClassifyImage(ctx, ref, candidates)
}
