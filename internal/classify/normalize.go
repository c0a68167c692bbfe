// Package classify turns raw classifier output into validated defect labels,
// records them, and drives classification across batches of findings.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/inspection-cli/internal/assets"
	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/classifier"
	"github.com/sells-group/inspection-cli/internal/metrics"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/taxonomy"
)

var (
	// ErrValidation is returned for structurally invalid input. Nothing is
	// written when it is returned.
	ErrValidation = eris.New("classify: invalid input")
	// ErrAssetUnavailable is returned when a finding's image cannot be read.
	ErrAssetUnavailable = eris.New("classify: asset unavailable")
)

// Confidence assigned to labels by source.
const (
	AIConfidence       = 0.85
	FallbackConfidence = 0.5
	NoneConfidence     = 0.0
)

// Normalizer validates classifier output against the taxonomy.
type Normalizer struct {
	classifier classifier.Classifier
	audit      auditlog.Sink
	metrics    *metrics.Metrics
	fallback   bool
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithoutFallback disables the keyword fallback. Findings the classifier
// cannot label are tagged none.
func WithoutFallback() NormalizerOption {
	return func(n *Normalizer) { n.fallback = false }
}

// WithMetrics records fallback and invalid label counts.
func WithMetrics(m *metrics.Metrics) NormalizerOption {
	return func(n *Normalizer) { n.metrics = m }
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(c classifier.Classifier, audit auditlog.Sink, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{classifier: c, audit: audit, fallback: true}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize classifies one finding. The result always holds at least one
// label and every label belongs to the finding type's taxonomy. The only
// errors are ErrValidation and ErrAssetUnavailable; classifier failures fall
// back to keyword matching.
func (n *Normalizer) Normalize(ctx context.Context, f *model.Finding) ([]model.Label, error) {
	if err := validateFinding(f); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(f.Content())
	candidates := taxonomy.Categories(f.Type)

	var out classifier.Outcome
	if f.Type == model.FindingTypeImage {
		if assets.IsUnavailableRef(content) {
			return nil, n.assetUnavailable(ctx, f, "asset reference marked unavailable: "+content)
		}
		out = n.classifier.ClassifyImage(ctx, content, candidates)
	} else {
		out = n.classifier.ClassifyText(ctx, content, candidates)
	}

	switch out.Kind {
	case classifier.OutcomeSuccess:
		return n.validate(ctx, f, out.Labels), nil
	case classifier.OutcomeAssetUnavailable:
		return nil, n.assetUnavailable(ctx, f, errMessage(out.Err, "asset unavailable"))
	case classifier.OutcomeTransientError:
		n.audit.Log(ctx, model.ErrClassification,
			fmt.Sprintf("%s classification failed: %s", f.Type, errMessage(out.Err, "unknown error")),
			model.EntityFinding, f.ID)
		return n.fallbackLabels(f), nil
	default:
		return n.fallbackLabels(f), nil
	}
}

func (n *Normalizer) assetUnavailable(ctx context.Context, f *model.Finding, msg string) error {
	n.audit.Log(ctx, model.ErrImageAccess, msg, model.EntityFinding, f.ID)
	return eris.Wrapf(ErrAssetUnavailable, "finding %s", f.ID)
}

// validate keeps labels that belong to the taxonomy. Text findings take only
// the first label.
func (n *Normalizer) validate(ctx context.Context, f *model.Finding, raw []string) []model.Label {
	if f.Type == model.FindingTypeText && len(raw) > 1 {
		zap.L().Debug("classify: extra text labels ignored",
			zap.String("finding_id", f.ID), zap.Strings("labels", raw[1:]))
		raw = raw[:1]
	}

	labels := make([]model.Label, 0, len(raw))
	for _, r := range raw {
		category := CanonicalLabel(r)
		if !taxonomy.IsValid(f.Type, category) {
			n.metrics.IncInvalidLabel(string(f.Type))
			n.audit.Log(ctx, model.ErrInvalidCategory,
				fmt.Sprintf("classifier returned %q, not a valid %s category", r, f.Type),
				model.EntityFinding, f.ID)
			continue
		}
		labels = append(labels, model.Label{Category: category, Confidence: AIConfidence})
	}
	if len(labels) == 0 {
		return []model.Label{{Category: taxonomy.None, Confidence: NoneConfidence}}
	}
	return labels
}

func (n *Normalizer) fallbackLabels(f *model.Finding) []model.Label {
	if !n.fallback {
		return []model.Label{{Category: taxonomy.None, Confidence: NoneConfidence}}
	}
	n.metrics.IncFallback(string(f.Type))
	if f.Type == model.FindingTypeImage {
		// Directory hints in the reference count as much as the file name.
		return FallbackImage(strings.TrimSpace(f.ImageFilename + " " + f.ImageRef))
	}
	return FallbackText(f.NoteText)
}

// CanonicalLabel folds case, treats underscores and hyphens as spaces and
// collapses whitespace, so "Water_Leak" and " water  leak " both map to
// "water leak".
func CanonicalLabel(s string) string {
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

func validateFinding(f *model.Finding) error {
	if f == nil {
		return eris.Wrap(ErrValidation, "finding is required")
	}
	if strings.TrimSpace(f.ID) == "" {
		return eris.Wrap(ErrValidation, "finding id is required")
	}
	if !f.Type.Valid() {
		return eris.Wrapf(ErrValidation, "finding %s has unknown type %q", f.ID, f.Type)
	}
	if strings.TrimSpace(f.Content()) == "" {
		return eris.Wrapf(ErrValidation, "finding %s has no content", f.ID)
	}
	return nil
}

func errMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
