// Package assets resolves image asset references recorded on findings to
// image bytes that can be handed to a classifier.
package assets

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnavailable is returned when an asset cannot be read or is not a usable
// image. Callers treat it as a per-finding failure, never a systemic one.
var ErrUnavailable = eris.New("assets: unavailable")

// StagePrefix is the prefix of asset references written at ingestion.
const StagePrefix = "@inspections/"

// unavailableMarkers flag references whose upstream upload is already known
// to have failed.
var unavailableMarkers = []string{"missing", "nonexistent", "notfound", "corrupted"}

// maxAssetBytes caps the size of an image sent to the classifier.
const maxAssetBytes = 20 << 20

// Asset is a resolved image.
type Asset struct {
	Ref       string
	Filename  string
	MediaType string
	Data      []byte
}

// Resolver reads an asset reference.
type Resolver interface {
	Open(ctx context.Context, ref string) (*Asset, error)
}

// StagePath builds the reference stored for an image uploaded with a
// finding.
func StagePath(findingID, filename string) string {
	return StagePrefix + findingID + "/" + filename
}

// IsUnavailableRef reports whether ref carries one of the markers that
// signal an upstream I/O failure.
func IsUnavailableRef(ref string) bool {
	lower := strings.ToLower(ref)
	for _, marker := range unavailableMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// newAsset sniffs the media type and rejects data that is not an image the
// classifier accepts.
func newAsset(ref string, data []byte) (*Asset, error) {
	if len(data) == 0 {
		return nil, eris.Wrapf(ErrUnavailable, "asset %s is empty", ref)
	}
	mediaType := http.DetectContentType(data)
	switch mediaType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
	default:
		return nil, eris.Wrapf(ErrUnavailable, "asset %s is corrupted (detected %s)", ref, mediaType)
	}
	return &Asset{
		Ref:       ref,
		Filename:  path.Base(ref),
		MediaType: mediaType,
		Data:      data,
	}, nil
}

// Router dispatches ftp:// references to the FTP resolver, http:// and
// https:// references to the HTTP resolver, and everything else to the
// local resolver.
type Router struct {
	Local Resolver
	FTP   Resolver
	HTTP  Resolver
}

// Open implements Resolver.
func (r *Router) Open(ctx context.Context, ref string) (*Asset, error) {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "ftp://"):
		return route(ctx, r.FTP, "ftp", ref)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return route(ctx, r.HTTP, "http", ref)
	default:
		return route(ctx, r.Local, "local", ref)
	}
}

func route(ctx context.Context, res Resolver, kind, ref string) (*Asset, error) {
	if res == nil {
		return nil, eris.Wrapf(ErrUnavailable, "no %s resolver configured for %s", kind, ref)
	}
	return res.Open(ctx, ref)
}
