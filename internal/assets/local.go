package assets

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// LocalResolver reads assets from a directory tree. Staged references
// (@inspections/{finding}/{file}) resolve under Root/inspections; other
// relative references resolve under Root.
type LocalResolver struct {
	Root string
}

// NewLocalResolver creates a LocalResolver rooted at root.
func NewLocalResolver(root string) *LocalResolver {
	if root == "" {
		root = "."
	}
	return &LocalResolver{Root: root}
}

// Open implements Resolver.
func (l *LocalResolver) Open(ctx context.Context, ref string) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "assets: open")
	}

	p, err := l.path(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, eris.Wrapf(ErrUnavailable, "cannot access %s: %v", ref, err)
		}
		return nil, eris.Wrapf(err, "assets: open %s", ref)
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(f, maxAssetBytes+1))
	if err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "read %s: %v", ref, err)
	}
	if len(data) > maxAssetBytes {
		return nil, eris.Wrapf(ErrUnavailable, "asset %s exceeds %d bytes", ref, maxAssetBytes)
	}
	return newAsset(ref, data)
}

func (l *LocalResolver) path(ref string) (string, error) {
	if ref == "" {
		return "", eris.Wrap(ErrUnavailable, "empty asset reference")
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref), nil
	}

	rel := ref
	if strings.HasPrefix(ref, StagePrefix) {
		rel = filepath.Join("inspections", strings.TrimPrefix(ref, StagePrefix))
	}
	p := filepath.Join(l.Root, filepath.FromSlash(rel))

	// A staged reference may not climb out of the root.
	root := filepath.Clean(l.Root)
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) && root != "." {
		return "", eris.Wrapf(ErrUnavailable, "asset %s escapes root", ref)
	}
	return p, nil
}

// Put writes data at the location ref resolves to, creating directories as
// needed. An existing file is replaced.
func (l *LocalResolver) Put(ctx context.Context, ref string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "assets: put")
	}
	p, err := l.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrapf(err, "assets: create directory for %s", ref)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return eris.Wrapf(err, "assets: write %s", ref)
	}
	return nil
}
