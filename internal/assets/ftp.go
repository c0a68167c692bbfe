package assets

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP resolver.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPResolver downloads photo drops from an inspector FTP server.
type FTPResolver struct {
	opts FTPOptions
}

// NewFTPResolver creates a new FTPResolver with the given options.
func NewFTPResolver(opts FTPOptions) *FTPResolver {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPResolver{opts: opts}
}

// parseFTPURL extracts host (with port), path and credentials from an FTP URL.
func parseFTPURL(rawURL string) (host, path, user, pass string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" || path == "/" {
		return "", "", "", "", eris.New("empty path in ftp url")
	}

	user, pass = "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	return host, path, user, pass, nil
}

// Open implements Resolver. A missing remote file is reported as
// ErrUnavailable; connection failures are returned as ordinary errors.
func (f *FTPResolver) Open(ctx context.Context, ref string) (*Asset, error) {
	host, path, user, pass, err := parseFTPURL(ref)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}

	zap.L().Debug("ftp: connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login(user, pass); err != nil {
		return nil, eris.Wrap(err, "ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
			return nil, eris.Wrapf(ErrUnavailable, "file not found: %s", ref)
		}
		return nil, eris.Wrap(err, "ftp retrieve")
	}
	defer resp.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp, maxAssetBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "ftp read")
	}
	if len(data) > maxAssetBytes {
		return nil, eris.Wrapf(ErrUnavailable, "asset %s exceeds %d bytes", ref, maxAssetBytes)
	}
	return newAsset(ref, data)
}
