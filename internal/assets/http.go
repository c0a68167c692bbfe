package assets

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP resolver.
type HTTPOptions struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	HostRate    rate.Limit
	BackoffBase time.Duration
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("assets: reducing photo host rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPResolver downloads photos hosted behind http:// or https:// URLs,
// retrying server errors and throttling each host.
type HTTPResolver struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPResolver creates an HTTPResolver with the given options.
func NewHTTPResolver(opts HTTPOptions) *HTTPResolver {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "inspection-cli/1.0"
	}
	if opts.HostRate == 0 {
		opts.HostRate = 10
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	return &HTTPResolver{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (h *HTTPResolver) limiterFor(host string) *AdaptiveLimiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(h.opts.HostRate, int(math.Max(1, float64(h.opts.HostRate))))
		h.limiters[host] = lim
	}
	return lim
}

// Open implements Resolver. 404 and 410 responses are reported as
// ErrUnavailable; exhausted retries are returned as ordinary errors.
func (h *HTTPResolver) Open(ctx context.Context, ref string) (*Asset, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return nil, eris.Wrapf(ErrUnavailable, "invalid photo url %q", ref)
	}
	lim := h.limiterFor(u.Host)

	var lastErr error
	for attempt := range h.opts.MaxRetries {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "assets: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, eris.Wrap(ErrUnavailable, err.Error())
		}
		req.Header.Set("User-Agent", h.opts.UserAgent)

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("assets: photo request failed, retrying",
				zap.String("url", ref), zap.Int("attempt", attempt+1), zap.Error(err))
			h.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			_ = resp.Body.Close()
			return nil, eris.Wrapf(ErrUnavailable, "file not found: %s", ref)
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			lim.OnRateLimit()
			lastErr = eris.Errorf("http 429 from %s", u.Host)
			h.backoff(ctx, attempt)
			continue
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, u.Host)
			zap.L().Warn("assets: photo host error, retrying",
				zap.String("url", ref), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt+1))
			h.backoff(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			_ = resp.Body.Close()
			return nil, eris.Wrapf(ErrUnavailable, "http %d for %s", resp.StatusCode, ref)
		}

		lim.OnSuccess()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
		_ = resp.Body.Close()
		if err != nil {
			return nil, eris.Wrap(err, "assets: read photo body")
		}
		if len(data) > maxAssetBytes {
			return nil, eris.Wrapf(ErrUnavailable, "asset %s exceeds %d bytes", ref, maxAssetBytes)
		}
		return newAsset(ref, data)
	}

	return nil, eris.Wrap(lastErr, "assets: all retries exhausted")
}

func (h *HTTPResolver) backoff(ctx context.Context, attempt int) {
	d := min(time.Duration(float64(h.opts.BackoffBase)*math.Pow(2, float64(attempt))), 30*time.Second)
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
