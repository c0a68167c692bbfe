package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/inspection-cli/internal/assets"
	"github.com/sells-group/inspection-cli/internal/metrics"
	"github.com/sells-group/inspection-cli/internal/resilience"
	"github.com/sells-group/inspection-cli/pkg/anthropic"
)

const (
	textSystemPrompt = `You classify defects described in home inspection notes.
Reply with exactly one label copied from the candidate list and nothing else.
Reply "none" when the note describes no defect.`

	imageSystemPrompt = `You classify defects visible in home inspection photographs.
Reply with every applicable label copied from the candidate list, separated by commas, and nothing else.
Reply "none" when no defect is visible.`
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	Model             string
	MaxTokens         int64
	Timeout           time.Duration
	Retries           int
	RequestsPerSecond float64
	BreakerFailures   int
	BreakerReset      time.Duration
}

// Anthropic classifies findings with Claude. Calls are throttled, retried
// with a per-attempt timeout, and guarded by a circuit breaker.
type Anthropic struct {
	client  anthropic.Client
	assets  assets.Resolver
	cfg     AnthropicConfig
	policy  resilience.Policy
	breaker *resilience.Breaker
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewAnthropic creates an Anthropic classifier. m may be nil.
func NewAnthropic(client anthropic.Client, resolver assets.Resolver, cfg AnthropicConfig, m *metrics.Metrics) *Anthropic {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	policy := resilience.NewPolicy(cfg.Timeout, cfg.Retries)
	policy.OnRetry = resilience.RetryLogger("anthropic", "classify")

	return &Anthropic{
		client: client,
		assets: resolver,
		cfg:    cfg,
		policy: policy,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Threshold: cfg.BreakerFailures,
			Cooldown:  cfg.BreakerReset,
			Counts:    resilience.IsTransient,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("classifier: circuit breaker state change",
					zap.Stringer("from", from), zap.Stringer("to", to))
				m.SetBreakerState(int(to))
			},
		}),
		limiter: rate.NewLimiter(limit, 1),
		metrics: m,
	}
}

// ClassifyText implements Classifier.
func (a *Anthropic) ClassifyText(ctx context.Context, text string, candidates []string) Outcome {
	start := time.Now()
	req := anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(textSystemPrompt),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Candidate labels: %s\n\nNote: %s", strings.Join(candidates, ", "), text),
		}},
	}

	out := a.complete(ctx, req, "classify_text")
	a.metrics.ObserveClassifierCall("text", out.Kind.String(), time.Since(start))
	return out
}

// ClassifyImage implements Classifier.
func (a *Anthropic) ClassifyImage(ctx context.Context, ref string, candidates []string) Outcome {
	start := time.Now()
	out := a.classifyImage(ctx, ref, candidates)
	a.metrics.ObserveClassifierCall("image", out.Kind.String(), time.Since(start))
	return out
}

func (a *Anthropic) classifyImage(ctx context.Context, ref string, candidates []string) Outcome {
	asset, err := a.assets.Open(ctx, ref)
	if err != nil {
		if errors.Is(err, assets.ErrUnavailable) {
			return AssetUnavailable(err)
		}
		return TransientError(eris.Wrap(err, "classifier: open asset"))
	}

	req := anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(imageSystemPrompt),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Candidate labels: %s\n\nPhoto: %s", strings.Join(candidates, ", "), asset.Filename),
			Images:  []anthropic.Image{{MediaType: asset.MediaType, Data: asset.Data}},
		}},
	}
	return a.complete(ctx, req, "classify_image")
}

func (a *Anthropic) complete(ctx context.Context, req anthropic.MessageRequest, phase string) Outcome {
	resp, err := resilience.Do(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.Call(ctx, a.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "classifier: rate limit wait")
			}
			resp, err := a.client.CreateMessage(ctx, req)
			if err != nil {
				if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
					return nil, resilience.NewTransientError(err, status)
				}
				return nil, err
			}
			return resp, nil
		})
	})
	if err != nil {
		return TransientError(eris.Wrap(err, "classifier: "+phase))
	}

	resp.Usage.LogCost(a.cfg.Model, phase)
	return Success(ParseLabels(resp.Text())...)
}

// ParseLabels splits a free-form service reply into candidate labels. Labels
// may be separated by commas, semicolons or newlines and may carry list
// bullets, numbering, quotes or a trailing period.
func ParseLabels(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		f = strings.TrimLeft(f, "-*• ")
		f = trimNumbering(f)
		f = strings.Trim(f, "\"'`. ")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// trimNumbering removes a leading "1." or "2)" list marker.
func trimNumbering(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
