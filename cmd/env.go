package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/assets"
	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/cache"
	"github.com/sells-group/inspection-cli/internal/classifier"
	"github.com/sells-group/inspection-cli/internal/classify"
	"github.com/sells-group/inspection-cli/internal/config"
	"github.com/sells-group/inspection-cli/internal/ingest"
	"github.com/sells-group/inspection-cli/internal/metrics"
	"github.com/sells-group/inspection-cli/internal/recorder"
	"github.com/sells-group/inspection-cli/internal/report"
	"github.com/sells-group/inspection-cli/internal/resilience"
	"github.com/sells-group/inspection-cli/internal/risk"
	"github.com/sells-group/inspection-cli/internal/store"
	"github.com/sells-group/inspection-cli/internal/summary"
	anthropicpkg "github.com/sells-group/inspection-cli/pkg/anthropic"
)

const auditBuffer = 512

// appEnv holds the store and every component built on it for the
// import/classify/score/summarize/serve commands.
type appEnv struct {
	Store    store.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Audit    auditlog.Sink
	Stage    *assets.LocalResolver
	Ingester *ingest.Ingester
	Service  *classify.Service
	Batch    *classify.Batch
	Risk     *risk.Aggregator
	Reader   *report.Reader
	Summary  *summary.Synthesizer

	async *auditlog.Async
}

// Close flushes the audit log and releases the store.
func (e *appEnv) Close() {
	if e.async != nil {
		e.async.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates the config for mode, opens the store and wires the
// classification, scoring, summary and read components. Callers should
// defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	env, err := buildApp(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildApp wires components around an open, migrated store.
func buildApp(c *config.Config, st store.Store) (*appEnv, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, eris.Wrap(err, "init metrics")
	}

	async := auditlog.NewAsync(auditlog.NewStoreSink(st, m), auditBuffer)

	stage := assets.NewLocalResolver(c.Assets.Root)
	resolver := &assets.Router{
		Local: stage,
		FTP:   assets.NewFTPResolver(assets.FTPOptions{Timeout: time.Duration(c.Assets.FTPTimeoutSecs) * time.Second}),
		HTTP:  assets.NewHTTPResolver(assets.HTTPOptions{Timeout: time.Duration(c.Assets.HTTPTimeoutSecs) * time.Second}),
	}

	var anthropicClient anthropicpkg.Client
	if c.Anthropic.Key != "" {
		anthropicClient = anthropicpkg.NewClient(c.Anthropic.Key)
	}

	cls := initClassifier(c, anthropicClient, resolver, m)

	var nopts []classify.NormalizerOption
	nopts = append(nopts, classify.WithMetrics(m))
	if !c.Classifier.FallbackEnabled {
		nopts = append(nopts, classify.WithoutFallback())
	}
	normalizer := classify.NewNormalizer(cls, async, nopts...)

	reader := report.New(st, cache.New(time.Duration(c.Cache.TTLSecs)*time.Second, c.Cache.MaxEntries, m))
	agg := risk.New(st, risk.WithInvalidator(reader))
	svc := classify.NewService(st, normalizer, recorder.New(st), agg, async, m)

	var rewriter summary.Rewriter
	if c.Features.SummaryGeneration && anthropicClient != nil {
		policy := resilience.NewPolicy(c.Classifier.Timeout(), c.Classifier.RetryCount)
		rewriter = summary.NewAnthropicRewriter(anthropicClient, c.Anthropic.Model, c.Anthropic.MaxTokens, policy)
	}

	return &appEnv{
		Store:    st,
		Registry: reg,
		Metrics:  m,
		Audit:    async,
		Stage:    stage,
		Ingester: ingest.New(st, stage),
		Service:  svc,
		Batch:    classify.NewBatch(svc, c.Batch.MaxWorkers),
		Risk:     agg,
		Reader:   reader,
		Summary:  summary.New(st, rewriter, async, reader),
		async:    async,
	}, nil
}

// initClassifier returns the Anthropic classifier gated by the feature
// toggles, or a disabled classifier when no key is configured.
func initClassifier(c *config.Config, client anthropicpkg.Client, resolver assets.Resolver, m *metrics.Metrics) classifier.Classifier {
	if !c.Classifier.Enabled || client == nil {
		zap.L().Info("external classifier disabled, using keyword fallback",
			zap.Bool("enabled", c.Classifier.Enabled),
			zap.Bool("fallback_enabled", c.Classifier.FallbackEnabled),
		)
		return classifier.Disabled{}
	}

	a := classifier.NewAnthropic(client, resolver, classifier.AnthropicConfig{
		Model:             c.Anthropic.Model,
		MaxTokens:         c.Anthropic.MaxTokens,
		Timeout:           c.Classifier.Timeout(),
		Retries:           c.Classifier.RetryCount,
		RequestsPerSecond: c.Classifier.RequestsPerSecond,
		BreakerFailures:   c.Classifier.BreakerFailures,
		BreakerReset:      time.Duration(c.Classifier.BreakerResetSecs) * time.Second,
	}, m)

	zap.L().Info("anthropic classifier enabled",
		zap.String("model", c.Anthropic.Model),
		zap.Bool("text", c.Features.TextClassification),
		zap.Bool("image", c.Features.ImageClassification),
	)
	return classifier.Features{
		Classifier: a,
		Text:       c.Features.TextClassification,
		Image:      c.Features.ImageClassification,
	}
}
