package summary

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inspection-cli/internal/resilience"
	"github.com/sells-group/inspection-cli/pkg/anthropic"
)

const rewriteSystemPrompt = `You write short summaries of home inspection results for home buyers. Rewrite the inspection facts you are given as two or three plain sentences. Keep every number and the risk level exactly as given. Do not add defects, advice or speculation. Reply with the summary only.`

// AnthropicRewriter rewrites summaries with a Claude model.
type AnthropicRewriter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	policy    resilience.Policy
}

// NewAnthropicRewriter creates an AnthropicRewriter. Calls are bounded by
// policy.
func NewAnthropicRewriter(client anthropic.Client, model string, maxTokens int64, policy resilience.Policy) *AnthropicRewriter {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.RetryLogger("anthropic", "summarize")
	}
	return &AnthropicRewriter{client: client, model: model, maxTokens: maxTokens, policy: policy}
}

// Rewrite implements Rewriter.
func (r *AnthropicRewriter) Rewrite(ctx context.Context, structured string) (string, error) {
	req := anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(rewriteSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: structured}},
	}

	resp, err := resilience.Call(ctx, r.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := r.client.CreateMessage(ctx, req)
		if err != nil {
			if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
				return nil, resilience.NewTransientError(err, status)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return "", eris.Wrap(err, "summary: rewrite")
	}

	resp.Usage.LogCost(r.model, "summarize")
	return strings.TrimSpace(resp.Text()), nil
}
