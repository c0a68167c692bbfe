package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/metrics"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/risk"
	"github.com/sells-group/inspection-cli/internal/store"
)

// BatchResult reports the outcome of a batch run.
type BatchResult struct {
	// Tags holds the stored tags of every successfully classified finding.
	Tags map[string][]model.DefectTag `json:"tags"`
	// Failed lists findings that were skipped, in input order.
	Failed []string `json:"failed"`
	// Properties holds the recomputed risk of every property touched.
	Properties map[string]*risk.PropertyRisk `json:"properties"`
}

// Batch classifies many findings. A failure on one finding never stops the
// others.
type Batch struct {
	service *Service
	store   store.Store
	risk    *risk.Aggregator
	audit   auditlog.Sink
	metrics *metrics.Metrics
	workers int
}

// NewBatch creates a Batch that runs up to workers findings at once.
func NewBatch(svc *Service, workers int) *Batch {
	if workers <= 0 {
		workers = 1
	}
	return &Batch{
		service: svc,
		store:   svc.store,
		risk:    svc.risk,
		audit:   svc.audit,
		metrics: svc.metrics,
		workers: workers,
	}
}

type itemResult struct {
	res *Result
	err error
}

// ClassifyBatch classifies every finding in ids and returns the tags of the
// ones that succeeded. Missing or failing findings are logged and left out
// of the result. Findings are started in input order.
func (b *Batch) ClassifyBatch(ctx context.Context, ids []string) *BatchResult {
	start := time.Now()
	defer func() { b.metrics.ObserveBatch(time.Since(start)) }()

	results := make([]itemResult, len(ids))
	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = b.classifyOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{
		Tags:       make(map[string][]model.DefectTag, len(ids)),
		Properties: make(map[string]*risk.PropertyRisk),
	}
	var touched, rooms []string
	seenRoom := make(map[string]bool)
	seenProperty := make(map[string]bool)
	for i, r := range results {
		if r.err != nil {
			out.Failed = append(out.Failed, ids[i])
			continue
		}
		out.Tags[ids[i]] = r.res.Tags
		if !seenRoom[r.res.RoomID] {
			seenRoom[r.res.RoomID] = true
			rooms = append(rooms, r.res.RoomID)
		}
		if p := r.res.PropertyID; p != "" && !seenProperty[p] {
			seenProperty[p] = true
			touched = append(touched, p)
		}
	}

	// Workers rescore rooms concurrently, so a room shared by two findings
	// may hold a stale score until it is rescored here.
	for _, roomID := range rooms {
		if _, err := b.risk.ComputeRoomRisk(ctx, roomID); err != nil {
			zap.L().Warn("classify: room rescore failed",
				zap.String("room_id", roomID), zap.Error(err))
		}
	}

	for _, propertyID := range touched {
		pr, err := b.risk.ComputePropertyRisk(ctx, propertyID)
		if err != nil {
			zap.L().Warn("classify: property rescore failed",
				zap.String("property_id", propertyID), zap.Error(err))
			continue
		}
		out.Properties[propertyID] = pr
	}

	zap.L().Info("classify: batch complete",
		zap.Int("findings", len(ids)),
		zap.Int("classified", len(out.Tags)),
		zap.Int("failed", len(out.Failed)),
		zap.Int("properties", len(out.Properties)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

// ClassifyPending classifies every pending finding matching filter.
func (b *Batch) ClassifyPending(ctx context.Context, filter store.FindingFilter) (*BatchResult, error) {
	filter.Status = model.StatusPending
	findings, err := b.store.ListFindings(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "classify: list pending findings")
	}
	ids := make([]string, len(findings))
	for i, f := range findings {
		ids[i] = f.ID
	}
	return b.ClassifyBatch(ctx, ids), nil
}

func (b *Batch) classifyOne(ctx context.Context, id string) (r itemResult) {
	defer func() {
		if p := recover(); p != nil {
			r = itemResult{err: fmt.Errorf("panic: %v", p)}
			b.audit.Log(ctx, model.ErrBatchClassification,
				fmt.Sprintf("panic classifying finding %s: %v", id, p), model.EntityFinding, id)
		}
	}()

	if err := ctx.Err(); err != nil {
		b.audit.Log(ctx, model.ErrBatchClassification,
			"batch cancelled before finding was classified", model.EntityFinding, id)
		return itemResult{err: err}
	}

	res, err := b.service.ClassifyFinding(ctx, id)
	if err != nil {
		// Missing findings and unreadable assets were already logged with
		// their own error type.
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, ErrAssetUnavailable) {
			b.audit.Log(ctx, model.ErrBatchClassification,
				fmt.Sprintf("error classifying finding %s: %v", id, err), model.EntityFinding, id)
		}
		zap.L().Debug("classify: batch item skipped", zap.String("finding_id", id), zap.Error(err))
		return itemResult{err: err}
	}
	return itemResult{res: res}
}
