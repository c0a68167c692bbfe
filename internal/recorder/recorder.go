// Package recorder persists classifications as current defect tags plus an
// append-only history. Writes for one finding are serialized.
package recorder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/store"
	"github.com/sells-group/inspection-cli/internal/taxonomy"
)

// ErrInvalid is returned for a classification that cannot be stored.
var ErrInvalid = eris.New("recorder: invalid classification")

// Recorder writes classifications through the store.
type Recorder struct {
	store store.Store
	locks *keyedMutex
	now   func() time.Time
	newID func() string
}

// New creates a Recorder.
func New(st store.Store) *Recorder {
	return &Recorder{
		store: st,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Record stores one classification as a new current tag and a new history
// row and marks the finding processed. Existing tags are kept.
func (r *Recorder) Record(ctx context.Context, findingID, category string, confidence float64, method model.ClassificationMethod) (string, error) {
	tags, err := r.RecordAll(ctx, findingID, []model.Label{{Category: category, Confidence: confidence}}, method)
	if err != nil {
		return "", err
	}
	return tags[0].ID, nil
}

// RecordAll stores every label in one transaction. Existing tags are kept;
// duplicate categories are stored as separate tags.
func (r *Recorder) RecordAll(ctx context.Context, findingID string, labels []model.Label, method model.ClassificationMethod) ([]model.DefectTag, error) {
	return r.apply(ctx, findingID, labels, method, false)
}

// Reclassify replaces the finding's current tags with labels. History rows
// are only ever added.
func (r *Recorder) Reclassify(ctx context.Context, findingID string, labels []model.Label, method model.ClassificationMethod) ([]model.DefectTag, error) {
	return r.apply(ctx, findingID, labels, method, true)
}

// CurrentTags returns the finding's current tags, highest severity first.
func (r *Recorder) CurrentTags(ctx context.Context, findingID string) ([]model.DefectTag, error) {
	tags, err := r.store.ListCurrentTags(ctx, findingID)
	return tags, eris.Wrapf(err, "recorder: current tags for %s", findingID)
}

// History returns every classification ever stored for the finding, oldest
// first.
func (r *Recorder) History(ctx context.Context, findingID string) ([]model.ClassificationHistory, error) {
	history, err := r.store.ListHistory(ctx, findingID)
	return history, eris.Wrapf(err, "recorder: history for %s", findingID)
}

func (r *Recorder) apply(ctx context.Context, findingID string, labels []model.Label, method model.ClassificationMethod, replace bool) ([]model.DefectTag, error) {
	if err := validate(findingID, labels, method); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(findingID)
	defer unlock()

	if _, err := r.store.GetFinding(ctx, findingID); err != nil {
		return nil, eris.Wrapf(err, "recorder: load finding %s", findingID)
	}

	now := r.now()
	w := store.ClassificationWrite{
		FindingID:      findingID,
		ReplaceCurrent: replace,
		Tags:           make([]model.DefectTag, 0, len(labels)),
		History:        make([]model.ClassificationHistory, 0, len(labels)),
		Status:         model.StatusProcessed,
	}
	for _, l := range labels {
		weight := taxonomy.SeverityWeight(l.Category)
		if weight == 0 && l.Category != taxonomy.None {
			zap.L().Warn("recorder: category has no severity weight",
				zap.String("finding_id", findingID), zap.String("category", l.Category))
		}
		w.Tags = append(w.Tags, model.DefectTag{
			ID:             r.newID(),
			FindingID:      findingID,
			Category:       l.Category,
			Confidence:     l.Confidence,
			SeverityWeight: weight,
			ClassifiedAt:   now,
		})
		w.History = append(w.History, model.ClassificationHistory{
			ID:           r.newID(),
			FindingID:    findingID,
			Category:     l.Category,
			Confidence:   l.Confidence,
			Method:       method,
			ClassifiedAt: now,
		})
	}

	if err := r.store.ApplyClassification(ctx, w); err != nil {
		return nil, eris.Wrapf(err, "recorder: apply classification for %s", findingID)
	}

	zap.L().Debug("recorder: classification stored",
		zap.String("finding_id", findingID),
		zap.Int("tags", len(w.Tags)),
		zap.Bool("replaced", replace),
		zap.String("method", string(method)),
	)
	return w.Tags, nil
}

func validate(findingID string, labels []model.Label, method model.ClassificationMethod) error {
	if findingID == "" {
		return eris.Wrap(ErrInvalid, "finding id is required")
	}
	if len(labels) == 0 {
		return eris.Wrapf(ErrInvalid, "no labels for finding %s", findingID)
	}
	switch method {
	case model.MethodTextAI, model.MethodImageAI, model.MethodManual:
	default:
		return eris.Wrapf(ErrInvalid, "unknown classification method %q", method)
	}
	for _, l := range labels {
		if l.Category == "" {
			return eris.Wrapf(ErrInvalid, "empty category for finding %s", findingID)
		}
		if l.Confidence < 0 || l.Confidence > 1 {
			return eris.Wrapf(ErrInvalid, "confidence %v out of range for finding %s", l.Confidence, findingID)
		}
	}
	return nil
}
