package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/metrics"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/recorder"
	"github.com/sells-group/inspection-cli/internal/risk"
	"github.com/sells-group/inspection-cli/internal/store"
	"github.com/sells-group/inspection-cli/internal/taxonomy"
)

// ManualConfidence is used for manual labels given without a confidence.
const ManualConfidence = 1.0

// UnsetConfidence marks a manual label whose confidence was not given.
// An explicit 0 is kept as 0.
const UnsetConfidence = -1.0

// Result is the outcome of classifying one finding.
type Result struct {
	FindingID  string            `json:"finding_id"`
	RoomID     string            `json:"room_id"`
	PropertyID string            `json:"property_id,omitempty"`
	Tags       []model.DefectTag `json:"tags"`
	RoomScore  *int              `json:"room_risk_score,omitempty"`
}

// Service is the classify-and-record unit of work for a single finding.
type Service struct {
	store      store.Store
	normalizer *Normalizer
	recorder   *recorder.Recorder
	risk       *risk.Aggregator
	audit      auditlog.Sink
	metrics    *metrics.Metrics
}

// NewService creates a Service. m may be nil.
func NewService(st store.Store, n *Normalizer, rec *recorder.Recorder, agg *risk.Aggregator, audit auditlog.Sink, m *metrics.Metrics) *Service {
	return &Service{
		store:      st,
		normalizer: n,
		recorder:   rec,
		risk:       agg,
		audit:      audit,
		metrics:    m,
	}
}

// ClassifyFinding classifies a finding, stores its tags and rescores its
// room. Any current tags the finding holds are replaced.
//
// Errors wrap ErrValidation, ErrAssetUnavailable or store.ErrNotFound where
// they apply. Any other failure marks the finding failed.
func (s *Service) ClassifyFinding(ctx context.Context, findingID string) (*Result, error) {
	if strings.TrimSpace(findingID) == "" {
		return nil, eris.Wrap(ErrValidation, "finding id is required")
	}

	f, err := s.store.GetFinding(ctx, findingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.audit.Log(ctx, model.ErrFindingNotFound,
				"finding not found: "+findingID, model.EntityFinding, findingID)
		}
		return nil, eris.Wrapf(err, "classify: load finding %s", findingID)
	}

	labels, err := s.normalizer.Normalize(ctx, f)
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		return nil, err
	case errors.Is(err, ErrAssetUnavailable):
		s.markFailed(ctx, f)
		return nil, err
	default:
		return nil, s.fail(ctx, f, err)
	}

	// Failed and concurrently classified findings may already hold tags.
	tags, err := s.recorder.Reclassify(ctx, f.ID, labels, model.MethodFor(f.Type))
	if err != nil {
		return nil, s.fail(ctx, f, err)
	}
	s.metrics.IncFindingsClassified(string(f.Type), string(model.StatusProcessed))

	res := &Result{FindingID: f.ID, RoomID: f.RoomID, Tags: tags}
	s.rescoreRoom(ctx, res)

	zap.L().Info("classify: finding classified",
		zap.String("finding_id", f.ID),
		zap.String("room_id", f.RoomID),
		zap.String("finding_type", string(f.Type)),
		zap.Int("tags", len(tags)),
	)
	return res, nil
}

// Reclassify replaces a finding's current tags with manual labels and
// rescores its room and property. Labels with UnsetConfidence get
// ManualConfidence.
func (s *Service) Reclassify(ctx context.Context, findingID string, labels []model.Label) (*Result, error) {
	if strings.TrimSpace(findingID) == "" {
		return nil, eris.Wrap(ErrValidation, "finding id is required")
	}
	if len(labels) == 0 {
		return nil, eris.Wrapf(ErrValidation, "no labels for finding %s", findingID)
	}

	f, err := s.store.GetFinding(ctx, findingID)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: load finding %s", findingID)
	}

	clean := make([]model.Label, 0, len(labels))
	for _, l := range labels {
		category := CanonicalLabel(l.Category)
		if !taxonomy.IsValid(f.Type, category) {
			return nil, eris.Wrapf(ErrValidation, "%q is not a valid %s category", l.Category, f.Type)
		}
		if l.Confidence == UnsetConfidence {
			l.Confidence = ManualConfidence
		}
		if l.Confidence < 0 || l.Confidence > 1 {
			return nil, eris.Wrapf(ErrValidation, "confidence %v out of range", l.Confidence)
		}
		clean = append(clean, model.Label{Category: category, Confidence: l.Confidence})
	}

	tags, err := s.recorder.Reclassify(ctx, f.ID, clean, model.MethodManual)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: reclassify %s", f.ID)
	}

	res := &Result{FindingID: f.ID, RoomID: f.RoomID, Tags: tags}
	s.rescoreRoom(ctx, res)
	if res.PropertyID != "" {
		if _, err := s.risk.ComputePropertyRisk(ctx, res.PropertyID); err != nil {
			zap.L().Warn("classify: property rescore failed",
				zap.String("property_id", res.PropertyID), zap.Error(err))
		}
	}

	zap.L().Info("classify: finding reclassified",
		zap.String("finding_id", f.ID), zap.Int("tags", len(tags)))
	return res, nil
}

// rescoreRoom recomputes the room score after a write. A failure leaves
// the tags in place and is only logged; the next recompute corrects it.
func (s *Service) rescoreRoom(ctx context.Context, res *Result) {
	rr, err := s.risk.ComputeRoomRisk(ctx, res.RoomID)
	if err != nil {
		zap.L().Warn("classify: room rescore failed",
			zap.String("finding_id", res.FindingID),
			zap.String("room_id", res.RoomID),
			zap.Error(err))
		return
	}
	score := rr.Score
	res.RoomScore = &score
	res.PropertyID = rr.PropertyID
}

func (s *Service) fail(ctx context.Context, f *model.Finding, cause error) error {
	s.markFailed(ctx, f)
	s.audit.Log(ctx, model.ErrClassificationFailed,
		fmt.Sprintf("classification of %s finding failed: %v", f.Type, cause),
		model.EntityFinding, f.ID)
	return eris.Wrapf(cause, "classify: finding %s", f.ID)
}

func (s *Service) markFailed(ctx context.Context, f *model.Finding) {
	s.metrics.IncFindingsClassified(string(f.Type), string(model.StatusFailed))
	if err := s.store.UpdateFindingStatus(context.WithoutCancel(ctx), f.ID, model.StatusFailed); err != nil {
		zap.L().Error("classify: mark finding failed",
			zap.String("finding_id", f.ID), zap.Error(err))
	}
}
