// Package summary writes the plain-language summary of a property's
// inspection from its stored scores and current tags.
package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/store"
	"github.com/sells-group/inspection-cli/internal/taxonomy"
)

// Rewriter turns structured summary text into natural prose.
type Rewriter interface {
	Rewrite(ctx context.Context, structured string) (string, error)
}

// Invalidator is notified after a summary is stored.
type Invalidator interface {
	InvalidateProperty(propertyID string)
}

// Synthesizer builds and stores property summaries.
type Synthesizer struct {
	store       store.Store
	rewriter    Rewriter
	audit       auditlog.Sink
	invalidator Invalidator
}

// New creates a Synthesizer. rewriter and inv may be nil; without a
// rewriter the structured text is stored as is.
func New(st store.Store, rewriter Rewriter, audit auditlog.Sink, inv Invalidator) *Synthesizer {
	return &Synthesizer{store: st, rewriter: rewriter, audit: audit, invalidator: inv}
}

// Facts are the inputs of a summary.
type Facts struct {
	Score         int
	Category      model.RiskCategory
	DefectCounts  map[string]int
	AffectedRooms int
}

// Generate builds the summary for a property and stores it. An unknown
// property returns store.ErrNotFound.
func (s *Synthesizer) Generate(ctx context.Context, propertyID string) (string, error) {
	facts, err := s.collect(ctx, propertyID)
	if err != nil {
		return "", err
	}

	text := StructuredText(facts)
	if s.rewriter != nil {
		rewritten, err := s.rewriter.Rewrite(ctx, text)
		switch {
		case err != nil:
			s.audit.Log(ctx, model.ErrSummaryGeneration,
				fmt.Sprintf("summary rewrite failed: %v", err), model.EntityProperty, propertyID)
			text = FallbackText(facts)
		case strings.TrimSpace(rewritten) != "":
			text = strings.TrimSpace(rewritten)
		}
	}

	if err := s.store.UpdatePropertySummary(ctx, propertyID, text); err != nil {
		return "", eris.Wrapf(err, "summary: store summary for %s", propertyID)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateProperty(propertyID)
	}

	zap.L().Info("summary: generated",
		zap.String("property_id", propertyID),
		zap.String("risk_category", string(facts.Category)),
		zap.Int("affected_rooms", facts.AffectedRooms),
	)
	return text, nil
}

func (s *Synthesizer) collect(ctx context.Context, propertyID string) (Facts, error) {
	prop, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return Facts{}, eris.Wrapf(err, "summary: load property %s", propertyID)
	}
	tags, err := s.store.ListPropertyTags(ctx, propertyID)
	if err != nil {
		return Facts{}, eris.Wrapf(err, "summary: load tags for %s", propertyID)
	}

	facts := Facts{Category: prop.RiskCategory, DefectCounts: make(map[string]int)}
	if prop.RiskScore != nil {
		facts.Score = *prop.RiskScore
	}
	if facts.Category == "" {
		facts.Category = model.RiskLow
	}

	affected := make(map[string]bool)
	for _, t := range tags {
		if t.Category == taxonomy.None {
			continue
		}
		facts.DefectCounts[t.Category]++
		affected[t.RoomID] = true
	}
	facts.AffectedRooms = len(affected)
	return facts, nil
}

type defectCount struct {
	category string
	count    int
}

// rankDefects orders defects by severity, then count, then name.
func rankDefects(counts map[string]int) []defectCount {
	out := make([]defectCount, 0, len(counts))
	for c, n := range counts {
		if n > 0 {
			out = append(out, defectCount{c, n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		wi, wj := taxonomy.SeverityWeight(out[i].category), taxonomy.SeverityWeight(out[j].category)
		if wi != wj {
			return wi > wj
		}
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].category < out[j].category
	})
	return out
}

// DescribeDefects renders counts as "2 mold, 1 crack, and 1 water leak".
func DescribeDefects(counts map[string]int) string {
	ranked := rankDefects(counts)
	parts := make([]string, len(ranked))
	for i, d := range ranked {
		parts[i] = fmt.Sprintf("%d %s", d.count, d.category)
	}
	switch len(parts) {
	case 0:
		return "no significant defects found"
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
	}
}

// StructuredText is the deterministic summary handed to the rewriter.
func StructuredText(f Facts) string {
	if len(f.DefectCounts) == 0 && f.Score == 0 {
		return fmt.Sprintf("Property inspection completed with risk level: %s. "+
			"No significant defects were found. The property appears to be in good condition.", f.Category)
	}
	return fmt.Sprintf("Property inspection found %d room(s) with defects. "+
		"Overall risk level: %s (score: %d). Defects identified: %s.",
		f.AffectedRooms, f.Category, f.Score, DescribeDefects(f.DefectCounts))
}

// FallbackText is stored when the rewriter fails.
func FallbackText(f Facts) string {
	ranked := rankDefects(f.DefectCounts)
	if len(ranked) == 0 || f.AffectedRooms == 0 {
		return fmt.Sprintf("Risk: %s. No major issues found. Property appears to be in good condition.", f.Category)
	}
	total := 0
	for _, d := range ranked {
		total += d.count
	}
	return fmt.Sprintf("Risk: %s. Found %d defect(s) in %d room(s) including %s.",
		f.Category, total, f.AffectedRooms, ranked[0].category)
}
