package classify

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/taxonomy"
)

type keywordRule struct {
	category string
	keywords []string
}

// textRules are evaluated in order; the first rule with a matching keyword
// wins. The order is part of the observable contract.
var textRules = []keywordRule{
	{taxonomy.ExposedWiring, []string{"exposed wire", "exposed wiring", "live wire", "electrical hazard"}},
	{taxonomy.DampWall, []string{"damp", "wet wall", "moisture", "humid"}},
	{taxonomy.Mold, []string{"mold", "mould", "fungus", "mildew"}},
	{taxonomy.WaterLeak, []string{"leak", "leaking", "water damage", "drip"}},
	{taxonomy.Crack, []string{"crack", "fissure", "split", "fracture"}},
}

// imageRules are evaluated independently; every matching rule emits a label.
var imageRules = []keywordRule{
	{taxonomy.Crack, []string{"crack", "fissure"}},
	{taxonomy.WaterLeak, []string{"leak", "water"}},
	{taxonomy.Mold, []string{"mold", "mould"}},
	{taxonomy.ElectricalWiring, []string{"wire", "wiring", "electrical"}},
}

// FallbackText classifies a note by keyword. It always returns exactly one
// label.
func FallbackText(text string) []model.Label {
	folded := cases.Fold().String(text)
	for _, rule := range textRules {
		if containsAny(folded, rule.keywords) {
			return []model.Label{{Category: rule.category, Confidence: FallbackConfidence}}
		}
	}
	return []model.Label{{Category: taxonomy.None, Confidence: FallbackConfidence}}
}

// FallbackImage classifies a photo by the hints in its file name. It returns
// one label per matching hint, or a single none label.
func FallbackImage(name string) []model.Label {
	folded := cases.Fold().String(name)
	var labels []model.Label
	for _, rule := range imageRules {
		if containsAny(folded, rule.keywords) {
			labels = append(labels, model.Label{Category: rule.category, Confidence: FallbackConfidence})
		}
	}
	if len(labels) == 0 {
		return []model.Label{{Category: taxonomy.None, Confidence: FallbackConfidence}}
	}
	return labels
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
