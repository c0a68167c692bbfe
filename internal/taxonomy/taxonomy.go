// Package taxonomy defines the canonical defect categories per finding type
// and the severity weight of each category.
package taxonomy

import (
	"github.com/sells-group/inspection-cli/internal/model"
)

// Canonical defect categories.
const (
	DampWall         = "damp wall"
	ExposedWiring    = "exposed wiring"
	ElectricalWiring = "electrical wiring"
	Crack            = "crack"
	Mold             = "mold"
	WaterLeak        = "water leak"
	None             = "none"
)

var textCategories = []string{DampWall, ExposedWiring, Crack, Mold, WaterLeak, None}

var imageCategories = []string{Crack, WaterLeak, Mold, ElectricalWiring, None}

var weights = map[string]int{
	ExposedWiring:    3,
	ElectricalWiring: 3,
	DampWall:         3,
	Mold:             3,
	WaterLeak:        2,
	Crack:            2,
	None:             0,
}

// Categories returns the ordered candidate labels for a finding type. The
// returned slice is a copy. Unknown finding types have no categories.
func Categories(t model.FindingType) []string {
	var src []string
	switch t {
	case model.FindingTypeText:
		src = textCategories
	case model.FindingTypeImage:
		src = imageCategories
	default:
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// IsValid reports whether category belongs to the taxonomy for t.
func IsValid(t model.FindingType, category string) bool {
	for _, c := range Categories(t) {
		if c == category {
			return true
		}
	}
	return false
}

// SeverityWeight returns the fixed weight for a category. Unknown categories
// weigh 0.
func SeverityWeight(category string) int {
	return weights[category]
}

// IsDefect reports whether a category represents an actual defect.
func IsDefect(category string) bool {
	return category != None && SeverityWeight(category) > 0
}
