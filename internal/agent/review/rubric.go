package review

import (
	"math"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/checklist"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
)

// Ceilings maps each rubric category to its maximum score.
func Ceilings(r config.RubricConfig) map[string]int {
	return map[string]int{
		core.CategoryTargetAppeal:           r.TargetAppeal,
		core.CategoryLogicalStructure:       r.LogicalStructure,
		core.CategorySEOFitness:             r.SEOFitness,
		core.CategoryStructuralCompleteness: r.StructuralCompleteness,
	}
}

// StructuralScore scales the number of present checklist sections to the
// category ceiling.
func StructuralScore(present, ceiling int) int {
	total := checklist.Count()
	if total == 0 || ceiling <= 0 {
		return 0
	}
	present = clamp(present, 0, total)
	return int(math.Round(float64(present) / float64(total) * float64(ceiling)))
}

// SEOScore rescales the keyword analysis overall score (0..100) to the
// category ceiling.
func SEOScore(overall float64, ceiling int) int {
	if ceiling <= 0 || overall <= 0 {
		return 0
	}
	if overall > 100 {
		overall = 100
	}
	return int(math.Round(overall / 100 * float64(ceiling)))
}

// Blend mixes a deterministic score with the model's judgment. weight is the
// share given to the deterministic score. The result is clamped to the
// ceiling.
func Blend(deterministic, judged int, weight float64, ceiling int) int {
	v := weight*float64(deterministic) + (1-weight)*float64(judged)
	return clamp(int(math.Round(v)), 0, ceiling)
}

// Total sums the sub-scores over the known categories.
func Total(sub map[string]int) int {
	sum := 0
	for _, c := range core.Categories {
		sum += sub[c]
	}
	return sum
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
