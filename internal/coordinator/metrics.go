package coordinator

import (
	"fmt"
	"regexp"
	"strings"
)

// Well-known result keys recognized when deriving PhaseMetrics from an
// opaque stage result payload.
const (
	keyQualityScore     = "quality_score"
	keyCostScore        = "cost_score"
	keyBenefitScore     = "benefit_score"
	keyGranularityScore = "granularity_score"
	keyResourceUsage    = "resource_usage"
	keyHumanTerminate   = "human_terminate"
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// CollectMetrics derives PhaseMetrics from a stage's raw result payload.
// Explicitly supplied scores win; the quality score falls back to heuristic
// scoring of the payload when absent. Stage-specific custom metrics are
// attached for Expand (idea diversity) and Retrospect (retrospective
// coverage).
func CollectMetrics(stage Stage, result map[string]any) PhaseMetrics {
	m := PhaseMetrics{}
	if result == nil {
		return m
	}

	m.QualityScore = ScoreResult(result)
	if v, ok := numericField(result, keyCostScore); ok {
		m.CostScore = v
	}
	if v, ok := numericField(result, keyBenefitScore); ok {
		m.BenefitScore = v
	}
	if v, ok := numericField(result, keyGranularityScore); ok {
		m.GranularityScore = v
	}
	if v, ok := numericField(result, keyResourceUsage); ok {
		m.ResourceUsage = v
	}
	if v, ok := result[keyHumanTerminate].(bool); ok {
		m.HumanTerminate = v
	}

	switch stage {
	case StageExpand:
		if d, ok := ideaDiversity(result); ok {
			m.Custom = map[string]float64{"idea_diversity": d}
		}
	case StageRetrospect:
		if q, ok := retrospectiveCoverage(result); ok {
			m.Custom = map[string]float64{"retrospective_coverage": q}
		}
	}
	return m
}

// ScoreResult computes a heuristic quality score in [0,1] for an opaque
// result payload. An explicit high score short-circuits; otherwise the score
// is a weighted blend of completeness, consistency, and the explicit score,
// minus an error penalty.
func ScoreResult(result map[string]any) float64 {
	if len(result) == 0 {
		return 0
	}

	explicit := explicitScore(result)
	if explicit > 0.8 {
		return clamp01(maxf(0.75, explicit*0.9))
	}

	completeness := completenessScore(result)
	consistency := consistencyScore(result)
	penalty := errorPenalty(result)

	score := 0.35*completeness + 0.3*consistency + 0.35*explicit
	score -= penalty

	if len(result) >= 5 && result["error"] == nil && result["errors"] == nil {
		score *= 1.2
	}
	return clamp01(score)
}

// explicitScore looks for an explicit quality indicator in the payload.
func explicitScore(result map[string]any) float64 {
	for _, key := range []string{keyQualityScore, "confidence", "accuracy", "score"} {
		if v, ok := numericField(result, key); ok && v >= 0 && v <= 1 {
			return v
		}
	}
	return 0.5
}

// completenessScore rewards breadth, nesting depth, and content volume.
func completenessScore(result map[string]any) float64 {
	keys := minf(1, float64(len(result))/20)
	depth := minf(1, float64(valueDepth(result, 0))/5)
	length := minf(1, float64(contentLength(result))/10000)
	return 0.4*keys + 0.3*depth + 0.3*length
}

// consistencyScore checks pairs of keys expected to describe the same work
// and measures their word overlap.
func consistencyScore(result map[string]any) float64 {
	pairs := [][2]string{
		{"approach", "implementation"},
		{"problem", "solution"},
		{"requirements", "design"},
		{"design", "implementation"},
	}
	var scores []float64
	for _, pair := range pairs {
		a, okA := result[pair[0]]
		b, okB := result[pair[1]]
		if okA && okB {
			scores = append(scores, textSimilarity(stringify(a), stringify(b)))
		}
	}
	if len(scores) == 0 {
		return 0.5
	}
	return mean(scores)
}

// errorPenalty penalizes payloads carrying error indicators.
func errorPenalty(result map[string]any) float64 {
	penalty := 0.0
	for _, key := range []string{"error", "errors", "failure", "failures"} {
		v, ok := result[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case bool:
			if val {
				penalty += 0.2
			}
		case string:
			if val != "" {
				penalty += minf(0.3, 0.05*float64(len(val)))
			}
		default:
			penalty += minf(0.5, 0.1*float64(len(stringify(val))))
		}
	}
	return minf(1, penalty)
}

// ideaDiversity measures pairwise dissimilarity of generated ideas.
func ideaDiversity(result map[string]any) (float64, bool) {
	var ideas []string
	for _, key := range []string{"ideas", "approaches", "solutions"} {
		if list, ok := result[key].([]any); ok {
			for _, item := range list {
				ideas = append(ideas, stringify(item))
			}
		}
	}
	if len(ideas) < 2 {
		return 0, false
	}
	var sims []float64
	for i := range ideas {
		for j := i + 1; j < len(ideas); j++ {
			sims = append(sims, textSimilarity(ideas[i], ideas[j]))
		}
	}
	return 1 - mean(sims), true
}

// retrospectiveCoverage rewards retrospectives that cover the expected
// elements: learnings, improvements, successes, challenges, next steps.
func retrospectiveCoverage(result map[string]any) (float64, bool) {
	elements := []string{"learnings", "improvements", "successes", "challenges", "next_steps"}
	found := false
	var scores []float64
	for _, elem := range elements {
		count := 0
		switch v := result[elem].(type) {
		case []any:
			count = len(v)
		case string:
			if v != "" {
				count = 1
			}
		}
		if count > 0 {
			found = true
		}
		scores = append(scores, minf(1, float64(count)/3))
	}
	if !found {
		return 0, false
	}
	return mean(scores), true
}

// textSimilarity is the Jaccard similarity of the word sets of two texts.
func textSimilarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 && len(wordsB) == 0 {
		return 1
	}
	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		out[w] = struct{}{}
	}
	return out
}

// valueDepth reports the maximum nesting depth of maps and slices.
func valueDepth(v any, depth int) int {
	switch val := v.(type) {
	case map[string]any:
		maxDepth := depth
		for _, item := range val {
			if d := valueDepth(item, depth+1); d > maxDepth {
				maxDepth = d
			}
		}
		return maxDepth
	case []any:
		maxDepth := depth
		for _, item := range val {
			if d := valueDepth(item, depth+1); d > maxDepth {
				maxDepth = d
			}
		}
		return maxDepth
	default:
		return depth
	}
}

func contentLength(result map[string]any) int {
	total := 0
	for k, v := range result {
		total += len(k) + len(stringify(v))
	}
	return total
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, " ")
	case map[string]any:
		var b strings.Builder
		for k, item := range val {
			b.WriteString(k)
			b.WriteString(" ")
			b.WriteString(stringify(item))
			b.WriteString(" ")
		}
		return b.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func numericField(result map[string]any, key string) (float64, bool) {
	switch v := result[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
