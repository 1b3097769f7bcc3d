package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreResult(t *testing.T) {
	t.Run("empty payload scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, ScoreResult(nil))
		assert.Equal(t, 0.0, ScoreResult(map[string]any{}))
	})

	t.Run("explicit high score short-circuits", func(t *testing.T) {
		got := ScoreResult(map[string]any{"quality_score": 0.95})
		assert.InDelta(t, 0.855, got, 1e-9)
	})

	t.Run("explicit high score floor", func(t *testing.T) {
		got := ScoreResult(map[string]any{"confidence": 0.81})
		// max(0.75, 0.81*0.9) = 0.75
		assert.InDelta(t, 0.75, got, 1e-9)
	})

	t.Run("errors penalize", func(t *testing.T) {
		clean := ScoreResult(map[string]any{
			"approach":      "incremental refactor of the cache layer",
			"quality_score": 0.6,
		})
		dirty := ScoreResult(map[string]any{
			"approach":      "incremental refactor of the cache layer",
			"quality_score": 0.6,
			"error":         "two tests failed",
		})
		assert.Less(t, dirty, clean)
	})

	t.Run("consistent pairs score higher than contradictory ones", func(t *testing.T) {
		consistent := ScoreResult(map[string]any{
			"problem":  "cache misses dominate latency",
			"solution": "reduce cache misses with request coalescing",
		})
		contradictory := ScoreResult(map[string]any{
			"problem":  "cache misses dominate latency",
			"solution": "rewrite the billing exporter in another language",
		})
		assert.Greater(t, consistent, contradictory)
	})

	t.Run("always in unit range", func(t *testing.T) {
		payload := map[string]any{
			"a": "x", "b": "y", "c": "z", "d": "w", "e": "v",
			"quality_score": 0.79,
		}
		got := ScoreResult(payload)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	})
}

func TestCollectMetrics(t *testing.T) {
	t.Run("nil result", func(t *testing.T) {
		m := CollectMetrics(StageExpand, nil)
		assert.Equal(t, PhaseMetrics{}, m)
	})

	t.Run("explicit fields pass through", func(t *testing.T) {
		m := CollectMetrics(StageRefine, map[string]any{
			"quality_score":     0.95,
			"cost_score":        0.3,
			"benefit_score":     0.7,
			"granularity_score": 0.4,
			"resource_usage":    0.2,
			"human_terminate":   true,
		})
		assert.InDelta(t, 0.855, m.QualityScore, 1e-9)
		assert.Equal(t, 0.3, m.CostScore)
		assert.Equal(t, 0.7, m.BenefitScore)
		assert.Equal(t, 0.4, m.GranularityScore)
		assert.Equal(t, 0.2, m.ResourceUsage)
		assert.True(t, m.HumanTerminate)
	})

	t.Run("integer scores accepted", func(t *testing.T) {
		m := CollectMetrics(StageRefine, map[string]any{"cost_score": 1})
		assert.Equal(t, 1.0, m.CostScore)
	})

	t.Run("expand gets idea diversity", func(t *testing.T) {
		m := CollectMetrics(StageExpand, map[string]any{
			"ideas": []any{
				"use a write-through cache",
				"precompute results in a nightly batch job",
			},
		})
		require.Contains(t, m.Custom, "idea_diversity")
		assert.Greater(t, m.Custom["idea_diversity"], 0.5, "dissimilar ideas score diverse")
	})

	t.Run("single idea has no diversity metric", func(t *testing.T) {
		m := CollectMetrics(StageExpand, map[string]any{
			"ideas": []any{"only one idea"},
		})
		assert.NotContains(t, m.Custom, "idea_diversity")
	})

	t.Run("retrospect gets coverage", func(t *testing.T) {
		m := CollectMetrics(StageRetrospect, map[string]any{
			"learnings":    []any{"a", "b", "c"},
			"improvements": []any{"x"},
			"next_steps":   "ship it",
		})
		require.Contains(t, m.Custom, "retrospective_coverage")
		cov := m.Custom["retrospective_coverage"]
		assert.Greater(t, cov, 0.0)
		assert.LessOrEqual(t, cov, 1.0)
	})
}

func TestTextSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, textSimilarity("", ""))
	assert.Equal(t, 0.0, textSimilarity("alpha beta", "gamma delta"))
	assert.InDelta(t, 0.5, textSimilarity("a b c", "b c d"), 1e-9)
	assert.Equal(t, 1.0, textSimilarity("Same Words", "same words"))
}
