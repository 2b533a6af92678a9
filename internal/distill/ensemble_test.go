package distill

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/apperr"
)

func TestSelect_Empty(t *testing.T) {
	_, err := NewEnsemble(DefaultWeights()).Select(nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNoCandidates, apperr.CodeOf(err))
}

func TestSelect_ArgmaxByComposite(t *testing.T) {
	good := &Candidate{
		Method:         MethodReadability,
		Title:          "A Proper Title",
		ContentText:    strings.Repeat("sentence ", 60), // ~540 chars, sweet spot
		ParagraphCount: 6,
		Confidence:     0.9,
		Metadata:       Metadata{Author: "Ann", PublishDate: "2024-01-01", Excerpt: "lead"},
	}
	poor := &Candidate{
		Method:         MethodHeuristic,
		ContentText:    "short",
		ParagraphCount: 0,
		Confidence:     0.2,
	}

	sel, err := NewEnsemble(DefaultWeights()).Select([]*Candidate{poor, good})
	require.NoError(t, err)
	assert.Same(t, good, sel.Selected)
	assert.Len(t, sel.AllScores, 2)
	assert.Contains(t, sel.Explanation, `"readability"`)
	assert.Contains(t, sel.Explanation, "significantly better")
}

func TestSelect_TieBreaksByMethodPriority(t *testing.T) {
	a := &Candidate{Method: MethodHeuristic, ContentText: "same body text", ParagraphCount: 5, Confidence: 0.5}
	b := &Candidate{Method: MethodReadability, ContentText: "same body text", ParagraphCount: 5, Confidence: 0.5}

	sel, err := NewEnsemble(DefaultWeights()).Select([]*Candidate{a, b})
	require.NoError(t, err)
	assert.Equal(t, MethodReadability, sel.Selected.Method)
}

func TestScore_DimensionsInRange(t *testing.T) {
	candidates := []*Candidate{
		{Method: MethodReadability, ContentText: strings.Repeat("x", 50000), ParagraphCount: 500, Confidence: 2.0,
			ContentHTML: "<p>x</p>"},
		{Method: MethodStructured, ContentText: "", ParagraphCount: 0, Confidence: -1},
		{Method: MethodLLM, Title: "t", ContentText: "hello world", ParagraphCount: 1,
			Metadata: Metadata{Author: "a", PublishDate: "d", Excerpt: "e", SiteName: "s"}},
	}

	sel, err := NewEnsemble(DefaultWeights()).Select(candidates)
	require.NoError(t, err)

	for _, s := range sel.AllScores {
		for name, v := range map[string]float64{
			"contentLength": s.ContentLength,
			"structure":     s.Structure,
			"metadata":      s.Metadata,
			"density":       s.Density,
			"extractor":     s.Extractor,
			"consensus":     s.Consensus,
			"composite":     s.Composite,
		} {
			assert.GreaterOrEqual(t, v, 0.0, name)
			assert.LessOrEqual(t, v, 1.0, name)
		}
	}
}

func TestLengthFit(t *testing.T) {
	assert.Equal(t, 0.0, lengthFit(0))
	assert.InDelta(t, 0.5, lengthFit(150), 1e-9)
	assert.Equal(t, 1.0, lengthFit(300))
	assert.Equal(t, 1.0, lengthFit(3000))
	assert.Less(t, lengthFit(20000), 1.0)
}

func TestStructureQuality(t *testing.T) {
	assert.Equal(t, 0.1, structureQuality(0))
	assert.Equal(t, 0.5, structureQuality(2))
	assert.Equal(t, 1.0, structureQuality(3))
	assert.Equal(t, 1.0, structureQuality(20))
	assert.Less(t, structureQuality(60), 1.0)
}

func TestConsensus_SingleCandidateNeutral(t *testing.T) {
	c := &Candidate{ContentText: "anything"}
	assert.Equal(t, 0.5, consensusWith(c, []*Candidate{c}))
}

func TestConsensus_AgreementScoresHigh(t *testing.T) {
	a := &Candidate{Title: "same title", ContentText: "the quick brown fox"}
	b := &Candidate{Title: "same title", ContentText: "the quick brown fox"}
	c := &Candidate{Title: "other", ContentText: "completely different words here"}

	agree := consensusWith(a, []*Candidate{a, b})
	disagree := consensusWith(c, []*Candidate{a, b, c})
	assert.Greater(t, agree, 0.9)
	assert.Less(t, disagree, 0.2)
}
