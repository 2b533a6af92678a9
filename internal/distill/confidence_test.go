package distill

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombineLogOdds_NeutralInputs(t *testing.T) {
	assert.InDelta(t, 0.5, combineLogOdds(0.5, 0.5, 0.5, 0.5, 0.5), 1e-9)
}

func TestCombineLogOdds_ClampsExtremes(t *testing.T) {
	// Zero and one inputs must not produce infinities.
	v := combineLogOdds(0, 1, 0.5)
	assert.False(t, v != v, "result must not be NaN")
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)
}

func TestCombineLogOdds_Directionality(t *testing.T) {
	high := combineLogOdds(0.8, 0.8, 0.8)
	low := combineLogOdds(0.2, 0.2, 0.2)
	assert.Greater(t, high, 0.5)
	assert.Less(t, low, 0.5)
	// Symmetric inputs cancel out.
	assert.InDelta(t, 0.5, combineLogOdds(0.8, 0.2), 1e-9)
}

func TestMetadataSignal(t *testing.T) {
	full := &Candidate{
		Title: "A sufficiently long title",
		Metadata: Metadata{
			Author:      "Ann Author",
			PublishDate: "2024-06-01",
			Excerpt:     "an excerpt longer than twenty characters",
		},
	}
	bare := &Candidate{Title: "tiny"}

	assert.Equal(t, 1.0, metadataSignal(full))
	assert.Greater(t, metadataSignal(full), metadataSignal(bare))
}

func TestCredibility_KnownAndUnknownDomains(t *testing.T) {
	s := NewConfidenceScorer()
	assert.Equal(t, 0.9, s.credibilityOf("https://en.wikipedia.org/wiki/Go"))
	assert.Equal(t, 0.5, s.credibilityOf("https://random-blog.example/post"))
	assert.Equal(t, 0.5, s.credibilityOf("not a url"))
}

func TestScore_AllSignalsPresent(t *testing.T) {
	s := NewConfidenceScorer()
	c := &Candidate{
		Method:         MethodReadability,
		Title:          "An Adequate Title",
		ContentText:    "Body text. More body text that reads like an article and keeps going for a while to land in the preferred range.",
		ParagraphCount: 4,
		Confidence:     0.8,
		Metadata:       Metadata{Excerpt: "a long enough excerpt for the bonus"},
	}

	b := s.Score(c, []*Candidate{c}, "https://example.com/a")
	assert.Equal(t, 0.5, b.Consensus, "single candidate defaults to neutral")
	assert.Equal(t, 0.5, b.SourceCredibility)
	assert.Greater(t, b.Overall, 0.5)
	for _, v := range []float64{b.Extraction, b.ContentQuality, b.Metadata, b.SourceCredibility, b.Consensus, b.Overall} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}
