package distill

import (
	"fmt"
	"sort"
	"strings"

	"github.com/distillhq/distill/internal/apperr"
)

// Weights control the composite score. They should sum to 1.
type Weights struct {
	ContentLength float64 `yaml:"content_length"`
	Structure     float64 `yaml:"structure"`
	Metadata      float64 `yaml:"metadata"`
	Density       float64 `yaml:"density"`
	Extractor     float64 `yaml:"extractor"`
	Consensus     float64 `yaml:"consensus"`
}

// DefaultWeights returns the standard dimension weighting.
func DefaultWeights() Weights {
	return Weights{
		ContentLength: 0.20,
		Structure:     0.20,
		Metadata:      0.15,
		Density:       0.15,
		Extractor:     0.20,
		Consensus:     0.10,
	}
}

// Score holds the per-dimension breakdown for one candidate. Every
// dimension and the composite are in [0,1].
type Score struct {
	Method        Method  `json:"method"`
	ContentLength float64 `json:"contentLength"`
	Structure     float64 `json:"structure"`
	Metadata      float64 `json:"metadata"`
	Density       float64 `json:"density"`
	Extractor     float64 `json:"extractor"`
	Consensus     float64 `json:"consensus"`
	Composite     float64 `json:"composite"`
}

// Selection is the ensemble outcome.
type Selection struct {
	Selected    *Candidate `json:"selected"`
	Score       Score      `json:"score"`
	AllScores   []Score    `json:"allScores"`
	Explanation string     `json:"explanation"`
}

// Ensemble scores candidates and picks the winner.
type Ensemble struct {
	weights Weights
}

// NewEnsemble builds an ensemble with the given weights; zero weights
// fall back to the defaults.
func NewEnsemble(w Weights) *Ensemble {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Ensemble{weights: w}
}

// Select scores every candidate and returns the argmax by composite.
// Ties break by method priority, then extractor confidence, then
// content length. Empty input is a no_candidates error.
func (e *Ensemble) Select(candidates []*Candidate) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.CodeNoCandidates, "no extraction candidates produced")
	}

	scores := make([]Score, len(candidates))
	for i, c := range candidates {
		scores[i] = e.score(c, candidates)
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := scores[order[a]], scores[order[b]]
		if sa.Composite != sb.Composite {
			return sa.Composite > sb.Composite
		}
		ca, cb := candidates[order[a]], candidates[order[b]]
		if pa, pb := methodPriority[ca.Method], methodPriority[cb.Method]; pa != pb {
			return pa < pb
		}
		if ca.Confidence != cb.Confidence {
			return ca.Confidence > cb.Confidence
		}
		return len(ca.ContentText) > len(cb.ContentText)
	})

	winner := order[0]
	sel := &Selection{
		Selected:  candidates[winner],
		Score:     scores[winner],
		AllScores: scores,
	}

	explanation := fmt.Sprintf("selected %q (composite %.2f of %d candidates)",
		candidates[winner].Method, scores[winner].Composite, len(candidates))
	if len(order) > 1 {
		gap := scores[winner].Composite - scores[order[1]].Composite
		if gap > 0.2 {
			explanation += fmt.Sprintf("; significantly better than %q by %.2f",
				candidates[order[1]].Method, gap)
		}
	}
	sel.Explanation = explanation
	return sel, nil
}

func (e *Ensemble) score(c *Candidate, all []*Candidate) Score {
	s := Score{
		Method:        c.Method,
		ContentLength: lengthFit(len(c.ContentText)),
		Structure:     structureQuality(c.ParagraphCount),
		Metadata:      metadataCompleteness(c),
		Density:       textDensity(c),
		Extractor:     extractorConfidence(c),
		Consensus:     consensusWith(c, all),
	}
	s.Composite = clamp01(e.weights.ContentLength*s.ContentLength +
		e.weights.Structure*s.Structure +
		e.weights.Metadata*s.Metadata +
		e.weights.Density*s.Density +
		e.weights.Extractor*s.Extractor +
		e.weights.Consensus*s.Consensus)
	return s
}

// lengthFit peaks for bodies in the 300-3000 character sweet spot and
// falls off linearly on both sides.
func lengthFit(n int) float64 {
	switch {
	case n == 0:
		return 0
	case n < 300:
		return clamp01(float64(n) / 300)
	case n <= 3000:
		return 1
	default:
		// Long bodies decay gently; a 30k dump still scores 0.1.
		return clamp01(1 - float64(n-3000)/30000)
	}
}

// structureQuality maps paragraph counts: 3-20 is ideal, none is 0.1.
func structureQuality(paragraphs int) float64 {
	switch {
	case paragraphs == 0:
		return 0.1
	case paragraphs < 3:
		return 0.5
	case paragraphs <= 20:
		return 1
	default:
		return clamp01(1 - float64(paragraphs-20)/100)
	}
}

func metadataCompleteness(c *Candidate) float64 {
	score := 0.0
	if len(c.Title) > 0 {
		score += 0.4
	}
	if c.Metadata.Author != "" {
		score += 0.2
	}
	if c.Metadata.PublishDate != "" {
		score += 0.2
	}
	if c.Metadata.Excerpt != "" {
		score += 0.1
	}
	if c.Metadata.SiteName != "" {
		score += 0.1
	}
	return clamp01(score)
}

// textDensity compares plain text volume against the candidate's markup;
// markup-free candidates (structured, LLM) get a neutral score.
func textDensity(c *Candidate) float64 {
	if c.ContentHTML == "" {
		return 0.5
	}
	if len(c.ContentHTML) == 0 || len(c.ContentText) == 0 {
		return 0
	}
	return clamp01(float64(len(c.ContentText)) / float64(len(c.ContentHTML)) * 2)
}

// extractorConfidence defaults to 0.5 when the extractor reported none.
func extractorConfidence(c *Candidate) float64 {
	if c.Confidence <= 0 {
		return 0.5
	}
	return clamp01(c.Confidence)
}

// consensusWith measures how much the other candidates agree with c on
// title and body tokens. Single-candidate runs get a neutral 0.5.
func consensusWith(c *Candidate, all []*Candidate) float64 {
	if len(all) < 2 {
		return 0.5
	}
	sum, n := 0.0, 0
	for _, other := range all {
		if other == c {
			continue
		}
		titleSim := jaccard(tokenize(c.Title), tokenize(other.Title))
		bodySim := jaccard(tokenize(c.ContentText), tokenize(other.ContentText))
		sum += 0.3*titleSim + 0.7*bodySim
		n++
	}
	if n == 0 {
		return 0.5
	}
	return clamp01(sum / float64(n))
}

func tokenize(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
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
