package distill

import (
	"math"
	"net/url"
	"strings"
)

// ConfidenceBreakdown carries every signal plus the combined overall,
// all in [0,1]. Field names match the wire payload of the confidence
// event.
type ConfidenceBreakdown struct {
	Extraction        float64 `json:"extraction"`
	ContentQuality    float64 `json:"contentQuality"`
	Metadata          float64 `json:"metadata"`
	SourceCredibility float64 `json:"sourceCredibility"`
	Consensus         float64 `json:"consensus"`
	Overall           float64 `json:"overall"`
}

// ConfidenceScorer combines independent signals by log-odds summation.
// Each signal is clamped to [0.01, 0.99] before conversion so a single
// extreme input cannot drive the sum to infinity.
type ConfidenceScorer struct {
	// Credibility maps registrable domains to a prior in [0,1].
	// Unknown domains get 0.5.
	Credibility map[string]float64
}

// NewConfidenceScorer returns a scorer with a small static credibility
// table.
func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{
		Credibility: map[string]float64{
			"wikipedia.org": 0.9,
			"reuters.com":   0.9,
			"apnews.com":    0.9,
			"bbc.com":       0.85,
			"nytimes.com":   0.85,
			"github.com":    0.8,
			"medium.com":    0.6,
		},
	}
}

// Score computes all signals for the selected candidate against the full
// candidate set and the page URL.
func (s *ConfidenceScorer) Score(selected *Candidate, all []*Candidate, pageURL string) ConfidenceBreakdown {
	b := ConfidenceBreakdown{
		Extraction:        extractorConfidence(selected),
		ContentQuality:    contentQuality(selected),
		Metadata:          metadataSignal(selected),
		SourceCredibility: s.credibilityOf(pageURL),
		Consensus:         consensusWith(selected, all),
	}
	b.Overall = combineLogOdds(
		b.Extraction, b.ContentQuality, b.Metadata, b.SourceCredibility, b.Consensus)
	return b
}

// contentQuality blends body length fit with paragraph structure.
func contentQuality(c *Candidate) float64 {
	return clamp01(0.6*lengthFit(len(c.ContentText)) + 0.4*structureQuality(c.ParagraphCount))
}

// metadataSignal starts from a weak prior and rewards each present
// metadata field; the sum caps at 1.
func metadataSignal(c *Candidate) float64 {
	score := 0.35
	if len(c.Title) > 5 {
		score += 0.2
	}
	if c.Metadata.Author != "" {
		score += 0.15
	}
	if c.Metadata.PublishDate != "" {
		score += 0.15
	}
	if len(c.Metadata.Excerpt) > 20 {
		score += 0.15
	}
	return clamp01(score)
}

func (s *ConfidenceScorer) credibilityOf(pageURL string) float64 {
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return 0.5
	}
	host := strings.ToLower(u.Hostname())
	for domain, score := range s.Credibility {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return score
		}
	}
	return 0.5
}

// combineLogOdds performs naive Bayesian combination: each signal is
// converted to log-odds, summed, and mapped back through the logistic
// function. All-neutral inputs (0.5 each) yield exactly 0.5.
func combineLogOdds(signals ...float64) float64 {
	sum := 0.0
	for _, p := range signals {
		p = clampProb(p)
		sum += math.Log(p / (1 - p))
	}
	return clamp01(1 / (1 + math.Exp(-sum)))
}

func clampProb(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}
