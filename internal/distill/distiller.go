package distill

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/circuit"
)

// Config controls the distiller.
type Config struct {
	Weights Weights   `yaml:"weights"`
	LLM     LLMConfig `yaml:"llm"`
	// LowConfidenceThreshold marks results below it as low confidence
	// without failing the request.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

// DefaultConfig returns the standard distiller settings.
func DefaultConfig() Config {
	return Config{
		Weights:                DefaultWeights(),
		LLM:                    DefaultLLMConfig(),
		LowConfidenceThreshold: 0.3,
	}
}

// AdapterFunc lets a site-specific adapter claim a URL and produce a
// candidate ahead of the generic extractors. Returning (nil, nil) means
// no adapter claimed the URL.
type AdapterFunc func(ctx context.Context, html []byte, pageURL string) (*Candidate, error)

// Result is the distilled document.
type Result struct {
	Title         string
	SiteName      string
	Byline        string
	Method        Method
	Nodes         []Node
	Confidence    ConfidenceBreakdown
	Explanation   string
	LowConfidence bool
}

// Distiller runs extractors over a document and selects the best reading.
type Distiller struct {
	cfg        Config
	extractors []Extractor
	scorer     *ConfidenceScorer
	ensemble   *Ensemble
	adapter    AdapterFunc
}

// NewDistiller assembles the extractor set. The LLM extractor joins only
// when enabled; adapter may be nil.
func NewDistiller(cfg Config, breakers *circuit.Manager, adapter AdapterFunc) *Distiller {
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = 0.3
	}
	extractors := []Extractor{
		NewReadabilityExtractor(),
		NewHeuristicExtractor(),
		NewStructuredExtractor(),
	}
	if cfg.LLM.Enabled {
		extractors = append(extractors, NewLLMExtractor(cfg.LLM, breakers))
	}
	return &Distiller{
		cfg:        cfg,
		extractors: extractors,
		scorer:     NewConfidenceScorer(),
		ensemble:   NewEnsemble(cfg.Weights),
		adapter:    adapter,
	}
}

// Distill extracts structured content from html. A site adapter that
// claims the URL preempts the generic extractors; otherwise they run in
// parallel and the ensemble picks the winner.
func (d *Distiller) Distill(ctx context.Context, html []byte, pageURL string) (*Result, error) {
	var preferred *Candidate
	if d.adapter != nil {
		cand, err := d.adapter(ctx, html, pageURL)
		if err != nil {
			log.Warn().Err(err).Str("url", pageURL).Msg("adapter extraction failed")
		} else {
			preferred = cand
		}
	}
	return d.DistillWith(ctx, html, pageURL, preferred)
}

// DistillWith is Distill with an externally produced candidate (usually
// from a marketplace adapter) that preempts the generic extractors.
func (d *Distiller) DistillWith(ctx context.Context, html []byte, pageURL string, preferred *Candidate) (*Result, error) {
	var candidates []*Candidate
	if preferred != nil {
		preferred.Method = MethodAdapter
		candidates = []*Candidate{preferred}
	}

	if len(candidates) == 0 {
		candidates = d.runExtractors(ctx, html, pageURL)
	}
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.CodeNoCandidates, "no extractor produced content").
			WithDetail("url", pageURL)
	}

	sel, err := d.ensemble.Select(candidates)
	if err != nil {
		return nil, err
	}

	winner := sel.Selected
	breakdown := d.scorer.Score(winner, candidates, pageURL)

	res := &Result{
		Title:         winner.Title,
		SiteName:      winner.Metadata.SiteName,
		Byline:        winner.Metadata.Author,
		Method:        winner.Method,
		Nodes:         candidateNodes(winner),
		Confidence:    breakdown,
		Explanation:   sel.Explanation,
		LowConfidence: breakdown.Overall < d.cfg.LowConfidenceThreshold,
	}
	if res.LowConfidence {
		log.Debug().Str("url", pageURL).Float64("overall", breakdown.Overall).
			Msg("low confidence extraction")
	}
	if len(res.Nodes) == 0 {
		return nil, apperr.New(apperr.CodeExtractionFailed, "winning candidate has no content nodes").
			WithDetail("method", string(winner.Method))
	}
	return res, nil
}

// runExtractors fans the document out to every extractor. Individual
// failures are logged and dropped; the request fails only when nothing
// survives.
func (d *Distiller) runExtractors(ctx context.Context, html []byte, pageURL string) []*Candidate {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var candidates []*Candidate

	for _, ex := range d.extractors {
		wg.Add(1)
		go func(ex Extractor) {
			defer wg.Done()
			cand, err := ex.Extract(ctx, html, pageURL)
			if err != nil {
				log.Warn().Err(err).Str("extractor", string(ex.Name())).
					Str("url", pageURL).Msg("extractor failed")
				return
			}
			if cand == nil || cand.ContentText == "" {
				return
			}
			mu.Lock()
			candidates = append(candidates, cand)
			mu.Unlock()
		}(ex)
	}
	wg.Wait()
	return candidates
}

// candidateNodes derives the ordered node list. Candidates with markup
// keep document order; text-only candidates split on blank lines.
func candidateNodes(c *Candidate) []Node {
	if c.ContentHTML != "" {
		if root, err := parseHTML([]byte(c.ContentHTML)); err == nil {
			if nodes := extractNodes(root); len(nodes) > 0 {
				return nodes
			}
		}
	}
	var nodes []Node
	for _, block := range strings.Split(c.ContentText, "\n\n") {
		if text := collapseSpace(block); text != "" {
			nodes = append(nodes, Node{Type: NodeParagraph, Text: text})
		}
	}
	return nodes
}
