package distill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/circuit"
)

// LLMConfig configures the optional model-assisted extractor.
type LLMConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxInput   int           `yaml:"max_input"`
	Confidence float64       `yaml:"confidence"`
}

// DefaultLLMConfig returns the extractor disabled; it only runs when an
// endpoint is configured explicitly.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Enabled:    false,
		Timeout:    20 * time.Second,
		MaxInput:   8000,
		Confidence: 0.6,
	}
}

const truncationSentinel = "\n[TRUNCATED]"

// llmExtractor asks a completion endpoint to extract the article and
// parses a TITLE:/CONTENT:/SUMMARY: envelope from the reply. Calls run
// through the shared breaker under the "llm" name.
type llmExtractor struct {
	cfg      LLMConfig
	client   *http.Client
	breakers *circuit.Manager
}

// NewLLMExtractor returns the model-assisted extractor. breakers may be
// nil, in which case calls are unguarded.
func NewLLMExtractor(cfg LLMConfig, breakers *circuit.Manager) Extractor {
	if cfg.MaxInput <= 0 {
		cfg.MaxInput = 8000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &llmExtractor{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		breakers: breakers,
	}
}

func (e *llmExtractor) Name() Method { return MethodLLM }

func (e *llmExtractor) Extract(ctx context.Context, data []byte, pageURL string) (*Candidate, error) {
	if !e.cfg.Enabled || e.cfg.Endpoint == "" {
		return nil, nil
	}

	prompt := e.buildPrompt(data, pageURL)

	var reply string
	call := func() (any, error) { return e.complete(ctx, prompt) }

	var result any
	var err error
	if e.breakers != nil {
		result, err = e.breakers.Execute("llm", call)
	} else {
		result, err = call()
	}
	if err != nil {
		// The model path is best-effort; the ensemble proceeds with the
		// other candidates.
		log.Warn().Err(err).Str("url", pageURL).Msg("llm extraction failed")
		return nil, nil
	}
	reply, _ = result.(string)

	cand := parseEnvelope(reply)
	if cand == nil {
		return nil, nil
	}
	cand.Confidence = e.cfg.Confidence
	return cand, nil
}

// buildPrompt strips the document down to visible text and truncates it
// with a sentinel so the model knows the tail is missing.
func (e *llmExtractor) buildPrompt(data []byte, pageURL string) string {
	text := string(data)
	if root, err := parseHTML(data); err == nil {
		if body := textContent(root); body != "" {
			text = body
		}
	}
	if len(text) > e.cfg.MaxInput {
		text = text[:e.cfg.MaxInput] + truncationSentinel
	}
	return fmt.Sprintf(
		"Extract the main article from this page (%s).\n"+
			"Respond with exactly three sections:\n"+
			"TITLE: <title>\nCONTENT: <full article text>\nSUMMARY: <one sentence>\n\n%s",
		pageURL, text)
}

type completionRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Text string `json:"text"`
}

func (e *llmExtractor) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{Model: e.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeNetworkError, "llm request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Newf(apperr.CodeUpstreamStatus, "llm endpoint returned %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var cr completionResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", apperr.Wrap(apperr.CodeExtractionFailed, "decode llm reply", err)
	}
	return cr.Text, nil
}

// parseEnvelope reads the TITLE:/CONTENT:/SUMMARY: reply format. Missing
// markers degrade: a reply with usable prose but no markers is treated
// as content-only; an empty reply yields no candidate.
func parseEnvelope(reply string) *Candidate {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}

	title := sectionAfter(reply, "TITLE:")
	content := sectionAfter(reply, "CONTENT:")
	summary := sectionAfter(reply, "SUMMARY:")

	if content == "" {
		if title == "" && summary == "" {
			// No envelope at all; take the whole reply as content.
			content = reply
		} else {
			content = summary
		}
	}
	if content == "" {
		return nil
	}

	paras := 1 + strings.Count(content, "\n\n")
	return &Candidate{
		Method:         MethodLLM,
		Title:          title,
		ContentText:    collapseSpace(content),
		ParagraphCount: paras,
		Metadata:       Metadata{Excerpt: excerptOf(firstNonEmpty(summary, content))},
	}
}

// sectionAfter returns the text between marker and the next known marker
// (or end of reply).
func sectionAfter(reply, marker string) string {
	start := strings.Index(reply, marker)
	if start < 0 {
		return ""
	}
	rest := reply[start+len(marker):]
	end := len(rest)
	for _, m := range []string{"TITLE:", "CONTENT:", "SUMMARY:"} {
		if m == marker {
			continue
		}
		if i := strings.Index(rest, m); i >= 0 && i < end {
			end = i
		}
	}
	return strings.TrimSpace(rest[:end])
}
