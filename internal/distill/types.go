// Package distill turns a fetched HTML document into structured content:
// a title, an ordered list of text nodes, article metadata, and a
// confidence breakdown. Candidates come from several extractors run in
// parallel; an ensemble picks the winner.
package distill

import "context"

// Method identifies the extractor that produced a candidate.
type Method string

const (
	MethodAdapter     Method = "adapter"
	MethodReadability Method = "readability"
	MethodHeuristic   Method = "dom_heuristic"
	MethodStructured  Method = "structured_metadata"
	MethodLLM         Method = "llm"
)

// methodPriority orders methods for tie-breaking. Lower wins.
var methodPriority = map[Method]int{
	MethodAdapter:     0,
	MethodReadability: 1,
	MethodStructured:  2,
	MethodHeuristic:   3,
	MethodLLM:         4,
}

// Metadata is article-level metadata reported by a candidate.
type Metadata struct {
	Author      string `json:"author,omitempty"`
	PublishDate string `json:"publishDate,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// Candidate is one extractor's proposed reading of the document.
// ContentText is plain text with no markup; lengths are measured in
// characters of ContentText.
type Candidate struct {
	Method         Method   `json:"method"`
	Title          string   `json:"title"`
	ContentText    string   `json:"contentText"`
	ContentHTML    string   `json:"contentHtml,omitempty"`
	ParagraphCount int      `json:"paragraphCount"`
	Confidence     float64  `json:"confidence"`
	Metadata       Metadata `json:"metadata"`
}

// NodeType distinguishes output node kinds.
type NodeType string

const (
	NodeParagraph NodeType = "paragraph"
	NodeHeading   NodeType = "heading"
)

// Node is one unit of extracted content in document order.
type Node struct {
	Type  NodeType `json:"type"`
	Text  string   `json:"text"`
	Level int      `json:"level,omitempty"`
}

// Extractor produces a candidate from raw HTML. A nil candidate with a
// nil error means the extractor found nothing usable.
type Extractor interface {
	Name() Method
	Extract(ctx context.Context, html []byte, pageURL string) (*Candidate, error)
}
