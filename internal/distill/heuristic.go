package distill

import (
	"context"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// heuristicExtractor relies on semantic structure: the first <main>,
// <article>, or content-bearing <section> wins, no scoring involved.
type heuristicExtractor struct{}

// NewHeuristicExtractor returns the structural extractor.
func NewHeuristicExtractor() Extractor { return &heuristicExtractor{} }

func (e *heuristicExtractor) Name() Method { return MethodHeuristic }

func (e *heuristicExtractor) Extract(ctx context.Context, data []byte, pageURL string) (*Candidate, error) {
	root, err := parseHTML(data)
	if err != nil {
		return nil, err
	}

	container := pickSemanticContainer(root)
	if container == nil {
		return nil, nil
	}

	text := textContent(container)
	if text == "" {
		return nil, nil
	}

	paras := countParagraphs(container)
	conf := 0.5
	if container.DataAtom == atom.Article || container.DataAtom == atom.Main {
		conf = 0.7
	}
	if paras >= 3 {
		conf += 0.1
	}

	return &Candidate{
		Method:         MethodHeuristic,
		Title:          documentTitle(root),
		ContentText:    text,
		ContentHTML:    renderHTML(container),
		ParagraphCount: paras,
		Confidence:     conf,
		Metadata:       Metadata{Excerpt: excerptOf(text)},
	}, nil
}

// pickSemanticContainer prefers main, then article, then role=main, then
// the largest section by paragraph count.
func pickSemanticContainer(root *html.Node) *html.Node {
	if n := elementByAtom(root, atom.Main); n != nil {
		return n
	}
	if n := elementByAtom(root, atom.Article); n != nil {
		return n
	}
	if n := findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attr(n, "role") == "main"
	}); n != nil {
		return n
	}

	var best *html.Node
	bestParas := 0
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Section {
			if p := countParagraphs(n); p > bestParas {
				best, bestParas = n, p
			}
		}
		return true
	})
	if best != nil {
		return best
	}
	return elementByAtom(root, atom.Body)
}
