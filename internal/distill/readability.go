package distill

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// readabilityExtractor scores container elements by text density, link
// ratio, and tag hints, then keeps the best-scoring subtree.
type readabilityExtractor struct{}

// NewReadabilityExtractor returns the density-scoring extractor.
func NewReadabilityExtractor() Extractor { return &readabilityExtractor{} }

func (e *readabilityExtractor) Name() Method { return MethodReadability }

var (
	negativeHint = regexp.MustCompile(`(?i)comment|sidebar|footer|header|nav|menu|banner|advert|promo|related|share|social`)
	positiveHint = regexp.MustCompile(`(?i)article|content|body|entry|main|post|story|text`)
)

// candidateContainers are the elements worth scoring as content roots.
var candidateContainers = map[atom.Atom]bool{
	atom.Article: true,
	atom.Main:    true,
	atom.Section: true,
	atom.Div:     true,
	atom.Td:      true,
	atom.Body:    true,
}

func (e *readabilityExtractor) Extract(ctx context.Context, data []byte, pageURL string) (*Candidate, error) {
	root, err := parseHTML(data)
	if err != nil {
		return nil, err
	}

	var best *html.Node
	var bestScore float64

	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && skippedElements[n.DataAtom] {
			return false
		}
		if n.Type == html.ElementNode && candidateContainers[n.DataAtom] {
			if score := scoreContainer(n); score > bestScore {
				best, bestScore = n, score
			}
		}
		return true
	})

	if best == nil {
		return nil, nil
	}

	text := textContent(best)
	if text == "" {
		return nil, nil
	}

	paras := countParagraphs(best)
	return &Candidate{
		Method:         MethodReadability,
		Title:          documentTitle(root),
		ContentText:    text,
		ContentHTML:    renderHTML(best),
		ParagraphCount: paras,
		Confidence:     readabilityConfidence(len(text), paras, linkRatio(best)),
		Metadata:       Metadata{Excerpt: excerptOf(text)},
	}, nil
}

// scoreContainer weighs text volume against link density and tag hints.
func scoreContainer(n *html.Node) float64 {
	textLen := len(textContent(n))
	if textLen == 0 {
		return 0
	}

	score := float64(textLen) * (1.0 - linkRatio(n))
	score += float64(countParagraphs(n)) * 25

	switch n.DataAtom {
	case atom.Article, atom.Main:
		score *= 1.5
	case atom.Body:
		// Body is the fallback root; prefer anything narrower.
		score *= 0.6
	}

	hints := attr(n, "class") + " " + attr(n, "id")
	if negativeHint.MatchString(hints) {
		score *= 0.25
	} else if positiveHint.MatchString(hints) {
		score *= 1.25
	}
	return score
}

func linkRatio(n *html.Node) float64 {
	textLen := len(textContent(n))
	if textLen == 0 {
		return 1
	}
	r := float64(linkTextLen(n)) / float64(textLen)
	if r > 1 {
		r = 1
	}
	return r
}

// readabilityConfidence is a rough self-assessment: long, well-structured,
// low-link content scores high.
func readabilityConfidence(textLen, paragraphs int, links float64) float64 {
	c := 0.4
	if textLen >= 300 {
		c += 0.2
	}
	if paragraphs >= 3 {
		c += 0.2
	}
	c += 0.2 * (1.0 - links)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// excerptOf truncates text to a short lead-in on a word boundary.
func excerptOf(text string) string {
	const max = 200
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
