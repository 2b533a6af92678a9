package distill

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseHTML parses a document leniently; x/net/html never fails on
// malformed markup, only on reader errors.
func parseHTML(data []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(data))
}

// walk visits n and its descendants depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// attr returns the value of the named attribute, or "".
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// skippedElements never contribute text content.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
}

// textContent collects the visible text under n with whitespace collapsed.
func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return collapseSpace(b.String())
}

// collapseSpace trims and folds runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// linkTextLen counts characters of text that sit inside anchor tags
// under n. Used for link-density scoring.
func linkTextLen(n *html.Node) int {
	total := 0
	walk(n, func(node *html.Node) bool {
		if node.Type == html.ElementNode && node.DataAtom == atom.A {
			total += len(textContent(node))
			return false
		}
		return true
	})
	return total
}

// renderHTML serializes a node back to markup.
func renderHTML(n *html.Node) string {
	var b bytes.Buffer
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}

// findFirst returns the first node matching pred in document order.
func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// elementByAtom finds the first element with the given atom.
func elementByAtom(root *html.Node, a atom.Atom) *html.Node {
	return findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a
	})
}

// documentTitle returns the <title> text, or "".
func documentTitle(root *html.Node) string {
	if t := elementByAtom(root, atom.Title); t != nil {
		return textContent(t)
	}
	return ""
}

// countParagraphs counts <p> descendants holding non-trivial text.
func countParagraphs(n *html.Node) int {
	count := 0
	walk(n, func(node *html.Node) bool {
		if node.Type == html.ElementNode && node.DataAtom == atom.P {
			if len(textContent(node)) > 0 {
				count++
			}
			return false
		}
		return true
	})
	return count
}

// headingLevel maps h1..h6 to 1..6, or 0 for non-headings.
func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

// extractNodes walks markup and returns paragraphs and headings as
// ordered content nodes.
func extractNodes(root *html.Node) []Node {
	var nodes []Node
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if skippedElements[n.DataAtom] {
			return false
		}
		if lvl := headingLevel(n.DataAtom); lvl > 0 {
			if text := textContent(n); text != "" {
				nodes = append(nodes, Node{Type: NodeHeading, Text: text, Level: lvl})
			}
			return false
		}
		if n.DataAtom == atom.P {
			if text := textContent(n); text != "" {
				nodes = append(nodes, Node{Type: NodeParagraph, Text: text})
			}
			return false
		}
		return true
	})
	return nodes
}
