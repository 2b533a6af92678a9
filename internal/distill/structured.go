package distill

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// structuredExtractor reads machine-readable metadata: JSON-LD blocks
// (including @graph wrappers and nested @type objects), microdata with
// strict itemscope boundaries, Open Graph, Twitter Cards, and plain
// <meta> tags.
type structuredExtractor struct{}

// NewStructuredExtractor returns the metadata-driven extractor.
func NewStructuredExtractor() Extractor { return &structuredExtractor{} }

func (e *structuredExtractor) Name() Method { return MethodStructured }

// articleFields is the merged result of all metadata sources. Earlier
// sources win: JSON-LD, then microdata, then OG, Twitter, meta tags.
type articleFields struct {
	Title       string
	Body        string
	Author      string
	PublishDate string
	Description string
	SiteName    string
}

func (f *articleFields) merge(other articleFields) {
	if f.Title == "" {
		f.Title = other.Title
	}
	if f.Body == "" {
		f.Body = other.Body
	}
	if f.Author == "" {
		f.Author = other.Author
	}
	if f.PublishDate == "" {
		f.PublishDate = other.PublishDate
	}
	if f.Description == "" {
		f.Description = other.Description
	}
	if f.SiteName == "" {
		f.SiteName = other.SiteName
	}
}

func (e *structuredExtractor) Extract(ctx context.Context, data []byte, pageURL string) (*Candidate, error) {
	root, err := parseHTML(data)
	if err != nil {
		return nil, err
	}

	var fields articleFields
	fields.merge(readJSONLD(root))
	fields.merge(readMicrodata(root))
	fields.merge(readMetaTags(root))

	if fields.Title == "" && fields.Body == "" && fields.Description == "" {
		return nil, nil
	}

	text := collapseSpace(fields.Body)
	if text == "" {
		text = collapseSpace(fields.Description)
	}

	paras := 0
	if fields.Body != "" {
		paras = 1 + strings.Count(fields.Body, "\n\n")
	}

	return &Candidate{
		Method:         MethodStructured,
		Title:          fields.Title,
		ContentText:    text,
		ParagraphCount: paras,
		Confidence:     structuredConfidence(fields),
		Metadata: Metadata{
			Author:      fields.Author,
			PublishDate: fields.PublishDate,
			Excerpt:     excerptOf(firstNonEmpty(fields.Description, text)),
			SiteName:    fields.SiteName,
		},
	}, nil
}

// structuredConfidence rewards completeness; a body is worth more than
// any amount of metadata.
func structuredConfidence(f articleFields) float64 {
	c := 0.3
	if f.Body != "" {
		c += 0.3
	}
	if f.Title != "" {
		c += 0.15
	}
	if f.Author != "" {
		c += 0.1
	}
	if f.PublishDate != "" {
		c += 0.1
	}
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// articleTypes are the JSON-LD and microdata types treated as content.
var articleTypes = map[string]bool{
	"Article":          true,
	"NewsArticle":      true,
	"BlogPosting":      true,
	"Report":           true,
	"TechArticle":      true,
	"ScholarlyArticle": true,
	"WebPage":          true,
}

// readJSONLD scans <script type="application/ld+json"> blocks. Top-level
// arrays, @graph wrappers, and objects nested under any key are all
// searched for an article-typed object.
func readJSONLD(root *html.Node) articleFields {
	var fields articleFields
	walk(root, func(n *html.Node) bool {
		if fields.Title != "" && fields.Body != "" {
			return false
		}
		if n.Type != html.ElementNode || n.DataAtom != atom.Script {
			return true
		}
		if !strings.EqualFold(attr(n, "type"), "application/ld+json") {
			return true
		}
		raw := ""
		if n.FirstChild != nil {
			raw = n.FirstChild.Data
		}
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return true
		}
		if obj := findArticleObject(doc, 0); obj != nil {
			fields.merge(jsonLDFields(obj))
		}
		return true
	})
	return fields
}

// findArticleObject searches a decoded JSON value for the first object
// whose @type is an article type, descending through arrays, @graph,
// and nested objects to a bounded depth.
func findArticleObject(v any, depth int) map[string]any {
	if depth > 6 {
		return nil
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if obj := findArticleObject(item, depth+1); obj != nil {
				return obj
			}
		}
	case map[string]any:
		if typeMatches(t["@type"]) {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			if obj := findArticleObject(graph, depth+1); obj != nil {
				return obj
			}
		}
		for _, nested := range t {
			switch nested.(type) {
			case map[string]any, []any:
				if obj := findArticleObject(nested, depth+1); obj != nil {
					return obj
				}
			}
		}
	}
	return nil
}

// typeMatches handles both string and array @type declarations.
func typeMatches(v any) bool {
	switch t := v.(type) {
	case string:
		return articleTypes[t]
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && articleTypes[s] {
				return true
			}
		}
	}
	return false
}

func jsonLDFields(obj map[string]any) articleFields {
	f := articleFields{
		Title:       firstNonEmpty(jsonString(obj["headline"]), jsonString(obj["name"])),
		Body:        jsonString(obj["articleBody"]),
		PublishDate: jsonString(obj["datePublished"]),
		Description: jsonString(obj["description"]),
		Author:      personName(obj["author"]),
	}
	if pub, ok := obj["publisher"].(map[string]any); ok {
		f.SiteName = jsonString(pub["name"])
	}
	return f
}

// personName reads an author declared as a string, an object with a
// name, or an array of either.
func personName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return jsonString(t["name"])
	case []any:
		for _, item := range t {
			if name := personName(item); name != "" {
				return name
			}
		}
	}
	return ""
}

func jsonString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// readMicrodata finds the first article-typed itemscope and collects its
// direct properties. Properties inside a nested itemscope belong to that
// scope only; the sole value that crosses the boundary is the nested
// scope's own itemprop (e.g. author as a nested Person).
func readMicrodata(root *html.Node) articleFields {
	scope := findFirst(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || !hasAttr(n, "itemscope") {
			return false
		}
		itemtype := attr(n, "itemtype")
		for t := range articleTypes {
			if strings.HasSuffix(itemtype, "/"+t) {
				return true
			}
		}
		return false
	})
	if scope == nil {
		return articleFields{}
	}

	var f articleFields
	var collect func(n *html.Node, insideNested bool)
	collect = func(n *html.Node, insideNested bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			nested := hasAttr(c, "itemscope")
			prop := attr(c, "itemprop")
			if !insideNested && prop != "" {
				val := microdataValue(c)
				switch prop {
				case "headline", "name":
					if f.Title == "" {
						f.Title = val
					}
				case "articleBody":
					if f.Body == "" {
						f.Body = val
					}
				case "author":
					if f.Author == "" {
						if nested {
							f.Author = microdataNestedName(c)
						} else {
							f.Author = val
						}
					}
				case "datePublished":
					if f.PublishDate == "" {
						f.PublishDate = val
					}
				case "description":
					if f.Description == "" {
						f.Description = val
					}
				case "publisher":
					if f.SiteName == "" && nested {
						f.SiteName = microdataNestedName(c)
					}
				}
			}
			collect(c, insideNested || nested)
		}
	}
	collect(scope, false)
	return f
}

// microdataNestedName reads the "name" property of a nested itemscope,
// ignoring anything below a further nesting level.
func microdataNestedName(scope *html.Node) string {
	name := ""
	var collect func(n *html.Node, insideNested bool)
	collect = func(n *html.Node, insideNested bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			nested := hasAttr(c, "itemscope")
			if !insideNested && name == "" && attr(c, "itemprop") == "name" {
				name = microdataValue(c)
			}
			collect(c, insideNested || nested)
		}
	}
	collect(scope, false)
	return name
}

// microdataValue resolves an itemprop value per element kind.
func microdataValue(n *html.Node) string {
	switch n.DataAtom {
	case atom.Meta:
		return strings.TrimSpace(attr(n, "content"))
	case atom.A, atom.Link:
		if href := attr(n, "href"); href != "" {
			return href
		}
	case atom.Time:
		if dt := attr(n, "datetime"); dt != "" {
			return dt
		}
	case atom.Img:
		return attr(n, "src")
	}
	return textContent(n)
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

// readMetaTags merges Open Graph, Twitter Card, and generic meta tags,
// in that priority order, plus the document <title> as a last resort.
func readMetaTags(root *html.Node) articleFields {
	var og, tw, plain articleFields
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.DataAtom != atom.Meta {
			return true
		}
		content := strings.TrimSpace(attr(n, "content"))
		if content == "" {
			return true
		}
		switch strings.ToLower(attr(n, "property")) {
		case "og:title":
			og.Title = content
		case "og:description":
			og.Description = content
		case "og:site_name":
			og.SiteName = content
		case "article:author":
			og.Author = content
		case "article:published_time":
			og.PublishDate = content
		}
		switch strings.ToLower(firstNonEmpty(attr(n, "name"), attr(n, "property"))) {
		case "twitter:title":
			tw.Title = content
		case "twitter:description":
			tw.Description = content
		case "author":
			plain.Author = content
		case "description":
			plain.Description = content
		case "date", "article.published", "publishdate":
			plain.PublishDate = content
		}
		return true
	})

	og.merge(tw)
	og.merge(plain)
	og.merge(articleFields{Title: documentTitle(root)})
	return og
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
