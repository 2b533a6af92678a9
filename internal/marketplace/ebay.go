package marketplace

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const ebayExtractorVersion = "1.2.0"

// EbayAdapter scrapes sold-listing pages for price research. Listings
// default to "sold" availability because the adapter targets completed
// listings; active-listing markers override it.
type EbayAdapter struct{}

// NewEbayAdapter returns the eBay scraping adapter.
func NewEbayAdapter() *EbayAdapter { return &EbayAdapter{} }

func (a *EbayAdapter) Info() AdapterInfo {
	return AdapterInfo{
		MarketplaceID:      "ebay",
		Name:               "eBay Listing Scraper",
		Version:            ebayExtractorVersion,
		Channel:            ChannelScraping,
		Tier:               TierForChannel(ChannelScraping),
		ConfidenceMin:      0.55,
		ConfidenceMax:      0.9,
		RequiresUserAction: false,
	}
}

// CanHandle accepts item pages on any eBay country site.
func (a *EbayAdapter) CanHandle(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != "ebay.com" && !strings.Contains(host, ".ebay.") && !strings.HasSuffix(host, ".ebay.com") {
		return false
	}
	return strings.HasPrefix(u.Path, "/itm/")
}

func (a *EbayAdapter) IsAvailable() bool { return true }

func (a *EbayAdapter) Validate(l *Listing) ValidationResult { return ValidateListing(l) }

var (
	ebayPriceRe = regexp.MustCompile(`(US\s*\$|C\s*\$|AU\s*\$|\$|£|€|GBP\s*|EUR\s*|USD\s*)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	ebayItemRe  = regexp.MustCompile(`/itm/(?:[^/]+/)?(\d+)`)
)

// Extract reads title, price, condition, item number, seller, and images
// from the page. Returns nil when no title can be found.
func (a *EbayAdapter) Extract(ctx context.Context, content []byte, raw string, opts ExtractOptions) (*Listing, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	title := ebayTitle(root)
	if title == "" {
		return nil, nil
	}

	pageText := nodeText(root)
	price := parseEbayPrice(pageText)

	listing := &Listing{
		ID:               "ebay:" + itemNumberFrom(raw),
		Marketplace:      "ebay",
		URL:              raw,
		Title:            title,
		Price:            price,
		Condition:        parseEbayCondition(pageText),
		Availability:     parseEbayAvailability(pageText),
		Seller:           Seller{Name: sellerName(root)},
		Images:           []string{},
		ItemNumber:       itemNumberFrom(raw),
		ExtractedAt:      time.Now().UTC(),
		ExtractorVersion: ebayExtractorVersion,
	}
	if opts.IncludeImages {
		if img := metaContent(root, "property", "og:image"); img != "" {
			listing.Images = []string{img}
		}
	}
	listing.Confidence = ebayConfidence(listing)
	return listing, nil
}

// ebayTitle prefers og:title, then the first h1, then <title> with the
// site suffix stripped.
func ebayTitle(root *html.Node) string {
	if t := metaContent(root, "property", "og:title"); t != "" {
		return t
	}
	if h1 := firstElement(root, atom.H1); h1 != nil {
		if t := nodeText(h1); t != "" {
			return t
		}
	}
	if el := firstElement(root, atom.Title); el != nil {
		t := nodeText(el)
		t = strings.TrimSuffix(t, " | eBay")
		return strings.TrimSpace(t)
	}
	return ""
}

// parseEbayPrice finds the first price token and normalizes its currency.
func parseEbayPrice(text string) *Price {
	m := ebayPriceRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return nil
	}
	currency := "USD"
	switch {
	case strings.HasPrefix(m[1], "C"):
		currency = "CAD"
	case strings.HasPrefix(m[1], "AU"):
		currency = "AUD"
	case strings.HasPrefix(m[1], "£"), strings.HasPrefix(m[1], "GBP"):
		currency = "GBP"
	case strings.HasPrefix(m[1], "€"), strings.HasPrefix(m[1], "EUR"):
		currency = "EUR"
	}
	return &Price{Amount: amount, Currency: currency}
}

var ebayConditions = []struct {
	marker string
	value  Condition
}{
	{"brand new", ConditionNew},
	{"new with tags", ConditionNew},
	{"new (other)", ConditionNew},
	{"open box", ConditionUsedLikeNew},
	{"like new", ConditionUsedLikeNew},
	{"very good", ConditionUsedVeryGood},
	{"certified refurbished", ConditionRefurbished},
	{"seller refurbished", ConditionRefurbished},
	{"refurbished", ConditionRefurbished},
	{"for parts", ConditionParts},
	{"not working", ConditionParts},
	{"acceptable", ConditionUsedAccept},
	{"pre-owned", ConditionUsedGood},
	{"used", ConditionUsedGood},
}

func parseEbayCondition(text string) Condition {
	lower := strings.ToLower(text)
	for _, c := range ebayConditions {
		if strings.Contains(lower, c.marker) {
			return c.value
		}
	}
	return ConditionUnknown
}

// parseEbayAvailability defaults to sold: the adapter exists for price
// research over completed listings. Explicit active-listing markers win.
func parseEbayAvailability(text string) Availability {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "add to cart"), strings.Contains(lower, "buy it now"):
		return AvailabilityInStock
	case strings.Contains(lower, "out of stock"):
		return AvailabilityOutOfStock
	case strings.Contains(lower, "listing has ended") && !strings.Contains(lower, "sold"):
		return AvailabilityUnavailable
	default:
		return AvailabilitySold
	}
}

func itemNumberFrom(raw string) string {
	m := ebayItemRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

// sellerName looks for the conventional seller-info span.
func sellerName(root *html.Node) string {
	n := findNode(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		cls := attrValue(n, "class")
		return strings.Contains(cls, "seller") && strings.Contains(cls, "name")
	})
	if n == nil {
		return ""
	}
	return nodeText(n)
}

// ebayConfidence starts at the adapter floor and rewards each recovered
// field, capped at the declared ceiling.
func ebayConfidence(l *Listing) float64 {
	c := 0.55
	if l.Title != "" {
		c += 0.1
	}
	if l.Price != nil {
		c += 0.1
	}
	if l.ItemNumber != "" {
		c += 0.05
	}
	if l.Condition != ConditionUnknown {
		c += 0.05
	}
	if l.Seller.Name != "" {
		c += 0.05
	}
	if c > 0.9 {
		c = 0.9
	}
	return c
}

// Minimal DOM helpers; the adapter only needs attribute and text reads.

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func findNode(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func firstElement(root *html.Node, a atom.Atom) *html.Node {
	return findNode(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a
	})
}

func metaContent(root *html.Node, attrKey, attrVal string) string {
	n := findNode(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Meta &&
			strings.EqualFold(attrValue(n, attrKey), attrVal)
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attrValue(n, "content"))
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
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
	return strings.Join(strings.Fields(b.String()), " ")
}
