package distill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractStructured(t *testing.T, html string) *Candidate {
	t.Helper()
	c, err := NewStructuredExtractor().Extract(context.Background(), []byte(html), "https://example.com/")
	require.NoError(t, err)
	return c
}

func TestStructured_JSONLD(t *testing.T) {
	c := extractStructured(t, `<html><head><script type="application/ld+json">
	{"@context":"https://schema.org","@type":"NewsArticle",
	 "headline":"Big News","articleBody":"The full story body.",
	 "datePublished":"2024-03-01","author":{"@type":"Person","name":"Ann Author"},
	 "publisher":{"@type":"Organization","name":"The Daily"}}
	</script></head><body></body></html>`)

	require.NotNil(t, c)
	assert.Equal(t, "Big News", c.Title)
	assert.Equal(t, "The full story body.", c.ContentText)
	assert.Equal(t, "Ann Author", c.Metadata.Author)
	assert.Equal(t, "2024-03-01", c.Metadata.PublishDate)
	assert.Equal(t, "The Daily", c.Metadata.SiteName)
}

func TestStructured_JSONLDGraphAndNestedType(t *testing.T) {
	c := extractStructured(t, `<html><head><script type="application/ld+json">
	{"@context":"https://schema.org","@graph":[
	  {"@type":"WebSite","name":"ignored"},
	  {"@type":["Thing","BlogPosting"],"headline":"Graph Post","articleBody":"Graph body text."}
	]}</script></head><body></body></html>`)

	require.NotNil(t, c)
	assert.Equal(t, "Graph Post", c.Title)
	assert.Equal(t, "Graph body text.", c.ContentText)
}

func TestStructured_MicrodataStrictBoundaries(t *testing.T) {
	// The nested Person scope contributes its name through the author
	// itemprop only; its other properties must not leak to the article.
	c := extractStructured(t, `<html><body>
	<div itemscope itemtype="https://schema.org/Article">
	  <h1 itemprop="headline">Micro Title</h1>
	  <div itemprop="articleBody">Micro body content.</div>
	  <span itemprop="author" itemscope itemtype="https://schema.org/Person">
	    <span itemprop="name">Bob Byline</span>
	    <meta itemprop="description" content="person description must not leak">
	  </span>
	  <meta itemprop="datePublished" content="2023-11-11">
	</div></body></html>`)

	require.NotNil(t, c)
	assert.Equal(t, "Micro Title", c.Title)
	assert.Equal(t, "Micro body content.", c.ContentText)
	assert.Equal(t, "Bob Byline", c.Metadata.Author)
	assert.Equal(t, "2023-11-11", c.Metadata.PublishDate)
}

func TestStructured_OpenGraphFallback(t *testing.T) {
	c := extractStructured(t, `<html><head>
	<title>Plain Title | Site</title>
	<meta property="og:title" content="OG Title">
	<meta property="og:description" content="OG description text.">
	<meta property="og:site_name" content="Example Site">
	<meta name="author" content="Meta Author">
	</head><body></body></html>`)

	require.NotNil(t, c)
	assert.Equal(t, "OG Title", c.Title)
	assert.Equal(t, "OG description text.", c.ContentText)
	assert.Equal(t, "Example Site", c.Metadata.SiteName)
	assert.Equal(t, "Meta Author", c.Metadata.Author)
}

func TestStructured_NothingFound(t *testing.T) {
	c := extractStructured(t, `<html><body><p>plain page</p></body></html>`)
	assert.Nil(t, c)
}

func TestStructured_MalformedJSONLDIgnored(t *testing.T) {
	c := extractStructured(t, `<html><head>
	<script type="application/ld+json">{not json</script>
	<meta property="og:title" content="Survives">
	</head><body></body></html>`)

	require.NotNil(t, c)
	assert.Equal(t, "Survives", c.Title)
}
