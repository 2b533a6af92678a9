package distill

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadability_PrefersContentOverChrome(t *testing.T) {
	body := strings.Repeat("Real article prose with enough words to matter. ", 12)
	html := `<html><head><title>Page Title</title></head><body>
	<div id="nav"><a href="/a">Home</a> <a href="/b">About</a> <a href="/c">Contact</a></div>
	<div class="article-content"><p>` + body + `</p><p>` + body + `</p><p>` + body + `</p></div>
	<div class="sidebar"><a href="/x">Link farm</a> <a href="/y">More links</a></div>
	</body></html>`

	c, err := NewReadabilityExtractor().Extract(context.Background(), []byte(html), "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, MethodReadability, c.Method)
	assert.Equal(t, "Page Title", c.Title)
	assert.Contains(t, c.ContentText, "Real article prose")
	assert.NotContains(t, c.ContentText, "Link farm")
	assert.Equal(t, 3, c.ParagraphCount)
	assert.Greater(t, c.Confidence, 0.7)
}

func TestReadability_ScriptAndStyleExcluded(t *testing.T) {
	html := `<html><body><article>
	<script>var hidden = "should not appear";</script>
	<style>.x { color: red }</style>
	<p>Visible paragraph text only.</p>
	</article></body></html>`

	c, err := NewReadabilityExtractor().Extract(context.Background(), []byte(html), "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NotContains(t, c.ContentText, "should not appear")
	assert.NotContains(t, c.ContentText, "color: red")
	assert.Contains(t, c.ContentText, "Visible paragraph text only.")
}

func TestReadability_EmptyDocument(t *testing.T) {
	c, err := NewReadabilityExtractor().Extract(context.Background(), []byte(`<html><body></body></html>`), "https://example.com/")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestExcerptOf_WordBoundary(t *testing.T) {
	long := strings.Repeat("word ", 100)
	e := excerptOf(long)
	assert.LessOrEqual(t, len(e), 204)
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(e, "…"), " "))
}
