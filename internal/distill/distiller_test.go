package distill

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/apperr"
)

func TestDistill_SimpleArticle(t *testing.T) {
	html := []byte(`<html><body><article><p>A</p><p>B</p><p>C</p></article></body></html>`)

	d := NewDistiller(DefaultConfig(), nil, nil)
	res, err := d.Distill(context.Background(), html, "https://example.com/post")
	require.NoError(t, err)

	assert.Equal(t, MethodReadability, res.Method)
	require.Len(t, res.Nodes, 3)
	assert.Equal(t, Node{Type: NodeParagraph, Text: "A"}, res.Nodes[0])
	assert.Equal(t, Node{Type: NodeParagraph, Text: "B"}, res.Nodes[1])
	assert.Equal(t, Node{Type: NodeParagraph, Text: "C"}, res.Nodes[2])
	assert.Greater(t, res.Confidence.Overall, 0.5)
}

func TestDistill_PlainTextNodes(t *testing.T) {
	html := []byte(`<html><body><main>
		<h2>Section <b>one</b></h2>
		<p>First paragraph with <a href="/x">a link</a> inside.</p>
		<p>Second paragraph.</p>
	</main></body></html>`)

	d := NewDistiller(DefaultConfig(), nil, nil)
	res, err := d.Distill(context.Background(), html, "https://example.com/")
	require.NoError(t, err)

	require.NotEmpty(t, res.Nodes)
	for _, n := range res.Nodes {
		assert.NotContains(t, n.Text, "<", "node text must be plain")
		assert.NotContains(t, n.Text, ">", "node text must be plain")
	}
	assert.Equal(t, NodeHeading, res.Nodes[0].Type)
	assert.Equal(t, "Section one", res.Nodes[0].Text)
	assert.Equal(t, 2, res.Nodes[0].Level)
	assert.Equal(t, "First paragraph with a link inside.", res.Nodes[1].Text)
}

func TestDistill_NoCandidates(t *testing.T) {
	d := NewDistiller(DefaultConfig(), nil, nil)
	_, err := d.Distill(context.Background(), []byte(`<html><body></body></html>`), "https://example.com/")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNoCandidates, apperr.CodeOf(err))
}

func TestDistill_AdapterPreemptsExtractors(t *testing.T) {
	adapter := func(ctx context.Context, html []byte, pageURL string) (*Candidate, error) {
		return &Candidate{
			Title:       "Adapter Title",
			ContentText: "Adapter body.\n\nSecond block.",
			Confidence:  0.9,
		}, nil
	}

	html := []byte(`<html><body><article><p>Generic content here.</p></article></body></html>`)
	d := NewDistiller(DefaultConfig(), nil, adapter)
	res, err := d.Distill(context.Background(), html, "https://shop.example.com/item/1")
	require.NoError(t, err)

	assert.Equal(t, MethodAdapter, res.Method)
	assert.Equal(t, "Adapter Title", res.Title)
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "Adapter body.", res.Nodes[0].Text)
}

func TestDistill_AdapterDeclinesFallsThrough(t *testing.T) {
	adapter := func(ctx context.Context, html []byte, pageURL string) (*Candidate, error) {
		return nil, nil
	}

	html := []byte(`<html><body><article><p>Fallback content body.</p></article></body></html>`)
	d := NewDistiller(DefaultConfig(), nil, adapter)
	res, err := d.Distill(context.Background(), html, "https://example.com/")
	require.NoError(t, err)
	assert.NotEqual(t, MethodAdapter, res.Method)
}

func TestDistill_LowConfidenceFlagged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowConfidenceThreshold = 0.99

	html := []byte(`<html><body><div><p>tiny</p></div></body></html>`)
	d := NewDistiller(cfg, nil, nil)
	res, err := d.Distill(context.Background(), html, "https://example.com/")
	require.NoError(t, err)
	assert.True(t, res.LowConfidence)
}

func TestCandidateNodes_TextOnlySplitsBlocks(t *testing.T) {
	c := &Candidate{ContentText: "One.\n\nTwo.\n\n\n\nThree."}
	nodes := candidateNodes(c)
	require.Len(t, nodes, 3)
	for i, want := range []string{"One.", "Two.", "Three."} {
		assert.Equal(t, NodeParagraph, nodes[i].Type)
		assert.Equal(t, want, nodes[i].Text)
	}
}

func TestDistill_LargeDocumentOrderPreserved(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<html><body><article>`)
	b.WriteString(`<h1>Top</h1>`)
	for i := 0; i < 10; i++ {
		b.WriteString(`<p>Paragraph body text that is long enough to carry real weight in scoring.</p>`)
	}
	b.WriteString(`</article></body></html>`)

	d := NewDistiller(DefaultConfig(), nil, nil)
	res, err := d.Distill(context.Background(), []byte(b.String()), "https://example.com/long")
	require.NoError(t, err)

	require.Len(t, res.Nodes, 11)
	assert.Equal(t, NodeHeading, res.Nodes[0].Type)
	for _, n := range res.Nodes[1:] {
		assert.Equal(t, NodeParagraph, n.Type)
	}
	assert.False(t, res.LowConfidence)
}
