package crawl

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/distill"
	"github.com/distillhq/distill/internal/urlcheck"
)

func testValidator() *urlcheck.Validator {
	return &urlcheck.Validator{
		SkipResolve:   true,
		AllowLoopback: true,
		Resolve:       func(ctx context.Context, host string) ([]net.IP, error) { return nil, nil },
	}
}

// sitemapProcessor serves canned pages keyed by URL.
type sitemapProcessor struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
	block chan struct{} // when set, Process waits until closed
}

func (p *sitemapProcessor) Process(ctx context.Context, url string, render bool) (*Page, error) {
	p.mu.Lock()
	p.calls = append(p.calls, url)
	body, ok := p.pages[url]
	p.mu.Unlock()

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("not found: %s", url)
	}
	return &Page{
		FinalURL:   url,
		HTML:       []byte(body),
		Title:      "page",
		Method:     "readability",
		Nodes:      []distill.Node{{Type: distill.NodeParagraph, Text: "content of " + url}},
		Confidence: 0.8,
	}, nil
}

func (p *sitemapProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func linkPage(targets ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, t := range targets {
		b.WriteString(`<a href="` + t + `">x</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func waitForDone(t *testing.T, m *Manager, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := m.Get(id)
		require.True(t, ok)
		switch job.currentStatus() {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return nil
}

func TestCrawl_PageBudget(t *testing.T) {
	seed := "http://site.test/"
	proc := &sitemapProcessor{pages: map[string]string{
		seed: linkPage("/a", "/b", "/c", "/d", "/e"),
		"http://site.test/a": linkPage(),
		"http://site.test/b": linkPage(),
		"http://site.test/c": linkPage(),
		"http://site.test/d": linkPage(),
		"http://site.test/e": linkPage(),
	}}

	m := NewManager(proc, testValidator(), nil, nil)
	job, err := m.Start(context.Background(), seed, Options{MaxDepth: 1, MaxPages: 3})
	require.NoError(t, err)

	done := waitForDone(t, m, job.ID)
	assert.Equal(t, StatusCompleted, done.currentStatus())

	results := done.Results()
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.LessOrEqual(t, r.Depth, 1)
		assert.Empty(t, r.Error)
		assert.NotEmpty(t, r.Nodes)
	}
}

func TestCrawl_DepthBudgetAndDedupe(t *testing.T) {
	seed := "http://site.test/"
	proc := &sitemapProcessor{pages: map[string]string{
		seed: linkPage("/l1", "/l1", "/"),
		"http://site.test/l1": linkPage("/l2"),
		"http://site.test/l2": linkPage("/l3"),
	}}

	m := NewManager(proc, testValidator(), nil, nil)
	job, err := m.Start(context.Background(), seed, Options{MaxDepth: 2, MaxPages: 100})
	require.NoError(t, err)

	done := waitForDone(t, m, job.ID)
	results := done.Results()

	// Seed, l1 (deduped), l2. l3 would be depth 3 and is never enqueued.
	require.Len(t, results, 3)
	maxDepth := 0
	for _, r := range results {
		if r.Depth > maxDepth {
			maxDepth = r.Depth
		}
	}
	assert.Equal(t, 2, maxDepth)
	assert.Equal(t, 3, proc.callCount(), "each URL processed at most once")
}

func TestCrawl_SameOriginFilter(t *testing.T) {
	seed := "http://site.test/"
	proc := &sitemapProcessor{pages: map[string]string{
		seed: linkPage("http://other.test/x", "/local"),
		"http://site.test/local": linkPage(),
	}}

	m := NewManager(proc, testValidator(), nil, nil)
	job, err := m.Start(context.Background(), seed, Options{MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)

	done := waitForDone(t, m, job.ID)
	for _, r := range done.Results() {
		assert.True(t, strings.HasPrefix(r.URL, "http://site.test"), r.URL)
	}
	assert.Len(t, done.Results(), 2)
}

func TestCrawl_CrossOriginAllowed(t *testing.T) {
	seed := "http://site.test/"
	proc := &sitemapProcessor{pages: map[string]string{
		seed: linkPage("http://other.test/x"),
		"http://other.test/x": linkPage(),
	}}

	m := NewManager(proc, testValidator(), nil, nil)
	job, err := m.Start(context.Background(), seed, Options{MaxDepth: 1, MaxPages: 10, AllowCrossOrigin: true})
	require.NoError(t, err)

	done := waitForDone(t, m, job.ID)
	assert.Len(t, done.Results(), 2)
}

func TestCrawl_FailuresIsolated(t *testing.T) {
	seed := "http://site.test/"
	proc := &sitemapProcessor{pages: map[string]string{
		seed: linkPage("/missing", "/ok"),
		"http://site.test/ok": linkPage(),
	}}

	m := NewManager(proc, testValidator(), nil, nil)
	job, err := m.Start(context.Background(), seed, Options{MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)

	done := waitForDone(t, m, job.ID)
	assert.Equal(t, StatusCompleted, done.currentStatus())

	snapshot := done.Snapshot()
	assert.Equal(t, 3, snapshot.Progress.Visited)
	assert.Equal(t, 1, snapshot.Progress.Failed)
}

func TestCrawl_Cancel(t *testing.T) {
	seed := "http://site.test/"
	block := make(chan struct{})
	proc := &sitemapProcessor{
		pages: map[string]string{seed: linkPage("/a", "/b")},
		block: block,
	}

	m := NewManager(proc, testValidator(), nil, nil)
	job, err := m.Start(context.Background(), seed, Options{MaxDepth: 3, MaxPages: 100})
	require.NoError(t, err)

	// Wait until the seed is in flight, then cancel.
	deadline := time.Now().Add(2 * time.Second)
	for proc.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, m.Cancel(job.ID))
	close(block)

	done := waitForDone(t, m, job.ID)
	assert.Equal(t, StatusCancelled, done.currentStatus())
	// The in-flight seed drained but its links were not followed.
	assert.LessOrEqual(t, proc.callCount(), 1)
}

func TestCrawl_InvalidSeed(t *testing.T) {
	m := NewManager(&sitemapProcessor{}, testValidator(), nil, nil)
	_, err := m.Start(context.Background(), "ftp://example.com/", Options{})
	require.Error(t, err)
}

func TestCrawl_RemoveUnknown(t *testing.T) {
	m := NewManager(&sitemapProcessor{}, testValidator(), nil, nil)
	assert.Error(t, m.Remove("nope"))
	assert.Error(t, m.Cancel("nope"))
}
