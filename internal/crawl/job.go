// Package crawl walks same-origin link graphs breadth-first under strict
// depth, page, and concurrency budgets.
package crawl

import (
	"sync"
	"time"

	"github.com/distillhq/distill/internal/distill"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Options bound a crawl.
type Options struct {
	MaxDepth           int  `json:"maxDepth" yaml:"max_depth"`
	MaxPages           int  `json:"maxPages" yaml:"max_pages"`
	RenderJS           bool `json:"renderJs" yaml:"render_js"`
	AllowCrossOrigin   bool `json:"allowCrossOrigin" yaml:"allow_cross_origin"`
	PerHostConcurrency int  `json:"perHostConcurrency" yaml:"per_host_concurrency"`
	GlobalConcurrency  int  `json:"globalConcurrency" yaml:"global_concurrency"`
}

// DefaultOptions returns conservative crawl bounds.
func DefaultOptions() Options {
	return Options{
		MaxDepth:           2,
		MaxPages:           50,
		PerHostConcurrency: 2,
		GlobalConcurrency:  8,
	}
}

func (o Options) normalized() Options {
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 50
	}
	if o.PerHostConcurrency <= 0 {
		o.PerHostConcurrency = 2
	}
	if o.GlobalConcurrency <= 0 {
		o.GlobalConcurrency = 8
	}
	return o
}

// Progress is the incrementally updated counters of a job.
type Progress struct {
	Visited int `json:"visited"`
	Queued  int `json:"queued"`
	Failed  int `json:"failed"`
}

// PageResult is one crawled page.
type PageResult struct {
	URL        string         `json:"url"`
	Depth      int            `json:"depth"`
	Title      string         `json:"title,omitempty"`
	Method     string         `json:"method,omitempty"`
	Nodes      []distill.Node `json:"nodes,omitempty"`
	Confidence float64        `json:"confidence"`
	Error      string         `json:"error,omitempty"`
	FetchedAt  time.Time      `json:"fetchedAt"`
}

// Job is a crawl with its live state. All mutation goes through the
// mutex; snapshots are returned by value.
type Job struct {
	mu sync.RWMutex

	ID          string     `json:"id"`
	Seed        string     `json:"seed"`
	Options     Options    `json:"options"`
	Status      Status     `json:"status"`
	Progress    Progress   `json:"progress"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	results []PageResult
	cancel  func()
}

// Snapshot returns a copy safe for serialization.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Seed:        j.Seed,
		Options:     j.Options,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Results copies the accumulated page results.
func (j *Job) Results() []PageResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]PageResult, len(j.results))
	copy(out, j.results)
	return out
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = s
	if s == StatusCompleted || s == StatusFailed || s == StatusCancelled {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
}

func (j *Job) currentStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

func (j *Job) addResult(r PageResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	j.Progress.Visited++
	if r.Error != "" {
		j.Progress.Failed++
	}
}

func (j *Job) setQueued(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Queued = n
}
