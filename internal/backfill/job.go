// Package backfill replays URL corpora through the marketplace registry
// in batches, with checkpointing, resumable state, and pluggable
// sources and sinks.
package backfill

import (
	"sync"
	"time"
)

// State is the job lifecycle. Transitions: queued -> running ->
// (paused <-> running) -> completed | failed.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrorPolicy controls failure handling within a batch.
type ErrorPolicy struct {
	MaxConsecutiveFailures int  `yaml:"max_consecutive_failures" json:"maxConsecutiveFailures"`
	PauseOnError           bool `yaml:"pause_on_error" json:"pauseOnError"`
	SkipFailed             bool `yaml:"skip_failed" json:"skipFailed"`
	RetryAttempts          int  `yaml:"retry_attempts" json:"retryAttempts"`
}

// CheckpointConfig controls periodic progress persistence.
type CheckpointConfig struct {
	Enabled  bool `yaml:"enabled" json:"enabled"`
	Interval int  `yaml:"interval" json:"interval"`
}

// Progress is the live counters of a job.
type Progress struct {
	Processed         int     `json:"processed"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// Spec describes a backfill job.
type Spec struct {
	ID          string
	Marketplace string
	Concurrency int
	BatchSize   int
	Checkpoint  CheckpointConfig
	Errors      ErrorPolicy
	EmitEvents  bool
}

func (s Spec) normalized() Spec {
	if s.Concurrency <= 0 {
		s.Concurrency = 4
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 20
	}
	if s.Errors.MaxConsecutiveFailures <= 0 {
		s.Errors.MaxConsecutiveFailures = 5
	}
	if s.Checkpoint.Interval <= 0 {
		s.Checkpoint.Interval = 50
	}
	return s
}

// Job is a backfill run with its mutable state.
type Job struct {
	mu sync.RWMutex

	Spec      Spec
	State     State
	Progress  Progress
	Error     string
	StartedAt time.Time

	confidenceSum float64
	processed     map[string]bool
	processedList []string
	urls          []string
}

func newJob(spec Spec, urls []string) *Job {
	return &Job{
		Spec:      spec,
		State:     StateQueued,
		urls:      urls,
		processed: make(map[string]bool),
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.State = s
}

// CurrentState returns the job state.
func (j *Job) CurrentState() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.State
}

// Snapshot returns the progress counters.
func (j *Job) Snapshot() Progress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Progress
}

func (j *Job) recordSuccess(url string, confidence float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.markProcessed(url)
	j.Progress.Successful++
	j.confidenceSum += confidence
	j.Progress.AverageConfidence = j.confidenceSum / float64(j.Progress.Successful)
}

func (j *Job) recordFailure(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.markProcessed(url)
	j.Progress.Failed++
}

// markProcessed requires j.mu held.
func (j *Job) markProcessed(url string) {
	if !j.processed[url] {
		j.processed[url] = true
		j.processedList = append(j.processedList, url)
	}
	j.Progress.Processed++
}

// countFailure tallies a failure without marking the URL processed, so
// a resumed run retries it.
func (j *Job) countFailure() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Failed++
}

func (j *Job) alreadyProcessed(url string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.processed[url]
}

// restore seeds the job's processed set from a saved checkpoint so a
// resumed run skips finished URLs.
func (j *Job) restore(cp *Checkpoint) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, u := range cp.ProcessedURLs {
		if !j.processed[u] {
			j.processed[u] = true
			j.processedList = append(j.processedList, u)
		}
	}
	j.Progress.Processed = len(j.processedList)
	j.Progress.Successful = cp.SuccessfulExtractions
	j.Progress.Failed = cp.FailedExtractions
}

func (j *Job) checkpoint(now time.Time) Checkpoint {
	j.mu.RLock()
	defer j.mu.RUnlock()
	urls := make([]string, len(j.processedList))
	copy(urls, j.processedList)
	var last string
	if len(urls) > 0 {
		last = urls[len(urls)-1]
	}
	return Checkpoint{
		JobID:                 j.Spec.ID,
		Timestamp:             now,
		ProcessedURLs:         urls,
		SuccessfulExtractions: j.Progress.Successful,
		FailedExtractions:     j.Progress.Failed,
		LastProcessedURL:      last,
	}
}

func (j *Job) setError(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Error = msg
}
