package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/marketplace"
	"github.com/distillhq/distill/internal/metrics"
)

// ExtractFunc resolves one URL to a listing. Production wires it to the
// marketplace registry; tests inject fakes.
type ExtractFunc func(ctx context.Context, url string) (*marketplace.Listing, error)

// Executor drives backfill jobs through batched parallel extraction.
type Executor struct {
	extract ExtractFunc
	sink    Sink
	store   CheckpointStore
	metrics *metrics.Metrics
}

// NewExecutor creates an executor. store and m are optional.
func NewExecutor(extract ExtractFunc, sink Sink, store CheckpointStore, m *metrics.Metrics) *Executor {
	return &Executor{extract: extract, sink: sink, store: store, metrics: m}
}

// Prepare loads the URL corpus and, when checkpointing is enabled, the
// prior checkpoint so finished URLs are skipped on resume.
func (e *Executor) Prepare(ctx context.Context, spec Spec, source Source) (*Job, error) {
	spec = spec.normalized()
	urls, err := source.URLs(ctx)
	if err != nil {
		return nil, err
	}
	job := newJob(spec, urls)

	if spec.Checkpoint.Enabled && e.store != nil {
		cp, err := e.store.Load(ctx, spec.ID)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			job.restore(cp)
			log.Info().Str("job", spec.ID).Int("processed", len(cp.ProcessedURLs)).
				Msg("resuming backfill from checkpoint")
		}
	}
	return job, nil
}

// Run processes the job's remaining URLs until completion, a pause, or
// cancellation. Calling Run on a paused job resumes it; the consecutive
// failure counter starts fresh.
func (e *Executor) Run(ctx context.Context, job *Job) error {
	switch job.CurrentState() {
	case StateCompleted, StateFailed:
		return apperr.Newf(apperr.CodeValidationError, "job %s is already %s", job.Spec.ID, job.CurrentState())
	}
	job.mu.Lock()
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	job.mu.Unlock()

	e.transition(job, StateRunning)
	spec := job.Spec

	var pending []string
	for _, u := range job.urls {
		if !job.alreadyProcessed(u) {
			pending = append(pending, u)
		}
	}

	consecutive := 0
	sinceCheckpoint := 0

	for start := 0; start < len(pending); start += spec.BatchSize {
		if ctx.Err() != nil {
			return e.pause(job, ctx.Err())
		}
		end := start + spec.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		type outcome struct {
			url     string
			listing *marketplace.Listing
			err     error
		}
		outcomes := make([]outcome, len(batch))
		sem := make(chan struct{}, spec.Concurrency)
		var wg sync.WaitGroup
		for i, u := range batch {
			wg.Add(1)
			go func(i int, u string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				listing, err := e.extractWithRetry(ctx, u, spec.Errors.RetryAttempts)
				outcomes[i] = outcome{url: u, listing: listing, err: err}
			}(i, u)
		}
		wg.Wait()

		// Outcomes are applied in batch order so the consecutive
		// failure counter is deterministic under parallel extraction.
		for _, o := range outcomes {
			if o.err != nil && ctx.Err() != nil {
				continue
			}
			if o.err != nil {
				log.Warn().Err(o.err).Str("job", spec.ID).Str("url", o.url).
					Msg("backfill extraction failed")
				if spec.Errors.SkipFailed {
					// Marked processed; a resumed run does not retry it.
					job.recordFailure(o.url)
				} else {
					job.countFailure()
				}
				consecutive++
				if consecutive >= spec.Errors.MaxConsecutiveFailures {
					if spec.Errors.PauseOnError {
						log.Warn().Str("job", spec.ID).Int("failures", consecutive).
							Msg("pausing backfill after consecutive failures")
						return e.pause(job, nil)
					}
					err := apperr.Newf(apperr.CodeExtractionFailed,
						"aborted after %d consecutive failures", consecutive)
					return e.fail(job, err)
				}
			} else {
				if err := e.sink.Write(ctx, o.listing); err != nil {
					return e.fail(job, apperr.Wrap(apperr.CodeInternal, "sink write", err))
				}
				job.recordSuccess(o.url, o.listing.Confidence)
				consecutive = 0
			}

			sinceCheckpoint++
			if spec.Checkpoint.Enabled && e.store != nil && sinceCheckpoint >= spec.Checkpoint.Interval {
				e.saveCheckpoint(ctx, job)
				sinceCheckpoint = 0
			}
		}
	}

	if ctx.Err() != nil {
		return e.pause(job, ctx.Err())
	}
	if spec.Checkpoint.Enabled && e.store != nil {
		e.saveCheckpoint(ctx, job)
	}
	e.transition(job, StateCompleted)
	snap := job.Snapshot()
	log.Info().Str("job", spec.ID).Int("processed", snap.Processed).
		Int("failed", snap.Failed).Msg("backfill completed")
	return nil
}

func (e *Executor) extractWithRetry(ctx context.Context, url string, retries int) (*marketplace.Listing, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		listing, err := e.extract(ctx, url)
		if err == nil {
			return listing, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// pause checkpoints and parks the job so Run can pick it up again.
func (e *Executor) pause(job *Job, cause error) error {
	if job.Spec.Checkpoint.Enabled && e.store != nil {
		e.saveCheckpoint(context.Background(), job)
	}
	e.transition(job, StatePaused)
	return cause
}

func (e *Executor) fail(job *Job, err error) error {
	job.setError(err.Error())
	e.transition(job, StateFailed)
	return err
}

func (e *Executor) transition(job *Job, s State) {
	job.setState(s)
	e.metrics.RecordJobTransition("backfill", string(s))
}

func (e *Executor) saveCheckpoint(ctx context.Context, job *Job) {
	cp := job.checkpoint(time.Now().UTC())
	if err := e.store.Save(ctx, cp); err != nil {
		log.Warn().Err(err).Str("job", job.Spec.ID).Msg("checkpoint save failed")
	}
}
