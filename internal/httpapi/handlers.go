package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/crawl"
	"github.com/distillhq/distill/internal/health"
	"github.com/distillhq/distill/internal/pipeline"
)

// eventStreamer writes NDJSON lines, deferring the status line until the
// first event so error-first streams carry their mapped HTTP status.
type eventStreamer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStreamer(w http.ResponseWriter) *eventStreamer {
	fl, _ := w.(http.Flusher)
	return &eventStreamer{w: w, flusher: fl}
}

func (s *eventStreamer) sink(ev pipeline.Event) error {
	if !s.started {
		s.started = true
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		status := http.StatusOK
		if ev.Type == pipeline.EventError {
			if p, ok := ev.Payload.(pipeline.ErrorPayload); ok {
				status = statusForCode(p.Code)
			}
		}
		s.w.WriteHeader(status)
	}
	return s.writeLine(ev)
}

func (s *eventStreamer) writeLine(ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

type fetchRequest struct {
	URL     string          `json:"url"`
	Options json.RawMessage `json:"options"`
}

func fetchOptions(raw json.RawMessage) (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return opts, apperr.Wrap(apperr.CodeValidationError, "malformed options", err)
		}
	}
	if opts.MaxNodes < 1 || opts.MaxNodes > 100 {
		return opts, apperr.Newf(apperr.CodeValidationError, "maxNodes must be within [1,100], got %d", opts.MaxNodes)
	}
	return opts, nil
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.BodyLimit)
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeValidationError, "malformed request body", err))
		return
	}
	if req.URL == "" {
		writeError(w, apperr.New(apperr.CodeValidationError, "url is required"))
		return
	}
	opts, err := fetchOptions(req.Options)
	if err != nil {
		writeError(w, err)
		return
	}

	s.deps.Metrics.StreamOpened()
	defer s.deps.Metrics.StreamClosed()

	streamer := newEventStreamer(w)
	// The orchestrator pushes the error event itself; the streamer maps
	// it to the HTTP status when it is the first line.
	_ = s.deps.Orchestrator.Run(r.Context(), req.URL, opts, streamer.sink)
}

type batchRequest struct {
	URLs    []string        `json:"urls"`
	Options json.RawMessage `json:"options"`
}

func (s *Server) handleBatchFetch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.BodyLimit)
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeValidationError, "malformed request body", err))
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, apperr.New(apperr.CodeValidationError, "urls is required"))
		return
	}
	if len(req.URLs) > s.cfg.BatchMaxSources {
		writeError(w, apperr.Newf(apperr.CodeValidationError, "at most %d urls per batch", s.cfg.BatchMaxSources))
		return
	}
	opts, err := fetchOptions(req.Options)
	if err != nil {
		writeError(w, err)
		return
	}

	s.deps.Metrics.StreamOpened()
	defer s.deps.Metrics.StreamClosed()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	streamer := newEventStreamer(w)
	streamer.started = true

	var mu sync.Mutex
	writeLine := func(ev pipeline.Event) error {
		mu.Lock()
		defer mu.Unlock()
		return streamer.writeLine(ev)
	}

	sem := make(chan struct{}, s.cfg.BatchParallel)
	var wg sync.WaitGroup
	for i, target := range req.URLs {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := s.deps.Orchestrator.Run(r.Context(), target, opts, func(ev pipeline.Event) error {
				return writeLine(pipeline.Event{
					Type:    pipeline.EventSourceEvent,
					Payload: pipeline.SourceEventPayload{Index: i, Event: ev},
				})
			})

			end := pipeline.SourceEndPayload{Index: i, Status: "ok"}
			if err != nil {
				end.Status = "error"
				end.Error = apperr.From(err).Message
			}
			_ = writeLine(pipeline.Event{Type: pipeline.EventSourceEnd, Payload: end})
		}(i, target)
	}
	wg.Wait()
}

type crawlRequest struct {
	URL     string          `json:"url"`
	Options json.RawMessage `json:"options"`
}

type crawlStatusResponse struct {
	JobID    string         `json:"jobId"`
	Status   crawl.Status   `json:"status"`
	Progress crawl.Progress `json:"progress"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleCrawlStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.BodyLimit)
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeValidationError, "malformed request body", err))
		return
	}
	if req.URL == "" {
		writeError(w, apperr.New(apperr.CodeValidationError, "url is required"))
		return
	}
	opts := crawl.DefaultOptions()
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			writeError(w, apperr.Wrap(apperr.CodeValidationError, "malformed options", err))
			return
		}
	}

	job, err := s.deps.Crawls.Start(r.Context(), req.URL, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}

func (s *Server) handleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.deps.Crawls.Get(mux.Vars(r)["id"])
	if !ok {
		writeCrawlNotFound(w, mux.Vars(r)["id"])
		return
	}
	snap := job.Snapshot()
	writeJSON(w, http.StatusOK, crawlStatusResponse{
		JobID:    snap.ID,
		Status:   snap.Status,
		Progress: snap.Progress,
		Error:    snap.Error,
	})
}

func (s *Server) handleCrawlResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.deps.Crawls.Get(mux.Vars(r)["id"])
	if !ok {
		writeCrawlNotFound(w, mux.Vars(r)["id"])
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":   job.ID,
		"results": job.Results(),
	})
}

func (s *Server) handleCrawlCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.deps.Crawls.Get(id); !ok {
		writeCrawlNotFound(w, id)
		return
	}
	if err := s.deps.Crawls.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCrawlNotFound(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusNotFound, pipeline.ErrorPayload{
		Code:    apperr.CodeValidationError,
		Message: "unknown crawl job " + id,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
		return
	}
	report := s.deps.Health.Check(r.Context())
	writeJSON(w, report.HTTPStatus(), report)
}
