// Package pipeline orchestrates a single content request end to end and
// produces its ordered NDJSON event stream.
package pipeline

import (
	"time"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/distill"
	"github.com/distillhq/distill/internal/marketplace"
)

// EventType tags the closed set of stream events.
type EventType string

const (
	EventMetadata    EventType = "metadata"
	EventNode        EventType = "node"
	EventConfidence  EventType = "confidence"
	EventProvenance  EventType = "provenance"
	EventSourceEvent EventType = "source_event"
	EventSourceEnd   EventType = "source_end"
	EventError       EventType = "error"
)

// Event is one NDJSON line.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// CacheStatus reports how the cache participated in a request.
type CacheStatus string

const (
	CacheMiss        CacheStatus = "miss"
	CacheHit         CacheStatus = "hit"
	CacheRevalidated CacheStatus = "revalidated"
	CacheBypass      CacheStatus = "bypass"
)

// MetadataPayload opens every successful stream.
type MetadataPayload struct {
	URL              string      `json:"url"`
	FinalURL         string      `json:"finalUrl"`
	Title            string      `json:"title,omitempty"`
	SiteName         string      `json:"siteName,omitempty"`
	ExtractionMethod string      `json:"extractionMethod"`
	Confidence       float64     `json:"confidence"`
	FallbackUsed     bool        `json:"fallbackUsed"`
	CacheStatus      CacheStatus `json:"cacheStatus"`
}

// ProvenancePayload mirrors the marketplace provenance record on the wire.
type ProvenancePayload struct {
	Channel        marketplace.Channel   `json:"channel"`
	Tier           int                   `json:"tier"`
	Confidence     float64               `json:"confidence"`
	Freshness      marketplace.Freshness `json:"freshness"`
	SourceID       string                `json:"sourceId"`
	ExtractedAt    time.Time             `json:"extractedAt"`
	UserConsented  bool                  `json:"userConsented"`
	TermsCompliant bool                  `json:"termsCompliant"`
}

// ErrorPayload closes a failed stream.
type ErrorPayload struct {
	Code    apperr.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// SourceEventPayload wraps one inner event for batch streams.
type SourceEventPayload struct {
	Index int   `json:"index"`
	Event Event `json:"event"`
}

// SourceEndPayload terminates one source in a batch stream.
type SourceEndPayload struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ErrorEvent converts any error into its wire form.
func ErrorEvent(err error) Event {
	ae := apperr.From(err)
	return Event{Type: EventError, Payload: ErrorPayload{
		Code:    ae.Code,
		Message: ae.Message,
		Details: ae.Details,
	}}
}

func provenanceEvent(p *marketplace.Provenance) Event {
	return Event{Type: EventProvenance, Payload: ProvenancePayload{
		Channel:        p.Channel,
		Tier:           p.Tier,
		Confidence:     p.Confidence,
		Freshness:      p.Freshness,
		SourceID:       p.SourceID,
		ExtractedAt:    p.ExtractedAt,
		UserConsented:  p.UserConsented,
		TermsCompliant: p.TermsCompliant,
	}}
}

func nodeEvent(n distill.Node) Event {
	return Event{Type: EventNode, Payload: n}
}
