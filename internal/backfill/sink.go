package backfill

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/marketplace"
)

// Sink receives extracted listings. Write must be safe for concurrent
// use; the executor calls it from its worker goroutines.
type Sink interface {
	Write(ctx context.Context, listing *marketplace.Listing) error
	Close() error
}

// JSONLSink appends one JSON-encoded listing per line.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewJSONLSink opens (or creates) the output file in append mode.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidationError, "open jsonl sink "+path, err)
	}
	return &JSONLSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) Write(_ context.Context, listing *marketplace.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(listing)
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var csvHeader = []string{
	"id", "marketplace", "url", "title", "price_amount", "price_currency",
	"condition", "availability", "sold_date", "seller_name", "confidence",
	"extracted_at",
}

// CSVSink writes listings as rows under a fixed header.
type CSVSink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVSink opens (or creates) the output file in append mode, writing
// the header row only when the file is empty. A resumed job keeps the
// rows written before the interruption.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidationError, "open csv sink "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperr.Wrap(apperr.CodeInternal, "stat csv sink", err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, apperr.Wrap(apperr.CodeInternal, "write csv header", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, apperr.Wrap(apperr.CodeInternal, "write csv header", err)
		}
	}
	return &CSVSink{f: f, w: w}, nil
}

func (s *CSVSink) Write(_ context.Context, l *marketplace.Listing) error {
	var priceAmount, priceCurrency string
	if l.Price != nil {
		priceAmount = strconv.FormatFloat(l.Price.Amount, 'f', 2, 64)
		priceCurrency = l.Price.Currency
	}
	var soldDate string
	if l.SoldDate != nil {
		soldDate = l.SoldDate.UTC().Format(time.RFC3339)
	}
	row := []string{
		l.ID, l.Marketplace, l.URL, l.Title, priceAmount, priceCurrency,
		string(l.Condition), string(l.Availability), soldDate, l.Seller.Name,
		strconv.FormatFloat(l.Confidence, 'f', 4, 64),
		l.ExtractedAt.UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// DatabaseSink upserts listings into a table keyed by URL.
type DatabaseSink struct {
	DB    *sqlx.DB
	Table string
}

func (s *DatabaseSink) Write(ctx context.Context, l *marketplace.Listing) error {
	if s.DB == nil {
		return apperr.New(apperr.CodeValidationError, "database sink requires a connection")
	}
	var priceAmount *float64
	var priceCurrency *string
	if l.Price != nil {
		priceAmount = &l.Price.Amount
		priceCurrency = &l.Price.Currency
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(id, marketplace, url, title, price_amount, price_currency,
		 condition, availability, sold_date, seller_name, confidence, extracted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (url) DO UPDATE SET
		 title = EXCLUDED.title, price_amount = EXCLUDED.price_amount,
		 price_currency = EXCLUDED.price_currency, condition = EXCLUDED.condition,
		 availability = EXCLUDED.availability, sold_date = EXCLUDED.sold_date,
		 seller_name = EXCLUDED.seller_name, confidence = EXCLUDED.confidence,
		 extracted_at = EXCLUDED.extracted_at`, s.Table)
	_, err := s.DB.ExecContext(ctx, query,
		l.ID, l.Marketplace, l.URL, l.Title, priceAmount, priceCurrency,
		string(l.Condition), string(l.Availability), l.SoldDate, l.Seller.Name,
		l.Confidence, l.ExtractedAt)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "insert listing", err)
	}
	return nil
}

func (s *DatabaseSink) Close() error { return nil }
