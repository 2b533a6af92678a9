package backfill

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/distillhq/distill/internal/apperr"
)

// Checkpoint is the durable progress record written at intervals so an
// interrupted job resumes without re-extracting finished URLs.
type Checkpoint struct {
	JobID                 string    `json:"jobId" db:"job_id"`
	Timestamp             time.Time `json:"timestamp" db:"created_at"`
	ProcessedURLs         []string  `json:"processedUrls" db:"-"`
	SuccessfulExtractions int       `json:"successfulExtractions" db:"successful"`
	FailedExtractions     int       `json:"failedExtractions" db:"failed"`
	LastProcessedURL      string    `json:"lastProcessedUrl" db:"last_url"`
}

// CheckpointStore persists and recovers checkpoints. Load returns
// (nil, nil) when no checkpoint exists for the job.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, jobID string) (*Checkpoint, error)
}

// FileCheckpointStore keeps one JSON file per job in a directory.
type FileCheckpointStore struct {
	Dir string
}

func (s FileCheckpointStore) path(jobID string) string {
	return filepath.Join(s.Dir, jobID+".checkpoint.json")
}

func (s FileCheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "create checkpoint dir", err)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "encode checkpoint", err)
	}
	tmp := s.path(cp.JobID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "write checkpoint", err)
	}
	return os.Rename(tmp, s.path(cp.JobID))
}

func (s FileCheckpointStore) Load(_ context.Context, jobID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "read checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "decode checkpoint", err)
	}
	return &cp, nil
}

// DatabaseCheckpointStore keeps the latest checkpoint per job in a
// table, with the processed URL set serialized as JSON.
type DatabaseCheckpointStore struct {
	DB    *sqlx.DB
	Table string
}

func (s DatabaseCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if s.DB == nil {
		return apperr.New(apperr.CodeValidationError, "database checkpoint store requires a connection")
	}
	urls, err := json.Marshal(cp.ProcessedURLs)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "encode processed urls", err)
	}
	query := `INSERT INTO ` + s.Table + `
		(job_id, created_at, processed_urls, successful, failed, last_url)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (job_id) DO UPDATE SET
		 created_at = EXCLUDED.created_at, processed_urls = EXCLUDED.processed_urls,
		 successful = EXCLUDED.successful, failed = EXCLUDED.failed,
		 last_url = EXCLUDED.last_url`
	_, err = s.DB.ExecContext(ctx, query,
		cp.JobID, cp.Timestamp, urls, cp.SuccessfulExtractions,
		cp.FailedExtractions, cp.LastProcessedURL)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "save checkpoint", err)
	}
	return nil
}

func (s DatabaseCheckpointStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	if s.DB == nil {
		return nil, nil
	}
	var row struct {
		JobID      string    `db:"job_id"`
		CreatedAt  time.Time `db:"created_at"`
		Processed  []byte    `db:"processed_urls"`
		Successful int       `db:"successful"`
		Failed     int       `db:"failed"`
		LastURL    string    `db:"last_url"`
	}
	query := `SELECT job_id, created_at, processed_urls, successful, failed, last_url
		FROM ` + s.Table + ` WHERE job_id = $1`
	if err := s.DB.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "load checkpoint", err)
	}
	cp := Checkpoint{
		JobID:                 row.JobID,
		Timestamp:             row.CreatedAt,
		SuccessfulExtractions: row.Successful,
		FailedExtractions:     row.Failed,
		LastProcessedURL:      row.LastURL,
	}
	if len(row.Processed) > 0 {
		if err := json.Unmarshal(row.Processed, &cp.ProcessedURLs); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "decode processed urls", err)
		}
	}
	return &cp, nil
}
