package backfill

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/distillhq/distill/internal/apperr"
)

// Source yields the URL corpus for a job.
type Source interface {
	URLs(ctx context.Context) ([]string, error)
}

// FileSource reads newline-delimited URLs. Blank lines and lines
// starting with # are skipped.
type FileSource struct {
	Path string
}

func (s FileSource) URLs(ctx context.Context) ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidationError, "open url file "+s.Path, err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "read url file "+s.Path, err)
	}
	return urls, nil
}

// DatabaseSource selects URLs with a single-column query.
type DatabaseSource struct {
	DB    *sqlx.DB
	Query string
}

func (s DatabaseSource) URLs(ctx context.Context) ([]string, error) {
	if s.DB == nil {
		return nil, apperr.New(apperr.CodeValidationError, "database source requires a connection")
	}
	var urls []string
	if err := s.DB.SelectContext(ctx, &urls, s.Query); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "query url source", err)
	}
	return urls, nil
}

// StaticSource wraps an in-memory URL list.
type StaticSource []string

func (s StaticSource) URLs(context.Context) ([]string, error) {
	return []string(s), nil
}
