package main

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/backfill"
	"github.com/distillhq/distill/internal/config"
	"github.com/distillhq/distill/internal/marketplace"
	"github.com/distillhq/distill/internal/urlcheck"
)

func backfillCmd() *cobra.Command {
	var (
		jobID         string
		input         string
		dbQuery       string
		output        string
		format        string
		mktID         string
		concurrency   int
		batchSize     int
		checkpointDir string
		interval      int
		pauseOnError  bool
		skipFailed    bool
		maxFailures   int
		retries       int
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay a URL corpus through the marketplace extractors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			source, err := backfillSource(a, input, dbQuery)
			if err != nil {
				return err
			}
			sink, err := backfillSink(a, format, output)
			if err != nil {
				return err
			}
			defer func() {
				if err := sink.Close(); err != nil {
					log.Warn().Err(err).Msg("sink close failed")
				}
			}()

			var store backfill.CheckpointStore
			if checkpointDir != "" {
				store = backfill.FileCheckpointStore{Dir: checkpointDir}
			} else if a.db != nil {
				store = backfill.DatabaseCheckpointStore{DB: a.db, Table: "backfill_checkpoints"}
			}

			spec := backfill.Spec{
				ID:          jobID,
				Marketplace: mktID,
				Concurrency: concurrency,
				BatchSize:   batchSize,
				Checkpoint:  backfill.CheckpointConfig{Enabled: store != nil, Interval: interval},
				Errors: backfill.ErrorPolicy{
					MaxConsecutiveFailures: maxFailures,
					PauseOnError:           pauseOnError,
					SkipFailed:             skipFailed,
					RetryAttempts:          retries,
				},
			}

			exec := backfill.NewExecutor(a.backfillExtract(), sink, store, a.metrics)
			job, err := exec.Prepare(cmd.Context(), spec, source)
			if err != nil {
				return err
			}

			if err := exec.Run(cmd.Context(), job); err != nil {
				return err
			}
			snap := job.Snapshot()
			log.Info().
				Str("job", jobID).
				Str("state", string(job.CurrentState())).
				Int("processed", snap.Processed).
				Int("successful", snap.Successful).
				Int("failed", snap.Failed).
				Float64("avg_confidence", snap.AverageConfidence).
				Msg("backfill finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "backfill", "job identifier used for checkpoints")
	cmd.Flags().StringVar(&input, "input", "", "newline-delimited URL file")
	cmd.Flags().StringVar(&dbQuery, "db-query", "", "single-column SQL query yielding URLs")
	cmd.Flags().StringVar(&output, "output", "listings.jsonl", "output path, or table name for the db format")
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format: jsonl, csv, or db")
	cmd.Flags().StringVar(&mktID, "marketplace", "ebay", "marketplace identifier")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel extractions per batch")
	cmd.Flags().IntVar(&batchSize, "batch-size", 20, "URLs per batch")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "directory for checkpoint files")
	cmd.Flags().IntVar(&interval, "checkpoint-interval", 50, "URLs between checkpoints")
	cmd.Flags().BoolVar(&pauseOnError, "pause-on-error", true, "pause instead of aborting on repeated failures")
	cmd.Flags().BoolVar(&skipFailed, "skip-failed", false, "do not retry failed URLs on resume")
	cmd.Flags().IntVar(&maxFailures, "max-consecutive-failures", 5, "failure streak that triggers the error policy")
	cmd.Flags().IntVar(&retries, "retries", 1, "retry attempts per URL")
	return cmd
}

func backfillSource(a *app, input, dbQuery string) (backfill.Source, error) {
	switch {
	case input != "":
		return backfill.FileSource{Path: input}, nil
	case dbQuery != "":
		if a.db == nil {
			return nil, apperr.New(apperr.CodeValidationError, "--db-query requires database.enabled")
		}
		return backfill.DatabaseSource{DB: a.db, Query: dbQuery}, nil
	default:
		return nil, apperr.New(apperr.CodeValidationError, "one of --input or --db-query is required")
	}
}

func backfillSink(a *app, format, output string) (backfill.Sink, error) {
	switch strings.ToLower(format) {
	case "jsonl":
		return backfill.NewJSONLSink(output)
	case "csv":
		return backfill.NewCSVSink(output)
	case "db":
		if a.db == nil {
			return nil, apperr.New(apperr.CodeValidationError, "the db format requires database.enabled")
		}
		return &backfill.DatabaseSink{DB: a.db, Table: output}, nil
	default:
		return nil, apperr.Newf(apperr.CodeValidationError, "unknown output format %q", format)
	}
}

// backfillExtract fetches a URL through the standard pipeline guards and
// hands the HTML to the marketplace registry.
func (a *app) backfillExtract() backfill.ExtractFunc {
	return func(ctx context.Context, rawURL string) (*marketplace.Listing, error) {
		res, err := a.validator.Validate(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if err := a.robots.CheckAndEnforce(ctx, res.Normalized); err != nil {
			return nil, err
		}
		if err := a.origins.WaitForClearance(ctx, urlcheck.Origin(res.URL)); err != nil {
			return nil, err
		}
		doc, err := a.fetcher.Fetch(ctx, res.Normalized, nil, nil)
		if err != nil {
			return nil, err
		}
		return a.registry.Extract(ctx, doc.HTML, res.Normalized, marketplace.ExtractOptions{})
	}
}
