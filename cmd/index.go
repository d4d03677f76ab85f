package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"lodestone/internal/embedder"
	"lodestone/internal/index"
	"lodestone/internal/logging"
)

var (
	flagWorkers  int
	flagSchedule string
)

var indexCmd = &cobra.Command{
	Use:   "index <path> [path...]",
	Short: "Index one or more repository checkouts for search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roots := make([]string, 0, len(args))
		for _, arg := range args {
			root, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			roots = append(roots, root)
		}

		dbPath := cfg.DBPath
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}

		workers := cfg.Index.Workers
		if cmd.Flags().Changed("workers") {
			workers = flagWorkers
		}
		schedule := cfg.Index.Schedule
		if cmd.Flags().Changed("schedule") {
			schedule = flagSchedule
		}

		idx, err := index.New(index.Config{
			DBPath: dbPath,
			Ollama: embedder.Config{
				BaseURL:           cfg.Ollama.URL,
				Model:             cfg.Ollama.Model,
				Dim:               cfg.Ollama.Dim,
				RequestsPerSecond: cfg.Ollama.RequestsPerSecond,
			},
			Workers:   workers,
			MaxTokens: cfg.Index.MaxTokens,
			Includes:  cfg.Index.Includes,
		})
		if err != nil {
			return err
		}
		defer idx.Close()

		run := func() error {
			start := time.Now()
			stats, err := idx.Index(cmd.Context(), roots)
			if stats != nil {
				logging.Get().Info().
					Str("elapsed", time.Since(start).Round(time.Millisecond).String()).
					Int("files_total", stats.FilesTotal).
					Int("files_indexed", stats.FilesIndexed).
					Int("files_skipped", stats.FilesSkipped).
					Int("chunks", stats.ChunksTotal).
					Msg("index run complete")
			}
			return err
		}

		if schedule == "" {
			return run()
		}

		// Scheduled mode: run once now, then on the cron expression until
		// the context is cancelled.
		if err := run(); err != nil {
			logging.Get().Error().Err(err).Msg("initial index run failed")
		}
		c := cron.New()
		if _, err := c.AddFunc(schedule, func() {
			if err := run(); err != nil {
				logging.Get().Error().Err(err).Msg("scheduled index run failed")
			}
		}); err != nil {
			return fmt.Errorf("parse schedule %q: %w", schedule, err)
		}
		logging.Get().Info().Str("schedule", schedule).Msg("running on schedule")
		c.Start()
		<-cmd.Context().Done()
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	indexCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel workers (0 = NumCPU)")
	indexCmd.Flags().StringVar(&flagSchedule, "schedule", "", "cron expression to re-index on (empty = run once)")
	rootCmd.AddCommand(indexCmd)
}
