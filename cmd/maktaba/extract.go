package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/maktaba/maktaba/internal/book"
	"github.com/maktaba/maktaba/internal/pipeline"
	"github.com/maktaba/maktaba/internal/store"
)

var (
	extractBaseURL    string
	extractSequential bool
	extractReattempt  []int
	extractNoProgress bool
)

var extractCmd = &cobra.Command{
	Use:   "extract BOOK_ID TOTAL_PAGES",
	Short: "Extract a book's pages into the local database",
	Long: `Extract fetches every page of a book, parses the text, and persists
it in batches. Interrupted runs resume from the stored checkpoint, so
re-running the same command only fetches what is missing.

Book IDs may carry a BK prefix (BK000043 and 43 are the same book).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		totalPages, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("total pages must be a number: %w", err)
		}

		_, cfg, err := setup()
		if err != nil {
			return err
		}
		if extractBaseURL != "" {
			cfg.Source.BaseURL = extractBaseURL
		}
		if extractSequential {
			cfg.Extraction.ForceSequential = true
		}

		logger := newLogger()
		bk, err := book.New(book.NormalizeID(args[0]), totalPages, cfg.Source.BaseURL)
		if err != nil {
			return err
		}

		st, err := store.OpenSQLite(cfg.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer st.Close()

		opts := pipeline.Options{
			Logger:    logger,
			Reattempt: extractReattempt,
		}
		if !extractNoProgress {
			bar := progressbar.NewOptions(totalPages,
				progressbar.OptionSetDescription(fmt.Sprintf("book %s", bk.ID)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			opts.OnPage = func(completed, total int) {
				_ = bar.Set(completed)
			}
		}

		result, runErr := pipeline.Extract(cmd.Context(), bk, cfg, st, opts)
		if result != nil {
			if err := printResult(result); err != nil {
				return err
			}
		}
		return runErr
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractBaseURL, "base-url", "", "override the source base URL")
	extractCmd.Flags().BoolVar(&extractSequential, "sequential", false, "force the sequential tier regardless of book size")
	extractCmd.Flags().IntSliceVar(&extractReattempt, "reattempt", nil, "page numbers to fetch again even if already persisted")
	extractCmd.Flags().BoolVar(&extractNoProgress, "no-progress", false, "disable the progress bar")
}

// printResult writes the run summary to stdout in the selected format.
func printResult(v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return yaml.NewEncoder(os.Stdout).Encode(v)
	}
}
