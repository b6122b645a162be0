package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/maktaba/maktaba/internal/book"
	"github.com/maktaba/maktaba/internal/store"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export BOOK_ID",
	Short: "Export a book's extracted pages as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, cfg, err := setup()
		if err != nil {
			return err
		}
		bookID := book.NormalizeID(args[0])

		st, err := store.OpenSQLite(cfg.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer st.Close()

		pages, err := st.Pages(cmd.Context(), bookID)
		if err != nil {
			return err
		}
		if len(pages) == 0 {
			return fmt.Errorf("no pages stored for book %s", bookID)
		}
		checkpoint, err := st.LastCheckpoint(cmd.Context(), bookID)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			if err := h.EnsureExportsDir(); err != nil {
				return err
			}
			out = h.ExportPath(bookID)
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()

		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			BookID     string                `json:"book_id"`
			Checkpoint int                   `json:"checkpoint"`
			PageCount  int                   `json:"page_count"`
			Pages      []*book.ExtractedPage `json:"pages"`
		}{bookID, checkpoint, len(pages), pages}); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "exported %d pages to %s\n", len(pages), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default: ~/.maktaba/exports/book_<id>.json)")
}
