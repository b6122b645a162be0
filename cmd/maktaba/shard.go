package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/maktaba/maktaba/internal/book"
	"github.com/maktaba/maktaba/internal/config"
	"github.com/maktaba/maktaba/internal/pipeline"
)

var (
	shardBookID          string
	shardBaseURL         string
	shardFirst           int
	shardLast            int
	shardSkipThrough     int
	shardRate            float64
	shardMaxAttempts     int
	shardWorkers         int
	shardThreadThreshold int
	shardNoFastParser    bool
	shardReattempt       []int
)

// shardCmd is the child-process half of the multiprocess tier. The
// parent re-executes the binary with this command for each shard and
// reads JSON lines from its stdout. Not for interactive use.
var shardCmd = &cobra.Command{
	Use:    "shard",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		cfg.Source.BaseURL = shardBaseURL
		cfg.Source.RequestsPerSec = shardRate
		cfg.Extraction.MaxAttempts = shardMaxAttempts
		cfg.Extraction.WorkerCount = shardWorkers
		cfg.Extraction.ThreadThreshold = shardThreadThreshold
		cfg.Extraction.UseFastParser = !shardNoFastParser

		bk, err := book.New(shardBookID, shardLast, shardBaseURL)
		if err != nil {
			return err
		}

		return pipeline.RunShard(cmd.Context(), pipeline.ShardSpec{
			Book:        bk,
			FirstPage:   shardFirst,
			LastPage:    shardLast,
			SkipThrough: shardSkipThrough,
			Reattempt:   shardReattempt,
		}, cfg, os.Stdout, newLogger())
	},
}

func init() {
	shardCmd.Flags().StringVar(&shardBookID, "book", "", "book ID")
	shardCmd.Flags().StringVar(&shardBaseURL, "base-url", "", "source base URL")
	shardCmd.Flags().IntVar(&shardFirst, "first", 0, "first page of the shard")
	shardCmd.Flags().IntVar(&shardLast, "last", 0, "last page of the shard")
	shardCmd.Flags().IntVar(&shardSkipThrough, "skip-through", 0, "skip pages at or below this checkpoint")
	shardCmd.Flags().Float64Var(&shardRate, "rate", 1, "requests per second for this shard")
	shardCmd.Flags().IntVar(&shardMaxAttempts, "max-attempts", 3, "fetch attempts per page")
	shardCmd.Flags().IntVar(&shardWorkers, "workers", 4, "worker count for large shards")
	shardCmd.Flags().IntVar(&shardThreadThreshold, "thread-threshold", 50, "page count at which the shard uses workers")
	shardCmd.Flags().BoolVar(&shardNoFastParser, "no-fast-parser", false, "skip the fast parser backend")
	shardCmd.Flags().IntSliceVar(&shardReattempt, "reattempt", nil, "pages to fetch even if at or below the checkpoint")

	for _, name := range []string{"book", "base-url", "first", "last"} {
		_ = shardCmd.MarkFlagRequired(name)
	}
}
