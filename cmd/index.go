package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/knowledge"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the internal documents directory",
	Long:  "Embeds new or changed documents into the store. --force re-embeds everything; --watch keeps re-indexing as files change.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("index"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		_, indexer, err := initKnowledge(ctx, cfg, st)
		if err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		stats, err := indexer.Sync(ctx, force)
		if err != nil {
			return err
		}
		formatIndexStats(cmd.OutOrStdout(), indexer.Dir(), stats)

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			zap.L().Info("watching documents", zap.String("dir", indexer.Dir()))
			return indexer.Watch(ctx, cfg.Knowledge.WatchDebounce())
		}
		return nil
	},
}

// formatIndexStats writes a sync summary to w.
func formatIndexStats(out io.Writer, dir string, s knowledge.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Directory:\t%s\n", dir)
	_, _ = fmt.Fprintf(w, "Scanned:\t%d\n", s.Scanned)
	_, _ = fmt.Fprintf(w, "Indexed:\t%d\n", s.Indexed)
	_, _ = fmt.Fprintf(w, "Unchanged:\t%d\n", s.Unchanged)
	_, _ = fmt.Fprintf(w, "Removed:\t%d\n", s.Removed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Chunks:\t%d\n", s.Chunks)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", s.Duration.Round(1e6))
	_ = w.Flush()
}

func init() {
	indexCmd.Flags().Bool("force", false, "re-embed every document")
	indexCmd.Flags().Bool("watch", false, "keep watching the directory and re-index on change")
	rootCmd.AddCommand(indexCmd)
}
