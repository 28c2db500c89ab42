package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietmd/qmd"
	"github.com/quietmd/qmd/embedder"
)

var updateAllowRun bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Re-index all collections",
	Long: `Walk every collection and reconcile the index with the filesystem.
Collections declaring an update command in index.yml only run it when
--allow-run is given; without the flag the command is skipped with a
warning and indexing proceeds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var failed int
		for _, col := range e.Index.Collections {
			if len(flagCollections) > 0 && !slices.Contains(flagCollections, col.Name) {
				continue
			}
			if col.Update != "" {
				if updateAllowRun {
					if err := runUpdateCommand(col); err != nil {
						slog.Error("update command failed", "collection", col.Name, "error", err)
						failed++
						continue
					}
				} else {
					slog.Warn("skipping update command, pass --allow-run to execute",
						"collection", col.Name, "command", col.Update)
				}
			}

			sum, err := e.SyncCollection(ctx, col.Name)
			if err != nil {
				slog.Error("sync failed", "collection", col.Name, "error", err)
				failed++
				continue
			}
			fmt.Printf("%s: %d seen, %d added, %d updated, %d unchanged, %d deactivated",
				sum.Collection, sum.Seen, sum.Added, sum.Updated, sum.Unchanged, sum.Deactivated)
			if len(sum.Skipped) > 0 {
				fmt.Printf(", skipped %v", sum.Skipped)
			}
			fmt.Println()
		}
		if failed > 0 {
			return fmt.Errorf("%d collection(s) failed", failed)
		}
		return nil
	},
}

// runUpdateCommand executes a collection's declared shell command in
// its root directory, streaming output to stderr.
func runUpdateCommand(col qmd.Collection) error {
	cmd := exec.Command("sh", "-c", col.Update)
	cmd.Dir = col.Path
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

var (
	embedForce   bool
	embedTimeout time.Duration
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Build or rebuild the vector index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if embedTimeout > 0 {
			cfg.Timeout = embedTimeout
		}
		e, err := openEngine()
		if err != nil {
			return err
		}
		if !e.Gateway.HasEmbedder() {
			return errors.New("no embedding provider configured, set an API key")
		}

		sum, err := e.Embedder().Run(cmd.Context(), embedder.Options{
			Force:          embedForce,
			BatchSize:      cfg.EmbedBatchSize,
			MaxChunkTokens: cfg.MaxChunkTokens,
			ChunkOverlap:   cfg.ChunkOverlap,
			Progress:       !flagJSON,
		})
		if err != nil {
			return err
		}
		fmt.Printf("embedded %d chunks across %d documents (dim %d)",
			sum.Chunks, sum.Documents, sum.Dimension)
		if sum.Failed > 0 {
			fmt.Printf(", %d failed", sum.Failed)
		}
		fmt.Println()
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop caches, remove orphans, and compact the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		stats, err := e.Store.Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d inactive documents, %d orphaned contents, %d orphaned vectors, %d cache entries\n",
			stats.InactiveDocs, stats.OrphanedContent, stats.OrphanedVectors, stats.CacheEntries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd, embedCmd, cleanupCmd)
	updateCmd.Flags().BoolVar(&updateAllowRun, "allow-run", false, "execute collection update commands")
	embedCmd.Flags().BoolVarP(&embedForce, "force", "f", false, "clear existing vectors and re-embed everything")
	embedCmd.Flags().DurationVar(&embedTimeout, "timeout", 0, "per-request timeout override")
}
