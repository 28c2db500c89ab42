package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quietmd/qmd/store"
)

type statusReport struct {
	Index       string                  `json:"index"`
	Database    string                  `json:"database"`
	Health      *store.IndexHealth      `json:"health"`
	Collections []store.CollectionStats `json:"collections"`
	Providers   statusProviders         `json:"providers"`
}

type statusProviders struct {
	Embed  bool `json:"embed"`
	Expand bool `json:"expand"`
	Rerank bool `json:"rerank"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report index health and provider availability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		health, err := e.Store.Health(ctx, e.Gateway.EmbedModel())
		if err != nil {
			return err
		}
		stats, err := e.Store.StatsByCollection(ctx, e.Gateway.EmbedModel())
		if err != nil {
			return err
		}

		report := statusReport{
			Index:       cfg.IndexName,
			Database:    e.Store.Path(),
			Health:      health,
			Collections: stats,
			Providers: statusProviders{
				Embed:  e.Gateway.HasEmbedder(),
				Expand: e.Gateway.HasExpander(),
				Rerank: e.Gateway.HasReranker(),
			},
		}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("index %q at %s\n", report.Index, report.Database)
		fmt.Printf("documents: %d, awaiting embedding: %d, stale for %d day(s)\n",
			health.TotalDocs, health.NeedsEmbedding, health.DaysStale)
		fmt.Printf("providers: embed=%v expand=%v rerank=%v\n",
			report.Providers.Embed, report.Providers.Expand, report.Providers.Rerank)
		for _, st := range stats {
			fmt.Printf("  %s\t%d documents\t%d embedded\n", st.Collection, st.Documents, st.Embedded)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
