// Package cli implements the qmd command surface on top of the engine.
// Commands write results to stdout; logs always go to stderr so the
// structured output formats stay machine-readable.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quietmd/qmd"
)

var (
	cfg qmd.Config
	eng *qmd.Engine

	flagIndex       string
	flagJSON        bool
	flagCSV         bool
	flagMD          bool
	flagXML         bool
	flagFiles       bool
	flagNum         int
	flagAll         bool
	flagMinScore    float64
	flagFull        bool
	flagLineNumbers bool
	flagCollections []string
	flagContext     string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "qmd",
	Short: "Hybrid search over local Markdown collections",
	Long: `qmd indexes directories of Markdown files into a local SQLite database
with full-text and vector indexes, and answers queries with a multi-stage
pipeline: BM25, embeddings, rank fusion, and LLM reranking.

Example usage:
  qmd collection add ~/notes --name notes
  qmd update
  qmd embed
  qmd query "how does the deploy pipeline work"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		cfg = qmd.LoadConfig()
		if flagIndex != "" {
			cfg.IndexName = flagIndex
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if eng != nil {
			eng.Close()
			eng = nil
		}
	},
}

// Execute runs the root command, mapping any error to exit code 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagIndex, "index", "", "index name (default \"index\")")
	pf.BoolVar(&flagJSON, "json", false, "output as JSON")
	pf.BoolVar(&flagCSV, "csv", false, "output as CSV")
	pf.BoolVar(&flagMD, "md", false, "output as Markdown")
	pf.BoolVar(&flagXML, "xml", false, "output as XML")
	pf.BoolVar(&flagFiles, "files", false, "output matching file paths only")
	pf.IntVarP(&flagNum, "num", "n", 0, "maximum number of results")
	pf.BoolVar(&flagAll, "all", false, "return all results")
	pf.Float64Var(&flagMinScore, "min-score", 0, "minimum result score")
	pf.BoolVar(&flagFull, "full", false, "include full document bodies")
	pf.BoolVar(&flagLineNumbers, "line-numbers", false, "prefix body lines with line numbers")
	pf.StringArrayVarP(&flagCollections, "collection", "c", nil, "restrict to collection (repeatable)")
	pf.StringVar(&flagContext, "context", "", "extra context hint for query expansion")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging to stderr")
}

// openEngine lazily constructs the shared engine for the command run.
func openEngine() (*qmd.Engine, error) {
	if eng != nil {
		return eng, nil
	}
	e, err := qmd.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	eng = e
	return eng, nil
}
