package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietmd/qmd/retrieval"
)

func searchOptions() retrieval.Options {
	return retrieval.Options{
		Limit:       flagNum,
		MinScore:    flagMinScore,
		All:         flagAll,
		Collections: flagCollections,
		Context:     flagContext,
	}
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search (BM25 only)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		results, err := e.Retrieval().SearchBM25(cmd.Context(), strings.Join(args, " "), searchOptions())
		if err != nil {
			return err
		}
		return printItems(buildItems(cmd.Context(), e, results, flagFull))
	},
}

var vsearchMinScore float64

var vsearchCmd = &cobra.Command{
	Use:   "vsearch <query>",
	Short: "Vector similarity search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		opts := searchOptions()
		opts.MinScore = vsearchMinScore
		results, err := e.Retrieval().SearchVector(cmd.Context(), strings.Join(args, " "), opts)
		if err != nil {
			return err
		}
		return printItems(buildItems(cmd.Context(), e, results, flagFull))
	},
}

var (
	queryProfile bool
	queryTimeout time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query <query>",
	Short: "Full hybrid pipeline: expansion, fusion, rerank",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if queryTimeout > 0 {
			cfg.Timeout = queryTimeout
		}
		e, err := openEngine()
		if err != nil {
			return err
		}

		start := time.Now()
		results, err := e.Retrieval().Query(cmd.Context(), strings.Join(args, " "), searchOptions())
		if err != nil {
			return err
		}
		if queryProfile {
			fmt.Fprintf(cmd.ErrOrStderr(), "query took %s, %d result(s)\n",
				time.Since(start).Round(time.Millisecond), len(results))
		}
		return printItems(buildItems(cmd.Context(), e, results, flagFull))
	},
}

func init() {
	rootCmd.AddCommand(searchCmd, vsearchCmd, queryCmd)
	vsearchCmd.Flags().Float64Var(&vsearchMinScore, "min-score", retrieval.DefaultVectorMinScore, "minimum similarity score")
	queryCmd.Flags().BoolVar(&queryProfile, "profile", false, "print pipeline timing to stderr")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "per-request timeout override")
}
