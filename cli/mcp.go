package cli

import (
	"github.com/spf13/cobra"

	qmdmcp "github.com/quietmd/qmd/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the index over the Model Context Protocol (stdio)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		return qmdmcp.NewServer(e).Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
