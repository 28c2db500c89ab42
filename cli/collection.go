package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quietmd/qmd"
)

var (
	collectionName   string
	collectionMask   string
	collectionUpdate string
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage indexed collections",
}

var collectionAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a directory as a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		e, err := openEngine()
		if err != nil {
			return err
		}
		col, err := e.Index.AddCollection(qmd.Collection{
			Name:   collectionName,
			Path:   abs,
			Mask:   collectionMask,
			Update: collectionUpdate,
		})
		if err != nil {
			return err
		}
		if err := e.SaveIndex(); err != nil {
			return err
		}
		fmt.Printf("added collection %q (%s, mask %s)\n", col.Name, col.Path, col.GlobMask())
		return nil
	},
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		if len(e.Index.Collections) == 0 {
			fmt.Println("no collections registered")
			return nil
		}
		for _, col := range e.Index.Collections {
			line := fmt.Sprintf("%s\t%s\t%s", col.Name, col.Path, col.GlobMask())
			if col.Update != "" {
				line += "\tupdate: " + col.Update
			}
			fmt.Println(line)
		}
		return nil
	},
}

var collectionRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a collection and purge its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		if err := e.Index.RemoveCollection(args[0]); err != nil {
			return err
		}
		if err := e.Store.PurgeCollection(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := e.SaveIndex(); err != nil {
			return err
		}
		fmt.Printf("removed collection %q\n", args[0])
		return nil
	},
}

var collectionRenameCmd = &cobra.Command{
	Use:   "rename <from> <to>",
	Short: "Rename a collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		if err := e.Index.RenameCollection(args[0], args[1]); err != nil {
			return err
		}
		if err := e.Store.RenameCollection(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		if err := e.SaveIndex(); err != nil {
			return err
		}
		fmt.Printf("renamed %q to %q\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectionCmd)
	collectionCmd.AddCommand(collectionAddCmd, collectionListCmd, collectionRemoveCmd, collectionRenameCmd)
	collectionAddCmd.Flags().StringVar(&collectionName, "name", "", "collection name (default: directory basename)")
	collectionAddCmd.Flags().StringVar(&collectionMask, "mask", "", "glob mask (default \"**/*.md\")")
	collectionAddCmd.Flags().StringVar(&collectionUpdate, "update", "", "shell command run by `qmd update --allow-run`")
}
