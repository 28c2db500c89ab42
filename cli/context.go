package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quietmd/qmd"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage context annotations attached to results",
	Long: `Contexts are short descriptions attached to search results by virtual
path prefix. "/" is the global context; "name" scopes a collection;
"name/sub/dir" an ancestor prefix; "name/sub/file.md" an exact path.`,
}

var contextAddCmd = &cobra.Command{
	Use:   "add [path] <text>",
	Short: "Attach a context to a path prefix (or globally)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, text := "/", args[0]
		if len(args) == 2 {
			key, text = normalizeContextKey(args[0]), args[1]
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: context text is empty", qmd.ErrUsage)
		}
		e, err := openEngine()
		if err != nil {
			return err
		}
		e.Index.Contexts[key] = text
		if err := e.SaveIndex(); err != nil {
			return err
		}
		fmt.Printf("context set for %s\n", key)
		return nil
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		keys := e.Index.ContextKeys()
		if len(keys) == 0 {
			fmt.Println("no contexts defined")
			return nil
		}
		for _, key := range keys {
			fmt.Printf("%s\t%s\n", key, e.Index.Contexts[key])
		}
		return nil
	},
}

var contextCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that every context key still points at indexed content",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		stale := 0
		for _, key := range e.Index.ContextKeys() {
			if key == "/" {
				fmt.Printf("ok\t%s\n", key)
				continue
			}
			collection, prefix, _ := strings.Cut(key, "/")
			if _, err := e.Index.Collection(collection); err != nil {
				fmt.Printf("stale\t%s\t(no collection %q)\n", key, collection)
				stale++
				continue
			}
			if prefix != "" {
				docs, err := e.Store.ListDocuments(cmd.Context(), collection, prefix)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					fmt.Printf("stale\t%s\t(no indexed files match)\n", key)
					stale++
					continue
				}
			}
			fmt.Printf("ok\t%s\n", key)
		}
		if stale > 0 {
			return fmt.Errorf("%d stale context(s)", stale)
		}
		return nil
	},
}

var contextRmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := normalizeContextKey(args[0])
		e, err := openEngine()
		if err != nil {
			return err
		}
		if _, ok := e.Index.Contexts[key]; !ok {
			return fmt.Errorf("%w: no context for %s", qmd.ErrNotFound, key)
		}
		delete(e.Index.Contexts, key)
		if err := e.SaveIndex(); err != nil {
			return err
		}
		fmt.Printf("removed context for %s\n", key)
		return nil
	},
}

// normalizeContextKey strips the qmd:// scheme and trailing slashes so
// keys match ResolveContext lookups.
func normalizeContextKey(key string) string {
	key = strings.TrimPrefix(key, "qmd://")
	if key == "/" || key == "" {
		return "/"
	}
	return strings.Trim(key, "/")
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextAddCmd, contextListCmd, contextCheckCmd, contextRmCmd)
}
