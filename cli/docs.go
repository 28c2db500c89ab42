package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quietmd/qmd/chunker"
)

var lsCmd = &cobra.Command{
	Use:   "ls [collection[/prefix]]",
	Short: "List collections, or files within one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if len(args) == 0 {
			stats, err := e.Store.StatsByCollection(ctx, e.Gateway.EmbedModel())
			if err != nil {
				return err
			}
			for _, st := range stats {
				fmt.Printf("%s\t%d documents\t%d embedded\n", st.Collection, st.Documents, st.Embedded)
			}
			return nil
		}

		collection, prefix, _ := strings.Cut(strings.TrimPrefix(args[0], "qmd://"), "/")
		docs, err := e.Store.ListDocuments(ctx, collection, prefix)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			fmt.Printf("#%s\tqmd://%s/%s\t%s\n", chunker.DocID(doc.Hash), doc.Collection, doc.Path, doc.Title)
		}
		return nil
	},
}

var (
	getFrom  int
	getLines int
)

var getCmd = &cobra.Command{
	Use:   "get <fileref>[:line]",
	Short: "Print one document",
	Long: `Print a document body. The reference may be a filesystem path, a
virtual path (qmd://collection/path or collection/path), or #docid.
An optional :line suffix or --from starts output at that line.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, from := splitLineSuffix(args[0])
		if getFrom > 0 {
			from = getFrom
		}
		e, err := openEngine()
		if err != nil {
			return err
		}
		doc, err := e.GetDoc(cmd.Context(), ref)
		if err != nil {
			return err
		}
		body, first := windowLines(doc.Body, from, getLines)

		if flagJSON {
			doc.Body = body
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}
		printBody(body, first)
		return nil
	},
}

var (
	multiGetLimit    int
	multiGetMaxBytes int64
)

var multiGetCmd = &cobra.Command{
	Use:   "multi-get <pattern>",
	Short: "Print every document matching a glob or comma-separated list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		docs, err := e.MultiGet(cmd.Context(), args[0], multiGetLimit, multiGetMaxBytes)
		if err != nil {
			return err
		}

		items := make([]resultItem, 0, len(docs))
		for _, d := range docs {
			items = append(items, resultItem{
				DocID:   d.DocID,
				File:    d.File,
				Title:   d.Title,
				Context: d.Context,
				Body:    d.Body,
			})
		}
		if flagJSON || flagCSV || flagMD || flagXML || flagFiles {
			return printItems(items)
		}
		for _, d := range docs {
			fmt.Printf("==> %s <==\n", d.File)
			printBody(d.Body, 1)
			fmt.Println()
		}
		return nil
	},
}

// splitLineSuffix separates a trailing ":<line>" from a file reference.
func splitLineSuffix(ref string) (string, int) {
	i := strings.LastIndexByte(ref, ':')
	if i <= 0 {
		return ref, 0
	}
	n, err := strconv.Atoi(ref[i+1:])
	if err != nil || n <= 0 {
		return ref, 0
	}
	return ref[:i], n
}

// windowLines slices the body to the requested line range. Line numbers
// are 1-based; count <= 0 means to the end. The returned int is the
// first line number of the slice.
func windowLines(body string, from, count int) (string, int) {
	if from <= 1 && count <= 0 {
		return body, 1
	}
	lines := strings.Split(strings.TrimSuffix(body, "\n"), "\n")
	if from < 1 {
		from = 1
	}
	if from > len(lines) {
		return "", from
	}
	end := len(lines)
	if count > 0 && from-1+count < end {
		end = from - 1 + count
	}
	return strings.Join(lines[from-1:end], "\n"), from
}

func init() {
	rootCmd.AddCommand(lsCmd, getCmd, multiGetCmd)
	getCmd.Flags().IntVar(&getFrom, "from", 0, "first line to print (1-based)")
	getCmd.Flags().IntVarP(&getLines, "lines", "l", 0, "number of lines to print")
	multiGetCmd.Flags().IntVarP(&multiGetLimit, "limit", "l", 0, "maximum number of documents")
	multiGetCmd.Flags().Int64Var(&multiGetMaxBytes, "max-bytes", 0, "stop before exceeding this many body bytes")
}
