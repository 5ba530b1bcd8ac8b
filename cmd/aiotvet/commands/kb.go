package commands

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/aiotvet-go/internal/logging"
)

// NewKBCmd constructs the `aiotvet kb` command group for inspecting and
// maintaining the knowledge base.
func NewKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect and maintain the knowledge base",
	}
	cmd.AddCommand(newKBListCmd(), newKBSearchCmd(), newKBDeleteCmd(), newKBReindexCmd())
	return cmd
}

func newKBListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("kb list: %w", err)
			}
			defer a.close()

			docs, err := a.store.ListDocuments(ctx)
			if err != nil {
				return fmt.Errorf("kb list: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tTYPE\tTAGS\tUPDATED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", d.ID, d.Title, d.SourceType, d.Tags, d.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newKBSearchCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Show the chunks retrieved for a query",
		Long: `Embed QUERY and print the nearest knowledge chunks with their scores.
Useful for checking what context a customer question will be answered from.

Examples:
  aiotvet kb search "how long does shipping take"
  aiotvet kb search --k 10 refund`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("kb search: %w", err)
			}
			defer a.close()

			passages, err := a.retriever.Retrieve(ctx, strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("kb search: %w", err)
			}
			if len(passages) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching chunks")
				return nil
			}
			for _, p := range passages {
				fmt.Fprintf(cmd.OutOrStdout(), "[%.3f] doc #%d chunk #%d\n  %s\n\n", p.Score, p.DocumentID, p.ChunkID, p.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 5, "Number of chunks to return")
	return cmd
}

func newKBDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return fmt.Errorf("kb delete: %w", err)
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("kb delete: %w", err)
			}
			defer a.close()

			if err := a.pipeline.DeleteDocument(ctx, id); err != nil {
				return fmt.Errorf("kb delete: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted document #%d\n", id)
			return nil
		},
	}
}

func newKBReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [ID]",
		Short: "Re-chunk and re-embed one document, or all of them",
		Long: `Rebuild chunks and embeddings from the stored document text. Run this
after changing EMBEDDING_PROVIDER, EMBEDDING_MODEL or INGEST_CHUNK_SIZE.

Examples:
  aiotvet kb reindex
  aiotvet kb reindex 42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("kb reindex: %w", err)
			}
			defer a.close()

			if len(args) == 0 {
				n, err := a.pipeline.ReindexAll(ctx)
				if err != nil {
					return fmt.Errorf("kb reindex: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d documents\n", n)
				return nil
			}

			id, err := parseID(args[0])
			if err != nil {
				return fmt.Errorf("kb reindex: %w", err)
			}
			n, err := a.pipeline.Reindex(ctx, id)
			if err != nil {
				return fmt.Errorf("kb reindex: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "document #%d: %d chunks\n", id, n)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
