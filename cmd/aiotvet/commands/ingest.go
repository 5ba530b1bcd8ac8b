package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// NewIngestCmd constructs the `aiotvet ingest` command, which adds local
// files and web pages to the knowledge base.
func NewIngestCmd() *cobra.Command {
	var files []string
	var urls []string
	var tags string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Add files or web pages to the knowledge base",
		Long: `Chunk, embed and index documents into the knowledge base.

Each file or URL becomes one document. The title and source type are
inferred from the file name or URL path; HTML markup is stripped. The
embedding backend is EMBEDDING_PROVIDER (default: the answer provider).

Examples:
  aiotvet ingest --file docs/refund-policy.md
  aiotvet ingest --url https://help.example.com/shipping --tags shipping,faq
  aiotvet ingest --file a.txt --file b.md --url https://example.com/faq.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 && len(urls) == 0 {
				return fmt.Errorf("ingest: at least one --file or --url is required")
			}
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			a, err := openApp(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.close()

			var failed int
			report := func(src string, doc store.Document, chunks []store.Chunk, err error) {
				if err != nil {
					failed++
					log.Error("ingest: failed", slog.String("source", src), slog.Any("error", err))
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "#%d  %-40s  %d chunks  (%s)\n", doc.ID, doc.Title, len(chunks), src)
			}
			for _, f := range files {
				doc, chunks, err := a.pipeline.IngestFile(ctx, f, tags, nil)
				report(f, doc, chunks, err)
			}
			for _, u := range urls {
				doc, chunks, err := a.pipeline.IngestURL(ctx, u, tags, nil)
				report(u, doc, chunks, err)
			}

			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d sources failed", failed, len(files)+len(urls))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Local file to ingest (repeatable)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "URL to fetch and ingest (repeatable)")
	cmd.Flags().StringVar(&tags, "tags", "", "Comma-separated tags stored with each document")

	return cmd
}
