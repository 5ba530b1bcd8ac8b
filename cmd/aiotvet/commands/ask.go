package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/aiotvet-go/internal/llmrouter"
	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/store"
	"github.com/54b3r/aiotvet-go/internal/tracing"
	"github.com/54b3r/aiotvet-go/internal/version"
)

// NewAskCmd constructs the `aiotvet ask` command, which answers a single
// question the way a customer would be answered, without creating a dialog.
func NewAskCmd() *cobra.Command {
	var prompt string

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer one question from the knowledge base",
		Long: `Answer QUESTION with the active provider and knowledge base and print the
reply together with its confidence score and citations. Nothing is stored.

The active provider, model and temperature come from the persisted settings,
so this shows exactly what a customer would receive.

Examples:
  aiotvet ask "Do you ship to Kazakhstan?"
  MODEL_PROVIDER=ollama aiotvet ask "What is the refund window?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			flush := tracing.Install(tracing.ConfigFromEnv(version.Version), log)
			defer flush()

			a, err := openApp(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.close()

			history := []store.Message{{
				Sender:    store.SenderUser,
				Text:      strings.Join(args, " "),
				CreatedAt: time.Now().UTC(),
			}}
			reply, err := a.router.GenerateReply(ctx, history, prompt)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, reply.Text)
			fmt.Fprintf(out, "\nprovider: %s  confidence: %.2f  threshold: %.2f\n",
				reply.ProviderName, reply.Confidence, a.settings.Threshold())
			for _, c := range reply.Citations {
				fmt.Fprintf(out, "  [chunk %d] %s\n", c.ID, snippet(c.Text, 80))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "system", llmrouter.SystemPrompt, "System prompt")
	return cmd
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
