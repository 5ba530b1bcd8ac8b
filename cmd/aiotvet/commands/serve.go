package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/aiotvet-go/internal/dialog"
	"github.com/54b3r/aiotvet-go/internal/intake"
	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/notify"
	"github.com/54b3r/aiotvet-go/internal/server"
	"github.com/54b3r/aiotvet-go/internal/tracing"
	"github.com/54b3r/aiotvet-go/internal/version"
)

// NewServeCmd constructs the `aiotvet serve` command, which starts the HTTP
// API, the operator notification stream and the metrics endpoint.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AiOtvet HTTP API and notification stream",
		Long: `Start the AiOtvet HTTP server.

Customer channels post inbound messages to POST /api/dialogs. Operators use
the dialog, knowledge base and settings endpoints and subscribe to
/ws/notifications for live events. /metrics exposes Prometheus metrics.

Environment:
  AIOTVET_API_KEY       Bearer token for /api/* and /ws/* (unset disables auth)
  WEB_ORIGIN            Comma-separated browser origins allowed by CORS
  DATABASE_DRIVER       sqlite (default) or postgres
  DATABASE_URL          sqlite path or postgres URL
  VECTOR_INDEX          memory (default) or qdrant
  REDIS_URL             Relay events between instances through Redis
  DIALOG_IDLE_TIMEOUT   How long an AUTO dialog is reused (default: 30m)
  HISTORY_DEPTH         Messages fed to the model per reply (default: 20)

Examples:
  aiotvet serve
  aiotvet serve --port 9090
  MODEL_PROVIDER=openai VECTOR_INDEX=qdrant aiotvet serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("version", version.Version))

			flush := tracing.Install(tracing.ConfigFromEnv(version.Version), log)
			defer flush()

			a, err := openApp(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			notifyMetrics := notify.NewMetrics(reg)
			bus := notify.NewBus(notify.WithLogger(log), notify.WithMetrics(notifyMetrics))
			bus.Subscribe(notify.AllEvents, notify.NewRecorder(a.store, bus).Record)

			pingers := []server.Pinger{
				a.store,
				server.NewProviderPinger(a.providers, func() string { return a.settings.Snapshot().LLMProvider }),
			}
			if a.qdrant != nil {
				pingers = append(pingers, a.qdrant)
			}

			if url := os.Getenv("REDIS_URL"); url != "" {
				client, err := notify.NewRedisClient(ctx, url)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				defer func() { _ = client.Close() }()
				relay := notify.NewRedisRelay(client, bus, os.Getenv("REDIS_CHANNEL"), log)
				bus.Subscribe(notify.AllEvents, relay.Publish)
				go func() {
					if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Error("notify: redis relay stopped", slog.Any("error", err))
					}
				}()
				pingers = append(pingers, relay)
				log.Info("notify: redis relay enabled")
			}

			dialogs, err := dialog.New(dialog.Config{
				Store:       a.store,
				Publisher:   bus,
				Threshold:   a.settings,
				IdleTimeout: envDuration("DIALOG_IDLE_TIMEOUT", dialog.DefaultIdleTimeout),
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			in, err := intake.New(intake.Config{
				Dialogs:      dialogs,
				Generator:    a.router,
				HistoryDepth: envInt("HISTORY_DEPTH", intake.DefaultHistoryDepth),
				Metrics:      intake.NewMetrics(reg),
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if host == "" {
				host = envOr("SERVER_HOST", "127.0.0.1")
			}
			if !cmd.Flags().Changed("port") {
				port = envInt("SERVER_PORT", port)
			}

			srv, err := server.New(server.Deps{
				Intake:    in,
				Dialogs:   dialogs,
				Directory: a.store,
				Knowledge: a.pipeline,
				Search:    a.retriever,
				Settings:  a.settings,
				Bus:       bus,
			}, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        pingers,
				APIKey:         os.Getenv("AIOTVET_API_KEY"),
				AllowedOrigins: origins(os.Getenv("WEB_ORIGIN")),
				Registry:       reg,
				NotifyMetrics:  notifyMetrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: SERVER_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (default: SERVER_PORT or 8080)")

	return cmd
}

// origins splits a comma-separated WEB_ORIGIN value.
func origins(v string) []string {
	var out []string
	for o := range strings.SplitSeq(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
