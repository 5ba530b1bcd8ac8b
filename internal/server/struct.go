package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/aiotvet-go/internal/ingestion"
	"github.com/54b3r/aiotvet-go/internal/intake"
	"github.com/54b3r/aiotvet-go/internal/notify"
	"github.com/54b3r/aiotvet-go/internal/rag"
	"github.com/54b3r/aiotvet-go/internal/settings"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It
	// must cover a full generation round trip on POST /api/dialogs.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	Pingers []Pinger
	// APIKey is the Bearer token required on every /api/* and /ws/* route
	// except health and readiness. Empty disables authentication.
	APIKey string
	// AllowedOrigins is the CORS and websocket origin allow-list.
	AllowedOrigins []string
	// Registry receives the server metrics and is served on /metrics. If
	// nil a private registry is created.
	Registry *prometheus.Registry
	// NotifyMetrics tracks live websocket clients. May be nil.
	NotifyMetrics *notify.Metrics
}

// Intake answers inbound user messages. *intake.Service satisfies it.
type Intake interface {
	HandleInbound(ctx context.Context, in intake.Inbound) (intake.Result, error)
}

// Dialogs is the operator side of the dialog state machine.
// *dialog.Service satisfies it.
type Dialogs interface {
	Get(ctx context.Context, id int64) (store.Dialog, error)
	List(ctx context.Context, status store.Status, limit int) ([]store.Dialog, error)
	Messages(ctx context.Context, dialogID, beforeID int64, limit int) ([]store.Message, error)
	History(ctx context.Context, dialogID int64, n int) ([]store.Message, error)
	HandleOperatorReply(ctx context.Context, dialogID, operatorID int64, text string) (store.Message, store.Dialog, error)
	AssignOperator(ctx context.Context, dialogID, operatorID int64) (store.Dialog, error)
	Takeover(ctx context.Context, dialogID, operatorID int64) (store.Dialog, error)
	HandoffToAuto(ctx context.Context, dialogID int64) (store.Dialog, error)
}

// Directory manages operators and reads the persisted catalogues.
// *store.Store satisfies it.
type Directory interface {
	CreateOperator(ctx context.Context, email string, role store.Role) (store.Operator, error)
	ListOperators(ctx context.Context) ([]store.Operator, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	ListEvents(ctx context.Context, limit int) ([]store.Event, error)
}

// Knowledge ingests and maintains documents. *ingestion.Pipeline satisfies it.
type Knowledge interface {
	IngestText(ctx context.Context, in ingestion.Input) (store.Document, []store.Chunk, error)
	IngestURL(ctx context.Context, rawURL, tags string, operatorID *int64) (store.Document, []store.Chunk, error)
	DeleteDocument(ctx context.Context, id int64) error
	Reindex(ctx context.Context, id int64) (int, error)
	ReindexAll(ctx context.Context) (int, error)
}

// Searcher runs knowledge base queries. *rag.Retriever satisfies it.
type Searcher interface {
	Retrieve(ctx context.Context, query string, k int) ([]rag.Passage, error)
}

// Settings reads and updates runtime settings. *settings.Service satisfies it.
type Settings interface {
	Snapshot() settings.Snapshot
	Update(ctx context.Context, p settings.Patch) (settings.Snapshot, error)
}

// Deps are the application services the handlers call.
type Deps struct {
	Intake    Intake
	Dialogs   Dialogs
	Directory Directory
	Knowledge Knowledge
	Search    Searcher
	Settings  Settings
	Bus       *notify.Bus
}

// Server is the HTTP and websocket front end.
type Server struct {
	deps       Deps
	cfg        *Config
	httpServer *http.Server
	handler    http.Handler
	log        *slog.Logger
	pingers    []Pinger
	metrics    *serverMetrics
	upgrader   websocket.Upgrader

	// streams is cancelled on shutdown so hijacked websocket connections,
	// which http.Server.Shutdown does not track, are closed too.
	streams context.Context
	stop    context.CancelFunc
}

// replyRequest is the JSON body for POST /api/dialogs/{id}/reply.
type replyRequest struct {
	OperatorID int64  `json:"operator_id"`
	Text       string `json:"text"`
}

// operatorRequest is the JSON body for assign and takeover.
type operatorRequest struct {
	OperatorID int64 `json:"operator_id"`
}

// dialogDetail is the JSON response for GET /api/dialogs/{id}.
type dialogDetail struct {
	Dialog   store.Dialog    `json:"dialog"`
	Messages []store.Message `json:"messages"`
}

// createOperatorRequest is the JSON body for POST /api/operators.
type createOperatorRequest struct {
	Email string     `json:"email"`
	Role  store.Role `json:"role"`
}

// documentRequest is the JSON body for POST /api/kb/documents. Either Text
// or URL must be set.
type documentRequest struct {
	Title      string `json:"title"`
	Source     string `json:"source"`
	Tags       string `json:"tags"`
	Text       string `json:"text"`
	URL        string `json:"url"`
	OperatorID *int64 `json:"operator_id"`
}

// documentResponse is returned after ingesting a document.
type documentResponse struct {
	Document store.Document `json:"document"`
	Chunks   int            `json:"chunks"`
}
