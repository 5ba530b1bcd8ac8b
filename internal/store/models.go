package store

import "time"

// Status is whose action a dialog is waiting on.
type Status string

const (
	// StatusAuto means the automated responder is processing the dialog.
	StatusAuto Status = "AUTO"
	// StatusWaitingOperator means a human operator must act.
	StatusWaitingOperator Status = "WAITING_OPERATOR"
	// StatusWaitingUser means the dialog awaits the end user's next message.
	StatusWaitingUser Status = "WAITING_USER"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAuto, StatusWaitingOperator, StatusWaitingUser:
		return true
	}
	return false
}

// Mode is who controls a dialog.
type Mode string

const (
	// ModeAuto is bot-controlled.
	ModeAuto Mode = "AUTO"
	// ModeHuman is operator-controlled.
	ModeHuman Mode = "HUMAN"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser     Sender = "USER"
	SenderBot      Sender = "BOT"
	SenderOperator Sender = "OPERATOR"
)

// Role is an operator's authorization level. Enforcement lives outside
// this package.
type Role string

const (
	RoleOperator Role = "operator"
	RoleLead     Role = "lead"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOperator || r == RoleLead || r == RoleAdmin
}

// User is an end user who talks to the service.
type User struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Username   string    `json:"username,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
}

// Operator is a human support agent.
type Operator struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Dialog is one ongoing conversation with one end user.
type Dialog struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Status Status `json:"status"`
	Mode   Mode   `json:"mode"`
	// AssignedOperatorID is nil when nobody is assigned.
	AssignedOperatorID *int64    `json:"assigned_operator_id"`
	CreatedAt          time.Time `json:"created_at"`
	// LastMessageAt never decreases; AppendMessage enforces it.
	LastMessageAt time.Time `json:"last_message_at"`
}

// Message is one append-only turn in a dialog.
type Message struct {
	ID       int64  `json:"id"`
	DialogID int64  `json:"dialog_id"`
	Sender   Sender `json:"sender"`
	Text     string `json:"text"`
	// LLMProvider and Confidence are set only for bot messages.
	LLMProvider string    `json:"llm_provider,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is an ingested knowledge source.
type Document struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Tags       string    `json:"tags,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	Source     string    `json:"source,omitempty"`
	Content    string    `json:"-"`
	UpdatedBy  *int64    `json:"updated_by,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chunk is an immutable indexed passage of a Document.
type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	Position   int       `json:"position"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// Event is a persisted notification, kept as an audit trail.
type Event struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Name      string    `json:"name"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
