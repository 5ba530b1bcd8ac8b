package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const dialogColumns = `id, user_id, status, mode, assigned_operator_id, created_at, last_message_at`

// CreateDialog inserts a new AUTO/AUTO dialog for userID.
func (s *Store) CreateDialog(ctx context.Context, userID int64) (Dialog, error) {
	now := time.Now()
	d := Dialog{
		UserID:        userID,
		Status:        StatusAuto,
		Mode:          ModeAuto,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	err := s.db.QueryRowContext(ctx, s.q(`
INSERT INTO dialogs (user_id, status, mode, created_at, last_message_at)
VALUES (?, ?, ?, ?, ?) RETURNING id`),
		userID, string(d.Status), string(d.Mode), now.UnixNano(), now.UnixNano(),
	).Scan(&d.ID)
	if err != nil {
		return Dialog{}, fmt.Errorf("store: create dialog: %w", err)
	}
	return d, nil
}

// GetDialog returns the dialog with the given id.
func (s *Store) GetDialog(ctx context.Context, id int64) (Dialog, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+dialogColumns+` FROM dialogs WHERE id = ?`), id)
	d, err := scanDialog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Dialog{}, fmt.Errorf("store: dialog %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Dialog{}, fmt.Errorf("store: get dialog: %w", err)
	}
	return d, nil
}

// LatestDialogForUser returns the most recently created dialog of userID.
func (s *Store) LatestDialogForUser(ctx context.Context, userID int64) (Dialog, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT `+dialogColumns+` FROM dialogs WHERE user_id = ?
ORDER BY created_at DESC, id DESC LIMIT 1`), userID)
	d, err := scanDialog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Dialog{}, fmt.Errorf("store: dialog for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Dialog{}, fmt.Errorf("store: latest dialog: %w", err)
	}
	return d, nil
}

// ListDialogs returns dialogs ordered by last activity, newest first. An
// empty status lists every dialog.
func (s *Store) ListDialogs(ctx context.Context, status Status, limit int) ([]Dialog, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, s.q(`
SELECT `+dialogColumns+` FROM dialogs ORDER BY last_message_at DESC, id DESC LIMIT ?`), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.q(`
SELECT `+dialogColumns+` FROM dialogs WHERE status = ?
ORDER BY last_message_at DESC, id DESC LIMIT ?`), string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list dialogs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Dialog
	for rows.Next() {
		d, err := scanDialog(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan dialog: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDialog writes status, mode and assignment of d.
func (s *Store) UpdateDialog(ctx context.Context, d Dialog) error {
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE dialogs SET status = ?, mode = ?, assigned_operator_id = ? WHERE id = ?`),
		string(d.Status), string(d.Mode), nullID(d.AssignedOperatorID), d.ID)
	if err != nil {
		return fmt.Errorf("store: update dialog: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: dialog %d: %w", d.ID, ErrNotFound)
	}
	return nil
}

// AppendMessage inserts m and writes d's control state and last activity in
// one transaction. m.CreatedAt is raised to d.LastMessageAt when the clock
// would otherwise go backwards; on success m.ID, m.DialogID and
// d.LastMessageAt are updated in place.
func (s *Store) AppendMessage(ctx context.Context, d *Dialog, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.CreatedAt.Before(d.LastMessageAt) {
		m.CreatedAt = d.LastMessageAt
	}
	m.DialogID = d.ID

	var provider sql.NullString
	if m.LLMProvider != "" {
		provider = sql.NullString{String: m.LLMProvider, Valid: true}
	}
	var conf sql.NullFloat64
	if m.Confidence != nil {
		conf = sql.NullFloat64{Float64: *m.Confidence, Valid: true}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
UPDATE dialogs SET status = ?, mode = ?, assigned_operator_id = ?, last_message_at = ? WHERE id = ?`),
			string(d.Status), string(d.Mode), nullID(d.AssignedOperatorID), m.CreatedAt.UnixNano(), d.ID)
		if err != nil {
			return fmt.Errorf("store: append message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("store: dialog %d: %w", d.ID, ErrNotFound)
		}
		err = tx.QueryRowContext(ctx, s.q(`
INSERT INTO messages (dialog_id, sender, text, llm_provider, confidence, created_at)
VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			d.ID, string(m.Sender), m.Text, provider, conf, m.CreatedAt.UnixNano(),
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("store: append message: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.LastMessageAt = m.CreatedAt
	return nil
}

const messageColumns = `id, dialog_id, sender, text, llm_provider, confidence, created_at`

// ListMessages returns up to limit messages of dialogID, most recent first.
// When beforeID is non-zero only messages strictly older than that message
// are returned; an unknown beforeID yields ErrNotFound.
func (s *Store) ListMessages(ctx context.Context, dialogID, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if beforeID == 0 {
		rows, err = s.db.QueryContext(ctx, s.q(`
SELECT `+messageColumns+` FROM messages WHERE dialog_id = ?
ORDER BY created_at DESC, id DESC LIMIT ?`), dialogID, limit)
	} else {
		var anchor int64
		err = s.db.QueryRowContext(ctx, s.q(`SELECT created_at FROM messages WHERE id = ? AND dialog_id = ?`),
			beforeID, dialogID).Scan(&anchor)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: message %d: %w", beforeID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("store: list messages: %w", err)
		}
		rows, err = s.db.QueryContext(ctx, s.q(`
SELECT `+messageColumns+` FROM messages
WHERE dialog_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
ORDER BY created_at DESC, id DESC LIMIT ?`), dialogID, anchor, anchor, beforeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return collectMessages(rows)
}

// RecentMessages returns the last n messages of dialogID, oldest first.
func (s *Store) RecentMessages(ctx context.Context, dialogID int64, n int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT `+messageColumns+` FROM (
    SELECT `+messageColumns+` FROM messages WHERE dialog_id = ?
    ORDER BY created_at DESC, id DESC LIMIT ?
) recent ORDER BY created_at ASC, id ASC`), dialogID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	var out []Message
	for rows.Next() {
		var (
			m        Message
			sender   string
			provider sql.NullString
			conf     sql.NullFloat64
			created  int64
		)
		if err := rows.Scan(&m.ID, &m.DialogID, &sender, &m.Text, &provider, &conf, &created); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Sender = Sender(sender)
		m.LLMProvider = provider.String
		if conf.Valid {
			v := conf.Float64
			m.Confidence = &v
		}
		m.CreatedAt = time.Unix(0, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanDialog(r rowScanner) (Dialog, error) {
	var (
		d              Dialog
		status, mode   string
		op             sql.NullInt64
		created, lastM int64
	)
	if err := r.Scan(&d.ID, &d.UserID, &status, &mode, &op, &created, &lastM); err != nil {
		return Dialog{}, err
	}
	d.Status = Status(status)
	d.Mode = Mode(mode)
	d.AssignedOperatorID = idPtr(op)
	d.CreatedAt = time.Unix(0, created)
	d.LastMessageAt = time.Unix(0, lastM)
	return d, nil
}
