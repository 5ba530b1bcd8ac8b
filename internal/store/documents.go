package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChunkHook runs inside the document transaction with the chunks that were
// just written (ids assigned). Returning an error rolls the transaction back.
type ChunkHook func(ctx context.Context, added []Chunk) error

// DeleteHook runs inside the delete transaction with the ids of the chunks
// being removed. Returning an error rolls the transaction back.
type DeleteHook func(ctx context.Context, removed []int64) error

// ReplaceHook runs inside the re-index transaction.
type ReplaceHook func(ctx context.Context, removed []int64, added []Chunk) error

// CreateDocument inserts doc and its chunks, then calls hook before commit.
// doc.ID and each chunk's ID and DocumentID are assigned in place.
func (s *Store) CreateDocument(ctx context.Context, doc *Document, chunks []Chunk, hook ChunkHook) error {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.q(`
INSERT INTO documents (title, tags, source_type, source, content, updated_by, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			doc.Title, doc.Tags, doc.SourceType, doc.Source, doc.Content,
			nullID(doc.UpdatedBy), doc.UpdatedAt.UnixNano(),
		).Scan(&doc.ID)
		if err != nil {
			return fmt.Errorf("store: create document: %w", err)
		}
		if err := s.insertChunks(ctx, tx, doc.ID, chunks); err != nil {
			return err
		}
		if hook != nil {
			if err := hook(ctx, chunks); err != nil {
				return fmt.Errorf("store: create document: hook: %w", err)
			}
		}
		return nil
	})
}

// DeleteDocument removes the document and all of its chunks, calling hook
// with the removed chunk ids before commit.
func (s *Store) DeleteDocument(ctx context.Context, id int64, hook DeleteHook) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := chunkIDs(ctx, tx, s.q(`SELECT id FROM chunks WHERE document_id = ? ORDER BY id`), id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM chunks WHERE document_id = ?`), id); err != nil {
			return fmt.Errorf("store: delete chunks: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM documents WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("store: delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("store: document %d: %w", id, ErrNotFound)
		}
		if hook != nil {
			if err := hook(ctx, ids); err != nil {
				return fmt.Errorf("store: delete document: hook: %w", err)
			}
		}
		return nil
	})
}

// ReplaceChunks swaps every chunk of docID for chunks, calling hook with the
// old ids and the new chunks before commit.
func (s *Store) ReplaceChunks(ctx context.Context, docID int64, chunks []Chunk, hook ReplaceHook) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE documents SET updated_at = ? WHERE id = ?`),
			time.Now().UnixNano(), docID)
		if err != nil {
			return fmt.Errorf("store: replace chunks: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("store: document %d: %w", docID, ErrNotFound)
		}
		old, err := chunkIDs(ctx, tx, s.q(`SELECT id FROM chunks WHERE document_id = ? ORDER BY id`), docID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM chunks WHERE document_id = ?`), docID); err != nil {
			return fmt.Errorf("store: replace chunks: %w", err)
		}
		if err := s.insertChunks(ctx, tx, docID, chunks); err != nil {
			return err
		}
		if hook != nil {
			if err := hook(ctx, old, chunks); err != nil {
				return fmt.Errorf("store: replace chunks: hook: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) insertChunks(ctx context.Context, tx *sql.Tx, docID int64, chunks []Chunk) error {
	for i := range chunks {
		emb, err := json.Marshal(chunks[i].Embedding)
		if err != nil {
			return fmt.Errorf("store: encode embedding: %w", err)
		}
		chunks[i].DocumentID = docID
		err = tx.QueryRowContext(ctx, s.q(`
INSERT INTO chunks (document_id, position, text, embedding) VALUES (?, ?, ?, ?) RETURNING id`),
			docID, chunks[i].Position, chunks[i].Text, string(emb),
		).Scan(&chunks[i].ID)
		if err != nil {
			return fmt.Errorf("store: insert chunk: %w", err)
		}
	}
	return nil
}

func chunkIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: chunk ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const documentColumns = `id, title, tags, source_type, source, content, updated_by, updated_at`

// GetDocument returns the document with the given id.
func (s *Store) GetDocument(ctx context.Context, id int64) (Document, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("store: document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns every document, newest update first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDocument(r rowScanner) (Document, error) {
	var (
		d       Document
		by      sql.NullInt64
		updated int64
	)
	if err := r.Scan(&d.ID, &d.Title, &d.Tags, &d.SourceType, &d.Source, &d.Content, &by, &updated); err != nil {
		return Document{}, err
	}
	d.UpdatedBy = idPtr(by)
	d.UpdatedAt = time.Unix(0, updated)
	return d, nil
}

const chunkColumns = `id, document_id, position, text, embedding`

// GetChunks returns the chunks with the given ids, keyed by id. Missing ids
// are simply absent from the result.
func (s *Store) GetChunks(ctx context.Context, ids []int64) (map[int64]Chunk, error) {
	out := make(map[int64]Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: get chunks: %w", err)
	}
	chunks, err := collectChunks(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		out[c.ID] = c
	}
	return out, nil
}

// ListChunks returns the chunks of one document in position order.
func (s *Store) ListChunks(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY position, id`), docID)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	return collectChunks(rows)
}

// ListAllChunks returns every stored chunk with its embedding.
func (s *Store) ListAllChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list all chunks: %w", err)
	}
	return collectChunks(rows)
}

func collectChunks(rows *sql.Rows) ([]Chunk, error) {
	defer func() { _ = rows.Close() }()
	var out []Chunk
	for rows.Next() {
		var (
			c   Chunk
			emb string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Text, &emb); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(emb), &c.Embedding); err != nil {
			return nil, fmt.Errorf("store: decode embedding of chunk %d: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
