// Package ingestion turns knowledge sources into indexed chunks. A source
// (raw text, a URL or a local file) is split into word-bounded chunks,
// embedded in one batch, persisted together with its document, and upserted
// into the vector index inside the same store transaction. Deleting and
// re-indexing keep the store and the index in step the same way.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/rag"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// ErrEmptyDocument is returned when a source yields no text to index.
var ErrEmptyDocument = errors.New("ingestion: document has no text")

// ErrFetch wraps failures to download a URL source.
var ErrFetch = errors.New("ingestion: fetch failed")

// Store is the persistence the pipeline needs. *store.Store satisfies it.
type Store interface {
	CreateDocument(ctx context.Context, doc *store.Document, chunks []store.Chunk, hook store.ChunkHook) error
	DeleteDocument(ctx context.Context, id int64, hook store.DeleteHook) error
	ReplaceChunks(ctx context.Context, docID int64, chunks []store.Chunk, hook store.ReplaceHook) error
	GetDocument(ctx context.Context, id int64) (store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	ListChunks(ctx context.Context, docID int64) ([]store.Chunk, error)
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to DefaultChunkSize if zero.
	ChunkSize int

	// HTTPTimeout bounds each URL fetch. Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// MaxBodyBytes caps how much of a fetched page or file is read.
	// Defaults to 10 MiB if zero.
	MaxBodyBytes int64

	// UserAgent is sent with fetch requests.
	UserAgent string
}

// Input describes one document to ingest.
type Input struct {
	Title      string
	Source     string
	SourceType string
	Tags       string
	Text       string
	// OperatorID records who added the document, if anyone.
	OperatorID *int64
}

// Pipeline orchestrates chunk → embed → persist → index.
type Pipeline struct {
	store      Store
	index      rag.Index
	embedder   rag.Embedder
	cfg        Config
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline. cfg may be nil.
func NewPipeline(st Store, index rag.Index, embedder rag.Embedder, cfg *Config) (*Pipeline, error) {
	if st == nil {
		return nil, errors.New("ingestion: store must not be nil")
	}
	if index == nil {
		return nil, errors.New("ingestion: index must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("ingestion: embedder must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "aiotvet/1.0 (knowledge ingestion)"
	}
	return &Pipeline{
		store:      st,
		index:      index,
		embedder:   embedder,
		cfg:        c,
		httpClient: &http.Client{Timeout: c.HTTPTimeout},
	}, nil
}

// IngestText chunks, embeds and stores in. The returned document carries
// its assigned id; the chunks carry theirs.
func (p *Pipeline) IngestText(ctx context.Context, in Input) (store.Document, []store.Chunk, error) {
	chunks, err := p.embedChunks(ctx, in.Text)
	if err != nil {
		return store.Document{}, nil, err
	}
	doc := store.Document{
		Title:      strings.TrimSpace(in.Title),
		Tags:       in.Tags,
		SourceType: in.SourceType,
		Source:     in.Source,
		Content:    in.Text,
		UpdatedBy:  in.OperatorID,
	}
	if doc.Title == "" {
		doc.Title = "untitled"
	}
	if doc.SourceType == "" {
		doc.SourceType = SourceTypeText
	}

	upserted := false
	err = p.store.CreateDocument(ctx, &doc, chunks, func(ctx context.Context, added []store.Chunk) error {
		if err := p.index.Upsert(ctx, entries(added)...); err != nil {
			return err
		}
		upserted = true
		return nil
	})
	if err != nil {
		if upserted {
			// The index took the entries but the commit failed.
			p.unindex(ctx, chunkIDs(chunks))
		}
		return store.Document{}, nil, fmt.Errorf("ingestion: store %q: %w", doc.Title, err)
	}
	logging.FromContext(ctx).Info("ingestion: document stored",
		"document_id", doc.ID, "title", doc.Title, "chunks", len(chunks))
	return doc, chunks, nil
}

// IngestURL fetches rawURL and ingests its text. HTML markup is stripped.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL, tags string, operatorID *int64) (store.Document, []store.Chunk, error) {
	body, contentType, err := p.fetch(ctx, rawURL)
	if err != nil {
		return store.Document{}, nil, fmt.Errorf("ingestion: fetch %s: %w: %w", rawURL, ErrFetch, err)
	}
	info := InferURL(rawURL)
	if info.SourceType == SourceTypeHTML || strings.Contains(contentType, "html") {
		body = stripHTML(body)
	}
	return p.IngestText(ctx, Input{
		Title:      info.Title,
		Source:     rawURL,
		SourceType: info.SourceType,
		Tags:       tags,
		Text:       body,
		OperatorID: operatorID,
	})
}

// IngestFile reads a local file and ingests it. The file name is the title
// and its extension the source type.
func (p *Pipeline) IngestFile(ctx context.Context, path, tags string, operatorID *int64) (store.Document, []store.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Document{}, nil, fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, p.cfg.MaxBodyBytes))
	if err != nil {
		return store.Document{}, nil, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	info := InferFile(path)
	text := string(data)
	if info.SourceType == "html" || info.SourceType == "htm" {
		text = stripHTML(text)
	}
	return p.IngestText(ctx, Input{
		Title:      info.Title,
		Source:     path,
		SourceType: info.SourceType,
		Tags:       tags,
		Text:       text,
		OperatorID: operatorID,
	})
}

// DeleteDocument removes a document, its chunks and their index entries.
func (p *Pipeline) DeleteDocument(ctx context.Context, id int64) error {
	removed := false
	err := p.store.DeleteDocument(ctx, id, func(ctx context.Context, ids []int64) error {
		if err := p.index.Delete(ctx, ids...); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		if removed {
			// Chunks are still stored; put their entries back.
			p.restore(ctx, id)
		}
		return fmt.Errorf("ingestion: delete document %d: %w", id, err)
	}
	logging.FromContext(ctx).Info("ingestion: document deleted", "document_id", id)
	return nil
}

// Reindex re-chunks and re-embeds one document from its stored content and
// returns the new chunk count. Stale index entries are removed.
func (p *Pipeline) Reindex(ctx context.Context, id int64) (int, error) {
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("ingestion: reindex %d: %w", id, err)
	}
	chunks, err := p.embedChunks(ctx, doc.Content)
	if err != nil {
		return 0, fmt.Errorf("ingestion: reindex %d: %w", id, err)
	}

	swapped := false
	err = p.store.ReplaceChunks(ctx, id, chunks, func(ctx context.Context, old []int64, added []store.Chunk) error {
		if err := p.index.Delete(ctx, old...); err != nil {
			return err
		}
		swapped = true
		return p.index.Upsert(ctx, entries(added)...)
	})
	if err != nil {
		if swapped {
			p.unindex(ctx, chunkIDs(chunks))
			p.restore(ctx, id)
		}
		return 0, fmt.Errorf("ingestion: reindex %d: %w", id, err)
	}
	logging.FromContext(ctx).Info("ingestion: document reindexed", "document_id", id, "chunks", len(chunks))
	return len(chunks), nil
}

// ReindexAll reindexes every document and returns how many were processed.
// It stops at the first failure.
func (p *Pipeline) ReindexAll(ctx context.Context) (int, error) {
	docs, err := p.store.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingestion: reindex all: %w", err)
	}
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := p.Reindex(ctx, d.ID); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

// embedChunks splits text and embeds every chunk in one call.
func (p *Pipeline) embedChunks(ctx context.Context, text string) ([]store.Chunk, error) {
	texts := chunkWords(text, p.cfg.ChunkSize)
	if len(texts) == 0 {
		return nil, ErrEmptyDocument
	}
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ingestion: embed: got %d vectors for %d chunks", len(vecs), len(texts))
	}
	chunks := make([]store.Chunk, len(texts))
	for i := range texts {
		chunks[i] = store.Chunk{Position: i, Text: texts[i], Embedding: vecs[i]}
	}
	return chunks, nil
}

// unindex is best-effort compensation after a failed commit.
func (p *Pipeline) unindex(ctx context.Context, ids []int64) {
	if err := p.index.Delete(context.WithoutCancel(ctx), ids...); err != nil {
		logging.FromContext(ctx).Error("ingestion: index cleanup failed", "chunks", len(ids), "error", err)
	}
}

// restore re-upserts the stored chunks of docID after a failed commit.
func (p *Pipeline) restore(ctx context.Context, docID int64) {
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)
	chunks, err := p.store.ListChunks(ctx, docID)
	if err == nil {
		_, err = rag.LoadIndex(ctx, p.index, chunks)
	}
	if err != nil {
		log.Error("ingestion: index restore failed", "document_id", docID, "error", err)
	}
}

func (p *Pipeline) fetch(ctx context.Context, rawURL string) (body, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		return "", "", fmt.Errorf("reading body: %w", err)
	}
	return string(data), resp.Header.Get("Content-Type"), nil
}

func entries(chunks []store.Chunk) []rag.Entry {
	out := make([]rag.Entry, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, rag.Entry{ID: c.ID, Vector: c.Embedding})
	}
	return out
}

func chunkIDs(chunks []store.Chunk) []int64 {
	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		if c.ID != 0 {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
