package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/54b3r/aiotvet-go/internal/embedder"
	"github.com/54b3r/aiotvet-go/internal/rag"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// hashEmbedder adapts the deterministic hash embedder to rag.Embedder.
type hashEmbedder struct {
	h     *embedder.HashEmbedder
	calls int
}

func (e *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	return e.h.Embed(ctx, texts, "")
}

// flakyIndex fails Upsert or Delete on demand.
type flakyIndex struct {
	*rag.MemoryIndex
	failUpsert bool
	failDelete bool
}

func (f *flakyIndex) Upsert(ctx context.Context, entries ...rag.Entry) error {
	if f.failUpsert {
		return errors.New("index unavailable")
	}
	return f.MemoryIndex.Upsert(ctx, entries...)
}

func (f *flakyIndex) Delete(ctx context.Context, ids ...int64) error {
	if f.failDelete {
		return errors.New("index unavailable")
	}
	return f.MemoryIndex.Delete(ctx, ids...)
}

type fixture struct {
	store *store.Store
	index *flakyIndex
	emb   *hashEmbedder
	p     *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	f := &fixture{
		store: st,
		index: &flakyIndex{MemoryIndex: rag.NewMemoryIndex()},
		emb:   &hashEmbedder{h: embedder.NewHashEmbedder(32)},
	}
	f.p, err = NewPipeline(st, f.index, f.emb, &Config{ChunkSize: 40})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return f
}

func (f *fixture) indexLen(t *testing.T) int {
	t.Helper()
	n, err := f.index.Len(context.Background())
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	return n
}

const refundPolicy = "Refunds are issued within fourteen days of purchase when the original receipt is presented at any store."

func TestChunkWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{name: "empty", text: "  \n\t", size: 10, want: nil},
		{name: "fits in one", text: "one two  three", size: 20, want: []string{"one two three"}},
		{name: "word boundary", text: "aaa bbb ccc", size: 7, want: []string{"aaa bbb", "ccc"}},
		{name: "exact fit", text: "aaaa bbbb", size: 9, want: []string{"aaaa bbbb"}},
		{name: "long word is split", text: "x abcdefghij y", size: 4, want: []string{"x", "abcd", "efgh", "ij y"}},
		{name: "runes not bytes", text: "привет мир", size: 10, want: []string{"привет мир"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := chunkWords(tc.text, tc.size)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
				t.Errorf("chunkWords(%q, %d) = %q, want %q", tc.text, tc.size, got, tc.want)
			}
		})
	}
}

func TestChunkWords_DefaultSizeBound(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("word ", 400) + strings.Repeat("z", 1200)
	for i, c := range chunkWords(text, 0) {
		if n := utf8.RuneCountInString(c); n > DefaultChunkSize {
			t.Errorf("chunk %d has %d chars", i, n)
		}
	}
}

func TestIngestText_StoresAndIndexes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	op := int64(7)
	doc, chunks, err := f.p.IngestText(ctx, Input{Title: " Refunds ", Tags: "billing", Text: refundPolicy, OperatorID: &op})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if doc.ID == 0 || doc.Title != "Refunds" || doc.SourceType != SourceTypeText {
		t.Errorf("unexpected document: %+v", doc)
	}
	if len(chunks) < 2 {
		t.Fatalf("want several chunks at size 40, got %d", len(chunks))
	}
	if f.emb.calls != 1 {
		t.Errorf("chunks should be embedded in one batch, got %d calls", f.emb.calls)
	}
	if got := f.indexLen(t); got != len(chunks) {
		t.Errorf("index has %d entries, want %d", got, len(chunks))
	}

	stored, err := f.store.ListChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	for i, c := range stored {
		if c.Position != i || c.ID != chunks[i].ID {
			t.Errorf("chunk %d: %+v", i, c)
		}
	}

	// The first chunk's own text must rank it first.
	q, _ := f.emb.Embed(ctx, []string{chunks[0].Text})
	hits, err := f.index.Search(ctx, q[0], 1)
	if err != nil || len(hits) != 1 || hits[0].ChunkID != chunks[0].ID {
		t.Errorf("search: %v, %v", hits, err)
	}
}

func TestIngestText_Empty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, _, err := f.p.IngestText(context.Background(), Input{Title: "blank", Text: "   "}); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("want ErrEmptyDocument, got %v", err)
	}
	if f.emb.calls != 0 {
		t.Error("empty documents must not be embedded")
	}
}

func TestIngestText_IndexFailureRollsBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.index.failUpsert = true

	if _, _, err := f.p.IngestText(ctx, Input{Title: "Refunds", Text: refundPolicy}); err == nil {
		t.Fatal("want error when the index rejects the upsert")
	}
	docs, err := f.store.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("document persisted despite index failure: %+v", docs)
	}
	all, _ := f.store.ListAllChunks(ctx)
	if len(all) != 0 {
		t.Errorf("chunks persisted despite index failure: %d", len(all))
	}
}

func TestDeleteDocument_RemovesIndexEntries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	keep, _, err := f.p.IngestText(ctx, Input{Title: "Shipping", Text: "Orders ship in two days."})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	doc, _, err := f.p.IngestText(ctx, Input{Title: "Refunds", Text: refundPolicy})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := f.p.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	remaining, _ := f.store.ListChunks(ctx, keep.ID)
	if got := f.indexLen(t); got != len(remaining) {
		t.Errorf("index has %d entries, want %d", got, len(remaining))
	}
	if _, err := f.store.GetDocument(ctx, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("document still stored: %v", err)
	}
	if err := f.p.DeleteDocument(ctx, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestDeleteDocument_IndexFailureKeepsDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	doc, chunks, err := f.p.IngestText(ctx, Input{Title: "Refunds", Text: refundPolicy})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	f.index.failDelete = true
	if err := f.p.DeleteDocument(ctx, doc.ID); err == nil {
		t.Fatal("want error when the index rejects the delete")
	}
	if _, err := f.store.GetDocument(ctx, doc.ID); err != nil {
		t.Errorf("document lost: %v", err)
	}
	if got := f.indexLen(t); got != len(chunks) {
		t.Errorf("index has %d entries, want %d", got, len(chunks))
	}
}

func TestReindex_ReplacesEntries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	doc, before, err := f.p.IngestText(ctx, Input{Title: "Refunds", Text: refundPolicy})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	n, err := f.p.Reindex(ctx, doc.ID)
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if n != len(before) {
		t.Errorf("reindex produced %d chunks, want %d", n, len(before))
	}
	after, _ := f.store.ListChunks(ctx, doc.ID)
	if got := f.indexLen(t); got != len(after) {
		t.Errorf("index has %d entries, want %d", got, len(after))
	}
	for _, old := range before {
		for _, c := range after {
			if c.ID == old.ID {
				t.Errorf("stale chunk id %d survived reindex", old.ID)
			}
		}
	}

	if _, err := f.p.Reindex(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("reindex missing: want ErrNotFound, got %v", err)
	}
}

func TestReindexAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for _, text := range []string{refundPolicy, "Orders ship in two days.", "Support answers around the clock."} {
		if _, _, err := f.p.IngestText(ctx, Input{Title: "doc", Text: text}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	n, err := f.p.ReindexAll(ctx)
	if err != nil || n != 3 {
		t.Fatalf("ReindexAll = %d, %v", n, err)
	}
	all, _ := f.store.ListAllChunks(ctx)
	if got := f.indexLen(t); got != len(all) {
		t.Errorf("index has %d entries, store has %d chunks", got, len(all))
	}
}

func TestIngestURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.UserAgent(), "aiotvet/") {
			http.Error(w, "bad agent", http.StatusForbidden)
			return
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><h1>Refunds</h1><p>` + refundPolicy + `</p></body></html>`))
	}))
	t.Cleanup(srv.Close)

	f := newFixture(t)
	ctx := context.Background()
	doc, chunks, err := f.p.IngestURL(ctx, srv.URL+"/billing/refund-policy", "billing", nil)
	if err != nil {
		t.Fatalf("ingest url: %v", err)
	}
	if doc.Title != "refund policy" || doc.SourceType != "html" || doc.Source != srv.URL+"/billing/refund-policy" {
		t.Errorf("unexpected document: %+v", doc)
	}
	for _, c := range chunks {
		if strings.ContainsAny(c.Text, "<>") {
			t.Errorf("markup leaked into chunk: %q", c.Text)
		}
	}
	if _, _, err := f.p.IngestURL(ctx, srv.URL+"/missing", "", nil); !errors.Is(err, ErrFetch) || !strings.Contains(err.Error(), "404") {
		t.Errorf("want status error, got %v", err)
	}
}

func TestIngestFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "returns.md")
	if err := os.WriteFile(path, []byte("# Returns\n\n"+refundPolicy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := newFixture(t)
	doc, _, err := f.p.IngestFile(context.Background(), path, "", nil)
	if err != nil {
		t.Fatalf("ingest file: %v", err)
	}
	if doc.Title != "returns.md" || doc.SourceType != "md" || doc.Source != path {
		t.Errorf("unexpected document: %+v", doc)
	}
	if _, _, err := f.p.IngestFile(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), "", nil); err == nil {
		t.Error("want error for a missing file")
	}
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := NewPipeline(nil, rag.NewMemoryIndex(), &hashEmbedder{}, nil); err == nil {
		t.Error("nil store accepted")
	}
}
