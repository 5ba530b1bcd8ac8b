package rag

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection holding chunk vectors (default: aiotvet_chunks).
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantConfigFromEnv reads QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION,
// QDRANT_API_KEY and QDRANT_TLS.
func QdrantConfigFromEnv() (*QdrantConfig, error) {
	cfg := &QdrantConfig{
		Host:       os.Getenv("QDRANT_HOST"),
		Collection: os.Getenv("QDRANT_COLLECTION"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("qdrant: invalid QDRANT_PORT %q: %w", v, err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("QDRANT_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("qdrant: invalid QDRANT_TLS %q: %w", v, err)
		}
		cfg.UseTLS = b
	}
	return cfg, nil
}

// QdrantIndex implements Index on a Qdrant collection. Point ids are the
// numeric chunk ids; search is exact so ranking matches MemoryIndex.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration.
	cfg *QdrantConfig

	// mu guards ready; the collection is created lazily because its vector
	// size is only known once the first embedding arrives.
	mu    sync.Mutex
	ready bool
}

// NewQdrantIndex connects to Qdrant. The collection is created on the first
// Upsert if it does not exist.
func NewQdrantIndex(cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "aiotvet_chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantIndex{client: client, cfg: cfg}, nil
}

// exists reports whether the collection is present, caching a positive answer.
func (q *QdrantIndex) exists(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return true, nil
	}
	ok, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	q.ready = ok
	return ok, nil
}

// ensureCollection creates the collection with the given vector size.
func (q *QdrantIndex) ensureCollection(ctx context.Context, size int) error {
	if ok, err := q.exists(ctx); err != nil || ok {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(size),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	q.ready = true
	return nil
}

// Upsert writes entries as points keyed by chunk id.
func (q *QdrantIndex) Upsert(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(entries[0].Vector)); err != nil {
		return err
	}
	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(e.ID)),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{"chunk_id": e.ID}),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Delete removes the points for ids.
func (q *QdrantIndex) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if ok, err := q.exists(ctx); err != nil || !ok {
		return err
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(uint64(id)))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// searchSlack is how many points beyond k a query asks for, so that scores
// tied with the k-th hit come back and the id tie-break can be applied.
const searchSlack = 16

// Search runs an exact cosine query and re-applies the id tie-break, which
// Qdrant does not guarantee. The limit doubles until every point tied with
// the k-th hit has been fetched. A zero query scores 0 against everything,
// so it returns the k lowest ids.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	if ok, err := q.exists(ctx); err != nil {
		return nil, err
	} else if !ok {
		return []Hit{}, nil
	}
	if norm(query) == 0 {
		return q.lowestIDs(ctx, k)
	}
	for limit := k + searchSlack; ; limit *= 2 {
		hits, err := q.query(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		if tiesComplete(hits, k, limit) {
			if len(hits) > k {
				hits = hits[:k]
			}
			return hits, nil
		}
	}
}

func (q *QdrantIndex) query(ctx context.Context, query []float32, limit int) ([]Hit, error) {
	n := uint64(limit)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Params:         &qdrant.SearchParams{Exact: qdrant.PtrOf(true)},
		Limit:          &n,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ChunkID: int64(r.GetId().GetNum()), Score: r.GetScore()})
	}
	sortHits(hits)
	return hits, nil
}

// lowestIDs scrolls the first k points; Qdrant scrolls in id order.
func (q *QdrantIndex) lowestIDs(ctx context.Context, k int) ([]Hit, error) {
	n := uint32(k)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.cfg.Collection,
		Limit:          &n,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: scroll failed: %w", err)
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{ChunkID: int64(p.GetId().GetNum())})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// tiesComplete reports whether sorted hits, fetched with limit, contain
// every point scoring the same as the k-th hit.
func tiesComplete(hits []Hit, k, limit int) bool {
	if len(hits) < limit || len(hits) <= k {
		return true
	}
	return hits[len(hits)-1].Score < hits[k-1].Score
}

// Len returns the exact point count.
func (q *QdrantIndex) Len(ctx context.Context) (int, error) {
	if ok, err := q.exists(ctx); err != nil || !ok {
		return 0, err
	}
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// Ping checks the server health endpoint.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Name labels the index in readiness responses.
func (q *QdrantIndex) Name() string { return "qdrant" }

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
