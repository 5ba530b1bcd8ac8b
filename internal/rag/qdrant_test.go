package rag

import (
	"context"
	"net"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// fakePoints serves exact queries but orders tied scores by descending id,
// the opposite of the index contract.
type fakePoints struct {
	qdrant.UnimplementedPointsServer
	scores map[uint64]float32

	mu     sync.Mutex
	limits []uint64
}

func (f *fakePoints) ranked() []uint64 {
	out := make([]uint64, 0, len(f.scores))
	for id := range f.scores {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.scores[out[i]] != f.scores[out[j]] {
			return f.scores[out[i]] > f.scores[out[j]]
		}
		return out[i] > out[j]
	})
	return out
}

func (f *fakePoints) Query(_ context.Context, req *qdrant.QueryPoints) (*qdrant.QueryResponse, error) {
	f.mu.Lock()
	f.limits = append(f.limits, req.GetLimit())
	f.mu.Unlock()
	resp := &qdrant.QueryResponse{}
	for _, id := range f.ranked() {
		if uint64(len(resp.Result)) == req.GetLimit() {
			break
		}
		resp.Result = append(resp.Result, &qdrant.ScoredPoint{Id: qdrant.NewIDNum(id), Score: f.scores[id]})
	}
	return resp, nil
}

func (f *fakePoints) Scroll(_ context.Context, req *qdrant.ScrollPoints) (*qdrant.ScrollResponse, error) {
	all := make([]uint64, 0, len(f.scores))
	for id := range f.scores {
		all = append(all, id)
	}
	slices.Sort(all)
	resp := &qdrant.ScrollResponse{}
	for _, id := range all {
		if uint32(len(resp.Result)) == req.GetLimit() {
			break
		}
		resp.Result = append(resp.Result, &qdrant.RetrievedPoint{Id: qdrant.NewIDNum(id)})
	}
	return resp, nil
}

type fakeCollections struct {
	qdrant.UnimplementedCollectionsServer
}

func (fakeCollections) CollectionExists(context.Context, *qdrant.CollectionExistsRequest) (*qdrant.CollectionExistsResponse, error) {
	return &qdrant.CollectionExistsResponse{Result: &qdrant.CollectionExists{Exists: true}}, nil
}

func newFakeQdrant(t *testing.T, points *fakePoints) *QdrantIndex {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	qdrant.RegisterPointsServer(srv, points)
	qdrant.RegisterCollectionsServer(srv, fakeCollections{})
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Stop)

	idx, err := NewQdrantIndex(&QdrantConfig{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestQdrantIndex_SearchTieBreakAtBoundary(t *testing.T) {
	t.Parallel()
	points := &fakePoints{scores: map[uint64]float32{}}
	for id := uint64(1); id <= 40; id++ {
		points.scores[id] = 0.5
		if id <= 5 {
			points.scores[id] = 0.9
		}
	}
	idx := newFakeQdrant(t, points)

	hits, err := idx.Search(context.Background(), []float32{1, 0}, 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := make([]int64, 20)
	for i := range want {
		want[i] = int64(i + 1)
	}
	if got := ids(hits); !slices.Equal(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	points.mu.Lock()
	defer points.mu.Unlock()
	if !slices.Equal(points.limits, []uint64{36, 72}) {
		t.Errorf("query limits = %v, want [36 72]", points.limits)
	}
}

func TestQdrantIndex_ZeroQueryReturnsLowestIDs(t *testing.T) {
	t.Parallel()
	points := &fakePoints{scores: map[uint64]float32{9: 0.1, 4: 0.2, 7: 0.3, 2: 0.4}}
	idx := newFakeQdrant(t, points)

	hits, err := idx.Search(context.Background(), []float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := ids(hits); !slices.Equal(got, []int64{2, 4, 7}) {
		t.Errorf("ids = %v, want [2 4 7]", got)
	}
	for _, h := range hits {
		if h.Score != 0 {
			t.Errorf("zero query scored %v", h)
		}
	}
	points.mu.Lock()
	defer points.mu.Unlock()
	if len(points.limits) != 0 {
		t.Errorf("zero query reached Query with limits %v", points.limits)
	}
}

func TestTiesComplete(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		hits  []Hit
		k     int
		limit int
		want  bool
	}{
		{"fewer than limit", []Hit{{1, 0.9}, {2, 0.9}}, 1, 4, true},
		{"no more than k", []Hit{{1, 0.9}, {2, 0.9}}, 2, 2, true},
		{"tie runs past the limit", []Hit{{1, 0.9}, {2, 0.5}, {3, 0.5}}, 2, 3, false},
		{"tie ends inside the limit", []Hit{{1, 0.9}, {2, 0.5}, {3, 0.1}}, 2, 3, true},
	}
	for _, tc := range tests {
		if got := tiesComplete(tc.hits, tc.k, tc.limit); got != tc.want {
			t.Errorf("%s: tiesComplete = %v, want %v", tc.name, got, tc.want)
		}
	}
}
