package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewLoggerTo(io.Discard, "Registry")
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"布洛芬缓释胶囊", "布洛芬"},
		{"布洛芬缓释胶囊(芬必得)", "布洛芬"},
		{"布洛芬胶囊", "布洛芬"},
		{"阿莫西林（0.25g）胶囊", "阿莫西林"},
		{"  板蓝根颗粒 ", "板蓝根"},
		{"复方丹参滴丸", "复方丹参"},
		{"芬必得", "芬必得"},
		{"片", ""},
		{"(仅括号)", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeName(tt.in); got != tt.want {
			t.Errorf("normalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.2, 0},
		{0, 0},
		{0.98, 0.98},
		{0.123456, 0.1235},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		if got := sanitizeConfidence(tt.in); got != tt.want {
			t.Errorf("sanitizeConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return b, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.lastTTL = ttl
	return nil
}

type fakeRecords struct {
	byApproval map[string]*domain.DrugRecord
	byName     map[string]*domain.DrugRecord
	fuzzy      map[string][]domain.MatchCandidate
	err        error
	calls      int
}

func (f *fakeRecords) LookupByApprovalNo(ctx context.Context, id string) (*domain.DrugRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byApproval[id], nil
}

func (f *fakeRecords) LookupByNameAndEnterprise(ctx context.Context, name string, enterprise *string) (*domain.DrugRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if enterprise == nil {
		return nil, nil
	}
	return f.byName[name+"|"+*enterprise], nil
}

func (f *fakeRecords) LookupFuzzy(ctx context.Context, term string, limit int) ([]domain.MatchCandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.fuzzy[term], nil
}

func TestCachedRegistryReadThrough(t *testing.T) {
	rec := &domain.DrugRecord{ApprovalNo: "国药准字H10900089", GenericName: "布洛芬缓释胶囊"}
	next := &fakeRecords{byApproval: map[string]*domain.DrugRecord{rec.ApprovalNo: rec}}
	store := newMemStore()
	c := newCachedRegistry(next, store, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.LookupByApprovalNo(ctx, rec.ApprovalNo)
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if got == nil || got.GenericName != rec.GenericName {
			t.Fatalf("lookup %d = %+v", i, got)
		}
	}
	if next.calls != 1 {
		t.Errorf("backing store called %d times, want 1", next.calls)
	}
	if store.lastTTL != time.Minute {
		t.Errorf("ttl = %v", store.lastTTL)
	}
}

func TestCachedRegistryCachesMisses(t *testing.T) {
	next := &fakeRecords{}
	c := newCachedRegistry(next, newMemStore(), 0)
	ent := "华北制药有限公司"

	for i := 0; i < 2; i++ {
		got, err := c.LookupByNameAndEnterprise(context.Background(), "阿莫西林", &ent)
		if err != nil || got != nil {
			t.Fatalf("lookup %d = %+v, %v", i, got, err)
		}
	}
	if next.calls != 1 {
		t.Errorf("backing store called %d times, want 1", next.calls)
	}
	if c.ttl != 10*time.Minute {
		t.Errorf("default ttl = %v", c.ttl)
	}
}

func TestCachedRegistryKeysSeparateEnterprises(t *testing.T) {
	a, b := "甲药业", "乙药业"
	next := &fakeRecords{byName: map[string]*domain.DrugRecord{
		"维C|" + a: {ApprovalNo: "A"},
		"维C|" + b: {ApprovalNo: "B"},
	}}
	c := newCachedRegistry(next, newMemStore(), time.Minute)

	ra, _ := c.LookupByNameAndEnterprise(context.Background(), "维C", &a)
	rb, _ := c.LookupByNameAndEnterprise(context.Background(), "维C", &b)
	if ra == nil || rb == nil || ra.ApprovalNo != "A" || rb.ApprovalNo != "B" {
		t.Fatalf("got %+v, %+v", ra, rb)
	}
}

func TestCachedRegistryBypassesBrokenCache(t *testing.T) {
	rec := &domain.DrugRecord{ApprovalNo: "X"}
	next := &fakeRecords{byApproval: map[string]*domain.DrugRecord{"X": rec}}
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	store.setErr = errors.New("connection refused")
	c := newCachedRegistry(next, store, time.Minute)

	got, err := c.LookupByApprovalNo(context.Background(), "X")
	if err != nil || got == nil {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestCachedRegistryPropagatesBackendErrors(t *testing.T) {
	next := &fakeRecords{err: errors.New("db down")}
	store := newMemStore()
	c := newCachedRegistry(next, store, time.Minute)

	if _, err := c.LookupByApprovalNo(context.Background(), "X"); err == nil {
		t.Fatal("expected error")
	}
	if len(store.data) != 0 {
		t.Errorf("error result was cached: %v", store.data)
	}
}

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, VectorDimensions), nil
}

func (f fakeEmbedder) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, VectorDimensions)
	}
	return out, nil
}

type fakeIndex struct {
	hits     []NameHit
	upserted []NamePoint
	err      error
}

func (f *fakeIndex) UpsertNames(ctx context.Context, points []NamePoint) error {
	f.upserted = append(f.upserted, points...)
	return f.err
}

func (f *fakeIndex) SearchNames(ctx context.Context, v []float32, limit int) ([]NameHit, error) {
	return f.hits, f.err
}

func TestSemanticSearchScoresBelowAcceptance(t *testing.T) {
	records := &fakeRecords{byApproval: map[string]*domain.DrugRecord{
		"A": {ApprovalNo: "A", GenericName: "布洛芬"},
		"B": {ApprovalNo: "B", GenericName: "对乙酰氨基酚"},
	}}
	index := &fakeIndex{hits: []NameHit{
		{ApprovalNo: "A", Name: "布洛芬", Similarity: 0.95},
		{ApprovalNo: "A", Name: "芬必得", Similarity: 0.90},
		{ApprovalNo: "gone", Name: "x", Similarity: 0.85},
		{ApprovalNo: "B", Name: "对乙酰氨基酚", Similarity: 1.2},
	}}
	s := NewSemanticIndex(fakeEmbedder{}, index, records)

	got, err := s.Search(context.Background(), "布络芬", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].ApprovalNo != "A" || got[0].Score != 57 {
		t.Errorf("first = %s %v", got[0].ApprovalNo, got[0].Score)
	}
	if got[1].Score != SemanticScoreScale {
		t.Errorf("similarity above 1 scored %v", got[1].Score)
	}
	for _, c := range got {
		if c.Score >= 70 {
			t.Errorf("semantic score %v reaches an acceptance threshold", c.Score)
		}
	}
}

func TestSemanticIndexNames(t *testing.T) {
	index := &fakeIndex{}
	s := NewSemanticIndex(fakeEmbedder{}, index, &fakeRecords{})

	n, err := s.Index(context.Background(), []domain.DrugRecord{
		{ApprovalNo: "A", GenericName: "布洛芬缓释胶囊", BrandName: "芬必得"},
		{ApprovalNo: "B", GenericName: "维生素C片", BrandName: "维生素C片"},
		{ApprovalNo: "C", GenericName: "板蓝根颗粒", BrandName: "None"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 || len(index.upserted) != 4 {
		t.Fatalf("indexed %d (%d upserted), want 4", n, len(index.upserted))
	}
	for _, p := range index.upserted {
		if len(p.Vector) != VectorDimensions {
			t.Errorf("%s has %d dims", p.Name, len(p.Vector))
		}
	}
}

func TestNamePointIDStable(t *testing.T) {
	a := namePointID("A", "布洛芬")
	if a != namePointID("A", "布洛芬") {
		t.Error("point id not deterministic")
	}
	if a == namePointID("A", "芬必得") || a == namePointID("B", "布洛芬") {
		t.Error("point ids collide")
	}
}

func TestRegistryFuzzyFallsBackToSemantic(t *testing.T) {
	sqlHit := []domain.MatchCandidate{{DrugRecord: domain.DrugRecord{ApprovalNo: "SQL"}, Score: 80}}
	records := &fakeRecords{
		byApproval: map[string]*domain.DrugRecord{"SEM": {ApprovalNo: "SEM"}},
		fuzzy:      map[string][]domain.MatchCandidate{"布洛芬": sqlHit},
	}
	index := &fakeIndex{hits: []NameHit{{ApprovalNo: "SEM", Similarity: 0.5}}}
	r := &Registry{exact: records, fuzzy: records, semantic: NewSemanticIndex(fakeEmbedder{}, index, records)}
	ctx := context.Background()

	got, err := r.LookupFuzzy(ctx, "布洛芬", 20)
	if err != nil || len(got) != 1 || got[0].ApprovalNo != "SQL" {
		t.Fatalf("sql path = %+v, %v", got, err)
	}

	got, err = r.LookupFuzzy(ctx, "布络芬", 20)
	if err != nil || len(got) != 1 || got[0].ApprovalNo != "SEM" || got[0].Score != 30 {
		t.Fatalf("semantic path = %+v, %v", got, err)
	}
}

func TestRegistryFuzzyErrors(t *testing.T) {
	records := &fakeRecords{err: errors.New("db down")}
	r := &Registry{exact: records, fuzzy: records}
	if _, err := r.LookupFuzzy(context.Background(), "x", 20); err == nil {
		t.Error("sql error swallowed")
	}

	ok := &fakeRecords{}
	r = &Registry{
		exact:    ok,
		fuzzy:    ok,
		semantic: NewSemanticIndex(fakeEmbedder{err: errors.New("quota")}, &fakeIndex{}, ok),
		logger:   quietLogger(),
	}
	got, err := r.LookupFuzzy(context.Background(), "x", 20)
	if err != nil || len(got) != 0 {
		t.Errorf("semantic failure = %+v, %v; want empty, nil", got, err)
	}
}

func TestRegistryFuzzyReportsDeadlineDuringFallback(t *testing.T) {
	ok := &fakeRecords{}
	r := &Registry{
		exact:    ok,
		fuzzy:    ok,
		semantic: NewSemanticIndex(fakeEmbedder{err: errors.New("embedding request cancelled")}, &fakeIndex{}, ok),
		logger:   quietLogger(),
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	got, err := r.LookupFuzzy(ctx, "布络芬", 20)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if got != nil {
		t.Errorf("candidates = %+v, want none", got)
	}
}
