package matcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/errors"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/parser"
)

type fakeRegistry struct {
	mu         sync.Mutex
	byApproval map[string]*domain.DrugRecord
	byName     map[string]*domain.DrugRecord // key: name|enterprise
	fuzzy      map[string][]domain.MatchCandidate
	err        error
	hang       bool
	calls      []string
}

func (f *fakeRegistry) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRegistry) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRegistry) wait(ctx context.Context) error {
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeRegistry) LookupByApprovalNo(ctx context.Context, id string) (*domain.DrugRecord, error) {
	f.record("approval:" + id)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.byApproval[id], nil
}

func (f *fakeRegistry) LookupByNameAndEnterprise(ctx context.Context, name string, enterprise *string) (*domain.DrugRecord, error) {
	f.record("name:" + name + "|" + parser.Value(enterprise))
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.byName[name+"|"+parser.Value(enterprise)], nil
}

func (f *fakeRegistry) LookupFuzzy(ctx context.Context, term string, limit int) ([]domain.MatchCandidate, error) {
	f.record("fuzzy:" + term)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.fuzzy[term], nil
}

func newTestResolver(reg Registry, timeout time.Duration) *Resolver {
	return NewResolver(reg, timeout, logging.NewLoggerTo(io.Discard, "Matcher"))
}

func amoxicillin() *domain.DrugRecord {
	return &domain.DrugRecord{
		ApprovalNo:  "国药准字H20000001",
		GenericName: "阿莫西林胶囊",
		BrandName:   "阿莫仙",
		DosageForm:  "胶囊剂",
		Spec:        "0.25g",
		Enterprise:  "珠海联邦制药股份有限公司",
		OTCType:     "None",
		Indications: "敏感菌所致感染",
		Storage:     "遮光，密封保存",
		Ingredients: []string{"阿莫西林"},
	}
}

func candidates(n int, top float64) []domain.MatchCandidate {
	out := make([]domain.MatchCandidate, n)
	for i := range out {
		out[i] = domain.MatchCandidate{
			DrugRecord: domain.DrugRecord{ApprovalNo: fmt.Sprintf("国药准字H%08d", i), GenericName: fmt.Sprintf("候选%d", i)},
			Score:      top - float64(i),
		}
	}
	return out
}

func TestApprovalNumberMatchUsesRegistryValues(t *testing.T) {
	reg := &fakeRegistry{byApproval: map[string]*domain.DrugRecord{"国药准字H20000001": amoxicillin()}}
	fields := parser.MergedFields{
		ApprovalNo:  parser.String("国药准字 h2000 0001"),
		GenericName: parser.String("阿莫西林胶"),
		OTCType:     parser.String(parser.OTCUnspecified),
		RawText:     "国药准字H20000001\n阿莫西林胶",
	}

	res := newTestResolver(reg, time.Second).Match(context.Background(), fields)

	if !res.Success || res.MatchType != MatchApprovalNo || res.Confidence != 0.98 {
		t.Fatalf("result = %+v", res)
	}
	mi := res.MergedInfo
	if parser.Value(mi.GenericName) != "阿莫西林胶囊" {
		t.Errorf("generic name = %q, want registry value", parser.Value(mi.GenericName))
	}
	if parser.Value(mi.OTCType) != parser.OTCUnspecified {
		t.Errorf("otc type = %q, want OCR fallback for None", parser.Value(mi.OTCType))
	}
	if mi.Source != SourceMerged || mi.RawText != fields.RawText || mi.Storage == "" || len(mi.Ingredients) != 1 {
		t.Errorf("merged info = %+v", mi)
	}
	if len(reg.Calls()) != 1 {
		t.Errorf("calls = %v, want only the approval lookup", reg.Calls())
	}
}

func TestApprovalNumberHasPriority(t *testing.T) {
	rec := amoxicillin()
	reg := &fakeRegistry{
		byApproval: map[string]*domain.DrugRecord{"国药准字H20000001": rec},
		byName:     map[string]*domain.DrugRecord{"阿莫西林胶囊|珠海联邦制药股份有限公司": rec},
		fuzzy:      map[string][]domain.MatchCandidate{"阿莫西林胶囊": {{DrugRecord: *rec, Score: 100}}},
	}
	fields := parser.MergedFields{
		ApprovalNo:  parser.String("国药准字H20000001"),
		GenericName: parser.String("阿莫西林胶囊"),
		Enterprise:  parser.String("珠海联邦制药股份有限公司"),
	}

	res := newTestResolver(reg, time.Second).Match(context.Background(), fields)
	if res.MatchType != MatchApprovalNo {
		t.Errorf("MatchType = %s, want approval_no", res.MatchType)
	}
}

func TestUnknownApprovalNumberFallsThroughToName(t *testing.T) {
	reg := &fakeRegistry{byName: map[string]*domain.DrugRecord{"阿莫西林胶囊|珠海联邦制药股份有限公司": amoxicillin()}}
	fields := parser.MergedFields{
		ApprovalNo:  parser.String("国药准字H99999999"),
		GenericName: parser.String("阿莫西林胶囊"),
		Enterprise:  parser.String("珠海联邦制药股份有限公司"),
	}

	res := newTestResolver(reg, time.Second).Match(context.Background(), fields)
	if !res.Success || res.MatchType != MatchNameEnterprise || res.Confidence != 0.90 {
		t.Fatalf("result = %+v", res)
	}
	want := []string{"approval:国药准字H99999999", "name:阿莫西林胶囊|珠海联邦制药股份有限公司"}
	if !reflect.DeepEqual(reg.Calls(), want) {
		t.Errorf("calls = %v, want %v", reg.Calls(), want)
	}
}

func TestFuzzyStopsAtFirstTermWithCandidates(t *testing.T) {
	reg := &fakeRegistry{fuzzy: map[string][]domain.MatchCandidate{
		"阿莫西林": candidates(3, 65),
		"阿莫仙":  candidates(1, 95),
	}}
	fields := parser.MergedFields{
		GenericName: parser.String("阿莫西林胶囊"),
		BrandName:   parser.String("阿莫仙"),
	}

	res := newTestResolver(reg, time.Second).Match(context.Background(), fields)

	if res.Success || res.MatchType != MatchFuzzy || len(res.Candidates) != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.MergedInfo.Source != SourceOCR {
		t.Errorf("source = %q", res.MergedInfo.Source)
	}
	want := []string{"name:阿莫西林胶囊|", "fuzzy:阿莫西林胶囊", "fuzzy:阿莫西林"}
	if !reflect.DeepEqual(reg.Calls(), want) {
		t.Errorf("calls = %v, want %v", reg.Calls(), want)
	}
}

func TestFuzzyAcceptsHighScoreAndCapsCandidates(t *testing.T) {
	reg := &fakeRegistry{fuzzy: map[string][]domain.MatchCandidate{"布洛芬缓释胶囊": candidates(25, 92)}}
	fields := parser.MergedFields{GenericName: parser.String("布洛芬缓释胶囊")}

	res := newTestResolver(reg, time.Second).Match(context.Background(), fields)

	if !res.Success || res.MatchType != MatchFuzzy {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Candidates) != MaxCandidates {
		t.Errorf("len(Candidates) = %d, want %d", len(res.Candidates), MaxCandidates)
	}
	if res.Confidence != 0.92 || res.MatchedDrug.GenericName != "候选0" {
		t.Errorf("confidence = %v, drug = %+v", res.Confidence, res.MatchedDrug)
	}
	if parser.Value(res.MergedInfo.GenericName) != "候选0" {
		t.Errorf("merged generic = %q", parser.Value(res.MergedInfo.GenericName))
	}
}

func TestLineTextSearchWhenNoNames(t *testing.T) {
	reg := &fakeRegistry{fuzzy: map[string][]domain.MatchCandidate{"板蓝根": candidates(2, 72)}}
	fields := parser.MergedFields{
		AllTexts: []string{"*", "OTC", "【板蓝根】", strings.Repeat("长", 21)},
	}

	res := newTestResolver(reg, time.Second).Match(context.Background(), fields)

	if !res.Success || res.MatchType != MatchFuzzy || res.Confidence != 0.72 {
		t.Fatalf("result = %+v", res)
	}
	want := []string{"fuzzy:OTC", "fuzzy:板蓝根"}
	if !reflect.DeepEqual(reg.Calls(), want) {
		t.Errorf("calls = %v, want %v", reg.Calls(), want)
	}
}

func TestLineTextSearchSkippedWhenNamePresent(t *testing.T) {
	reg := &fakeRegistry{fuzzy: map[string][]domain.MatchCandidate{"板蓝根": candidates(2, 99)}}
	fields := parser.MergedFields{
		BrandName: parser.String("无此药"),
		AllTexts:  []string{"板蓝根"},
	}

	res := newTestResolver(reg, time.Second).Match(context.Background(), fields)
	if res.Success || res.MatchType != MatchNone || len(res.Candidates) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestNoFieldsNoMatch(t *testing.T) {
	res := newTestResolver(&fakeRegistry{}, time.Second).Match(context.Background(), parser.MergedFields{})
	if res.Success || res.MatchType != MatchNone || res.Candidates == nil || res.Error != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryFailuresDegrade(t *testing.T) {
	fields := parser.MergedFields{
		ApprovalNo:  parser.String("国药准字H20000001"),
		GenericName: parser.String("阿莫西林胶囊"),
		Enterprise:  parser.String("珠海联邦制药股份有限公司"),
		RawText:     "raw",
		Confidence:  0.8,
	}
	tests := []struct {
		name string
		reg  *fakeRegistry
		want string
	}{
		{"timeout", &fakeRegistry{hang: true}, "deadline exceeded"},
		{"connection error", &fakeRegistry{err: stderrors.New("dial tcp 10.0.0.5:5432: connection refused")}, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			res := newTestResolver(tt.reg, 20*time.Millisecond).Match(context.Background(), fields)

			if time.Since(start) > time.Second {
				t.Errorf("resolver did not honor the per-call timeout")
			}
			if res.Success || res.MatchType != MatchNone || !strings.Contains(res.Error, tt.want) {
				t.Fatalf("result = %+v", res)
			}
			if !reflect.DeepEqual(res.MergedInfo.MergedFields, fields) || res.MergedInfo.Source != SourceOCR {
				t.Errorf("merged info changed: %+v", res.MergedInfo)
			}
			if len(tt.reg.Calls()) != 1 {
				t.Errorf("calls = %v, want a single attempt", tt.reg.Calls())
			}
		})
	}
}

type stuckRegistry struct{ fakeRegistry }

func (s *stuckRegistry) LookupByApprovalNo(ctx context.Context, id string) (*domain.DrugRecord, error) {
	time.Sleep(200 * time.Millisecond) // ignores ctx
	return nil, nil
}

func TestTimeoutHoldsForContextIgnoringRegistry(t *testing.T) {
	r := newTestResolver(&stuckRegistry{}, 10*time.Millisecond)
	_, err := r.byApprovalNo(context.Background(), "国药准字H20000001")
	if !errors.Is(err, errors.ErrorRegistryUnavailable) {
		t.Fatalf("err = %v, want registry unavailable", err)
	}
}

func TestSearchTerms(t *testing.T) {
	tests := []struct {
		generic, brand string
		want           []string
	}{
		{"阿莫西林胶囊", "阿莫仙", []string{"阿莫西林胶囊", "阿莫西林", "阿莫仙"}},
		{"复方甘草片", "", []string{"复方甘草片", "复方甘草"}},
		{"片", "", []string{"片"}},
		{"", "芬必得", []string{"芬必得"}},
	}
	for _, tt := range tests {
		f := parser.MergedFields{}
		if tt.generic != "" {
			f.GenericName = parser.String(tt.generic)
		}
		if tt.brand != "" {
			f.BrandName = parser.String(tt.brand)
		}
		if got := searchTerms(f); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("searchTerms(%q, %q) = %v, want %v", tt.generic, tt.brand, got, tt.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	if got := cleanText("【布洛芬 缓释-胶囊】(0.3g)"); got != "布洛芬缓释胶囊03g" {
		t.Errorf("cleanText = %q", got)
	}
}
