package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raevmood/devicefinder/internal/apperr"
	"github.com/raevmood/devicefinder/internal/catalog"
	"github.com/raevmood/devicefinder/internal/llm"
	"github.com/raevmood/devicefinder/internal/models"
	"github.com/raevmood/devicefinder/internal/search"
)

type fakeLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeLimiter) Require(_ context.Context, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fakeRetriever struct {
	hits  []catalog.Hit
	err   error
	query catalog.Query
}

func (f *fakeRetriever) Query(_ context.Context, q catalog.Query) ([]catalog.Hit, error) {
	f.query = q
	return f.hits, f.err
}

type fakeSearcher struct {
	results []search.Result
	err     error
	query   search.Query
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	f.query = q
	return f.results, f.err
}

type fakeGenerator struct {
	doc    string
	err    error
	calls  int
	prompt llm.Prompt
	schema *llm.Schema
}

func (f *fakeGenerator) Complete(_ context.Context, prompt llm.Prompt, schema *llm.Schema) (llm.Result, error) {
	f.calls++
	f.prompt = prompt
	f.schema = schema
	if f.err != nil {
		return llm.Result{}, f.err
	}
	if schema != nil {
		if err := schema.Validate([]byte(f.doc)); err != nil {
			return llm.Result{}, err
		}
	}
	return llm.Result{Text: f.doc, JSON: []byte(f.doc), Backend: "fake"}, nil
}

func phoneRequest() Request {
	budget := 30000.0
	return Request{
		UserBasePrompt: "good camera phone",
		Location:       "Nairobi",
		Budget:         &budget,
		Filters:        map[string]any{"ram": "8GB", "preferred_brands": []string{"Samsung"}},
	}
}

func newPhoneAgent(deps Deps) *Agent {
	category, _ := Lookup("phone")
	a := New(category, deps, Options{})
	a.nowFn = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

const phoneDoc = `{
	"recommendations": [
		{"rank": 3, "name": "Samsung Galaxy A25", "brand": "Samsung", "price": "KES 28,999", "key_specs": {"ram": "8GB"}, "reasoning": "fits", "confidence": "HIGH"},
		{"rank": 1, "brand": "Nameless"},
		{"rank": 2, "title": "Tecno Camon 30", "price": 24000, "url": "https://shop/camon"}
	],
	"reasoning": "Both fit the budget.",
	"confidence": "medium"
}`

func TestRecommend_HappyPath(t *testing.T) {
	limiter := &fakeLimiter{}
	retriever := &fakeRetriever{hits: []catalog.Hit{{Device: models.Device{Name: "Samsung Galaxy A25", Brand: "Samsung", Price: 28999, URL: "https://shop/a25"}, Score: 0.9}}}
	searcher := &fakeSearcher{results: []search.Result{{Title: "Camon 30 price", Link: "https://shop/camon", Snippet: "KSh 24,000"}}}
	gen := &fakeGenerator{doc: phoneDoc}
	a := newPhoneAgent(Deps{Limiter: limiter, Retriever: retriever, Searcher: searcher, Generator: gen})

	resp, err := a.Recommend(context.Background(), 5, phoneRequest())
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if limiter.calls != 1 || gen.calls != 1 {
		t.Fatalf("expected one admission and one generation, got %d/%d", limiter.calls, gen.calls)
	}
	if len(resp.Recommendations) != 2 {
		t.Fatalf("expected entry without identifier dropped, got %+v", resp.Recommendations)
	}
	first, second := resp.Recommendations[0], resp.Recommendations[1]
	if first.Rank != 1 || second.Rank != 2 || second.Name != "Tecno Camon 30" {
		t.Fatalf("expected re-ranked output, got %+v", resp.Recommendations)
	}
	if first.Price != 28999 || first.Confidence != ConfidenceHigh || first.KeySpecs["ram"] != "8GB" {
		t.Fatalf("unexpected first recommendation: %+v", first)
	}
	if resp.Degraded || resp.Sources.Catalog != 1 || resp.Sources.Web != 1 || resp.Backend != "fake" {
		t.Fatalf("unexpected metadata: %+v", resp)
	}
	if resp.Confidence != ConfidenceMedium || resp.Category != "phone" {
		t.Fatalf("unexpected overall fields: %+v", resp)
	}

	if retriever.query.Category != "phone" || retriever.query.PriceMax != 30000 || retriever.query.K != defaultTopK {
		t.Fatalf("unexpected retrieval query: %+v", retriever.query)
	}
	if !strings.HasPrefix(searcher.query.Text, "smartphone") || !strings.HasSuffix(searcher.query.Text, "under 30000 buy price") {
		t.Fatalf("unexpected search text %q", searcher.query.Text)
	}
	if searcher.query.Location != "Nairobi" {
		t.Fatalf("expected location passed to search")
	}
	content := gen.prompt.Messages[0].Content
	for _, want := range []string{"good camera phone", "1. Samsung Galaxy A25", "https://shop/camon", "2026-03-01T12:00:00Z"} {
		if !strings.Contains(content, want) {
			t.Fatalf("prompt missing %q:\n%s", want, content)
		}
	}
	if gen.schema == nil || gen.schema.Name != "phone" {
		t.Fatalf("expected phone schema")
	}
}

func TestRecommend_NothingFoundIsValid(t *testing.T) {
	category, _ := Lookup("laptop")
	retriever := &fakeRetriever{}
	searcher := &fakeSearcher{}
	gen := &fakeGenerator{doc: `{"recommendations":[]}`}
	a := New(category, Deps{Limiter: &fakeLimiter{}, Retriever: retriever, Searcher: searcher, Generator: gen}, Options{})

	budget := 1000.0
	resp, err := a.Recommend(context.Background(), 9, Request{
		UserBasePrompt: "lightweight laptop for school",
		Location:       "Nairobi",
		Budget:         &budget,
	})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if resp.Recommendations == nil || len(resp.Recommendations) != 0 {
		t.Fatalf("expected an empty recommendation list, got %#v", resp.Recommendations)
	}
	if resp.Confidence != ConfidenceLow || resp.Degraded || resp.Category != "laptop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Sources.Catalog != 0 || resp.Sources.Web != 0 {
		t.Fatalf("expected no sources, got %+v", resp.Sources)
	}
	if retriever.query.PriceMax != 1000 || gen.calls != 1 {
		t.Fatalf("unexpected retrieval query %+v or calls %d", retriever.query, gen.calls)
	}
}

func TestRecommend_SearchFailureDegrades(t *testing.T) {
	gen := &fakeGenerator{doc: phoneDoc}
	a := newPhoneAgent(Deps{
		Limiter:   &fakeLimiter{},
		Retriever: &fakeRetriever{},
		Searcher:  &fakeSearcher{err: errors.New("serper down")},
		Generator: gen,
	})
	resp, err := a.Recommend(context.Background(), 1, phoneRequest())
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if !resp.Degraded || resp.Sources.Web != 0 {
		t.Fatalf("expected degraded response, got %+v", resp)
	}
	if !strings.Contains(gen.prompt.Messages[0].Content, "None found.") {
		t.Fatalf("expected empty catalog section")
	}
}

func TestRecommend_RetrievalFailure(t *testing.T) {
	gen := &fakeGenerator{doc: phoneDoc}
	a := newPhoneAgent(Deps{
		Limiter:   &fakeLimiter{},
		Retriever: &fakeRetriever{err: errors.New("db gone")},
		Searcher:  &fakeSearcher{},
		Generator: gen,
	})
	_, err := a.Recommend(context.Background(), 1, phoneRequest())
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("expected no generation after retrieval failure")
	}
}

func TestRecommend_RateLimitedBeforeAnyWork(t *testing.T) {
	retriever := &fakeRetriever{}
	gen := &fakeGenerator{doc: phoneDoc}
	a := newPhoneAgent(Deps{
		Limiter:   &fakeLimiter{err: apperr.NewRateLimitError(90 * time.Second)},
		Retriever: retriever,
		Generator: gen,
	})
	_, err := a.Recommend(context.Background(), 1, phoneRequest())
	var rl *apperr.RateLimitError
	if !errors.As(err, &rl) || rl.RetrySeconds() != 90 {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if gen.calls != 0 || retriever.query.Text != "" {
		t.Fatalf("expected no retrieval or generation when denied")
	}
}

func TestRecommend_RejectsBadInput(t *testing.T) {
	limiter := &fakeLimiter{}
	a := newPhoneAgent(Deps{Limiter: limiter, Generator: &fakeGenerator{doc: phoneDoc}})
	if _, err := a.Recommend(context.Background(), 0, phoneRequest()); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	req := phoneRequest()
	req.Location = ""
	if _, err := a.Recommend(context.Background(), 1, req); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if limiter.calls != 0 {
		t.Fatalf("expected no admission for rejected input")
	}
}

func TestRecommend_GenerationFailure(t *testing.T) {
	a := newPhoneAgent(Deps{
		Limiter:   &fakeLimiter{},
		Generator: &fakeGenerator{err: &llm.GenerationError{Primary: errors.New("a"), Secondary: errors.New("b")}},
	})
	_, err := a.Recommend(context.Background(), 1, phoneRequest())
	if !errors.Is(err, apperr.ErrGenerationFailed) {
		t.Fatalf("expected generation failure, got %v", err)
	}
}

func TestRecommend_CustomPC(t *testing.T) {
	category, ok := Lookup("custom_pc")
	if !ok {
		t.Fatalf("custom_pc not configured")
	}
	doc := `{"recommendations":[
		{"build_name":"1440p Gaming","components":[
			{"category":"CPU","name":"Ryzen 5 7600","price":32999,"vendor_online":{"store":"Dukatech","url":"https://duka/7600"}},
			{"category":"GPU","name":"RTX 4070","price":"KSh 84,999","vendor":"Phoneplace"}
		],"reasoning":"balanced","confidence":"low"},
		{"components":[]}
	]}`
	a := New(category, Deps{Limiter: &fakeLimiter{}, Generator: &fakeGenerator{doc: doc}}, Options{})
	resp, err := a.Recommend(context.Background(), 1, Request{UserBasePrompt: "gaming pc", Location: "Nairobi"})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(resp.Recommendations) != 1 {
		t.Fatalf("expected unnamed build dropped, got %+v", resp.Recommendations)
	}
	build := resp.Recommendations[0]
	if build.BuildName != "1440p Gaming" || len(build.Components) != 2 {
		t.Fatalf("unexpected build: %+v", build)
	}
	if build.TotalPrice != 32999+84999 {
		t.Fatalf("expected summed total, got %v", build.TotalPrice)
	}
	if build.Components[0].Vendor != "Dukatech" || build.Components[0].URL != "https://duka/7600" {
		t.Fatalf("expected nested vendor fields read, got %+v", build.Components[0])
	}
	if resp.Confidence != ConfidenceLow || !resp.Degraded {
		t.Fatalf("expected low confidence and degraded (no searcher), got %+v", resp)
	}
}

func TestCategories_Routes(t *testing.T) {
	want := map[string]string{
		"phone":       "/find_phone",
		"laptop":      "/find_laptop",
		"tablet":      "/find_tablet",
		"earpiece":    "/find_earpiece",
		"prebuilt_pc": "/find_prebuilt_pc",
		"custom_pc":   "/build_custom_pc",
	}
	if len(Categories) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(Categories))
	}
	for _, category := range Categories {
		if want[category.Key] != category.Route {
			t.Fatalf("unexpected route for %s: %s", category.Key, category.Route)
		}
		if category.Prompt == "" || category.Label == "" {
			t.Fatalf("category %s missing prompt or label", category.Key)
		}
	}
}
