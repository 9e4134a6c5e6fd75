// Package agent implements the category recommendation agents.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raevmood/devicefinder/internal/apperr"
	"github.com/raevmood/devicefinder/internal/catalog"
	"github.com/raevmood/devicefinder/internal/llm"
	"github.com/raevmood/devicefinder/internal/metrics"
	"github.com/raevmood/devicefinder/internal/search"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTopK             = 5
	defaultSearchResults    = 5
	defaultRetrievalTimeout = 10 * time.Second
	defaultSearchTimeout    = 10 * time.Second
)

// Admitter records one outbound model call for a user or rejects it.
type Admitter interface {
	Require(ctx context.Context, userID uint64) error
}

// Retriever answers catalog similarity queries.
type Retriever interface {
	Query(ctx context.Context, q catalog.Query) ([]catalog.Hit, error)
}

// Searcher runs live web searches.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

// Generator produces completions.
type Generator interface {
	Complete(ctx context.Context, prompt llm.Prompt, schema *llm.Schema) (llm.Result, error)
}

// Deps are the collaborators shared by every agent.
type Deps struct {
	Limiter   Admitter
	Retriever Retriever
	Searcher  Searcher
	Generator Generator
}

// Options tunes context gathering.
type Options struct {
	TopK             int
	SearchResults    int
	RetrievalTimeout time.Duration
	SearchTimeout    time.Duration
}

// Agent answers recommendation requests for one category.
type Agent struct {
	category Category
	schema   *llm.Schema
	deps     Deps
	opts     Options
	nowFn    func() time.Time
}

// New constructs the agent for category.
func New(category Category, deps Deps, opts Options) *Agent {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.SearchResults <= 0 {
		opts.SearchResults = defaultSearchResults
	}
	if opts.RetrievalTimeout <= 0 {
		opts.RetrievalTimeout = defaultRetrievalTimeout
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = defaultSearchTimeout
	}
	return &Agent{
		category: category,
		schema:   category.Schema(),
		deps:     deps,
		opts:     opts,
		nowFn:    time.Now,
	}
}

// NewAll constructs one agent per configured category, keyed by category.
func NewAll(deps Deps, opts Options) map[string]*Agent {
	out := make(map[string]*Agent, len(Categories))
	for _, category := range Categories {
		out[category.Key] = New(category, deps, opts)
	}
	return out
}

// Category returns the agent's configuration.
func (a *Agent) Category() Category {
	return a.category
}

// Recommend admits the call, gathers catalog and web context concurrently,
// asks the model for a structured answer and returns it ranked.
func (a *Agent) Recommend(ctx context.Context, userID uint64, req Request) (resp *Response, err error) {
	defer func() {
		metrics.AgentRequests.WithLabelValues(a.category.Key, outcome(resp, err)).Inc()
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	if userID == 0 {
		return nil, apperr.ErrUnauthenticated
	}
	if strings.TrimSpace(req.UserBasePrompt) == "" || strings.TrimSpace(req.Location) == "" {
		return nil, apperr.InvalidRequest("user_base_prompt and location are required")
	}
	if req.Budget != nil && *req.Budget < 0 {
		return nil, apperr.InvalidRequest("budget must not be negative")
	}
	if a.deps.Generator == nil {
		return nil, &llm.GenerationError{Primary: errors.New("no generator configured")}
	}

	if a.deps.Limiter != nil {
		if errAdmit := a.deps.Limiter.Require(ctx, userID); errAdmit != nil {
			return nil, errAdmit
		}
	}

	var (
		hits     []catalog.Hit
		results  []search.Result
		degraded bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if a.deps.Retriever == nil {
			return nil
		}
		rctx, cancel := context.WithTimeout(gctx, a.opts.RetrievalTimeout)
		defer cancel()
		var errQuery error
		hits, errQuery = a.deps.Retriever.Query(rctx, a.retrievalQuery(req))
		if errQuery != nil {
			return fmt.Errorf("%w: catalog query: %v", apperr.ErrUpstreamUnavailable, errQuery)
		}
		return nil
	})
	g.Go(func() error {
		if a.deps.Searcher == nil {
			degraded = true
			return nil
		}
		sctx, cancel := context.WithTimeout(gctx, a.opts.SearchTimeout)
		defer cancel()
		var errSearch error
		results, errSearch = a.deps.Searcher.Search(sctx, a.searchQuery(req))
		if errSearch != nil {
			log.WithError(errSearch).WithField("category", a.category.Key).Warn("agent: live search failed, continuing with catalog only")
			results = nil
			degraded = true
		}
		return nil
	})
	if errWait := g.Wait(); errWait != nil {
		return nil, errWait
	}

	now := a.nowFn().UTC()
	result, errComplete := a.deps.Generator.Complete(ctx, a.buildPrompt(req, hits, results, now), a.schema)
	if errComplete != nil {
		return nil, errComplete
	}

	resp = decode(a.category, result.JSON)
	resp.Degraded = degraded
	resp.Sources = Sources{Catalog: len(hits), Web: len(results)}
	resp.Backend = result.Backend
	resp.GeneratedAt = now
	return resp, nil
}

func (a *Agent) retrievalQuery(req Request) catalog.Query {
	parts := append([]string{a.category.Label}, req.filterTerms()...)
	parts = append(parts, req.UserBasePrompt)
	q := catalog.Query{
		Text:     strings.Join(parts, " "),
		Category: a.category.Key,
		Location: req.Location,
		K:        a.opts.TopK,
	}
	if req.Budget != nil {
		q.PriceMax = *req.Budget
	}
	return q
}

func (a *Agent) searchQuery(req Request) search.Query {
	parts := append([]string{a.category.Label}, req.filterTerms()...)
	if phrase := req.budgetPhrase(); phrase != "" {
		parts = append(parts, phrase)
	}
	parts = append(parts, "buy", "price")
	return search.Query{
		Text:     strings.Join(parts, " "),
		Location: req.Location,
		Num:      a.opts.SearchResults,
	}
}

func (a *Agent) buildPrompt(req Request, hits []catalog.Hit, results []search.Result, now time.Time) llm.Prompt {
	var sb strings.Builder
	sb.WriteString("User request:\n")
	sb.WriteString(req.promptJSON())
	sb.WriteString("\n\nCatalog candidates:\n")
	if len(hits) == 0 {
		sb.WriteString("None found.\n")
	}
	for i, hit := range hits {
		d := hit.Device
		fmt.Fprintf(&sb, "%d. %s", i+1, d.Name)
		if d.Brand != "" {
			fmt.Fprintf(&sb, " | brand: %s", d.Brand)
		}
		if d.Price > 0 {
			fmt.Fprintf(&sb, " | price: %.0f", d.Price)
		}
		if d.Vendor != "" {
			fmt.Fprintf(&sb, " | vendor: %s", d.Vendor)
		}
		if d.URL != "" {
			fmt.Fprintf(&sb, " | url: %s", d.URL)
		}
		if len(d.Specs) > 0 && string(d.Specs) != "null" {
			fmt.Fprintf(&sb, " | specs: %s", d.Specs)
		}
		if d.Snippet != "" {
			fmt.Fprintf(&sb, "\n   %s", d.Snippet)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nWeb results:\n")
	sb.WriteString(search.FormatResults(results))
	fmt.Fprintf(&sb, "\nCurrent timestamp: %s\n", now.Format(time.RFC3339))
	sb.WriteString("Return only valid JSON.")

	return llm.Prompt{
		System:   a.category.Prompt + "\n\nRespond with one JSON object shaped like:\n" + a.schema.Describe(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
	}
}

func outcome(resp *Response, err error) string {
	switch {
	case err == nil && resp != nil && resp.Degraded:
		return "degraded"
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperr.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, apperr.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, apperr.ErrGenerationFailed):
		return "generation_failed"
	default:
		return "error"
	}
}
