package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/raevmood/devicefinder/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const defaultTimeout = 60 * time.Second

// Result is a successful completion.
type Result struct {
	// Text is the trimmed raw output.
	Text string
	// JSON holds the cleaned, schema-checked document in structured mode.
	JSON []byte
	// Backend names the backend that answered.
	Backend string
	// FellBack is set when the secondary answered.
	FellBack bool
}

// Gateway tries the primary backend and falls back to the secondary exactly
// once. It keeps no per-call state and never enforces quotas.
type Gateway struct {
	primary   Backend
	secondary Backend
	timeout   time.Duration
	nowFn     func() time.Time
}

// NewGateway constructs a Gateway; secondary may be nil.
func NewGateway(primary, secondary Backend, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{primary: primary, secondary: secondary, timeout: timeout, nowFn: time.Now}
}

// Complete runs prompt against the backends. With a schema the output must
// contain a JSON object satisfying it; without one any non-empty text wins.
func (g *Gateway) Complete(ctx context.Context, prompt Prompt, schema *Schema) (Result, error) {
	if g == nil || g.primary == nil {
		return Result{}, &GenerationError{Primary: errors.New("no backend configured")}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if schema != nil {
		prompt.JSONMode = true
	}

	result, raw, errPrimary := g.attempt(ctx, g.primary, prompt, schema)
	if errPrimary == nil {
		return result, nil
	}
	genErr := &GenerationError{Primary: errPrimary, LastRaw: raw}
	if g.secondary == nil || ctx.Err() != nil {
		g.logFailure(genErr)
		return Result{}, genErr
	}
	log.WithError(errPrimary).WithField("backend", g.primary.Name()).Warn("llm: primary failed, trying secondary")
	metrics.LLMFallbacks.Inc()

	result, raw, errSecondary := g.attempt(ctx, g.secondary, prompt, schema)
	if errSecondary == nil {
		result.FellBack = true
		return result, nil
	}
	genErr.Secondary = errSecondary
	if raw != "" {
		genErr.LastRaw = raw
	}
	g.logFailure(genErr)
	return Result{}, genErr
}

func (g *Gateway) attempt(ctx context.Context, backend Backend, prompt Prompt, schema *Schema) (Result, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := g.nowFn()
	raw, errComplete := backend.Complete(callCtx, prompt)
	metrics.LLMLatency.WithLabelValues(backend.Name()).Observe(g.nowFn().Sub(started).Seconds())
	if errComplete != nil {
		metrics.LLMAttempts.WithLabelValues(backend.Name(), "error").Inc()
		return Result{}, "", errComplete
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		metrics.LLMAttempts.WithLabelValues(backend.Name(), "empty").Inc()
		return Result{}, raw, ErrEmptyOutput
	}
	result := Result{Text: text, Backend: backend.Name()}
	if schema == nil {
		metrics.LLMAttempts.WithLabelValues(backend.Name(), "ok").Inc()
		return result, text, nil
	}
	doc, errExtract := ExtractJSON(text)
	if errExtract != nil {
		metrics.LLMAttempts.WithLabelValues(backend.Name(), "invalid").Inc()
		return Result{}, text, errExtract
	}
	if errValidate := schema.Validate(doc); errValidate != nil {
		metrics.LLMAttempts.WithLabelValues(backend.Name(), "invalid").Inc()
		return Result{}, text, errValidate
	}
	metrics.LLMAttempts.WithLabelValues(backend.Name(), "ok").Inc()
	result.JSON = doc
	return result, text, nil
}

func (g *Gateway) logFailure(err *GenerationError) {
	raw := err.LastRaw
	if len(raw) > 500 {
		raw = raw[:500]
	}
	log.WithError(err).WithField("last_raw", raw).Error("llm: all backends failed")
}
