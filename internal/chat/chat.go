// Package chat implements the conversational assistant.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raevmood/devicefinder/internal/apperr"
	"github.com/raevmood/devicefinder/internal/catalog"
	"github.com/raevmood/devicefinder/internal/llm"
	"github.com/raevmood/devicefinder/internal/memory"
	"github.com/raevmood/devicefinder/internal/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	defaultTopK             = 5
	defaultRetrievalTimeout = 10 * time.Second
	maxMessageLength        = 4000

	// repeatedLookupReply answers a model that asks for a second lookup.
	repeatedLookupReply = "I couldn't find enough catalog details to answer that. Could you rephrase or narrow down what you're looking for?"
)

const systemPrompt = `You are DeviceFinder's shopping assistant. You help people choose phones,
laptops, tablets, earpieces and desktop PCs that fit their budget and location, explain
specifications in plain language and compare options honestly.

Keep answers short and practical. If you are unsure about a price or availability, say so
rather than guessing. For a full ranked list of options, suggest the dedicated finder
for that device type.`

const toolInstructions = `

You can look up the DeviceFinder catalog once per message. To do so, reply with exactly
{"lookup": "<what to search for>"} and nothing else. You will then receive the matching
catalog entries and must answer the user with them.`

// Admitter records one outbound model call for a user or rejects it.
type Admitter interface {
	Require(ctx context.Context, userID uint64) error
}

// Retriever answers catalog similarity queries.
type Retriever interface {
	Query(ctx context.Context, q catalog.Query) ([]catalog.Hit, error)
}

// Generator produces completions.
type Generator interface {
	Complete(ctx context.Context, prompt llm.Prompt, schema *llm.Schema) (llm.Result, error)
}

// Reply is the outcome of one chat turn.
type Reply struct {
	Reply string `json:"reply"`
	// Grounded is set when catalog results were given to the model.
	Grounded bool   `json:"grounded"`
	Backend  string `json:"backend"`
}

// Deps are the chatbot's collaborators.
type Deps struct {
	Memory    *memory.Memory
	Limiter   Admitter
	Retriever Retriever
	Generator Generator
}

// Options tunes the lookup step.
type Options struct {
	TopK             int
	RetrievalTimeout time.Duration
}

// Bot answers chat messages with per-user memory.
type Bot struct {
	deps Deps
	opts Options
}

// New constructs a Bot.
func New(deps Deps, opts Options) *Bot {
	if deps.Memory == nil {
		deps.Memory = memory.New(nil, memory.DefaultMaxMessages)
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.RetrievalTimeout <= 0 {
		opts.RetrievalTimeout = defaultRetrievalTimeout
	}
	return &Bot{deps: deps, opts: opts}
}

// Chat runs one turn. The stored history only changes when the turn
// succeeds.
func (b *Bot) Chat(ctx context.Context, userID uint64, message string) (reply Reply, err error) {
	defer func() {
		metrics.ChatTurns.WithLabelValues(turnOutcome(reply, err)).Inc()
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	if userID == 0 {
		return Reply{}, apperr.ErrUnauthenticated
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, apperr.InvalidRequest("message is required")
	}
	if len(message) > maxMessageLength {
		return Reply{}, apperr.InvalidRequest(fmt.Sprintf("message must be at most %d characters", maxMessageLength))
	}
	if b.deps.Generator == nil {
		return Reply{}, &llm.GenerationError{Primary: errors.New("no generator configured")}
	}

	err = b.deps.Memory.Session(ctx, userID, func(s *memory.Session) error {
		s.AddUser(message)
		history := toLLM(s.Messages())
		toolEnabled := b.deps.Retriever != nil

		first, errFirst := b.generate(ctx, userID, history, toolEnabled)
		if errFirst != nil {
			return errFirst
		}
		reply = Reply{Reply: first.Text, Backend: first.Backend}

		if query, ok := lookupQuery(first.Text); ok && toolEnabled {
			results, grounded := b.lookup(ctx, userID, query)
			followUp := append(history,
				llm.Message{Role: llm.RoleAssistant, Content: first.Text},
				llm.Message{Role: llm.RoleUser, Content: results},
			)
			second, errSecond := b.generate(ctx, userID, followUp, false)
			if errSecond != nil {
				return errSecond
			}
			reply = Reply{Reply: second.Text, Backend: second.Backend, Grounded: grounded}
			if _, again := lookupQuery(second.Text); again {
				log.WithField("user_id", userID).Warn("chat: ignoring repeated lookup request")
				reply.Reply = repeatedLookupReply
			}
		}

		s.AddAssistant(reply.Reply)
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func (b *Bot) generate(ctx context.Context, userID uint64, messages []llm.Message, toolEnabled bool) (llm.Result, error) {
	if b.deps.Limiter != nil {
		if errAdmit := b.deps.Limiter.Require(ctx, userID); errAdmit != nil {
			return llm.Result{}, errAdmit
		}
	}
	system := systemPrompt
	if toolEnabled {
		system += toolInstructions
	}
	return b.deps.Generator.Complete(ctx, llm.Prompt{System: system, Messages: messages}, nil)
}

// lookup queries the catalog and renders the results for the model. A
// failing catalog is reported to the model instead of failing the turn.
func (b *Bot) lookup(ctx context.Context, userID uint64, query string) (string, bool) {
	lctx, cancel := context.WithTimeout(ctx, b.opts.RetrievalTimeout)
	defer cancel()
	hits, errQuery := b.deps.Retriever.Query(lctx, catalog.Query{Text: query, K: b.opts.TopK})
	if errQuery != nil {
		log.WithError(errQuery).WithField("user_id", userID).Warn("chat: catalog lookup failed")
		return "The catalog is unavailable right now. Answer from general knowledge and say that live catalog data could not be checked. Do not request another lookup.", false
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Catalog results for %q:\n", query)
	if len(hits) == 0 {
		sb.WriteString("No matching devices.\n")
	}
	for i, hit := range hits {
		d := hit.Device
		fmt.Fprintf(&sb, "%d. %s (%s)", i+1, d.Name, d.Category)
		if d.Price > 0 {
			fmt.Fprintf(&sb, ", price %.0f", d.Price)
		}
		if d.Location != "" {
			fmt.Fprintf(&sb, ", %s", d.Location)
		}
		if d.URL != "" {
			fmt.Fprintf(&sb, ", %s", d.URL)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Answer my previous message using these results. Do not request another lookup.")
	return sb.String(), true
}

// History returns the user's retained messages.
func (b *Bot) History(ctx context.Context, userID uint64) ([]memory.Message, error) {
	if userID == 0 {
		return nil, apperr.ErrUnauthenticated
	}
	return b.deps.Memory.History(ctx, userID)
}

// MaxMessages returns how many messages are retained per user.
func (b *Bot) MaxMessages() int {
	return b.deps.Memory.MaxMessages()
}

// ClearHistory forgets the user's conversation. Clearing twice succeeds.
func (b *Bot) ClearHistory(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return apperr.ErrUnauthenticated
	}
	return b.deps.Memory.Clear(ctx, userID)
}

// lookupQuery reports whether text is exactly {"lookup": "<query>"}.
func lookupQuery(text string) (string, bool) {
	candidate := strings.TrimSpace(text)
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSpace(strings.TrimSuffix(candidate, "```"))
	}
	if !strings.HasPrefix(candidate, "{") || !gjson.Valid(candidate) {
		return "", false
	}
	doc := gjson.Parse(candidate)
	members := 0
	doc.ForEach(func(_, _ gjson.Result) bool {
		members++
		return true
	})
	query := doc.Get("lookup")
	if members != 1 || query.Type != gjson.String {
		return "", false
	}
	trimmed := strings.TrimSpace(query.String())
	return trimmed, trimmed != ""
}

func toLLM(messages []memory.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		role := llm.RoleUser
		if msg.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: msg.Content})
	}
	return out
}

func turnOutcome(reply Reply, err error) string {
	switch {
	case err == nil && reply.Grounded:
		return "grounded"
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperr.ErrGenerationFailed):
		return "generation_failed"
	default:
		return "error"
	}
}
