package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/raevmood/devicefinder/internal/apperr"
)

type fakeBackend struct {
	name   string
	output string
	err    error
	delay  time.Duration
	calls  int
	last   Prompt
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	f.calls++
	f.last = prompt
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.output, f.err
}

var testSchema = &Schema{
	Name: "test",
	Root: Field{Kind: KindObject, Fields: []Field{
		{Name: "items", Kind: KindArray, Required: true, Items: &Field{Kind: KindObject, Fields: []Field{
			{Name: "name", Kind: KindString, Required: true},
		}}},
	}},
}

func TestGateway_PrimaryWins(t *testing.T) {
	primary := &fakeBackend{name: "p", output: `{"items":[{"name":"a"}]}`}
	secondary := &fakeBackend{name: "s", output: `{"items":[{"name":"b"},{"name":"c"}]}`}
	gw := NewGateway(primary, secondary, time.Second)

	res, err := gw.Complete(context.Background(), Prompt{System: "sys"}, testSchema)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Backend != "p" || res.FellBack {
		t.Fatalf("expected primary result, got %+v", res)
	}
	if secondary.calls != 0 {
		t.Fatalf("expected secondary untouched, got %d calls", secondary.calls)
	}
	if !primary.last.JSONMode {
		t.Fatalf("expected schema to force json mode")
	}
}

func TestGateway_FallsBackOnSchemaViolation(t *testing.T) {
	primary := &fakeBackend{name: "p", output: `{"items":[{"title":"missing name"}]}`}
	secondary := &fakeBackend{name: "s", output: "```json\n{\"items\":[{\"name\":\"b\"},]}\n```"}
	gw := NewGateway(primary, secondary, time.Second)

	res, err := gw.Complete(context.Background(), Prompt{}, testSchema)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Backend != "s" || !res.FellBack {
		t.Fatalf("expected secondary result, got %+v", res)
	}
	if string(res.JSON) != `{"items":[{"name":"b"}]}` {
		t.Fatalf("unexpected cleaned json %s", res.JSON)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("expected exactly one call each, got %d/%d", primary.calls, secondary.calls)
	}
}

func TestGateway_FallsBackOnTimeoutAndEmpty(t *testing.T) {
	slow := &fakeBackend{name: "p", output: "late", delay: time.Second}
	secondary := &fakeBackend{name: "s", output: "hello"}
	gw := NewGateway(slow, secondary, 20*time.Millisecond)
	res, err := gw.Complete(context.Background(), Prompt{}, nil)
	if err != nil || res.Text != "hello" {
		t.Fatalf("expected secondary text, got %+v err=%v", res, err)
	}

	empty := &fakeBackend{name: "p", output: "   "}
	gw = NewGateway(empty, secondary, time.Second)
	res, err = gw.Complete(context.Background(), Prompt{}, nil)
	if err != nil || res.Backend != "s" {
		t.Fatalf("expected empty primary output to fall back, got %+v err=%v", res, err)
	}
}

func TestGateway_BothFail(t *testing.T) {
	primary := &fakeBackend{name: "p", err: errors.New("boom")}
	secondary := &fakeBackend{name: "s", output: "no json here"}
	gw := NewGateway(primary, secondary, time.Second)

	_, err := gw.Complete(context.Background(), Prompt{}, testSchema)
	if !errors.Is(err, apperr.ErrGenerationFailed) {
		t.Fatalf("expected generation failed, got %v", err)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %T", err)
	}
	if genErr.LastRaw != "no json here" {
		t.Fatalf("expected last raw output kept, got %q", genErr.LastRaw)
	}
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected secondary cause to unwrap")
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("expected no retries, got %d/%d", primary.calls, secondary.calls)
	}
}

func TestGateway_NoSecondary(t *testing.T) {
	primary := &fakeBackend{name: "p", err: errors.New("down")}
	gw := NewGateway(primary, nil, time.Second)
	_, err := gw.Complete(context.Background(), Prompt{}, nil)
	if !errors.Is(err, apperr.ErrGenerationFailed) || !strings.Contains(err.Error(), "down") {
		t.Fatalf("unexpected error %v", err)
	}
}
