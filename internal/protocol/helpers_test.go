package protocol

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kiliankoe/geotrivia/internal/game"
)

type emitted struct {
	Event   string
	Payload any
}

type fakeSink struct {
	mu     sync.Mutex
	events []emitted
	panics bool
	// onEmit runs before the event is recorded.
	onEmit func(event string)
}

func (s *fakeSink) Emit(event string, v ...interface{}) {
	if s.panics {
		panic("sink exploded")
	}
	if s.onEmit != nil {
		s.onEmit(event)
	}
	var p any
	if len(v) > 0 {
		p = v[0]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emitted{Event: event, Payload: p})
}

func (s *fakeSink) named(event string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, e := range s.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

type fixedGenerator struct{}

func (fixedGenerator) GenerateQuestions(_ context.Context, region string, count int) ([]game.Question, error) {
	out := make([]game.Question, count)
	for i := range out {
		out[i] = game.Question{
			Text:               fmt.Sprintf("question %d", i),
			Options:            [4]string{"a", "b", "c", "d"},
			CorrectAnswerIndex: 1,
			Region:             region,
			TimeoutSeconds:     10,
		}
	}
	return out, nil
}

type callCounter struct {
	mu      sync.Mutex
	calls   map[string]int
	reasons map[string]int
}

func (c *callCounter) ObserveCall(event, reason string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
		c.reasons = map[string]int{}
	}
	c.calls[event]++
	if reason != "" {
		c.reasons[reason]++
	}
}

type harness struct {
	reg   *game.Registry
	conns *Connections
	d     *Dispatcher
	obs   *callCounter
	sinks map[string]*fakeSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conns := NewConnections()
	reg := game.NewRegistry(game.Options{
		Generator:     fixedGenerator{},
		Notifier:      conns,
		QuestionCount: 2,
	})
	t.Cleanup(reg.Close)
	obs := &callCounter{}
	return &harness{
		reg:   reg,
		conns: conns,
		d:     NewDispatcher(reg, conns, obs),
		obs:   obs,
		sinks: map[string]*fakeSink{},
	}
}

func (h *harness) connect(id string) *fakeSink {
	s := &fakeSink{}
	h.sinks[id] = s
	h.conns.Add(id, s)
	return s
}

func (h *harness) call(id string, c Call) Response {
	return h.d.Handle(context.Background(), id, c)
}

// hosted creates a session through connection c1 for alice and joins bob through c2.
func (h *harness) hosted(t *testing.T) string {
	t.Helper()
	h.connect("c1")
	h.connect("c2")
	resp := h.call("c1", CreateSession{Username: "alice"})
	if !resp.Success {
		t.Fatalf("create: %+v", resp.Error)
	}
	id := resp.Data.(SessionReply).Session.SessionID
	if resp := h.call("c2", JoinSession{Username: "bob", SessionID: id}); !resp.Success {
		t.Fatalf("join: %+v", resp.Error)
	}
	return id
}
