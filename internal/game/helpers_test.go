package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubGenerator struct {
	mu        sync.Mutex
	calls     int
	err       error
	delay     time.Duration
	questions []Question
}

func (g *stubGenerator) GenerateQuestions(ctx context.Context, region string, count int) ([]Question, error) {
	g.mu.Lock()
	g.calls++
	delay, err, qs := g.delay, g.err, g.questions
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if qs != nil {
		return qs, nil
	}
	out := make([]Question, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Question{
			Text:               fmt.Sprintf("%s question %d", region, i),
			Options:            [4]string{"a", "b", "c", "d"},
			CorrectAnswerIndex: i % 4,
			Region:             region,
			TimeoutSeconds:     10,
		})
	}
	return out, nil
}

type broadcast struct {
	SessionID string
	Event     string
	Payload   any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []broadcast
}

func (n *recordingNotifier) Broadcast(sessionID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, broadcast{SessionID: sessionID, Event: event, Payload: payload})
}

func (n *recordingNotifier) named(event string) []broadcast {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []broadcast
	for _, b := range n.events {
		if b.Event == event {
			out = append(out, b)
		}
	}
	return out
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	if opts.Notifier == nil {
		opts.Notifier = n
	}
	if opts.Generator == nil {
		opts.Generator = &stubGenerator{}
	}
	if opts.QuestionCount == 0 {
		opts.QuestionCount = 3
	}
	r := NewRegistry(opts)
	t.Cleanup(r.Close)
	return r, n
}

// startedSession returns an active session hosted by alice with bob joined.
func startedSession(t *testing.T, r *Registry) *Session {
	t.Helper()
	_, s, err := r.Create("alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.Join("bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := s.Start(context.Background(), "alice", "Udaipur"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}
