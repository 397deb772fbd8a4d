package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	codeLength      = 6
	maxCodeAttempts = 64
	maxUsernameLen  = 32

	DefaultMinPlayers      = 2
	DefaultQuestionCount   = 10
	DefaultGenerateTimeout = 30 * time.Second
	DefaultAnswerGrace     = 2 * time.Second
	defaultQuestionTimeout = 15
)

// QuestionGenerator produces the questions for one game. It may be slow and may fail.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, region string, count int) ([]Question, error)
}

// Notifier delivers a broadcast to every connection bound to a session.
type Notifier interface {
	Broadcast(sessionID, event string, payload any)
}

// Exporter receives the final state of every finished game.
type Exporter interface {
	Export(v View, lb Leaderboard, questions []Question) error
}

type Options struct {
	Generator       QuestionGenerator
	Notifier        Notifier
	Exporter        Exporter
	MinPlayers      int
	QuestionCount   int
	GenerateTimeout time.Duration
	// AnswerGrace is added to a question's timeout before its round closes on its own.
	AnswerGrace time.Duration
	// AutoAdvance dispatches the next question this long after a round closes. Zero disables it.
	AutoAdvance time.Duration
	Now         func() time.Time
}

// Registry owns every live session. Its lock only guards the map; session state is
// guarded by each session's own lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onDelete []func(sessionID string)

	opts  Options
	sched *Scheduler
}

func NewRegistry(opts Options) *Registry {
	if opts.MinPlayers <= 0 {
		opts.MinPlayers = DefaultMinPlayers
	}
	if opts.QuestionCount <= 0 {
		opts.QuestionCount = DefaultQuestionCount
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = DefaultGenerateTimeout
	}
	if opts.AnswerGrace < 0 {
		opts.AnswerGrace = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
		sched:    NewScheduler(),
	}
}

// OnDelete registers fn to run whenever a session leaves the registry.
func (r *Registry) OnDelete(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDelete = append(r.onDelete, fn)
}

// Create registers a new waiting session with hostUsername as its first user.
func (r *Registry) Create(hostUsername string) (string, *Session, error) {
	host, err := normalizeUsername(hostUsername)
	if err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < maxCodeAttempts; i++ {
		code := randomCode(codeLength)
		if r.sessions[code] != nil {
			continue
		}
		s := newSession(r, code, host)
		r.sessions[code] = s
		return code, s, nil
	}
	return "", nil, Errorf(ErrInternal, "unable to allocate a session id after %d attempts", maxCodeAttempts)
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.sessions[strings.ToUpper(strings.TrimSpace(sessionID))]
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete drops a session without notifying its room. Sessions destroy themselves
// through the same path when their host or last user leaves.
func (r *Registry) Delete(sessionID string) {
	s, err := r.Get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return
	}
	s.deleted = true
	r.remove(s.ID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close cancels all pending round timers.
func (r *Registry) Close() {
	r.sched.Stop()
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	hooks := make([]func(string), len(r.onDelete))
	copy(hooks, r.onDelete)
	r.mu.Unlock()

	r.sched.Cancel(sessionID)
	for _, fn := range hooks {
		fn(sessionID)
	}
}

// generate calls the question generator bounded by GenerateTimeout, even when the
// generator itself ignores its context.
func (r *Registry) generate(ctx context.Context, region string) ([]Question, error) {
	if r.opts.Generator == nil {
		return nil, errors.New("no question generator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.GenerateTimeout)
	defer cancel()

	type result struct {
		questions []Question
		err       error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("question generator panic: %v", p)}
			}
		}()
		qs, err := r.opts.Generator.GenerateQuestions(ctx, region, r.opts.QuestionCount)
		ch <- result{questions: qs, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("generate questions: %w", ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("generate questions: %w", res.err)
	}
	if len(res.questions) == 0 {
		return nil, errors.New("generate questions: generator returned no questions")
	}
	out := make([]Question, len(res.questions))
	for i, q := range res.questions {
		if err := ValidateQuestion(q); err != nil {
			return nil, fmt.Errorf("generate questions: question %d: %w", i, err)
		}
		if q.Region == "" {
			q.Region = region
		}
		if q.TimeoutSeconds <= 0 {
			q.TimeoutSeconds = defaultQuestionTimeout
		}
		out[i] = q
	}
	return out, nil
}

func (r *Registry) export(v View, lb Leaderboard, questions []Question) {
	if r.opts.Exporter == nil {
		return
	}
	if err := r.opts.Exporter.Export(v, lb, questions); err != nil {
		log.Error().Err(err).Str("session", v.SessionID).Msg("failed to export game results")
		return
	}
	log.Info().Str("session", v.SessionID).Msg("exported game results")
}

// ValidateQuestion checks the shape of a multiple choice question.
func ValidateQuestion(q Question) error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.New("empty question text")
	}
	for i, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("option %d is empty", i)
		}
	}
	if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Options) {
		return fmt.Errorf("correct answer index %d out of range", q.CorrectAnswerIndex)
	}
	return nil
}

func normalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Errorf(ErrInvalidRequest, "Username is required.")
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		return "", Errorf(ErrInvalidRequest, "Username must be at most %d characters.", maxUsernameLen)
	}
	return name, nil
}

func randomCode(n int) string {
	letters := []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
