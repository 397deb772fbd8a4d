package game

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Session is one game room. Every exported method holds the session lock for its
// whole duration, except Start which releases it while questions are generated.
type Session struct {
	ID           string
	HostUsername string
	CreatedAt    time.Time

	reg *Registry

	mu        sync.Mutex
	users     []*User
	status    Status
	region    string
	questions []Question
	current   int // index of the next question to dispatch
	turn      TurnLock
	answered  map[string]bool // users that answered question current-1
	starting  bool
	deleted   bool
}

func newSession(r *Registry, id, host string) *Session {
	return &Session{
		ID:           id,
		HostUsername: host,
		CreatedAt:    r.opts.Now().UTC(),
		reg:          r,
		users:        []*User{{Username: host}},
		status:       StatusWaiting,
		turn:         AwaitingQuestionRequest,
		answered:     make(map[string]bool),
	}
}

func (s *Session) Join(username string) (User, View, error) {
	return s.JoinFunc(username, nil)
}

// JoinFunc is Join with onJoin run under the session lock once the user is in the
// roster, before user-joined is broadcast. Nothing runs when the join fails.
func (s *Session) JoinFunc(username string, onJoin func(User)) (User, View, error) {
	name, err := normalizeUsername(username)
	if err != nil {
		return User{}, View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return User{}, View{}, ErrSessionNotFound
	}
	if s.indexLocked(name) >= 0 {
		return User{}, View{}, ErrUsernameTaken
	}
	u := &User{Username: name}
	s.users = append(s.users, u)
	if onJoin != nil {
		onJoin(*u)
	}
	s.broadcastLocked(EventUserJoined, *u)
	return *u, s.viewLocked(), nil
}

// Leave removes username. The host leaving, or the last user leaving, destroys the session.
func (s *Session) Leave(username string) (LeaveResult, error) {
	username = strings.TrimSpace(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return LeaveResult{}, ErrSessionNotFound
	}
	i := s.indexLocked(username)
	if i < 0 {
		return LeaveResult{}, ErrUserNotFound
	}
	s.users = append(s.users[:i], s.users[i+1:]...)
	delete(s.answered, username)

	res := LeaveResult{Username: username, SessionID: s.ID}
	if username == s.HostUsername {
		s.destroyLocked(ReasonHostLeft)
		res.SessionDeleted, res.Reason = true, ReasonHostLeft
		return res, nil
	}

	s.broadcastLocked(EventUserLeft, map[string]any{"username": username, "sessionId": s.ID})
	if len(s.users) == 0 {
		s.destroyLocked(ReasonNoPlayersRemaining)
		res.SessionDeleted, res.Reason = true, ReasonNoPlayersRemaining
		return res, nil
	}
	if s.status == StatusActive && s.turn == AwaitingAnswer && s.allAnsweredLocked() {
		s.closeRoundLocked()
	}
	return res, nil
}

// Start fetches the questions and activates the game. The lock is released during
// generation; state is validated again afterwards and nothing changes on failure.
func (s *Session) Start(ctx context.Context, requester, region string) (StartResult, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return StartResult{}, Errorf(ErrInvalidRequest, "Region is required.")
	}

	s.mu.Lock()
	if err := s.canStartLocked(requester); err != nil {
		s.mu.Unlock()
		return StartResult{}, err
	}
	s.starting = true
	s.mu.Unlock()

	questions, genErr := s.reg.generate(ctx, region)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if s.deleted {
		return StartResult{}, ErrSessionNotFound
	}
	if genErr != nil {
		return StartResult{}, ErrUnableToFetchQuestions.WithCause(genErr)
	}
	if err := s.canStartLocked(requester); err != nil {
		return StartResult{}, err
	}

	s.questions = questions
	s.region = region
	s.status = StatusActive
	s.current = 0
	s.turn = AwaitingQuestionRequest
	s.answered = make(map[string]bool)
	s.broadcastLocked(EventGameStarted, map[string]any{
		"sessionId":      s.ID,
		"status":         s.status,
		"totalQuestions": len(s.questions),
		"region":         region,
		"timestamp":      s.reg.opts.Now().UTC(),
	})
	return StartResult{Status: s.status, TotalQuestions: len(s.questions)}, nil
}

func (s *Session) canStartLocked(requester string) error {
	switch {
	case s.deleted:
		return ErrSessionNotFound
	case requester != s.HostUsername:
		return ErrNotHost
	case s.status != StatusWaiting || s.starting:
		return ErrAlreadyActive
	case len(s.users) < s.reg.opts.MinPlayers:
		return Errorf(ErrInsufficientPlayers, "At least %d players are required to start the game.", s.reg.opts.MinPlayers)
	}
	return nil
}

// RequestNextQuestion dispatches the next question, or finishes the game once all
// questions were served. While some users have not answered the current question
// it fails with ErrInvalidEventOrder until the answer window ends.
func (s *Session) RequestNextQuestion() (NextQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return NextQuestion{}, ErrSessionNotFound
	}
	if s.status != StatusActive {
		return NextQuestion{}, Errorf(ErrSessionNotActive, "Session is not active. Current status: %s", s.status)
	}
	if s.turn != AwaitingQuestionRequest {
		return NextQuestion{}, Errorf(ErrInvalidEventOrder,
			"Cannot request a new question while question %d awaits answers.", s.current-1)
	}
	return s.dispatchLocked(), nil
}

func (s *Session) dispatchLocked() NextQuestion {
	total := len(s.questions)
	if s.current >= total {
		s.status = StatusFinished
		s.reg.sched.Cancel(s.ID)
		lb := ComputeLeaderboard(s.usersLocked())
		s.broadcastLocked(EventGameFinished, map[string]any{
			"sessionId":   s.ID,
			"status":      s.status,
			"leaderboard": lb,
		})
		s.reg.export(s.viewLocked(), lb, s.questions)
		return NextQuestion{QuestionNumber: s.current, TotalQuestions: total, Status: s.status}
	}

	n := s.current
	q := s.questions[n].Public()
	s.broadcastLocked(EventQuestionReceived, map[string]any{
		"question":       q,
		"questionNumber": n,
		"totalQuestions": total,
	})
	s.turn = AwaitingAnswer
	s.answered = make(map[string]bool)
	s.current = n + 1

	window := time.Duration(s.questions[n].TimeoutSeconds)*time.Second + s.reg.opts.AnswerGrace
	s.reg.sched.Schedule(s.ID, window, func() { s.CloseRound(n) })
	return NextQuestion{Question: &q, QuestionNumber: n, TotalQuestions: total, Status: s.status}
}

// SubmitAnswer scores username's answer for the question awaiting answers. Each
// user answers a question at most once; the round closes when everyone answered.
func (s *Session) SubmitAnswer(username string, a Answer) (AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return AnswerResult{}, ErrSessionNotFound
	}
	if s.status != StatusActive {
		return AnswerResult{}, Errorf(ErrSessionNotActive, "Session is not active. Current status: %s", s.status)
	}
	i := s.indexLocked(username)
	if i < 0 {
		return AnswerResult{}, ErrUserNotFound
	}
	if s.turn != AwaitingAnswer {
		return AnswerResult{}, Errorf(ErrInvalidEventOrder, "No question is currently awaiting an answer.")
	}
	expected := s.current - 1
	if a.QuestionNumber != expected {
		return AnswerResult{}, Errorf(ErrWrongQuestion,
			"Answer submitted for an outdated or incorrect question. Expected question number %d.", expected)
	}
	if expected < 0 || expected >= len(s.questions) {
		return AnswerResult{}, ErrQuestionNotFound
	}
	if s.answered[username] {
		return AnswerResult{}, Errorf(ErrWrongQuestion,
			"Question %d was already answered. Wait for question %d.", expected, expected+1)
	}

	q := s.questions[expected]
	u := s.users[i]
	correct, delta := Score(q, a.SelectedOption, a.TimeRemaining)
	u.Score += delta
	s.answered[username] = true

	res := AnswerResult{
		Correct:            correct,
		CorrectAnswerIndex: q.CorrectAnswerIndex,
		QuestionNumber:     expected,
		User:               *u,
	}
	if s.allAnsweredLocked() {
		s.closeRoundLocked()
	}
	return res, nil
}

// CloseRound ends the answer window of questionNumber if it is still open.
func (s *Session) CloseRound(questionNumber int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted || s.status != StatusActive || s.turn != AwaitingAnswer || s.current-1 != questionNumber {
		return false
	}
	s.closeRoundLocked()
	return true
}

func (s *Session) closeRoundLocked() {
	n := s.current - 1
	s.turn = AwaitingQuestionRequest
	s.broadcastLocked(EventQuestionEnded, map[string]any{
		"questionNumber": n,
		"correctAnswer":  s.questions[n].CorrectAnswerIndex,
		"leaderboard":    ComputeLeaderboard(s.usersLocked()),
	})
	if d := s.reg.opts.AutoAdvance; d > 0 {
		s.reg.sched.Schedule(s.ID, d, func() { s.advance(n + 1) })
		return
	}
	s.reg.sched.Cancel(s.ID)
}

// advance is the auto-advance task; it is a no-op unless the session is still
// waiting to dispatch question next.
func (s *Session) advance(next int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted || s.status != StatusActive || s.turn != AwaitingQuestionRequest || s.current != next {
		return
	}
	s.dispatchLocked()
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) Leaderboard() Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputeLeaderboard(s.usersLocked())
}

func (s *Session) viewLocked() View {
	return View{
		SessionID:             s.ID,
		HostUsername:          s.HostUsername,
		Users:                 s.usersLocked(),
		Status:                s.status,
		TurnLock:              s.turn,
		CurrentQuestionNumber: s.current,
		TotalQuestions:        len(s.questions),
		CreatedAt:             s.CreatedAt,
	}
}

func (s *Session) usersLocked() []User {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out
}

func (s *Session) indexLocked(username string) int {
	for i, u := range s.users {
		if u.Username == username {
			return i
		}
	}
	return -1
}

func (s *Session) allAnsweredLocked() bool {
	for _, u := range s.users {
		if !s.answered[u.Username] {
			return false
		}
	}
	return true
}

func (s *Session) destroyLocked(reason string) {
	s.broadcastLocked(EventSessionDeleted, map[string]any{"sessionId": s.ID, "reason": reason})
	s.deleted = true
	s.reg.remove(s.ID)
}

func (s *Session) broadcastLocked(event string, payload any) {
	if n := s.reg.opts.Notifier; n != nil {
		n.Broadcast(s.ID, event, payload)
	}
}
