package game

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndFirstQuestion(t *testing.T) {
	r, n := newTestRegistry(t, Options{})
	s := startedSession(t, r)

	v := s.View()
	require.Equal(t, StatusActive, v.Status)
	require.Equal(t, 0, v.CurrentQuestionNumber)
	require.Equal(t, 3, v.TotalQuestions)
	require.Equal(t, AwaitingQuestionRequest, v.TurnLock)

	started := n.named(EventGameStarted)
	require.Len(t, started, 1)
	payload := started[0].Payload.(map[string]any)
	assert.Equal(t, 3, payload["totalQuestions"])
	assert.Equal(t, "Udaipur", payload["region"])

	next, err := s.RequestNextQuestion()
	require.NoError(t, err)
	require.NotNil(t, next.Question)
	assert.Equal(t, 0, next.QuestionNumber)
	assert.Equal(t, StatusActive, next.Status)
	assert.Equal(t, "Udaipur question 0", next.Question.Text)

	v = s.View()
	assert.Equal(t, AwaitingAnswer, v.TurnLock)
	assert.Equal(t, 1, v.CurrentQuestionNumber)

	received := n.named(EventQuestionReceived)
	require.Len(t, received, 1)
	_, public := received[0].Payload.(map[string]any)["question"].(PublicQuestion)
	assert.True(t, public, "broadcast question must not carry the answer")
}

func TestCorrectAnswerScoresBaseAndBonus(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	res, err := s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 10})
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 0, res.CorrectAnswerIndex)
	assert.Equal(t, 15, res.User.Score)
	assert.Equal(t, "bob", res.User.Username)
}

func TestOversizedTimeRemainingIsCapped(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	res, err := s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 1e30})
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 15, res.User.Score)
	assert.Equal(t, 15, scoreOf(t, s, "bob"))
}

func TestWrongAnswerScoresNothing(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	res, err := s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 3, TimeRemaining: 10})
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, 0, res.User.Score)
}

func TestReplayedAnswerFailsWithWrongQuestion(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 10})
	require.NoError(t, err)

	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 10})
	require.ErrorIs(t, err, ErrWrongQuestion)
	assert.Equal(t, 15, scoreOf(t, s, "bob"))
}

func TestAnswerForOtherQuestionFails(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 2, SelectedOption: 2})
	require.ErrorIs(t, err, ErrWrongQuestion)
	_, err = s.SubmitAnswer("mallory", Answer{QuestionNumber: 0})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestGameFinishesAfterLastQuestion(t *testing.T) {
	r, n := newTestRegistry(t, Options{})
	s := startedSession(t, r)

	for i := 0; i < 3; i++ {
		next, err := s.RequestNextQuestion()
		require.NoError(t, err)
		require.Equal(t, i, next.QuestionNumber)
		// bob always answers correctly, alice only on the first question
		_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: i, SelectedOption: i % 4, TimeRemaining: 4})
		require.NoError(t, err)
		aliceOption := 3
		if i == 0 {
			aliceOption = 0
		}
		_, err = s.SubmitAnswer("alice", Answer{QuestionNumber: i, SelectedOption: aliceOption, TimeRemaining: 8})
		require.NoError(t, err)
	}

	next, err := s.RequestNextQuestion()
	require.NoError(t, err)
	assert.Nil(t, next.Question)
	assert.Equal(t, StatusFinished, next.Status)
	assert.Equal(t, StatusFinished, s.View().Status)

	finished := n.named(EventGameFinished)
	require.Len(t, finished, 1)
	lb := finished[0].Payload.(map[string]any)["leaderboard"].(Leaderboard)
	require.Equal(t, Leaderboard{
		{Username: "bob", Score: 36, Rank: 1},
		{Username: "alice", Score: 14, Rank: 2},
	}, lb)

	_, err = s.RequestNextQuestion()
	require.ErrorIs(t, err, ErrSessionNotActive)
	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 2})
	require.ErrorIs(t, err, ErrSessionNotActive)
}

func TestHostLeavingDestroysSession(t *testing.T) {
	r, n := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	res, err := s.Leave("alice")
	require.NoError(t, err)
	assert.True(t, res.SessionDeleted)
	assert.Equal(t, ReasonHostLeft, res.Reason)

	deleted := n.named(EventSessionDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, ReasonHostLeft, deleted[0].Payload.(map[string]any)["reason"])

	_, err = r.Get(s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0})
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, r.sched.Pending(s.ID), "pending round timer must be canceled")
}

func TestJoinThenLeaveRestoresRoster(t *testing.T) {
	r, n := newTestRegistry(t, Options{})
	_, s, err := r.Create("alice")
	require.NoError(t, err)
	_, _, err = s.Join("bob")
	require.NoError(t, err)
	before := s.View().Users

	u, v, err := s.Join("carol")
	require.NoError(t, err)
	assert.Equal(t, User{Username: "carol"}, u)
	assert.Len(t, v.Users, 3)

	res, err := s.Leave("carol")
	require.NoError(t, err)
	assert.False(t, res.SessionDeleted)
	assert.ElementsMatch(t, before, s.View().Users)
	assert.Len(t, n.named(EventUserLeft), 1)
}

func TestJoinFuncRunsBeforeBroadcast(t *testing.T) {
	r, n := newTestRegistry(t, Options{})
	_, s, err := r.Create("alice")
	require.NoError(t, err)

	var seen []string
	_, _, err = s.JoinFunc("bob", func(u User) {
		assert.Empty(t, n.named(EventUserJoined), "hook must run before user-joined")
		seen = append(seen, u.Username)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, seen)

	_, _, err = s.JoinFunc("bob", func(u User) { seen = append(seen, "again") })
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.Equal(t, []string{"bob"}, seen, "hook must not run for a rejected join")
}

func TestJoinRejectsTakenUsername(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, s, err := r.Create("alice")
	require.NoError(t, err)

	_, _, err = s.Join("alice")
	require.ErrorIs(t, err, ErrUsernameTaken)
	_, err = s.Leave("nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestStartPreconditions(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, s, err := r.Create("alice")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Start(ctx, "alice", "Udaipur")
	require.ErrorIs(t, err, ErrInsufficientPlayers)

	_, _, err = s.Join("bob")
	require.NoError(t, err)
	_, err = s.Start(ctx, "bob", "Udaipur")
	require.ErrorIs(t, err, ErrNotHost)
	_, err = s.Start(ctx, "alice", " ")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.Start(ctx, "alice", "Udaipur")
	require.NoError(t, err)
	_, err = s.Start(ctx, "alice", "Udaipur")
	require.ErrorIs(t, err, ErrAlreadyActive)
}

func TestStartGeneratorFailureLeavesSessionWaiting(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model unavailable")}
	r, n := newTestRegistry(t, Options{Generator: gen})
	_, s, err := r.Create("alice")
	require.NoError(t, err)
	_, _, err = s.Join("bob")
	require.NoError(t, err)

	_, err = s.Start(context.Background(), "alice", "Udaipur")
	require.ErrorIs(t, err, ErrUnableToFetchQuestions)

	v := s.View()
	assert.Equal(t, StatusWaiting, v.Status)
	assert.Zero(t, v.TotalQuestions)
	assert.Empty(t, n.named(EventGameStarted))

	gen.mu.Lock()
	gen.err = nil
	gen.mu.Unlock()
	_, err = s.Start(context.Background(), "alice", "Udaipur")
	require.NoError(t, err, "a failed start must not block a retry")
}

func TestStartGeneratorTimeout(t *testing.T) {
	gen := &stubGenerator{delay: time.Second}
	r, _ := newTestRegistry(t, Options{Generator: gen, GenerateTimeout: 30 * time.Millisecond})
	_, s, err := r.Create("alice")
	require.NoError(t, err)
	_, _, err = s.Join("bob")
	require.NoError(t, err)

	started := time.Now()
	_, err = s.Start(context.Background(), "alice", "Udaipur")
	require.ErrorIs(t, err, ErrUnableToFetchQuestions)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, StatusWaiting, s.View().Status)
}

func TestStartRejectsInvalidGeneratedQuestions(t *testing.T) {
	gen := &stubGenerator{questions: []Question{{Text: "?", Options: [4]string{"a", "b", "c", "d"}, CorrectAnswerIndex: 7}}}
	r, _ := newTestRegistry(t, Options{Generator: gen})
	_, s, err := r.Create("alice")
	require.NoError(t, err)
	_, _, err = s.Join("bob")
	require.NoError(t, err)

	_, err = s.Start(context.Background(), "alice", "Udaipur")
	require.ErrorIs(t, err, ErrUnableToFetchQuestions)
}

func TestConcurrentStartsActivateOnce(t *testing.T) {
	gen := &stubGenerator{delay: 20 * time.Millisecond}
	r, n := newTestRegistry(t, Options{Generator: gen})
	_, s, err := r.Create("alice")
	require.NoError(t, err)
	_, _, err = s.Join("bob")
	require.NoError(t, err)

	var ok, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Start(context.Background(), "alice", "Udaipur")
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrAlreadyActive):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, 9, conflicts)
	assert.Len(t, n.named(EventGameStarted), 1)
}

func TestHostLeavingDuringGeneration(t *testing.T) {
	gen := &stubGenerator{delay: 50 * time.Millisecond}
	r, _ := newTestRegistry(t, Options{Generator: gen})
	_, s, err := r.Create("alice")
	require.NoError(t, err)
	_, _, err = s.Join("bob")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background(), "alice", "Udaipur")
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_, err = s.Leave("alice")
	require.NoError(t, err)

	require.ErrorIs(t, <-errc, ErrSessionNotFound)
}

func TestSubmitBeforeQuestionRequestFails(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)

	_, err := s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 10})
	require.ErrorIs(t, err, ErrInvalidEventOrder)
	assert.Equal(t, 0, scoreOf(t, s, "bob"))
}

func TestSubmitAfterRoundClosedFails(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)
	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 10})
	require.NoError(t, err)
	_, err = s.SubmitAnswer("alice", Answer{QuestionNumber: 0, SelectedOption: 1})
	require.NoError(t, err)

	require.Equal(t, AwaitingQuestionRequest, s.View().TurnLock)
	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 10})
	require.ErrorIs(t, err, ErrInvalidEventOrder)
	assert.Equal(t, 15, scoreOf(t, s, "bob"))
}

func TestRequestWhileAwaitingAnswerFails(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	_, err = s.RequestNextQuestion()
	require.ErrorIs(t, err, ErrInvalidEventOrder)
	assert.Equal(t, 1, s.View().CurrentQuestionNumber)
}

func TestRequestBeforeStartFails(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, s, err := r.Create("alice")
	require.NoError(t, err)
	_, err = s.RequestNextQuestion()
	require.ErrorIs(t, err, ErrSessionNotActive)
}

func TestRoundClosesWhenEveryoneAnswered(t *testing.T) {
	r, n := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0})
	require.NoError(t, err)
	assert.Equal(t, AwaitingAnswer, s.View().TurnLock)
	assert.Empty(t, n.named(EventQuestionEnded))

	_, err = s.SubmitAnswer("alice", Answer{QuestionNumber: 0, SelectedOption: 0})
	require.NoError(t, err)
	assert.Equal(t, AwaitingQuestionRequest, s.View().TurnLock)

	ended := n.named(EventQuestionEnded)
	require.Len(t, ended, 1)
	payload := ended[0].Payload.(map[string]any)
	assert.Equal(t, 0, payload["questionNumber"])
	assert.Equal(t, 0, payload["correctAnswer"])
	assert.False(t, r.sched.Pending(s.ID), "early close cancels the answer window")
}

func TestLeavingUserCanCloseRound(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, _, err := s.Join("carol")
	require.NoError(t, err)
	_, err = s.RequestNextQuestion()
	require.NoError(t, err)
	_, err = s.SubmitAnswer("alice", Answer{QuestionNumber: 0})
	require.NoError(t, err)
	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0})
	require.NoError(t, err)
	require.Equal(t, AwaitingAnswer, s.View().TurnLock)

	_, err = s.Leave("carol")
	require.NoError(t, err)
	assert.Equal(t, AwaitingQuestionRequest, s.View().TurnLock)
}

func TestAnswerWindowExpiryClosesRound(t *testing.T) {
	gen := &stubGenerator{questions: []Question{
		{Text: "q", Options: [4]string{"a", "b", "c", "d"}, TimeoutSeconds: 1},
	}}
	r, n := newTestRegistry(t, Options{Generator: gen})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.View().TurnLock == AwaitingQuestionRequest
	}, 3*time.Second, 20*time.Millisecond)
	assert.Len(t, n.named(EventQuestionEnded), 1)
	assert.False(t, s.CloseRound(0), "closing twice is a no-op")

	next, err := s.RequestNextQuestion()
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, next.Status)
}

func TestAutoAdvanceDispatchesNextQuestion(t *testing.T) {
	r, n := newTestRegistry(t, Options{AutoAdvance: 20 * time.Millisecond})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)
	_, err = s.SubmitAnswer("alice", Answer{QuestionNumber: 0})
	require.NoError(t, err)
	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(n.named(EventQuestionReceived)) == 2
	}, time.Second, 10*time.Millisecond)
	v := s.View()
	assert.Equal(t, 2, v.CurrentQuestionNumber)
	assert.Equal(t, AwaitingAnswer, v.TurnLock)
}

func TestPendingAutoAdvanceIgnoredAfterDelete(t *testing.T) {
	r, n := newTestRegistry(t, Options{AutoAdvance: 30 * time.Millisecond})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)
	_, err = s.SubmitAnswer("alice", Answer{QuestionNumber: 0})
	require.NoError(t, err)
	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0})
	require.NoError(t, err)

	_, err = s.Leave("alice")
	require.NoError(t, err)
	// fire the task by hand as well, as if the timer had already been running
	s.advance(1)

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, n.named(EventQuestionReceived), 1)
	assert.False(t, s.CloseRound(1))
}

func TestConcurrentAnswersFromDifferentUsers(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, _, err := s.Join("carol")
	require.NoError(t, err)
	_, err = s.RequestNextQuestion()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, name := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := s.SubmitAnswer(name, Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 6})
			errs <- err
		}(name)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 13, scoreOf(t, s, "bob"))
	assert.Equal(t, 13, scoreOf(t, s, "carol"))
	assert.Equal(t, 0, scoreOf(t, s, "alice"))
}

func TestConcurrentAnswersFromSameUserScoreOnce(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s := startedSession(t, r)
	_, err := s.RequestNextQuestion()
	require.NoError(t, err)

	const attempts = 20
	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 10}); err == nil {
				atomic.AddInt32(&ok, 1)
			} else {
				assert.ErrorIs(t, err, ErrWrongQuestion)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok)
	assert.Equal(t, 15, scoreOf(t, s, "bob"))
}

func TestInvariantsUnderConcurrentTraffic(t *testing.T) {
	r, _ := newTestRegistry(t, Options{QuestionCount: 5})
	s := startedSession(t, r)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
				}
				switch rnd.Intn(3) {
				case 0:
					_, _ = s.RequestNextQuestion()
				case 1:
					_, _ = s.SubmitAnswer("alice", Answer{QuestionNumber: rnd.Intn(6), SelectedOption: rnd.Intn(4), TimeRemaining: 5})
				default:
					_, _ = s.SubmitAnswer("bob", Answer{QuestionNumber: rnd.Intn(6), SelectedOption: rnd.Intn(4), TimeRemaining: 5})
				}
				v := s.View()
				if v.CurrentQuestionNumber < 0 || v.CurrentQuestionNumber > v.TotalQuestions {
					t.Errorf("current question %d out of [0,%d]", v.CurrentQuestionNumber, v.TotalQuestions)
				}
				if v.TurnLock != AwaitingAnswer && v.TurnLock != AwaitingQuestionRequest {
					t.Errorf("unexpected turn lock %q", v.TurnLock)
				}
			}
		}(int64(w))
	}
	time.Sleep(100 * time.Millisecond)
	close(stop)
	wg.Wait()

	// every user answers each question at most once, so the score is bounded
	maxPerQuestion := BasePoints + 2
	for _, u := range s.View().Users {
		assert.LessOrEqual(t, u.Score, 5*maxPerQuestion)
	}
}

func TestFinishedGameIsExported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", "games.txt")
	r, _ := newTestRegistry(t, Options{QuestionCount: 1, Exporter: NewFileExporter(path)})
	s := startedSession(t, r)

	_, err := s.RequestNextQuestion()
	require.NoError(t, err)
	_, err = s.SubmitAnswer("bob", Answer{QuestionNumber: 0, SelectedOption: 0, TimeRemaining: 2})
	require.NoError(t, err)
	_, err = s.SubmitAnswer("alice", Answer{QuestionNumber: 0, SelectedOption: 1})
	require.NoError(t, err)
	_, err = s.RequestNextQuestion()
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Session "+s.ID)
	assert.Contains(t, string(b), "1. bob: 11 points")
	assert.Contains(t, string(b), "2. alice: 0 points")
}

func scoreOf(t *testing.T, s *Session, username string) int {
	t.Helper()
	for _, u := range s.View().Users {
		if u.Username == username {
			return u.Score
		}
	}
	t.Fatalf("user %s not in session", username)
	return 0
}
