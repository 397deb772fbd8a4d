package game

import "time"

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// TurnLock alternates between dispatching a question and collecting its answers.
type TurnLock string

const (
	AwaitingQuestionRequest TurnLock = "awaiting_question_request"
	AwaitingAnswer          TurnLock = "awaiting_answer"
)

// Delete reasons carried by session:deleted.
const (
	ReasonHostLeft           = "host_left"
	ReasonNoPlayersRemaining = "no_players_remaining"
)

// Broadcast event names.
const (
	EventUserJoined       = "session:user-joined"
	EventUserLeft         = "session:user-left"
	EventSessionDeleted   = "session:deleted"
	EventGameStarted      = "game:started"
	EventQuestionReceived = "game:question-received"
	EventQuestionEnded    = "game:question-ended"
	EventGameFinished     = "game:finished"
)

type User struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// Question is a single-correct-answer multiple choice question.
type Question struct {
	Text               string    `json:"question" yaml:"question"`
	Options            [4]string `json:"options" yaml:"options"`
	CorrectAnswerIndex int       `json:"correctAnswer" yaml:"correctAnswer"`
	Region             string    `json:"region" yaml:"region"`
	TimeoutSeconds     int       `json:"timeout" yaml:"timeout"`
}

// PublicQuestion is what clients see before the question is scored.
type PublicQuestion struct {
	Text           string    `json:"question"`
	Options        [4]string `json:"options"`
	Region         string    `json:"region"`
	TimeoutSeconds int       `json:"timeout"`
}

func (q Question) Public() PublicQuestion {
	return PublicQuestion{Text: q.Text, Options: q.Options, Region: q.Region, TimeoutSeconds: q.TimeoutSeconds}
}

type LeaderboardEntry struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

type Leaderboard []LeaderboardEntry

// View is a consistent copy of a session taken under its lock.
type View struct {
	SessionID             string    `json:"sessionId"`
	HostUsername          string    `json:"hostUsername"`
	Users                 []User    `json:"users"`
	Status                Status    `json:"status"`
	TurnLock              TurnLock  `json:"eventLockState"`
	CurrentQuestionNumber int       `json:"currentQuestionNumber"`
	TotalQuestions        int       `json:"totalQuestions"`
	CreatedAt             time.Time `json:"createdAt"`
}

// Answer is a participant's submission for a dispatched question.
type Answer struct {
	QuestionNumber int
	SelectedOption int
	TimeRemaining  float64
}

type StartResult struct {
	Status         Status `json:"status"`
	TotalQuestions int    `json:"totalQuestions"`
}

type NextQuestion struct {
	Question       *PublicQuestion `json:"question"`
	QuestionNumber int             `json:"questionNumber"`
	TotalQuestions int             `json:"totalQuestions"`
	Status         Status          `json:"status"`
}

type AnswerResult struct {
	Correct            bool `json:"correct"`
	CorrectAnswerIndex int  `json:"correctAnswer"`
	QuestionNumber     int  `json:"questionNumber"`
	User               User `json:"user"`
}

type LeaveResult struct {
	Username       string `json:"username"`
	SessionID      string `json:"sessionId"`
	SessionDeleted bool   `json:"sessionDeleted"`
	Reason         string `json:"reason,omitempty"`
}
