// Package protocol turns client calls into session operations and routes the
// resulting replies and broadcasts to connections.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/kiliankoe/geotrivia/internal/game"
)

// Client call event names.
const (
	EventSessionCreate = "session:create"
	EventSessionJoin   = "session:join"
	EventSessionLeave  = "session:leave"
	EventGameStart     = "game:start"
	EventQuestionNext  = "game:question-next"
	EventGameAnswer    = "game:answer"

	// EventError carries protocol-level errors that are not a reply to a call.
	EventError = "error"
)

// Call is a decoded client call. The set of implementations is closed.
type Call interface {
	Event() string
	validate() error
}

type CreateSession struct {
	Username string `json:"username"`
}

type JoinSession struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

type LeaveSession struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

type StartGame struct {
	SessionID string `json:"sessionId"`
	Region    string `json:"region"`
}

type RequestNextQuestion struct {
	SessionID string `json:"sessionId"`
}

type SubmitAnswer struct {
	SessionID      string  `json:"sessionId"`
	Username       string  `json:"username"`
	QuestionNumber int     `json:"questionNumber"`
	SelectedOption int     `json:"selectedOption"`
	TimeRemaining  float64 `json:"timeRemaining"`
}

func (CreateSession) Event() string       { return EventSessionCreate }
func (JoinSession) Event() string         { return EventSessionJoin }
func (LeaveSession) Event() string        { return EventSessionLeave }
func (StartGame) Event() string           { return EventGameStart }
func (RequestNextQuestion) Event() string { return EventQuestionNext }
func (SubmitAnswer) Event() string        { return EventGameAnswer }

func (c CreateSession) validate() error {
	return required("username", c.Username)
}

func (c JoinSession) validate() error {
	if err := required("username", c.Username); err != nil {
		return err
	}
	return required("sessionId", c.SessionID)
}

func (c LeaveSession) validate() error {
	return required("sessionId", c.SessionID)
}

func (c StartGame) validate() error {
	if err := required("sessionId", c.SessionID); err != nil {
		return err
	}
	return required("region", c.Region)
}

func (c RequestNextQuestion) validate() error {
	return required("sessionId", c.SessionID)
}

func (c SubmitAnswer) validate() error {
	if err := required("sessionId", c.SessionID); err != nil {
		return err
	}
	if c.QuestionNumber < 0 {
		return game.Errorf(game.ErrInvalidRequest, "questionNumber must not be negative.")
	}
	if c.SelectedOption < 0 || c.SelectedOption > 3 {
		return game.Errorf(game.ErrInvalidRequest, "selectedOption must be between 0 and 3.")
	}
	return nil
}

// UnmarshalJSON accepts the flat shape as well as answer fields nested under "answer".
func (c *SubmitAnswer) UnmarshalJSON(b []byte) error {
	type flat SubmitAnswer
	var aux struct {
		flat
		Answer *struct {
			QuestionNumber *int     `json:"questionNumber"`
			SelectedOption *int     `json:"selectedOption"`
			TimeRemaining  *float64 `json:"timeRemaining"`
		} `json:"answer"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*c = SubmitAnswer(aux.flat)
	if a := aux.Answer; a != nil {
		if a.QuestionNumber != nil {
			c.QuestionNumber = *a.QuestionNumber
		}
		if a.SelectedOption != nil {
			c.SelectedOption = *a.SelectedOption
		}
		if a.TimeRemaining != nil {
			c.TimeRemaining = *a.TimeRemaining
		}
	}
	return nil
}

// Decode parses the payload of event into its Call.
func Decode(event string, raw json.RawMessage) (Call, error) {
	var call Call
	switch event {
	case EventSessionCreate:
		call = &CreateSession{}
	case EventSessionJoin:
		call = &JoinSession{}
	case EventSessionLeave:
		call = &LeaveSession{}
	case EventGameStart:
		call = &StartGame{}
	case EventQuestionNext:
		call = &RequestNextQuestion{}
	case EventGameAnswer:
		call = &SubmitAnswer{}
	default:
		return nil, game.Errorf(game.ErrUnknownEvent, "Unknown event %q.", event)
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, call); err != nil {
			return nil, game.ErrInvalidRequest.WithCause(err)
		}
	}
	return deref(call), nil
}

func deref(c Call) Call {
	switch v := c.(type) {
	case *CreateSession:
		return *v
	case *JoinSession:
		return *v
	case *LeaveSession:
		return *v
	case *StartGame:
		return *v
	case *RequestNextQuestion:
		return *v
	case *SubmitAnswer:
		return *v
	}
	return c
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return game.Errorf(game.ErrInvalidRequest, "%s is required.", field)
	}
	return nil
}
