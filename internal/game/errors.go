package game

import (
	"errors"
	"fmt"
)

// Kind groups reasons by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindPreconditionFailed
	KindAuthorization
	KindResourceUnavailable
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindAuthorization:
		return "authorization"
	case KindResourceUnavailable:
		return "resource_unavailable"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

type Reason string

const (
	ReasonSessionNotFound        Reason = "session_not_found"
	ReasonUsernameTaken          Reason = "username_taken"
	ReasonAlreadyActive          Reason = "game_already_started"
	ReasonInvalidEventOrder      Reason = "invalid_event_order"
	ReasonWrongQuestion          Reason = "wrong_question"
	ReasonQuestionNotFound       Reason = "question_not_found"
	ReasonSessionNotActive       Reason = "session_not_active"
	ReasonNotHost                Reason = "not_host"
	ReasonInsufficientPlayers    Reason = "insufficient_players"
	ReasonUnableToFetchQuestions Reason = "unable_to_fetch_questions"
	ReasonUserNotFound           Reason = "user_not_found"
	ReasonInvalidRequest         Reason = "invalid_request"
	ReasonUnknownEvent           Reason = "unknown_event"
	ReasonInternal               Reason = "internal_error"
)

var reasonKinds = map[Reason]Kind{
	ReasonSessionNotFound:        KindNotFound,
	ReasonUserNotFound:           KindNotFound,
	ReasonUsernameTaken:          KindConflict,
	ReasonAlreadyActive:          KindConflict,
	ReasonInvalidEventOrder:      KindPreconditionFailed,
	ReasonWrongQuestion:          KindPreconditionFailed,
	ReasonQuestionNotFound:       KindPreconditionFailed,
	ReasonSessionNotActive:       KindPreconditionFailed,
	ReasonNotHost:                KindAuthorization,
	ReasonInsufficientPlayers:    KindResourceUnavailable,
	ReasonUnableToFetchQuestions: KindResourceUnavailable,
	ReasonInvalidRequest:         KindInvalidArgument,
	ReasonUnknownEvent:           KindInvalidArgument,
	ReasonInternal:               KindInternal,
}

// Error is the typed failure returned by every session operation.
type Error struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	err     error
}

var (
	ErrSessionNotFound        = newError(ReasonSessionNotFound, "Session not found. Please check the code and try again.")
	ErrUsernameTaken          = newError(ReasonUsernameTaken, "Username already taken. Please choose another one.")
	ErrAlreadyActive          = newError(ReasonAlreadyActive, "Game has already started.")
	ErrInvalidEventOrder      = newError(ReasonInvalidEventOrder, "Event is not allowed at this point of the round.")
	ErrWrongQuestion          = newError(ReasonWrongQuestion, "Answer submitted for an outdated or incorrect question.")
	ErrQuestionNotFound       = newError(ReasonQuestionNotFound, "Question data not found for the submitted answer.")
	ErrSessionNotActive       = newError(ReasonSessionNotActive, "Session is not active.")
	ErrNotHost                = newError(ReasonNotHost, "Only the host can start the game.")
	ErrInsufficientPlayers    = newError(ReasonInsufficientPlayers, "Not enough players to start the game.")
	ErrUnableToFetchQuestions = newError(ReasonUnableToFetchQuestions, "Unable to fetch questions. Please try again.")
	ErrUserNotFound           = newError(ReasonUserNotFound, "User not found in session.")
	ErrInvalidRequest         = newError(ReasonInvalidRequest, "Invalid request payload.")
	ErrUnknownEvent           = newError(ReasonUnknownEvent, "Unknown event.")
	ErrInternal               = newError(ReasonInternal, "Internal server error.")
)

func newError(reason Reason, msg string) *Error {
	return &Error{Reason: reason, Message: msg}
}

// WithCause returns a copy of e that wraps err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Reason: e.Reason, Message: e.Message, err: err}
}

// Errorf derives an error with the sentinel's reason and a specific message.
func Errorf(sentinel *Error, format string, args ...any) *Error {
	return &Error{Reason: sentinel.Reason, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is matches any *Error with the same reason, so derived errors satisfy errors.Is against sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func (e *Error) Kind() Kind {
	if k, ok := reasonKinds[e.Reason]; ok {
		return k
	}
	return KindInternal
}

// AsError converts err into an *Error. Errors of unknown origin become internal_error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err)
}
