package protocol

import "github.com/kiliankoe/geotrivia/internal/game"

// ReasonServerShutdown is sent to every connection before the server stops.
const ReasonServerShutdown game.Reason = "server_shutdown"

// Response is the single reply every call receives.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Reason  game.Reason `json:"reason"`
	Message string      `json:"message"`
}

// SessionReply answers session:create and session:join.
type SessionReply struct {
	User    game.User `json:"user"`
	Session game.View `json:"session"`
}

func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Fail builds an error envelope. Errors without a reason are reported as internal_error
// and their details stay out of the message.
func Fail(err error) Response {
	e := game.AsError(err)
	return Response{Error: &ErrorBody{Reason: e.Reason, Message: e.Message}}
}
