package protocol

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/kiliankoe/geotrivia/internal/game"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Observer is told about every handled call. reason is empty on success.
type Observer interface {
	ObserveCall(event, reason string, d time.Duration)
}

// Dispatcher runs calls against the registry on behalf of a connection.
type Dispatcher struct {
	reg   *game.Registry
	conns *Connections
	obs   Observer
}

// NewDispatcher wires conns to reg so that connections are unbound when their
// session is deleted. obs may be nil.
func NewDispatcher(reg *game.Registry, conns *Connections, obs Observer) *Dispatcher {
	reg.OnDelete(conns.UnbindSession)
	return &Dispatcher{reg: reg, conns: conns, obs: obs}
}

func (d *Dispatcher) Connections() *Connections { return d.conns }

// Handle executes call for connID and always returns exactly one Response, even
// when the handler panics.
func (d *Dispatcher) Handle(ctx context.Context, connID string, call Call) (resp Response) {
	start := time.Now()
	event := "unknown"
	if call != nil {
		call = deref(call)
		event = call.Event()
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("sid", connID).Str("event", event).Interface("panic", p).
				Bytes("stack", debug.Stack()).Msg("call panicked")
			resp = Fail(game.ErrInternal)
		}
		d.finish(connID, event, sessionOf(call), resp, time.Since(start))
	}()

	if call == nil {
		return Fail(game.ErrUnknownEvent)
	}
	if err := call.validate(); err != nil {
		return Fail(err)
	}
	data, err := d.dispatch(ctx, connID, call)
	if err != nil {
		if e := game.AsError(err); e.Kind() == game.KindInternal {
			log.Error().Err(err).Str("sid", connID).Str("event", event).Msg("call failed")
		}
		return Fail(err)
	}
	return OK(data)
}

func (d *Dispatcher) dispatch(ctx context.Context, connID string, call Call) (any, error) {
	switch c := call.(type) {
	case CreateSession:
		return d.create(connID, c)
	case JoinSession:
		return d.join(connID, c)
	case LeaveSession:
		return d.leave(connID, c)
	case StartGame:
		return d.start(ctx, connID, c)
	case RequestNextQuestion:
		s, err := d.reg.Get(c.SessionID)
		if err != nil {
			return nil, err
		}
		return s.RequestNextQuestion()
	case SubmitAnswer:
		return d.answer(connID, c)
	}
	return nil, game.ErrUnknownEvent
}

func (d *Dispatcher) create(connID string, c CreateSession) (any, error) {
	d.leaveBound(connID)
	_, s, err := d.reg.Create(c.Username)
	if err != nil {
		return nil, err
	}
	v := s.View()
	d.conns.Bind(connID, s.ID, s.HostUsername)
	return SessionReply{User: v.Users[0], Session: v}, nil
}

func (d *Dispatcher) join(connID string, c JoinSession) (any, error) {
	d.leaveBound(connID)
	s, err := d.reg.Get(c.SessionID)
	if err != nil {
		return nil, err
	}
	// bound under the session lock, so the first broadcast after the join arrives
	u, v, err := s.JoinFunc(c.Username, func(u game.User) {
		d.conns.Bind(connID, s.ID, u.Username)
	})
	if err != nil {
		return nil, err
	}
	return SessionReply{User: u, Session: v}, nil
}

func (d *Dispatcher) leave(connID string, c LeaveSession) (any, error) {
	s, err := d.reg.Get(c.SessionID)
	if err != nil {
		return nil, err
	}
	cc, _ := d.conns.Context(connID)
	username := c.Username
	if username == "" && cc.SessionID == s.ID {
		username = cc.Username
	}
	if err := required("username", username); err != nil {
		return nil, err
	}
	res, err := s.Leave(username)
	if err != nil {
		return nil, err
	}
	if cc.SessionID == s.ID && cc.Username == username {
		d.conns.Unbind(connID)
	}
	return res, nil
}

func (d *Dispatcher) start(ctx context.Context, connID string, c StartGame) (any, error) {
	s, err := d.reg.Get(c.SessionID)
	if err != nil {
		return nil, err
	}
	var requester string
	if cc, _ := d.conns.Context(connID); cc.SessionID == s.ID {
		requester = cc.Username
	}
	return s.Start(ctx, requester, c.Region)
}

func (d *Dispatcher) answer(connID string, c SubmitAnswer) (any, error) {
	s, err := d.reg.Get(c.SessionID)
	if err != nil {
		return nil, err
	}
	username := c.Username
	if username == "" {
		if cc, _ := d.conns.Context(connID); cc.SessionID == s.ID {
			username = cc.Username
		}
	}
	if err := required("username", username); err != nil {
		return nil, err
	}
	return s.SubmitAnswer(username, game.Answer{
		QuestionNumber: c.QuestionNumber,
		SelectedOption: c.SelectedOption,
		TimeRemaining:  c.TimeRemaining,
	})
}

// Disconnect forgets connID and removes its user from the bound session, exactly
// like an explicit leave.
func (d *Dispatcher) Disconnect(connID string) {
	cc, ok := d.conns.Remove(connID)
	if !ok || !cc.Bound() {
		return
	}
	d.leaveSession(cc)
}

// Reject reports a protocol-level error to connID alone, for input that cannot be
// answered as a call.
func (d *Dispatcher) Reject(connID string, err error) {
	e := game.AsError(err)
	if !d.conns.EmitTo(connID, EventError, ErrorBody{Reason: e.Reason, Message: e.Message}) {
		log.Debug().Str("sid", connID).Msg("reject for unknown connection")
	}
}

// Shutdown tells every connection that the server is going away.
func (d *Dispatcher) Shutdown() {
	d.conns.EmitAll(EventError, ErrorBody{Reason: ReasonServerShutdown, Message: "Server is shutting down."})
}

func (d *Dispatcher) leaveBound(connID string) {
	cc, ok := d.conns.Context(connID)
	if !ok || !cc.Bound() {
		return
	}
	d.conns.Unbind(connID)
	d.leaveSession(cc)
}

func (d *Dispatcher) leaveSession(cc ConnectionContext) {
	s, err := d.reg.Get(cc.SessionID)
	if err != nil {
		return
	}
	res, err := s.Leave(cc.Username)
	if err != nil {
		log.Debug().Err(err).Str("sid", cc.ConnID).Str("session", cc.SessionID).Msg("leave on unbind")
		return
	}
	log.Info().Str("sid", cc.ConnID).Str("session", cc.SessionID).Str("username", cc.Username).
		Bool("sessionDeleted", res.SessionDeleted).Msg("left session")
}

func (d *Dispatcher) finish(connID, event, sessionID string, resp Response, dur time.Duration) {
	var reason string
	var ev *zerolog.Event
	if resp.Error != nil {
		reason = string(resp.Error.Reason)
		ev = log.Warn().Str("reason", reason)
	} else {
		ev = log.Info()
	}
	ev.Str("sid", connID).Str("event", event).Str("session", sessionID).Dur("dur", dur).Msg("call")
	if d.obs != nil {
		d.obs.ObserveCall(event, reason, dur)
	}
}

func sessionOf(call Call) string {
	switch c := call.(type) {
	case JoinSession:
		return c.SessionID
	case LeaveSession:
		return c.SessionID
	case StartGame:
		return c.SessionID
	case RequestNextQuestion:
		return c.SessionID
	case SubmitAnswer:
		return c.SessionID
	}
	return ""
}
