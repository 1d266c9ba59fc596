package core

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// State is the lifecycle stage of a Session.
type State int32

const (
	// StateConnecting is the initial state: transport accepted, room resolved.
	StateConnecting State = iota
	// StateJoined means the session is registered in its room.
	StateJoined
	// StateClosed is terminal; deliveries become no-ops.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultOutboundBuffer = 256

// SessionOptions tunes a Session. Zero values fall back to defaults.
type SessionOptions struct {
	ID             string
	OutboundBuffer int
	// ParseErrorAck sends an error frame back to the sender of a malformed message.
	ParseErrorAck bool
	Recorder      Recorder
	Logger        *zerolog.Logger
}

// Session bridges one client connection to the registry.
// The transport reads Outbound and writes each envelope's payload to the socket;
// it is the only writer for that socket.
type Session struct {
	id       string
	room     string
	registry *Registry

	outbound chan Envelope
	done     chan struct{}

	mu        sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once

	ack bool
	rec Recorder
	log *zerolog.Logger
}

// NewSession builds a session for room. The room name must be non-empty.
func NewSession(room string, registry *Registry, opts SessionOptions) (*Session, error) {
	if room == "" {
		return nil, ErrEmptyRoom
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = defaultOutboundBuffer
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	return &Session{
		id:       opts.ID,
		room:     room,
		registry: registry,
		outbound: make(chan Envelope, opts.OutboundBuffer),
		done:     make(chan struct{}),
		ack:      opts.ParseErrorAck,
		rec:      opts.Recorder,
		log:      opts.Logger,
	}, nil
}

// ID returns the member handle identifier.
func (s *Session) ID() string { return s.id }

// Room returns the room this session relays for.
func (s *Session) Room() string { return s.room }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Outbound yields envelopes to be written to this session's transport.
func (s *Session) Outbound() <-chan Envelope { return s.outbound }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Join registers the session in its room. Only the first call from StateConnecting has
// any effect.
func (s *Session) Join() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateConnecting {
		return
	}
	s.registry.Join(s.room, s)
	s.state.Store(int32(StateJoined))
	s.rec.SessionOpened()
	s.log.Debug().Str("session_id", s.id).Str("room", s.room).Msg("session joined")
}

// Close leaves the room and moves to StateClosed. Safe to call many times and from any
// state; Leave runs exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		wasJoined := s.State() == StateJoined
		// Closed before Leave so a concurrent snapshot sees an inert member.
		s.state.Store(int32(StateClosed))
		s.registry.Leave(s.room, s)
		if wasJoined {
			s.rec.SessionClosed()
		}
		close(s.done)
		s.log.Debug().Str("session_id", s.id).Str("room", s.room).Msg("session closed")
	})
}

// HandleInbound decodes raw and broadcasts it to the rest of the room.
// A malformed message returns a *ParseError and leaves the session joined.
func (s *Session) HandleInbound(raw []byte) error {
	if s.State() != StateJoined {
		return ErrNotJoined
	}
	s.rec.MessageReceived()

	payload, err := proto.Decode(raw)
	if err != nil {
		s.rec.ParseFailed()
		perr := &ParseError{Err: err}
		if s.ack {
			s.Notify(coreError(ErrCodeParse, perr.Error()))
		}
		return perr
	}

	res := s.registry.Broadcast(s.room, s.id, payload)
	s.rec.Delivered(res.Delivered)
	if res.Failed > 0 {
		s.rec.DeliveryFailed(res.Failed)
		s.log.Debug().
			Str("session_id", s.id).
			Str("room", s.room).
			Int("delivered", res.Delivered).
			Int("failed", res.Failed).
			Msg("broadcast partially failed")
	}
	return nil
}

// Deliver enqueues env for this session's transport. It never blocks.
func (s *Session) Deliver(env Envelope) error {
	if env.Sender == s.id {
		return nil
	}
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	select {
	case s.outbound <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// Notify queues an error frame for this session only. Returns false if it was dropped.
func (s *Session) Notify(e *CoreError) bool {
	if s.State() == StateClosed {
		return false
	}
	select {
	case s.outbound <- Envelope{Room: s.room, Payload: proto.ErrorFrame(e.Code, e.Message)}:
		return true
	default:
		return false
	}
}

// RejectRateLimited queues a rate_limited error frame for this session.
func (s *Session) RejectRateLimited() bool {
	return s.Notify(coreError(ErrCodeRateLimited, "message rate limit exceeded"))
}
