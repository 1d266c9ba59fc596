package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

func TestNewSessionRejectsEmptyRoom(t *testing.T) {
	if _, err := NewSession("", NewRegistry(), SessionOptions{}); !errors.Is(err, ErrEmptyRoom) {
		t.Fatalf("expected ErrEmptyRoom, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	reg := NewRegistry()
	rec := &countingRecorder{}
	s, err := NewSession("r1", reg, SessionOptions{Recorder: rec})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.ID() == "" {
		t.Fatalf("expected generated id")
	}
	if s.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", s.State())
	}
	if err := s.HandleInbound([]byte(`{}`)); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined before join, got %v", err)
	}

	s.Join()
	s.Join()
	if s.State() != StateJoined {
		t.Fatalf("expected joined, got %s", s.State())
	}
	if members := reg.Members("r1"); len(members) != 1 || members[0] != s.ID() {
		t.Fatalf("session not registered: %v", members)
	}

	s.Close()
	s.Close()
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done channel not closed")
	}
	if len(reg.Members("r1")) != 0 {
		t.Fatalf("session still registered after close")
	}
	if rec.opened.Load() != 1 || rec.closed.Load() != 1 {
		t.Fatalf("expected one open and one close, got %d/%d", rec.opened.Load(), rec.closed.Load())
	}

	// A closed session can not be joined again and ignores deliveries.
	s.Join()
	if len(reg.Members("r1")) != 0 {
		t.Fatalf("closed session rejoined")
	}
	if err := s.Deliver(Envelope{Room: "r1", Sender: "other", Payload: "x"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSessionCloseBeforeJoin(t *testing.T) {
	reg := NewRegistry()
	s, err := NewSession("r1", reg, SessionOptions{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Close()
	s.Join()
	if s.State() != StateClosed || len(reg.Members("r1")) != 0 {
		t.Fatalf("close before join should be terminal")
	}
}

func TestSessionOfferReachesOthersOnce(t *testing.T) {
	reg := NewRegistry()
	a := newJoinedSession(t, reg, "lobby", "a")
	b := newJoinedSession(t, reg, "lobby", "b")
	c := newJoinedSession(t, reg, "lobby", "c")

	if err := a.HandleInbound([]byte(`{"type":"offer","sdp":"x"}`)); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}

	want := map[string]any{"type": "offer", "sdp": "x"}
	for _, s := range []*Session{b, c} {
		env := mustEnvelope(t, s.Outbound())
		if !reflect.DeepEqual(env.Payload, want) {
			t.Fatalf("session %s got %#v", s.ID(), env.Payload)
		}
		expectNoEnvelope(t, s.Outbound())
	}
	expectNoEnvelope(t, a.Outbound())
}

func TestSessionMalformedPayload(t *testing.T) {
	reg := NewRegistry()
	rec := &countingRecorder{}
	a, err := NewSession("r1", reg, SessionOptions{ID: "a", ParseErrorAck: true, Recorder: rec})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	a.Join()
	defer a.Close()
	b := newJoinedSession(t, reg, "r1", "b")

	err = a.HandleInbound([]byte(`{not json`))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if a.State() != StateJoined {
		t.Fatalf("malformed input must not close the session")
	}
	expectNoEnvelope(t, b.Outbound())

	ack := mustEnvelope(t, a.Outbound())
	frame, ok := ack.Payload.(proto.Outbound)
	if !ok || frame.Error == nil || frame.Error.Code != ErrCodeParse {
		t.Fatalf("expected parse_error ack, got %#v", ack.Payload)
	}
	if rec.parseFailed.Load() != 1 || rec.received.Load() != 1 {
		t.Fatalf("unexpected counters: parse=%d received=%d", rec.parseFailed.Load(), rec.received.Load())
	}

	// Still relays afterwards.
	if err := a.HandleInbound([]byte(`{"ok":true}`)); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	mustEnvelope(t, b.Outbound())
}

func TestSessionMalformedPayloadWithoutAck(t *testing.T) {
	reg := NewRegistry()
	a := newJoinedSession(t, reg, "r1", "a")

	if err := a.HandleInbound([]byte(`[1,2`)); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	expectNoEnvelope(t, a.Outbound())
}

func TestSessionDisconnectedMemberGetsNothing(t *testing.T) {
	reg := NewRegistry()
	a := newJoinedSession(t, reg, "r1", "a")
	b := newJoinedSession(t, reg, "r1", "b")

	b.Close()
	if err := a.HandleInbound([]byte(`{"type":"answer"}`)); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}

	expectNoEnvelope(t, b.Outbound())
	if members := reg.Members("r1"); len(members) != 1 || members[0] != "a" {
		t.Fatalf("registry still lists disconnected member: %v", members)
	}
}

func TestSessionDeliverFiltersOwnMessages(t *testing.T) {
	reg := NewRegistry()
	a := newJoinedSession(t, reg, "r1", "a")

	if err := a.Deliver(Envelope{Room: "r1", Sender: "a", Payload: "echo"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	expectNoEnvelope(t, a.Outbound())
}

func TestSessionDeliverQueueFull(t *testing.T) {
	reg := NewRegistry()
	s, err := NewSession("r1", reg, SessionOptions{ID: "s", OutboundBuffer: 1})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Join()
	defer s.Close()

	if err := s.Deliver(Envelope{Sender: "x", Payload: 1}); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	if err := s.Deliver(Envelope{Sender: "x", Payload: 2}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSessionPayloadRoundTrip(t *testing.T) {
	reg := NewRegistry()
	a := newJoinedSession(t, reg, "r1", "a")
	b := newJoinedSession(t, reg, "r1", "b")

	in := `{"type":"ice-candidate","candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54400 typ host","sdpMLineIndex":0,"sdpMid":"0"},"big":12345678901234567890,"list":[1,"two",null,false]}`
	if err := a.HandleInbound([]byte(in)); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}

	env := mustEnvelope(t, b.Outbound())
	out, err := proto.Encode(env.Payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var wantTree, gotTree any
	if err := json.Unmarshal([]byte(in), &wantTree); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if err := json.Unmarshal(out, &gotTree); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if !reflect.DeepEqual(wantTree, gotTree) {
		t.Fatalf("payload changed in transit:\n in: %s\nout: %s", in, out)
	}
	if !strings.Contains(string(out), "12345678901234567890") {
		t.Fatalf("large integer lost precision: %s", out)
	}
}

func TestSessionLeaveDuringBroadcastIsSafe(t *testing.T) {
	reg := NewRegistry()
	sender := newJoinedSession(t, reg, "r1", "sender")
	leaver := newJoinedSession(t, reg, "r1", "leaver")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = sender.HandleInbound([]byte(fmt.Sprintf(`{"n":%d}`, i)))
		}
	}()
	leaver.Close()
	wg.Wait()

	queued := len(leaver.Outbound())
	if err := sender.HandleInbound([]byte(`{"after":"close"}`)); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if len(leaver.Outbound()) != queued {
		t.Fatalf("closed session received a broadcast issued after leave")
	}
}

func TestSessionConcurrentRoomStress(t *testing.T) {
	const n = 100
	reg := NewRegistry()

	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := range n {
		s, err := NewSession("stress", reg, SessionOptions{ID: fmt.Sprintf("s%03d", i), OutboundBuffer: 2 * n})
		if err != nil {
			t.Fatalf("new session: %v", err)
		}
		sessions[i] = s
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Join()
		}()
	}
	wg.Wait()
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()

	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.HandleInbound([]byte(fmt.Sprintf(`{"from":%q}`, s.ID()))); err != nil {
				t.Errorf("handle inbound: %v", err)
			}
		}()
	}
	wg.Wait()

	for _, s := range sessions {
		if got := len(s.Outbound()); got != n-1 {
			t.Fatalf("session %s received %d messages, want %d", s.ID(), got, n-1)
		}
		seen := make(map[string]bool, n-1)
		for range n - 1 {
			env := <-s.Outbound()
			from := env.Payload.(map[string]any)["from"].(string)
			if from == s.ID() {
				t.Fatalf("session %s received its own message", s.ID())
			}
			if seen[from] {
				t.Fatalf("session %s received %s twice", s.ID(), from)
			}
			seen[from] = true
		}
	}
}

// A full room of 100 peers must fit in the default queue without drops.
func TestSessionDefaultOutboundBufferHoldsFullRoom(t *testing.T) {
	s, err := NewSession("r1", NewRegistry(), SessionOptions{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if got := cap(s.Outbound()); got < 99 {
		t.Fatalf("default outbound buffer %d can not hold one message from each of 99 peers", got)
	}
	for i := range 99 {
		if err := s.Deliver(Envelope{Sender: fmt.Sprintf("p%d", i), Payload: i}); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}
}
