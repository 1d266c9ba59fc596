package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustEnvelope(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()

	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("expected envelope not received")
	}
	return Envelope{}
}

func expectNoEnvelope(t *testing.T, ch <-chan Envelope) {
	t.Helper()

	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func newJoinedSession(t *testing.T, reg *Registry, room, id string) *Session {
	t.Helper()

	s, err := NewSession(room, reg, SessionOptions{ID: id, OutboundBuffer: 128})
	if err != nil {
		t.Fatalf("new session %s: %v", id, err)
	}
	s.Join()
	t.Cleanup(s.Close)
	return s
}

// fakeMember records deliveries and can be told to fail or panic.
type fakeMember struct {
	id string

	mu       sync.Mutex
	received []Envelope
	err      error
	panics   bool
}

func newFakeMember(id string) *fakeMember {
	return &fakeMember{id: id}
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Deliver(env Envelope) error {
	if m.panics {
		panic("boom")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.received = append(m.received, env)
	return nil
}

func (m *fakeMember) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

type countingRecorder struct {
	opened, closed, received, parseFailed, delivered, failed atomic.Int64
}

func (r *countingRecorder) SessionOpened()       { r.opened.Add(1) }
func (r *countingRecorder) SessionClosed()       { r.closed.Add(1) }
func (r *countingRecorder) MessageReceived()     { r.received.Add(1) }
func (r *countingRecorder) ParseFailed()         { r.parseFailed.Add(1) }
func (r *countingRecorder) Delivered(n int)      { r.delivered.Add(int64(n)) }
func (r *countingRecorder) DeliveryFailed(n int) { r.failed.Add(int64(n)) }

type captureDispatcher struct {
	mu   sync.Mutex
	envs []Envelope
}

func (d *captureDispatcher) Dispatch(env Envelope) {
	d.mu.Lock()
	d.envs = append(d.envs, env)
	d.mu.Unlock()
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.envs)
}
