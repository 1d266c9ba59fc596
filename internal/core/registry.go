package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// Dispatcher forwards locally originated broadcasts to an external broker so that
// other relay processes can deliver them to their own members.
type Dispatcher interface {
	Dispatch(env Envelope)
}

// BroadcastResult summarizes one fan-out.
type BroadcastResult struct {
	Delivered int
	Failed    int
	Pruned    int
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Rooms   int
	Members int
}

// RoomStats describes a single room.
type RoomStats struct {
	Name    string
	Members int
}

// Option configures a Registry.
type Option func(r *Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithPruneEmptyRooms controls whether a room entry is dropped once its last member leaves.
func WithPruneEmptyRooms(prune bool) Option {
	return func(r *Registry) {
		r.prune = prune
	}
}

// WithDispatcher attaches a cross-process dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(r *Registry) {
		r.dispatcher = d
	}
}

// Registry maps room names to their member sets.
// All mutation goes through Join and Leave; Broadcast reads a snapshot.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]map[string]Member
	memberRoom map[string]string

	prune      bool
	dispatcher Dispatcher
	log        *zerolog.Logger
}

// NewRegistry creates an empty registry. Empty rooms are pruned unless disabled.
func NewRegistry(opts ...Option) *Registry {
	nop := zerolog.Nop()
	r := &Registry{
		rooms:      make(map[string]map[string]Member),
		memberRoom: make(map[string]string),
		prune:      true,
		log:        &nop,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetDispatcher attaches a dispatcher after construction.
func (r *Registry) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	r.dispatcher = d
	r.mu.Unlock()
}

// Join adds m to room, creating the room if absent. Returns true if newly added.
// A member already in another room is moved.
func (r *Registry) Join(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	if prev, ok := r.memberRoom[id]; ok && prev != room {
		r.removeLocked(prev, id)
	}

	set := r.rooms[room]
	if set == nil {
		set = make(map[string]Member)
		r.rooms[room] = set
	}
	if _, exists := set[id]; exists {
		return false
	}
	set[id] = m
	r.memberRoom[id] = room
	return true
}

// Leave removes m from room. Returns true if it was present.
func (r *Registry) Leave(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(room, m.ID())
}

func (r *Registry) removeLocked(room, id string) bool {
	set := r.rooms[room]
	if set == nil {
		return false
	}
	if _, exists := set[id]; !exists {
		return false
	}
	delete(set, id)
	if r.memberRoom[id] == room {
		delete(r.memberRoom, id)
	}
	if len(set) == 0 && r.prune {
		delete(r.rooms, room)
	}
	return true
}

// pruneStale drops m only if the set still holds this exact member.
func (r *Registry) pruneStale(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[room][m.ID()]; !ok || cur != m {
		return false
	}
	return r.removeLocked(room, m.ID())
}

// Broadcast delivers payload to every member of room except senderID and hands the
// envelope to the dispatcher, if any.
func (r *Registry) Broadcast(room, senderID string, payload proto.Payload) BroadcastResult {
	env := Envelope{Room: room, Sender: senderID, Payload: payload}
	res := r.BroadcastLocal(env)

	r.mu.Lock()
	d := r.dispatcher
	r.mu.Unlock()
	if d != nil {
		d.Dispatch(env)
	}
	return res
}

// BroadcastLocal delivers env to local members only. Messages arriving from other
// processes enter here so they are never dispatched again.
func (r *Registry) BroadcastLocal(env Envelope) BroadcastResult {
	targets := r.snapshot(env.Room, env.Sender)

	var res BroadcastResult
	for _, m := range targets {
		err := safeDeliver(m, env)
		if err == nil {
			res.Delivered++
			continue
		}
		res.Failed++
		if errors.Is(err, ErrSessionClosed) && r.pruneStale(env.Room, m) {
			res.Pruned++
		}
		r.log.Debug().Err(err).Str("room", env.Room).Str("member_id", m.ID()).Msg("delivery failed")
	}
	return res
}

func (r *Registry) snapshot(room, exclude string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.rooms[room]
	if len(set) == 0 {
		return nil
	}
	targets := make([]Member, 0, len(set))
	for id, m := range set {
		if id == exclude {
			continue
		}
		targets = append(targets, m)
	}
	return targets
}

func safeDeliver(m Member, env Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("deliver panic: %v", rec)
		}
	}()
	return m.Deliver(env)
}

// Members returns the sorted member IDs of room.
func (r *Registry) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.rooms[room]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomOf reports which room a member ID is in.
func (r *Registry) RoomOf(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.memberRoom[id]
	return room, ok
}

// Rooms lists rooms sorted by name.
func (r *Registry) Rooms() []RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomStats, 0, len(r.rooms))
	for name, set := range r.rooms {
		out = append(out, RoomStats{Name: name, Members: len(set)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Room reports whether room exists and its sorted member IDs.
func (r *Registry) Room(room string) ([]string, bool) {
	r.mu.Lock()
	set, ok := r.rooms[room]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids, ok
}

// Stats returns room and member totals.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Rooms: len(r.rooms), Members: len(r.memberRoom)}
}
