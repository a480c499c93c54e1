// Package registry implements the session registry described in
// spec.md §4.5: the single point of coordination across sessions,
// rooms, and the username/address lookup tables that the UDP
// dispatcher and HTTP control plane consult. Per spec.md §5's
// concurrency model ("no locks required; all coordination is
// message-passing"), the registry runs as a single goroutine owning
// its maps, and every operation is a request/response message sent
// over a channel rather than a guarded critical section.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/streamforge/mediasfu/internal/model"
)

// usernameKey is the (host_ufrag, remote_ufrag) pair key for
// pre-nomination lookups.
type usernameKey struct {
	host   string
	remote string
}

// RoomSummary is the JSON-facing view of a room, for GET /rooms.
type RoomSummary struct {
	RoomID      model.RoomID
	ViewerCount int
}

// Registry is the running registry actor. Create with New, and call
// Run in its own goroutine before issuing any operation.
type Registry struct {
	ops  chan op
	done chan struct{}
}

// New constructs a Registry. The caller must start Run before issuing
// operations.
func New() *Registry {
	return &Registry{
		ops:  make(chan op),
		done: make(chan struct{}),
	}
}

// Run drives the registry's single-goroutine event loop until ctx is
// canceled. It should be started with `go reg.Run(ctx)` once, at
// startup.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	state := newState()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-r.ops:
			o.apply(state)
		}
	}
}

// state is the registry's private data, touched only from the Run
// goroutine.
type state struct {
	usernameMap map[usernameKey]model.SessionID
	addressMap  map[string]model.SessionID
	rooms       map[model.RoomID]*model.Room

	sessionRoom     map[model.SessionID]model.RoomID
	sessionUsername map[model.SessionID]usernameKey
	sessionAddress  map[model.SessionID]string
}

func newState() *state {
	return &state{
		usernameMap:     make(map[usernameKey]model.SessionID),
		addressMap:      make(map[string]model.SessionID),
		rooms:           make(map[model.RoomID]*model.Room),
		sessionRoom:     make(map[model.SessionID]model.RoomID),
		sessionUsername: make(map[model.SessionID]usernameKey),
		sessionAddress:  make(map[model.SessionID]string),
	}
}

// op is one registry operation, carrying its own reply channel.
type op interface {
	apply(*state)
}

// send submits op and blocks until the registry goroutine has received
// it, respecting ctx cancellation. Callers wait on the op's own reply
// or done channel for the result.
func (r *Registry) send(ctx context.Context, o op) error {
	select {
	case r.ops <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return fmt.Errorf("registry: stopped")
	}
}

// --- AddStreamer ---

type addStreamerOp struct {
	reply chan addStreamerResult
}

type addStreamerResult struct {
	sessionID model.SessionID
	roomID    model.RoomID
}

func (o addStreamerOp) apply(s *state) {
	sessionID := uuid.New()
	roomID := uuid.New()

	s.rooms[roomID] = model.NewRoom(roomID, sessionID)
	s.sessionRoom[sessionID] = roomID

	o.reply <- addStreamerResult{sessionID: sessionID, roomID: roomID}
}

// AddStreamer registers a new streamer session and creates its room.
func (r *Registry) AddStreamer(ctx context.Context, media *model.NegotiatedMedia) (model.SessionID, model.RoomID, error) {
	reply := make(chan addStreamerResult, 1)
	if err := r.send(ctx, addStreamerOp{reply: reply}); err != nil {
		return model.SessionID{}, model.RoomID{}, err
	}
	res := <-reply

	key := usernameKey{host: media.ICE.HostUsername, remote: media.ICE.RemoteUsername}
	if err := r.bindUsername(ctx, res.sessionID, key); err != nil {
		return model.SessionID{}, model.RoomID{}, err
	}
	return res.sessionID, res.roomID, nil
}

// --- AddViewer ---

type addViewerOp struct {
	roomID model.RoomID
	reply  chan addViewerResult
}

type addViewerResult struct {
	sessionID model.SessionID
	ok        bool
}

func (o addViewerOp) apply(s *state) {
	room, ok := s.rooms[o.roomID]
	if !ok {
		o.reply <- addViewerResult{ok: false}
		return
	}
	sessionID := uuid.New()
	room.Viewers[sessionID] = struct{}{}
	s.sessionRoom[sessionID] = o.roomID
	o.reply <- addViewerResult{sessionID: sessionID, ok: true}
}

// ErrUnknownRoom is returned by AddViewer when roomID has no streamer.
var ErrUnknownRoom = fmt.Errorf("registry: unknown room")

// AddViewer registers a new viewer session in roomID. It fails if the
// room doesn't exist (no streamer), per spec.md §4.5.
func (r *Registry) AddViewer(ctx context.Context, media *model.NegotiatedMedia, roomID model.RoomID) (model.SessionID, error) {
	reply := make(chan addViewerResult, 1)
	if err := r.send(ctx, addViewerOp{roomID: roomID, reply: reply}); err != nil {
		return model.SessionID{}, err
	}
	res := <-reply
	if !res.ok {
		return model.SessionID{}, ErrUnknownRoom
	}

	key := usernameKey{host: media.ICE.HostUsername, remote: media.ICE.RemoteUsername}
	if err := r.bindUsername(ctx, res.sessionID, key); err != nil {
		return model.SessionID{}, err
	}
	return res.sessionID, nil
}

// --- bindUsername (internal to Add*) ---

type bindUsernameOp struct {
	sessionID model.SessionID
	key       usernameKey
	done      chan struct{}
}

func (o bindUsernameOp) apply(s *state) {
	s.usernameMap[o.key] = o.sessionID
	s.sessionUsername[o.sessionID] = o.key
	close(o.done)
}

func (r *Registry) bindUsername(ctx context.Context, sessionID model.SessionID, key usernameKey) error {
	done := make(chan struct{})
	if err := r.send(ctx, bindUsernameOp{sessionID: sessionID, key: key, done: done}); err != nil {
		return err
	}
	<-done
	return nil
}

// --- Nominate ---

type nominateOp struct {
	sessionID model.SessionID
	addr      string
	done      chan struct{}
}

func (o nominateOp) apply(s *state) {
	if old, ok := s.sessionAddress[o.sessionID]; ok {
		delete(s.addressMap, old)
	}
	s.addressMap[o.addr] = o.sessionID
	s.sessionAddress[o.sessionID] = o.addr
	close(o.done)
}

// Nominate binds sessionID's remote socket address, per spec.md §4.5's
// "nominate(session_id, socket_addr): sets socket; reassigns
// address_map."
func (r *Registry) Nominate(ctx context.Context, sessionID model.SessionID, addr string) error {
	done := make(chan struct{})
	if err := r.send(ctx, nominateOp{sessionID: sessionID, addr: addr, done: done}); err != nil {
		return err
	}
	<-done
	return nil
}

// --- Remove ---

type removeOp struct {
	sessionID model.SessionID
	reply     chan []model.SessionID
}

func (o removeOp) apply(s *state) {
	removed := []model.SessionID{}

	roomID, hasRoom := s.sessionRoom[o.sessionID]
	if hasRoom {
		if room, ok := s.rooms[roomID]; ok && room.Owner == o.sessionID {
			for viewerID := range room.Viewers {
				removed = append(removed, viewerID)
			}
			delete(s.rooms, roomID)
		} else if room != nil {
			delete(room.Viewers, o.sessionID)
		}
	}
	removed = append(removed, o.sessionID)

	for _, id := range removed {
		delete(s.sessionRoom, id)
		if key, ok := s.sessionUsername[id]; ok {
			delete(s.usernameMap, key)
			delete(s.sessionUsername, id)
		}
		if addr, ok := s.sessionAddress[id]; ok {
			delete(s.addressMap, addr)
			delete(s.sessionAddress, id)
		}
	}

	o.reply <- removed
}

// Remove evicts sessionID, cascading to all viewers if it's a
// streamer, per spec.md §4.5. It returns every session id evicted as
// part of the cascade (including sessionID itself) so the caller can
// tear down each session's task. Remove is idempotent: removing an
// unknown id returns just that id.
func (r *Registry) Remove(ctx context.Context, sessionID model.SessionID) ([]model.SessionID, error) {
	reply := make(chan []model.SessionID, 1)
	if err := r.send(ctx, removeOp{sessionID: sessionID, reply: reply}); err != nil {
		return nil, err
	}
	return <-reply, nil
}

// --- Lookups ---

type lookupUsernameOp struct {
	key   usernameKey
	reply chan lookupResult
}

type lookupResult struct {
	sessionID model.SessionID
	ok        bool
}

func (o lookupUsernameOp) apply(s *state) {
	id, ok := s.usernameMap[o.key]
	o.reply <- lookupResult{sessionID: id, ok: ok}
}

// LookupByUsername resolves a pre-nomination STUN USERNAME split
// (host_ufrag, remote_ufrag) to a session id.
func (r *Registry) LookupByUsername(ctx context.Context, hostUfrag, remoteUfrag string) (model.SessionID, bool, error) {
	reply := make(chan lookupResult, 1)
	key := usernameKey{host: hostUfrag, remote: remoteUfrag}
	if err := r.send(ctx, lookupUsernameOp{key: key, reply: reply}); err != nil {
		return model.SessionID{}, false, err
	}
	res := <-reply
	return res.sessionID, res.ok, nil
}

type lookupAddressOp struct {
	addr  string
	reply chan lookupResult
}

func (o lookupAddressOp) apply(s *state) {
	id, ok := s.addressMap[o.addr]
	o.reply <- lookupResult{sessionID: id, ok: ok}
}

// LookupByAddress resolves a post-nomination remote socket address to
// a session id.
func (r *Registry) LookupByAddress(ctx context.Context, addr string) (model.SessionID, bool, error) {
	reply := make(chan lookupResult, 1)
	if err := r.send(ctx, lookupAddressOp{addr: addr, reply: reply}); err != nil {
		return model.SessionID{}, false, err
	}
	res := <-reply
	return res.sessionID, res.ok, nil
}

// --- Rooms listing ---

type listRoomsOp struct {
	reply chan []RoomSummary
}

func (o listRoomsOp) apply(s *state) {
	out := make([]RoomSummary, 0, len(s.rooms))
	for id, room := range s.rooms {
		out = append(out, RoomSummary{RoomID: id, ViewerCount: room.ViewerCount()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RoomID.String() < out[j].RoomID.String()
	})
	o.reply <- out
}

// ListRooms returns a snapshot of every active room, for GET /rooms.
func (r *Registry) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	reply := make(chan []RoomSummary, 1)
	if err := r.send(ctx, listRoomsOp{reply: reply}); err != nil {
		return nil, err
	}
	return <-reply, nil
}
