// Package engine is the single I/O task described in spec.md §5: it
// owns the shared UDP socket (one reader goroutine; writes go straight
// to the socket from whichever goroutine sends), the session map, and
// the per-room forwarding index, and exposes the operations
// the HTTP control plane and the keepalive sweeper need. All mutable
// state here is touched from exactly one goroutine (Run's select
// loop); every other goroutine (sessions, the HTTP handlers, the UDP
// reader) reaches it only through channel-delivered commands, matching
// spec.md §9's "no locks required; all coordination is
// message-passing."
package engine

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/time/rate"

	"github.com/streamforge/mediasfu/internal/classify"
	"github.com/streamforge/mediasfu/internal/model"
	"github.com/streamforge/mediasfu/internal/registry"
	"github.com/streamforge/mediasfu/internal/sdp"
	"github.com/streamforge/mediasfu/internal/session"
	"github.com/streamforge/mediasfu/internal/stunserver"
	"github.com/streamforge/mediasfu/internal/thumbnail"
	"github.com/streamforge/mediasfu/internal/wire"
)

// SweepInterval is the keepalive sweeper's period (spec.md §4.12).
const SweepInterval = 1 * time.Second

// Config holds the engine's settings. IdleLimit is how long a session
// may go without traffic before eviction (spec.md §4.12's IDLE_LIMIT),
// overridable via config.
type Config struct {
	IdleLimit      time.Duration
	ReplayCapacity int
	Fingerprint    string
	Cert           tls.Certificate
}

// Engine ties together the registry, the UDP datapath, and every
// session's task. Construct with New, then run Start in a goroutine.
type Engine struct {
	cfg    Config
	reg    *registry.Registry
	logger *slog.Logger

	conn *net.UDPConn

	udpIn chan udpDatagram
	cmds  chan command

	sessions map[model.SessionID]sessionEntry
	rooms    map[model.RoomID]*model.Room

	thumbTaps map[model.RoomID]*thumbnail.Tap
	decoder   thumbnail.FrameDecoder
	encoder   thumbnail.StillEncoder

	// warnLimiter throttles the noisy warning paths below (inbox
	// saturation, malformed pre-nomination STUN) so a flood of bad
	// datagrams can't spam the log at line rate. Same smooth, no-burst
	// shape as the teacher's nest/queue.go command limiter.
	warnLimiter *rate.Limiter
}

type sessionEntry struct {
	sess   *session.Session
	cancel context.CancelFunc
}

type udpDatagram struct {
	data []byte
	from *net.UDPAddr
}

// New constructs an Engine bound to conn. decoder/encoder are the
// thumbnail tap's external collaborators; pass nil to disable the
// thumbnail feature entirely (spec.md §4.11 treats it as optional).
func New(conn *net.UDPConn, reg *registry.Registry, cfg Config, decoder thumbnail.FrameDecoder, encoder thumbnail.StillEncoder, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		reg:         reg,
		logger:      logger,
		conn:        conn,
		udpIn:       make(chan udpDatagram, 256),
		cmds:        make(chan command, 64),
		sessions:    make(map[model.SessionID]sessionEntry),
		rooms:       make(map[model.RoomID]*model.Room),
		thumbTaps:   make(map[model.RoomID]*thumbnail.Tap),
		decoder:     decoder,
		encoder:     encoder,
		warnLimiter: rate.NewLimiter(rate.Limit(5), 1),
	}
}

// Start launches the UDP reader goroutine and runs the engine's main
// loop until ctx is canceled.
func (e *Engine) Start(ctx context.Context) {
	go e.readLoop(ctx)
	e.run(ctx)
}

func (e *Engine) readLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if e.warnLimiter.Allow() {
				e.logger.Warn("udp read error", "error", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case e.udpIn <- udpDatagram{data: data, from: from}:
		case <-ctx.Done():
			return
		default:
			if e.warnLimiter.Allow() {
				e.logger.Warn("engine udp inbox saturated, dropping datagram")
			}
		}
	}
}

func (e *Engine) run(ctx context.Context) {
	sweep := time.NewTicker(SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-e.udpIn:
			e.dispatch(ctx, d)
		case c := <-e.cmds:
			c.apply(ctx, e)
		case <-sweep.C:
			e.sweep(ctx)
		}
	}
}

// send submits a command to the engine loop, for use by the HTTP
// control plane (a different goroutine than the engine loop). It
// returns once the command is queued; callers wait on the command's
// own reply channel for the result.
func (e *Engine) send(ctx context.Context, c command) error {
	select {
	case e.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) sendTo(addr *net.UDPAddr, data []byte) {
	if _, err := e.conn.WriteToUDP(data, addr); err != nil {
		e.logger.Debug("udp write error", "error", err, "addr", addr)
	}
}

// dispatch classifies one inbound datagram and routes it to the
// owning session, by address first (post-nomination, the hot path)
// and by STUN username otherwise (pre-nomination).
func (e *Engine) dispatch(ctx context.Context, d udpDatagram) {
	kind := classify.Classify(d.data)

	if sessionID, ok, err := e.reg.LookupByAddress(ctx, d.from.String()); err == nil && ok {
		if entry, ok := e.sessions[sessionID]; ok {
			entry.sess.Feed(kind, d.data, d.from)
			return
		}
	}

	if kind != classify.STUN {
		return
	}
	req, err := stunserver.ParseBindingRequest(d.data)
	if err != nil {
		if e.warnLimiter.Allow() {
			e.logger.Debug("malformed pre-nomination stun request", "from", d.from, "error", err)
		}
		return
	}
	sessionID, ok, err := e.reg.LookupByUsername(ctx, req.HostUsername, req.RemoteFrag)
	if err != nil || !ok {
		return
	}
	if entry, ok := e.sessions[sessionID]; ok {
		entry.sess.Feed(kind, d.data, d.from)
	}
}

func (e *Engine) sweep(ctx context.Context) {
	now := time.Now()
	var idle []model.SessionID
	for id, entry := range e.sessions {
		if now.Sub(entry.sess.LastTraffic()) > e.cfg.IdleLimit {
			idle = append(idle, id)
		}
	}
	for _, id := range idle {
		e.evict(ctx, id)
	}
}

func (e *Engine) evict(ctx context.Context, id model.SessionID) {
	removed, err := e.reg.Remove(ctx, id)
	if err != nil {
		e.logger.Warn("registry remove failed during eviction", "error", err)
		return
	}
	for _, rid := range removed {
		e.teardown(rid)
	}
}

func (e *Engine) teardown(id model.SessionID) {
	entry, ok := e.sessions[id]
	if !ok {
		return
	}
	entry.cancel()
	delete(e.sessions, id)

	room, hasRoom := e.rooms[entry.sess.RoomID]
	if !hasRoom {
		return
	}
	if room.Owner == id {
		delete(e.rooms, entry.sess.RoomID)
		delete(e.thumbTaps, entry.sess.RoomID)
	} else {
		delete(room.Viewers, id)
	}
}

// --- command plumbing: HTTP-facing operations ---

type command interface {
	apply(ctx context.Context, e *Engine)
}

type createStreamerCmd struct {
	offer []byte
	reply chan createResult
}

type createResult struct {
	answer []byte
	err    error
}

func (c createStreamerCmd) apply(ctx context.Context, e *Engine) {
	media, answer, err := sdp.NegotiateStreamer(c.offer, e.localUDPAddr(), e.cfg.Fingerprint)
	if err != nil {
		c.reply <- createResult{err: err}
		return
	}
	sessionID, roomID, err := e.reg.AddStreamer(ctx, media)
	if err != nil {
		c.reply <- createResult{err: wire.Wrap(wire.KindInternal, "engine: registry add_streamer", err)}
		return
	}
	e.rooms[roomID] = model.NewRoom(roomID, sessionID)
	if e.decoder != nil && e.encoder != nil {
		e.thumbTaps[roomID] = thumbnail.NewTap(e.decoder, e.encoder)
	}
	e.spawnSession(ctx, sessionID, roomID, model.RoleStreamer, media)
	c.reply <- createResult{answer: answer}
}

type createViewerCmd struct {
	offer  []byte
	roomID model.RoomID
	reply  chan createResult
}

func (c createViewerCmd) apply(ctx context.Context, e *Engine) {
	room, ok := e.rooms[c.roomID]
	if !ok {
		c.reply <- createResult{err: wire.New(wire.KindUnknownRoom, "engine: unknown room")}
		return
	}
	streamerEntry, ok := e.sessions[room.Owner]
	if !ok {
		c.reply <- createResult{err: wire.New(wire.KindUnknownRoom, "engine: streamer session missing")}
		return
	}

	media, answer, err := sdp.NegotiateViewer(c.offer, streamerEntry.sess.Media, e.localUDPAddr(), e.cfg.Fingerprint)
	if err != nil {
		c.reply <- createResult{err: err}
		return
	}
	sessionID, err := e.reg.AddViewer(ctx, media, c.roomID)
	if err != nil {
		c.reply <- createResult{err: wire.Wrap(wire.KindUnknownRoom, "engine: registry add_viewer", err)}
		return
	}
	room.Viewers[sessionID] = struct{}{}
	e.spawnSession(ctx, sessionID, c.roomID, model.RoleViewer, media)
	c.reply <- createResult{answer: answer}
}

func (e *Engine) spawnSession(ctx context.Context, id model.SessionID, roomID model.RoomID, role model.Role, media *model.NegotiatedMedia) {
	sessCtx, cancel := context.WithCancel(ctx)

	cb := session.Callbacks{
		Send:     e.sendTo,
		Nominate: func(addr *net.UDPAddr) { _ = e.reg.Nominate(sessCtx, id, addr.String()) },
	}
	if role == model.RoleStreamer {
		cb.ForwardRTP = func(pkt *rtp.Packet, payload []byte) {
			clone := &rtp.Packet{Header: pkt.Header, Payload: payload}
			select {
			case e.cmds <- forwardCmd{roomID: roomID, sourcePT: pkt.Header.PayloadType, pkt: clone}:
			case <-sessCtx.Done():
			}
		}
	} else {
		cb.DeliverRTCP = func(decrypted []byte) {
			select {
			case e.cmds <- rtcpCmd{sessionID: id, data: decrypted}:
			case <-sessCtx.Done():
			}
		}
	}
	cb.HandshakeFailed = func(err error) {
		e.logger.Warn("dtls handshake failed, evicting", "session_id", id, "error", err)
		select {
		case e.cmds <- evictCmd{sessionID: id}:
		case <-sessCtx.Done():
		}
	}

	sess := session.New(id, roomID, role, media, e.cfg.ReplayCapacity, cb, e.logger)

	// Start is called here, synchronously, on the engine's own goroutine,
	// and its result channel is handed to Run below: Go's go-statement
	// happens-before guarantee is what gives Run's goroutine a clean
	// view of the session's DTLS endpoint without a lock (session.go's
	// Start doc comment spells out the argument).
	handshakeResult := sess.Start(sessCtx, e.cfg.Cert, e.conn.LocalAddr())
	e.sessions[id] = sessionEntry{sess: sess, cancel: cancel}
	go sess.Run(sessCtx, handshakeResult)
}

type evictCmd struct {
	sessionID model.SessionID
}

func (c evictCmd) apply(ctx context.Context, e *Engine) {
	e.evict(ctx, c.sessionID)
}

func (e *Engine) localUDPAddr() *net.UDPAddr {
	addr, _ := e.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// CreateStreamer validates a WHIP offer and brings up a new streamer
// session, returning the SDP answer.
func (e *Engine) CreateStreamer(ctx context.Context, offer []byte) ([]byte, error) {
	reply := make(chan createResult, 1)
	if err := e.send(ctx, createStreamerCmd{offer: offer, reply: reply}); err != nil {
		return nil, err
	}
	res := <-reply
	return res.answer, res.err
}

// CreateViewer validates a WHEP offer against roomID's streamer media
// and brings up a new viewer session, returning the SDP answer.
func (e *Engine) CreateViewer(ctx context.Context, offer []byte, roomID model.RoomID) ([]byte, error) {
	reply := make(chan createResult, 1)
	if err := e.send(ctx, createViewerCmd{offer: offer, roomID: roomID, reply: reply}); err != nil {
		return nil, err
	}
	res := <-reply
	return res.answer, res.err
}

// ListRooms returns the registry's current room listing.
func (e *Engine) ListRooms(ctx context.Context) ([]registry.RoomSummary, error) {
	return e.reg.ListRooms(ctx)
}

type thumbnailCmd struct {
	roomID model.RoomID
	reply  chan thumbnailResult
}

type thumbnailResult struct {
	data []byte
	ok   bool
	err  error
}

func (c thumbnailCmd) apply(ctx context.Context, e *Engine) {
	tap, ok := e.thumbTaps[c.roomID]
	if !ok {
		c.reply <- thumbnailResult{ok: false}
		return
	}
	data, ok, err := tap.Snapshot()
	c.reply <- thumbnailResult{data: data, ok: ok, err: err}
}

// Thumbnail returns the cached WebP still for roomID, if any.
func (e *Engine) Thumbnail(ctx context.Context, roomID model.RoomID) ([]byte, bool, error) {
	reply := make(chan thumbnailResult, 1)
	if err := e.send(ctx, thumbnailCmd{roomID: roomID, reply: reply}); err != nil {
		return nil, false, err
	}
	res := <-reply
	return res.data, res.ok, res.err
}
