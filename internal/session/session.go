// Package session implements the per-session task described in
// spec.md §5: one goroutine per session, owning its DTLS endpoint,
// SRTP keys, and its RTP reporter (streamer) or replay cache (viewer), driven
// entirely by messages on an inbound channel so that nothing inside a
// session is ever touched from two goroutines at once.
package session

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/streamforge/mediasfu/internal/classify"
	"github.com/streamforge/mediasfu/internal/dtlsbringup"
	"github.com/streamforge/mediasfu/internal/model"
	"github.com/streamforge/mediasfu/internal/replaycache"
	"github.com/streamforge/mediasfu/internal/rtpreport"
	"github.com/streamforge/mediasfu/internal/stunserver"
)

// ReportInterval is how often a streamer session emits a compound RTCP
// report while it has a non-empty reporter state (spec.md §4.6, "every
// ~20ms for video").
const ReportInterval = 20 * time.Millisecond

// Callbacks are the session's only way to reach the outside world —
// the shared UDP socket, the registry, and the media forwarder — kept
// as plain functions so this package never imports theirs (they import
// this one).
type Callbacks struct {
	// Send transmits data to addr on the shared UDP socket.
	Send func(addr *net.UDPAddr, data []byte)
	// Nominate reports that addr has been ICE-nominated for this
	// session (ties into the registry's address_map).
	Nominate func(addr *net.UDPAddr)
	// ForwardRTP is called with each decrypted inbound RTP packet from
	// a streamer session, for the media forwarder to fan out to
	// viewers. Unused for viewer sessions.
	ForwardRTP func(pkt *rtp.Packet, payload []byte)
	// DeliverRTCP is called with each decrypted inbound SRTCP packet
	// from a viewer session, for RTCP ingress (§4.9) to process.
	DeliverRTCP func(decrypted []byte)
	// HandshakeFailed is called once, from Run's own goroutine, if the
	// DTLS handshake ends in a terminal error. The callback is expected
	// to arrange eviction of this session.
	HandshakeFailed func(err error)
}

// inbound is one datagram delivered to the session's task.
type inbound struct {
	kind classify.Kind
	data []byte
	from *net.UDPAddr
}

// outboundKind distinguishes the jobs queued on a Session's out
// channel — work that must run on the session's own goroutine because
// it touches the DTLS/SRTP state Run owns exclusively.
type outboundKind int

const (
	outboundRTP outboundKind = iota
	outboundRTCP
	outboundResend
)

// outboundMsg is a unit of work for Run to perform on behalf of
// another goroutine (the media forwarder, RTCP ingress), so that
// s.dtls and s.replay are never touched from outside Run's loop.
type outboundMsg struct {
	kind    outboundKind
	header  rtp.Header
	payload []byte
	raw     []byte
	seq     uint16
}

// Session is one streamer or viewer's complete bring-up and datapath
// state. All fields below this point are touched only from the Run
// goroutine.
type Session struct {
	ID     model.SessionID
	RoomID model.RoomID
	Role   model.Role
	Media  *model.NegotiatedMedia

	logger *slog.Logger
	cb     Callbacks

	in    chan inbound
	out   chan outboundMsg
	tick  *time.Ticker
	done  chan struct{}

	dtls        *dtlsbringup.Endpoint
	reporter    *rtpreport.Reporter
	replay      *replaycache.Cache
	remoteAddr  *net.UDPAddr
	lastTraffic time.Time

	// state is published with atomic ops rather than a lock: Run is its
	// sole writer, but State() is read from the engine's own goroutine
	// (the media forwarder, RTCP ingress) to decide whether this
	// session's DTLS/SRTP state is safe to use (spec.md §4.4, "no SRTP
	// operation occurs in other states").
	state atomic.Int32
}

// New constructs a Session. role/media/roomID are fixed at
// negotiation time; the caller must call Start to begin the DTLS
// handshake and Run's goroutine.
func New(id model.SessionID, roomID model.RoomID, role model.Role, media *model.NegotiatedMedia, replayCapacity int, cb Callbacks, logger *slog.Logger) *Session {
	s := &Session{
		ID:          id,
		RoomID:      roomID,
		Role:        role,
		Media:       media,
		logger:      logger.With("session_id", id, "role", role.String()),
		cb:          cb,
		in:          make(chan inbound, 64),
		out:         make(chan outboundMsg, 64),
		done:        make(chan struct{}),
		lastTraffic: time.Now(),
	}
	if role == model.RoleStreamer {
		s.reporter = rtpreport.NewReporter(media.Video.HostSSRC, media.Video.RemoteSSRC)
	} else {
		s.replay = replaycache.New(replayCapacity)
	}
	return s
}

// Feed delivers one classified datagram to the session. It never
// blocks the caller (the shared UDP reader task): if the session's
// inbox is saturated, the datagram is dropped, matching the UDP
// datapath's best-effort delivery.
func (s *Session) Feed(kind classify.Kind, data []byte, from *net.UDPAddr) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case s.in <- inbound{kind: kind, data: buf, from: from}:
	default:
		s.logger.Warn("session inbox saturated, dropping datagram", "kind", kind.String())
	}
}

// State reports the current DTLS/SRTP bring-up state (spec.md §4.4).
// Safe to call from any goroutine.
func (s *Session) State() model.ConnState { return model.ConnState(s.state.Load()) }

func (s *Session) setState(v model.ConnState) { s.state.Store(int32(v)) }

// LastTraffic reports the last time any inbound datagram was
// attributed to this session, for the keepalive sweeper (spec.md
// §4.12).
func (s *Session) LastTraffic() time.Time { return s.lastTraffic }

// Start begins the DTLS handshake and returns a channel that receives
// the handshake's terminal result (nil on success). The caller must
// invoke Start synchronously and pass the returned channel to Run
// before spawning Run's goroutine: Go's go-statement happens-before
// rule then guarantees Run's goroutine observes the s.dtls this writes
// without any further synchronization, and Run's later receive on the
// returned channel does the same for the SRTP keys the handshake
// goroutine installs on success.
func (s *Session) Start(ctx context.Context, cert tls.Certificate, local net.Addr) <-chan error {
	s.dtls = dtlsbringup.New(local, s.remoteAddrOrZero(), func(b []byte) {
		if s.remoteAddr != nil {
			s.cb.Send(s.remoteAddr, b)
		}
	}, s.logger)
	return s.dtls.Start(ctx, cert)
}

func (s *Session) remoteAddrOrZero() net.Addr {
	if s.remoteAddr != nil {
		return s.remoteAddr
	}
	return &net.UDPAddr{}
}

// Run drives the session's single-threaded event loop until ctx is
// canceled. handshakeResult is the channel Start returned; Run is the
// only goroutine that ever receives from it, which is what lets every
// later read of s.dtls.SRTP in this loop skip synchronization — see
// Start's doc comment for the happens-before argument.
func (s *Session) Run(ctx context.Context, handshakeResult <-chan error) {
	defer close(s.done)

	if s.Role == model.RoleStreamer {
		s.tick = time.NewTicker(ReportInterval)
		defer s.tick.Stop()
	}

	var tickC <-chan time.Time
	if s.tick != nil {
		tickC = s.tick.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.in:
			s.handle(msg)
		case m := <-s.out:
			s.handleOutbound(m)
		case <-tickC:
			s.emitReport()
		case err := <-handshakeResult:
			handshakeResult = nil
			if err != nil {
				s.logger.Warn("dtls handshake failed", "error", err)
				s.setState(model.StateShutdown)
				if s.cb.HandshakeFailed != nil {
					s.cb.HandshakeFailed(err)
				}
				continue
			}
			s.setState(model.StateEstablished)
		}
	}
}

func (s *Session) handle(msg inbound) {
	s.lastTraffic = time.Now()

	switch msg.kind {
	case classify.STUN:
		s.handleSTUN(msg.data, msg.from)
	case classify.DTLS:
		s.remoteAddr = msg.from
		s.dtls.Feed(msg.data)
	case classify.RTP:
		s.handleRTP(msg.data)
	case classify.RTCP:
		s.handleRTCP(msg.data)
	}
}

func (s *Session) handleOutbound(m outboundMsg) {
	switch m.kind {
	case outboundRTP:
		s.sendEncrypted(&m.header, m.payload)
	case outboundRTCP:
		s.sendRTCP(m.raw)
	case outboundResend:
		s.resend(m.seq)
	}
}

func (s *Session) handleSTUN(data []byte, from *net.UDPAddr) {
	req, err := stunserver.ParseBindingRequest(data)
	if err != nil {
		s.logger.Debug("stun parse failed", "error", err)
		return
	}
	if req.HostUsername != s.Media.ICE.HostUsername {
		return
	}
	if err := req.CheckIntegrity(s.Media.ICE.HostPassword); err != nil {
		s.logger.Debug("stun integrity check failed", "error", err)
		return
	}

	resp, err := stunserver.BuildSuccess(req.Message.TransactionID, from, s.Media.ICE.HostPassword)
	if err != nil {
		s.logger.Warn("stun build success failed", "error", err)
		return
	}
	s.cb.Send(from, resp)

	if req.UseCandidate {
		s.remoteAddr = from
		if s.cb.Nominate != nil {
			s.cb.Nominate(from)
		}
	}
}

func (s *Session) handleRTP(data []byte) {
	if s.Role != model.RoleStreamer || s.State() != model.StateEstablished {
		return
	}
	header := &rtp.Header{}
	n, err := header.Unmarshal(data)
	if err != nil {
		return
	}
	plaintext, err := s.dtls.SRTP.UnprotectRTP(header, data)
	if err != nil {
		return
	}
	if s.reporter != nil && header.PayloadType == s.Media.Video.PayloadNumber {
		s.reporter.UpdateSeq(header.SequenceNumber)
	}
	if s.cb.ForwardRTP != nil {
		pkt := &rtp.Packet{Header: *header, Payload: plaintext[n:]}
		s.cb.ForwardRTP(pkt, plaintext[n:])
	}
}

func (s *Session) handleRTCP(data []byte) {
	if s.State() != model.StateEstablished {
		return
	}
	plaintext, err := s.dtls.SRTP.UnprotectRTCP(data)
	if err != nil {
		return
	}
	if s.cb.DeliverRTCP != nil {
		s.cb.DeliverRTCP(plaintext)
	}
}

func (s *Session) emitReport() {
	if s.reporter == nil || s.remoteAddr == nil || s.State() != model.StateEstablished {
		return
	}
	if len(s.reporter.MissingPackets()) == 0 && !s.reporter.HasReceived() {
		return
	}
	report, err := s.reporter.GenerateReport()
	if err != nil {
		s.logger.Warn("generate rtcp report failed", "error", err)
		return
	}
	s.sendRTCP(report)
}

// SendRTCP queues a pre-built RTCP packet for this session's own
// goroutine to protect and send to its peer. Used for forwarding a
// viewer's PLI back toward the streamer (spec.md §4.9); callable from
// the engine's goroutine because it only ever touches s.out, never the
// DTLS/SRTP state directly — that stays exclusively Run's.
func (s *Session) SendRTCP(raw []byte) {
	buf := append([]byte(nil), raw...)
	select {
	case s.out <- outboundMsg{kind: outboundRTCP, raw: buf}:
	default:
		s.logger.Warn("session outbox saturated, dropping rtcp packet")
	}
}

// sendRTCP is the Run-goroutine-only half of SendRTCP.
func (s *Session) sendRTCP(raw []byte) {
	if s.State() != model.StateEstablished || s.remoteAddr == nil {
		return
	}
	encrypted, err := s.dtls.SRTP.ProtectRTCP(raw)
	if err != nil {
		return
	}
	s.cb.Send(s.remoteAddr, encrypted)
}

// Replay returns the session's replay cache (viewer sessions only;
// nil for streamer sessions).
func (s *Session) Replay() *replaycache.Cache { return s.replay }

// RemoteAddr returns the session's nominated remote address, or nil if
// not yet nominated.
func (s *Session) RemoteAddr() *net.UDPAddr { return s.remoteAddr }

// SendEncrypted queues an already-rewritten RTP packet for this
// (viewer) session's own goroutine to protect, replay-cache, and send
// to its peer (spec.md §4.8). Callable from the engine's forwarding
// goroutine without touching DTLS/SRTP state directly.
func (s *Session) SendEncrypted(header *rtp.Header, payload []byte) {
	buf := append([]byte(nil), payload...)
	select {
	case s.out <- outboundMsg{kind: outboundRTP, header: *header, payload: buf}:
	default:
		s.logger.Warn("session outbox saturated, dropping forwarded packet")
	}
}

// sendEncrypted is the Run-goroutine-only half of SendEncrypted.
func (s *Session) sendEncrypted(header *rtp.Header, payload []byte) {
	if s.State() != model.StateEstablished || s.remoteAddr == nil {
		return
	}
	encrypted, err := s.dtls.SRTP.ProtectRTP(header, payload)
	if err != nil {
		return
	}
	if s.replay != nil {
		s.replay.Insert(encrypted)
	}
	s.cb.Send(s.remoteAddr, encrypted)
}

// Resend queues a replay-cache retransmission by sequence number, for
// NACK-driven retransmission (spec.md §4.9). Callable from the
// engine's goroutine; the cache itself is only ever touched by this
// session's own Run loop.
func (s *Session) Resend(seq uint16) {
	select {
	case s.out <- outboundMsg{kind: outboundResend, seq: seq}:
	default:
		s.logger.Warn("session outbox saturated, dropping resend request", "seq", seq)
	}
}

// resend is the Run-goroutine-only half of Resend.
func (s *Session) resend(seq uint16) {
	if s.replay == nil || s.remoteAddr == nil {
		return
	}
	if data, ok := s.replay.Get(seq); ok {
		s.cb.Send(s.remoteAddr, data)
	}
}
