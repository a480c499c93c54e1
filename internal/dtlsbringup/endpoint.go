// Package dtlsbringup drives the per-session DTLS endpoint described
// in spec.md §4.4: a passive (server) role endpoint negotiating the
// SRTP_AES128_CM_SHA1_80 extension, fed by push from the shared UDP
// socket and yielding a keyed SRTP pair on handshake completion.
package dtlsbringup

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pion/dtls/v3"

	"github.com/streamforge/mediasfu/internal/srtpctx"
)

// dtlsSRTPLabel is the RFC 5764 §4.2 keying-material export label.
const dtlsSRTPLabel = "EXTRACTOR-dtls_srtp"

// HandshakeTimeout is the hard idle timeout on the Handshaking state
// spec.md §4.4 specifies (10s).
const HandshakeTimeout = 10 * time.Second

// Endpoint owns one session's DTLS server connection and the SRTP pair
// it yields. It is driven entirely by push: Feed delivers inbound DTLS
// records, and an outbound callback drains records to the UDP socket.
// Its bring-up state is tracked by the owning Session (spec.md §4.4),
// not here: the handshake goroutine below has exactly one consumer —
// the result channel — and never publishes a status field of its own
// for another goroutine to poll.
type Endpoint struct {
	conn   *pushConn
	logger *slog.Logger

	done   chan struct{}
	result chan error

	dtlsConn *dtls.Conn
	SRTP     *srtpctx.Pair
}

// New creates an Endpoint for one session. send is called with each
// outbound DTLS record; it should hand the bytes to the UDP socket
// addressed at remote.
func New(local, remote net.Addr, send func([]byte), logger *slog.Logger) *Endpoint {
	return &Endpoint{
		conn:   newPushConn(local, remote, send),
		logger: logger,
		done:   make(chan struct{}),
		result: make(chan error, 1),
	}
}

// Feed delivers one inbound DTLS record read off the shared UDP
// socket. Records fed after Close are discarded by pushConn itself,
// via its own closed channel, so Feed needs no state of its own to
// consult.
func (e *Endpoint) Feed(record []byte) {
	e.conn.feed(record)
}

// Start begins the DTLS server handshake in a background goroutine.
// The certificate provided is also the one whose SHA-256 fingerprint
// the SDP negotiator advertises (spec.md §4.3). It returns a channel
// that receives exactly one value: nil on successful bring-up to
// Established, or the terminal error on handshake failure.
func (e *Endpoint) Start(ctx context.Context, cert tls.Certificate) <-chan error {
	cfg := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ClientAuth:           dtls.RequireAnyClientCert,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}

	hsCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)

	go func() {
		defer cancel()
		defer close(e.done)

		dconn, err := dtls.ServerWithContext(hsCtx, e.conn, cfg)
		if err != nil {
			e.logger.Warn("dtls handshake failed", "remote", e.conn.RemoteAddr(), "error", err)
			e.result <- fmt.Errorf("dtlsbringup: handshake failed: %w", err)
			return
		}
		e.dtlsConn = dconn

		material, err := dconn.ConnectionState().ExportKeyingMaterial(dtlsSRTPLabel, nil, srtpctx.ExportedMaterialLen)
		if err != nil {
			e.logger.Warn("srtp keying material export failed", "remote", e.conn.RemoteAddr(), "error", err)
			e.result <- fmt.Errorf("dtlsbringup: export keying material: %w", err)
			return
		}

		pair, err := srtpctx.NewPair(material)
		if err != nil {
			e.result <- err
			return
		}

		e.SRTP = pair
		e.logger.Info("dtls/srtp established", "remote", e.conn.RemoteAddr())
		e.result <- nil
	}()

	return e.result
}

// Close tears down the endpoint, discarding any further fed records.
func (e *Endpoint) Close() error {
	if e.dtlsConn != nil {
		return e.dtlsConn.Close()
	}
	return e.conn.Close()
}
