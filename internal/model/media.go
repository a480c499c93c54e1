// Package model holds the plain data types shared across the media
// server's components: negotiated media descriptions, ICE credentials,
// and room membership. None of these types own goroutines or sockets —
// they're moved around by value or by id, per spec.md §9's "ids, never
// owning handles" design note.
package model

import "github.com/google/uuid"

// AudioCodec enumerates the codecs the negotiator accepts for audio.
type AudioCodec string

const AudioCodecOpus AudioCodec = "opus"

// VideoCodec enumerates the codecs the negotiator accepts for video.
type VideoCodec string

const VideoCodecH264 VideoCodec = "h264"

// ICECredentials are the short-term STUN credentials for one session's
// 5-tuple. The host side is generated by us; the remote side is echoed
// from the peer's SDP offer.
type ICECredentials struct {
	HostUsername   string
	HostPassword   string
	RemoteUsername string
	RemotePassword string
}

// Username returns the combined ICE username fragment pair as it
// appears on the wire: "hostfrag:remotefrag".
func (c ICECredentials) Username() string {
	return c.HostUsername + ":" + c.RemoteUsername
}

// AudioTrack describes one session's negotiated audio leg.
type AudioTrack struct {
	Codec          AudioCodec
	PayloadNumber  uint8
	HostSSRC       uint32
	RemoteSSRC     uint32
	HasRemoteSSRC  bool
}

// VideoTrack describes one session's negotiated video leg. Capabilities
// holds the FMTP format parameters as ordered key=value pairs, e.g.
// "profile-level-id=42e01f", "packetization-mode=1".
type VideoTrack struct {
	Codec          VideoCodec
	PayloadNumber  uint8
	Capabilities   []string
	HostSSRC       uint32
	RemoteSSRC     uint32
	HasRemoteSSRC  bool
}

// NegotiatedMedia is the complete result of SDP offer/answer exchange
// for one session, streamer or viewer.
type NegotiatedMedia struct {
	ICE         ICECredentials
	Audio       AudioTrack
	Video       VideoTrack
	Fingerprint string // sha-256 hex of the host DER certificate
}

// Role identifies whether a session is the single publishing streamer
// or one of many subscribing viewers.
type Role int

const (
	RoleStreamer Role = iota
	RoleViewer
)

func (r Role) String() string {
	if r == RoleStreamer {
		return "streamer"
	}
	return "viewer"
}

// ConnState is the DTLS/SRTP bring-up state machine position (spec.md
// §4.4).
type ConnState int

const (
	StateHandshaking ConnState = iota
	StateEstablished
	StateShutdown
)

func (s ConnState) String() string {
	switch s {
	case StateEstablished:
		return "established"
	case StateShutdown:
		return "shutdown"
	default:
		return "handshaking"
	}
}

// RoomID identifies a room; the HTTP control plane surfaces it as a
// UUID string in the /rooms JSON response and WHEP's target_id query
// parameter.
type RoomID = uuid.UUID

// SessionID identifies a session; opaque 128-bit per spec.md §3.
type SessionID = uuid.UUID

// Room tracks one streamer and its subscribed viewers. Created when
// the streamer is added, destroyed on streamer eviction.
type Room struct {
	ID      RoomID
	Owner   SessionID
	Viewers map[SessionID]struct{}
}

// NewRoom creates a Room owned by owner with no viewers.
func NewRoom(id RoomID, owner SessionID) *Room {
	return &Room{ID: id, Owner: owner, Viewers: make(map[SessionID]struct{})}
}

// ViewerCount returns the number of viewers currently subscribed.
func (r *Room) ViewerCount() int {
	return len(r.Viewers)
}
