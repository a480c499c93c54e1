package sdp

import (
	"fmt"
	"net"
	"strings"

	"github.com/streamforge/mediasfu/internal/model"
)

// candidatePriority mirrors the single host-candidate priority the
// teacher reference server always advertises
// (original_source/media_server/crates/sdp/src/resolvers.rs's
// Candidate{priority: 2015363327, ...}); the value never varies since
// there is exactly one host candidate and no ICE prioritization logic.
const candidatePriority = 2015363327

// BuildAnswer constructs the deterministic SDP answer spec.md §4.3
// requires: fixed line order, host ice-lite/ice2, setup=passive, a
// single host candidate at socket, and one ssrc per section with
// cname=cnameConst. direction is "recvonly" when answering a streamer
// (server only receives) and "sendonly" when answering a viewer
// (server only sends).
func BuildAnswer(media *model.NegotiatedMedia, socket *net.UDPAddr, mode Mode) []byte {
	direction := "recvonly"
	if mode == ModeViewer {
		direction = "sendonly"
	}

	ip := socket.IP.String()
	port := socket.Port

	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- 0 0 IN IP4 %s\r\n", ip)
	fmt.Fprintf(&b, "s=-\r\n")
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "a=group:BUNDLE 0 1\r\n")
	fmt.Fprintf(&b, "a=ice-lite\r\n")
	fmt.Fprintf(&b, "a=ice-options:ice2\r\n")
	fmt.Fprintf(&b, "a=fingerprint:sha-256 %s\r\n", media.Fingerprint)
	fmt.Fprintf(&b, "a=setup:passive\r\n")
	fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", media.ICE.HostUsername)
	fmt.Fprintf(&b, "a=ice-pwd:%s\r\n", media.ICE.HostPassword)

	fmt.Fprintf(&b, "m=audio %d UDP/TLS/RTP/SAVPF %d\r\n", port, media.Audio.PayloadNumber)
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", ip)
	fmt.Fprintf(&b, "a=mid:0\r\n")
	fmt.Fprintf(&b, "a=%s\r\n", direction)
	fmt.Fprintf(&b, "a=rtcp-mux\r\n")
	fmt.Fprintf(&b, "a=rtpmap:%d opus/48000/2\r\n", media.Audio.PayloadNumber)
	writeCandidate(&b, ip, port)
	fmt.Fprintf(&b, "a=ssrc:%d cname:%s\r\n", media.Audio.HostSSRC, cnameConst)

	fmt.Fprintf(&b, "m=video %d UDP/TLS/RTP/SAVPF %d\r\n", port, media.Video.PayloadNumber)
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", ip)
	fmt.Fprintf(&b, "a=mid:1\r\n")
	fmt.Fprintf(&b, "a=%s\r\n", direction)
	fmt.Fprintf(&b, "a=rtcp-mux\r\n")
	fmt.Fprintf(&b, "a=rtpmap:%d H264/90000\r\n", media.Video.PayloadNumber)
	if len(media.Video.Capabilities) > 0 {
		fmt.Fprintf(&b, "a=fmtp:%d %s\r\n", media.Video.PayloadNumber, strings.Join(media.Video.Capabilities, ";"))
	}
	writeCandidate(&b, ip, port)
	fmt.Fprintf(&b, "a=ssrc:%d cname:%s\r\n", media.Video.HostSSRC, cnameConst)

	return []byte(b.String())
}

func writeCandidate(b *strings.Builder, ip string, port int) {
	fmt.Fprintf(b, "a=candidate:1 1 UDP %d %s %d typ host\r\n", candidatePriority, ip, port)
	fmt.Fprintf(b, "a=end-of-candidates\r\n")
}

// NewHostCredentials generates the host ice-ufrag (4 chars) and
// ice-pwd (24 chars) spec.md §4.3 requires per session.
func NewHostCredentials() (ufrag, pwd string, err error) {
	ufrag, err = randomAlnum(4)
	if err != nil {
		return "", "", err
	}
	pwd, err = randomAlnum(24)
	if err != nil {
		return "", "", err
	}
	return ufrag, pwd, nil
}

// NewSSRC generates a fresh host SSRC per spec.md §4.3.
func NewSSRC() (uint32, error) {
	return randomSSRC()
}
