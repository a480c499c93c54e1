// Package sdp implements the SDP negotiator described in spec.md §4.3:
// offer validation for both streamer (ingest) and viewer (egress)
// modes, and deterministic answer construction. Low-level line/attribute
// grammar is handled by pion/sdp/v3; the semantic resolution (codec
// matching, FMTP/profile-level-id equality, answer field order) is
// bespoke, grounded on
// _examples/original_source/media_server/crates/sdp/src/resolvers.rs.
package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/streamforge/mediasfu/internal/model"
	"github.com/streamforge/mediasfu/internal/wire"
)

// Mode selects which offer-validation rules apply.
type Mode int

const (
	ModeStreamer Mode = iota
	ModeViewer
)

// sdpProtocol is the only transport/profile combination this server
// accepts, per spec.md §4.3.
const sdpProtocol = "UDP/TLS/RTP/SAVPF"

// cnameConst is the CNAME value stamped into every ssrc attribute this
// server emits (spec.md §4.3's "cname:<constant>").
const cnameConst = "mediasfu"

// AudioOffer is the resolved audio leg of an inbound offer.
type AudioOffer struct {
	Codec         model.AudioCodec
	PayloadNumber uint8
	HasSSRC       bool
	SSRC          uint32
}

// VideoOffer is the resolved video leg of an inbound offer.
type VideoOffer struct {
	PayloadNumber uint8
	Capabilities  []string
	HasSSRC       bool
	SSRC          uint32
}

// ResolvedOffer is the complete semantic result of validating one SDP
// offer.
type ResolvedOffer struct {
	Mode           Mode
	RemoteUsername string
	RemotePassword string
	Audio          AudioOffer
	Video          VideoOffer
}

// ParseStreamerOffer validates and resolves a WHIP ingest offer per
// spec.md §4.3's streamer rules (sendonly, first match wins on codec).
func ParseStreamerOffer(raw []byte) (*ResolvedOffer, error) {
	return parseOffer(raw, ModeStreamer, nil)
}

// ParseViewerOffer validates and resolves a WHEP egress offer per
// spec.md §4.3's viewer rules (recvonly, and the chosen codecs/FMTP
// must equal the streamer's negotiated media).
func ParseViewerOffer(raw []byte, streamer *model.NegotiatedMedia) (*ResolvedOffer, error) {
	if streamer == nil {
		return nil, wire.New(wire.KindInternal, "sdp: viewer offer requires streamer media")
	}
	return parseOffer(raw, ModeViewer, streamer)
}

func parseOffer(raw []byte, mode Mode, streamer *model.NegotiatedMedia) (*ResolvedOffer, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(raw); err != nil {
		return nil, wire.Wrap(wire.KindMalformedSDP, "sdp: parse failure", err)
	}

	if len(sd.TimeDescriptions) == 0 {
		return nil, wire.New(wire.KindMalformedSDP, "sdp: missing session time")
	}
	if len(sd.MediaDescriptions) != 2 {
		return nil, wire.New(wire.KindMalformedSDP, "sdp: expected exactly two media sections")
	}

	audioMD := sd.MediaDescriptions[0]
	videoMD := sd.MediaDescriptions[1]
	if !strings.EqualFold(audioMD.MediaName.Media, "audio") {
		return nil, wire.New(wire.KindMalformedSDP, "sdp: first media section must be audio")
	}
	if !strings.EqualFold(videoMD.MediaName.Media, "video") {
		return nil, wire.New(wire.KindMalformedSDP, "sdp: second media section must be video")
	}

	wantDirection := "sendonly"
	if mode == ModeViewer {
		wantDirection = "recvonly"
	}

	remoteUser, remotePass, err := iceCredentials(sd, audioMD, videoMD)
	if err != nil {
		return nil, err
	}

	if err := validateCommon(sd, audioMD, wantDirection); err != nil {
		return nil, fmt.Errorf("audio section: %w", err)
	}
	if err := validateCommon(sd, videoMD, wantDirection); err != nil {
		return nil, fmt.Errorf("video section: %w", err)
	}

	audioPT, audioCodec, audioSSRC, hasAudioSSRC, err := resolveAudio(audioMD)
	if err != nil {
		return nil, err
	}
	videoPT, caps, videoSSRC, hasVideoSSRC, err := resolveVideo(videoMD)
	if err != nil {
		return nil, err
	}

	if mode == ModeViewer {
		if audioCodec != streamer.Audio.Codec {
			return nil, wire.New(wire.KindMalformedSDP, "sdp: viewer audio codec must match streamer")
		}
		if !capabilitiesEqual(caps, streamer.Video.Capabilities) {
			return nil, wire.New(wire.KindMalformedSDP, "sdp: viewer video capabilities must match streamer")
		}
	}

	return &ResolvedOffer{
		Mode:           mode,
		RemoteUsername: remoteUser,
		RemotePassword: remotePass,
		Audio: AudioOffer{
			Codec:         audioCodec,
			PayloadNumber: audioPT,
			HasSSRC:       hasAudioSSRC,
			SSRC:          audioSSRC,
		},
		Video: VideoOffer{
			PayloadNumber: videoPT,
			Capabilities:  caps,
			HasSSRC:       hasVideoSSRC,
			SSRC:          videoSSRC,
		},
	}, nil
}

// attrValue looks up a flagged or valued attribute, checking the media
// section first and falling back to the session level, since BUNDLE'd
// offers commonly hoist ice-ufrag/ice-pwd/fingerprint/setup to the
// session level (observed in
// original_source/media_server/crates/sdp/src/resolvers.rs's test
// fixture).
func attrValue(sd *sdp.SessionDescription, md *sdp.MediaDescription, key string) (string, bool) {
	if v, ok := md.Attribute(key); ok {
		return v, true
	}
	for _, a := range sd.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func iceCredentials(sd *sdp.SessionDescription, audioMD, videoMD *sdp.MediaDescription) (user, pass string, err error) {
	ufrag, ok := attrValue(sd, audioMD, "ice-ufrag")
	if !ok {
		return "", "", wire.New(wire.KindMalformedSDP, "sdp: missing ice-ufrag")
	}
	pwd, ok := attrValue(sd, audioMD, "ice-pwd")
	if !ok {
		return "", "", wire.New(wire.KindMalformedSDP, "sdp: missing ice-pwd")
	}
	vufrag, ok := attrValue(sd, videoMD, "ice-ufrag")
	if ok && vufrag != ufrag {
		return "", "", wire.New(wire.KindMalformedSDP, "sdp: ice-ufrag differs between sections")
	}
	return ufrag, pwd, nil
}

func validateCommon(sd *sdp.SessionDescription, md *sdp.MediaDescription, wantDirection string) error {
	proto := strings.Join(md.MediaName.Protos, "/")
	if proto != sdpProtocol {
		return wire.New(wire.KindMalformedSDP, "sdp: unsupported protocol "+proto)
	}
	if _, ok := md.Attribute("rtcp-mux"); !ok {
		return wire.New(wire.KindMalformedSDP, "sdp: missing rtcp-mux")
	}
	if _, ok := md.Attribute(wantDirection); !ok {
		return wire.New(wire.KindMalformedSDP, "sdp: expected "+wantDirection+" direction")
	}
	setup, ok := attrValue(sd, md, "setup")
	if !ok {
		return wire.New(wire.KindMalformedSDP, "sdp: missing setup attribute")
	}
	if setup != "actpass" {
		return wire.New(wire.KindMalformedSDP, "sdp: setup must be actpass")
	}
	if _, ok := attrValue(sd, md, "fingerprint"); !ok {
		return wire.New(wire.KindMalformedSDP, "sdp: missing fingerprint")
	}
	group, ok := attrValue(sd, md, "group")
	if !ok {
		return wire.New(wire.KindMalformedSDP, "sdp: missing BUNDLE group")
	}
	if !strings.HasPrefix(group, "BUNDLE") {
		return wire.New(wire.KindMalformedSDP, "sdp: group attribute is not BUNDLE")
	}
	return nil
}

// resolveAudio finds the first rtpmap advertising Opus and returns its
// payload number, codec, and any media SSRC, per spec.md §4.3 "first
// match wins".
func resolveAudio(md *sdp.MediaDescription) (pt uint8, codec model.AudioCodec, ssrc uint32, hasSSRC bool, err error) {
	pt, ok := findCodecPayload(md, "opus")
	if !ok {
		return 0, "", 0, false, wire.New(wire.KindMalformedSDP, "sdp: no supported audio codec")
	}
	ssrc, hasSSRC = findSSRC(md)
	return pt, model.AudioCodecOpus, ssrc, hasSSRC, nil
}

// resolveVideo finds the first rtpmap advertising H264 whose matching
// fmtp line carries profile-level-id, per spec.md §4.3.
func resolveVideo(md *sdp.MediaDescription) (pt uint8, caps []string, ssrc uint32, hasSSRC bool, err error) {
	pt, ok := findCodecPayload(md, "h264")
	if !ok {
		return 0, nil, 0, false, wire.New(wire.KindMalformedSDP, "sdp: no supported video codec")
	}
	caps, ok = findFMTP(md, pt)
	if !ok {
		return 0, nil, 0, false, wire.New(wire.KindMalformedSDP, "sdp: missing video profile settings")
	}
	hasProfile := false
	for _, c := range caps {
		if strings.HasPrefix(c, "profile-level-id=") {
			hasProfile = true
			break
		}
	}
	if !hasProfile {
		return 0, nil, 0, false, wire.New(wire.KindMalformedSDP, "sdp: missing profile-level-id")
	}
	ssrc, hasSSRC = findSSRC(md)
	return pt, caps, ssrc, hasSSRC, nil
}

func findCodecPayload(md *sdp.MediaDescription, codec string) (uint8, bool) {
	for _, a := range md.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		ptStr, rest, ok := strings.Cut(a.Value, " ")
		if !ok {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(rest), codec+"/") {
			continue
		}
		for _, f := range md.MediaName.Formats {
			if f == ptStr {
				n, err := strconv.ParseUint(ptStr, 10, 8)
				if err == nil {
					return uint8(n), true
				}
			}
		}
	}
	return 0, false
}

func findFMTP(md *sdp.MediaDescription, pt uint8) ([]string, bool) {
	want := strconv.FormatUint(uint64(pt), 10)
	for _, a := range md.Attributes {
		if a.Key != "fmtp" {
			continue
		}
		ptStr, rest, ok := strings.Cut(a.Value, " ")
		if !ok || ptStr != want {
			continue
		}
		return splitCapabilities(rest), true
	}
	return nil, false
}

func splitCapabilities(v string) []string {
	parts := strings.Split(v, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func findSSRC(md *sdp.MediaDescription) (uint32, bool) {
	for _, a := range md.Attributes {
		if a.Key != "ssrc" {
			continue
		}
		numStr, _, _ := strings.Cut(a.Value, " ")
		n, err := strconv.ParseUint(numStr, 10, 32)
		if err != nil {
			continue
		}
		return uint32(n), true
	}
	return 0, false
}

func capabilitiesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
