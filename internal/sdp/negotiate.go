package sdp

import (
	"net"

	"github.com/streamforge/mediasfu/internal/model"
	"github.com/streamforge/mediasfu/internal/wire"
)

// NegotiateStreamer validates a WHIP offer and produces the session's
// NegotiatedMedia plus the SDP answer, generating fresh host ICE
// credentials and SSRCs. fingerprint is the SHA-256 hex of the host's
// DTLS certificate (spec.md §4.3's "Fingerprint").
func NegotiateStreamer(offer []byte, socket *net.UDPAddr, fingerprint string) (*model.NegotiatedMedia, []byte, error) {
	resolved, err := ParseStreamerOffer(offer)
	if err != nil {
		return nil, nil, err
	}
	media, err := toNegotiatedMedia(resolved, fingerprint)
	if err != nil {
		return nil, nil, err
	}
	return media, BuildAnswer(media, socket, ModeStreamer), nil
}

// NegotiateViewer validates a WHEP offer against the room's streamer
// media and produces the viewer's NegotiatedMedia plus SDP answer.
// Viewer payload numbers are whatever the viewer offered; per spec.md
// §4.3 "Viewer answer uses the viewer's chosen payload numbers."
func NegotiateViewer(offer []byte, streamer *model.NegotiatedMedia, socket *net.UDPAddr, fingerprint string) (*model.NegotiatedMedia, []byte, error) {
	resolved, err := ParseViewerOffer(offer, streamer)
	if err != nil {
		return nil, nil, err
	}
	media, err := toNegotiatedMedia(resolved, fingerprint)
	if err != nil {
		return nil, nil, err
	}
	return media, BuildAnswer(media, socket, ModeViewer), nil
}

func toNegotiatedMedia(resolved *ResolvedOffer, fingerprint string) (*model.NegotiatedMedia, error) {
	hostUfrag, hostPwd, err := NewHostCredentials()
	if err != nil {
		return nil, wire.Wrap(wire.KindInternal, "sdp: generate host credentials", err)
	}
	audioSSRC, err := NewSSRC()
	if err != nil {
		return nil, wire.Wrap(wire.KindInternal, "sdp: generate audio ssrc", err)
	}
	videoSSRC, err := NewSSRC()
	if err != nil {
		return nil, wire.Wrap(wire.KindInternal, "sdp: generate video ssrc", err)
	}

	return &model.NegotiatedMedia{
		ICE: model.ICECredentials{
			HostUsername:   hostUfrag,
			HostPassword:   hostPwd,
			RemoteUsername: resolved.RemoteUsername,
			RemotePassword: resolved.RemotePassword,
		},
		Audio: model.AudioTrack{
			Codec:         model.AudioCodecOpus,
			PayloadNumber: resolved.Audio.PayloadNumber,
			HostSSRC:      audioSSRC,
			RemoteSSRC:    resolved.Audio.SSRC,
			HasRemoteSSRC: resolved.Audio.HasSSRC,
		},
		Video: model.VideoTrack{
			Codec:         model.VideoCodecH264,
			PayloadNumber: resolved.Video.PayloadNumber,
			Capabilities:  resolved.Video.Capabilities,
			HostSSRC:      videoSSRC,
			RemoteSSRC:    resolved.Video.SSRC,
			HasRemoteSSRC: resolved.Video.HasSSRC,
		},
		Fingerprint: fingerprint,
	}, nil
}
