package sdp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/mediasfu/internal/model"
	"github.com/streamforge/mediasfu/internal/wire"
)

func buildOffer(direction string, withAudioSSRC, withVideoSSRC bool, videoFMTP string) []byte {
	audioSSRC := ""
	if withAudioSSRC {
		audioSSRC = "a=ssrc:1111 cname:src\r\n"
	}
	videoSSRC := ""
	if withVideoSSRC {
		videoSSRC = "a=ssrc:2222 cname:src\r\n"
	}

	return []byte(fmt.Sprintf(
		"v=0\r\n"+
			"o=- 1 1 IN IP4 127.0.0.1\r\n"+
			"s=-\r\n"+
			"t=0 0\r\n"+
			"a=group:BUNDLE 0 1\r\n"+
			"a=setup:actpass\r\n"+
			"a=ice-ufrag:Hfrag\r\n"+
			"a=ice-pwd:abcdefghijklmnopqrstuvwx\r\n"+
			"a=fingerprint:sha-256 AA:BB\r\n"+
			"m=audio 4000 UDP/TLS/RTP/SAVPF 111\r\n"+
			"c=IN IP4 127.0.0.1\r\n"+
			"a=mid:0\r\n"+
			"a=%s\r\n"+
			"a=rtcp-mux\r\n"+
			"a=rtpmap:111 opus/48000/2\r\n"+
			"%s"+
			"m=video 4000 UDP/TLS/RTP/SAVPF 96\r\n"+
			"c=IN IP4 127.0.0.1\r\n"+
			"a=mid:1\r\n"+
			"a=%s\r\n"+
			"a=rtcp-mux\r\n"+
			"a=rtpmap:96 H264/90000\r\n"+
			"a=fmtp:96 %s\r\n"+
			"%s",
		direction, audioSSRC, direction, videoFMTP, videoSSRC,
	))
}

func TestParseStreamerOfferResolvesCodecsAndCredentials(t *testing.T) {
	offer := buildOffer("sendonly", true, true, "profile-level-id=42e01f;packetization-mode=1")

	resolved, err := ParseStreamerOffer(offer)
	require.NoError(t, err)
	require.Equal(t, "Hfrag", resolved.RemoteUsername)
	require.Equal(t, "abcdefghijklmnopqrstuvwx", resolved.RemotePassword)
	require.Equal(t, uint8(111), resolved.Audio.PayloadNumber)
	require.True(t, resolved.Audio.HasSSRC)
	require.Equal(t, uint32(1111), resolved.Audio.SSRC)
	require.Equal(t, uint8(96), resolved.Video.PayloadNumber)
	require.True(t, resolved.Video.HasSSRC)
	require.Equal(t, uint32(2222), resolved.Video.SSRC)
	require.Equal(t, []string{"profile-level-id=42e01f", "packetization-mode=1"}, resolved.Video.Capabilities)
}

func TestParseStreamerOfferAllowsMissingSSRC(t *testing.T) {
	offer := buildOffer("sendonly", false, false, "profile-level-id=42e01f")

	resolved, err := ParseStreamerOffer(offer)
	require.NoError(t, err)
	require.False(t, resolved.Audio.HasSSRC)
	require.False(t, resolved.Video.HasSSRC)
}

func TestParseStreamerOfferRejectsRecvonly(t *testing.T) {
	offer := buildOffer("recvonly", true, true, "profile-level-id=42e01f")

	_, err := ParseStreamerOffer(offer)
	require.Error(t, err)
	require.Equal(t, wire.KindMalformedSDP, wire.KindOf(err))
}

func TestParseStreamerOfferRejectsMissingProfileLevelID(t *testing.T) {
	offer := buildOffer("sendonly", true, true, "packetization-mode=1")

	_, err := ParseStreamerOffer(offer)
	require.Error(t, err)
}

func TestParseViewerOfferRequiresMatchingVideoCapabilities(t *testing.T) {
	streamer := &model.NegotiatedMedia{
		Audio: model.AudioTrack{Codec: model.AudioCodecOpus},
		Video: model.VideoTrack{Capabilities: []string{"profile-level-id=42e01f", "packetization-mode=1"}},
	}

	matching := buildOffer("recvonly", false, false, "profile-level-id=42e01f;packetization-mode=1")
	resolved, err := ParseViewerOffer(matching, streamer)
	require.NoError(t, err)
	require.Equal(t, uint8(96), resolved.Video.PayloadNumber)

	mismatched := buildOffer("recvonly", false, false, "profile-level-id=4d001f;packetization-mode=1")
	_, err = ParseViewerOffer(mismatched, streamer)
	require.Error(t, err)
	require.Equal(t, wire.KindMalformedSDP, wire.KindOf(err))
}

func TestParseOfferRejectsMissingBundle(t *testing.T) {
	offer := []byte(
		"v=0\r\n" +
			"o=- 1 1 IN IP4 127.0.0.1\r\n" +
			"s=-\r\n" +
			"t=0 0\r\n" +
			"a=setup:actpass\r\n" +
			"a=ice-ufrag:Hfrag\r\n" +
			"a=ice-pwd:abcdefghijklmnopqrstuvwx\r\n" +
			"a=fingerprint:sha-256 AA:BB\r\n" +
			"m=audio 4000 UDP/TLS/RTP/SAVPF 111\r\n" +
			"c=IN IP4 127.0.0.1\r\n" +
			"a=mid:0\r\n" +
			"a=sendonly\r\n" +
			"a=rtcp-mux\r\n" +
			"a=rtpmap:111 opus/48000/2\r\n" +
			"m=video 4000 UDP/TLS/RTP/SAVPF 96\r\n" +
			"c=IN IP4 127.0.0.1\r\n" +
			"a=mid:1\r\n" +
			"a=sendonly\r\n" +
			"a=rtcp-mux\r\n" +
			"a=rtpmap:96 H264/90000\r\n" +
			"a=fmtp:96 profile-level-id=42e01f\r\n",
	)

	_, err := ParseStreamerOffer(offer)
	require.Error(t, err)
}
