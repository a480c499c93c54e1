package sdp

import (
	"net"
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"

	"github.com/streamforge/mediasfu/internal/model"
)

func sampleMedia() *model.NegotiatedMedia {
	return &model.NegotiatedMedia{
		ICE: model.ICECredentials{
			HostUsername:   "abcd",
			HostPassword:   "efghijklmnopqrstuvwxyzab",
			RemoteUsername: "Hfrag",
			RemotePassword: "remotepw",
		},
		Audio: model.AudioTrack{Codec: model.AudioCodecOpus, PayloadNumber: 111, HostSSRC: 1000},
		Video: model.VideoTrack{
			Codec:         model.VideoCodecH264,
			PayloadNumber: 96,
			Capabilities:  []string{"profile-level-id=42e01f", "packetization-mode=1"},
			HostSSRC:      2000,
		},
		Fingerprint: "AA:BB:CC",
	}
}

func TestBuildAnswerIsDeterministic(t *testing.T) {
	socket := &net.UDPAddr{IP: net.ParseIP("203.0.113.10"), Port: 9000}
	media := sampleMedia()

	a1 := BuildAnswer(media, socket, ModeStreamer)
	a2 := BuildAnswer(media, socket, ModeStreamer)
	require.Equal(t, a1, a2)
}

func TestBuildAnswerStreamerUsesRecvonly(t *testing.T) {
	socket := &net.UDPAddr{IP: net.ParseIP("203.0.113.10"), Port: 9000}
	out := string(BuildAnswer(sampleMedia(), socket, ModeStreamer))
	require.Contains(t, out, "a=recvonly\r\n")
	require.NotContains(t, out, "a=sendonly\r\n")
}

func TestBuildAnswerViewerUsesSendonly(t *testing.T) {
	socket := &net.UDPAddr{IP: net.ParseIP("203.0.113.10"), Port: 9000}
	out := string(BuildAnswer(sampleMedia(), socket, ModeViewer))
	require.Contains(t, out, "a=sendonly\r\n")
	require.NotContains(t, out, "a=recvonly\r\n")
}

func TestBuildAnswerLineOrder(t *testing.T) {
	socket := &net.UDPAddr{IP: net.ParseIP("203.0.113.10"), Port: 9000}
	out := string(BuildAnswer(sampleMedia(), socket, ModeStreamer))
	lines := strings.Split(strings.TrimRight(out, "\r\n"), "\r\n")

	require.Equal(t, "v=0", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "o="))
	require.Equal(t, "s=-", lines[2])
	require.Equal(t, "t=0 0", lines[3])
	require.Equal(t, "a=ice-lite", lines[5])
	require.True(t, strings.HasPrefix(lines[9], "a=ice-ufrag:"))
	require.True(t, strings.HasPrefix(lines[10], "a=ice-pwd:"))
	require.True(t, strings.HasPrefix(lines[11], "m=audio"))
}

func TestBuildAnswerRoundTripsThroughPionParser(t *testing.T) {
	socket := &net.UDPAddr{IP: net.ParseIP("203.0.113.10"), Port: 9000}
	media := sampleMedia()
	answer := BuildAnswer(media, socket, ModeViewer)

	sd := &sdp.SessionDescription{}
	require.NoError(t, sd.Unmarshal(answer))
	require.Len(t, sd.MediaDescriptions, 2)
	require.Equal(t, []string{"111"}, sd.MediaDescriptions[0].MediaName.Formats)
	require.Equal(t, []string{"96"}, sd.MediaDescriptions[1].MediaName.Formats)

	ufrag, ok := attrValue(sd, sd.MediaDescriptions[0], "ice-ufrag")
	require.True(t, ok)
	require.Equal(t, media.ICE.HostUsername, ufrag)
}

func TestNewHostCredentialsLengths(t *testing.T) {
	ufrag, pwd, err := NewHostCredentials()
	require.NoError(t, err)
	require.Len(t, ufrag, 4)
	require.Len(t, pwd, 24)
}

func TestNewSSRCNonZero(t *testing.T) {
	ssrc, err := NewSSRC()
	require.NoError(t, err)
	require.NotZero(t, ssrc)
}
