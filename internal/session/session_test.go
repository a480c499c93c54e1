package session

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/require"

	"github.com/streamforge/mediasfu/internal/classify"
	"github.com/streamforge/mediasfu/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func buildBindingRequest(t *testing.T, username, password string, useCandidate bool) []byte {
	t.Helper()
	setters := []stun.Setter{
		stun.TransactionID,
		stun.BindingRequest,
		stun.NewUsername(username),
	}
	if useCandidate {
		setters = append(setters, stun.AttrType(0x0025))
	}
	setters = append(setters, stun.NewShortTermIntegrity(password), stun.Fingerprint)
	msg, err := stun.Build(setters...)
	require.NoError(t, err)
	return msg.Raw
}

type capturingSends struct {
	mu    sync.Mutex
	sends []sentPacket
}

type sentPacket struct {
	addr *net.UDPAddr
	data []byte
}

func (c *capturingSends) record(addr *net.UDPAddr, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, sentPacket{addr: addr, data: append([]byte(nil), data...)})
}

func (c *capturingSends) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func TestSessionRespondsToValidBindingRequestAndNominates(t *testing.T) {
	media := &model.NegotiatedMedia{
		ICE: model.ICECredentials{HostUsername: "Hfrag", HostPassword: "hostpw", RemoteUsername: "Rfrag"},
	}

	sends := &capturingSends{}
	nominated := make(chan *net.UDPAddr, 1)

	s := New(model.SessionID{}, model.RoomID{}, model.RoleStreamer, media, 512, Callbacks{
		Send:     sends.record,
		Nominate: func(addr *net.UDPAddr) { nominated <- addr },
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, make(chan error))

	from := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4000}
	req := buildBindingRequest(t, "Hfrag:Rfrag", "hostpw", true)
	s.Feed(classify.STUN, req, from)

	select {
	case addr := <-nominated:
		require.Equal(t, from, addr)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for nomination")
	}
	require.Equal(t, 1, sends.count())
}

func TestSessionIgnoresBindingRequestWithWrongIntegrity(t *testing.T) {
	media := &model.NegotiatedMedia{
		ICE: model.ICECredentials{HostUsername: "Hfrag", HostPassword: "hostpw", RemoteUsername: "Rfrag"},
	}

	sends := &capturingSends{}
	s := New(model.SessionID{}, model.RoomID{}, model.RoleStreamer, media, 512, Callbacks{
		Send: sends.record,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, make(chan error))

	from := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4000}
	req := buildBindingRequest(t, "Hfrag:Rfrag", "wrongpw", true)
	s.Feed(classify.STUN, req, from)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, sends.count())
}

func TestSessionIgnoresBindingRequestForDifferentHostUsername(t *testing.T) {
	media := &model.NegotiatedMedia{
		ICE: model.ICECredentials{HostUsername: "Hfrag", HostPassword: "hostpw", RemoteUsername: "Rfrag"},
	}

	sends := &capturingSends{}
	s := New(model.SessionID{}, model.RoomID{}, model.RoleStreamer, media, 512, Callbacks{
		Send: sends.record,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, make(chan error))

	from := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4000}
	req := buildBindingRequest(t, "Other:Rfrag", "hostpw", true)
	s.Feed(classify.STUN, req, from)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, sends.count())
}

func TestSessionFeedDropsWhenInboxSaturated(t *testing.T) {
	media := &model.NegotiatedMedia{
		ICE: model.ICECredentials{HostUsername: "Hfrag", HostPassword: "hostpw", RemoteUsername: "Rfrag"},
	}
	s := New(model.SessionID{}, model.RoomID{}, model.RoleViewer, media, 512, Callbacks{
		Send: func(*net.UDPAddr, []byte) {},
	}, discardLogger())

	from := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4000}
	for i := 0; i < 1000; i++ {
		s.Feed(classify.STUN, []byte{0, 0}, from)
	}
}
