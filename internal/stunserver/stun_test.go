package stunserver

import (
	"net"
	"testing"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/require"
)

func buildRequest(t *testing.T, username, password string, useCandidate bool) []byte {
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

func TestParseBindingRequestSplitsUsername(t *testing.T) {
	data := buildRequest(t, "Hfrag:Rfrag", "hostpw", true)

	req, err := ParseBindingRequest(data)
	require.NoError(t, err)
	require.Equal(t, "Hfrag", req.HostUsername)
	require.Equal(t, "Rfrag", req.RemoteFrag)
	require.True(t, req.UseCandidate)
}

func TestParseBindingRequestWithoutUseCandidate(t *testing.T) {
	data := buildRequest(t, "Hfrag:Rfrag", "hostpw", false)

	req, err := ParseBindingRequest(data)
	require.NoError(t, err)
	require.False(t, req.UseCandidate)
}

func TestCheckIntegrityRejectsWrongPassword(t *testing.T) {
	data := buildRequest(t, "Hfrag:Rfrag", "hostpw", false)

	req, err := ParseBindingRequest(data)
	require.NoError(t, err)
	require.Error(t, req.CheckIntegrity("wrongpw"))
	require.NoError(t, req.CheckIntegrity("hostpw"))
}

func TestBuildSuccessProducesDecodableMessage(t *testing.T) {
	var tid [stun.TransactionIDSize]byte
	copy(tid[:], "abcdefghijkl")

	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 54321}
	raw, err := BuildSuccess(tid, addr, "hostpw")
	require.NoError(t, err)

	m := &stun.Message{Raw: raw}
	require.NoError(t, m.Decode())
	require.Equal(t, stun.BindingSuccess, m.Type)

	var xorAddr stun.XORMappedAddress
	require.NoError(t, xorAddr.GetFrom(m))
	require.True(t, addr.IP.Equal(xorAddr.IP))
	require.Equal(t, addr.Port, xorAddr.Port)

	require.NoError(t, stun.NewShortTermIntegrity("hostpw").Check(m))
}
