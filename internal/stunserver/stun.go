// Package stunserver implements the short-term-credential STUN binding
// responder and success-response factory described in spec.md §4.2 and
// §4.10, built on pion/stun/v3's message framing.
package stunserver

import (
	"fmt"
	"net"
	"strings"

	"github.com/pion/stun/v3"
)

// BindingRequest is an inbound STUN Binding Request decoded off the
// wire, with the attributes the responder cares about already pulled
// out.
type BindingRequest struct {
	Message      *stun.Message
	HostUsername string
	RemoteFrag   string
	UseCandidate bool
}

// ParseBindingRequest decodes data as a STUN message and validates
// that it's a Binding Request carrying USERNAME, MESSAGE-INTEGRITY and
// FINGERPRINT. It does not itself verify MESSAGE-INTEGRITY, since that
// requires the session's host password, looked up by caller after
// reading HostUsername. Any parse failure returns an error; spec.md
// §4.2 treats that as silent drop at the call site.
func ParseBindingRequest(data []byte) (*BindingRequest, error) {
	m := &stun.Message{Raw: append([]byte(nil), data...)}
	if err := m.Decode(); err != nil {
		return nil, fmt.Errorf("stunserver: decode: %w", err)
	}
	if m.Type != stun.BindingRequest {
		return nil, fmt.Errorf("stunserver: not a binding request: %s", m.Type)
	}

	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return nil, fmt.Errorf("stunserver: missing USERNAME: %w", err)
	}

	host, remote, ok := strings.Cut(string(username), ":")
	if !ok {
		return nil, fmt.Errorf("stunserver: malformed USERNAME %q", string(username))
	}
	if !m.Contains(stun.AttrMessageIntegrity) {
		return nil, fmt.Errorf("stunserver: missing MESSAGE-INTEGRITY")
	}
	if err := stun.Fingerprint.Check(m); err != nil {
		return nil, fmt.Errorf("stunserver: FINGERPRINT: %w", err)
	}

	req := &BindingRequest{
		Message:      m,
		HostUsername: host,
		RemoteFrag:   remote,
		UseCandidate: m.Contains(attrUseCandidate),
	}
	return req, nil
}

// attrUseCandidate is the ICE (RFC 8445 §16.1) USE-CANDIDATE attribute
// type: a presence-only flag, not defined by core STUN itself.
const attrUseCandidate = stun.AttrType(0x0025)

// CheckIntegrity verifies the request's MESSAGE-INTEGRITY attribute
// against the session's host password (short-term credential).
func (r *BindingRequest) CheckIntegrity(hostPassword string) error {
	return stun.NewShortTermIntegrity(hostPassword).Check(r.Message)
}

// BuildSuccess constructs a BindingSuccess response for a verified
// request: transaction id echoed, XOR-MAPPED-ADDRESS of the sender,
// MESSAGE-INTEGRITY using the session's host password, and FINGERPRINT
// — in that attribute order, per spec.md §4.10.
func BuildSuccess(transactionID [stun.TransactionIDSize]byte, remote *net.UDPAddr, hostPassword string) ([]byte, error) {
	msg, err := stun.Build(
		stun.NewTransactionIDSetter(transactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: remote.IP, Port: remote.Port},
		stun.NewShortTermIntegrity(hostPassword),
		stun.Fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("stunserver: build success: %w", err)
	}
	return msg.Raw, nil
}
