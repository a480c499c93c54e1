// Package srtpctx builds the inbound/outbound SRTP key pair spec.md
// §4.4 calls session_pair(inbound, outbound) from DTLS-exported keying
// material, and wraps pion/srtp's protect/unprotect primitives behind
// the small surface the rest of the datapath needs.
package srtpctx

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
)

// Profile is the single SRTP protection profile this server negotiates
// (spec.md §4.4).
const Profile = srtp.ProtectionProfileAes128CmHmacSha1_80

const (
	keyLen  = 16 // AES-128
	saltLen = 14
	// ExportedMaterialLen is the total byte length exported from the
	// DTLS master secret per RFC 5764 §4.2 for this profile:
	// client_key + server_key + client_salt + server_salt.
	ExportedMaterialLen = 2*keyLen + 2*saltLen
)

// Pair holds one session's keyed SRTP/SRTCP contexts: Inbound
// unprotects datagrams arriving from the peer, Outbound protects
// datagrams being sent to it.
type Pair struct {
	Inbound  *srtp.Context
	Outbound *srtp.Context
}

// Role indicates which side of the DTLS handshake this server played,
// which determines which half of the exported keying material is ours
// to write with versus read with.
type Role int

const (
	// RoleServer is this server's only role per spec.md §4.4 (DTLS
	// passive/server, answering WHIP and WHEP offers).
	RoleServer Role = iota
)

// NewPair derives an inbound/outbound SRTP context pair from DTLS
// exported keying material laid out per RFC 5764 §4.2: client_write_key,
// server_write_key, client_write_salt, server_write_salt. Since this
// server always plays the DTLS server role, inbound (from-peer) traffic
// was protected with the client material and outbound traffic is
// protected with the server material.
//
// The outbound context disables SRTP replay protection
// (SRTPNoReplayProtection) so that NACK-driven retransmits from the
// replay cache aren't rejected by the peer-facing anti-replay window;
// see spec.md §9 "SRTP ROC and replay cache".
func NewPair(material []byte) (*Pair, error) {
	if len(material) < ExportedMaterialLen {
		return nil, fmt.Errorf("srtpctx: exported keying material too short: got %d want %d", len(material), ExportedMaterialLen)
	}

	clientKey := material[0:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen : 2*keyLen+2*saltLen]

	inbound, err := srtp.CreateContext(clientKey, clientSalt, Profile)
	if err != nil {
		return nil, fmt.Errorf("srtpctx: create inbound context: %w", err)
	}

	outbound, err := srtp.CreateContext(serverKey, serverSalt, Profile, srtp.SRTPNoReplayProtection())
	if err != nil {
		return nil, fmt.Errorf("srtpctx: create outbound context: %w", err)
	}

	return &Pair{Inbound: inbound, Outbound: outbound}, nil
}

// UnprotectRTP decrypts and authenticates an inbound SRTP packet.
func (p *Pair) UnprotectRTP(header *rtp.Header, encrypted []byte) ([]byte, error) {
	return p.Inbound.DecryptRTP(nil, encrypted, header)
}

// ProtectRTP encrypts and authenticates an outbound RTP packet.
func (p *Pair) ProtectRTP(header *rtp.Header, plaintext []byte) ([]byte, error) {
	return p.Outbound.EncryptRTP(nil, plaintext, header)
}

// UnprotectRTCP decrypts and authenticates an inbound SRTCP packet.
func (p *Pair) UnprotectRTCP(encrypted []byte) ([]byte, error) {
	return p.Inbound.DecryptRTCP(nil, encrypted, nil)
}

// ProtectRTCP encrypts and authenticates an outbound RTCP packet
// before sending it back toward a peer (used for receiver reports
// toward the streamer and PLI propagation).
func (p *Pair) ProtectRTCP(plaintext []byte) ([]byte, error) {
	return p.Outbound.EncryptRTCP(nil, plaintext, nil)
}
