package sdp

import (
	"crypto/rand"
	"encoding/binary"
)

const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomAlnum returns a cryptographically random alphanumeric string of
// length n, used for host ice-ufrag (4 chars) and ice-pwd (24 chars)
// per spec.md §4.3's answer-construction rule.
func randomAlnum(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alnum[int(b)%len(alnum)]
	}
	return string(out), nil
}

// randomSSRC returns a fresh, non-zero 32-bit SSRC per spec.md §4.3:
// "host_ssrc are freshly generated 32-bit random integers per session."
func randomSSRC() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v != 0 {
			return v, nil
		}
	}
}
