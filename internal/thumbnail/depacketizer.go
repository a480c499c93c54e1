// Package thumbnail implements the thumbnail tap described in spec.md
// §4.11: RFC 6184 H.264 depacketization (single NALUs, FU-A
// fragments, STAP-A aggregates) into access units, handed to an
// external decoder, with the most recent decoded frame encoded to a
// still image on demand. Depacketization is grounded on the teacher's
// `pkg/rtp/h264.go`, generalized with the sequence-continuity and
// per-timestamp access-unit framing spec.md requires.
package thumbnail

import (
	"encoding/binary"

	"github.com/pion/rtp"
)

const (
	naluTypeSPS    = 7
	naluTypePPS    = 8
	naluTypeIFrame = 5
	naluTypeSTAPA  = 24
	naluTypeFUA    = 28
)

// Depacketizer reassembles RTP H.264 payloads into access units, one
// per RTP timestamp, completing when the marker bit is set. It is not
// safe for concurrent use.
type Depacketizer struct {
	sps, pps []byte

	fuActive  bool
	fuBuffer  []byte
	fuLastSeq uint16

	auTimestamp uint32
	auStarted   bool
	auBuffer    []byte
}

// NewDepacketizer constructs an empty Depacketizer.
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{}
}

// Feed processes one RTP packet's H.264 payload. It returns the
// completed access unit (in length-prefixed AVC form) and true once
// the packet carrying the marker bit for the current RTP timestamp has
// been processed. Gaps or malformed fragments reset the depacketizer's
// FU-A buffer silently, per spec.md §4.11.
func (d *Depacketizer) Feed(pkt *rtp.Packet) ([]byte, bool) {
	if len(pkt.Payload) == 0 {
		return nil, false
	}

	if !d.auStarted || pkt.Timestamp != d.auTimestamp {
		d.auBuffer = d.auBuffer[:0]
		d.auTimestamp = pkt.Timestamp
		d.auStarted = true
	}

	naluType := pkt.Payload[0] & 0x1F
	switch naluType {
	case naluTypeFUA:
		d.feedFUA(pkt)
	case naluTypeSTAPA:
		d.feedSTAPA(pkt)
	default:
		d.appendNALU(pkt.Payload, naluType)
	}

	if !pkt.Marker {
		return nil, false
	}

	au := d.auBuffer
	d.auBuffer = nil
	d.auStarted = false
	if len(au) == 0 {
		return nil, false
	}
	return au, true
}

func (d *Depacketizer) feedFUA(pkt *rtp.Packet) {
	if len(pkt.Payload) < 2 {
		d.resetFU()
		return
	}
	fuIndicator := pkt.Payload[0]
	fuHeader := pkt.Payload[1]
	payload := pkt.Payload[2:]

	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1F

	if start {
		d.fuBuffer = d.fuBuffer[:0]
		d.fuBuffer = append(d.fuBuffer, (fuIndicator&0xE0)|naluType)
		d.fuActive = true
		d.fuLastSeq = pkt.SequenceNumber
	} else {
		if !d.fuActive || pkt.SequenceNumber != d.fuLastSeq+1 {
			// Gap in fragment continuity: drop the in-progress NALU.
			d.resetFU()
			return
		}
		d.fuLastSeq = pkt.SequenceNumber
	}

	d.fuBuffer = append(d.fuBuffer, payload...)

	if end {
		if d.fuActive {
			d.appendNALU(d.fuBuffer, naluType)
		}
		d.resetFU()
	}
}

func (d *Depacketizer) resetFU() {
	d.fuActive = false
	d.fuBuffer = d.fuBuffer[:0]
}

func (d *Depacketizer) feedSTAPA(pkt *rtp.Packet) {
	payload := pkt.Payload[1:]
	for len(payload) > 2 {
		size := binary.BigEndian.Uint16(payload[:2])
		payload = payload[2:]
		if len(payload) < int(size) {
			return
		}
		nalu := payload[:size]
		payload = payload[size:]
		d.appendNALU(nalu, nalu[0]&0x1F)
	}
}

func (d *Depacketizer) appendNALU(nalu []byte, naluType byte) {
	if len(nalu) == 0 {
		return
	}
	switch naluType {
	case naluTypeSPS:
		d.sps = append(d.sps[:0], nalu...)
	case naluTypePPS:
		d.pps = append(d.pps[:0], nalu...)
	}

	if naluType == naluTypeIFrame && len(d.sps) > 0 && len(d.pps) > 0 && len(d.auBuffer) == 0 {
		d.auBuffer = appendLengthPrefixed(d.auBuffer, d.sps)
		d.auBuffer = appendLengthPrefixed(d.auBuffer, d.pps)
	}
	d.auBuffer = appendLengthPrefixed(d.auBuffer, nalu)
}

func appendLengthPrefixed(dst, nalu []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nalu)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, nalu...)
}
