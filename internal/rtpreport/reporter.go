// Package rtpreport implements the per-streamer, per-SSRC sequence
// tracker and compound RTCP report builder described in spec.md §4.6:
// rollover counting and gap detection per RFC 3550 Appendix A.1,
// receiver reports, Generic NACK packing, and SDES.
package rtpreport

import (
	"sort"

	"github.com/pion/rtcp"
)

const (
	// MaxDropout bounds how far forward a sequence number may jump and
	// still be treated as in-window forward progress.
	MaxDropout = 3000
	// MaxMisorder bounds how far behind max_seq a sequence number may
	// land and still be treated as a late/duplicate packet rather than
	// a source restart.
	MaxMisorder = 190
	// RTPSeqMod is the modulus of the 16-bit RTP sequence space.
	RTPSeqMod = 1 << 16

	cnameConst = "mediasfu"
)

// Reporter tracks sequence-number accounting for one (host_ssrc,
// media_ssrc) pair and builds the compound RTCP reports described in
// spec.md §4.6. It is not safe for concurrent use; callers own it from
// a single session task.
type Reporter struct {
	HostSSRC  uint32
	MediaSSRC uint32

	initialized bool
	baseSeq     uint32
	maxSeq      uint16
	cycles      uint32
	badSeq      uint32 // sentinel RTPSeqMod+1 means "not tracking a restart"
	received    uint32

	expectedPrior uint32
	receivedPrior uint32

	missing map[uint16]struct{}
}

// NewReporter constructs a Reporter for the given SSRC pair. It starts
// uninitialized; the first call to UpdateSeq establishes base_seq.
func NewReporter(hostSSRC, mediaSSRC uint32) *Reporter {
	return &Reporter{
		HostSSRC:  hostSSRC,
		MediaSSRC: mediaSSRC,
		badSeq:    RTPSeqMod + 1,
		missing:   make(map[uint16]struct{}),
	}
}

func (r *Reporter) reset(seq uint16) {
	r.initialized = true
	r.baseSeq = uint32(seq)
	r.maxSeq = seq
	r.cycles = 0
	r.badSeq = RTPSeqMod + 1
	r.received = 1
	r.expectedPrior = 0
	r.receivedPrior = 0
	r.missing = make(map[uint16]struct{})
}

// UpdateSeq feeds one inbound RTP sequence number into the tracker.
// It returns false when the packet is provisionally rejected pending a
// second confirming packet after a suspected source restart (spec.md
// §4.6 case 2); all other packets, including late/duplicate ones, are
// accepted and return true.
func (r *Reporter) UpdateSeq(seq uint16) bool {
	if !r.initialized {
		r.reset(seq)
		return true
	}

	udelta := seq - r.maxSeq

	switch {
	case udelta < MaxDropout:
		if seq < r.maxSeq {
			// Previous cycle's tail, from maxSeq+1 through 65535.
			missedPrevCycle := uint16(0xFFFF) - r.maxSeq
			for i := uint16(0); i < missedPrevCycle; i++ {
				r.missing[r.maxSeq+1+i] = struct{}{}
			}
			// New cycle's head, from 0 up to (excluding) seq.
			for i := uint16(0); i < seq; i++ {
				r.missing[i] = struct{}{}
			}
			r.cycles += RTPSeqMod
		} else {
			missed := seq - r.maxSeq - 1
			for i := uint16(0); i < missed; i++ {
				r.missing[r.maxSeq+1+i] = struct{}{}
			}
		}
		r.maxSeq = seq

	case uint32(udelta) <= RTPSeqMod-MaxMisorder:
		if uint32(seq) == r.badSeq {
			r.reset(seq)
			return true
		}
		r.badSeq = (uint32(seq) + 1) & (RTPSeqMod - 1)
		return false

	default:
		delete(r.missing, seq)
	}

	r.received++
	return true
}

// extendedMax returns the high-order-extended current sequence number.
func (r *Reporter) extendedMax() uint32 {
	return r.cycles + uint32(r.maxSeq)
}

func (r *Reporter) expected() uint32 {
	return r.extendedMax() - r.baseSeq + 1
}

// lostCumulative returns the total number of packets lost since
// base_seq, clamped into the 24-bit signed range the RTCP receiver
// report field uses.
func (r *Reporter) lostCumulative() int32 {
	lost := int64(r.expected()) - int64(r.received)
	const maxSigned24 = 0x7FFFFF
	const minSigned24 = -0x800000
	if lost > maxSigned24 {
		return maxSigned24
	}
	if lost < minSigned24 {
		return minSigned24
	}
	return int32(lost)
}

// fractionLost computes the 8-bit fixed-point fraction of packets lost
// during the interval since the previous report, updating the prior
// counters as a side effect (RFC 3550 Appendix A.3).
func (r *Reporter) fractionLost() uint8 {
	expected := r.expected()
	expectedInterval := expected - r.expectedPrior
	r.expectedPrior = expected

	receivedInterval := r.received - r.receivedPrior
	r.receivedPrior = r.received

	lostInterval := int64(expectedInterval) - int64(receivedInterval)
	if expectedInterval == 0 || lostInterval <= 0 {
		return 0
	}
	return uint8((lostInterval << 8) / int64(expectedInterval))
}

// cleanupStaleMissing drops missing-packet entries that have fallen
// out of the NACK-worthy window relative to the current max_seq, so a
// wrapped-around sequence space doesn't cause the tracker to chase
// stale gaps forever.
func (r *Reporter) cleanupStaleMissing() {
	for seq := range r.missing {
		delta := seq - r.maxSeq
		if uint32(delta) <= RTPSeqMod-MaxMisorder {
			delete(r.missing, seq)
		}
	}
}

// HasReceived reports whether the reporter has accounted for at least
// one packet, so a caller can suppress emitting a report before any
// traffic has arrived.
func (r *Reporter) HasReceived() bool { return r.initialized }

// MissingPackets returns a sorted snapshot of currently tracked missing
// sequence numbers.
func (r *Reporter) MissingPackets() []uint16 {
	out := make([]uint16, 0, len(r.missing))
	for seq := range r.missing {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GenerateReport builds the compound RTCP packet spec.md §4.6
// describes: a Receiver Report, a Generic NACK for any still-missing
// packets, and an SDES with a single CNAME chunk. It mutates the
// fraction-lost interval counters and purges stale missing entries as
// a side effect, matching the "periodically" cadence the caller drives
// externally.
func (r *Reporter) GenerateReport() ([]byte, error) {
	rr := &rtcp.ReceiverReport{
		SSRC: r.HostSSRC,
		Reports: []rtcp.ReceptionReport{
			{
				SSRC:               r.MediaSSRC,
				FractionLost:       r.fractionLost(),
				TotalLost:          uint32(r.lostCumulative()) & 0xFFFFFF,
				LastSequenceNumber: r.extendedMax(),
				Jitter:             0,
				LastSenderReport:   0,
				Delay:              0,
			},
		},
	}

	r.cleanupStaleMissing()

	packets := []rtcp.Packet{rr}

	if nacks := NackFromMissing(r.MissingPackets()); len(nacks) > 0 {
		packets = append(packets, &rtcp.TransportLayerNack{
			SenderSSRC: r.HostSSRC,
			MediaSSRC:  r.MediaSSRC,
			Nacks:      nacks,
		})
	}

	packets = append(packets, &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{
			{
				Source: r.HostSSRC,
				Items: []rtcp.SourceDescriptionItem{
					{Type: rtcp.SDESCNAME, Text: cnameConst},
				},
			},
		},
	})

	return rtcp.Marshal(packets)
}

// NackFromMissing greedily clusters a sorted-ascending set of missing
// sequence numbers into Generic NACK PID+BLP pairs, each covering a
// PID plus the next 16 sequence numbers.
func NackFromMissing(missing []uint16) []rtcp.NackPair {
	var pairs []rtcp.NackPair
	var curPID uint16
	var curBLP uint16
	open := false

	flush := func() {
		if open {
			pairs = append(pairs, rtcp.NackPair{PacketID: curPID, LostPackets: rtcp.PacketBitmap(curBLP)})
		}
	}

	for _, seq := range missing {
		if !open {
			curPID = seq
			curBLP = 0
			open = true
			continue
		}
		offset := seq - curPID
		if offset > 16 {
			flush()
			curPID = seq
			curBLP = 0
			continue
		}
		curBLP |= 1 << (offset - 1)
	}
	flush()

	return pairs
}

// MissingFromNack expands one Generic NACK PID+BLP pair back into the
// sequence numbers it requests: PID itself plus PID+1..PID+16 for each
// set BLP bit.
func MissingFromNack(pair rtcp.NackPair) []uint16 {
	out := []uint16{pair.PacketID}
	blp := uint16(pair.LostPackets)
	for i := uint16(0); i < 16; i++ {
		if blp&(1<<i) != 0 {
			out = append(out, pair.PacketID+i+1)
		}
	}
	return out
}
