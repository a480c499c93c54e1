package rtpreport

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestUpdateSeqInitializes(t *testing.T) {
	r := NewReporter(1, 2)
	require.True(t, r.UpdateSeq(100))
	require.Equal(t, uint16(100), r.maxSeq)
	require.Equal(t, uint32(100), r.baseSeq)
	require.Equal(t, uint32(1), r.received)
}

func TestUpdateSeqInWindowBoundary(t *testing.T) {
	r := NewReporter(1, 2)
	r.UpdateSeq(0)
	require.True(t, r.UpdateSeq(MaxDropout-1))
	require.Equal(t, uint16(MaxDropout-1), r.maxSeq)
}

func TestUpdateSeqLargeJumpStartsBadSeqThenResets(t *testing.T) {
	r := NewReporter(1, 2)
	r.UpdateSeq(0)

	big := uint16(MaxDropout + 1)
	require.False(t, r.UpdateSeq(big))
	require.Equal(t, (uint32(big)+1)&(RTPSeqMod-1), r.badSeq)

	// Next packet confirms the restart: same seq+1 arrives and resets.
	require.True(t, r.UpdateSeq(big+1))
	require.Equal(t, uint32(big+1), r.baseSeq)
	require.Equal(t, uint16(big+1), r.maxSeq)
}

func TestUpdateSeqLateOrDuplicateRemovesFromMissing(t *testing.T) {
	r := NewReporter(1, 2)
	r.UpdateSeq(10)
	r.UpdateSeq(13) // marks 11, 12 missing
	require.Len(t, r.missing, 2)

	r.UpdateSeq(11)
	require.Len(t, r.missing, 1)
	_, stillMissing := r.missing[12]
	require.True(t, stillMissing)
}

func TestUpdateSeqWrapIncrementsCycles(t *testing.T) {
	r := NewReporter(1, 2)
	r.UpdateSeq(0xFFFF)
	require.True(t, r.UpdateSeq(2))
	require.Equal(t, uint32(RTPSeqMod), r.cycles)
	require.Equal(t, uint16(2), r.maxSeq)
}

func TestReceivedNeverExceedsExtendedRange(t *testing.T) {
	r := NewReporter(1, 2)
	for _, seq := range []uint16{0, 1, 2, 3, 4} {
		r.UpdateSeq(seq)
	}
	extendedMax := r.cycles + uint32(r.maxSeq)
	require.LessOrEqual(t, r.received, extendedMax-r.baseSeq+1)
}

func TestNackRoundTripSingleCluster(t *testing.T) {
	missing := []uint16{100, 101, 103, 116}
	nacks := NackFromMissing(missing)
	require.Len(t, nacks, 1)

	var got []uint16
	for _, n := range nacks {
		got = append(got, MissingFromNack(n)...)
	}
	require.ElementsMatch(t, missing, got)
}

func TestNackClustersSplitBeyond16Span(t *testing.T) {
	missing := []uint16{0, 20}
	nacks := NackFromMissing(missing)
	require.Len(t, nacks, 2)
	require.Equal(t, uint16(0), nacks[0].PacketID)
	require.Equal(t, uint16(20), nacks[1].PacketID)
}

func TestNackFromMissingEmpty(t *testing.T) {
	require.Empty(t, NackFromMissing(nil))
}

func TestMissingFromNackNoBLP(t *testing.T) {
	pair := rtcp.NackPair{PacketID: 120, LostPackets: 0}
	require.Equal(t, []uint16{120}, MissingFromNack(pair))
}

func TestGenerateReportProducesParsablePacket(t *testing.T) {
	r := NewReporter(0xAAAA, 0xBBBB)
	r.UpdateSeq(0)
	r.UpdateSeq(2) // skip 1, marks it missing

	data, err := r.GenerateReport()
	require.NoError(t, err)

	packets, err := rtcp.Unmarshal(data)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(packets), 2) // RR + SDES at minimum

	var sawRR, sawNACK, sawSDES bool
	for _, p := range packets {
		switch v := p.(type) {
		case *rtcp.ReceiverReport:
			sawRR = true
			require.Equal(t, r.HostSSRC, v.SSRC)
		case *rtcp.TransportLayerNack:
			sawNACK = true
		case *rtcp.SourceDescription:
			sawSDES = true
		}
	}
	require.True(t, sawRR)
	require.True(t, sawNACK)
	require.True(t, sawSDES)
}
