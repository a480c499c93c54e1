package thumbnail

import (
	"errors"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

type fakeDecoder struct {
	frame Frame
	err   error
}

func (f *fakeDecoder) Decode([]byte) (Frame, error) { return f.frame, f.err }

type fakeEncoder struct {
	out []byte
	err error
}

func (f *fakeEncoder) EncodeStill(Frame) ([]byte, error) { return f.out, f.err }

func TestTapSnapshotReturnsFalseBeforeAnyFrame(t *testing.T) {
	tap := NewTap(&fakeDecoder{}, &fakeEncoder{})
	_, ok, err := tap.Snapshot()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTapPushDecodesAndSnapshotEncodes(t *testing.T) {
	decoder := &fakeDecoder{frame: Frame{Width: 4, Height: 4, RGBA: make([]byte, 64)}}
	encoder := &fakeEncoder{out: []byte("webp-bytes")}
	tap := NewTap(decoder, encoder)

	pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1, Timestamp: 1000, Marker: true}, Payload: []byte{1, 'd'}}
	require.NoError(t, tap.Push(pkt))

	data, ok, err := tap.Snapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("webp-bytes"), data)
}

func TestTapPushDecodeFailureKeepsPreviousFrame(t *testing.T) {
	decoder := &fakeDecoder{frame: Frame{Width: 2, Height: 2, RGBA: make([]byte, 16)}}
	encoder := &fakeEncoder{out: []byte("first")}
	tap := NewTap(decoder, encoder)

	good := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1, Timestamp: 1000, Marker: true}, Payload: []byte{1, 'd'}}
	require.NoError(t, tap.Push(good))

	decoder.err = errors.New("boom")
	failing := &rtp.Packet{Header: rtp.Header{SequenceNumber: 2, Timestamp: 2000, Marker: true}, Payload: []byte{1, 'e'}}
	require.Error(t, tap.Push(failing))

	data, ok, err := tap.Snapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("first"), data)
}
