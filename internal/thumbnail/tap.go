package thumbnail

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// Frame is a decoded raw video frame, the boundary type between an
// external H.264 decoder and an external still-image encoder. Neither
// collaborator is implemented in this module: spec.md §4.11 scopes
// decode/encode out as library integrations, so both are expressed as
// interfaces a real deployment supplies.
type Frame struct {
	Width, Height int
	// RGBA holds Width*Height*4 bytes, row-major, matching the decoder
	// contract most Go still-image encoders expect.
	RGBA []byte
}

// FrameDecoder turns one completed H.264 access unit (AVC
// length-prefixed NALUs) into a decoded frame.
type FrameDecoder interface {
	Decode(accessUnit []byte) (Frame, error)
}

// StillEncoder encodes a decoded frame into a still-image byte
// stream (WebP, per spec.md §4.11/§6).
type StillEncoder interface {
	EncodeStill(Frame) ([]byte, error)
}

// Tap depacketizes a streamer's video RTP into access units, decodes
// each into a frame, and caches the most recent successfully decoded
// frame for on-demand still encoding (GET /thumbnail).
type Tap struct {
	depacketizer *Depacketizer
	decoder      FrameDecoder
	encoder      StillEncoder

	mu        sync.Mutex
	lastFrame *Frame
}

// NewTap constructs a Tap. decoder and encoder are required
// collaborators supplied by the deployment.
func NewTap(decoder FrameDecoder, encoder StillEncoder) *Tap {
	return &Tap{
		depacketizer: NewDepacketizer(),
		decoder:      decoder,
		encoder:      encoder,
	}
}

// Push feeds one inbound video RTP packet. The engine loop calls it
// for each decrypted streamer video packet it forwards (spec.md §4.8
// step 4). A decode failure is returned as an error; the previously
// cached frame is left in place.
func (t *Tap) Push(pkt *rtp.Packet) error {
	au, complete := t.depacketizer.Feed(pkt)
	if !complete {
		return nil
	}
	frame, err := t.decoder.Decode(au)
	if err != nil {
		return fmt.Errorf("thumbnail: decode access unit: %w", err)
	}
	t.mu.Lock()
	t.lastFrame = &frame
	t.mu.Unlock()
	return nil
}

// Snapshot encodes the most recently decoded frame to a still image.
// ok is false if no frame has been decoded yet (spec.md §6's GET
// /thumbnail 404 case).
func (t *Tap) Snapshot() (data []byte, ok bool, err error) {
	t.mu.Lock()
	frame := t.lastFrame
	t.mu.Unlock()

	if frame == nil {
		return nil, false, nil
	}
	data, err = t.encoder.EncodeStill(*frame)
	if err != nil {
		return nil, true, fmt.Errorf("thumbnail: encode still: %w", err)
	}
	return data, true, nil
}
