package engine

import (
	"context"

	"github.com/pion/rtp"

	"github.com/streamforge/mediasfu/internal/model"
)

// forwardCmd carries one decrypted RTP packet from a streamer session
// to the engine loop, for fan-out to every viewer in the room (spec.md
// §4.8). Routing this through the command channel, rather than letting
// the streamer's session goroutine touch the session map directly,
// keeps the map's only writer the engine loop, per spec.md §5.
type forwardCmd struct {
	roomID   model.RoomID
	sourcePT uint8
	pkt      *rtp.Packet
}

func (c forwardCmd) apply(ctx context.Context, e *Engine) {
	room, ok := e.rooms[c.roomID]
	if !ok {
		return
	}
	streamerEntry, ok := e.sessions[room.Owner]
	if !ok {
		return
	}
	streamerMedia := streamerEntry.sess.Media
	isAudio := c.sourcePT == streamerMedia.Audio.PayloadNumber

	if taps, hasTap := e.thumbTaps[c.roomID]; hasTap && !isAudio {
		_ = taps.Push(c.pkt)
	}

	for viewerID := range room.Viewers {
		entry, ok := e.sessions[viewerID]
		if !ok || entry.sess.State() != model.StateEstablished {
			continue
		}
		viewerMedia := entry.sess.Media

		header := c.pkt.Header
		if isAudio {
			header.PayloadType = viewerMedia.Audio.PayloadNumber
			header.SSRC = viewerMedia.Audio.HostSSRC
		} else {
			header.PayloadType = viewerMedia.Video.PayloadNumber
			header.SSRC = viewerMedia.Video.HostSSRC
		}
		entry.sess.SendEncrypted(&header, c.pkt.Payload)
	}
}
