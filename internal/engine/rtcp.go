package engine

import (
	"context"

	"github.com/pion/rtcp"

	"github.com/streamforge/mediasfu/internal/model"
)

// rtcpCmd carries one decrypted compound SRTCP packet from a viewer
// session to the engine loop (spec.md §4.9). Like forwardCmd, this
// keeps the session map's only writer/reader the engine loop.
type rtcpCmd struct {
	sessionID model.SessionID
	data      []byte
}

func (c rtcpCmd) apply(ctx context.Context, e *Engine) {
	entry, ok := e.sessions[c.sessionID]
	if !ok || entry.sess.State() != model.StateEstablished {
		return
	}

	packets, err := rtcp.Unmarshal(c.data)
	if err != nil {
		e.logger.Debug("rtcp unmarshal failed", "error", err)
		return
	}

	var sawPLI bool
	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.TransportLayerNack:
			for _, pair := range p.Nacks {
				for _, seq := range pair.PacketList() {
					entry.sess.Resend(seq)
				}
			}
		case *rtcp.PictureLossIndication:
			sawPLI = true
		}
	}

	if sawPLI {
		e.forwardPLI(entry.sess.RoomID)
	}
}

// forwardPLI relays a viewer's keyframe request to the room's
// streamer, so a fresh IDR refreshes every viewer's decoder.
func (e *Engine) forwardPLI(roomID model.RoomID) {
	room, ok := e.rooms[roomID]
	if !ok {
		return
	}
	streamerEntry, ok := e.sessions[room.Owner]
	if !ok || streamerEntry.sess.State() != model.StateEstablished {
		return
	}
	pli := &rtcp.PictureLossIndication{
		SenderSSRC: streamerEntry.sess.Media.Video.HostSSRC,
		MediaSSRC:  streamerEntry.sess.Media.Video.RemoteSSRC,
	}
	raw, err := pli.Marshal()
	if err != nil {
		return
	}
	streamerEntry.sess.SendRTCP(raw)
}
