package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/mediasfu/internal/model"
)

func startRegistry(t *testing.T) (*Registry, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := New()
	go reg.Run(ctx)
	return reg, ctx
}

func streamerMedia(hostUfrag, remoteUfrag string) *model.NegotiatedMedia {
	return &model.NegotiatedMedia{
		ICE: model.ICECredentials{HostUsername: hostUfrag, RemoteUsername: remoteUfrag},
	}
}

func TestAddStreamerCreatesRoomAndUsernameBinding(t *testing.T) {
	reg, ctx := startRegistry(t)

	sessionID, roomID, err := reg.AddStreamer(ctx, streamerMedia("Hfrag", "Rfrag"))
	require.NoError(t, err)
	require.NotEqual(t, sessionID, roomID)

	found, ok, err := reg.LookupByUsername(ctx, "Hfrag", "Rfrag")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sessionID, found)

	rooms, err := reg.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, roomID, rooms[0].RoomID)
	require.Equal(t, 0, rooms[0].ViewerCount)
}

func TestAddViewerFailsForUnknownRoom(t *testing.T) {
	reg, ctx := startRegistry(t)

	_, err := reg.AddViewer(ctx, streamerMedia("V", "R"), model.RoomID{})
	require.ErrorIs(t, err, ErrUnknownRoom)
}

func TestAddViewerJoinsExistingRoom(t *testing.T) {
	reg, ctx := startRegistry(t)

	_, roomID, err := reg.AddStreamer(ctx, streamerMedia("Hfrag", "Rfrag"))
	require.NoError(t, err)

	viewerID, err := reg.AddViewer(ctx, streamerMedia("V1", "VR1"), roomID)
	require.NoError(t, err)

	rooms, err := reg.ListRooms(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rooms[0].ViewerCount)

	found, ok, err := reg.LookupByUsername(ctx, "V1", "VR1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, viewerID, found)
}

func TestNominateSetsAndReassignsAddress(t *testing.T) {
	reg, ctx := startRegistry(t)

	sessionID, _, err := reg.AddStreamer(ctx, streamerMedia("Hfrag", "Rfrag"))
	require.NoError(t, err)

	require.NoError(t, reg.Nominate(ctx, sessionID, "1.2.3.4:1000"))
	found, ok, err := reg.LookupByAddress(ctx, "1.2.3.4:1000")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sessionID, found)

	require.NoError(t, reg.Nominate(ctx, sessionID, "1.2.3.4:2000"))
	_, ok, err = reg.LookupByAddress(ctx, "1.2.3.4:1000")
	require.NoError(t, err)
	require.False(t, ok)

	found, ok, err = reg.LookupByAddress(ctx, "1.2.3.4:2000")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sessionID, found)
}

func TestRemoveStreamerCascadesToViewers(t *testing.T) {
	reg, ctx := startRegistry(t)

	streamerID, roomID, err := reg.AddStreamer(ctx, streamerMedia("Hfrag", "Rfrag"))
	require.NoError(t, err)

	viewer1, err := reg.AddViewer(ctx, streamerMedia("V1", "VR1"), roomID)
	require.NoError(t, err)
	viewer2, err := reg.AddViewer(ctx, streamerMedia("V2", "VR2"), roomID)
	require.NoError(t, err)

	removed, err := reg.Remove(ctx, streamerID)
	require.NoError(t, err)
	require.Len(t, removed, 3)
	require.Contains(t, removed, streamerID)
	require.Contains(t, removed, viewer1)
	require.Contains(t, removed, viewer2)

	rooms, err := reg.ListRooms(ctx)
	require.NoError(t, err)
	require.Empty(t, rooms)

	_, ok, err := reg.LookupByUsername(ctx, "Hfrag", "Rfrag")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = reg.LookupByUsername(ctx, "V1", "VR1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveViewerOnlyDropsThatViewer(t *testing.T) {
	reg, ctx := startRegistry(t)

	_, roomID, err := reg.AddStreamer(ctx, streamerMedia("Hfrag", "Rfrag"))
	require.NoError(t, err)
	viewer1, err := reg.AddViewer(ctx, streamerMedia("V1", "VR1"), roomID)
	require.NoError(t, err)

	removed, err := reg.Remove(ctx, viewer1)
	require.NoError(t, err)
	require.Equal(t, []model.SessionID{viewer1}, removed)

	rooms, err := reg.ListRooms(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, len(rooms))
	require.Equal(t, 0, rooms[0].ViewerCount)
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg, ctx := startRegistry(t)

	sessionID, _, err := reg.AddStreamer(ctx, streamerMedia("Hfrag", "Rfrag"))
	require.NoError(t, err)

	_, err = reg.Remove(ctx, sessionID)
	require.NoError(t, err)

	removedAgain, err := reg.Remove(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, []model.SessionID{sessionID}, removedAgain)
}
