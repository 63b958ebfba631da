package session

import (
	"context"
	"fmt"

	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/sirupsen/logrus"
)

// EnsureParticipant adds the viewer to the room's participant list unless
// already present. The membership check and the append happen under the
// room lock, so concurrent joins by one identity produce a single entry.
// joined reports whether this call added the viewer.
func (m *Manager) EnsureParticipant(ctx context.Context, roomID string, viewer room.Profile) (room.Room, bool, error) {
	if viewer.ID == "" {
		return room.Room{}, false, fmt.Errorf("%w: viewer identity is required", room.ErrInvalidSpec)
	}

	now := m.now()
	r, joined, err := m.store.Update(ctx, roomID, func(r *room.Room) (bool, error) {
		if r.HasParticipant(viewer.ID) {
			return false, nil
		}
		if m.enforceCapacity && len(r.Participants) >= r.MaxParticipants {
			return false, fmt.Errorf("%w: %d of %d seats taken", room.ErrRoomFull, len(r.Participants), r.MaxParticipants)
		}
		return r.AddParticipant(viewer, now), nil
	})
	if err != nil {
		return room.Room{}, false, err
	}

	if joined {
		logrus.WithFields(logrus.Fields{
			"room_id":      roomID,
			"user_id":      viewer.ID,
			"participants": r.ParticipantIDs(),
		}).Info("Viewer joined room")
	}
	return r, joined, nil
}
