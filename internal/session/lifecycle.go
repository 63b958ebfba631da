package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/Debunkem/CodeCollab/internal/store"
	"github.com/sirupsen/logrus"
)

// CreateRoom validates the spec, allocates a fresh room ID and stores a room
// whose only participant is the host. The room is readable once this returns.
func (m *Manager) CreateRoom(ctx context.Context, host room.Profile, spec room.Spec) (string, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"host_id":   host.ID,
		"room_name": spec.Name,
	})

	if err := spec.Validate(); err != nil {
		logCtx.WithError(err).Debug("Rejected room spec")
		return "", err
	}
	if host.ID == "" {
		return "", fmt.Errorf("%w: host identity is required", room.ErrInvalidSpec)
	}

	for attempt := 1; attempt <= m.maxIDAttempts; attempt++ {
		id, err := m.newID()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}

		r := room.New(id, spec, host, m.now())
		err = m.store.Insert(ctx, r)
		if err == nil {
			logCtx.WithField("room_id", id).Info("Room created")
			return id, nil
		}
		if !errors.Is(err, store.ErrDuplicateID) {
			logCtx.WithError(err).Error("Failed to store new room")
			return "", err
		}
		logCtx.WithField("room_id", id).Warnf("Room ID collision, retrying (attempt %d)", attempt)
	}

	return "", fmt.Errorf("failed to allocate a unique room id after %d attempts", m.maxIDAttempts)
}

// GetRoom returns the room or an error wrapping room.ErrRoomNotFound
func (m *Manager) GetRoom(id string) (room.Room, error) {
	return m.store.Get(id)
}

// PublicRooms lists rooms visible on the dashboard, newest first
func (m *Manager) PublicRooms() []room.Room {
	return m.store.List(func(r *room.Room) bool {
		return r.Privacy == room.PrivacyPublic
	})
}
