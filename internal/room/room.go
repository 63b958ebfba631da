package room

import (
	"time"
)

// A collaborative coding session
type Room struct {
	ID              string        `json:"roomId"`
	Name            string        `json:"roomName"`
	Mode            Mode          `json:"mode"`
	Language        Language      `json:"language"`
	Privacy         Privacy       `json:"privacy"`
	MaxParticipants int           `json:"maxParticipants"`
	HostID          string        `json:"hostId"`
	HostName        string        `json:"hostUsername"`
	Participants    []Participant `json:"participantProfiles"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// A member of a room with its denormalized display profile
type Participant struct {
	ID       string    `json:"uid"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Identity of an authenticated viewer
type Profile struct {
	ID       string `json:"uid"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Builds a room from a validated spec with the host as the only participant
func New(id string, spec Spec, host Profile, now time.Time) *Room {
	return &Room{
		ID:              id,
		Name:            spec.Name,
		Mode:            spec.Mode,
		Language:        spec.Language,
		Privacy:         spec.Privacy,
		MaxParticipants: spec.MaxParticipants,
		HostID:          host.ID,
		HostName:        host.Username,
		Participants: []Participant{
			{ID: host.ID, Username: host.Username, Avatar: host.Avatar, JoinedAt: now},
		},
		CreatedAt: now,
	}
}

// Reports whether the identity is already in the participant list
func (r *Room) HasParticipant(id string) bool {
	for _, p := range r.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Returns participant IDs in join order
func (r *Room) ParticipantIDs() []string {
	ids := make([]string, len(r.Participants))
	for i, p := range r.Participants {
		ids[i] = p.ID
	}
	return ids
}

// Appends a participant unless already present. Returns false for a re-join.
func (r *Room) AddParticipant(p Profile, now time.Time) bool {
	if r.HasParticipant(p.ID) {
		return false
	}
	r.Participants = append(r.Participants, Participant{
		ID:       p.ID,
		Username: p.Username,
		Avatar:   p.Avatar,
		JoinedAt: now,
	})
	return true
}

// Returns a deep copy safe to hand to other goroutines
func (r *Room) Clone() Room {
	c := *r
	c.Participants = make([]Participant, len(r.Participants))
	copy(c.Participants, r.Participants)
	return c
}

// Spec returns the creation-time attributes of the room
func (r *Room) Spec() Spec {
	return Spec{
		Name:            r.Name,
		Mode:            r.Mode,
		Language:        r.Language,
		Privacy:         r.Privacy,
		MaxParticipants: r.MaxParticipants,
	}
}
