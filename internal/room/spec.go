package room

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSpec  = errors.New("invalid room spec")
	ErrRoomNotFound = errors.New("room not found")
	ErrInvalidField = errors.New("invalid room field")
	ErrRoomFull     = errors.New("room is full")
)

type Mode string

const (
	ModeFreeCode  Mode = "Free Code"
	ModeChallenge Mode = "Challenge"
)

type Language string

const (
	LanguageCPP        Language = "C++"
	LanguageJava       Language = "Java"
	LanguagePython     Language = "Python"
	LanguageJavaScript Language = "JavaScript"
)

type Privacy string

const (
	PrivacyPublic  Privacy = "Public"
	PrivacyPrivate Privacy = "Private"
)

const (
	MinParticipants = 2
	MaxParticipants = 4
)

// Spec is the client-supplied part of a room creation request.
type Spec struct {
	Name            string   `json:"roomName"`
	Mode            Mode     `json:"mode"`
	Language        Language `json:"language"`
	Privacy         Privacy  `json:"privacy"`
	MaxParticipants int      `json:"maxParticipants"`
}

// Validate checks the spec and returns an error wrapping ErrInvalidSpec.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: room name is required", ErrInvalidSpec)
	}
	switch s.Mode {
	case ModeFreeCode, ModeChallenge:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSpec, s.Mode)
	}
	switch s.Language {
	case LanguageCPP, LanguageJava, LanguagePython, LanguageJavaScript:
	default:
		return fmt.Errorf("%w: unknown language %q", ErrInvalidSpec, s.Language)
	}
	switch s.Privacy {
	case PrivacyPublic, PrivacyPrivate:
	default:
		return fmt.Errorf("%w: unknown privacy %q", ErrInvalidSpec, s.Privacy)
	}
	if s.MaxParticipants < MinParticipants || s.MaxParticipants > MaxParticipants {
		return fmt.Errorf("%w: max participants must be between %d and %d",
			ErrInvalidSpec, MinParticipants, MaxParticipants)
	}
	return nil
}
