package common

import (
	"errors"
	"net/http"

	"github.com/Debunkem/CodeCollab/internal/auth"
	"github.com/Debunkem/CodeCollab/internal/executor"
	"github.com/Debunkem/CodeCollab/internal/protocol"
	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/Debunkem/CodeCollab/internal/runner"
	"github.com/Debunkem/CodeCollab/internal/store"
)

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, room.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrInvalidSpec),
		errors.Is(err, room.ErrInvalidField),
		errors.Is(err, protocol.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, room.ErrRoomFull):
		return http.StatusForbidden
	case errors.Is(err, store.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, runner.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, executor.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// PublicMessage is the error text safe to show a client. Internal failures
// are reduced to a generic message.
func PublicMessage(err error) string {
	if HTTPStatusFromError(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}
