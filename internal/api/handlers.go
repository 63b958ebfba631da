// Package api serves the REST surface for rooms, live fields and runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Debunkem/CodeCollab/internal/auth"
	"github.com/Debunkem/CodeCollab/internal/common"
	"github.com/Debunkem/CodeCollab/internal/db"
	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/Debunkem/CodeCollab/internal/runner"
	"github.com/Debunkem/CodeCollab/internal/session"
	"github.com/Debunkem/CodeCollab/internal/store"
	"github.com/Debunkem/CodeCollab/internal/ws"
	"github.com/go-chi/chi/v5"
)

type Runner interface {
	RunCode(ctx context.Context, req runner.Request) (*runner.Run, error)
}

type API struct {
	hub      *ws.Hub
	database *db.Database
	sessions *session.Manager
	store    *store.Store
	runner   Runner
}

// New wires the handlers. database may be nil when running without
// persistence.
func New(hub *ws.Hub, database *db.Database, sessions *session.Manager, s *store.Store, r Runner) *API {
	return &API{
		hub:      hub,
		database: database,
		sessions: sessions,
		store:    s,
		runner:   r,
	}
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"loaded_rooms":   a.store.Len(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats(r.Context())
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_participants"] = dbStats["participant_count"]
		}
	}

	common.RespondWithJSON(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	room.Room
	ActiveUsers int `json:"activeUsers"`
}

func (a *API) roomResponse(r room.Room) RoomResponse {
	return RoomResponse{Room: r, ActiveUsers: a.hub.GetActiveRooms()[r.ID]}
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms := a.sessions.PublicRooms()
	total := len(rooms)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	activeRooms := a.hub.GetActiveRooms()
	response := make([]RoomResponse, 0, end-offset)
	for _, rm := range rooms[offset:end] {
		response = append(response, RoomResponse{Room: rm, ActiveUsers: activeRooms[rm.ID]})
	}

	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := auth.ProfileFromContext(r.Context())

	var spec room.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	roomID, err := a.sessions.CreateRoom(r.Context(), host, spec)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}

	common.RespondWithJSON(w, http.StatusCreated, map[string]string{"roomId": roomID})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, err := a.sessions.GetRoom(chi.URLParam(r, "roomID"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, a.roomResponse(rm))
}

func (a *API) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.ProfileFromContext(r.Context())

	rm, joined, err := a.sessions.EnsureParticipant(r.Context(), chi.URLParam(r, "roomID"), viewer)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}

	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"joined": joined,
		"room":   a.roomResponse(rm),
	})
}

// Live field handlers

type FieldResponse struct {
	Field room.Field  `json:"field"`
	Value interface{} `json:"value"`
}

type PutFieldRequest struct {
	Value *string `json:"value"`
}

func (a *API) GetFieldHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	field, err := room.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}

	if field == room.FieldMetadata {
		rm, err := a.sessions.GetRoom(roomID)
		if err != nil {
			common.RespondWithDomainError(w, r, err)
			return
		}
		common.RespondWithJSON(w, http.StatusOK, FieldResponse{Field: field, Value: rm})
		return
	}

	value, err := a.store.ReadField(roomID, field)
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, FieldResponse{Field: field, Value: value})
}

func (a *API) PutFieldHandler(w http.ResponseWriter, r *http.Request) {
	field, err := room.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	if !field.IsLive() {
		common.RespondWithDomainError(w, r, fmt.Errorf("%w: %s is read-only", room.ErrInvalidField, field))
		return
	}

	var req PutFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		common.RespondWithError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := a.store.WriteField(chi.URLParam(r, "roomID"), field, *req.Value); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run handler

type RunRequest struct {
	Code     *string       `json:"code,omitempty"`
	Language room.Language `json:"language,omitempty"`
}

func (a *API) RunCodeHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	by, _ := auth.ProfileFromContext(r.Context())

	// the body is optional
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	source := ""
	if req.Code != nil {
		source = *req.Code
	} else {
		current, err := a.store.ReadField(roomID, room.FieldCode)
		if err != nil {
			common.RespondWithDomainError(w, r, err)
			return
		}
		source = current
	}

	run, err := a.runner.RunCode(r.Context(), runner.Request{
		RoomID:   roomID,
		Source:   source,
		Language: req.Language,
		By:       by,
	})
	if err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}

	common.RespondWithJSON(w, http.StatusAccepted, map[string]string{"runId": run.ID})
}
