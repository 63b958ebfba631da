package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Debunkem/CodeCollab/internal/auth"
	"github.com/Debunkem/CodeCollab/internal/db"
	"github.com/Debunkem/CodeCollab/internal/executor"
	"github.com/Debunkem/CodeCollab/internal/ratelimit"
	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/Debunkem/CodeCollab/internal/runner"
	"github.com/Debunkem/CodeCollab/internal/session"
	"github.com/Debunkem/CodeCollab/internal/store"
	"github.com/Debunkem/CodeCollab/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = room.Profile{ID: "A", Username: "alice", Avatar: "a.png"}
	bob   = room.Profile{ID: "B", Username: "bob"}
)

type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, req executor.Request) (*executor.Response, error) {
	return &executor.Response{Run: &executor.Stage{Stdout: "ran: " + req.Files[0].Content}}, nil
}

type testServer struct {
	handler     http.Handler
	tokens      *auth.Tokens
	store       *store.Store
	database    *db.Database
	coordinator *runner.Coordinator
}

func setupTestAPI(t *testing.T, opts ...runner.Option) *testServer {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	s := store.New(store.WithPersister(database))
	sessions := session.NewManager(s)
	coordinator := runner.NewCoordinator(s, echoExecutor{}, opts...)

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	tokens := auth.NewTokens([]byte("test-secret"), time.Hour)
	a := New(hub, database, sessions, s, coordinator)

	t.Cleanup(func() {
		cancel()
		coordinator.Wait()
		database.Close()
	})

	return &testServer{
		handler:     NewRouter(a, tokens, ws.NewHandler(hub, s, sessions, coordinator)),
		tokens:      tokens,
		store:       s,
		database:    database,
		coordinator: coordinator,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, as *room.Profile, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := ts.tokens.Issue(*as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func validSpec() map[string]interface{} {
	return map[string]interface{}{
		"roomName":        "Test",
		"mode":            "Free Code",
		"language":        "Python",
		"privacy":         "Public",
		"maxParticipants": 2,
	}
}

func (ts *testServer) createRoom(t *testing.T, spec map[string]interface{}) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/rooms", &alice, spec)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]string
	decode(t, w, &resp)
	require.NotEmpty(t, resp["roomId"])
	return resp["roomId"]
}

func TestHealthHandler(t *testing.T) {
	ts := setupTestAPI(t)

	w := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	decode(t, w, &response)
	assert.Equal(t, "ok", response["status"])
}

func TestStatsHandler(t *testing.T) {
	ts := setupTestAPI(t)
	ts.createRoom(t, validSpec())

	w := ts.do(t, http.MethodGet, "/api/stats", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	decode(t, w, &response)
	assert.Equal(t, float64(0), response["active_clients"])
	assert.Equal(t, float64(1), response["loaded_rooms"])
	assert.Equal(t, float64(1), response["total_rooms"])
	assert.Equal(t, float64(1), response["total_participants"])
}

func TestRoomRoutesRequireToken(t *testing.T) {
	ts := setupTestAPI(t)

	w := ts.do(t, http.MethodGet, "/api/rooms", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndGetRoom(t *testing.T) {
	ts := setupTestAPI(t)
	roomID := ts.createRoom(t, validSpec())

	w := ts.do(t, http.MethodGet, "/api/rooms/"+roomID, &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got RoomResponse
	decode(t, w, &got)
	assert.Equal(t, roomID, got.ID)
	assert.Equal(t, "Test", got.Name)
	assert.Equal(t, room.ModeFreeCode, got.Mode)
	assert.Equal(t, room.LanguagePython, got.Language)
	assert.Equal(t, 2, got.MaxParticipants)
	assert.Equal(t, "A", got.HostID)
	assert.Equal(t, "alice", got.HostName)
	assert.Equal(t, []string{"A"}, got.ParticipantIDs())

	persisted, err := ts.database.LoadRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, roomID, persisted[0].ID)
	assert.Equal(t, "Test", persisted[0].Name)
}

func TestCreateRoomValidation(t *testing.T) {
	ts := setupTestAPI(t)

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"empty name", func(s map[string]interface{}) { s["roomName"] = "" }},
		{"unknown mode", func(s map[string]interface{}) { s["mode"] = "Speedrun" }},
		{"unknown language", func(s map[string]interface{}) { s["language"] = "Rust" }},
		{"unknown privacy", func(s map[string]interface{}) { s["privacy"] = "Secret" }},
		{"too many seats", func(s map[string]interface{}) { s["maxParticipants"] = 10 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(spec)
			w := ts.do(t, http.MethodPost, "/api/rooms", &alice, spec)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewBufferString("{"))
		token, err := ts.tokens.Issue(alice)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		ts.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetRoomNotFound(t *testing.T) {
	ts := setupTestAPI(t)

	w := ts.do(t, http.MethodGet, "/api/rooms/nope", &alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinRoom(t *testing.T) {
	ts := setupTestAPI(t)
	roomID := ts.createRoom(t, validSpec())

	var first struct {
		Joined bool         `json:"joined"`
		Room   RoomResponse `json:"room"`
	}
	w := ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/join", &bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &first)
	assert.True(t, first.Joined)
	assert.Equal(t, []string{"A", "B"}, first.Room.ParticipantIDs())

	var second struct {
		Joined bool `json:"joined"`
	}
	w = ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/join", &bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &second)
	assert.False(t, second.Joined)
}

func TestListRoomsShowsOnlyPublic(t *testing.T) {
	ts := setupTestAPI(t)
	public := ts.createRoom(t, validSpec())
	private := validSpec()
	private["privacy"] = "Private"
	ts.createRoom(t, private)

	w := ts.do(t, http.MethodGet, "/api/rooms?limit=10", &bob, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rooms []RoomResponse `json:"rooms"`
		Total int            `json:"total"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, public, resp.Rooms[0].ID)
}

func TestFieldHandlers(t *testing.T) {
	ts := setupTestAPI(t)
	roomID := ts.createRoom(t, validSpec())

	var field FieldResponse
	w := ts.do(t, http.MethodGet, "/api/rooms/"+roomID+"/fields/output", &bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &field)
	assert.Equal(t, room.DefaultOutput, field.Value)

	w = ts.do(t, http.MethodPut, "/api/rooms/"+roomID+"/fields/code", &bob, map[string]string{"value": "print(2)"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/rooms/"+roomID+"/fields/code", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &field)
	assert.Equal(t, "print(2)", field.Value)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"metadata is read only", http.MethodPut, "/fields/metadata", map[string]string{"value": "x"}, http.StatusBadRequest},
		{"unknown field", http.MethodGet, "/fields/cursor", nil, http.StatusBadRequest},
		{"missing value", http.MethodPut, "/fields/code", map[string]string{}, http.StatusBadRequest},
		{"metadata read", http.MethodGet, "/fields/metadata", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, "/api/rooms/"+roomID+tt.path, &alice, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	w = ts.do(t, http.MethodPut, "/api/rooms/nope/fields/code", &alice, map[string]string{"value": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunCodeHandler(t *testing.T) {
	ts := setupTestAPI(t)
	roomID := ts.createRoom(t, validSpec())

	w := ts.do(t, http.MethodPut, "/api/rooms/"+roomID+"/fields/code", &alice, map[string]string{"value": "print(3)"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/run", &bob, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	decode(t, w, &resp)
	assert.NotEmpty(t, resp["runId"])

	ts.coordinator.Wait()
	out, err := ts.store.ReadField(roomID, room.FieldOutput)
	require.NoError(t, err)
	assert.Equal(t, "ran: print(3)", out)

	w = ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/run", &bob, map[string]string{"code": "explicit"})
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.coordinator.Wait()
	out, err = ts.store.ReadField(roomID, room.FieldOutput)
	require.NoError(t, err)
	assert.Equal(t, "ran: explicit", out)

	w = ts.do(t, http.MethodPost, "/api/rooms/nope/run", &bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunCodeThrottled(t *testing.T) {
	limiter := ratelimit.NewMemory(1, time.Hour)
	defer limiter.Stop()
	ts := setupTestAPI(t, runner.WithThrottle(limiter))
	roomID := ts.createRoom(t, validSpec())

	w := ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/run", &alice, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/run", &alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
