package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Debunkem/CodeCollab/internal/auth"
	"github.com/Debunkem/CodeCollab/internal/common"
	"github.com/Debunkem/CodeCollab/internal/protocol"
	"github.com/Debunkem/CodeCollab/internal/ratelimit"
	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/Debunkem/CodeCollab/internal/runner"
	"github.com/Debunkem/CodeCollab/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
	sendBuffer        = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Members reconciles a viewer into a room's participant list
type Members interface {
	EnsureParticipant(ctx context.Context, roomID string, viewer room.Profile) (room.Room, bool, error)
}

type Runner interface {
	RunCode(ctx context.Context, req runner.Request) (*runner.Run, error)
}

// Handler upgrades room requests to websockets
type Handler struct {
	hub     *Hub
	store   *store.Store
	members Members
	runner  Runner
}

func NewHandler(hub *Hub, s *store.Store, members Members, r Runner) *Handler {
	return &Handler{hub: hub, store: s, members: members, runner: r}
}

type Client struct {
	hub     *Hub
	handler *Handler
	conn    *websocket.Conn
	send    chan []byte

	// closed when the read side ends; nothing is queued after that
	done chan struct{}

	roomID      string
	profile     room.Profile
	clientID    string
	rateLimiter *ratelimit.Limiter
	logCtx      *logrus.Entry
}

// ServeHTTP joins the caller to the room, then streams the room's metadata,
// code and output over the upgraded connection. The route must sit behind
// auth.Authenticator.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	profile, ok := auth.ProfileFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Authorization token required")
		return
	}

	if _, _, err := h.members.EnsureParticipant(r.Context(), roomID, profile); err != nil {
		common.RespondWithDomainError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Websocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	client := &Client{
		hub:         h.hub,
		handler:     h,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		roomID:      roomID,
		profile:     profile,
		clientID:    clientID,
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		logCtx: logrus.WithFields(logrus.Fields{
			"room_id":   roomID,
			"user_id":   profile.ID,
			"client_id": clientID,
		}),
	}

	if !h.hub.add(client) {
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := client.subscribe(ctx); err != nil {
		client.logCtx.WithError(err).Error("Failed to subscribe to room")
		cancel()
		h.hub.remove(client)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(cancel)
}

// subscribe opens the three room channels and forwards each value as a frame
func (c *Client) subscribe(ctx context.Context) error {
	s := c.handler.store

	roomSub, err := s.SubscribeRoom(ctx, c.roomID)
	if err != nil {
		return err
	}
	codeSub, err := s.SubscribeField(ctx, c.roomID, room.FieldCode)
	if err != nil {
		roomSub.Cancel()
		return err
	}
	outputSub, err := s.SubscribeField(ctx, c.roomID, room.FieldOutput)
	if err != nil {
		roomSub.Cancel()
		codeSub.Cancel()
		return err
	}

	go forward(c, roomSub.C, protocol.RoomMessage)
	go forward(c, codeSub.C, func(v string) protocol.ServerMessage {
		return protocol.FieldMessage(room.FieldCode, v)
	})
	go forward(c, outputSub.C, func(v string) protocol.ServerMessage {
		return protocol.FieldMessage(room.FieldOutput, v)
	})
	return nil
}

// forward runs until the subscription channel is closed. While it waits on a
// slow connection the subscription keeps only the newest pending values.
func forward[T any](c *Client, ch <-chan T, frame func(T) protocol.ServerMessage) {
	for v := range ch {
		if !c.enqueue(frame(v)) {
			return
		}
	}
}

// enqueue hands a frame to the write pump. It returns false once the client
// has disconnected.
func (c *Client) enqueue(msg protocol.ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logCtx.WithError(err).Error("Failed to encode frame")
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) readPump(cancel context.CancelFunc) {
	defer func() {
		cancel()
		close(c.done)
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx.WithError(err).Warn("Websocket closed unexpectedly")
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				c.logCtx.WithField("warnings", rateLimitWarnings).Warn("Rate limit exceeded")
			}
			if rateLimitWarnings > 1000 {
				c.logCtx.Warn("Disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.logCtx.WithError(err).Debug("Invalid message")
			c.enqueue(protocol.ErrorMessage(err.Error()))
			continue
		}

		if err := c.handle(msg); err != nil {
			c.enqueue(protocol.ErrorMessage(common.PublicMessage(err)))
		}
	}
}

func (c *Client) handle(msg protocol.ClientMessage) error {
	if f, ok := msg.Field(); ok {
		return c.handler.store.WriteField(c.roomID, f, *msg.Value)
	}

	// run
	source := ""
	if msg.Code != nil {
		source = *msg.Code
	} else {
		current, err := c.handler.store.ReadField(c.roomID, room.FieldCode)
		if err != nil {
			return err
		}
		source = current
	}

	run, err := c.handler.runner.RunCode(context.Background(), runner.Request{
		RoomID:   c.roomID,
		Source:   source,
		Language: msg.Language,
		By:       c.profile,
	})
	if err != nil {
		if !errors.Is(err, runner.ErrRateLimited) {
			c.logCtx.WithError(err).Error("Failed to start run")
		}
		return err
	}

	c.enqueue(protocol.RunStarted(run.ID))
	go func() {
		select {
		case <-run.Done():
			res := run.Result()
			c.enqueue(protocol.RunFinished(run.ID, string(res.Outcome), res.IsError()))
		case <-c.done:
		}
	}()
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
