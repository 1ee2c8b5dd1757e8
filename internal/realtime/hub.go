// Package realtime serves task events to browsers over WebSocket.
//
// Every connection receives the global task events. A client follows a
// single task's updates by sending {"type":"joinTask","taskId":"..."} and
// stops with {"type":"leaveTask","taskId":"..."}. With a TaskAccess set, a
// join succeeds only for tasks the connection's principal may read. Server
// messages have the form {"event":"taskUpdate","data":{...}}.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/taskboard-api/internal/api/shared"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/events"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/phrazzld/taskboard-api/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 16
)

// Client message types.
const (
	MessageJoinTask  = "joinTask"
	MessageLeaveTask = "leaveTask"
)

// ClientMessage is a message sent by a connected client.
type ClientMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
}

// ServerMessage is a message sent to a connected client.
type ServerMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// TaskAccess reports whether p may read a task. It returns
// store.ErrTaskNotFound for a missing task and service.ErrForbidden when p
// may not see it.
type TaskAccess interface {
	CanRead(ctx context.Context, p domain.Principal, taskID uuid.UUID) error
}

// TaskAccessFunc adapts a function to TaskAccess.
type TaskAccessFunc func(ctx context.Context, p domain.Principal, taskID uuid.UUID) error

// CanRead implements TaskAccess.
func (f TaskAccessFunc) CanRead(ctx context.Context, p domain.Principal, taskID uuid.UUID) error {
	return f(ctx, p, taskID)
}

// Hub upgrades HTTP requests to WebSocket connections and relays events
// from the channel to them.
type Hub struct {
	channel  events.Channel
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	access  TaskAccess
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. allowedOrigins lists the browser origins that may
// connect; "*" allows any origin and an empty list allows same-origin only.
func NewHub(channel events.Channel, allowedOrigins []string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		channel: channel,
		logger:  log.With(slog.String("component", "realtime_hub")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's same-origin check
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// RestrictJoins makes joinTask check read access through a. Connections
// without an authenticated principal can then join no task.
func (h *Hub) RestrictJoins(a TaskAccess) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.access = a
}

func (h *Hub) taskAccess() TaskAccess {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.access
}

// ServeHTTP implements http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	// The subscription must outlive the request context.
	ctx := context.WithoutCancel(r.Context())
	sub, err := h.channel.Subscribe(ctx, events.GlobalTopic)
	if err != nil {
		log.Error("failed to subscribe websocket client", slog.String("error", err.Error()))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	principal, authenticated := shared.PrincipalFromContext(r.Context())
	c := &client{
		hub:           h,
		conn:          conn,
		sub:           sub,
		principal:     principal,
		authenticated: authenticated,
		send:          make(chan ServerMessage, sendBuffer),
		done:          make(chan struct{}),
		log:           log,
	}
	if !h.register(c) {
		c.close()
		return
	}

	go c.writePump()
	c.readPump(ctx)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

type client struct {
	hub           *Hub
	conn          *websocket.Conn
	sub           events.Subscription
	principal     domain.Principal
	authenticated bool
	send          chan ServerMessage
	done          chan struct{}
	once          sync.Once
	log           *slog.Logger
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.sub.Close()
		_ = c.conn.Close()
		c.hub.unregister(c)
	})
}

// readPump handles client messages until the connection fails.
func (c *client) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply("error", map[string]string{"message": "Invalid message"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		c.handle(ctx, msg)
	}
}

func (c *client) handle(ctx context.Context, msg ClientMessage) {
	taskID, err := uuid.Parse(msg.TaskID)
	if err != nil {
		c.reply("error", map[string]string{"message": "Invalid task id"})
		return
	}
	topic := events.TaskTopic(taskID)

	switch msg.Type {
	case MessageJoinTask:
		if denied := c.joinDenied(ctx, taskID); denied != "" {
			c.reply("error", map[string]string{"message": denied})
			return
		}
		err = c.sub.Join(ctx, topic)
	case MessageLeaveTask:
		err = c.sub.Leave(ctx, topic)
	default:
		c.reply("error", map[string]string{"message": "Unknown message type"})
		return
	}
	if err != nil {
		c.log.Warn("failed to change task subscription",
			slog.String("type", msg.Type),
			slog.String("topic", topic),
			slog.String("error", err.Error()))
		c.reply("error", map[string]string{"message": "Subscription failed"})
		return
	}
	c.reply(msg.Type, map[string]string{"taskId": taskID.String()})
}

// joinDenied returns the client-facing reason a join is refused, or "".
func (c *client) joinDenied(ctx context.Context, taskID uuid.UUID) string {
	access := c.hub.taskAccess()
	if access == nil {
		return ""
	}
	if !c.authenticated {
		return "Not authorized to access this task"
	}
	err := access.CanRead(ctx, c.principal, taskID)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, service.ErrForbidden):
		return "Not authorized to access this task"
	}
	c.log.Warn("failed to check task access",
		slog.String("task_id", taskID.String()),
		slog.String("error", err.Error()))
	return "Subscription failed"
}

// reply queues a direct response; it is dropped if the client is not reading.
func (c *client) reply(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- ServerMessage{Event: event, Data: data}:
	case <-c.done:
	default:
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				return
			}
			if err := c.write(ServerMessage{Event: string(ev.Name), Data: ev.Data}); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(msg ServerMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}
