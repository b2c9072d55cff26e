// Package session implements the Interactive Session Handler (C8): the
// websocket-facing edge that authenticates a connection, attaches it to the
// Connection Manager (C6) as an observer for one or more conversations,
// accepts synchronous chat turns and asynchronous task submissions, and
// relays cancellation requests into the Task Queue (C5), grounded on the
// gateway control plane's read/write pump and JSON frame protocol idiom.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusagent/zeus/internal/auth"
	"github.com/zeusagent/zeus/internal/connmgr"
	"github.com/zeusagent/zeus/internal/infra"
	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/internal/orchestrator"
	"github.com/zeusagent/zeus/internal/queue"
	"github.com/zeusagent/zeus/internal/ratelimit"
	"github.com/zeusagent/zeus/pkg/models"
)

// Frame is the wire protocol exchanged with a connected client.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Seq     uint64          `json:"seq"`
}

const (
	FrameChat     = "chat"     // client -> server: synchronous chat turn (alias: "message")
	FrameMessage  = "message"  // client -> server: synchronous chat turn
	FrameTask     = "task"     // client -> server: submit a background task
	FrameCancel   = "cancel"   // client -> server: cancel a pending task or the in-flight chat turn
	FramePing     = "ping"     // client -> server: liveness check, answered with a "pong" event
	FrameAttach   = "attach"   // client -> server: observe a conversation's events
	FrameResponse = "response" // server -> client: reply to chat/task/cancel
	FrameEvent    = "event"    // server -> client: connmgr push or in-turn progress
	FrameErr      = "error"    // server -> client: protocol-level error
)

// Outbound event names carried in Frame.Event for FrameEvent frames, beyond
// connmgr's own task_status/task_progress.
const (
	EventStatus     = "status"      // payload: {"state": "processing"|"idle"}
	EventMessage    = "message"     // payload: {"content": "..."} — assistant's final reply
	EventToolStart  = "tool_start"  // payload: {"tool": "..."}
	EventToolResult = "tool_result" // payload: {"tool": "..."}
	EventBackendLog = "backend_log" // payload: {"message": "..."} — orchestrator progress narration
	EventCancelled  = "cancelled"
	EventPong       = "pong"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to websocket sessions and wires them into
// the orchestrator/queue/connection-manager stack. Authentication is
// expected to have already run via auth.HTTPMiddleware, which attaches the
// resolved user to the request context.
type Handler struct {
	conns      *connmgr.Manager
	q          queue.Store
	orch       *orchestrator.Orchestrator
	tiers      orchestrator.Tiers
	limiter    *ratelimit.Limiter
	log        *slog.Logger
	taskDedupe *infra.DedupeCache
}

// New builds a session handler.
func New(conns *connmgr.Manager, q queue.Store, orch *orchestrator.Orchestrator, tiers orchestrator.Tiers, limiter *ratelimit.Limiter, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		conns:   conns,
		q:       q,
		orch:    orch,
		tiers:   tiers,
		limiter: limiter,
		log:     log,
		taskDedupe: infra.NewDedupeCache(&infra.DedupeCacheConfig{
			TTL:     10 * time.Second,
			MaxSize: 1000,
		}),
	}
}

// ServeHTTP upgrades the request and runs the connection's read/write pumps
// until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := "anonymous"
	if user, ok := auth.UserFromContext(r.Context()); ok {
		userID = user.ID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := &connection{
		id:     uuid.New().String(),
		userID: userID,
		ws:     conn,
		send:   make(chan Frame, 64),
		h:      h,
	}
	sess.run(r.Context())
}

// connection is one live websocket session, implementing connmgr.Observer
// so the connection manager can push task events directly into its send
// channel without knowing about websockets.
type connection struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan Frame
	h      *Handler
	seq    atomic.Uint64
	closed atomic.Bool

	turnMu     sync.Mutex
	cancelTurn context.CancelFunc // set while a synchronous chat turn is running
}

func (c *connection) ID() string { return c.id }

func (c *connection) Send(evt connmgr.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	frame := Frame{Type: FrameEvent, Event: evt.Type, Payload: payload, Seq: c.seq.Add(1)}
	select {
	case c.send <- frame:
		return nil
	default:
		return errors.New("session: send buffer full")
	}
}

func (c *connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.h.conns.DetachAll(c.id)
	defer c.ws.Close()

	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *connection) readPump(ctx context.Context) {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if !c.closed.Load() {
				c.h.log.Debug("session read closed", "connection", c.id, "error", err)
			}
			return
		}
		if c.h.limiter != nil && !c.h.limiter.Allow(c.userID) {
			c.reply(frame.ID, "", nil, "rate limit exceeded")
			continue
		}
		c.dispatch(ctx, frame)
	}
}

func (c *connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() { c.closed.Store(true) }()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) dispatch(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameAttach:
		var req struct {
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			c.reply(frame.ID, "", nil, "invalid attach payload")
			return
		}
		c.h.conns.Attach(req.ConversationID, c)
		c.reply(frame.ID, "attached", nil, "")

	case FrameChat, FrameMessage:
		c.handleChat(ctx, frame)

	case FrameTask:
		c.handleTask(ctx, frame)

	case FrameCancel:
		c.handleCancel(ctx, frame)

	case FramePing:
		c.reply(frame.ID, EventPong, nil, "")

	default:
		c.reply(frame.ID, "", nil, "unknown frame type")
	}
}

type chatPayload struct {
	ConversationID string                `json:"conversation_id"`
	Message        string                `json:"message"`
	Models         models.ModelSelection `json:"models"`
}

func (c *connection) handleChat(ctx context.Context, frame Frame) {
	var req chatPayload
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		c.reply(frame.ID, "", nil, "invalid chat payload")
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.turnMu.Lock()
	c.cancelTurn = cancel
	c.turnMu.Unlock()
	defer func() {
		c.turnMu.Lock()
		c.cancelTurn = nil
		c.turnMu.Unlock()
		cancel()
	}()

	c.emit(EventStatus, map[string]string{"state": "processing"})

	result := c.h.orch.Run(turnCtx, orchestrator.Request{
		ConversationID:    req.ConversationID,
		Messages:          []modelclient.Message{{Role: modelclient.RoleUser, Content: req.Message}},
		Tiers:             c.h.tiers,
		RequireFinishTool: false, // synchronous turn: no tool calls also means done
		Progress:          c.turnProgress,
	})

	if result.Cancelled {
		c.emit(EventCancelled, nil)
		c.reply(frame.ID, "cancelled", nil, "")
		return
	}
	if result.Err != nil {
		c.emit(EventStatus, map[string]string{"state": "idle"})
		c.reply(frame.ID, "", nil, result.Err.Error())
		return
	}

	c.emit(EventMessage, map[string]string{"content": result.Content})
	c.emit(EventStatus, map[string]string{"state": "idle"})

	payload, _ := json.Marshal(map[string]string{"content": result.Content})
	c.reply(frame.ID, "completed", payload, "")
}

// turnProgress is the orchestrator's ProgressFunc for a synchronous chat
// turn, translating C4 progress steps onto this connection's outbound
// event vocabulary.
func (c *connection) turnProgress(message string, step models.ProgressStep) {
	switch step {
	case models.ProgressToolStart:
		c.emit(EventToolStart, map[string]string{"tool": message})
	case models.ProgressToolEnd:
		c.emit(EventToolResult, map[string]string{"tool": message})
	default:
		c.emit(EventBackendLog, map[string]string{"message": message})
	}
}

// emit pushes a FrameEvent with the given event name and payload. Sends
// never block: a full buffer drops the event rather than stalling the
// orchestrator loop.
func (c *connection) emit(event string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	frame := Frame{Type: FrameEvent, Event: event, Payload: raw, Seq: c.seq.Add(1)}
	select {
	case c.send <- frame:
	default:
		c.h.log.Warn("session: dropped event, send buffer full", "connection", c.id, "event", event)
	}
}

func (c *connection) handleTask(ctx context.Context, frame Frame) {
	var req struct {
		ConversationID string                `json:"conversation_id"`
		Message        string                `json:"message"`
		Models         models.ModelSelection `json:"models"`
		AttachedFiles  []string              `json:"attached_files"`
	}
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		c.reply(frame.ID, "", nil, "invalid task payload")
		return
	}
	dedupeKey := req.ConversationID + "\x00" + req.Message
	if c.h.taskDedupe.IsDuplicate(dedupeKey, nil) {
		c.reply(frame.ID, "", nil, "duplicate task submission, already queued")
		return
	}
	task := &models.Task{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		UserMessage:    req.Message,
		Status:         models.TaskPending,
		Models:         req.Models,
		AttachedFiles:  req.AttachedFiles,
		CreatedAt:      time.Now(),
	}
	if err := c.h.q.Create(ctx, task); err != nil {
		c.reply(frame.ID, "", nil, err.Error())
		return
	}
	c.h.conns.Attach(task.ConversationID, c)
	payload, _ := json.Marshal(map[string]string{"task_id": task.ID})
	c.reply(frame.ID, "queued", payload, "")
}

func (c *connection) handleCancel(ctx context.Context, frame Frame) {
	var req struct {
		TaskID string `json:"task_id,omitempty"`
	}
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			c.reply(frame.ID, "", nil, "invalid cancel payload")
			return
		}
	}

	if req.TaskID == "" {
		// No task_id: cancel this connection's in-flight synchronous chat
		// turn, if one is running. The orchestrator and any running shell
		// subprocess observe the resulting context cancellation.
		c.turnMu.Lock()
		cancel := c.cancelTurn
		c.turnMu.Unlock()
		if cancel == nil {
			c.reply(frame.ID, "", nil, "no chat turn in progress to cancel")
			return
		}
		cancel()
		c.reply(frame.ID, "cancelled", nil, "")
		return
	}

	ok, err := c.h.q.CancelPending(ctx, req.TaskID)
	if err != nil {
		c.reply(frame.ID, "", nil, fmt.Sprintf("cancel task %s: %v", req.TaskID, err))
		return
	}
	if !ok {
		c.reply(frame.ID, "", nil, "task is no longer pending")
		return
	}
	c.reply(frame.ID, "cancelled", nil, "")
}

func (c *connection) reply(id, event string, payload json.RawMessage, errMsg string) {
	frame := Frame{Type: FrameResponse, ID: id, Event: event, Payload: payload, Error: errMsg, Seq: c.seq.Add(1)}
	select {
	case c.send <- frame:
	default:
		c.h.log.Warn("session: dropped reply, send buffer full", "connection", c.id)
	}
}
