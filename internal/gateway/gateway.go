// Package gateway is the websocket face of the world: clients connect, send
// intent frames, and receive the Inbox as it happens. One frame in is one
// intent through the full pipeline; the gateway adds no semantics of its own
// beyond parsing, acknowledgement, and fan-out.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/bus"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// Defaults.
const (
	// DefaultWriteTimeout bounds one frame write; a stalled client must
	// not block the fan-out loop.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultPoll is the Inbox scan interval.
	DefaultPoll = 250 * time.Millisecond
)

// Submitter feeds parsed intents into the action pipeline.
type Submitter interface {
	Submit(ctx context.Context, in *action.Intent) error
}

// IntentFrame is one client request.
type IntentFrame struct {
	ActorRef   string         `json:"actor_ref"`
	Verb       string         `json:"verb"`
	Parameters map[string]any `json:"parameters,omitempty"`
	TargetRef  string         `json:"target_ref,omitempty"`
}

// Frame is one server push.
type Frame struct {
	Type     string `json:"type"`
	IntentID string `json:"intent_id,omitempty"`
	Message  string `json:"message,omitempty"`

	// Inbox fields, set when Type is "inbox". IntentID carries the
	// correlation id of the intent the sentence answers.
	ID      string `json:"id,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Content string `json:"content,omitempty"`
}

// Frame types.
const (
	FrameConnected = "connected"
	FrameAccepted  = "intent.accepted"
	FrameRejected  = "intent.rejected"
	FrameInbox     = "inbox"
)

// conn is one websocket client.
type conn struct {
	id     string
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Gateway accepts websocket connections, parses intent frames, and fans the
// Inbox out to every connected client.
type Gateway struct {
	submit       Submitter
	store        store.Store
	bus          *bus.Bus
	slot         int
	writeTimeout time.Duration
	poll         time.Duration
	log          *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
	seen  map[string]bool // inbox envelope ids already pushed
}

// New wires a gateway over the given pipeline entrance and bus.
func New(sub Submitter, s store.Store, b *bus.Bus, slot int, log *slog.Logger) *Gateway {
	return &Gateway{
		submit:       sub,
		store:        s,
		bus:          b,
		slot:         slot,
		writeTimeout: DefaultWriteTimeout,
		poll:         DefaultPoll,
		log:          log,
		conns:        map[string]*conn{},
		seen:         map[string]bool{},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local simulation host; no cross-origin surface
	})
	if err != nil {
		g.log.Warn("gateway: websocket accept failed", "error", err)
		return
	}
	g.handle(r.Context(), ws)
}

// handle runs one connection's read loop. Blocks until the client leaves.
func (g *Gateway) handle(parent context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)
	c := &conn{id: uuid.NewString(), ws: ws, ctx: ctx, cancel: cancel}

	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	defer g.drop(c)

	g.send(c, Frame{Type: FrameConnected, Message: c.id})

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var frame IntentFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.send(c, Frame{Type: FrameRejected, Message: "malformed frame"})
			continue
		}
		g.send(c, g.accept(ctx, frame))
	}
}

// accept parses one intent frame and submits it, returning the client's
// acknowledgement.
func (g *Gateway) accept(ctx context.Context, frame IntentFrame) Frame {
	actor, err := world.ParseRef(frame.ActorRef)
	if err != nil {
		return Frame{Type: FrameRejected, Message: "unknown actor reference"}
	}
	verb, ok := action.ParseVerb(frame.Verb)
	if !ok {
		return Frame{Type: FrameRejected, Message: "unknown verb"}
	}
	rec, err := store.LoadEntity(ctx, g.store, g.slot, actor)
	if err != nil {
		return Frame{Type: FrameRejected, Message: fault.Sentence(fault.KindOf(err))}
	}
	loc, ok := rec.Location()
	if !ok {
		return Frame{Type: FrameRejected, Message: "actor has no location"}
	}

	params := frame.Parameters
	if params == nil {
		params = map[string]any{}
	}
	if frame.TargetRef != "" {
		params["target"] = frame.TargetRef
	}

	in := action.NewIntent(actor, verb, params, action.SourcePlayer, loc)
	if err := g.submit.Submit(ctx, in); err != nil {
		return Frame{
			Type:     FrameRejected,
			IntentID: in.ID,
			Message:  fault.Sentence(fault.KindOf(err)),
		}
	}
	return Frame{Type: FrameAccepted, IntentID: in.ID}
}

// Run fans the Inbox out until ctx ends.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Tick pushes Inbox envelopes not yet delivered to every connected client.
func (g *Gateway) Tick(ctx context.Context) {
	envs, err := g.bus.Inbox.ReadAll(ctx)
	if err != nil {
		g.log.Warn("gateway: inbox read failed", "error", err)
		return
	}

	g.mu.Lock()
	var fresh []bus.Envelope
	for _, env := range envs {
		if env.SessionID != g.bus.SessionID || g.seen[env.ID] {
			continue
		}
		g.seen[env.ID] = true
		fresh = append(fresh, env)
	}
	targets := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	for _, env := range fresh {
		frame := Frame{
			Type:     FrameInbox,
			ID:       env.ID,
			Stage:    env.Stage,
			Content:  env.Content,
			IntentID: env.CorrelationID,
		}
		for _, c := range targets {
			g.send(c, frame)
		}
	}
}

// send writes one frame with the write timeout; failures drop the client.
func (g *Gateway) send(c *conn, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		g.log.Warn("gateway: frame marshal failed", "conn", c.id, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, g.writeTimeout)
	defer cancel()
	if err := c.ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		g.log.Debug("gateway: write failed, dropping client", "conn", c.id, "error", err)
		g.drop(c)
	}
}

// drop unregisters and closes one connection. Safe to call twice.
func (g *Gateway) drop(c *conn) {
	g.mu.Lock()
	_, present := g.conns[c.id]
	delete(g.conns, c.id)
	g.mu.Unlock()
	if !present {
		return
	}
	c.cancel()
	if err := c.ws.Close(websocket.StatusNormalClosure, ""); err != nil {
		g.log.Debug("gateway: close failed", "conn", c.id, "error", err)
	}
}

// ClientCount reports the number of live connections, for health checks.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}
