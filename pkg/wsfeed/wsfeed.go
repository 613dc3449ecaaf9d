// Package wsfeed delivers real-time card/decision updates to WebSocket
// clients, grounded in the teacher's pkg/events/manager.go ConnectionManager.
// Generalized from the teacher's arbitrary multi-channel pub-sub (one
// channel per session, one per chat) to a single project-scoped channel per
// connection, since every clawops operation is already scoped by
// (tenant_id, project_id) — a connection subscribes to exactly the project
// it was authorized against at upgrade time, never to an arbitrary channel
// name picked by the client.
//
// Cross-pod fanout (the teacher's NotifyListener, backed by Postgres
// LISTEN/NOTIFY) is dropped: nothing in the spec requires multi-pod
// delivery, so broadcasts are in-process only, pushed by the HTTP handlers
// immediately after a mutating call commits.
package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/tbenself/clawops/pkg/eventlog"
)

const catchupLimit = 200

// CatchupSource supplies events that occurred on or after a cursor, for a
// client reconnecting after a drop. Implemented by *eventlog.Log.
type CatchupSource interface {
	ByTSRange(ctx context.Context, projectID string, sinceTS int64, untilTS *int64, afterEventID *string, limit int) ([]*eventlog.Event, error)
}

// ClientMessage is the JSON structure for client -> server messages.
type ClientMessage struct {
	Action  string `json:"action"` // "catchup", "ping"
	SinceTS *int64 `json:"since_ts,omitempty"`
}

// Connection is a single WebSocket client, scoped to one project for its
// entire lifetime.
type Connection struct {
	ID        string
	ProjectID string
	Conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
}

// Manager tracks active connections and fans events out to every
// connection subscribed to a project.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	byProject   map[string]map[string]bool

	catchup      CatchupSource
	writeTimeout time.Duration
}

func New(catchup CatchupSource, writeTimeout time.Duration) *Manager {
	return &Manager{
		connections:  make(map[string]*Connection),
		byProject:    make(map[string]map[string]bool),
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages one WebSocket connection's lifecycle. Blocks
// until the connection closes.
func (m *Manager) HandleConnection(parentCtx context.Context, projectID string, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{ID: ulid.Make().String(), ProjectID: projectID, Conn: conn, ctx: ctx, cancel: cancel}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": c.ID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid wsfeed client message", "connection_id", c.ID, "error", err)
			continue
		}
		switch msg.Action {
		case "catchup":
			since := int64(0)
			if msg.SinceTS != nil {
				since = *msg.SinceTS
			}
			m.handleCatchup(ctx, c, since)
		case "ping":
			m.sendJSON(c, map[string]string{"type": "pong"})
		}
	}
}

// Broadcast sends a JSON-serializable payload to every connection
// subscribed to projectID.
func (m *Manager) Broadcast(projectID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("wsfeed: failed to marshal broadcast", "error", err)
		return
	}

	m.mu.RLock()
	ids := m.byProject[projectID]
	conns := make([]*Connection, 0, len(ids))
	for id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, data); err != nil {
			slog.Warn("wsfeed: failed to send to client", "connection_id", c.ID, "error", err)
		}
	}
}

// ActiveConnections reports the number of live WebSocket connections.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *Manager) handleCatchup(ctx context.Context, c *Connection, sinceTS int64) {
	if m.catchup == nil {
		return
	}
	events, err := m.catchup.ByTSRange(ctx, c.ProjectID, sinceTS, nil, nil, catchupLimit+1)
	if err != nil {
		slog.Error("wsfeed: catchup query failed", "project_id", c.ProjectID, "error", err)
		return
	}
	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}
	for _, ev := range events {
		if err := m.sendJSON(c, map[string]any{"type": "catchup.event", "event": ev}); err != nil {
			return
		}
	}
	if hasMore {
		m.sendJSON(c, map[string]any{"type": "catchup.overflow", "has_more": true})
	}
}

func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
	if m.byProject[c.ProjectID] == nil {
		m.byProject[c.ProjectID] = make(map[string]bool)
	}
	m.byProject[c.ProjectID][c.ID] = true
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, c.ID)
	if subs, ok := m.byProject[c.ProjectID]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.byProject, c.ProjectID)
		}
	}
	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendJSON(c *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("wsfeed: failed to marshal message", "connection_id", c.ID, "error", err)
		return err
	}
	return m.sendRaw(c, data)
}

func (m *Manager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
