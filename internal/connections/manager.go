package connections

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TimeoutConfig holds the various timeout settings for WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

// Exchange describes one in-flight streaming chat.
type Exchange struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Transport string    `json:"transport"`
	Started   time.Time `json:"started"`
}

type tracked struct {
	info   Exchange
	cancel context.CancelFunc
}

// Manager tracks active streaming exchanges and WebSocket connections so
// they can be cancelled together on shutdown.
type Manager struct {
	mu          sync.Mutex
	exchanges   map[string]tracked
	connections sync.Map
	timeouts    TimeoutConfig
}

// NewManager creates a new connection manager with the specified timeouts
func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		exchanges: make(map[string]tracked),
		timeouts:  timeouts,
	}
}

// Begin registers an exchange and returns a context that is cancelled when
// the parent is, when CancelAll runs, or when done is called. done must be
// called once the exchange ends.
func (m *Manager) Begin(parent context.Context, agentID, transport string) (context.Context, Exchange, func()) {
	ctx, cancel := context.WithCancel(parent)
	info := Exchange{ID: uuid.NewString(), AgentID: agentID, Transport: transport, Started: time.Now()}

	m.mu.Lock()
	m.exchanges[info.ID] = tracked{info: info, cancel: cancel}
	m.mu.Unlock()

	var once sync.Once
	done := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.exchanges, info.ID)
			m.mu.Unlock()
			cancel()
		})
	}
	return ctx, info, done
}

// Count returns the number of in-flight exchanges.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

// Active lists in-flight exchanges, oldest first.
func (m *Manager) Active() []Exchange {
	m.mu.Lock()
	out := make([]Exchange, 0, len(m.exchanges))
	for _, t := range m.exchanges {
		out = append(out, t.info)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// CancelAll cancels every in-flight exchange and sends a going-away close
// frame on every WebSocket. It returns the number of exchanges cancelled.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	n := len(m.exchanges)
	for _, t := range m.exchanges {
		t.cancel()
	}
	m.mu.Unlock()

	deadline := time.Now().Add(m.timeouts.WriteWait)
	m.connections.Range(func(key, _ interface{}) bool {
		conn := key.(*websocket.Conn)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		return true
	})
	return n
}

// AddConnection registers a new WebSocket connection
func (m *Manager) AddConnection(conn *websocket.Conn) {
	m.connections.Store(conn, struct{}{})
}

// RemoveConnection removes a WebSocket connection
func (m *Manager) RemoveConnection(conn *websocket.Conn) {
	m.connections.Delete(conn)
}

// GetConnectionCount returns the current number of active connections
func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// HasConnection checks if a specific connection exists
func (m *Manager) HasConnection(conn *websocket.Conn) bool {
	_, exists := m.connections.Load(conn)
	return exists
}

// GetTimeouts returns the current timeout configuration
func (m *Manager) GetTimeouts() TimeoutConfig {
	return m.timeouts
}
