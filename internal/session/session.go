// Package session implements the Session Manager: an in-memory table of
// live sessions keyed by a random token, a periodic sweeper that expires
// idle sessions, and the per-session state a workflow or command can
// attach itself to.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/packets"
)

// DefaultTimeout is the default session idle timeout.
const DefaultTimeout = time.Hour

// DefaultSweepInterval is the default sweeper period.
const DefaultSweepInterval = 60 * time.Second

// WorkflowState is the minimal shape the Session Manager needs from an
// attached workflow: a kind string the Command Processor uses to look up
// the handler, and opaque step data the workflow owns.
type WorkflowState struct {
	Kind string
	Step int
	Data map[string]any
}

// State is the per-session mutable record, returned by reference so
// callers can read it cheaply; mutation always goes through the Manager's
// methods.
type State struct {
	Username    string
	CurrentRoom int64
	Workflow    *WorkflowState
	LoggedIn    bool
	NodeID      string
	MsgQueue    chan []packets.ToUser
	lastActive  time.Time
}

// NotificationFunc is invoked by the sweeper (outside the lock) when a
// session expires, so the transport can notify the node and tear down its
// listener.
type NotificationFunc func(sessionID, message string)

// UserExists is a username-existence check a Manager can be constructed
// with. The Manager stores it, but none of its methods call it.
type UserExists func(ctx context.Context, username string) bool

type entry struct {
	state *State
}

// Manager is the Session Manager.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	byNode   map[string]string // node_id -> session_id

	timeout    time.Duration
	now        func() time.Time
	userExists UserExists
	notify     NotificationFunc
}

func New(timeout time.Duration, userExists UserExists) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		sessions:   make(map[string]*entry),
		byNode:     make(map[string]string),
		timeout:    timeout,
		now:        time.Now,
		userExists: userExists,
	}
}

// SetNotificationCallback registers the function the sweeper calls for each
// expired session.
func (m *Manager) SetNotificationCallback(fn NotificationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = fn
}

func newToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session: crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// CreateSession mints a session, optionally bound to a node_id for
// node-originated traffic. The new session has no username until
// MarkUsername binds one.
func (m *Manager) CreateSession(ctx context.Context, nodeID string) string {
	token := newToken()
	st := &State{
		NodeID:     nodeID,
		MsgQueue:   make(chan []packets.ToUser, 16),
		lastActive: m.now(),
	}

	m.mu.Lock()
	m.sessions[token] = &entry{state: st}
	if nodeID != "" {
		m.byNode[nodeID] = token
	}
	m.mu.Unlock()

	log.Infof("session: created session for node_id=%s", nodeID)
	return token
}

// GetSessionByNodeID returns the session id bound to nodeID, if any.
func (m *Manager) GetSessionByNodeID(nodeID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byNode[nodeID]
	return id, ok
}

// GetSessionState returns the live state for sessionID, or nil.
func (m *Manager) GetSessionState(sessionID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return e.state
}

// ValidateSession reports whether sessionID currently exists. Existence is
// authoritative until the sweeper removes it.
func (m *Manager) ValidateSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// TouchSession refreshes last-active time, reporting whether the session
// existed.
func (m *Manager) TouchSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	e.state.lastActive = m.now()
	return true
}

// ExpireSession removes sessionID immediately (explicit logout path, as
// opposed to sweeper-driven idle expiry).
func (m *Manager) ExpireSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	delete(m.sessions, sessionID)
	if e.state.NodeID != "" && m.byNode[e.state.NodeID] == sessionID {
		delete(m.byNode, e.state.NodeID)
	}
	log.Infof("session: manually expired session for username=%s", e.state.Username)
	return true
}

// SetCurrentRoom moves sessionID's cursor to roomID.
func (m *Manager) SetCurrentRoom(sessionID string, roomID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok {
		e.state.CurrentRoom = roomID
	}
}

// SetWorkflow attaches wf to sessionID, switching the Command Processor
// into workflow-delegation mode.
func (m *Manager) SetWorkflow(sessionID string, wf *WorkflowState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok {
		e.state.Workflow = wf
	}
}

// ClearWorkflow detaches any workflow from sessionID.
func (m *Manager) ClearWorkflow(sessionID string) {
	m.SetWorkflow(sessionID, nil)
}

// MarkLoggedIn flips the logged-in flag for sessionID.
func (m *Manager) MarkLoggedIn(sessionID string, loggedIn bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok {
		e.state.LoggedIn = loggedIn
	}
}

// MarkUsername binds sessionID to username (login or node-cache re-bind).
func (m *Manager) MarkUsername(sessionID, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok {
		e.state.Username = username
	}
}

// ActiveUsernames returns the usernames of every logged-in session, for the
// who command.
func (m *Manager) ActiveUsernames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, e := range m.sessions {
		if e.state.LoggedIn && e.state.Username != "" {
			names = append(names, e.state.Username)
		}
	}
	return names
}

// Sweep scans for idle sessions past timeout and expires them, invoking the
// notification callback outside the lock for each victim.
func (m *Manager) Sweep() {
	now := m.now()

	m.mu.Lock()
	var victims []string
	for id, e := range m.sessions {
		if now.Sub(e.state.lastActive) > m.timeout {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		e := m.sessions[id]
		e.state.Workflow = nil
		delete(m.sessions, id)
		if e.state.NodeID != "" && m.byNode[e.state.NodeID] == id {
			delete(m.byNode, e.state.NodeID)
		}
	}
	notify := m.notify
	m.mu.Unlock()

	for _, id := range victims {
		log.Infof("session: auto-expired session %s", id)
		if notify != nil {
			notify(id, "Signal lost")
		}
	}
}

// RunSweeper blocks, sweeping on interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
