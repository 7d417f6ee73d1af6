package session

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kaiwa-ai/kaiwa/internal/domain/agent"
	"github.com/kaiwa-ai/kaiwa/internal/infra/llm"
)

// Close codes used by the session layer.
const (
	CloseUnauthorized websocket.StatusCode = 4401
	CloseNotFound     websocket.StatusCode = 4404
	CloseSuperseded   websocket.StatusCode = 4409
)

// Session pairs one websocket connection with one agent and one provider
// instance for the lifetime of an interview's real-time interaction.
type Session struct {
	InterviewID string
	UserID      string
	Agent       *agent.Agent

	conn      *websocket.Conn
	provider  llm.Provider
	budget    *budget
	startedAt time.Time
	closeOnce sync.Once
}

// CloseProvider releases the session's provider. Safe to call from every
// teardown path; the underlying Close runs once.
func (s *Session) CloseProvider() {
	s.closeOnce.Do(func() {
		s.provider.Close() //nolint:errcheck
	})
}

// evict notifies the session's client that a newer connection took over,
// then force-closes the connection.
func (s *Session) evict() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsjson.Write(ctx, s.conn, errorMsg("session superseded by a new connection")) //nolint:errcheck
	s.conn.Close(CloseSuperseded, "superseded by a new connection")               //nolint:errcheck
	s.CloseProvider()
}

// Registry is the process-wide map of live sessions keyed by interview id.
// At most one session exists per key; a second registration evicts the first.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register installs s under its interview id and returns the session it
// displaced, if any. The caller evicts the displaced session.
func (r *Registry) Register(s *Session) (displaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	displaced = r.sessions[s.InterviewID]
	r.sessions[s.InterviewID] = s
	return displaced
}

// Unregister removes s if it is still the registered session for its key.
// An evicted session must not remove its successor.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.InterviewID] == s {
		delete(r.sessions, s.InterviewID)
	}
}

// Get returns the live session for an interview id.
func (r *Registry) Get(interviewID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[interviewID]
	return s, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
