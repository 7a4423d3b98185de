package stream

import (
	"encoding/binary"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/habspeaker/habspeaker/internal/audio"
	"github.com/habspeaker/habspeaker/internal/protocol"
)

// Session is one playback session: the lifetime of a single Process call.
// Its id tags every frame sent while it is active.
type Session struct {
	ID        protocol.SessionID
	Format    audio.Format // format of the emitted PCM
	StartTime time.Time

	chunks atomic.Uint64
	bytes  atomic.Uint64
}

// SessionInfo is a point-in-time view of a session for monitoring and APIs
type SessionInfo struct {
	ID        string        `json:"id"`
	Format    string        `json:"format"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Chunks    uint64        `json:"chunks"`
	Bytes     uint64        `json:"bytes"`
}

// GetSessionInfo returns current session statistics
func (s *Session) GetSessionInfo() SessionInfo {
	return SessionInfo{
		ID:        s.ID.String(),
		Format:    s.Format.String(),
		StartTime: s.StartTime,
		Duration:  time.Since(s.StartTime),
		Chunks:    s.chunks.Load(),
		Bytes:     s.bytes.Load(),
	}
}

func (s *Session) recordChunk(payloadBytes int) {
	s.chunks.Add(1)
	s.bytes.Add(uint64(payloadBytes))
}

// Stats summarizes every session the manager has seen
type Stats struct {
	ActiveSessions    int    `json:"active_sessions"`
	CompletedSessions uint64 `json:"completed_sessions"`
	FailedSessions    uint64 `json:"failed_sessions"`
	TotalChunks       uint64 `json:"total_chunks"`
	TotalBytes        uint64 `json:"total_bytes"`
}

// Manager creates sessions and tracks the ones currently playing
type Manager struct {
	sessions map[protocol.SessionID]*Session
	mu       sync.RWMutex
	logger   *slog.Logger

	completed uint64
	failed    uint64
	chunks    uint64
	bytes     uint64
}

// NewManager creates a new session manager
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[protocol.SessionID]*Session),
		logger:   logger,
	}
}

// CreateSession starts a session emitting the given format. The id is drawn
// from a fast non-cryptographic generator and redrawn if it collides with a
// session that is still active.
func (m *Manager) CreateSession(format audio.Format) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := &Session{
		Format:    format,
		StartTime: time.Now(),
	}
	for {
		session.ID = newSessionID()
		if _, exists := m.sessions[session.ID]; !exists {
			break
		}
	}

	m.sessions[session.ID] = session

	m.logger.Debug("Created session",
		slog.String("session_id", session.ID.String()),
		slog.String("format", format.String()),
		slog.Int("active_sessions", len(m.sessions)),
	)

	return session
}

// GetSession returns the active session with the given id
func (m *Manager) GetSession(id protocol.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// RemoveSession ends a session. A nil err marks it completed. Removing a
// session twice is a no-op and returns false.
func (m *Manager) RemoveSession(session *Session, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.sessions[session.ID]; !exists || current != session {
		return false
	}
	delete(m.sessions, session.ID)

	info := session.GetSessionInfo()
	m.chunks += info.Chunks
	m.bytes += info.Bytes
	if err != nil {
		m.failed++
	} else {
		m.completed++
	}

	m.logger.Debug("Removed session",
		slog.String("session_id", info.ID),
		slog.Duration("duration", info.Duration),
		slog.Uint64("chunks", info.Chunks),
		slog.Bool("failed", err != nil),
	)

	return true
}

// GetActiveSessionCount returns the number of sessions currently playing
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns info for every active session
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.GetSessionInfo())
	}
	return infos
}

// GetStats returns aggregate statistics. Chunk and byte totals include
// sessions still in progress.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		ActiveSessions:    len(m.sessions),
		CompletedSessions: m.completed,
		FailedSessions:    m.failed,
		TotalChunks:       m.chunks,
		TotalBytes:        m.bytes,
	}
	for _, session := range m.sessions {
		stats.TotalChunks += session.chunks.Load()
		stats.TotalBytes += session.bytes.Load()
	}
	return stats
}

func newSessionID() protocol.SessionID {
	var id protocol.SessionID
	binary.BigEndian.PutUint32(id[:], rand.Uint32())
	return id
}
