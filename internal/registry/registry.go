package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/habspeaker/habspeaker/internal/config"
	"github.com/habspeaker/habspeaker/internal/metrics"
)

// Registry tracks connected speaker clients and the process-wide speaker
// configuration. Readers take lock-free snapshots; the mutex only serializes
// writers, which publish a fresh copy on every change.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]*Client]
	config   atomic.Pointer[config.SpeakerConfig]

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an empty registry holding cfg as the current configuration
func New(cfg config.SpeakerConfig, logger *slog.Logger, m *metrics.Metrics) *Registry {
	r := &Registry{
		logger:  logger,
		metrics: m,
	}
	empty := []*Client{}
	r.snapshot.Store(&empty)
	r.config.Store(&cfg)
	return r
}

// Register adds a client for all later dispatches. Registering the same
// client again is a no-op. A different client with the same id replaces the
// old one, which is closed.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()

	current := *r.snapshot.Load()
	next := make([]*Client, 0, len(current)+1)
	var replaced *Client
	for _, existing := range current {
		if existing == c {
			r.mu.Unlock()
			return
		}
		if existing.ID == c.ID {
			replaced = existing
			continue
		}
		next = append(next, existing)
	}
	next = append(next, c)
	r.snapshot.Store(&next)

	r.mu.Unlock()

	r.metrics.RecordClientRegistered()
	r.metrics.SetClientsConnected(len(next))

	if replaced != nil {
		replaced.Close()
		r.logger.Info("Replaced client with same id",
			slog.String("client_id", c.ID.String()),
			slog.String("old_remote_addr", replaced.RemoteAddr),
			slog.String("new_remote_addr", c.RemoteAddr),
		)
	}

	r.logger.Info("Client registered",
		slog.String("client_id", c.ID.String()),
		slog.String("label", c.Label),
		slog.String("remote_addr", c.RemoteAddr),
		slog.Int("clients", len(next)),
	)
}

// Unregister removes and closes the client. It returns false when the client
// is not registered, e.g. because it was already removed or replaced.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()

	current := *r.snapshot.Load()
	next := make([]*Client, 0, len(current))
	found := false
	for _, existing := range current {
		if existing == c {
			found = true
			continue
		}
		next = append(next, existing)
	}
	if found {
		r.snapshot.Store(&next)
	}

	r.mu.Unlock()

	if !found {
		return false
	}

	c.Close()
	r.metrics.SetClientsConnected(len(next))

	r.logger.Info("Client unregistered",
		slog.String("client_id", c.ID.String()),
		slog.String("remote_addr", c.RemoteAddr),
		slog.Int("clients", len(next)),
	)
	return true
}

// Snapshot returns the clients registered at call time. The slice is shared
// and must not be modified; later registry changes never affect it.
func (r *Registry) Snapshot() []*Client {
	return *r.snapshot.Load()
}

// Get returns the registered client with the given id
func (r *Registry) Get(id uuid.UUID) (*Client, bool) {
	for _, c := range r.Snapshot() {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	return len(r.Snapshot())
}

// CurrentConfig returns the process-wide speaker configuration
func (r *Registry) CurrentConfig() config.SpeakerConfig {
	return *r.config.Load()
}

// UpdateConfig swaps in a reloaded speaker configuration
func (r *Registry) UpdateConfig(cfg config.SpeakerConfig) {
	old := r.config.Swap(&cfg)
	if old.Secure != cfg.Secure {
		r.logger.Info("Speaker configuration changed",
			slog.Bool("secure", cfg.Secure),
		)
	}
}

// CloseAll unregisters and closes every client
func (r *Registry) CloseAll() {
	for _, c := range r.Snapshot() {
		r.Unregister(c)
	}
}

// GetAllClients returns info for every registered client
func (r *Registry) GetAllClients() []ClientInfo {
	clients := r.Snapshot()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.Info())
	}
	return infos
}
