package connection

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/storage"
)

// Registry is the authoritative lookup over connection records plus the
// process-local side tables for the non-serializable handles. Records live in
// the shared store; sockets and heartbeat monitors never leave this process
// and are rebuilt empty on startup.
type Registry struct {
	store storage.Store

	mux      sync.Mutex
	sessions map[string]*Session
	monitors map[string]*HeartbeatMonitor
}

func NewRegistry(store storage.Store) *Registry {
	return &Registry{
		store:    store,
		sessions: make(map[string]*Session),
		monitors: make(map[string]*HeartbeatMonitor),
	}
}

func (r *Registry) FindByID(ctx context.Context, id string) (*models.ConnectionRecord, error) {
	return r.store.GetConnection(ctx, id)
}

func (r *Registry) FindByClientID(ctx context.Context, clientID string) (*models.ConnectionRecord, error) {
	return r.store.GetConnectionByClientID(ctx, clientID)
}

func (r *Registry) FindAll(ctx context.Context) ([]models.ConnectionRecord, error) {
	return r.store.ListConnections(ctx)
}

// FindOne returns the first stored record matching pred, in listing order.
// Callers with an indexed lookup should prefer FindByID or FindByClientID.
func (r *Registry) FindOne(ctx context.Context, pred func(*models.ConnectionRecord) bool) (*models.ConnectionRecord, error) {
	recs, err := r.store.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if pred(&recs[i]) {
			return &recs[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *Registry) Upsert(ctx context.Context, rec *models.ConnectionRecord) error {
	return r.store.PutConnection(ctx, rec)
}

func (r *Registry) DeleteByID(ctx context.Context, id string) error {
	return r.store.DeleteConnection(ctx, id)
}

// RegisterSession stores the live socket handle for a connection id.
func (r *Registry) RegisterSession(id string, s *Session) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.sessions[id] = s
}

// UnregisterSession removes and returns the socket handle, nil when absent.
func (r *Registry) UnregisterSession(id string) *Session {
	r.mux.Lock()
	defer r.mux.Unlock()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

// Session returns the live socket handle for a connection id.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// RegisterMonitor stores the heartbeat handle for a connection id.
func (r *Registry) RegisterMonitor(id string, m *HeartbeatMonitor) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.monitors[id] = m
}

// UnregisterMonitor removes and returns the heartbeat handle, nil when absent.
func (r *Registry) UnregisterMonitor(id string) *HeartbeatMonitor {
	r.mux.Lock()
	defer r.mux.Unlock()
	m := r.monitors[id]
	delete(r.monitors, id)
	return m
}

// LocalIDs returns the ids of every locally held session, sorted so shutdown
// drains them in a stable order.
func (r *Registry) LocalIDs() []string {
	r.mux.Lock()
	defer r.mux.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
