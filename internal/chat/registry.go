package chat

import (
	"time"

	"booktalk/pkg/domain"
	"booktalk/pkg/store"
)

// DefaultConnectionTTL is the absolute expiry stamped on saved connections.
const DefaultConnectionTTL = 24 * time.Hour

// Registry owns the connection table: the mapping from transport connection
// IDs to authenticated users. No other component mutates connection rows.
type Registry struct {
	store store.ConnectionStore
	ttl   time.Duration
	now   func() time.Time
}

// NewRegistry builds a registry over the given store. A non-positive ttl
// falls back to DefaultConnectionTTL.
func NewRegistry(s store.ConnectionStore, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultConnectionTTL
	}
	return &Registry{store: s, ttl: ttl, now: time.Now}
}

// Save upserts the connection, stamping activity and absolute expiry.
// Idempotent on the connection ID.
func (r *Registry) Save(conn domain.Connection) error {
	now := r.now().UTC()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.LastActiveAt = now
	conn.ExpiresAt = now.Add(r.ttl)
	if err := r.store.SaveConnection(conn); err != nil {
		return &store.StorageError{Op: "save connection", Err: err}
	}
	return nil
}

// Get resolves a connection by ID. Absent (or expired) rows return ok=false.
func (r *Registry) Get(connectionID string) (domain.Connection, bool, error) {
	conn, ok, err := r.store.GetConnection(connectionID)
	if err != nil {
		return domain.Connection{}, false, &store.StorageError{Op: "get connection", Err: err}
	}
	return conn, ok, nil
}

// Delete removes the row; deleting an absent row is not an error.
func (r *Registry) Delete(connectionID string) error {
	if err := r.store.DeleteConnection(connectionID); err != nil {
		return &store.StorageError{Op: "delete connection", Err: err}
	}
	return nil
}

// ByUser returns all live connections of a user, in no particular order.
func (r *Registry) ByUser(userID string) ([]domain.Connection, error) {
	conns, err := r.store.ListConnectionsByUser(userID)
	if err != nil {
		return nil, &store.StorageError{Op: "list connections", Err: err}
	}
	return conns, nil
}
