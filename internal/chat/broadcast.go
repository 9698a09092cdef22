package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// maxFanout bounds concurrent pushes during one broadcast so a user with
// many stale devices cannot exhaust the transport.
const maxFanout = 8

// Broadcaster fans a payload out to every live connection of a user. It
// reads the registry and prunes rows the transport reports gone, but never
// touches messages or conversations.
type Broadcaster struct {
	registry *Registry
	pusher   Pusher
	logger   *slog.Logger
}

// NewBroadcaster wires the fan-out over a registry and a push primitive.
func NewBroadcaster(registry *Registry, pusher Pusher, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, pusher: pusher, logger: logger}
}

// BroadcastToUser pushes payload to each of the user's connections and
// returns the number of successful deliveries. A gone connection is deleted
// from the registry and not counted; any other push failure is logged and
// skipped so one broken connection never blocks the user's other devices.
// No live connections is a zero count, not an error.
func (b *Broadcaster) BroadcastToUser(userID string, payload any) (int, error) {
	return b.BroadcastToUserExcept(userID, "", payload)
}

// BroadcastToUserExcept behaves like BroadcastToUser but skips the named
// connection, for callers that answer the originating connection on a
// separate path and only need its siblings fanned out.
func (b *Broadcaster) BroadcastToUserExcept(userID, excludeConnectionID string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast payload: %w", err)
	}
	conns, err := b.registry.ByUser(userID)
	if err != nil {
		return 0, err
	}
	if len(conns) == 0 {
		return 0, nil
	}

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(maxFanout)
	for _, conn := range conns {
		if conn.ID == excludeConnectionID {
			continue
		}
		conn := conn
		g.Go(func() error {
			err := b.pusher.Push(conn.ID, data)
			switch {
			case err == nil:
				delivered.Add(1)
			case errors.Is(err, ErrConnectionGone):
				b.logger.Debug("pruning stale connection", "connectionId", conn.ID, "userId", userID)
				if derr := b.registry.Delete(conn.ID); derr != nil {
					b.logger.Warn("failed to prune stale connection", "connectionId", conn.ID, "err", derr)
				}
			default:
				b.logger.Warn("push failed", "connectionId", conn.ID, "userId", userID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load()), nil
}
