// Package registry keeps track of live subscriber connections, grouped by
// item scope plus one admin scope.
package registry

import (
	"context"
	"sync"

	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/metrics"
	"memotag-notifier/internal/common/observability"
)

const adminTag = "admin"

// Scope is either one item's subscription group or the admin group.
type Scope struct {
	itemID string
	admin  bool
}

func ItemScope(itemID string) Scope { return Scope{itemID: itemID} }

func AdminScope() Scope { return Scope{admin: true} }

func (s Scope) IsAdmin() bool { return s.admin }

func (s Scope) ItemID() string { return s.itemID }

// Kind is "admin" or "item"; used as a metric label.
func (s Scope) Kind() string {
	if s.admin {
		return adminTag
	}
	return "item"
}

func (s Scope) String() string {
	if s.admin {
		return adminTag
	}
	return "item:" + s.itemID
}

// Conn is a subscriber channel. Send must be safe to call concurrently with
// Close; it fails once the channel is no longer open.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type group struct {
	mu    sync.Mutex
	conns []Conn
	// dead is set when an item group has been emptied and is being dropped.
	dead bool
}

func (g *group) indexOf(id string) int {
	for i, c := range g.conns {
		if c.ID() == id {
			return i
		}
	}
	return -1
}

func (g *group) snapshot() []Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Conn, len(g.conns))
	copy(out, g.conns)
	return out
}

// Registry is a lock-partitioned index of connections. The outer lock only
// guards the item-to-group map; each group has its own lock so scopes never
// contend with each other.
type Registry struct {
	mu    sync.Mutex
	items map[string]*group
	admin *group

	obs    *observability.Observability
	logger logger.Logger
}

func New(log logger.Logger, obs *observability.Observability) *Registry {
	return &Registry{
		items:  make(map[string]*group),
		admin:  &group{},
		obs:    obs,
		logger: logger.Component(log, "registry"),
	}
}

// Register adds conn to scope. Registering the same connection twice is the
// caller's mistake and is not detected.
func (r *Registry) Register(conn Conn, scope Scope) {
	if scope.IsAdmin() {
		r.admin.mu.Lock()
		r.admin.conns = append(r.admin.conns, conn)
		r.admin.mu.Unlock()
		r.track(scope, 1)
		return
	}

	for {
		g := r.itemGroup(scope.itemID, true)
		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			r.dropGroup(scope.itemID, g)
			continue
		}
		g.conns = append(g.conns, conn)
		g.mu.Unlock()
		break
	}
	r.track(scope, 1)
}

// Unregister removes conn from scope and reports whether it was present.
// Removing an absent connection is a no-op. An item group left empty is
// dropped.
func (r *Registry) Unregister(conn Conn, scope Scope) bool {
	if scope.IsAdmin() {
		r.admin.mu.Lock()
		removed := removeConn(r.admin, conn.ID())
		r.admin.mu.Unlock()
		if removed {
			r.track(scope, -1)
		}
		return removed
	}

	g := r.itemGroup(scope.itemID, false)
	if g == nil {
		return false
	}

	g.mu.Lock()
	removed := removeConn(g, conn.ID())
	empty := len(g.conns) == 0 && !g.dead
	if empty {
		g.dead = true
	}
	g.mu.Unlock()

	if empty {
		r.dropGroup(scope.itemID, g)
	}
	if removed {
		r.track(scope, -1)
	}
	return removed
}

// Snapshot returns a copy of the connections in scope at call time.
func (r *Registry) Snapshot(scope Scope) []Conn {
	if scope.IsAdmin() {
		return r.admin.snapshot()
	}
	g := r.itemGroup(scope.itemID, false)
	if g == nil {
		return nil
	}
	return g.snapshot()
}

func (r *Registry) Len(scope Scope) int {
	var g *group
	if scope.IsAdmin() {
		g = r.admin
	} else if g = r.itemGroup(scope.itemID, false); g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// ItemCount is the number of items with at least one subscriber.
func (r *Registry) ItemCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// CloseAll closes every registered connection. Connections unregister
// themselves as they close.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	groups := make([]*group, 0, len(r.items)+1)
	groups = append(groups, r.admin)
	for _, g := range r.items {
		groups = append(groups, g)
	}
	r.mu.Unlock()

	for _, g := range groups {
		for _, c := range g.snapshot() {
			if err := c.Close(); err != nil {
				r.logger.Debug("close on shutdown failed", map[string]interface{}{
					"conn_id": c.ID(),
					"error":   err.Error(),
				})
			}
		}
	}
}

func (r *Registry) itemGroup(itemID string, create bool) *group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.items[itemID]
	if !ok && create {
		g = &group{}
		r.items[itemID] = g
	}
	return g
}

func (r *Registry) dropGroup(itemID string, g *group) {
	r.mu.Lock()
	if r.items[itemID] == g {
		delete(r.items, itemID)
	}
	r.mu.Unlock()
}

func (r *Registry) track(scope Scope, delta int64) {
	metrics.ActiveConnections.WithLabelValues(scope.Kind()).Add(float64(delta))
	r.obs.SubscriberDelta(context.Background(), scope.Kind(), delta)
}

func removeConn(g *group, id string) bool {
	i := g.indexOf(id)
	if i < 0 {
		return false
	}
	g.conns = append(g.conns[:i], g.conns[i+1:]...)
	return true
}
