// Package roles provides the role gate filtering transport events.
package roles

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrRoleDenied indicates the sender's connection does not hold any of the
// allowed transport roles.
var ErrRoleDenied = errors.New("role denied")

// Service resolves the roles held by a connection id. It is an external
// collaborator; lookups may block.
type Service interface {
	Roles(ctx context.Context, connectionID string) ([]string, error)
}

// Gate verifies that a sender's connection holds one of the allowed roles.
// Verdicts are cached per connection until Forget drops them; the allowed
// set is fixed at construction. An empty allowed set means
// unrestricted.
type Gate struct {
	svc     Service
	allowed map[string]struct{}

	mu    sync.Mutex
	cache map[string]bool

	denied atomic.Int64
}

// NewGate creates a gate allowing the given roles.
func NewGate(svc Service, allowedRoles []string) *Gate {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = struct{}{}
	}
	return &Gate{
		svc:     svc,
		allowed: allowed,
		cache:   make(map[string]bool),
	}
}

// Unrestricted reports whether the gate admits every sender.
func (g *Gate) Unrestricted() bool {
	return len(g.allowed) == 0
}

// Verify reports whether the connection holds one of the allowed roles.
func (g *Gate) Verify(ctx context.Context, connectionID string) (bool, error) {
	if g.Unrestricted() {
		return true, nil
	}

	g.mu.Lock()
	verdict, ok := g.cache[connectionID]
	g.mu.Unlock()
	if ok {
		return verdict, nil
	}

	held, err := g.svc.Roles(ctx, connectionID)
	if err != nil {
		return false, errors.Wrapf(err, "role lookup for %s", connectionID)
	}

	verdict = false
	for _, r := range held {
		if _, ok := g.allowed[r]; ok {
			verdict = true
			break
		}
	}

	g.mu.Lock()
	g.cache[connectionID] = verdict
	g.mu.Unlock()

	return verdict, nil
}

// Require returns ErrRoleDenied if the connection fails verification.
func (g *Gate) Require(ctx context.Context, connectionID string) error {
	ok, err := g.Verify(ctx, connectionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrRoleDenied, "connection %s", connectionID)
	}
	return nil
}

// Forget drops the cached verdict for a connection. Called when the
// underlying peer disconnects.
func (g *Gate) Forget(connectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, connectionID)
}

// CountDenied increments the denial counter.
func (g *Gate) CountDenied() {
	g.denied.Add(1)
}

// Denied returns the number of events dropped by the gate.
func (g *Gate) Denied() int64 {
	return g.denied.Load()
}
