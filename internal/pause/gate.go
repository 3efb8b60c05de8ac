// Package pause implements the emergency stop for value-moving operations.
package pause

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/shared"
)

// Authorizer answers role membership.
type Authorizer interface {
	HasRole(role shared.Role, id shared.Identity) bool
}

type Recorder interface {
	Record(ctx context.Context, rec audit.Record) (audit.Record, error)
}

// Gate holds the paused flag. Value-moving operations run inside Hold so that
// a pause either completes before they start or waits for them to finish.
type Gate struct {
	mu     sync.RWMutex
	paused atomic.Bool
	roles  Authorizer
	audit  Recorder
}

func NewGate(roles Authorizer, rec Recorder) *Gate {
	return &Gate{roles: roles, audit: rec}
}

// RestoreGate rebuilds a gate in the replayed state.
func RestoreGate(paused bool, roles Authorizer, rec Recorder) *Gate {
	g := NewGate(roles, rec)
	g.paused.Store(paused)
	return g
}

// IsPaused never blocks.
func (g *Gate) IsPaused() bool { return g.paused.Load() }

func (g *Gate) Pause(ctx context.Context, caller shared.Identity) error {
	return g.set(ctx, caller, true)
}

func (g *Gate) Unpause(ctx context.Context, caller shared.Identity) error {
	return g.set(ctx, caller, false)
}

func (g *Gate) set(ctx context.Context, caller shared.Identity, paused bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	op, kind := "unpause", audit.KindUnpaused
	if paused {
		op, kind = "pause", audit.KindPaused
	}
	if !g.roles.HasRole(shared.RolePauser, caller) {
		return fmt.Errorf("pause: %s: %w: %s is not PAUSER", op, shared.ErrUnauthorized, caller)
	}
	if g.paused.Load() == paused {
		return fmt.Errorf("pause: %s: %w: already in that state", op, shared.ErrInvalidOperation)
	}
	if _, err := g.audit.Record(ctx, audit.Record{Kind: kind, Actor: caller}); err != nil {
		return err
	}
	g.paused.Store(paused)
	return nil
}

// Hold runs fn with the current paused state and keeps that state fixed until
// fn returns. fn decides how to treat a paused gate so callers can order their
// own checks ahead of it.
func (g *Gate) Hold(fn func(paused bool) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.paused.Load())
}
