package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/shared"
)

// Recorder appends audit records.
type Recorder interface {
	Record(ctx context.Context, rec audit.Record) (audit.Record, error)
}

// View answers role questions while the registry read lock is held.
type View interface {
	HasRole(role shared.Role, id shared.Identity) bool
}

// Registry tracks which identities hold which roles. ADMIN administers every
// role, including ADMIN itself, and the registry never drops to zero admins.
type Registry struct {
	mu      sync.RWMutex
	holders map[shared.Role]map[shared.Identity]struct{}
	audit   Recorder
}

// NewRegistry makes admin the first ADMIN holder and records the grant.
func NewRegistry(ctx context.Context, admin shared.Identity, rec Recorder) (*Registry, error) {
	if admin.IsNull() {
		return nil, fmt.Errorf("rbac: initial admin: %w", shared.ErrInvalidArgument)
	}
	r := &Registry{holders: make(map[shared.Role]map[shared.Identity]struct{}), audit: rec}
	if _, err := rec.Record(ctx, audit.Record{Kind: audit.KindRoleGranted, Actor: admin, Account: admin, Role: shared.RoleAdmin}); err != nil {
		return nil, err
	}
	r.add(shared.RoleAdmin, admin)
	return r, nil
}

// RestoreRegistry rebuilds a registry from replayed assignments.
func RestoreRegistry(assignments map[shared.Role]map[shared.Identity]struct{}, rec Recorder) (*Registry, error) {
	r := &Registry{holders: make(map[shared.Role]map[shared.Identity]struct{}), audit: rec}
	for role, ids := range assignments {
		if !role.Valid() {
			return nil, fmt.Errorf("rbac: restore: %w: role %q", shared.ErrInvalidArgument, role)
		}
		for id := range ids {
			r.add(role, id)
		}
	}
	if len(r.holders[shared.RoleAdmin]) == 0 {
		return nil, fmt.Errorf("rbac: restore: no ADMIN holder: %w", shared.ErrInvalidOperation)
	}
	return r, nil
}

func (r *Registry) HasRole(role shared.Role, id shared.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.has(role, id)
}

// Read runs fn with the read lock held, so role membership cannot change
// until fn returns.
func (r *Registry) Read(fn func(View) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(lockedView{r})
}

// Members lists holders of role in byte order.
func (r *Registry) Members(role shared.Role) []shared.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]shared.Identity, 0, len(r.holders[role]))
	for id := range r.holders[role] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return shared.CompareIdentity(out[i], out[j]) < 0 })
	return out
}

// GrantRole gives account the role. Granting a held role changes nothing and records nothing.
func (r *Registry) GrantRole(ctx context.Context, caller shared.Identity, role shared.Role, account shared.Identity) error {
	if err := validate(role, account); err != nil {
		return fmt.Errorf("rbac: grant: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.has(shared.RoleAdmin, caller) {
		return fmt.Errorf("rbac: grant %s: %w: %s is not ADMIN", role, shared.ErrUnauthorized, caller)
	}
	if r.has(role, account) {
		return nil
	}
	if _, err := r.audit.Record(ctx, audit.Record{Kind: audit.KindRoleGranted, Actor: caller, Account: account, Role: role}); err != nil {
		return err
	}
	r.add(role, account)
	return nil
}

// RevokeRole removes role from account. Revoking an unheld role is a no-op.
func (r *Registry) RevokeRole(ctx context.Context, caller shared.Identity, role shared.Role, account shared.Identity) error {
	if err := validate(role, account); err != nil {
		return fmt.Errorf("rbac: revoke: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.has(shared.RoleAdmin, caller) {
		return fmt.Errorf("rbac: revoke %s: %w: %s is not ADMIN", role, shared.ErrUnauthorized, caller)
	}
	return r.removeLocked(ctx, caller, role, account)
}

// RenounceRole lets caller drop one of its own roles.
func (r *Registry) RenounceRole(ctx context.Context, caller shared.Identity, role shared.Role) error {
	if err := validate(role, caller); err != nil {
		return fmt.Errorf("rbac: renounce: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(ctx, caller, role, caller)
}

func (r *Registry) removeLocked(ctx context.Context, caller shared.Identity, role shared.Role, account shared.Identity) error {
	if !r.has(role, account) {
		return nil
	}
	if role == shared.RoleAdmin && len(r.holders[shared.RoleAdmin]) == 1 {
		return fmt.Errorf("rbac: %w: cannot remove the last ADMIN", shared.ErrInvalidOperation)
	}
	if _, err := r.audit.Record(ctx, audit.Record{Kind: audit.KindRoleRevoked, Actor: caller, Account: account, Role: role}); err != nil {
		return err
	}
	delete(r.holders[role], account)
	return nil
}

func (r *Registry) has(role shared.Role, id shared.Identity) bool {
	_, ok := r.holders[role][id]
	return ok
}

func (r *Registry) add(role shared.Role, id shared.Identity) {
	set := r.holders[role]
	if set == nil {
		set = make(map[shared.Identity]struct{})
		r.holders[role] = set
	}
	set[id] = struct{}{}
}

type lockedView struct{ r *Registry }

func (v lockedView) HasRole(role shared.Role, id shared.Identity) bool { return v.r.has(role, id) }

func validate(role shared.Role, account shared.Identity) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", shared.ErrInvalidArgument, role)
	}
	if account.IsNull() {
		return fmt.Errorf("%w: null identity", shared.ErrInvalidArgument)
	}
	return nil
}
