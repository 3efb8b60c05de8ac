package rewards

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClaimConflict indicates the claim id is already minted or in flight.
var ErrClaimConflict = errors.New("reward claim already processed")

// ClaimStatus tracks a claim through reserve, mint and release.
type ClaimStatus string

const (
	ClaimReserved ClaimStatus = "reserved"
	ClaimMinted   ClaimStatus = "minted"
	ClaimReleased ClaimStatus = "released"
)

// ClaimStore persists claim ids. Reserve fails with ErrClaimConflict while a
// claim is reserved or minted; a released claim may be reserved again.
type ClaimStore interface {
	Reserve(ctx context.Context, claim Claim) error
	Complete(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (ClaimStatus, bool, error)
}

// MemoryClaims keeps claims in process, for tests and single-node dev.
type MemoryClaims struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

type memoryClaim struct {
	claim     Claim
	status    ClaimStatus
	updatedAt time.Time
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{claims: make(map[string]memoryClaim), now: time.Now}
}

func (m *MemoryClaims) Reserve(_ context.Context, claim Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.claims[claim.ID]; ok && existing.status != ClaimReleased {
		return ErrClaimConflict
	}
	m.claims[claim.ID] = memoryClaim{claim: claim, status: ClaimReserved, updatedAt: m.now()}
	return nil
}

func (m *MemoryClaims) Complete(_ context.Context, id string) error {
	return m.set(id, ClaimMinted)
}

func (m *MemoryClaims) Release(_ context.Context, id string) error {
	return m.set(id, ClaimReleased)
}

func (m *MemoryClaims) Status(_ context.Context, id string) (ClaimStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	return c.status, ok, nil
}

func (m *MemoryClaims) set(id string, status ClaimStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil
	}
	c.status = status
	c.updatedAt = m.now()
	m.claims[id] = c
	return nil
}
