package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the subset of the Redis client the guard needs.
type Store interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// Manager remembers which side effects already ran for an outbox event so a
// redelivered row does not send the same mail twice.
// Keys follow `pawfinds:idempotency:evt:<step>:<event_id>`.
type Manager struct {
	store Store
	ttl   time.Duration
}

func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Claim returns true when the caller should perform the step. A false result
// means a previous attempt already claimed it.
func (m *Manager) Claim(ctx context.Context, step string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(step, eventID)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, "1", m.ttl)
}

// Forget releases a claim after the step failed so the next attempt retries it.
func (m *Manager) Forget(ctx context.Context, step string, eventID uuid.UUID) error {
	key, err := m.key(step, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(step string, eventID uuid.UUID) (string, error) {
	if step == "" {
		return "", errors.New("step name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("evt:%s", step), eventID.String()), nil
}
