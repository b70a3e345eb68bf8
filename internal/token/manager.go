// Package token issues and consumes the one-time, time-limited approval
// credentials bound to a draft. Only the sha256 of the raw value is ever
// persisted; presenting callers are matched by hash, never by raw compare.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"social-post-orchestrator/internal/models"
	"social-post-orchestrator/internal/store"
)

var (
	ErrNotFound = errors.New("token not found")
	ErrExpired  = errors.New("token expired")
	ErrConsumed = errors.New("token consumed")
)

// Manager mediates all approval-token operations against the store.
type Manager struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager builds a Manager with the configured TTL.
func NewManager(st store.Store, ttl time.Duration) *Manager {
	return &Manager{store: st, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Issue generates a fresh raw token for the draft, stores its hash with an
// expiry of now+TTL, and invalidates any prior unconsumed token for the same
// draft. The raw value is returned exactly once and never stored.
func (m *Manager) Issue(ctx context.Context, draftID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	now := m.now()
	t := models.ActionToken{
		ID:        uuid.NewString(),
		DraftID:   draftID,
		Hash:      Hash(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.InsertToken(ctx, t); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return raw, nil
}

// Validate checks the presented raw token against the draft without consuming
// it. The draft binding is verified so a token for one draft can never act on
// another.
func (m *Manager) Validate(ctx context.Context, draftID, raw string) error {
	t, err := m.lookup(ctx, draftID, raw)
	if err != nil {
		return err
	}
	return m.check(t)
}

// Consume atomically re-validates and marks the token consumed. Of two
// concurrent callers presenting the same valid token, exactly one succeeds;
// the loser observes ErrConsumed.
func (m *Manager) Consume(ctx context.Context, draftID, raw string) error {
	t, err := m.lookup(ctx, draftID, raw)
	if err != nil {
		return err
	}
	if err := m.check(t); err != nil {
		return err
	}
	consumedNow, _, err := m.store.ConsumeToken(ctx, t.Hash, m.now())
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	if !consumedNow {
		return ErrConsumed
	}
	return nil
}

func (m *Manager) lookup(ctx context.Context, draftID, raw string) (models.ActionToken, error) {
	if raw == "" {
		return models.ActionToken{}, ErrNotFound
	}
	hash := Hash(raw)
	t, err := m.store.GetTokenByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return models.ActionToken{}, ErrNotFound
	}
	if err != nil {
		return models.ActionToken{}, fmt.Errorf("lookup token: %w", err)
	}
	// The store lookup is already by hash; the extra constant-time compare
	// keeps the match timing-independent even if a store implementation uses
	// a prefix-matching index.
	if subtle.ConstantTimeCompare([]byte(t.Hash), []byte(hash)) != 1 {
		return models.ActionToken{}, ErrNotFound
	}
	if t.DraftID != draftID {
		return models.ActionToken{}, ErrNotFound
	}
	return t, nil
}

func (m *Manager) check(t models.ActionToken) error {
	if m.now().After(t.ExpiresAt) {
		return ErrExpired
	}
	if t.Consumed() {
		return ErrConsumed
	}
	return nil
}

// Hash returns the hex sha256 of a raw token value.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
