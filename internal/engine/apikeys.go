package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/repo"
)

// IssuedKey carries the plaintext key once; only its hash is stored.
type IssuedKey struct {
	domain.APIKey
	Key string `json:"key"`
}

// CreateAPIKey mints a key for the actor.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (IssuedKey, error) {
	actor, err := e.Actor(ctx, nil, actorID)
	if err != nil {
		return IssuedKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return IssuedKey{}, fmt.Errorf("generate key: %w", err)
	}
	plain := "vfx_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actor.ID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return IssuedKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return IssuedKey{APIKey: key, Key: plain}, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	if _, err := e.Actor(ctx, nil, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// RevokeAPIKey deletes one of the actor's keys. Admins may revoke any key.
func (e Engine) RevokeAPIKey(ctx context.Context, actorID, id string) error {
	actor, err := e.Actor(ctx, nil, actorID)
	if err != nil {
		return err
	}
	owner := actor.ID
	if auth.IsAdmin(actor) {
		owner = ""
	}
	return e.Repo.DeleteAPIKey(ctx, id, owner)
}
