// Package store persists the signed-in session between runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/branchd-dev/authflow/internal/config"
	"github.com/branchd-dev/authflow/internal/models"
)

// ErrNotFound is returned by Load when no session is persisted
var ErrNotFound = errors.New("no persisted session")

// CredentialStore holds at most one credential
type CredentialStore interface {
	Load(ctx context.Context) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
	Delete(ctx context.Context) error
	Close() error
}

// Open builds the store selected by SESSION_STORE
func Open(cfg config.SessionConfig, zlog zerolog.Logger) (CredentialStore, error) {
	switch cfg.Store {
	case "", "sqlite":
		db, err := OpenDatabase(cfg.DatabaseURL, zlog)
		if err != nil {
			return nil, err
		}
		key, err := ResolveKey(db, cfg.Key, zlog)
		if err != nil {
			closeDB(db)
			return nil, err
		}
		s, err := NewSQLStore(db, key)
		if err != nil {
			closeDB(db)
			return nil, err
		}
		return s, nil
	case "keyring":
		return NewKeyringStore(KeyringAccount), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session store: %s", cfg.Store)
	}
}
