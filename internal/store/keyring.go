package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/branchd-dev/authflow/internal/models"
)

const (
	service = "authflow"

	// KeyringAccount is the keychain entry holding the session
	KeyringAccount = "session"
)

// KeyringStore persists the credential in the OS keychain/credential manager
type KeyringStore struct {
	account string
}

// NewKeyringStore creates a store for the given keychain account
func NewKeyringStore(account string) *KeyringStore {
	return &KeyringStore{account: account}
}

func (k *KeyringStore) Load(ctx context.Context) (*models.Credential, error) {
	data, err := keyring.Get(service, k.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	var cred models.Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}
	return &cred, nil
}

func (k *KeyringStore) Save(ctx context.Context, cred *models.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := keyring.Set(service, k.account, string(data)); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (k *KeyringStore) Delete(ctx context.Context) error {
	if err := keyring.Delete(service, k.account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (k *KeyringStore) Close() error {
	return nil
}
