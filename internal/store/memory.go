package store

import (
	"context"
	"sync"

	"github.com/branchd-dev/authflow/internal/models"
)

// MemoryStore keeps the credential for the life of the process
type MemoryStore struct {
	mu   sync.Mutex
	cred *models.Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil, ErrNotFound
	}
	c := *m.cred
	return &c, nil
}

func (m *MemoryStore) Save(ctx context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.cred = &c
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
