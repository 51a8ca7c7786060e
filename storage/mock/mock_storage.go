// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/oauth-issuer/storage"
)

// MockClientStore is a mock implementation of ClientStore for testing
type MockClientStore struct {
	mu              sync.RWMutex
	clients         map[string]*storage.Client
	SaveClientFunc  func(client *storage.Client) error
	GetClientFunc   func(clientID string) (*storage.Client, error)
	ListClientsFunc func() ([]*storage.Client, error)
	CallCounts      map[string]int
}

// NewMockClientStore creates a new mock client store
func NewMockClientStore() *MockClientStore {
	m := &MockClientStore{
		clients:    make(map[string]*storage.Client),
		CallCounts: make(map[string]int),
	}

	m.SaveClientFunc = func(client *storage.Client) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.clients[client.ClientID] = client
		return nil
	}

	m.GetClientFunc = func(clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		client, ok := m.clients[clientID]
		if !ok {
			return nil, storage.ErrClientNotFound
		}
		return client, nil
	}

	m.ListClientsFunc = func() ([]*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		clients := make([]*storage.Client, 0, len(m.clients))
		for _, c := range m.clients {
			clients = append(clients, c)
		}
		return clients, nil
	}

	return m
}

func (m *MockClientStore) count(name string) {
	m.mu.Lock()
	m.CallCounts[name]++
	m.mu.Unlock()
}

// SaveClient implements ClientStore
func (m *MockClientStore) SaveClient(_ context.Context, client *storage.Client) error {
	m.count("SaveClient")
	return m.SaveClientFunc(client)
}

// GetClient implements ClientRegistry
func (m *MockClientStore) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	return m.GetClientFunc(clientID)
}

// ListClients implements ClientStore
func (m *MockClientStore) ListClients(_ context.Context) ([]*storage.Client, error) {
	m.count("ListClients")
	return m.ListClientsFunc()
}

// MockCodeStore is a mock implementation of CodeStore and RefreshTokenLedger for testing
type MockCodeStore struct {
	mu                           sync.RWMutex
	codes                        map[string]*storage.AuthorizationCode
	usedRefreshTokens            map[string]time.Time
	SaveAuthorizationCodeFunc    func(code *storage.AuthorizationCode) error
	ConsumeAuthorizationCodeFunc func(code string) (*storage.AuthorizationCode, error)
	MarkRefreshTokenUsedFunc     func(tokenID string, expiresAt time.Time) (bool, error)
	CallCounts                   map[string]int
}

// NewMockCodeStore creates a new mock code store
func NewMockCodeStore() *MockCodeStore {
	m := &MockCodeStore{
		codes:             make(map[string]*storage.AuthorizationCode),
		usedRefreshTokens: make(map[string]time.Time),
		CallCounts:        make(map[string]int),
	}

	m.SaveAuthorizationCodeFunc = func(code *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, exists := m.codes[code.Code]; exists {
			return storage.ErrAuthorizationCodeExists
		}
		m.codes[code.Code] = code
		return nil
	}

	m.ConsumeAuthorizationCodeFunc = func(code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		authCode, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		delete(m.codes, code)
		return authCode, nil
	}

	m.MarkRefreshTokenUsedFunc = func(tokenID string, expiresAt time.Time) (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, used := m.usedRefreshTokens[tokenID]; used {
			return false, nil
		}
		m.usedRefreshTokens[tokenID] = expiresAt
		return true, nil
	}

	return m
}

func (m *MockCodeStore) count(name string) {
	m.mu.Lock()
	m.CallCounts[name]++
	m.mu.Unlock()
}

// SaveAuthorizationCode implements CodeStore
func (m *MockCodeStore) SaveAuthorizationCode(_ context.Context, code *storage.AuthorizationCode) error {
	m.count("SaveAuthorizationCode")
	return m.SaveAuthorizationCodeFunc(code)
}

// ConsumeAuthorizationCode implements CodeStore
func (m *MockCodeStore) ConsumeAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("ConsumeAuthorizationCode")
	return m.ConsumeAuthorizationCodeFunc(code)
}

// MarkRefreshTokenUsed implements RefreshTokenLedger
func (m *MockCodeStore) MarkRefreshTokenUsed(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	m.count("MarkRefreshTokenUsed")
	return m.MarkRefreshTokenUsedFunc(tokenID, expiresAt)
}

// Calls returns how many times the named method was called
func (m *MockCodeStore) Calls(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[name]
}

// Compile-time interface checks
var (
	_ storage.ClientStore        = (*MockClientStore)(nil)
	_ storage.CodeStore          = (*MockCodeStore)(nil)
	_ storage.RefreshTokenLedger = (*MockCodeStore)(nil)
)
