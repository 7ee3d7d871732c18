package database

import (
	"context"
	"slices"
	"sync"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
)

type MemoryStore struct {
	mu      sync.Mutex
	clients map[string]*ClientRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]*ClientRecord)}
}

func (ms *MemoryStore) Save(_ context.Context, record *ClientRecord) error {
	if record.ClientID == "" {
		return ClientIdEmptyError
	}
	saved := *record
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.clients[record.ClientID] = &saved
	return nil
}

func (ms *MemoryStore) Delete(_ context.Context, clientID, connID string) error {
	if clientID == "" {
		return ClientIdEmptyError
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	record, ok := ms.clients[clientID]
	if !ok || record.ConnID != connID {
		logger.DebugF("Client record for %s not owned by connection %s", clientID, connID)
		return nil
	}
	delete(ms.clients, clientID)
	return nil
}

// Get returns a copy of the record for clientID.
func (ms *MemoryStore) Get(_ context.Context, clientID string) (*ClientRecord, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	record, ok := ms.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	r := *record
	return &r, nil
}

// List returns copies of every record ordered by connection time.
func (ms *MemoryStore) List(_ context.Context) ([]*ClientRecord, error) {
	ms.mu.Lock()
	records := make([]*ClientRecord, 0, len(ms.clients))
	for _, record := range ms.clients {
		r := *record
		records = append(records, &r)
	}
	ms.mu.Unlock()
	slices.SortFunc(records, compareRecords)
	return records, nil
}

func (ms *MemoryStore) Close(_ context.Context) error {
	return nil
}

func compareRecords(a, b *ClientRecord) int {
	if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
		return c
	}
	if a.ClientID < b.ClientID {
		return -1
	}
	if a.ClientID > b.ClientID {
		return 1
	}
	return 0
}
