package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	ownerID        string
	clientRecordID string
}

// MemoryStore keeps transaction records in process memory. It implements the
// same transactional record-store contract as PostgresStore and is used by
// tests and local runs without a database.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]TransactionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]TransactionRecord)}
}

// InTransaction runs fn against a staged view of the store. Writes become
// visible only when fn returns nil; an error discards them all.
func (m *MemoryStore) InTransaction(ctx context.Context, fn func(RecordTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{base: m.records, staged: make(map[recordKey]TransactionRecord)}
	if err := fn(tx); err != nil {
		return err
	}
	for key, record := range tx.staged {
		m.records[key] = record
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

type memoryTx struct {
	base   map[recordKey]TransactionRecord
	staged map[recordKey]TransactionRecord
}

func (t *memoryTx) GetRecord(ctx context.Context, ownerID, clientRecordID string) (TransactionRecord, bool, error) {
	key := recordKey{ownerID: ownerID, clientRecordID: clientRecordID}
	if record, ok := t.staged[key]; ok {
		return record, true, nil
	}
	if record, ok := t.base[key]; ok {
		return record, true, nil
	}
	return TransactionRecord{}, false, nil
}

func (t *memoryTx) PutRecord(ctx context.Context, record TransactionRecord) error {
	t.staged[recordKey{ownerID: record.OwnerID, clientRecordID: record.ClientRecordID}] = record
	return nil
}

func (t *memoryTx) ListRecordsSince(ctx context.Context, ownerID string, since *time.Time) ([]TransactionRecord, error) {
	merged := make(map[recordKey]TransactionRecord)
	for key, record := range t.base {
		if key.ownerID == ownerID {
			merged[key] = record
		}
	}
	for key, record := range t.staged {
		if key.ownerID == ownerID {
			merged[key] = record
		}
	}

	items := make([]TransactionRecord, 0, len(merged))
	for _, record := range merged {
		if since != nil && !record.UpdatedAt.After(*since) {
			continue
		}
		items = append(items, record)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ClientRecordID < items[j].ClientRecordID
	})
	return items, nil
}
