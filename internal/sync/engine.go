// Package sync implements the reconciliation engine that merges
// client-submitted transaction record changes into server state and computes
// the delta a device must apply to catch up.
//
// Conflict resolution is last-write-wins on the record's updated-at
// timestamp, with the whole record replaced atomically. Client clocks are
// trusted for ordering only: a device with a fast clock can cause another
// device's correct writes to be discarded. That is an accepted limitation of
// the protocol, not something the engine compensates for.
package sync

import (
	"context"
	"sync"
	"time"

	"finsense/api/internal/store"
)

// Change is one incoming record change. UpdatedAt is optional and defaults
// to the server timestamp of the request; Deleted marks a tombstone.
type Change struct {
	ClientRecordID string
	Amount         float64
	Merchant       string
	Category       string
	OccurredAt     time.Time
	UpdatedAt      *time.Time
	Deleted        bool
}

// RecordStore runs a function inside one atomic store transaction.
type RecordStore interface {
	InTransaction(ctx context.Context, fn func(store.RecordTx) error) error
}

// Engine applies change batches under last-write-wins rules. Requests for
// the same owner are serialized so a concurrent device cannot interleave a
// newer write between this request's read and overwrite; different owners
// never block each other.
type Engine struct {
	store  RecordStore
	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

func NewEngine(recordStore RecordStore) *Engine {
	return &Engine{
		store:  recordStore,
		owners: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) ownerLock(ownerID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.owners[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		e.owners[ownerID] = lock
	}
	return lock
}

// Sync applies the batch and computes the outgoing delta within a single
// transaction, so the delta reflects the just-committed writes and a store
// failure leaves no partial batch behind. Callers retrying after an error
// resubmit the same batch safely: replays lose every LWW comparison.
func (e *Engine) Sync(ctx context.Context, ownerID string, lastSync *time.Time, changes []Change, now time.Time) ([]store.TransactionRecord, error) {
	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	var delta []store.TransactionRecord
	err := e.store.InTransaction(ctx, func(tx store.RecordTx) error {
		if err := e.ApplyChanges(ctx, tx, ownerID, now, changes); err != nil {
			return err
		}
		records, err := e.ComputeDelta(ctx, tx, ownerID, lastSync)
		if err != nil {
			return err
		}
		delta = records
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delta, nil
}

// ApplyChanges merges changes into the store in input order. A change with a
// missing record id or zero event time is skipped on its own; the rest of
// the batch still applies. A change is accepted only when its updated-at is
// strictly greater than the stored record's, so existing state wins ties and
// retransmissions are no-ops.
func (e *Engine) ApplyChanges(ctx context.Context, tx store.RecordTx, ownerID string, now time.Time, changes []Change) error {
	for _, change := range changes {
		if change.ClientRecordID == "" || change.OccurredAt.IsZero() {
			continue
		}
		updatedAt := now
		if change.UpdatedAt != nil {
			updatedAt = *change.UpdatedAt
		}

		existing, found, err := tx.GetRecord(ctx, ownerID, change.ClientRecordID)
		if err != nil {
			return err
		}
		if found && !updatedAt.After(existing.UpdatedAt) {
			continue
		}

		if err := tx.PutRecord(ctx, store.TransactionRecord{
			OwnerID:        ownerID,
			ClientRecordID: change.ClientRecordID,
			Amount:         change.Amount,
			Merchant:       change.Merchant,
			Category:       change.Category,
			OccurredAt:     change.OccurredAt,
			UpdatedAt:      updatedAt,
			Deleted:        change.Deleted,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ComputeDelta returns every record, tombstones included, updated strictly
// after lastSync; a nil lastSync returns the owner's full history. Records
// come back ordered by client record id.
func (e *Engine) ComputeDelta(ctx context.Context, tx store.RecordTx, ownerID string, lastSync *time.Time) ([]store.TransactionRecord, error) {
	return tx.ListRecordsSince(ctx, ownerID, lastSync)
}
