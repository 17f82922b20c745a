package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aegis-plus/AIGEN/internal/storage"
)

// historyStorageKey holds the whole collection as one serialized array,
// newest-first. The value is always read and rewritten whole.
const historyStorageKey = "aigen:history"

// DefaultMaxItems is the item-count ceiling applied before persistence. It is
// a cheap first-pass bound; the quota eviction loop is the real backstop.
const DefaultMaxItems = 200

// Store persists the generation history in a key-value store, evicting the
// oldest entries when the storage budget is exceeded.
type Store struct {
	kv       storage.KeyValue
	maxItems int
}

// NewStore creates a history store. maxItems <= 0 selects DefaultMaxItems.
func NewStore(kv storage.KeyValue, maxItems int) *Store {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Store{
		kv:       kv,
		maxItems: maxItems,
	}
}

// Load reads the persisted collection. Corrupt or unreadable storage yields
// an empty collection; startup must never be blocked by bad history data.
func (s *Store) Load(ctx context.Context) []Record {
	payload, err := s.kv.Get(ctx, historyStorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("history: failed to load history, starting empty", "error", err)
		}
		return []Record{}
	}

	var records []Record
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		slog.Error("history: ignoring corrupt history payload", "error", err)
		return []Record{}
	}
	return records
}

// Append prepends rec to current, truncates to the item-count ceiling, and
// persists, evicting the oldest tail entry and retrying on each quota error
// until the payload fits or the collection is empty. It returns the
// collection that was actually persisted and whether any eviction occurred.
// Non-quota persistence errors are fatal to the operation.
//
// The ceiling bounds the incoming collection, not the persisted result: a
// quota-free append to a full collection persists maxItems+1 entries. The
// quota eviction loop, not the count ceiling, is the hard bound on storage.
//
// The new record's timestamp is bumped past the current head when it would
// collide, keeping CreatedAt unique within the collection.
func (s *Store) Append(ctx context.Context, rec Record, current []Record) (saved []Record, pruned bool, err error) {
	if len(current) > 0 && rec.CreatedAt <= current[0].CreatedAt {
		rec.CreatedAt = current[0].CreatedAt + 1
	}

	originalLen := len(current)
	// The count ceiling bounds the incoming collection; the quota loop below
	// is the authoritative backstop for the prepended result.
	if len(current) > s.maxItems {
		current = current[:s.maxItems]
	}
	toSave := make([]Record, 0, len(current)+1)
	toSave = append(toSave, rec)
	toSave = append(toSave, current...)

	for len(toSave) > 0 {
		payload, marshalErr := json.Marshal(toSave)
		if marshalErr != nil {
			return nil, false, fmt.Errorf("failed to serialize history: %w", marshalErr)
		}

		setErr := s.kv.Set(ctx, historyStorageKey, string(payload))
		if setErr == nil {
			pruned = len(toSave) < originalLen+1
			if pruned {
				slog.Warn("history: evicted oldest entries to fit storage budget",
					"kept", len(toSave), "dropped", originalLen+1-len(toSave))
			}
			return toSave, pruned, nil
		}
		if errors.Is(setErr, storage.ErrQuotaExceeded) {
			// New items sit at the front, so the last item is the oldest.
			toSave = toSave[:len(toSave)-1]
			continue
		}
		return nil, false, fmt.Errorf("failed to save history: %w", setErr)
	}

	// Every entry was evicted and even the new record alone did not fit.
	// Persist the empty collection so storage and memory agree.
	if clearErr := s.kv.Set(ctx, historyStorageKey, "[]"); clearErr != nil {
		return nil, false, fmt.Errorf("could not save history, storage may be full or disabled: %w", clearErr)
	}
	return []Record{}, true, nil
}

// Clear persists an empty collection.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Set(ctx, historyStorageKey, "[]"); err != nil {
		return fmt.Errorf("could not clear history: %w", err)
	}
	return nil
}
