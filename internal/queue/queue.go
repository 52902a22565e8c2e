// Package queue persists the work list of a run so that a resumed run
// continues from its cursor without enumerating and filtering again.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fclairamb/yachtsync/internal/kv"
)

const (
	chunkFormat      = "%08d" // <prefix>00000000, <prefix>00000001, ...
	maxItemsPerChunk = 500
)

// Chunk is the content of one persisted work list key.
type Chunk struct {
	Index     int       `json:"index"`
	IDs       []int64   `json:"ids"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager stores a work list under a key prefix, split into chunks.
type Manager struct {
	store  kv.Store
	prefix string
	Logger *slog.Logger
}

// NewManager creates a manager for the work list stored under prefix.
func NewManager(store kv.Store, prefix string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		prefix: prefix,
		Logger: logger,
	}
}

// Save replaces the stored work list with ids.
func (qm *Manager) Save(ctx context.Context, ids []int64) error {
	if err := qm.Clear(ctx); err != nil {
		return err
	}

	now := time.Now()
	for i, start := 0, 0; start < len(ids); i, start = i+1, start+maxItemsPerChunk {
		end := min(start+maxItemsPerChunk, len(ids))
		data, err := json.Marshal(&Chunk{Index: i, IDs: ids[start:end], CreatedAt: now})
		if err != nil {
			return fmt.Errorf("marshal chunk: %w", err)
		}
		if err := qm.store.Put(ctx, qm.prefix+fmt.Sprintf(chunkFormat, i), data); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
	}

	qm.Logger.DebugContext(ctx, "saved work list", "prefix", qm.prefix, "items", len(ids))
	return nil
}

// Load returns the stored work list in order. It reports false when no work
// list is stored.
func (qm *Manager) Load(ctx context.Context) ([]int64, bool, error) {
	keys, err := qm.store.List(ctx, qm.prefix)
	if err != nil {
		return nil, false, fmt.Errorf("list chunks: %w", err)
	}
	if len(keys) == 0 {
		return nil, false, nil
	}

	var ids []int64
	for _, key := range keys {
		data, err := qm.store.Get(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("read chunk %s: %w", key, err)
		}
		var chunk Chunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, false, fmt.Errorf("unmarshal chunk %s: %w", key, err)
		}
		ids = append(ids, chunk.IDs...)
	}

	return ids, true, nil
}

// Clear deletes the stored work list.
func (qm *Manager) Clear(ctx context.Context) error {
	keys, err := qm.store.List(ctx, qm.prefix)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	for _, key := range keys {
		if err := qm.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete chunk %s: %w", key, err)
		}
	}
	return nil
}
