package gate

import (
	"context"
	"sync"
)

// History is the append-only audit trail of terminal requests. Entries are
// never mutated after insertion.
type History interface {
	Append(ctx context.Context, req ExecutionRequest) error
	// List returns at most limit entries, most recent last, optionally
	// filtered by operation name. limit <= 0 means no bound.
	List(ctx context.Context, limit int, operation string) ([]ExecutionRequest, error)
	Close() error
}

// MemoryHistory keeps terminal records in memory. Appends are serialized;
// reads return copies.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []ExecutionRequest
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Append(ctx context.Context, req ExecutionRequest) error {
	_ = ctx
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, *req.clone())
	return nil
}

func (h *MemoryHistory) List(ctx context.Context, limit int, operation string) ([]ExecutionRequest, error) {
	_ = ctx
	operation = normalizeOperation(operation)

	h.mu.Lock()
	defer h.mu.Unlock()

	var out []ExecutionRequest
	for _, e := range h.entries {
		if operation != "" && normalizeOperation(e.Operation) != operation {
			continue
		}
		out = append(out, *e.clone())
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *MemoryHistory) Close() error { return nil }

var _ History = (*MemoryHistory)(nil)
