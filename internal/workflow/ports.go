package workflow

import (
	"context"
	"encoding/json"

	"coder-agent/internal/domain"
)

// Completer is the language-model capability consumed by the workflow nodes.
// Both calls may fail (timeout, malformed output, service error); every node
// owns a fallback policy so a failed call degrades the turn instead of
// aborting it.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteStructured(ctx context.Context, system, user, schemaName string, schema json.RawMessage, out any) error
}

// Searcher is the external search capability used by the web-augmentation
// node.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]domain.SearchResult, error)
}

// SnapshotStore is the durable conversation store. It exclusively owns the
// persisted snapshots; the orchestrator only reads the latest state and
// checkpoints complete turns through it.
type SnapshotStore interface {
	GetLatestSnapshot(ctx context.Context, threadID string) ([]domain.ChatMessage, error)
	AppendAndCheckpoint(ctx context.Context, threadID string, delta []domain.ChatMessage) (domain.Snapshot, error)
	GetSnapshotHistory(ctx context.Context, threadID string) ([]domain.Snapshot, error)
}
