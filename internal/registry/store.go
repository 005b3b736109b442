package registry

import (
	"context"

	"github.com/ans-project/ans/pkg/protocol"
)

// Store persists agent entries keyed by agent ID.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns ErrNotFound when no entry exists for agentID.
	Get(ctx context.Context, agentID string) (*protocol.AgentEntry, error)
	Put(ctx context.Context, entry *protocol.AgentEntry) error
	// Delete returns ErrNotFound when no entry exists for agentID.
	Delete(ctx context.Context, agentID string) error
	// List returns every entry, in no particular order.
	List(ctx context.Context) ([]protocol.AgentEntry, error)
	Close() error
}

// Store backend names accepted by the daemon configuration.
const (
	BackendMemory    = "memory"
	BackendLevelDB   = "leveldb"
	BackendJetStream = "jetstream"
)
