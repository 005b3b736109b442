package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ans-project/ans/pkg/protocol"
)

// DefaultBucket is the JetStream KV bucket used when none is configured.
const DefaultBucket = "ans-agents"

// KVStore persists entries in a NATS JetStream KeyValue bucket, so several
// registry instances attached to the same NATS cluster share one view.
type KVStore struct {
	kv jetstream.KeyValue
}

// OpenKVStore creates or binds the bucket on js.
func OpenKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Agent Name Service records",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

func (s *KVStore) Get(ctx context.Context, agentID string) (*protocol.AgentEntry, error) {
	kve, err := s.kv.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get from kv: %w", err)
	}
	var e protocol.AgentEntry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry %s: %w", agentID, err)
	}
	return &e, nil
}

func (s *KVStore) Put(ctx context.Context, entry *protocol.AgentEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if _, err := s.kv.Put(ctx, entry.AgentID, data); err != nil {
		return fmt.Errorf("put to kv: %w", err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, agentID string) error {
	if _, err := s.kv.Get(ctx, agentID); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get from kv: %w", err)
	}
	if err := s.kv.Delete(ctx, agentID); err != nil {
		return fmt.Errorf("delete from kv: %w", err)
	}
	return nil
}

func (s *KVStore) List(ctx context.Context) ([]protocol.AgentEntry, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := make([]protocol.AgentEntry, 0, len(keys))
	for _, key := range keys {
		e, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue // deleted between Keys and Get
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// Close is a no-op; the NATS connection is owned by the caller.
func (s *KVStore) Close() error { return nil }
