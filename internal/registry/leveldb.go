package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ans-project/ans/pkg/protocol"
)

var agentKeyPrefix = []byte("agent/")

// LevelDBStore persists entries in a local LevelDB database as JSON values
// under "agent/<agent_id>".
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens (or creates) the database at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// NewLevelDBStore wraps an already opened database.
func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func agentKey(agentID string) []byte {
	return append(append([]byte(nil), agentKeyPrefix...), agentID...)
}

func (s *LevelDBStore) Get(_ context.Context, agentID string) (*protocol.AgentEntry, error) {
	data, err := s.db.Get(agentKey(agentID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		if errors.Is(err, leveldb.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	var e protocol.AgentEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry %s: %w", agentID, err)
	}
	return &e, nil
}

func (s *LevelDBStore) Put(_ context.Context, entry *protocol.AgentEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := s.db.Put(agentKey(entry.AgentID), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (s *LevelDBStore) Delete(_ context.Context, agentID string) error {
	ok, err := s.db.Has(agentKey(agentID), nil)
	if err != nil {
		return fmt.Errorf("leveldb has: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if err := s.db.Delete(agentKey(agentID), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

func (s *LevelDBStore) List(_ context.Context) ([]protocol.AgentEntry, error) {
	iter := s.db.NewIterator(util.BytesPrefix(agentKeyPrefix), nil)
	defer iter.Release()

	var out []protocol.AgentEntry
	for iter.Next() {
		var e protocol.AgentEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry %s: %w", iter.Key(), err)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb iterate: %w", err)
	}
	return out, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
