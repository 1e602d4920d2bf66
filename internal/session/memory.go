package session

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// MemoryStore keeps sessions in process memory, spread over a fixed set of
// lock-protected shards. Sessions are lost on restart.
type MemoryStore struct {
	shards   [shardCount]*shard
	maxTurns int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store capping each session at maxTurns.
func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	s := &MemoryStore{maxTurns: maxTurns}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string][]Turn)}
	}
	return s
}

func (s *MemoryStore) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// Get returns a copy of the session's turns, oldest first. Unknown
// sessions yield an empty history.
func (s *MemoryStore) Get(_ context.Context, id string) ([]Turn, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	turns := sh.sessions[id]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, id string, turns ...Turn) error {
	if id == "" {
		return ErrEmptyID
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	merged := append(sh.sessions[id], turns...)
	// Copy the window so the discarded prefix can be collected.
	kept := window(merged, s.maxTurns)
	if len(kept) < len(merged) {
		kept = append([]Turn(nil), kept...)
	}
	sh.sessions[id] = kept
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	delete(sh.sessions, id)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	var sizes []int
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, turns := range sh.sessions {
			sizes = append(sizes, len(turns))
		}
		sh.mu.RUnlock()
	}
	return computeStats(sizes), nil
}
