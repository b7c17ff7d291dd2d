package store

import (
	"context"
	"sync"

	"ibharvest/internal/market"
)

// MemoryBarStore keeps batches in memory. It backs dry runs and tests.
type MemoryBarStore struct {
	shards []barShard
}

type barShard struct {
	mu   sync.RWMutex
	data map[string][]market.Bar
}

const defaultShardCount = 32

var _ BarSink = (*MemoryBarStore)(nil)

func NewMemoryBarStore() *MemoryBarStore {
	return newMemoryBarStore(defaultShardCount)
}

func newMemoryBarStore(shards int) *MemoryBarStore {
	if shards <= 0 {
		shards = 1
	}
	out := &MemoryBarStore{
		shards: make([]barShard, shards),
	}
	for i := range out.shards {
		out.shards[i] = barShard{data: make(map[string][]market.Bar)}
	}
	return out
}

func (s *MemoryBarStore) shardFor(key string) *barShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

func (s *MemoryBarStore) WriteBatch(ctx context.Context, key BatchKey, bars []market.Bar) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	k := key.String()
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	dst := make([]market.Bar, len(bars))
	copy(dst, bars)
	sh.data[k] = dst
	return "memory:" + k, nil
}

// Get returns a copy of the batch stored for key.
func (s *MemoryBarStore) Get(key BatchKey) ([]market.Bar, bool) {
	k := key.String()
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur, ok := sh.data[k]
	if !ok {
		return nil, false
	}
	out := make([]market.Bar, len(cur))
	copy(out, cur)
	return out, true
}

// Len reports the number of stored batches.
func (s *MemoryBarStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].data)
		s.shards[i].mu.RUnlock()
	}
	return n
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
