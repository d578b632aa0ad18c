package tablebase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tablebase entries in Redis so several trainer processes
// share one set of lookups.
type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

type storedEntry struct {
	Missing bool   `json:"missing,omitempty"`
	Entry   *Entry `json:"entry,omitempty"`
}

func (s *RedisStore) keyEntry(fen string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(fen)))
	return "tb:entry:" + hex.EncodeToString(hash[:])
}

func (s *RedisStore) Load(ctx context.Context, fen string) (*Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, s.keyEntry(fen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, err
	}
	if stored.Missing {
		return nil, true, nil
	}
	if stored.Entry == nil {
		return nil, false, nil
	}
	return stored.Entry, true, nil
}

func (s *RedisStore) Save(ctx context.Context, fen string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(storedEntry{Missing: entry == nil, Entry: entry})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyEntry(fen), raw, ttl).Err()
}

// Forget removes a single position from the shared store.
func (s *RedisStore) Forget(ctx context.Context, fen string) error {
	return s.rdb.Del(ctx, s.keyEntry(fen)).Err()
}
