package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelstorm/stormflow/store"
)

// Store implements store.Store backed by Redis. Each checkpoint is stored
// under its own key; a per-session latest pointer and a per-session sequence
// list keep Latest and List cheap. SetNX on the checkpoint key is the
// serialization point for the sequence check.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix, default "stormflow:"
	TTL      time.Duration // expiration for checkpoints, default 0 (no expiration)
}

// New creates a Redis checkpoint store.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts)
}

// NewWithClient wraps an existing client. Addr, Password and DB in opts are
// ignored.
func NewWithClient(client *redis.Client, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "stormflow:"
	}
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

func (s *Store) checkpointKey(sessionID string, seq int) string {
	return fmt.Sprintf("%scheckpoint:%s:%d", s.prefix, sessionID, seq)
}

func (s *Store) latestKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:latest", s.prefix, sessionID)
}

func (s *Store) seqsKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:seqs", s.prefix, sessionID)
}

// Put appends a checkpoint. The sequence check runs against the latest
// pointer; SetNX on the checkpoint key rejects the loser when two writers
// race on the same sequence number.
func (s *Store) Put(ctx context.Context, cp *store.Checkpoint) error {
	latest, err := s.latestSeq(ctx, cp.SessionID)
	if err != nil {
		return err
	}
	if latest < 0 {
		if cp.Seq != 0 {
			return store.ErrStaleCheckpoint
		}
	} else if cp.Seq != latest+1 {
		return store.ErrStaleCheckpoint
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.checkpointKey(cp.SessionID, cp.Seq), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("save checkpoint to redis: %w", err)
	}
	if !ok {
		return store.ErrStaleCheckpoint
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.latestKey(cp.SessionID), cp.Seq, s.ttl)
	pipe.RPush(ctx, s.seqsKey(cp.SessionID), cp.Seq)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.seqsKey(cp.SessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update session index: %w", err)
	}
	return nil
}

// Latest returns the most recent checkpoint for a session.
func (s *Store) Latest(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	seq, err := s.latestSeq(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if seq < 0 {
		return nil, store.ErrNotFound
	}
	return s.load(ctx, sessionID, seq)
}

// List returns all checkpoints for a session in sequence order.
func (s *Store) List(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	seqs, err := s.client.LRange(ctx, s.seqsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for session %s: %w", sessionID, err)
	}
	if len(seqs) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(seqs))
	for _, raw := range seqs {
		var seq int
		if _, err := fmt.Sscanf(raw, "%d", &seq); err != nil {
			continue
		}
		keys = append(keys, s.checkpointKey(sessionID, seq))
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch checkpoints: %w", err)
	}

	checkpoints := make([]*store.Checkpoint, 0, len(results))
	for _, result := range results {
		strData, ok := result.(string)
		if !ok {
			// Expired entries leave a nil hole, skip them.
			continue
		}
		var cp store.Checkpoint
		if err := json.Unmarshal([]byte(strData), &cp); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, nil
}

// Clear removes all checkpoints for a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	seqs, err := s.client.LRange(ctx, s.seqsKey(sessionID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list checkpoints for clearing: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, raw := range seqs {
		var seq int
		if _, err := fmt.Sscanf(raw, "%d", &seq); err != nil {
			continue
		}
		pipe.Del(ctx, s.checkpointKey(sessionID, seq))
	}
	pipe.Del(ctx, s.seqsKey(sessionID))
	pipe.Del(ctx, s.latestKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) latestSeq(ctx context.Context, sessionID string) (int, error) {
	seq, err := s.client.Get(ctx, s.latestKey(sessionID)).Int()
	if err != nil {
		if err == redis.Nil {
			return -1, nil
		}
		return 0, fmt.Errorf("read latest pointer: %w", err)
	}
	return seq, nil
}

func (s *Store) load(ctx context.Context, sessionID string, seq int) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(sessionID, seq)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint from redis: %w", err)
	}
	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
