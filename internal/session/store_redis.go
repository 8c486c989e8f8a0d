package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps JSON snapshots of session state in Redis for crash
// recovery. One key per session with a TTL; a snapshot overwrites the
// previous one on every persisted transition.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// OpenStore dials Redis from a redis:// URL and verifies connectivity.
func OpenStore(redisURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for session store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(rdb, ttl), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) keySession(id string) string { return "sync:session:" + strings.TrimSpace(id) }
func (s *Store) keyIndex() string            { return "sync:sessions" }

// Save snapshots one session and refreshes the live index.
func (s *Store) Save(ctx context.Context, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keySession(st.ID), raw, s.ttl).Err(); err != nil {
		return err
	}
	if err := s.rdb.SAdd(ctx, s.keyIndex(), st.ID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyIndex(), s.ttl).Err()
}

// Load returns the snapshot, or nil when none exists.
func (s *Store) Load(ctx context.Context, id string) (*State, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Delete removes the snapshot once the session has been archived.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.keySession(id)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, s.keyIndex(), id).Err()
}

// IDs lists every session with a live snapshot, for startup recovery.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyIndex()).Result()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
