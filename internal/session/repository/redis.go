package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ledgerguard/backend/internal/session/domain"
)

const (
	sessionKeyPrefix      = "session:"
	userSessionsKeyPrefix = "user_sessions:"
	// retention keeps records past expiry so late validations still see SESSION_EXPIRED.
	retention = 24 * time.Hour
	// maxTxRetries bounds optimistic transaction retries under contention.
	maxTxRetries = 10
)

// ErrContention is returned when an optimistic update keeps losing to concurrent writers.
var ErrContention = errors.New("session update contention")

// RedisRepository stores sessions as JSON under session:{id} with a per-user index set.
// Update uses WATCH/MULTI so concurrent writers to one session serialize.
type RedisRepository struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisRepository returns a session repository backed by client.
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client, now: time.Now}
}

type redisSession struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	IPAddress          string     `json:"ip_address"`
	UserAgent          string     `json:"user_agent"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	LastActivity       time.Time  `json:"last_activity"`
	IdleTimeoutMs      int64      `json:"idle_timeout_ms"`
	Status             string     `json:"status"`
	InvalidatedAt      *time.Time `json:"invalidated_at,omitempty"`
	InvalidationReason string     `json:"invalidation_reason,omitempty"`
}

func toRedis(s *domain.Session) redisSession {
	return redisSession{
		ID: s.ID, UserID: s.UserID, IPAddress: s.IPAddress, UserAgent: s.UserAgent,
		CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt, LastActivity: s.LastActivity,
		IdleTimeoutMs: s.IdleTimeout.Milliseconds(), Status: string(s.Status),
		InvalidatedAt: s.InvalidatedAt, InvalidationReason: s.InvalidationReason,
	}
}

func (rs redisSession) toDomain() *domain.Session {
	return &domain.Session{
		ID: rs.ID, UserID: rs.UserID, IPAddress: rs.IPAddress, UserAgent: rs.UserAgent,
		CreatedAt: rs.CreatedAt, ExpiresAt: rs.ExpiresAt, LastActivity: rs.LastActivity,
		IdleTimeout: time.Duration(rs.IdleTimeoutMs) * time.Millisecond, Status: domain.Status(rs.Status),
		InvalidatedAt: rs.InvalidatedAt, InvalidationReason: rs.InvalidationReason,
	}
}

func (r *RedisRepository) ttl(s *domain.Session) time.Duration {
	d := s.ExpiresAt.Add(retention).Sub(r.now())
	if d < time.Minute {
		return time.Minute
	}
	return d
}

func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	raw, err := json.Marshal(toRedis(s))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, sessionKeyPrefix+s.ID, raw, r.ttl(s)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateID
	}
	// The index lives as long as its longest-lived session. GT alone never sets a TTL on a
	// key without one, so NX covers a fresh index.
	userKey := userSessionsKeyPrefix + s.UserID
	ttl := r.ttl(s)
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, userKey, s.ID)
	pipe.ExpireNX(ctx, userKey, ttl)
	pipe.ExpireGT(ctx, userKey, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.get(ctx, r.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisRepository) get(ctx context.Context, c getter, id string) (*domain.Session, error) {
	raw, err := c.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return rs.toDomain(), nil
}

// ListByUser loads every indexed session; ids whose record has aged out are dropped from the index.
func (r *RedisRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, userSessionsKeyPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.get(ctx, r.client, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			_ = r.client.SRem(ctx, userSessionsKeyPrefix+userID, id).Err()
			continue
		}
		out = append(out, s)
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (r *RedisRepository) Update(ctx context.Context, id string, fn MutateFunc) (*domain.Session, error) {
	key := sessionKeyPrefix + id
	var result *domain.Session
	txf := func(tx *redis.Tx) error {
		cur, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			result = nil
			return nil
		}
		next, changed, err := apply(cur, fn)
		if err != nil {
			return err
		}
		if !changed {
			result = cur
			return nil
		}
		raw, err := json.Marshal(toRedis(next))
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl(next))
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrContention
}

func (r *RedisRepository) InvalidateAll(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	ids, err := r.client.SMembers(ctx, userSessionsKeyPrefix+userID).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		changed := false
		_, err := r.Update(ctx, id, func(s *domain.Session) error {
			changed = s.Invalidate(reason, at)
			return nil
		})
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}
