package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "gophdrop:session:"
	redisExpiriesKey = "gophdrop:expiries"

	// redisBackstopTTL bounds how long a session key can outlive a crashed
	// reaper. Sessions are normally removed far earlier.
	redisBackstopTTL = 72 * time.Hour

	redisMaxRetries = 5
)

// sessionRecord is the JSON document stored per session.
type sessionRecord struct {
	UploadID         string    `json:"upload_id"`
	ConversationID   string    `json:"conversation_id"`
	OwnerID          string    `json:"owner_id"`
	FileName         string    `json:"file_name"`
	FileSize         int64     `json:"file_size"`
	FileType         string    `json:"file_type"`
	TotalChunks      int       `json:"total_chunks"`
	State            string    `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExternalUploadID string    `json:"external_upload_id,omitempty"`
	ExternalKey      string    `json:"external_key,omitempty"`
}

func toRecord(s *models.UploadSession) sessionRecord {
	return sessionRecord{
		UploadID:         s.UploadID,
		ConversationID:   s.ConversationID,
		OwnerID:          s.OwnerID,
		FileName:         s.FileName,
		FileSize:         s.FileSize,
		FileType:         s.FileType,
		TotalChunks:      s.TotalChunks,
		State:            string(s.State),
		CreatedAt:        s.CreatedAt,
		ExpiresAt:        s.ExpiresAt,
		ExternalUploadID: s.ExternalUploadID,
		ExternalKey:      s.ExternalKey,
	}
}

func (r sessionRecord) toSession() *models.UploadSession {
	return &models.UploadSession{
		UploadID:         r.UploadID,
		ConversationID:   r.ConversationID,
		OwnerID:          r.OwnerID,
		FileName:         r.FileName,
		FileSize:         r.FileSize,
		FileType:         r.FileType,
		TotalChunks:      r.TotalChunks,
		State:            models.State(r.State),
		CreatedAt:        r.CreatedAt,
		ExpiresAt:        r.ExpiresAt,
		ExternalUploadID: r.ExternalUploadID,
		ExternalKey:      r.ExternalKey,
	}
}

// RedisRegistry stores each session as a JSON string and tracks pending
// expiries in a sorted set scored by deadline (unix milliseconds). Mutations
// run as WATCH/MULTI transactions on the session key.
type RedisRegistry struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{client: client, now: time.Now}
}

// NewRedisClient builds a client from connection settings and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

func sessionKey(id string) string {
	return redisKeyPrefix + id
}

func (r *RedisRegistry) load(ctx context.Context, c redis.Cmdable, id string) (*models.UploadSession, bool, error) {
	data, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return rec.toSession(), true, nil
}

// update runs mutate against the live session inside an optimistic
// transaction. mutate returns false to leave the session untouched.
func (r *RedisRegistry) update(ctx context.Context, id string,
	mutate func(s *models.UploadSession, p redis.Pipeliner) (bool, error)) (bool, error) {

	return r.updateWhere(ctx, id, func(s *models.UploadSession) bool { return s.ExpiredAt(r.now()) }, mutate)
}

// updateWhere is update with a custom rule for which sessions to skip.
func (r *RedisRegistry) updateWhere(ctx context.Context, id string, hidden func(s *models.UploadSession) bool,
	mutate func(s *models.UploadSession, p redis.Pipeliner) (bool, error)) (bool, error) {

	key := sessionKey(id)

	for i := 0; i < redisMaxRetries; i++ {
		var changed bool

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			s, ok, err := r.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if !ok || hidden(s) {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				changed, err = mutate(s, p)
				if err != nil || !changed {
					return err
				}
				data, err := json.Marshal(toRecord(s))
				if err != nil {
					return err
				}
				p.Set(ctx, key, data, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return changed, nil
	}

	return false, fmt.Errorf("redis update %s: %w", id, redis.TxFailedErr)
}

func (r *RedisRegistry) Create(ctx context.Context, s *models.UploadSession) error {
	data, err := json.Marshal(toRecord(s))
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, sessionKey(s.UploadID), data, redisBackstopTTL).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return common.ErrAlreadyExists
	}

	if !s.ExpiresAt.IsZero() {
		if err := r.client.ZAdd(ctx, redisExpiriesKey, redis.Z{
			Score:  float64(s.ExpiresAt.UnixMilli()),
			Member: s.UploadID,
		}).Err(); err != nil {
			return fmt.Errorf("redis zadd: %w", err)
		}
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*models.UploadSession, bool, error) {
	s, ok, err := r.load(ctx, r.client, id)
	if err != nil || !ok {
		return nil, false, err
	}
	if s.ExpiredAt(r.now()) {
		return nil, false, nil
	}
	return s, true, nil
}

func (r *RedisRegistry) AttachExternalInfo(ctx context.Context, id, externalUploadID, externalKey string) (bool, error) {
	return r.update(ctx, id, func(s *models.UploadSession, _ redis.Pipeliner) (bool, error) {
		if s.Attached() || s.State != models.StateCreated {
			return false, nil
		}
		s.ExternalUploadID = externalUploadID
		s.ExternalKey = externalKey
		s.State = models.StateAwaitingParts
		return true, nil
	})
}

func (r *RedisRegistry) TransitionState(ctx context.Context, id string, from, to models.State) (bool, error) {
	return r.update(ctx, id, func(s *models.UploadSession, _ redis.Pipeliner) (bool, error) {
		if s.State != from {
			return false, nil
		}
		s.State = to
		return true, nil
	})
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) (bool, error) {
	key := sessionKey(id)

	for i := 0; i < redisMaxRetries; i++ {
		var deleted bool

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			s, ok, err := r.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if !ok || s.ClaimableAt(r.now()) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				p.ZRem(ctx, redisExpiriesKey, id)
				return nil
			})
			deleted = err == nil
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return deleted, nil
	}

	return false, fmt.Errorf("redis delete %s: %w", id, redis.TxFailedErr)
}

func (r *RedisRegistry) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := r.Get(ctx, id)
	return ok, err
}

func (r *RedisRegistry) Count(ctx context.Context) (int, error) {
	ids, err := r.List(ctx)
	return len(ids), err
}

func (r *RedisRegistry) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return []string{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	now := r.now()
	ids := make([]string, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec sessionRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		if rec.toSession().ExpiredAt(now) {
			continue
		}
		ids = append(ids, rec.UploadID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisRegistry) ScheduleExpiry(ctx context.Context, id string, ttl time.Duration) error {
	_, err := r.update(ctx, id, func(s *models.UploadSession, p redis.Pipeliner) (bool, error) {
		s.ExpiresAt = r.now().Add(ttl)
		p.ZAdd(ctx, redisExpiriesKey, redis.Z{Score: float64(s.ExpiresAt.UnixMilli()), Member: id})
		return true, nil
	})
	return err
}

func (r *RedisRegistry) CancelExpiryTimer(ctx context.Context, id string) error {
	claimable := func(s *models.UploadSession) bool { return s.ClaimableAt(r.now()) }
	_, err := r.updateWhere(ctx, id, claimable, func(s *models.UploadSession, p redis.Pipeliner) (bool, error) {
		s.ExpiresAt = time.Time{}
		p.ZRem(ctx, redisExpiriesKey, id)
		return true, nil
	})
	return err
}

func (r *RedisRegistry) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*models.UploadSession, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		claimed []*models.UploadSession
		skipped int64
	)
	for len(claimed) < limit {
		// Removed members shift the range; only members left behind are
		// skipped with the offset.
		ids, err := r.client.ZRangeByScore(ctx, redisExpiriesKey, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    strconv.FormatInt(now.UnixMilli(), 10),
			Offset: skipped,
			Count:  int64(limit),
		}).Result()
		if err != nil {
			return claimed, fmt.Errorf("redis zrangebyscore: %w", err)
		}

		for _, id := range ids {
			if len(claimed) >= limit {
				break
			}
			s, removed, err := r.claim(ctx, id, now)
			if err != nil {
				return claimed, err
			}
			if s != nil {
				claimed = append(claimed, s)
			}
			if !removed {
				skipped++
			}
		}

		if len(ids) < limit {
			break
		}
	}
	return claimed, nil
}

// claim removes one due member of the expiry set. Claimable sessions are
// deleted together with the member in a single MULTI guarded by WATCH, and
// only the caller whose ZREM removed the member gets the session back.
// Members whose session is gone or no longer expirable are pruned so they
// cannot crowd out due sessions. removed reports whether the member is
// known to have left the set.
func (r *RedisRegistry) claim(ctx context.Context, id string, now time.Time) (*models.UploadSession, bool, error) {
	key := sessionKey(id)
	var (
		claimed *models.UploadSession
		removed bool
	)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		s, ok, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}

		switch {
		case !ok:
			// key gone (backstop TTL or manual cleanup)
			err := tx.ZRem(ctx, redisExpiriesKey, id).Err()
			removed = err == nil
			return err

		case s.State == models.StateAborted:
			// the aborting caller already owns the store upload
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				p.ZRem(ctx, redisExpiriesKey, id)
				return nil
			})
			removed = err == nil
			return err

		case !s.State.Expirable():
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.ZRem(ctx, redisExpiriesKey, id)
				return nil
			})
			removed = err == nil
			return err

		case !s.ExpiredAt(now):
			return nil
		}

		var zrem *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			zrem = p.ZRem(ctx, redisExpiriesKey, id)
			return nil
		})
		if err != nil {
			return err
		}
		removed = true
		if zrem.Val() == 1 {
			claimed = s
		}
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// another replica claimed or modified it first
		return nil, false, nil
	}
	return claimed, removed, err
}
