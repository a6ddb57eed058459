package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a session store shared across instances.
//
// Layout:
//   - "recall:session:{id}"        string, JSON session, TTL-bounded
//   - "recall:sessions:{user_id}"  ZSET, score = last-active unix time
type Redis struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedis connects to Redis at url. ttl of zero means sessions never
// expire.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return &Redis{
		client:    redis.NewClient(opts),
		ttl:       ttl,
		keyPrefix: "recall",
	}, nil
}

func (r *Redis) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.keyPrefix, sessionID)
}

func (r *Redis) userKey(userID string) string {
	return fmt.Sprintf("%s:sessions:%s", r.keyPrefix, userID)
}

func (r *Redis) Start(ctx context.Context, userID, appID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("session requires a user ID")
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		AppID:        appID,
		StartedAt:    now,
		LastActiveAt: now,
	}
	if err := r.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (r *Redis) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *Redis) Touch(ctx context.Context, sessionID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastActiveAt = time.Now().UTC()
	return r.save(ctx, sess)
}

func (r *Redis) SetCheckpoint(ctx context.Context, sessionID, checkpointID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.CheckpointID = checkpointID
	sess.LastActiveAt = time.Now().UTC()
	return r.save(ctx, sess)
}

func (r *Redis) List(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := r.client.ZRevRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var out []*Session
	for _, id := range ids {
		sess, err := r.Get(ctx, id)
		if err != nil {
			// Expired session body; drop the stale index entry.
			r.client.ZRem(ctx, r.userKey(userID), id)
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (r *Redis) End(ctx context.Context, sessionID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return r.client.ZRem(ctx, r.userKey(sess.UserID), sessionID).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// save writes the session body and refreshes the user index.
func (r *Redis) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := r.client.Set(ctx, r.sessionKey(sess.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if err := r.client.ZAdd(ctx, r.userKey(sess.UserID), redis.Z{
		Score:  float64(sess.LastActiveAt.UnixNano()) / 1e9,
		Member: sess.ID,
	}).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, r.userKey(sess.UserID), r.ttl).Err(); err != nil {
			return fmt.Errorf("set index TTL: %w", err)
		}
	}
	return nil
}
