package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

// RedisStateStore keeps one JSON ConversationState document per conversation.
type RedisStateStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

var _ model.StateStore = (*RedisStateStore)(nil)

func NewRedisStateStore(rdb redis.Cmdable, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, ttl: ttl}
}

func (r *RedisStateStore) stateKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:state", conversationID)
}

func (r *RedisStateStore) Load(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	key := r.stateKey(conversationID)

	raw, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to load conversation state from redis")
		}
		return nil, errx.WrapRedis(err)
	}

	var st model.ConversationState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		logx.Error().Err(err).Str("conversationID", conversationID).Msg("failed to unmarshal conversation state")
		return nil, fmt.Errorf("unmarshal conversation state: %w", err)
	}
	return &st, nil
}

func (r *RedisStateStore) Save(ctx context.Context, st *model.ConversationState) error {
	b, err := json.Marshal(st)
	if err != nil {
		logx.Error().Err(err).Str("conversationID", st.ConversationID).Msg("failed to marshal conversation state")
		return fmt.Errorf("marshal conversation state: %w", err)
	}

	key := r.stateKey(st.ConversationID)
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save conversation state to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisStateStore) Delete(ctx context.Context, conversationID string) error {
	key := r.stateKey(conversationID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete conversation state from redis")
		return errx.WrapRedis(err)
	}
	return nil
}
