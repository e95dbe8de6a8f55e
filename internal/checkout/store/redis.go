// Package store persists checkout drafts. The redis implementation is
// the production one; the memory implementation backs tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/nebulink/vpnbroker/internal/checkout/domain"
	"github.com/nebulink/vpnbroker/internal/config"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, cfg config.Config) domain.Store {
	return &redisStore{client: client, ttl: cfg.Checkout.DraftTTL}
}

func draftKey(userID snowflake.ID) string {
	return fmt.Sprintf("checkout:draft:%d", userID)
}

func (s *redisStore) Save(ctx context.Context, draft domain.Draft) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, draftKey(draft.UserID), raw, s.ttl).Err()
}

func (s *redisStore) Load(ctx context.Context, userID snowflake.ID) (*domain.Draft, error) {
	raw, err := s.client.Get(ctx, draftKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var draft domain.Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *redisStore) Delete(ctx context.Context, userID snowflake.ID) error {
	return s.client.Del(ctx, draftKey(userID)).Err()
}
