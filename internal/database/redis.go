package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cubegift-bot/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisPendingStore ожидающие платежи в Redis, для нескольких экземпляров бота.
// Каждый платёж лежит под своим ключом, индекс по времени создания в sorted set.
type RedisPendingStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisPendingStore создаёт хранилище с префиксом ключей
func NewRedisPendingStore(client *redis.Client, prefix string) *RedisPendingStore {
	return &RedisPendingStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisPendingStore) key(payload string) string {
	return s.prefix + "pending:" + payload
}

func (s *RedisPendingStore) indexKey() string {
	return s.prefix + "pending_index"
}

// Register сохраняет платёж через SETNX
func (s *RedisPendingStore) Register(ctx context.Context, p models.PendingPayment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending payment: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(p.Payload), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrDuplicatePayload, p.Payload)
	}

	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(p.CreatedAt.UnixMilli()),
		Member: p.Payload,
	}).Err()
	if err != nil {
		s.client.Del(ctx, s.key(p.Payload))
		return fmt.Errorf("redis zadd failed: %w", err)
	}
	return nil
}

// Lookup читает платёж без удаления
func (s *RedisPendingStore) Lookup(ctx context.Context, payload string) (*models.PendingPayment, error) {
	data, err := s.client.Get(ctx, s.key(payload)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodePending(data)
}

// Consume забирает платёж через GETDEL вместе с ZREM в одной транзакции: только один клиент получит значение
func (s *RedisPendingStore) Consume(ctx context.Context, payload string) (*models.PendingPayment, error) {
	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.GetDel(ctx, s.key(payload))
		pipe.ZRem(ctx, s.indexKey(), payload)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}

	data, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}
	return decodePending(data)
}

// Expire удаляет платежи старше olderThan; считаются только реально удалённые ключи
func (s *RedisPendingStore) Expire(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()

	payloads, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}

	removed := 0
	for _, payload := range payloads {
		var del *redis.IntCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, s.key(payload))
			pipe.ZRem(ctx, s.indexKey(), payload)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("redis del failed: %w", err)
		}
		removed += int(del.Val())
	}
	return removed, nil
}

func decodePending(data []byte) (*models.PendingPayment, error) {
	var p models.PendingPayment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pending payment: %w", err)
	}
	return &p, nil
}
