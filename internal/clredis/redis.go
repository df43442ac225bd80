package clredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewClient ouvre le client partagé (compteurs temps réel, captchas).
// Une adresse vide désactive redis : le client retourné est nil.
func NewClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Int("db", db).Msg("Redis connected")
	return client, nil
}

// Créer un store Redis personnalisé pour les captchas
type RedisStore struct {
	client     *redis.Client
	expiration time.Duration
	prefix     string
}

func New(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:     client,
		expiration: 5 * time.Minute,
		prefix:     "captcha:",
	}
}

func (r *RedisStore) Set(id string, value string) error {
	ctx := context.Background()
	return r.client.Set(ctx, r.prefix+id, value, r.expiration).Err()
}

func (r *RedisStore) Get(id string, clear bool) string {
	ctx := context.Background()
	key := r.prefix + id
	if clear {
		val, err := r.client.GetDel(ctx, key).Result()
		if err != nil && err != redis.Nil {
			log.Warn().Err(err).Msg("captcha store read failed")
		}
		return val
	}
	val, _ := r.client.Get(ctx, key).Result()
	return val
}

func (r *RedisStore) Verify(id, answer string, clear bool) bool {
	v := r.Get(id, clear)
	return v != "" && v == answer
}
