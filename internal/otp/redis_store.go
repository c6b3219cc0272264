package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// codeData holds the data stored for each issued code
type codeData struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisStore implements code storage using Redis; expiry rides on the key TTL
// so stale codes clean themselves up.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed code store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "otp:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "otp:"}
}

func (s *RedisStore) key(phone string) string {
	return s.prefix + phone
}

// SaveOTPCode stores the code hash, replacing any previous code for the phone
func (s *RedisStore) SaveOTPCode(ctx context.Context, phone, codeHash string, expiresAt time.Time) error {
	data := codeData{CodeHash: codeHash, ExpiresAt: expiresAt}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal code data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	if err := s.client.Set(ctx, s.key(phone), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save otp code: %w", err)
	}
	return nil
}

// LookupOTPCode retrieves the stored code hash and its expiry
func (s *RedisStore) LookupOTPCode(ctx context.Context, phone string) (string, time.Time, error) {
	jsonData, err := s.client.Get(ctx, s.key(phone)).Result()
	if err == redis.Nil {
		return "", time.Time{}, fmt.Errorf("code not found or expired")
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("lookup otp code: %w", err)
	}

	var data codeData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return "", time.Time{}, fmt.Errorf("unmarshal code data: %w", err)
	}
	return data.CodeHash, data.ExpiresAt, nil
}

// DeleteOTPCodes removes any stored code for the phone
func (s *RedisStore) DeleteOTPCodes(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, s.key(phone)).Err(); err != nil {
		return fmt.Errorf("delete otp code: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
