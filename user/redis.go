package user

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCodePrefix = "donorhub:pwreset:"

// consumeScript deletes the key only if it still holds the expected hash.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCodeStore keeps reset codes in Redis with a TTL. Consume is a
// server-side compare-and-delete.
type RedisCodeStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCodeStore returns a CodeStore on client. The client lifecycle
// is managed by the caller.
func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client, now: time.Now}
}

func redisCodeKey(userID int64) string {
	return redisCodePrefix + strconv.FormatInt(userID, 10)
}

func (s *RedisCodeStore) Save(ctx context.Context, userID int64, hash string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("user: reset code already expired")
	}
	return s.client.Set(ctx, redisCodeKey(userID), hash, ttl).Err()
}

// Valid ignores now; expiry is enforced by the key TTL.
func (s *RedisCodeStore) Valid(ctx context.Context, userID int64, hash string, _ time.Time) (bool, error) {
	stored, err := s.client.Get(ctx, redisCodeKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(hash)) == 1, nil
}

func (s *RedisCodeStore) Discard(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, redisCodeKey(userID)).Err()
}

func (s *RedisCodeStore) Consume(ctx context.Context, userID int64, hash string, _ time.Time) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{redisCodeKey(userID)}, hash).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
