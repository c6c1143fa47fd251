package testutil

import (
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// RedisAddrEnv names a live Redis to test against instead of miniredis.
const RedisAddrEnv = "TILLGUARD_TEST_REDIS_ADDR"

// NewRedisClient returns a client on the Redis named by RedisAddrEnv, or on
// an in-process miniredis when it is unset. The client is closed when the
// test ends.
func NewRedisClient(t testing.TB) *redis.Client {
	t.Helper()
	addr := os.Getenv(RedisAddrEnv)
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}
