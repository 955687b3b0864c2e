package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisTest returns a client for an empty Redis plus a cleanup function.
// REDIS_URL wins when set; otherwise a redis:7-alpine container is started
// and the test is skipped when Docker is unavailable.
func RedisTest(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()
	url := os.Getenv("REDIS_URL")
	terminate := func() {}

	if url == "" {
		if testing.Short() {
			t.Skip("short mode, skipping redis integration test")
		}
		container, addr, err := startRedis(ctx)
		if err != nil {
			t.Skipf("redis container unavailable, skipping integration test: %v", err)
		}
		terminate = func() { _ = testcontainers.TerminateContainer(container) }
		url = "redis://" + addr
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		terminate()
		t.Fatalf("redistest: parse url: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		terminate()
		t.Fatalf("redistest: ping: %v", err)
	}

	cleanup := func() {
		_ = rdb.FlushDB(ctx).Err()
		_ = rdb.Close()
		terminate()
	}
	return rdb, cleanup
}

func startRedis(ctx context.Context) (container testcontainers.Container, addr string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &dockerUnavailable{r}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, "", err
	}
	return container, endpoint, nil
}
