package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/store"
)

// TestStore manages the Redis testcontainer backing the shared security
// store
type TestStore struct {
	Container testcontainers.Container
	Addr      string
	Store     *store.RedisStore
}

// SetupTestStore creates a Redis testcontainer and a connected store client
func SetupTestStore(ctx context.Context) (*TestStore, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	s := store.NewRedisStore(config.StoreConfig{
		Addr:      addr,
		OpTimeout: 2 * time.Second,
		KeyPrefix: "bastion-test",
	})
	if err := s.Ping(ctx); err != nil {
		s.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &TestStore{
		Container: container,
		Addr:      addr,
		Store:     s,
	}, nil
}

// Flush removes every key in the test namespace for test isolation
func (ts *TestStore) Flush(ctx context.Context) error {
	keys, err := ts.Store.Keys(ctx, "*")
	if err != nil {
		return fmt.Errorf("failed to list store keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := ts.Store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear store keys: %w", err)
	}
	return nil
}

// Teardown closes the client and stops the container
func (ts *TestStore) Teardown(ctx context.Context) error {
	if ts.Store != nil {
		ts.Store.Close()
	}
	if ts.Container != nil {
		return ts.Container.Terminate(ctx)
	}
	return nil
}
