package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	"github.com/neuroaccess/neuroaccess/frontend/internal/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisURL string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("failed to start container: %s", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("failed to obtain container host: %s", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		log.Fatalf("failed to obtain container port: %s", err)
	}
	redisURL = fmt.Sprintf("redis://%s:%s/0", host, port.Port())

	exitCode := m.Run()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %s", err)
	}
	os.Exit(exitCode)
}

func TestStorage(t *testing.T) {
	s, err := New(context.Background(), redisURL, time.Hour)
	require.NoError(t, err)
	defer s.Close()

	kvtest.Run(t, s)
}

func TestStorage_ExpiredKeysStayGone(t *testing.T) {
	// redis expiry has one second resolution
	s, err := New(context.Background(), redisURL, time.Second)
	require.NoError(t, err)
	defer s.Close()

	kvtest.RunExpiry(t, s, func() { time.Sleep(1500 * time.Millisecond) })
}

func TestStorage_TTL(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, redisURL, time.Minute)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, kv.Set(ctx, s, "ttl", "k", []byte("v")))
	ttl, err := s.client.TTL(ctx, hashKey("ttl")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}
