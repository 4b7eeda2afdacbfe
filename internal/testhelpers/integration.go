//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kjstillabower/water-data-explorer/internal/cache"
)

const (
	memcachedImage = "memcached:1.6-alpine"
	memcachedPort  = "11211/tcp"

	defaultWMIPURL = "https://water-monitoring.information.qld.gov.au/cgi/webservice.exe"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	WMIPURL string
	Station string
}

// GetIntegrationConfig loads live WMIP test configuration from environment.
// Skips test unless WMIP_LIVE is set, since it calls the public service.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("WMIP_LIVE") == "" {
		t.Skip("WMIP_LIVE not set, skipping live WMIP test")
	}
	cfg := IntegrationTestConfig{
		WMIPURL: os.Getenv("WMIP_URL"),
		Station: os.Getenv("WMIP_STATION"),
	}
	if cfg.WMIPURL == "" {
		cfg.WMIPURL = defaultWMIPURL
	}
	if cfg.Station == "" {
		cfg.Station = "143001C"
	}
	return cfg
}

// StartMemcached runs a throwaway memcached container and returns a backend
// connected to it. The container is terminated when the test ends.
// If MEMCACHED_ADDRS is set, that server is used instead.
func StartMemcached(t *testing.T) *cache.MemcachedBackend {
	t.Helper()
	if addrs := os.Getenv("MEMCACHED_ADDRS"); addrs != "" {
		return connect(t, addrs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        memcachedImage,
			ExposedPorts: []string{memcachedPort},
			WaitingFor:   wait.ForListeningPort(memcachedPort),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("memcached container not available: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate memcached container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, memcachedPort)
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return connect(t, host+":"+port.Port())
}

func connect(t *testing.T, addrs string) *cache.MemcachedBackend {
	t.Helper()
	backend, err := cache.NewMemcachedBackend(addrs, time.Second, 2)
	if err != nil {
		t.Fatalf("NewMemcachedBackend(%q) error = %v", addrs, err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}
