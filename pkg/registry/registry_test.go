package registry

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/netraid/netraid/pkg/config"
	"github.com/netraid/netraid/pkg/geometry"
)

var sharedContainer *postgres.PostgresContainer

// TestMain boots a single shared Postgres container for every test in this
// package, mirroring the wider pack's shared-container pattern to avoid
// paying container startup cost per test.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("netraid_registry_test"),
		postgres.WithUsername("netraid_test"),
		postgres.WithPassword("netraid_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	sharedContainer = container

	exitCode := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate postgres container: %v\n", err)
	}
	os.Exit(exitCode)
}

func testRegistryConfig(t *testing.T) config.RegistryConfig {
	t.Helper()

	ctx := context.Background()
	host, err := sharedContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := sharedContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	return config.RegistryConfig{
		Type:         "postgres",
		Host:         host,
		Port:         port.Int(),
		Database:     "netraid_registry_test",
		User:         "netraid_test",
		Password:     "netraid_test",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		AutoMigrate:  true,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := New(testRegistryConfig(t))
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("failed to close registry: %v", err)
		}
	})
	return r
}

func TestRegisterAndGetFileLayout(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	layout := geometry.Layout{
		GroupSize:   4,
		StripeUnit:  4096,
		ServerCount: 4,
		ServerIDs:   []uint32{1, 2, 3, 4},
	}

	if err := r.RegisterFileLayout(ctx, 1001, layout); err != nil {
		t.Fatalf("RegisterFileLayout: %v", err)
	}

	got, err := r.GetFileLayout(ctx, 1001)
	if err != nil {
		t.Fatalf("GetFileLayout: %v", err)
	}
	if got.GroupSize != layout.GroupSize || got.StripeUnit != layout.StripeUnit ||
		got.ServerCount != layout.ServerCount || len(got.ServerIDs) != len(layout.ServerIDs) {
		t.Fatalf("round-tripped layout mismatch: got %+v, want %+v", got, layout)
	}
	for i, id := range layout.ServerIDs {
		if got.ServerIDs[i] != id {
			t.Fatalf("server id %d mismatch: got %d, want %d", i, got.ServerIDs[i], id)
		}
	}
}

func TestRegisterFileLayoutDuplicateInode(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	layout := geometry.Layout{GroupSize: 2, StripeUnit: 4096, ServerCount: 2, ServerIDs: []uint32{1, 2}}
	if err := r.RegisterFileLayout(ctx, 2001, layout); err != nil {
		t.Fatalf("RegisterFileLayout: %v", err)
	}

	err := r.RegisterFileLayout(ctx, 2001, layout)
	if err != ErrLayoutExists {
		t.Fatalf("expected ErrLayoutExists, got %v", err)
	}
}

func TestGetFileLayoutNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetFileLayout(context.Background(), 999999)
	if err != ErrLayoutNotFound {
		t.Fatalf("expected ErrLayoutNotFound, got %v", err)
	}
}

func TestServerDirectory(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	server := ServerRecord{ID: 7, Address: "10.0.0.7", CCCPort: 20007, SPNPort: 30007, Status: ServerStatusUnknown}
	if err := r.UpsertServer(ctx, server); err != nil {
		t.Fatalf("UpsertServer: %v", err)
	}

	got, err := r.GetServer(ctx, 7)
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if got.Address != server.Address || got.CCCPort != server.CCCPort || got.SPNPort != server.SPNPort {
		t.Fatalf("server record mismatch: got %+v, want %+v", got, server)
	}

	if err := r.MarkServerSeen(ctx, 7, ServerStatusUp); err != nil {
		t.Fatalf("MarkServerSeen: %v", err)
	}

	got, err = r.GetServer(ctx, 7)
	if err != nil {
		t.Fatalf("GetServer after mark seen: %v", err)
	}
	if got.Status != ServerStatusUp {
		t.Fatalf("expected status up, got %s", got.Status)
	}
	if got.LastSeenAt == nil {
		t.Fatal("expected LastSeenAt to be set")
	}

	servers, err := r.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) == 0 {
		t.Fatal("expected at least one registered server")
	}
}

func TestMarkServerSeenUnknownServer(t *testing.T) {
	r := newTestRegistry(t)
	err := r.MarkServerSeen(context.Background(), 424242, ServerStatusUp)
	if err != ErrServerNotFound {
		t.Fatalf("expected ErrServerNotFound, got %v", err)
	}
}
