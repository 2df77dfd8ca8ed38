package testhelpers

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/database"
)

// TestImage must ship the pgvector extension; the schema depends on it.
const TestImage = "pgvector/pgvector:pg17"

// EngineDB holds a migrated engine database backed by a throwaway container.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared migrated database for integration tests. The
// container starts once and is reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})
	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to set up engine database: %v", sharedEngineDBErr)
	}
	return sharedEngineDB
}

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        TestImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "askwise_engine_test",
				"POSTGRES_USER":     "askwise",
				"POSTGRES_PASSWORD": "test_password",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://askwise:test_password@%s:%s/askwise_engine_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to test database: %w", err)
	}

	if err := db.Migrate(migrationsDir(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("migrate test database: %w", err)
	}

	return &EngineDB{Container: container, DB: db, ConnStr: connStr}, nil
}

var (
	appRoleDB   *database.DB
	appRoleOnce sync.Once
	appRoleErr  error
)

// GetAppRoleDB returns a pool connected as a plain application role with
// table privileges but no superuser bypass, so row level security applies.
// The role is created lazily on the shared container.
func GetAppRoleDB(t *testing.T, edb *EngineDB) *database.DB {
	t.Helper()

	appRoleOnce.Do(func() {
		ctx := context.Background()

		statements := []string{
			`CREATE ROLE askwise_app WITH LOGIN PASSWORD 'app_password'`,
			`GRANT USAGE ON SCHEMA public TO askwise_app`,
			`GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO askwise_app`,
		}
		for _, stmt := range statements {
			if _, err := edb.DB.Exec(ctx, stmt); err != nil {
				appRoleErr = fmt.Errorf("provision app role: %w", err)
				return
			}
		}

		connStr := strings.Replace(edb.ConnStr, "askwise:test_password", "askwise_app:app_password", 1)
		appRoleDB, appRoleErr = database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: 5,
		})
	})
	if appRoleErr != nil {
		t.Fatalf("Failed to set up app role database: %v", appRoleErr)
	}
	return appRoleDB
}

// migrationsDir resolves the migrations directory relative to this file so
// tests work from any package directory.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
