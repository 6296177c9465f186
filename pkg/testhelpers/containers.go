package testhelpers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/database"
)

// PostgresImage is the image backing the warehouse and the metadata store.
const PostgresImage = "postgres:16-alpine"

const (
	testUser     = "ekaya"
	testPassword = "test_password"
	testDatabase = "test_warehouse"

	// The metadata store is owned by a non-superuser so row level security applies.
	appRole     = "bi_app"
	appPassword = "bi_app_password"
	appDatabase = "ekaya_bi_test"
)

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container  testcontainers.Container
	Pool       *pgxpool.Pool
	ConnStr    string
	Descriptor datasource.ConnectionDescriptor
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDatabase,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		// The init process restarts the server once; wait for the second start.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	portNum, err := strconv.Atoi(port.Port())
	if err != nil {
		return nil, fmt.Errorf("failed to parse container port: %w", err)
	}

	desc := datasource.ConnectionDescriptor{
		Host:     host,
		Port:     portNum,
		Database: testDatabase,
		User:     testUser,
		Password: testPassword,
		SSLMode:  "disable",
		Schema:   datasource.DefaultSchema,
	}
	connStr := desc.ConnString()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	return &TestDB{
		Container:  container,
		Pool:       pool,
		ConnStr:    connStr,
		Descriptor: desc,
	}, nil
}

// NewSchema creates an empty schema with a unique name and drops it when the
// test ends.
func NewSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	name := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	ctx := context.Background()
	if _, err := pool.Exec(ctx, `CREATE SCHEMA "`+name+`"`); err != nil {
		t.Fatalf("failed to create schema %s: %v", name, err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS "`+name+`" CASCADE`)
	})
	return name
}

// AppDB holds the metadata store with migrations applied.
// Use this for testing repositories and handlers against a real database.
type AppDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedAppDB     *AppDB
	sharedAppDBOnce sync.Once
	sharedAppDBErr  error
)

// GetAppDB returns the shared metadata database. Migrations are applied once
// per run.
func GetAppDB(t *testing.T) *AppDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	testDB := GetTestDB(t)

	sharedAppDBOnce.Do(func() {
		sharedAppDB, sharedAppDBErr = setupAppDB(testDB)
	})

	if sharedAppDBErr != nil {
		t.Fatalf("Failed to setup app database: %v", sharedAppDBErr)
	}

	return sharedAppDB
}

func setupAppDB(testDB *TestDB) (*AppDB, error) {
	ctx := context.Background()

	for _, stmt := range []string{
		fmt.Sprintf(`CREATE ROLE %s LOGIN PASSWORD '%s'`, appRole, appPassword),
		fmt.Sprintf(`CREATE DATABASE %s OWNER %s`, appDatabase, appRole),
	} {
		if _, err := testDB.Pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to prepare app database: %w", err)
		}
	}

	desc := testDB.Descriptor
	desc.User, desc.Password, desc.Database = appRole, appPassword, appDatabase
	connStr := desc.ConnString()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to app database: %w", err)
	}

	sqlDB, err := database.OpenSQL(connStr)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &AppDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// OwnerContext returns a context carrying an owner scope for ownerID and
// closes the scope when the test ends.
func (a *AppDB) OwnerContext(t *testing.T, ownerID uuid.UUID) context.Context {
	t.Helper()
	scope, err := a.DB.WithOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("failed to open owner scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetOwnerScope(context.Background(), scope)
}
