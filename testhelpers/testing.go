package testhelpers

import (
	"context"
	"os"
	"testing"

	"tallysync/internal/models"
	"tallysync/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDB holds the database connection for testing
type TestDB struct {
	Pool    *pgxpool.Pool
	Cleanup func() error
}

// SetupTestDB connects to TEST_DATABASE_URL and applies the migrations. The
// test is skipped when no database is configured.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	if err := database.Migrate(connString); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	return &TestDB{
		Pool: pool,
		Cleanup: func() error {
			pool.Close()
			return nil
		},
	}
}

// SetupTestScope returns a scope under a fresh tenant so tests never see
// each other's rows
func SetupTestScope(t *testing.T, db *TestDB, company string, year int) models.Scope {
	t.Helper()

	scope := models.Scope{TenantID: uuid.New(), Company: company, Year: year}
	t.Cleanup(func() {
		for _, entity := range models.AllEntities {
			_, err := db.Pool.Exec(context.Background(), "DELETE FROM "+entity.Table()+" WHERE tenant_id = $1", scope.TenantID)
			if err != nil {
				t.Logf("Failed to clean %s: %v", entity.Table(), err)
			}
		}
	})
	return scope
}
