//go:build integration

package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/contacts-gateway/pkg/contacts"
)

const dbIntegrationPrefix = "db:integration_test"

// setupIntegrationDB connects to DATABASE_URL, applies migrations and clears contacts.
// The test is skipped when DATABASE_URL is not set.
func setupIntegrationDB(t *testing.T) (context.Context, *pgxpool.Pool, *Repository) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("db:integration_test - DATABASE_URL not set, skipping")
	}
	ctx := context.Background()

	if err := EnsureDatabase(ctx, url); err != nil {
		t.Fatalf("%s - EnsureDatabase failed: %v", dbIntegrationPrefix, err)
	}
	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Fatalf("%s - NewPool failed: %v", dbIntegrationPrefix, err)
	}
	t.Cleanup(pool.Close)

	migrationSQL, err := LoadMigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - LoadMigrationFiles failed: %v", dbIntegrationPrefix, err)
	}
	if err := RunMigrations(ctx, pool, migrationSQL); err != nil {
		t.Fatalf("%s - RunMigrations failed: %v", dbIntegrationPrefix, err)
	}
	if _, err := ClearContacts(ctx, pool); err != nil {
		t.Fatalf("%s - ClearContacts failed: %v", dbIntegrationPrefix, err)
	}
	return ctx, pool, NewRepository(pool)
}

func TestRepository_CRUD(t *testing.T) {
	ctx, pool, repo := setupIntegrationDB(t)

	created, err := repo.Create(ctx, contacts.Contact{Name: "Ada", Email: "ada@example.com", Phone: "555"})
	if err != nil {
		t.Fatalf("%s - Create failed: %v", dbIntegrationPrefix, err)
	}
	if !validID(created.ID) {
		t.Fatalf("%s - generated id %q is not a uuid", dbIntegrationPrefix, created.ID)
	}

	got, err := repo.Get(ctx, created.ID)
	if err != nil || got == nil || got.Email != "ada@example.com" {
		t.Fatalf("%s - Get = %+v, %v", dbIntegrationPrefix, got, err)
	}
	if got, err := repo.Get(ctx, "not-a-uuid"); err != nil || got != nil {
		t.Errorf("%s - Get(invalid) = %+v, %v", dbIntegrationPrefix, got, err)
	}

	updated, err := repo.Update(ctx, contacts.Contact{ID: created.ID, Name: "Ada L", Phone: "556"})
	if err != nil || updated == nil || updated.Name != "Ada L" || updated.Email != "" {
		t.Fatalf("%s - Update = %+v, %v", dbIntegrationPrefix, updated, err)
	}

	all, err := repo.List(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("%s - List = %+v, %v", dbIntegrationPrefix, all, err)
	}

	deleted, err := repo.Delete(ctx, created.ID)
	if err != nil || !deleted {
		t.Fatalf("%s - Delete = %v, %v", dbIntegrationPrefix, deleted, err)
	}
	deleted, _ = repo.Delete(ctx, created.ID)
	if deleted {
		t.Errorf("%s - second Delete reported existing", dbIntegrationPrefix)
	}

	_, _ = repo.Create(ctx, contacts.Contact{Name: "B"})
	n, err := ClearContacts(ctx, pool)
	if err != nil || n != 1 {
		t.Errorf("%s - ClearContacts = %d, %v", dbIntegrationPrefix, n, err)
	}
}
