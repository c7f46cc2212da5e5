package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// Migration is one forward-only SQL file. Files are written to be re-runnable.
type Migration struct {
	Name string
	SQL  string
}

// LoadMigrationFiles reads the .sql files in dir, ordered by file name.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		migrations = append(migrations, Migration{Name: e.Name(), SQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name < migrations[j].Name })

	slog.Info(fmt.Sprintf("%s - Loaded %d contacts migrations from %s", migrationsLogPrefix, len(migrations), dir))
	return migrations, nil
}

// RunMigrations applies migrations in order and stops at the first failing file.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", migrationsLogPrefix, len(migrations)))

	for _, m := range migrations {
		if strings.TrimSpace(m.SQL) == "" {
			slog.Warn(fmt.Sprintf("%s - Skipping empty migration %s", migrationsLogPrefix, m.Name))
			continue
		}
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		slog.Debug(fmt.Sprintf("%s - Applied %s", migrationsLogPrefix, m.Name))
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", migrationsLogPrefix))
	return nil
}

// MigrationStatus reports whether the contacts table exists and lists the migration
// files found in migrationPath.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string, out io.Writer) error {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'contacts')`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s - failed to check contacts table: %w", migrationsLogPrefix, err)
	}

	migrations, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return err
	}
	writeStatus(out, exists, migrationPath, migrations)
	return nil
}

func writeStatus(out io.Writer, applied bool, migrationPath string, migrations []Migration) {
	if applied {
		fmt.Fprintf(out, "Migration status: applied (contacts table present, %d files in %s)\n", len(migrations), migrationPath)
	} else {
		fmt.Fprintf(out, "Migration status: not applied (run 'contacts-gateway migrate up'), %d files in %s\n", len(migrations), migrationPath)
	}
	for _, m := range migrations {
		fmt.Fprintf(out, "  %s\n", m.Name)
	}
}

// MigrationDown is not supported; contacts migrations only move forward.
func MigrationDown(out io.Writer) error {
	fmt.Fprintln(out, "Migration down: not supported (migrations are forward-only). Restore the contacts table from a backup to roll back.")
	return nil
}
