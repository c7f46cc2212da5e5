package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearContacts deletes every contact, keeping the schema. It returns the number removed.
func ClearContacts(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	slog.Info(fmt.Sprintf("%s - Clearing contacts", clearLogPrefix))

	tag, err := pool.Exec(ctx, `DELETE FROM contacts`)
	if err != nil {
		return 0, fmt.Errorf("%s - delete failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Removed %d contacts", clearLogPrefix, tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
