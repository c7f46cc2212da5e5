package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/contacts-gateway/pkg/contacts"
)

const repoLogPrefix = "db:repository"

// Repository is the Postgres contact store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const contactColumns = `id::text, name, email, phone`

func scanContact(row pgx.Row) (*contacts.Contact, error) {
	var c contacts.Contact
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// validID reports whether id can be compared against the uuid column. Anything else
// cannot match a row, so callers treat it as not found instead of a query error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Create inserts c. A database-generated id is used when c.ID is empty.
func (r *Repository) Create(ctx context.Context, c contacts.Contact) (*contacts.Contact, error) {
	slog.Debug(fmt.Sprintf("%s - Create name=%s", repoLogPrefix, c.Name))

	var id interface{}
	if c.ID != "" {
		if !validID(c.ID) {
			return nil, fmt.Errorf("%s - invalid contact id %q", repoLogPrefix, c.ID)
		}
		id = c.ID
	}

	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO contacts (id, name, email, phone, created, modified)
		 VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, $3, $4, $5, $5)
		 RETURNING `+contactColumns,
		id, c.Name, c.Email, c.Phone, now)

	created, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create contact: %w", repoLogPrefix, err)
	}
	return created, nil
}

// Get returns the contact with id, or nil if there is none.
func (r *Repository) Get(ctx context.Context, id string) (*contacts.Contact, error) {
	if !validID(id) {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to get contact %s: %w", repoLogPrefix, id, err)
	}
	return c, nil
}

// List returns every contact, oldest first.
func (r *Repository) List(ctx context.Context) ([]contacts.Contact, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY created, id`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list contacts: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	out := []contacts.Contact{}
	for rows.Next() {
		var c contacts.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone); err != nil {
			return nil, fmt.Errorf("%s - failed to scan contact: %w", repoLogPrefix, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - failed to iterate contacts: %w", repoLogPrefix, err)
	}
	return out, nil
}

// Update replaces the fields of the contact with c.ID. It returns nil if there is none.
func (r *Repository) Update(ctx context.Context, c contacts.Contact) (*contacts.Contact, error) {
	if !validID(c.ID) {
		return nil, nil
	}
	slog.Debug(fmt.Sprintf("%s - Update id=%s", repoLogPrefix, c.ID))

	row := r.pool.QueryRow(ctx,
		`UPDATE contacts SET name = $2, email = $3, phone = $4, modified = $5
		 WHERE id = $1
		 RETURNING `+contactColumns,
		c.ID, c.Name, c.Email, c.Phone, time.Now().UTC())

	updated, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to update contact %s: %w", repoLogPrefix, c.ID, err)
	}
	return updated, nil
}

// Delete removes the contact with id and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("%s - failed to delete contact %s: %w", repoLogPrefix, id, err)
	}
	return tag.RowsAffected() > 0, nil
}
