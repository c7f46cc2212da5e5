// Package redisstore is a Redis-backed contact store for the worker. Each contact is a
// hash under <prefix>:<id>; a sorted set <prefix>:index keeps creation order.
package redisstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/morezero/contacts-gateway/pkg/contacts"
)

const logPrefix = "redisstore:store"

const defaultPrefix = "contacts"

// updateIfExists replaces the fields of an existing hash and returns 1, or returns 0
// when the hash does not exist.
var updateIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'name', ARGV[1], 'email', ARGV[2], 'phone', ARGV[3])
return 1
`)

// Store implements the worker's contact store on Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps an existing client. An empty prefix uses "contacts".
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Dial parses a redis:// URL, connects and verifies the connection.
func Dial(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid redis URL: %w", logPrefix, err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%s - failed to ping redis at %s: %w", logPrefix, opts.Addr, err)
	}
	slog.Info(fmt.Sprintf("%s - Connected to redis at %s", logPrefix, opts.Addr))
	return New(rdb, prefix), nil
}

func (s *Store) key(id string) string { return s.prefix + ":" + id }
func (s *Store) indexKey() string     { return s.prefix + ":index" }
func (s *Store) seqKey() string       { return s.prefix + ":seq" }

// Create stores c, assigning a random id when c.ID is empty.
func (s *Store) Create(ctx context.Context, c contacts.Contact) (*contacts.Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to allocate sequence: %w", logPrefix, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(c.ID), "id", c.ID, "name", c.Name, "email", c.Email, "phone", c.Phone)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(seq), Member: c.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create contact: %w", logPrefix, err)
	}
	return &c, nil
}

// Get returns the contact with id, or nil if there is none.
func (s *Store) Get(ctx context.Context, id string) (*contacts.Contact, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to get contact %s: %w", logPrefix, id, err)
	}
	return fromHash(fields), nil
}

// List returns every contact in creation order.
func (s *Store) List(ctx context.Context) ([]contacts.Contact, error) {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read index: %w", logPrefix, err)
	}

	out := make([]contacts.Contact, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list contacts: %w", logPrefix, err)
	}
	for _, cmd := range cmds {
		if c := fromHash(cmd.Val()); c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// Update replaces the fields of the contact with c.ID. It returns nil if there is none.
func (s *Store) Update(ctx context.Context, c contacts.Contact) (*contacts.Contact, error) {
	n, err := updateIfExists.Run(ctx, s.rdb, []string{s.key(c.ID)}, c.Name, c.Email, c.Phone).Int()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to update contact %s: %w", logPrefix, c.ID, err)
	}
	if n == 0 {
		return nil, nil
	}
	return &c, nil
}

// Delete removes the contact with id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s - failed to delete contact %s: %w", logPrefix, id, err)
	}
	return del.Val() > 0, nil
}

// Clear removes every contact and the index. It returns how many contacts there were.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%s - failed to read index: %w", logPrefix, err)
	}
	keys := []string{s.indexKey(), s.seqKey()}
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%s - failed to clear contacts: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Removed %d contacts", logPrefix, len(ids)))
	return int64(len(ids)), nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func fromHash(fields map[string]string) *contacts.Contact {
	if len(fields) == 0 {
		return nil
	}
	return &contacts.Contact{
		ID:    fields["id"],
		Name:  fields["name"],
		Email: fields["email"],
		Phone: fields["phone"],
	}
}
