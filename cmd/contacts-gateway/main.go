// Package main is the entrypoint for contacts-gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/morezero/contacts-gateway/internal/config"
	"github.com/morezero/contacts-gateway/internal/server"
	"github.com/morezero/contacts-gateway/pkg/db"
	"github.com/morezero/contacts-gateway/pkg/redisstore"
)

const usage = `Usage: contacts-gateway [command]
       contacts-gateway serve              Start the HTTP gateway (broker, rpc clients, HTTP API).
       contacts-gateway worker             Start the contacts worker (broker, store).
       contacts-gateway migrate up         Run database migrations.
       contacts-gateway migrate down       Roll back migrations (not supported; prints guidance).
       contacts-gateway migrate status     Show migration status.
       contacts-gateway ensure-db [name]   Create database if missing (default name: contacts). Uses DATABASE_URL host/user.
       contacts-gateway clear              Delete every contact from the STORE_BACKEND store; schema is preserved.

Commands:
  serve            (default) Start the gateway. With BROKER=memory an in-process worker answers requests.
  worker           Serve the contacts request channels from STORE_BACKEND (postgres, redis, memory).
  migrate up       Run database migrations only.
  migrate down     Roll back migrations.
  migrate status   Show current migration status.
  ensure-db [name] Create database (e.g. contacts_test) on same host as DATABASE_URL.
  clear            Delete all contacts.

Environment: BROKER, COMMS_URL, AMQP_URL, KAFKA_BROKERS, WIRE_CODEC, STORE_BACKEND,
DATABASE_URL, REDIS_URL, MIGRATION_PATH, HTTP_PORT, LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("contacts-gateway migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("contacts-gateway migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("contacts-gateway migrate status: %v", err)
			}
		case "down":
			if err := db.MigrationDown(os.Stdout); err != nil {
				log.Fatalf("contacts-gateway migrate down: %v", err)
			}
		default:
			log.Fatalf("contacts-gateway migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("contacts-gateway clear: %v", err)
		}
		return
	case "ensure-db":
		if err := runEnsureDB(ensureDBName(args)); err != nil {
			log.Fatalf("contacts-gateway ensure-db: %v", err)
		}
		return
	case "worker":
		if err := server.RunWorker(); err != nil {
			log.Fatalf("contacts-gateway worker: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("contacts-gateway: %v", err)
	}
}

func ensureDBName(args []string) string {
	if len(args) > 1 && args[1] != "" {
		return args[1]
	}
	return "contacts"
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMigrateUp() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationStatus(ctx, pool, cfg.MigrationPath, os.Stdout)
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	var n int64
	switch cfg.StoreBackend {
	case config.StoreRedis:
		s, err := redisstore.Dial(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer s.Close()
		if n, err = s.Clear(ctx); err != nil {
			return fmt.Errorf("clear contacts: %w", err)
		}
	case config.StorePostgres:
		if err := cfg.ValidateForDB(); err != nil {
			return err
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if n, err = db.ClearContacts(ctx, pool); err != nil {
			return fmt.Errorf("clear contacts: %w", err)
		}
	default:
		return fmt.Errorf("STORE_BACKEND %q has nothing to clear", cfg.StoreBackend)
	}
	fmt.Printf("Removed %d contacts.\n", n)
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	targetURL, err := db.WithDatabase(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}
