// Command migrate applies the SQL migrations in migrations/ to the configured
// PostgreSQL database. Schema state is tracked in the schema_migrations table
// via golang-migrate.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chronoflow/timetracker/internal/config"
)

const connectTimeout = 5 * time.Minute

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N pending migrations\n")
	fmt.Fprintf(os.Stderr, "  down N       Roll back N migrations\n")
	fmt.Fprintf(os.Stderr, "  version      Print current schema version\n")
	fmt.Fprintf(os.Stderr, "  force V      Mark version V applied without running SQL (recovery only)\n")
	fmt.Fprintf(os.Stderr, "  create NAME  Create a numbered up/down migration file pair\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nDatabase settings come from the DB_* environment variables\n")
	fmt.Fprintf(os.Stderr, "shared with the server (DB_HOST, DB_PORT, DB_USER, DB_PASSWORD,\n")
	fmt.Fprintf(os.Stderr, "DB_NAME, DB_SSLMODE).\n")
}

func main() {
	path := flag.String("path", "migrations", "Path to the migrations directory")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(config.Load(), *path, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(cfg *config.Config, path, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return fmt.Errorf("create requires a migration name")
		}
		return createMigration(path, args[0])
	case "up":
		steps := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid number of steps: %s", args[0])
			}
			steps = n
		}
		return withMigrate(cfg, path, func(m *migrate.Migrate) error {
			return applyUp(m, steps)
		})
	case "down":
		if len(args) < 1 {
			return fmt.Errorf("down requires a number of steps")
		}
		steps, err := strconv.Atoi(args[0])
		if err != nil || steps < 1 {
			return fmt.Errorf("invalid number of steps: %s", args[0])
		}
		return withMigrate(cfg, path, func(m *migrate.Migrate) error {
			return applyDown(m, steps)
		})
	case "version":
		return withMigrate(cfg, path, showVersion)
	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force requires a version number")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return withMigrate(cfg, path, func(m *migrate.Migrate) error {
			log.Printf("Marking version %d applied without running SQL", version)
			return m.Force(version)
		})
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func applyUp(m *migrate.Migrate, steps int) error {
	from, _, _ := m.Version()

	var err error
	if steps > 0 {
		err = m.Steps(steps)
	} else {
		err = m.Up()
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("Schema is up to date")
			return nil
		}
		return err
	}

	to, _, _ := m.Version()
	log.Printf("Migrated %d -> %d", from, to)
	return nil
}

func applyDown(m *migrate.Migrate, steps int) error {
	from, _, _ := m.Version()

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("Nothing to roll back")
			return nil
		}
		return err
	}

	to, _, _ := m.Version()
	log.Printf("Rolled back %d -> %d", from, to)
	return nil
}

func showVersion(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations applied yet")
			return nil
		}
		return err
	}
	if dirty {
		log.Printf("Schema version %d (dirty, fix with force)", version)
		return nil
	}
	log.Printf("Schema version %d", version)
	return nil
}

// createMigration writes an empty up/down pair with the next sequence number.
func createMigration(path, name string) error {
	next, err := nextSequence(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}

	for _, suffix := range []string{"up", "down"} {
		file := filepath.Join(path, fmt.Sprintf("%03d_%s.%s.sql", next, name, suffix))
		if err := os.WriteFile(file, nil, 0o644); err != nil {
			return err
		}
		log.Printf("Created %s", file)
	}
	return nil
}

func nextSequence(path string) (int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	max := 0
	for _, entry := range entries {
		var n int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &n); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

// withMigrate connects using the shared database config, runs fn, and closes
// the migrate instance.
func withMigrate(cfg *config.Config, path string, fn func(*migrate.Migrate) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create database driver: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	m.LockTimeout = connectTimeout
	return fn(m)
}
