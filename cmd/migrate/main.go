package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/flyover/internal/adapters/postgres"
	"github.com/samirrijal/flyover/internal/pkg/config"
)

const migrationsDir = "migrations"

// Usage: migrate <up|status>
func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|status>")
	}

	cfg, err := config.Load("flyover-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	if _, err := db.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		log.Fatalf("schema_migrations: %v", err)
	}

	files, err := migrationFiles(migrationsDir)
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		log.Fatalf("applied versions: %v", err)
	}

	switch os.Args[1] {
	case "up":
		n := 0
		for _, f := range files {
			version := versionOf(f)
			if applied[version] {
				continue
			}
			if err := apply(ctx, db, f, version); err != nil {
				log.Fatalf("%s: %v", f, err)
			}
			fmt.Printf("OK  %s\n", f)
			n++
		}
		log.Printf("%d migrations applied", n)
	case "status":
		for _, f := range files {
			state := "pending"
			if applied[versionOf(f)] {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, f)
		}
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// versionOf returns the file name without extension, e.g. 002_places.
func versionOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func appliedVersions(ctx context.Context, db *postgres.DB) (map[string]bool, error) {
	rows, err := db.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(versions))
	for _, v := range versions {
		out[v] = true
	}
	return out, nil
}

// apply runs one file and records its version in the same transaction.
func apply(ctx context.Context, db *postgres.DB, path, version string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
		return err
	})
}
