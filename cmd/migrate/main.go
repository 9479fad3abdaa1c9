package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/agroms/internal/storage/postgres"
)

const runTimeout = 30 * time.Second

func usage() {
	_, _ = fmt.Fprintf(os.Stderr, `Usage: migrate [flags] <command>

Commands:
  up       apply pending migrations (-steps=0 applies all)
  down     rollback migrations (-steps<=0 rolls back one)
  status   print current schema version

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		steps int
		dsn   string
	)

	flag.Usage = usage
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply or rollback")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: AGROMS_POSTGRES_DSN)")
	flag.Parse()

	command := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	if command == "" {
		usage()
		os.Exit(2)
	}

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("AGROMS_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("AGROMS_POSTGRES_DSN (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	switch command {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			fail("migrate up: %v", err)
		}
		printStatus(ctx, store, "migrate up ok")
	case "down":
		if err := store.MigrateDown(ctx, steps); err != nil {
			fail("migrate down: %v", err)
		}
		printStatus(ctx, store, "migrate down ok")
	case "status":
		printStatus(ctx, store, "migration status")
	default:
		fail("unknown command: %s (use up|down|status)", command)
	}
}

func printStatus(ctx context.Context, store *postgres.Store, prefix string) {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		fail("migration status: %v", err)
	}
	fmt.Printf("%s: version=%d applied=%d\n", prefix, version, count)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
