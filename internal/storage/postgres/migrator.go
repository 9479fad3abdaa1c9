package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir = "sql/migrations"

	// Advisory lock исключает гонку миграций при одновременном старте
	// нескольких экземпляров сервиса.
	migrationLockKey = int64(20250831)

	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	version int64
	name    string
	up      string
	down    string
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции.
// steps<=0 интерпретируется как 1 шаг для безопасного поведения.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus возвращает текущую версию и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var (
		version int64
		count   int
	)
	row := s.db.QueryRowContext(queryCtx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`)
	if err := row.Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("read schema_migrations: %w", err)
	}

	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	migrations, err := readMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	if direction == migrationDown {
		return rollback(ctx, conn, migrations, steps)
	}
	return advance(ctx, conn, migrations, steps)
}

func advance(ctx context.Context, conn *sql.Conn, migrations []migration, steps int) error {
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	done := 0
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := runMigration(ctx, conn, m, migrationUp); err != nil {
			return err
		}
		done++
		if steps > 0 && done >= steps {
			break
		}
	}

	return nil
}

func rollback(ctx context.Context, conn *sql.Conn, migrations []migration, steps int) error {
	byVersion := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.version] = m
	}

	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return fmt.Errorf("select versions to rollback: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return fmt.Errorf("scan version to rollback: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate versions to rollback: %w", err)
	}

	for _, v := range versions {
		m, ok := byVersion[v]
		if !ok {
			return fmt.Errorf("cannot rollback unknown migration version %d", v)
		}
		if err := runMigration(ctx, conn, m, migrationDown); err != nil {
			return err
		}
	}

	return nil
}

// runMigration выполняет тело миграции и её учёт в schema_migrations одной
// транзакцией.
func runMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) error {
	body := m.up
	record := `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`
	recordArgs := []any{m.version, m.name}
	if direction == migrationDown {
		body = m.down
		record = `DELETE FROM schema_migrations WHERE version = $1`
		recordArgs = []any{m.version}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for migration %d_%s (%s): %w", m.version, m.name, direction, err)
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("run migration %d_%s (%s): %w", m.version, m.name, direction, err)
	}
	if _, err := tx.ExecContext(ctx, record, recordArgs...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d_%s (%s): %w", m.version, m.name, direction, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d_%s (%s): %w", m.version, m.name, direction, err)
	}

	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("select applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}

	return applied, nil
}

// readMigrations собирает пары up/down файлов вида NNNN_name.up.sql из
// встроенной директории и возвращает их отсортированными по версии.
func readMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, direction, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, migrationsDir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{version: version, name: name}
			byVersion[version] = m
		} else if m.name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.name, name)
		}

		switch direction {
		case migrationUp:
			if m.up != "" {
				return nil, fmt.Errorf("duplicate up migration for version %d", version)
			}
			m.up = body
		case migrationDown:
			if m.down != "" {
				return nil, fmt.Errorf("duplicate down migration for version %d", version)
			}
			m.down = body
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.version, m.name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	return migrations, nil
}

func parseMigrationFileName(base string) (int64, string, migrationDirection, error) {
	var direction migrationDirection
	var rest string
	switch {
	case strings.HasSuffix(base, ".up.sql"):
		direction = migrationUp
		rest = strings.TrimSuffix(base, ".up.sql")
	case strings.HasSuffix(base, ".down.sql"):
		direction = migrationDown
		rest = strings.TrimSuffix(base, ".down.sql")
	default:
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}

	versionPart, name, ok := strings.Cut(rest, "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}

	version, err := strconv.ParseInt(versionPart, 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}

	return version, name, direction, nil
}
