// Package sqlstore is the concrete SQL-backed implementation of the
// store.DB/Users/Rooms/Messages collaborator interfaces: it embeds the
// schema migrations and executes every query the rest of the core issues
// through store.DB.Execute or the higher-level service interfaces.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/taedryn/mesh-citadel/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the sql.DB handle, exposing Execute for store.DB and concrete
// methods for store.Users/Rooms/Messages. It holds a PasswordHasher so
// VerifyPassword can compare a login attempt against the stored hash/salt
// without handing the raw bytes back out to the caller.
type Store struct {
	db     *sql.DB
	hasher store.PasswordHasher
}

// Open opens (creating if necessary) a sqlite database at dsn and applies
// every pending migration.
func Open(dsn string, hasher store.PasswordHasher) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dsn, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: enable foreign keys: %w", err)
	}

	s := &Store{db: db, hasher: hasher}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Users, Rooms, and Messages return the store.Users/Rooms/Messages views
// onto this database. They're separate types (rather than methods directly
// on *Store) because store.Users.Create and store.Rooms.Create would
// otherwise collide as two methods of the same name on the same receiver.
func (s *Store) Users() *Users       { return &Users{db: s.db, hasher: s.hasher} }
func (s *Store) Rooms() *Rooms       { return &Rooms{db: s.db} }
func (s *Store) Messages() *Messages { return &Messages{db: s.db} }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
		log.Infof("sqlstore: applied migration %s", f)
	}
	return nil
}

// Execute implements store.DB: a generic query/exec path for callers that
// issue their own SQL (internal/contacts, internal/nodeauth,
// internal/command/builtin, internal/workflow/builtin) rather than going
// through a typed service method.
func (s *Store) Execute(ctx context.Context, query string, args ...any) ([][]any, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	if strings.HasPrefix(trimmed, "SELECT") {
		return s.query(ctx, query, args...)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}
