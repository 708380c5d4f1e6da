// Package migrations applies the embedded schema migrations for reportd.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

const versionTable = "_reportd_versions"

// AppliedMigration is a row of the version table.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migration is one .sql file split into executable statements.
type Migration struct {
	ID         string
	Statements []string
}

// Run applies every embedded migration that has not been recorded yet.
func Run(ctx context.Context, db *sql.DB) error {
	files, err := fs.Sub(sqlFS, "sql")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}
	return apply(ctx, db, files)
}

// apply runs the pending migrations found in fsys in filename order, each in
// its own transaction together with its version row.
func apply(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	if err := ensureVersionTable(ctx, db); err != nil {
		return fmt.Errorf("ensuring version table: %w", err)
	}

	done, err := appliedIDs(ctx, db)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	all, err := Load(fsys)
	if err != nil {
		return err
	}

	for _, m := range all {
		if done[m.ID] {
			continue
		}
		if err := m.apply(ctx, db); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.ID, err)
		}
		log.Info().
			Str("migration", m.ID).
			Int("statements", len(m.Statements)).
			Msg("Applied migration")
	}
	return nil
}

// Load reads every .sql file at the root of fsys, sorted by name.
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		out = append(out, Migration{
			ID:         strings.TrimSuffix(path.Base(name), ".sql"),
			Statements: parseStatements(string(body)),
		})
	}
	return out, nil
}

func (m Migration) apply(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d (%s): %w", i+1, firstLine(stmt), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO `+versionTable+` (id) VALUES (?)`, m.ID); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}
	return tx.Commit()
}

// GetApplied lists the recorded migrations, oldest id first.
func GetApplied(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, fmt.Errorf("ensuring version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, applied_at FROM `+versionTable+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var result []AppliedMigration
	for rows.Next() {
		var (
			m         AppliedMigration
			appliedAt string
		)
		if err := rows.Scan(&m.ID, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration: %w", err)
		}
		// sqlite's datetime('now') has no zone marker and is UTC.
		if t, err := time.ParseInLocation(time.DateTime, appliedAt, time.UTC); err == nil {
			m.AppliedAt = t
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionTable+` (
			id TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

func appliedIDs(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM `+versionTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// parseStatements splits a migration file on semicolons. Line and block
// comments are removed; semicolons and comment markers inside quoted
// strings or identifiers are kept as text.
func parseStatements(src string) []string {
	var (
		stmts []string
		cur   strings.Builder
		quote byte
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(src); i++ {
		c := src[i]

		if quote != 0 {
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			cur.WriteByte(c)
		case c == '-' && strings.HasPrefix(src[i:], "--"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				i = len(src)
				continue
			}
			i += end
			cur.WriteByte('\n')
		case c == '/' && strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = len(src)
				continue
			}
			i += end + 3
			cur.WriteByte(' ')
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()

	return stmts
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(stmt, "\n")
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}
