package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	domain            TEXT NOT NULL,
	name              TEXT NOT NULL,
	version           TEXT NOT NULL,
	category          TEXT NOT NULL,
	regex             TEXT NOT NULL,
	output_type       TEXT NOT NULL,
	base_confidence   REAL NOT NULL,
	priority          TEXT NOT NULL DEFAULT 'normal',
	description       TEXT NOT NULL DEFAULT '',
	examples          TEXT NOT NULL DEFAULT '[]',
	keywords          TEXT NOT NULL DEFAULT '[]',
	negative_keywords TEXT NOT NULL DEFAULT '[]',
	active            INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (domain, name, version)
);
`

// SQLiteSource reads definitions from a table in a SQLite database.
// List columns hold JSON arrays.
type SQLiteSource struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens dsn and ensures table exists. table must be a plain
// identifier; it is interpolated into statements.
func OpenSQLite(dsn, table string) (*SQLiteSource, error) {
	if !ValidTableName(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(fmt.Sprintf(sqliteSchema, table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteSource{db: db, table: table}, nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func (s *SQLiteSource) Name() string { return "sqlite:" + s.table }

// Definitions returns every row, active or not, ordered by identity.
func (s *SQLiteSource) Definitions(ctx context.Context) ([]pattern.Definition, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT domain, name, version, category, regex, output_type, base_confidence,
		       priority, description, examples, keywords, negative_keywords, active
		FROM %s ORDER BY domain, name, version`, s.table))
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var defs []pattern.Definition
	for rows.Next() {
		var (
			def                          pattern.Definition
			category, priority           string
			examples, keywords, negative string
			active                       int
		)
		if err := rows.Scan(&def.Domain, &def.Name, &def.Version, &category, &def.Regex,
			&def.OutputType, &def.BaseConfidence, &priority, &def.Description,
			&examples, &keywords, &negative, &active); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}

		def.Category = pattern.Category(category)
		if def.Priority, err = pattern.ParsePriority(priority); err != nil {
			return nil, fmt.Errorf("pattern %s: %w", def.Key(), err)
		}
		for _, col := range []struct {
			raw string
			dst *[]string
		}{{examples, &def.Examples}, {keywords, &def.Keywords}, {negative, &def.NegativeKeywords}} {
			if err := decodeList(col.raw, col.dst); err != nil {
				return nil, fmt.Errorf("pattern %s: %w", def.Key(), err)
			}
		}
		def.Disabled = active == 0
		def.ID = pattern.DeriveID(def.Key())
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return defs, nil
}

// Save inserts defs in one transaction. Existing identities are left
// unchanged, matching the registry's immutability.
func (s *SQLiteSource) Save(ctx context.Context, defs []pattern.Definition) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (domain, name, version, category, regex, output_type,
			base_confidence, priority, description, examples, keywords, negative_keywords, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, def := range defs {
		res, err := stmt.ExecContext(ctx, def.Domain, def.Name, def.Version, string(def.Category),
			def.Regex, def.OutputType, def.BaseConfidence, def.Priority.String(), def.Description,
			encodeList(def.Examples), encodeList(def.Keywords), encodeList(def.NegativeKeywords),
			boolInt(def.Active()))
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", def.Key(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// SetActive flips the active flag of one row.
func (s *SQLiteSource) SetActive(ctx context.Context, key pattern.Key, active bool) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET active = ? WHERE domain = ? AND name = ? AND version = ?`, s.table),
		boolInt(active), key.Domain, key.Name, key.Version)
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return pattern.NewError("set active", key, pattern.ErrPatternNotFound, nil)
	}
	return nil
}

func decodeList(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("decode list %q: %w", raw, err)
	}
	if len(out) > 0 {
		*dst = out
	}
	return nil
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ValidTableName reports whether s is a plain SQL identifier.
func ValidTableName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
