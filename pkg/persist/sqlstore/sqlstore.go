// Package sqlstore is a [persist.Backend] on database/sql, with dialects for
// SQLite (modernc.org/sqlite) and Postgres (pgx).
//
// Positions are stored as a JSON column and re-validated on every load, so
// rows written by other tools with a malformed position load as unplaced
// instead of failing the whole board.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/persist"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name     string
	Driver   string
	JSONType string
	RealType string
	BoolType string
	numbered bool // $1-style placeholders instead of ?
}

// Supported dialects.
var (
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite", JSONType: "TEXT", RealType: "REAL", BoolType: "INTEGER"}
	Postgres = Dialect{Name: "postgres", Driver: "pgx", JSONType: "JSONB", RealType: "DOUBLE PRECISION", BoolType: "BOOLEAN", numbered: true}
)

// placeholders returns n comma-separated bind parameters starting at from.
func (d Dialect) placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.bind(from + i)
	}
	return strings.Join(parts, ", ")
}

func (d Dialect) bind(i int) string {
	if d.numbered {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

func (d Dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			region TEXT NOT NULL,
			kind TEXT NOT NULL,
			position ` + d.JSONType + `,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			size ` + d.RealType + ` NOT NULL DEFAULT 0,
			metadata ` + d.JSONType + `
		)`,
		`CREATE TABLE IF NOT EXISTS links (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			kind TEXT NOT NULL,
			is_branch ` + d.BoolType + ` NOT NULL DEFAULT ` + d.falseLiteral() + `,
			is_merge ` + d.BoolType + ` NOT NULL DEFAULT ` + d.falseLiteral() + `
		)`,
	}
}

func (d Dialect) falseLiteral() string {
	if d.BoolType == "BOOLEAN" {
		return "FALSE"
	}
	return "0"
}

// Store is a SQL-backed board.
type Store struct {
	db *sql.DB
	d  Dialect
}

var _ persist.Backend = (*Store)(nil)

// Open connects to dsn with the given dialect and creates missing tables.
func Open(ctx context.Context, d Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	s, err := New(ctx, db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens or creates a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "flowboard.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	return Open(ctx, SQLite, path)
}

// OpenPostgres connects to a Postgres database.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = "postgres://localhost/flowboard?sslmode=disable"
	}
	return Open(ctx, Postgres, dsn)
}

// New wraps an open database and creates missing tables.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, d: d}, nil
}

// DB exposes the underlying sql.DB for tests and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Load implements persist.Backend.
func (s *Store) Load(ctx context.Context) (graph.Graph, error) {
	var g graph.Graph
	rows, err := s.db.QueryContext(ctx, `SELECT id, region, kind, position, title, status, size, metadata FROM entities`)
	if err != nil {
		return g, classify(fmt.Errorf("select entities: %w", err))
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			e            graph.Entity
			pos, meta    []byte
			region, kind string
			status       string
		)
		if err := rows.Scan(&e.ID, &region, &kind, &pos, &e.Title, &status, &e.Size, &meta); err != nil {
			return g, fmt.Errorf("scan entity: %w", err)
		}
		e.Region, e.Kind, e.Status = graph.Region(region), graph.Kind(kind), graph.Status(status)
		if p, ok := graph.ParsePosition(pos); ok {
			e.Position = p
		} else {
			e.Position = graph.Unplaced()
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				e.Metadata = nil
			}
		}
		g.Entities = append(g.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return g, classify(err)
	}

	lrows, err := s.db.QueryContext(ctx, `SELECT id, source, target, kind, is_branch, is_merge FROM links`)
	if err != nil {
		return g, classify(fmt.Errorf("select links: %w", err))
	}
	defer func() { _ = lrows.Close() }()
	for lrows.Next() {
		var (
			l    graph.Link
			kind string
		)
		if err := lrows.Scan(&l.ID, &l.Source, &l.Target, &kind, &l.IsBranch, &l.IsMerge); err != nil {
			return g, fmt.Errorf("scan link: %w", err)
		}
		l.Kind = graph.LinkKind(kind)
		g.Links = append(g.Links, l)
	}
	if err := lrows.Err(); err != nil {
		return g, classify(err)
	}
	g.Sort()
	return g, nil
}

// SaveEntity implements persist.Backend. Virtual entities are ignored.
func (s *Store) SaveEntity(ctx context.Context, e graph.Entity) error {
	if e.Virtual {
		return nil
	}
	pos, err := json.Marshal(e.Position)
	if err != nil {
		return fmt.Errorf("encode position of %s: %w", e.ID, err)
	}
	var meta any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", e.ID, err)
		}
		meta = string(b)
	}
	q := `INSERT INTO entities (id, region, kind, position, title, status, size, metadata)
		VALUES (` + s.d.placeholders(1, 8) + `)
		ON CONFLICT (id) DO UPDATE SET
			region = excluded.region, kind = excluded.kind, position = excluded.position,
			title = excluded.title, status = excluded.status, size = excluded.size,
			metadata = excluded.metadata`
	_, err = s.db.ExecContext(ctx, q, e.ID, string(e.Region), string(e.Kind), string(pos), e.Title, string(e.Status), e.Size, meta)
	if err != nil {
		return classify(fmt.Errorf("upsert entity %s: %w", e.ID, err))
	}
	return nil
}

// DeleteEntity implements persist.Backend.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = `+s.d.bind(1), id); err != nil {
		return classify(fmt.Errorf("delete entity %s: %w", id, err))
	}
	return nil
}

// SaveLink implements persist.Backend. Synthetic links are ignored.
func (s *Store) SaveLink(ctx context.Context, l graph.Link) error {
	if l.Synthetic {
		return nil
	}
	q := `INSERT INTO links (id, source, target, kind, is_branch, is_merge)
		VALUES (` + s.d.placeholders(1, 6) + `)
		ON CONFLICT (id) DO UPDATE SET
			source = excluded.source, target = excluded.target, kind = excluded.kind,
			is_branch = excluded.is_branch, is_merge = excluded.is_merge`
	if _, err := s.db.ExecContext(ctx, q, l.ID, l.Source, l.Target, string(l.Kind), l.IsBranch, l.IsMerge); err != nil {
		return classify(fmt.Errorf("upsert link %s: %w", l.ID, err))
	}
	return nil
}

// DeleteLink implements persist.Backend.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE id = `+s.d.bind(1), id); err != nil {
		return classify(fmt.Errorf("delete link %s: %w", id, err))
	}
	return nil
}

// WritePositions implements persist.Backend. The whole batch commits in one
// transaction.
func (s *Store) WritePositions(ctx context.Context, updates []graph.PositionUpdate) (retErr error) {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, `UPDATE entities SET position = `+s.d.bind(1)+` WHERE id = `+s.d.bind(2))
	if err != nil {
		return classify(fmt.Errorf("prepare: %w", err))
	}
	defer func() { _ = stmt.Close() }()
	for _, u := range updates {
		pos, err := json.Marshal(u.Position)
		if err != nil {
			return fmt.Errorf("encode position of %s: %w", u.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(pos), u.ID); err != nil {
			return classify(fmt.Errorf("update position of %s: %w", u.ID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Close implements persist.Backend.
func (s *Store) Close() error { return s.db.Close() }

// classify marks transient database failures as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return persist.Retryable(err)
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return persist.Retryable(err)
	}
	return err
}
