// Package sqlite implements shortener.Store on SQLite. Local files and
// in-memory databases use the pure Go modernc.org/sqlite driver; libsql://
// and wss:// URLs are served by a remote libSQL (Turso) database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/shortener"
)

//go:embed schema.sql
var schema string

const localPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a shortener.Store on a database/sql SQLite handle.
type Store struct {
	db   *sql.DB
	conn dbtx
	inTx bool
}

var _ shortener.Store = (*Store)(nil)

// Open connects to dsn, applies the schema and returns a Store. dsn is a
// file path, a file: URI, ":memory:", or a libsql:// / wss:// URL.
func Open(ctx context.Context, dsn string) (*Store, error) {
	const op = "sqlite.Open"

	driver, source := driverFor(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("%w: %w", shortener.ErrStoreUnavailable, err))
	}

	if driver == "sqlite" {
		// One connection: writers queue in the pool, and an in-memory
		// database lives as long as the handle.
		db.SetMaxOpenConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	}

	s := &Store{db: db, conn: db}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.applySchema(ctx); err != nil {
		_ = db.Close()
		return nil, errx.E(op, errx.Unavailable, err)
	}
	return s, nil
}

func driverFor(dsn string) (driver, source string) {
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") {
		return "libsql", dsn
	}
	if strings.Contains(dsn, "_pragma=") {
		return "sqlite", dsn
	}
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return "sqlite", dsn + sep + localPragmas
}

// applySchema runs each statement separately since not every driver accepts
// multi-statement Exec.
func (s *Store) applySchema(ctx context.Context) error {
	for stmt := range strings.SplitSeq(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	const op = "sqlite.Store.Ping"
	if err := s.db.PingContext(ctx); err != nil {
		return mapError(op, err)
	}
	return nil
}

const linkColumns = `id, code, url, title, base_url, created_by, visit_count, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (shortener.Link, error) {
	var (
		l       shortener.Link
		created int64
	)
	if err := row.Scan(&l.ID, &l.Code, &l.URL, &l.Title, &l.BaseURL, &l.CreatedBy, &l.VisitCount, &created); err != nil {
		return shortener.Link{}, err
	}
	l.CreatedAt = time.Unix(0, created).UTC()
	return l, nil
}

func scanClick(row scanner) (shortener.Click, error) {
	var (
		c       shortener.Click
		created int64
	)
	if err := row.Scan(&c.ID, &c.LinkCode, &c.Referer, &c.UserAgent, &created); err != nil {
		return shortener.Click{}, err
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	return c, nil
}

func (s *Store) FindByURL(ctx context.Context, url string) (shortener.Link, error) {
	const op = "sqlite.Store.FindByURL"

	link, err := scanLink(s.conn.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE url = ?`, url))
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return link, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (shortener.Link, error) {
	const op = "sqlite.Store.FindByCode"

	link, err := scanLink(s.conn.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE code = ?`, code))
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return link, nil
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	const op = "sqlite.Store.CodeExists"

	var exists bool
	if err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM links WHERE code = ?)`, code).Scan(&exists); err != nil {
		return false, mapError(op, err)
	}
	return exists, nil
}

func (s *Store) Insert(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	const op = "sqlite.Store.Insert"

	created, err := scanLink(s.conn.QueryRowContext(ctx, `
		INSERT INTO links (id, code, url, title, base_url, created_by, visit_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		RETURNING `+linkColumns,
		link.ID.String(), link.Code, link.URL, link.Title, link.BaseURL, link.CreatedBy, link.CreatedAt.UnixNano(),
	))
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return created, nil
}

func (s *Store) IncrementVisit(ctx context.Context, code string) (int64, error) {
	const op = "sqlite.Store.IncrementVisit"

	var count int64
	if err := s.conn.QueryRowContext(ctx,
		`UPDATE links SET visit_count = visit_count + 1 WHERE code = ? RETURNING visit_count`,
		code,
	).Scan(&count); err != nil {
		return 0, mapError(op, err)
	}
	return count, nil
}

// AppendClick inserts only when the link exists, which holds even on remote
// databases where the foreign key pragma cannot be set per connection.
func (s *Store) AppendClick(ctx context.Context, click shortener.Click) (shortener.Click, error) {
	const op = "sqlite.Store.AppendClick"

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO clicks (id, link_code, referer, user_agent, created_at)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM links WHERE code = ?)`,
		click.ID.String(), click.LinkCode, click.Referer, click.UserAgent, click.CreatedAt.UnixNano(),
		click.LinkCode,
	)
	if err != nil {
		return shortener.Click{}, mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return shortener.Click{}, mapError(op, err)
	}
	if n == 0 {
		return shortener.Click{}, errx.E(op, errx.NotFound, fmt.Errorf("%w: %q", shortener.ErrNotFound, click.LinkCode))
	}

	click.CreatedAt = time.Unix(0, click.CreatedAt.UnixNano()).UTC()
	return click, nil
}

func (s *Store) ListLinks(ctx context.Context, params shortener.ListLinksParams) ([]shortener.Link, error) {
	const op = "sqlite.Store.ListLinks"

	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM links
		WHERE ? = '' OR created_by = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		params.CreatedBy, params.CreatedBy, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	links := make([]shortener.Link, 0, params.Limit)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return links, nil
}

func (s *Store) ListClicks(ctx context.Context, code string, limit int) ([]shortener.Click, error) {
	const op = "sqlite.Store.ListClicks"

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, link_code, referer, user_agent, created_at FROM clicks
		WHERE link_code = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		code, limit,
	)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	clicks := make([]shortener.Click, 0, limit)
	for rows.Next() {
		click, err := scanClick(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		clicks = append(clicks, click)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return clicks, nil
}

// InTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx shortener.Store) error) error {
	const op = "sqlite.Store.InTx"

	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(op, err)
	}

	if err := fn(ctx, &Store{db: s.db, conn: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, mapError(op, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(op, err)
	}
	return nil
}
