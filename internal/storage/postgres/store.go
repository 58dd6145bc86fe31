// Package postgres implements shortener.Store on PostgreSQL through pgx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sundayezeilo/shortly/internal/shortener"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx
// opens a savepoint, so nested InTx calls stay inside the outer transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a shortener.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// New returns a Store using pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

var _ shortener.Store = (*Store)(nil)

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	const op = "postgres.Store.Ping"
	if err := s.pool.Ping(ctx); err != nil {
		return mapError(op, err)
	}
	return nil
}

const linkColumns = `id, code, url, title, base_url, created_by, visit_count, created_at`

func scanLink(row pgx.Row) (shortener.Link, error) {
	var l shortener.Link
	err := row.Scan(&l.ID, &l.Code, &l.URL, &l.Title, &l.BaseURL, &l.CreatedBy, &l.VisitCount, &l.CreatedAt)
	return l, err
}

func scanClick(row pgx.Row) (shortener.Click, error) {
	var c shortener.Click
	err := row.Scan(&c.ID, &c.LinkCode, &c.Referer, &c.UserAgent, &c.CreatedAt)
	return c, err
}

func (s *Store) FindByURL(ctx context.Context, url string) (shortener.Link, error) {
	const op = "postgres.Store.FindByURL"

	link, err := scanLink(s.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links WHERE url = $1`, url))
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return link, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (shortener.Link, error) {
	const op = "postgres.Store.FindByCode"

	link, err := scanLink(s.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links WHERE code = $1`, code))
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return link, nil
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	const op = "postgres.Store.CodeExists"

	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM links WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, mapError(op, err)
	}
	return exists, nil
}

// Insert relies on the links_url_unique and links_code_unique constraints,
// so concurrent inserts of the same URL or code cannot both succeed.
func (s *Store) Insert(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	const op = "postgres.Store.Insert"

	created, err := scanLink(s.db.QueryRow(ctx, `
		INSERT INTO links (id, code, url, title, base_url, created_by, visit_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING `+linkColumns,
		link.ID, link.Code, link.URL, link.Title, link.BaseURL, link.CreatedBy, link.CreatedAt,
	))
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return created, nil
}

func (s *Store) IncrementVisit(ctx context.Context, code string) (int64, error) {
	const op = "postgres.Store.IncrementVisit"

	var count int64
	err := s.db.QueryRow(ctx,
		`UPDATE links SET visit_count = visit_count + 1 WHERE code = $1 RETURNING visit_count`,
		code,
	).Scan(&count)
	if err != nil {
		return 0, mapError(op, err)
	}
	return count, nil
}

func (s *Store) AppendClick(ctx context.Context, click shortener.Click) (shortener.Click, error) {
	const op = "postgres.Store.AppendClick"

	recorded, err := scanClick(s.db.QueryRow(ctx, `
		INSERT INTO clicks (id, link_code, referer, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, link_code, referer, user_agent, created_at`,
		click.ID, click.LinkCode, click.Referer, click.UserAgent, click.CreatedAt,
	))
	if err != nil {
		return shortener.Click{}, mapError(op, err)
	}
	return recorded, nil
}

func (s *Store) ListLinks(ctx context.Context, params shortener.ListLinksParams) ([]shortener.Link, error) {
	const op = "postgres.Store.ListLinks"

	rows, err := s.db.Query(ctx, `
		SELECT `+linkColumns+` FROM links
		WHERE $1 = '' OR created_by = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		params.CreatedBy, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, mapError(op, err)
	}

	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shortener.Link, error) {
		return scanLink(row)
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	return links, nil
}

func (s *Store) ListClicks(ctx context.Context, code string, limit int) ([]shortener.Click, error) {
	const op = "postgres.Store.ListClicks"

	rows, err := s.db.Query(ctx, `
		SELECT id, link_code, referer, user_agent, created_at FROM clicks
		WHERE link_code = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		code, limit,
	)
	if err != nil {
		return nil, mapError(op, err)
	}

	clicks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shortener.Click, error) {
		return scanClick(row)
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	return clicks, nil
}

// InTx runs fn in a database transaction. Errors returned by fn keep their
// kind; failures to begin or commit are reported as Unavailable.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx shortener.Store) error) error {
	const op = "postgres.Store.InTx"

	var fnErr error
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		fnErr = fn(ctx, &Store{pool: s.pool, db: tx})
		return fnErr
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	default:
		return mapError(op, err)
	}
}
