// Package memory is an in-process shortener.Store for development and
// tests. Data does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/shortener"
)

// Store keeps links and clicks in maps guarded by one mutex. Transactions
// hold the mutex for their whole duration and roll back through an undo
// journal.
type Store struct {
	mu        sync.Mutex
	byCode    map[string]shortener.Link
	codeByURL map[string]string
	clicks    map[string][]shortener.Click
	order     []string // codes in insertion order
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byCode:    make(map[string]shortener.Link),
		codeByURL: make(map[string]string),
		clicks:    make(map[string][]shortener.Click),
	}
}

var _ shortener.Store = (*Store)(nil)

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) FindByURL(ctx context.Context, url string) (shortener.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).FindByURL(ctx, url)
}

func (s *Store) FindByCode(ctx context.Context, code string) (shortener.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).FindByCode(ctx, code)
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).CodeExists(ctx, code)
}

func (s *Store) Insert(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).Insert(ctx, link)
}

func (s *Store) IncrementVisit(ctx context.Context, code string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).IncrementVisit(ctx, code)
}

func (s *Store) AppendClick(ctx context.Context, click shortener.Click) (shortener.Click, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).AppendClick(ctx, click)
}

func (s *Store) ListLinks(ctx context.Context, params shortener.ListLinksParams) ([]shortener.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).ListLinks(ctx, params)
}

func (s *Store) ListClicks(ctx context.Context, code string, limit int) ([]shortener.Click, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).ListClicks(ctx, code, limit)
}

// InTx runs fn while holding the store lock. When fn fails, or ctx ends
// before fn returns, every change it made is undone in reverse order.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx shortener.Store) error) error {
	const op = "memory.Store.InTx"

	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, fmt.Errorf("%w: %w", shortener.ErrStoreUnavailable, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s, journal: &[]func(){}}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		t.rollback()
		return errx.E(op, errx.Unavailable, fmt.Errorf("%w: %w", shortener.ErrStoreUnavailable, err))
	}
	return nil
}

// tx operates on the store's maps with the lock already held. A nil journal
// means changes are applied without undo records.
type tx struct {
	s       *Store
	journal *[]func()
}

func (t *tx) undo(fn func()) {
	if t.journal != nil {
		*t.journal = append(*t.journal, fn)
	}
}

func (t *tx) rollback() {
	j := *t.journal
	for i := len(j) - 1; i >= 0; i-- {
		j[i]()
	}
	*t.journal = nil
}

func (t *tx) FindByURL(_ context.Context, url string) (shortener.Link, error) {
	const op = "memory.Store.FindByURL"

	code, ok := t.s.codeByURL[url]
	if !ok {
		return shortener.Link{}, errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	return t.s.byCode[code], nil
}

func (t *tx) FindByCode(_ context.Context, code string) (shortener.Link, error) {
	const op = "memory.Store.FindByCode"

	link, ok := t.s.byCode[code]
	if !ok {
		return shortener.Link{}, errx.E(op, errx.NotFound, fmt.Errorf("%w: %q", shortener.ErrNotFound, code))
	}
	return link, nil
}

func (t *tx) CodeExists(_ context.Context, code string) (bool, error) {
	_, ok := t.s.byCode[code]
	return ok, nil
}

func (t *tx) Insert(_ context.Context, link shortener.Link) (shortener.Link, error) {
	const op = "memory.Store.Insert"

	if _, ok := t.s.codeByURL[link.URL]; ok {
		return shortener.Link{}, errx.E(op, errx.Conflict, shortener.ErrDuplicateURL)
	}
	if _, ok := t.s.byCode[link.Code]; ok {
		return shortener.Link{}, errx.E(op, errx.Conflict, shortener.ErrDuplicateCode)
	}

	link.VisitCount = 0
	t.s.byCode[link.Code] = link
	t.s.codeByURL[link.URL] = link.Code
	t.s.order = append(t.s.order, link.Code)

	t.undo(func() {
		delete(t.s.byCode, link.Code)
		delete(t.s.codeByURL, link.URL)
		t.s.order = t.s.order[:len(t.s.order)-1]
	})
	return link, nil
}

func (t *tx) IncrementVisit(_ context.Context, code string) (int64, error) {
	const op = "memory.Store.IncrementVisit"

	link, ok := t.s.byCode[code]
	if !ok {
		return 0, errx.E(op, errx.NotFound, fmt.Errorf("%w: %q", shortener.ErrNotFound, code))
	}

	link.VisitCount++
	t.s.byCode[code] = link

	t.undo(func() {
		l := t.s.byCode[code]
		l.VisitCount--
		t.s.byCode[code] = l
	})
	return link.VisitCount, nil
}

func (t *tx) AppendClick(_ context.Context, click shortener.Click) (shortener.Click, error) {
	const op = "memory.Store.AppendClick"

	if _, ok := t.s.byCode[click.LinkCode]; !ok {
		return shortener.Click{}, errx.E(op, errx.NotFound, fmt.Errorf("%w: %q", shortener.ErrNotFound, click.LinkCode))
	}

	t.s.clicks[click.LinkCode] = append(t.s.clicks[click.LinkCode], click)

	t.undo(func() {
		cs := t.s.clicks[click.LinkCode]
		t.s.clicks[click.LinkCode] = cs[:len(cs)-1]
	})
	return click, nil
}

func (t *tx) ListLinks(_ context.Context, params shortener.ListLinksParams) ([]shortener.Link, error) {
	out := make([]shortener.Link, 0, min(params.Limit, len(t.s.order)))
	skipped := 0
	for i := len(t.s.order) - 1; i >= 0 && len(out) < params.Limit; i-- {
		link := t.s.byCode[t.s.order[i]]
		if params.CreatedBy != "" && link.CreatedBy != params.CreatedBy {
			continue
		}
		if skipped < params.Offset {
			skipped++
			continue
		}
		out = append(out, link)
	}
	return out, nil
}

func (t *tx) ListClicks(_ context.Context, code string, limit int) ([]shortener.Click, error) {
	cs := t.s.clicks[code]
	out := make([]shortener.Click, 0, min(limit, len(cs)))
	for i := len(cs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cs[i])
	}
	return out, nil
}

// InTx on a transaction view joins the enclosing transaction.
func (t *tx) InTx(ctx context.Context, fn func(ctx context.Context, tx shortener.Store) error) error {
	return fn(ctx, t)
}
