package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/shortener"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "shortly.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newLink(code, url string) shortener.Link {
	return shortener.Link{
		ID:        uuid.Must(uuid.NewV7()),
		Code:      code,
		URL:       url,
		BaseURL:   "https://sho.rt",
		CreatedAt: time.Now().UTC(),
	}
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDriver string
		wantSource string
	}{
		{"libsql://db-org.turso.io?authToken=x", "libsql", "libsql://db-org.turso.io?authToken=x"},
		{"wss://db.example.com", "libsql", "wss://db.example.com"},
		{"data/shortly.db", "sqlite", "data/shortly.db?" + localPragmas},
		{"file:test.db?cache=shared", "sqlite", "file:test.db?cache=shared&" + localPragmas},
		{":memory:", "sqlite", "file::memory:?" + localPragmas},
		{"x.db?_pragma=busy_timeout(1)", "sqlite", "x.db?_pragma=busy_timeout(1)"},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, source := driverFor(tt.dsn)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = first.Insert(ctx, newLink("keep001", "https://example.com/keep"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	link, err := second.FindByCode(ctx, "keep001")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/keep", link.URL)
}

func TestStore_InsertAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := newLink("abc1234", "https://example.com")
	in.Title = "Example"
	in.CreatedBy = "alice"

	created, err := s.Insert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in.ID, created.ID)
	assert.Equal(t, "Example", created.Title)
	assert.Equal(t, "alice", created.CreatedBy)
	assert.Zero(t, created.VisitCount)
	assert.Equal(t, in.CreatedAt.UnixNano(), created.CreatedAt.UnixNano(), "timestamps keep nanosecond precision")

	byURL, err := s.FindByURL(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, created, byURL)

	exists, err := s.CodeExists(ctx, "abc1234")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.CodeExists(ctx, "nope000")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.FindByCode(ctx, "nope000")
	assert.Equal(t, errx.NotFound, errx.KindOf(err))
	assert.ErrorIs(t, err, shortener.ErrNotFound)
}

func TestStore_InsertConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, newLink("abc1234", "https://example.com"))
	require.NoError(t, err)

	_, err = s.Insert(ctx, newLink("other01", "https://example.com"))
	assert.ErrorIs(t, err, shortener.ErrDuplicateURL)
	assert.Equal(t, errx.Conflict, errx.KindOf(err))

	_, err = s.Insert(ctx, newLink("abc1234", "https://other.example"))
	assert.ErrorIs(t, err, shortener.ErrDuplicateCode)
	assert.Equal(t, errx.Conflict, errx.KindOf(err))
}

func TestStore_VisitsAndClicks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, newLink("abc1234", "https://example.com"))
	require.NoError(t, err)

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementVisit(ctx, "abc1234")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = s.IncrementVisit(ctx, "missing")
	assert.Equal(t, errx.NotFound, errx.KindOf(err))

	for _, ua := range []string{"first", "second", "third"} {
		_, err := s.AppendClick(ctx, shortener.Click{
			ID:        uuid.New(),
			LinkCode:  "abc1234",
			UserAgent: ua,
			Referer:   "https://ref.example",
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	_, err = s.AppendClick(ctx, shortener.Click{ID: uuid.New(), LinkCode: "missing", CreatedAt: time.Now()})
	assert.Equal(t, errx.NotFound, errx.KindOf(err))

	clicks, err := s.ListClicks(ctx, "abc1234", 2)
	require.NoError(t, err)
	require.Len(t, clicks, 2)
	assert.Equal(t, "third", clicks[0].UserAgent)
	assert.Equal(t, "second", clicks[1].UserAgent)
	assert.Equal(t, "https://ref.example", clicks[0].Referer)
}

func TestStore_InTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits", func(t *testing.T) {
		s := openTestStore(t)
		_, err := s.Insert(ctx, newLink("abc1234", "https://example.com"))
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx shortener.Store) error {
			if _, err := tx.IncrementVisit(ctx, "abc1234"); err != nil {
				return err
			}
			_, err := tx.AppendClick(ctx, shortener.Click{ID: uuid.New(), LinkCode: "abc1234", CreatedAt: time.Now()})
			return err
		})
		require.NoError(t, err)

		link, err := s.FindByCode(ctx, "abc1234")
		require.NoError(t, err)
		assert.EqualValues(t, 1, link.VisitCount)
	})

	t.Run("rolls back and keeps the error kind", func(t *testing.T) {
		s := openTestStore(t)
		_, err := s.Insert(ctx, newLink("abc1234", "https://example.com"))
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx shortener.Store) error {
			if _, err := tx.IncrementVisit(ctx, "abc1234"); err != nil {
				return err
			}
			_, err := tx.AppendClick(ctx, shortener.Click{ID: uuid.New(), LinkCode: "ghost00", CreatedAt: time.Now()})
			return err
		})
		assert.Equal(t, errx.NotFound, errx.KindOf(err))

		link, err := s.FindByCode(ctx, "abc1234")
		require.NoError(t, err)
		assert.Zero(t, link.VisitCount)
	})

	t.Run("nested call joins outer", func(t *testing.T) {
		s := openTestStore(t)
		_, err := s.Insert(ctx, newLink("abc1234", "https://example.com"))
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.InTx(ctx, func(ctx context.Context, tx shortener.Store) error {
			if err := tx.InTx(ctx, func(ctx context.Context, inner shortener.Store) error {
				_, err := inner.IncrementVisit(ctx, "abc1234")
				return err
			}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		link, err := s.FindByCode(ctx, "abc1234")
		require.NoError(t, err)
		assert.Zero(t, link.VisitCount)
	})
}

func TestStore_ListLinks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, tc := range []struct{ code, user string }{
		{"link001", "alice"},
		{"link002", "bob"},
		{"link003", "alice"},
	} {
		l := newLink(tc.code, "https://example.com/"+tc.code)
		l.CreatedBy = tc.user
		l.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := s.Insert(ctx, l)
		require.NoError(t, err)
	}

	all, err := s.ListLinks(ctx, shortener.ListLinksParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "link003", all[0].Code)
	assert.Equal(t, "link001", all[2].Code)

	mine, err := s.ListLinks(ctx, shortener.ListLinksParams{CreatedBy: "alice", Limit: 10})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "link003", mine[0].Code)

	page, err := s.ListLinks(ctx, shortener.ListLinksParams{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "link002", page[0].Code)
}

func TestStore_ConcurrentService(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	svc := shortener.NewService(s, nil, &shortener.ServiceConfig{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		BaseURL: "https://sho.rt",
	})

	const creators = 50
	codes := make([]string, creators)
	var wg sync.WaitGroup
	for i := range creators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, _, err := svc.CreateLink(ctx, shortener.CreateLinkRequest{URL: "https://example.com/race"})
			if assert.NoError(t, err) {
				codes[i] = link.Code
			}
		}()
	}
	wg.Wait()
	for _, c := range codes {
		assert.Equal(t, codes[0], c)
	}

	const visitors = 100
	for range visitors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ResolveCode(ctx, codes[0], shortener.ClickMeta{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	link, err := s.FindByCode(ctx, codes[0])
	require.NoError(t, err)
	assert.EqualValues(t, visitors, link.VisitCount)

	clicks, err := s.ListClicks(ctx, codes[0], 1000)
	require.NoError(t, err)
	assert.Len(t, clicks, visitors)
}

func TestStore_IndependentServicesRaceOnOneURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const creators = 50
	codes := make([]string, creators)
	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := range creators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc := shortener.NewService(s, nil, &shortener.ServiceConfig{
				Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
				BaseURL: "https://sho.rt",
			})
			link, isNew, err := svc.CreateLink(ctx, shortener.CreateLinkRequest{URL: "https://example.com/shared"})
			if assert.NoError(t, err) {
				codes[i] = link.Code
				if isNew {
					created.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	for _, c := range codes {
		assert.Equal(t, codes[0], c)
	}
	assert.EqualValues(t, 1, created.Load())

	links, err := s.ListLinks(ctx, shortener.ListLinksParams{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, links, 1)
}
