package shortener

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/sundayezeilo/shortly/internal/errx"
)

/***************
 * Mocks
 ***************/

// mockStore implements Store for testing. Unset funcs fall back to an empty
// store that accepts every write.
type mockStore struct {
	findByURLFunc      func(ctx context.Context, url string) (Link, error)
	findByCodeFunc     func(ctx context.Context, code string) (Link, error)
	codeExistsFunc     func(ctx context.Context, code string) (bool, error)
	insertFunc         func(ctx context.Context, link Link) (Link, error)
	incrementVisitFunc func(ctx context.Context, code string) (int64, error)
	appendClickFunc    func(ctx context.Context, click Click) (Click, error)
	listLinksFunc      func(ctx context.Context, params ListLinksParams) ([]Link, error)
	listClicksFunc     func(ctx context.Context, code string, limit int) ([]Click, error)
	inTxFunc           func(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	mu    sync.Mutex
	calls []string
}

func (m *mockStore) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

func (m *mockStore) called(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

func notFound(op string) error {
	return errx.E(op, errx.NotFound, ErrNotFound)
}

func unavailable(op string) error {
	return errx.E(op, errx.Unavailable, errors.Join(ErrStoreUnavailable, errors.New("connection refused")))
}

func (m *mockStore) FindByURL(ctx context.Context, url string) (Link, error) {
	m.record("FindByURL")
	if m.findByURLFunc != nil {
		return m.findByURLFunc(ctx, url)
	}
	return Link{}, notFound("mock.FindByURL")
}

func (m *mockStore) FindByCode(ctx context.Context, code string) (Link, error) {
	m.record("FindByCode")
	if m.findByCodeFunc != nil {
		return m.findByCodeFunc(ctx, code)
	}
	return Link{}, notFound("mock.FindByCode")
}

func (m *mockStore) CodeExists(ctx context.Context, code string) (bool, error) {
	m.record("CodeExists")
	if m.codeExistsFunc != nil {
		return m.codeExistsFunc(ctx, code)
	}
	return false, nil
}

func (m *mockStore) Insert(ctx context.Context, link Link) (Link, error) {
	m.record("Insert")
	if m.insertFunc != nil {
		return m.insertFunc(ctx, link)
	}
	return link, nil
}

func (m *mockStore) IncrementVisit(ctx context.Context, code string) (int64, error) {
	m.record("IncrementVisit")
	if m.incrementVisitFunc != nil {
		return m.incrementVisitFunc(ctx, code)
	}
	return 1, nil
}

func (m *mockStore) AppendClick(ctx context.Context, click Click) (Click, error) {
	m.record("AppendClick")
	if m.appendClickFunc != nil {
		return m.appendClickFunc(ctx, click)
	}
	return click, nil
}

func (m *mockStore) ListLinks(ctx context.Context, params ListLinksParams) ([]Link, error) {
	m.record("ListLinks")
	if m.listLinksFunc != nil {
		return m.listLinksFunc(ctx, params)
	}
	return nil, nil
}

func (m *mockStore) ListClicks(ctx context.Context, code string, limit int) ([]Click, error) {
	m.record("ListClicks")
	if m.listClicksFunc != nil {
		return m.listClicksFunc(ctx, code, limit)
	}
	return nil, nil
}

func (m *mockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.record("InTx")
	if m.inTxFunc != nil {
		return m.inTxFunc(ctx, fn)
	}
	return fn(ctx, m)
}

// mockCodeGenerator returns codes in order, repeating the last one.
type mockCodeGenerator struct {
	mu        sync.Mutex
	codes     []string
	callCount int
}

func (m *mockCodeGenerator) Generate(int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if len(m.codes) == 0 {
		return "abc1234", nil
	}
	return m.codes[min(m.callCount, len(m.codes))-1], nil
}

type mockIDGenerator struct {
	err error
}

func (m mockIDGenerator) Generate() (uuid.UUID, error) {
	if m.err != nil {
		return uuid.Nil, m.err
	}
	return uuid.New(), nil
}

// staticTitle returns a TitleFetcher that always answers title and counts
// its calls.
func staticTitle(title string, calls *int) TitleFetcher {
	var mu sync.Mutex
	return TitleFetcherFunc(func(context.Context, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if calls != nil {
			*calls++
		}
		return title, nil
	})
}
