package shortener

import "context"

// Store is the persistent mapping of code to link. Implementations must
// enforce URL and code uniqueness atomically and apply visit increments as
// atomic add-one operations.
//
// Lookups report absence with an error of kind errx.NotFound wrapping
// ErrNotFound. Insert reports uniqueness violations with kind errx.Conflict
// wrapping ErrDuplicateURL or ErrDuplicateCode. Persistence failures have kind
// errx.Unavailable and wrap ErrStoreUnavailable.
type Store interface {
	FindByURL(ctx context.Context, url string) (Link, error)
	FindByCode(ctx context.Context, code string) (Link, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Insert(ctx context.Context, link Link) (Link, error)
	IncrementVisit(ctx context.Context, code string) (int64, error)
	AppendClick(ctx context.Context, click Click) (Click, error)
	ListLinks(ctx context.Context, params ListLinksParams) ([]Link, error)
	ListClicks(ctx context.Context, code string, limit int) ([]Click, error)

	// InTx runs fn against a transactional view of the store. Changes made
	// through that view are committed when fn returns nil and discarded
	// otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// TitleFetcher retrieves the page title of a URL.
type TitleFetcher interface {
	FetchTitle(ctx context.Context, url string) (string, error)
}

// TitleFetcherFunc adapts a function to TitleFetcher.
type TitleFetcherFunc func(ctx context.Context, url string) (string, error)

func (f TitleFetcherFunc) FetchTitle(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}
