package shortener

import "errors"

// Sentinel errors. They are always wrapped in an *errx.Error carrying the
// matching kind, so callers may use either errors.Is or errx.KindOf.
var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrTitleFetchFailed = errors.New("title fetch failed")
	ErrDuplicateURL     = errors.New("url already shortened")
	ErrDuplicateCode    = errors.New("code already assigned")
	ErrNotFound         = errors.New("short link not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)
