package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/shortener"
)

// Both drivers report constraint failures only through the message text,
// e.g. "constraint failed: UNIQUE constraint failed: links.url (2067)".
const (
	uniqueFailed     = "UNIQUE constraint failed"
	foreignKeyFailed = "FOREIGN KEY constraint failed"
)

func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errx.E(op, errx.NotFound, fmt.Errorf("%w: %w", shortener.ErrNotFound, err))
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, uniqueFailed+": links.url"):
		return errx.E(op, errx.Conflict, fmt.Errorf("%w: %w", shortener.ErrDuplicateURL, err))
	case strings.Contains(msg, uniqueFailed+": links.code"):
		return errx.E(op, errx.Conflict, fmt.Errorf("%w: %w", shortener.ErrDuplicateCode, err))
	case strings.Contains(msg, uniqueFailed):
		return errx.E(op, errx.Conflict, err)
	case strings.Contains(msg, foreignKeyFailed):
		return errx.E(op, errx.NotFound, fmt.Errorf("%w: %w", shortener.ErrNotFound, err))
	}

	return errx.E(op, errx.Unavailable, fmt.Errorf("%w: %w", shortener.ErrStoreUnavailable, err))
}
