package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/shortener"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	constraintURLUnique  = "links_url_unique"
	constraintCodeUnique = "links_code_unique"
)

func constraintViolation(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return "", false
	}
	return pgErr.ConstraintName, true
}

func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errx.E(op, errx.NotFound, fmt.Errorf("%w: %w", shortener.ErrNotFound, err))
	}

	if name, ok := constraintViolation(err, uniqueViolation); ok {
		switch name {
		case constraintURLUnique:
			return errx.E(op, errx.Conflict, fmt.Errorf("%w: %w", shortener.ErrDuplicateURL, err))
		case constraintCodeUnique:
			return errx.E(op, errx.Conflict, fmt.Errorf("%w: %w", shortener.ErrDuplicateCode, err))
		}
		return errx.E(op, errx.Conflict, err)
	}

	if _, ok := constraintViolation(err, foreignKeyViolation); ok {
		return errx.E(op, errx.NotFound, fmt.Errorf("%w: %w", shortener.ErrNotFound, err))
	}

	return errx.E(op, errx.Unavailable, fmt.Errorf("%w: %w", shortener.ErrStoreUnavailable, err))
}
