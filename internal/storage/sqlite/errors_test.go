package sqlite

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/shortener"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind errx.Kind
		wantIs   error
	}{
		{"no rows", sql.ErrNoRows, errx.NotFound, shortener.ErrNotFound},
		{"duplicate url", errors.New("constraint failed: UNIQUE constraint failed: links.url (2067)"), errx.Conflict, shortener.ErrDuplicateURL},
		{"duplicate code", errors.New("UNIQUE constraint failed: links.code"), errx.Conflict, shortener.ErrDuplicateCode},
		{"other unique", errors.New("UNIQUE constraint failed: clicks.id"), errx.Conflict, nil},
		{"foreign key", errors.New("FOREIGN KEY constraint failed"), errx.NotFound, shortener.ErrNotFound},
		{"locked", errors.New("database is locked (5) (SQLITE_BUSY)"), errx.Unavailable, shortener.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError("test.op", tt.err)
			if kind := errx.KindOf(got); kind != tt.wantKind {
				t.Errorf("KindOf() = %v, want %v", kind, tt.wantKind)
			}
			if tt.wantIs != nil && !errors.Is(got, tt.wantIs) {
				t.Errorf("errors.Is(%v, %v) = false", got, tt.wantIs)
			}
		})
	}
}
