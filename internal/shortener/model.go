package shortener

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Link maps a short code to its destination URL.
type Link struct {
	ID         uuid.UUID
	Code       string
	URL        string
	Title      string
	BaseURL    string // origin the short link is served under
	CreatedBy  string // user id of the creator, empty when auth is disabled
	VisitCount int64
	CreatedAt  time.Time
}

// ShortURL returns the public short link for l.
func (l Link) ShortURL() string {
	return strings.TrimRight(l.BaseURL, "/") + "/" + l.Code
}

// Click is one successful resolution of a code. Clicks are append-only.
type Click struct {
	ID        uuid.UUID
	LinkCode  string
	Referer   string
	UserAgent string
	CreatedAt time.Time
}

// ClickMeta carries visitor details recorded with a click.
type ClickMeta struct {
	Referer   string
	UserAgent string
}

// Caller identifies who is invoking the service. UserID is injected by the
// authentication middleware and is empty for anonymous callers.
type Caller struct {
	UserID string
}

// Resolution is the outcome of resolving a code.
type Resolution struct {
	Code      string
	TargetURL string
}

// ListLinksParams filters and pages ListLinks.
type ListLinksParams struct {
	CreatedBy string // empty lists every link
	Limit     int
	Offset    int
}
