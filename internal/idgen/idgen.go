// Package idgen produces the UUIDs that identify links and clicks.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator generates unique identifiers.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate() (uuid.UUID, error)
}

// Func adapts a function to Generator.
type Func func() (uuid.UUID, error)

func (f Func) Generate() (uuid.UUID, error) { return f() }

// Version selects a UUID variant.
type Version uint8

const (
	V4 Version = 4
	V7 Version = 7
)

// ParseVersion maps "v4"/"4" and "v7"/"7" to a Version. The empty string
// selects V7.
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "v7", "7":
		return V7, nil
	case "v4", "4":
		return V4, nil
	default:
		return 0, fmt.Errorf("unsupported uuid version %q (want v4 or v7)", s)
	}
}

func (v Version) String() string { return fmt.Sprintf("v%d", uint8(v)) }

/***************
 * UUID v4
 ***************/

// NewV4 returns a Generator that produces random UUID v4 values.
func NewV4() Generator {
	return Func(func() (uuid.UUID, error) { return uuid.NewRandom() })
}

/***************
 * UUID v7
 ***************/

type v7Gen struct {
	retries int
}

type V7Option func(*v7Gen)

// WithRetries sets how many extra attempts follow a failed uuid.NewV7 call.
// Defaults to 1. Negative values are ignored.
func WithRetries(n int) V7Option {
	return func(g *v7Gen) {
		if n >= 0 {
			g.retries = n
		}
	}
}

// NewV7 returns a Generator that produces time-ordered UUID v7 values.
func NewV7(opts ...V7Option) Generator {
	g := &v7Gen{retries: 1}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *v7Gen) Generate() (uuid.UUID, error) {
	var last error
	for range g.retries + 1 {
		id, err := uuid.NewV7()
		if err == nil {
			return id, nil
		}
		last = err
	}
	return uuid.Nil, fmt.Errorf("uuid v7 generation failed after %d attempts: %w", g.retries+1, last)
}

// New returns a Generator for v. Unknown versions fall back to V7.
func New(v Version, v7opts ...V7Option) Generator {
	if v == V4 {
		return NewV4()
	}
	return NewV7(v7opts...)
}
