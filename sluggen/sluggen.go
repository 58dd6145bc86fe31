// Package sluggen provides short code generation.
// Generators should be safe for concurrent use.
package sluggen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// MinLength and MaxLength bound the codes accepted by IsValid.
	MinLength = 3
	MaxLength = 64

	// DefaultRetries is the number of attempts Unique makes before giving up.
	DefaultRetries = 5
)

// ErrCodeSpaceExhausted is returned by Unique when every attempt produced a
// code that already exists.
var ErrCodeSpaceExhausted = errors.New("code space exhausted")

// Generator generates URL-safe codes.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

// ExistsFunc reports whether code is already assigned.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// base62Generator implements Generator using the base62 alphabet.
// It is safe for concurrent use.
type base62Generator struct{}

// NewBase62 returns a new base62 code generator.
func NewBase62() Generator {
	return &base62Generator{}
}

// Generate returns a random base62 string of the given length.
// Bytes at or above the largest multiple of 62 are rejected so every
// character is equally likely.
func (g *base62Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	const limit = 256 - (256 % len(base62Chars))

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+1)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, base62Chars[int(b)%len(base62Chars)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}

// Unique generates a code of the given length that exists reports as free.
// It makes at most retries attempts (DefaultRetries when retries <= 0) and
// returns ErrCodeSpaceExhausted when all of them collide. Errors from gen or
// exists are returned as is.
func Unique(ctx context.Context, gen Generator, length, retries int, exists ExistsFunc) (string, error) {
	if retries <= 0 {
		retries = DefaultRetries
	}

	for range retries {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := gen.Generate(length)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}

		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}

	return "", fmt.Errorf("%w: %d attempts collided", ErrCodeSpaceExhausted, retries)
}

// IsValid reports whether code has an acceptable length and only contains
// base62 characters. Path separators and punctuation are never valid.
func IsValid(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !isBase62(code[i]) {
			return false
		}
	}
	return true
}

func isBase62(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	default:
		return false
	}
}
