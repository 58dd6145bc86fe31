package shortener

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

// MaxURLLength bounds accepted URLs.
const MaxURLLength = 2048

// IsValidURL reports whether candidate is an absolute http or https URL with
// a syntactically valid host. It performs no I/O.
func IsValidURL(candidate string) bool {
	return validateURL(candidate) == nil
}

// canonicalURL trims surrounding whitespace. No other normalization is
// applied, so a resolved link redirects to exactly what was submitted.
func canonicalURL(raw string) string {
	return strings.TrimSpace(raw)
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("url too long (max %d characters)", MaxURLLength)
	}
	if strings.IndexFunc(rawURL, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return errors.New("url cannot contain whitespace or control characters")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must include scheme (http or https)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsedURL.Opaque != "" {
		return errors.New("url must be absolute")
	}
	if parsedURL.Host == "" {
		return errors.New("url must include host")
	}
	if err := validateHost(parsedURL.Hostname()); err != nil {
		return err
	}
	if port := parsedURL.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return errors.New("url port is invalid")
		}
	} else if strings.HasSuffix(parsedURL.Host, ":") {
		return errors.New("url port is invalid")
	}
	return nil
}

// validateHost accepts IP literals and DNS names made of LDH labels.
func validateHost(host string) error {
	if host == "" {
		return errors.New("url must include host")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return errors.New("url host too long")
	}

	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return errors.New("url host is malformed")
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return errors.New("url host is malformed")
		}
		for _, r := range label {
			if !isHostRune(r) {
				return errors.New("url host contains invalid characters")
			}
		}
	}
	return nil
}

func isHostRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	case r > unicode.MaxASCII:
		// internationalized labels; punycode conversion is left to the client
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	default:
		return false
	}
}
