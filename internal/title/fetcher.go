// Package title fetches the HTML title of web pages.
package title

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultMaxBodyBytes = 512 << 10
	DefaultUserAgent    = "shortly-title-fetcher/1.0"

	// MaxTitleLength bounds stored titles, in runes.
	MaxTitleLength = 512

	maxRedirects = 5
)

// Config configures a Fetcher.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	Client       *http.Client // overrides Timeout when set
}

// Fetcher retrieves page titles over HTTP.
type Fetcher struct {
	client    *http.Client
	maxBody   int64
	userAgent string
}

// New returns a Fetcher with defaults applied to unset fields.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		}
	}

	return &Fetcher{client: client, maxBody: maxBody, userAgent: userAgent}
}

// FetchTitle GETs rawURL and returns the text of its first <title> element.
// A page that is not HTML or has no title yields "" and no error. Transport
// failures and non-2xx responses are errors.
func (f *Fetcher) FetchTitle(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return "", nil
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBody), contentType)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}

	return Extract(body)
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Extract returns the normalized text of the first <title> element in r.
// Titles inside inline <svg> documents are ignored.
func Extract(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	svgDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return "", nil
			}
			return "", z.Err()

		case html.StartTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Svg:
				svgDepth++
			case atom.Title:
				if svgDepth == 0 {
					return readTitle(z)
				}
			case atom.Body:
				// a <title> after <body> starts is not the document title
				if svgDepth == 0 {
					return "", nil
				}
			}

		case html.EndTagToken:
			if tok := z.Token(); tok.DataAtom == atom.Svg && svgDepth > 0 {
				svgDepth--
			}
		}
	}
}

func readTitle(z *html.Tokenizer) (string, error) {
	var b strings.Builder
	for {
		switch z.Next() {
		case html.TextToken:
			b.Write(z.Text())
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return "", z.Err()
			}
			return normalize(b.String()), nil
		default:
			return normalize(b.String()), nil
		}
	}
}

// normalize collapses whitespace runs and truncates to MaxTitleLength runes.
func normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= MaxTitleLength {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:MaxTitleLength]))
}
