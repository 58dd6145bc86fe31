// Package cache puts a Redis read-through cache in front of a
// shortener.Store for code lookups.
//
// Entries are hashes under "link:code:<code>". Misses are remembered with a
// short-lived marker entry so repeated probes for unknown codes do not reach
// the backend. Redis failures are logged and the backend answers instead.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/shortener"
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultNegativeTTL = 30 * time.Second

	keyPrefix   = "link:code:"
	missingFlag = "missing"
)

// raiseVisitsScript sets visit_count to ARGV[1] only when it grows, so increments
// applied out of order never move the cached counter backwards.
var raiseVisitsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('HEXISTS', KEYS[1], 'missing') == 1 then return 0 end
local current = tonumber(redis.call('HGET', KEYS[1], 'visit_count') or '0')
local incoming = tonumber(ARGV[1])
if incoming > current then
  redis.call('HSET', KEYS[1], 'visit_count', ARGV[1])
  return 1
end
return 0
`)

// fillScript caches a link read from the backend. A key that already holds a
// link keeps its fields and only takes the larger visit_count, so a slow
// reader can never lower a count another request already raised. An absent
// key or a cached miss is replaced by the full entry.
//
// ARGV[1] is the TTL in milliseconds, ARGV[2] the visit count, and the rest
// are field/value pairs.
var fillScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'visit_count')
if current and redis.call('HEXISTS', KEYS[1], 'missing') == 0 then
  if tonumber(ARGV[2]) > (tonumber(current) or -1) then
    redis.call('HSET', KEYS[1], 'visit_count', ARGV[2])
  end
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

// Config configures a Store.
type Config struct {
	TTL         time.Duration // lifetime of a cached link (default: 10m)
	NegativeTTL time.Duration // lifetime of a cached miss (default: 30s)
	Logger      *slog.Logger
}

// Store decorates a backend shortener.Store with a Redis cache.
type Store struct {
	next   shortener.Store
	rdb    redis.UniversalClient
	ttl    time.Duration
	negTTL time.Duration
	logger *slog.Logger
}

var _ shortener.Store = (*Store)(nil)

// New wraps next with a cache on rdb.
func New(next shortener.Store, rdb redis.UniversalClient, cfg Config) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	negTTL := cfg.NegativeTTL
	if negTTL <= 0 {
		negTTL = DefaultNegativeTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		negTTL: negTTL,
		logger: logger.With("component", "link_cache"),
	}
}

func key(code string) string { return keyPrefix + code }

// Ping checks the backend. An unreachable cache only degrades latency, so it
// is not reported here.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.next.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// FindByCode serves code from the cache when possible and fills the cache
// from the backend otherwise.
func (s *Store) FindByCode(ctx context.Context, code string) (shortener.Link, error) {
	const op = "cache.Store.FindByCode"

	fields, err := s.rdb.HGetAll(ctx, key(code)).Result()
	switch {
	case err != nil:
		s.degraded(ctx, "read", code, err)
	case len(fields) == 0:
		// miss
	case fields[missingFlag] != "":
		return shortener.Link{}, errx.E(op, errx.NotFound, fmt.Errorf("%w: %q (cached)", shortener.ErrNotFound, code))
	default:
		link, err := decode(fields)
		if err == nil {
			return link, nil
		}
		s.degraded(ctx, "decode", code, err)
		if err := s.rdb.Del(ctx, key(code)).Err(); err != nil {
			s.degraded(ctx, "evict", code, err)
		}
	}

	link, err := s.next.FindByCode(ctx, code)
	if err != nil {
		if errx.KindOf(err) == errx.NotFound {
			s.storeMissing(ctx, code)
		}
		return shortener.Link{}, err
	}

	s.storeLink(ctx, link)
	return link, nil
}

func (s *Store) FindByURL(ctx context.Context, url string) (shortener.Link, error) {
	return s.next.FindByURL(ctx, url)
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	return s.next.CodeExists(ctx, code)
}

// Insert writes through so the new code replaces any cached miss.
func (s *Store) Insert(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	created, err := s.next.Insert(ctx, link)
	if err != nil {
		return shortener.Link{}, err
	}
	s.storeLink(ctx, created)
	return created, nil
}

func (s *Store) IncrementVisit(ctx context.Context, code string) (int64, error) {
	count, err := s.next.IncrementVisit(ctx, code)
	if err != nil {
		return 0, err
	}
	s.raiseVisits(ctx, code, count)
	return count, nil
}

func (s *Store) AppendClick(ctx context.Context, click shortener.Click) (shortener.Click, error) {
	return s.next.AppendClick(ctx, click)
}

func (s *Store) ListLinks(ctx context.Context, params shortener.ListLinksParams) ([]shortener.Link, error) {
	return s.next.ListLinks(ctx, params)
}

func (s *Store) ListClicks(ctx context.Context, code string, limit int) ([]shortener.Click, error) {
	return s.next.ListClicks(ctx, code, limit)
}

// InTx runs fn in a backend transaction. Cache updates for writes made
// inside it are applied only after it commits.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx shortener.Store) error) error {
	var pending []func(context.Context)

	err := s.next.InTx(ctx, func(ctx context.Context, tx shortener.Store) error {
		return fn(ctx, &cachedTx{Store: tx, cache: s, pending: &pending})
	})
	if err != nil {
		return err
	}

	for _, apply := range pending {
		apply(ctx)
	}
	return nil
}

// cachedTx is the transactional view handed to InTx callbacks. It defers
// cache writes until the enclosing transaction commits.
type cachedTx struct {
	shortener.Store
	cache   *Store
	pending *[]func(context.Context)
}

func (t *cachedTx) Insert(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	created, err := t.Store.Insert(ctx, link)
	if err != nil {
		return shortener.Link{}, err
	}
	*t.pending = append(*t.pending, func(ctx context.Context) { t.cache.storeLink(ctx, created) })
	return created, nil
}

func (t *cachedTx) IncrementVisit(ctx context.Context, code string) (int64, error) {
	count, err := t.Store.IncrementVisit(ctx, code)
	if err != nil {
		return 0, err
	}
	*t.pending = append(*t.pending, func(ctx context.Context) { t.cache.raiseVisits(ctx, code, count) })
	return count, nil
}

func (t *cachedTx) InTx(ctx context.Context, fn func(ctx context.Context, tx shortener.Store) error) error {
	return t.Store.InTx(ctx, func(ctx context.Context, inner shortener.Store) error {
		return fn(ctx, &cachedTx{Store: inner, cache: t.cache, pending: t.pending})
	})
}

func (s *Store) storeLink(ctx context.Context, link shortener.Link) {
	args := append([]any{s.ttl.Milliseconds(), link.VisitCount}, encode(link)...)
	if err := fillScript.Run(ctx, s.rdb, []string{key(link.Code)}, args...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		s.degraded(ctx, "write", link.Code, err)
	}
}

func (s *Store) storeMissing(ctx context.Context, code string) {
	k := key(code)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, missingFlag, "1")
		pipe.Expire(ctx, k, s.negTTL)
		return nil
	})
	if err != nil {
		s.degraded(ctx, "write_missing", code, err)
	}
}

func (s *Store) raiseVisits(ctx context.Context, code string, count int64) {
	if err := raiseVisitsScript.Run(ctx, s.rdb, []string{key(code)}, count).Err(); err != nil && !errors.Is(err, redis.Nil) {
		s.degraded(ctx, "raise_visits", code, err)
	}
}

func (s *Store) degraded(ctx context.Context, action, code string, err error) {
	s.logger.WarnContext(ctx, "link cache degraded",
		"action", action,
		"code", code,
		"error", err,
	)
}

// encode flattens l into hash field/value pairs.
func encode(l shortener.Link) []any {
	return []any{
		"id", l.ID.String(),
		"code", l.Code,
		"url", l.URL,
		"title", l.Title,
		"base_url", l.BaseURL,
		"created_by", l.CreatedBy,
		"visit_count", strconv.FormatInt(l.VisitCount, 10),
		"created_at", l.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decode(fields map[string]string) (shortener.Link, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return shortener.Link{}, fmt.Errorf("id: %w", err)
	}
	visits, err := strconv.ParseInt(fields["visit_count"], 10, 64)
	if err != nil {
		return shortener.Link{}, fmt.Errorf("visit_count: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return shortener.Link{}, fmt.Errorf("created_at: %w", err)
	}
	if fields["code"] == "" || fields["url"] == "" {
		return shortener.Link{}, errors.New("incomplete entry")
	}

	return shortener.Link{
		ID:         id,
		Code:       fields["code"],
		URL:        fields["url"],
		Title:      fields["title"],
		BaseURL:    fields["base_url"],
		CreatedBy:  fields["created_by"],
		VisitCount: visits,
		CreatedAt:  createdAt,
	}, nil
}
