package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/idgen"
	"github.com/sundayezeilo/shortly/sluggen"
)

const (
	DefaultCodeLength     = 7
	MinCodeLength         = 5
	MaxCodeLength         = 16
	DefaultCodeMaxRetries = sluggen.DefaultRetries
	DefaultTitleTimeout   = 5 * time.Second
	DefaultCreateTimeout  = 15 * time.Second
	DefaultListLimit      = 50
	MaxListLimit          = 200
)

// CreateLinkRequest represents the parameters for creating a new link.
type CreateLinkRequest struct {
	URL     string
	BaseURL string // falls back to ServiceConfig.BaseURL when empty

	// Title, when non-nil, is used instead of fetching the page title. Callers
	// set it after a TitleFetchFailed error to proceed with a fallback.
	Title *string

	Caller Caller
}

// Service defines the link creation and resolution operations.
type Service interface {
	CreateLink(ctx context.Context, req CreateLinkRequest) (link Link, created bool, err error)
	ResolveCode(ctx context.Context, code string, meta ClickMeta) (Resolution, error)
	GetLink(ctx context.Context, code string) (Link, error)
	ListLinks(ctx context.Context, params ListLinksParams) ([]Link, error)
	ListClicks(ctx context.Context, code string, limit int) ([]Click, error)
}

// service implements the Service interface.
type service struct {
	store          Store
	titles         TitleFetcher
	recorder       *Recorder
	codes          sluggen.Generator
	ids            idgen.Generator
	logger         *slog.Logger
	now            func() time.Time
	baseURL        string
	codeLength     int
	codeMaxRetries int
	titleTimeout   time.Duration
	createTimeout  time.Duration
	requireCaller  bool

	inflight singleflight.Group
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	CodeGenerator  sluggen.Generator
	IDGenerator    idgen.Generator
	Logger         *slog.Logger
	BaseURL        string
	CodeLength     int
	CodeMaxRetries int           // code generation attempts per create (default: 5)
	TitleTimeout   time.Duration // bound on a single title fetch (default: 5s)
	CreateTimeout  time.Duration // bound on a whole create, detached from the caller (default: 15s)
	RequireCaller  bool          // reject creates without an authenticated user id

	now func() time.Time
}

// NewService creates a new service instance. A nil titles fetcher leaves
// every new link untitled.
func NewService(store Store, titles TitleFetcher, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	if titles == nil {
		titles = TitleFetcherFunc(func(context.Context, string) (string, error) { return "", nil })
	}

	codes := config.CodeGenerator
	if codes == nil {
		codes = sluggen.NewBase62()
	}

	ids := config.IDGenerator
	if ids == nil {
		ids = idgen.NewV7()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := config.now
	if now == nil {
		now = time.Now
	}

	codeLength := config.CodeLength
	if codeLength < MinCodeLength || codeLength > MaxCodeLength {
		codeLength = DefaultCodeLength
	}

	retries := config.CodeMaxRetries
	if retries <= 0 {
		retries = DefaultCodeMaxRetries
	}

	titleTimeout := config.TitleTimeout
	if titleTimeout <= 0 {
		titleTimeout = DefaultTitleTimeout
	}

	createTimeout := config.CreateTimeout
	if createTimeout <= 0 {
		createTimeout = DefaultCreateTimeout
	}

	recorder := NewRecorder(store, ids)
	recorder.now = now

	return &service{
		store:          store,
		titles:         titles,
		recorder:       recorder,
		codes:          codes,
		ids:            ids,
		logger:         logger,
		now:            now,
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		codeLength:     codeLength,
		codeMaxRetries: retries,
		titleTimeout:   titleTimeout,
		createTimeout:  createTimeout,
		requireCaller:  config.RequireCaller,
	}
}

// CreateLink shortens req.URL. Submitting a URL that is already shortened
// returns the existing link with created false. Concurrent submissions of
// one URL are coalesced in-process and settled by the store's uniqueness
// constraint across processes. The work runs detached from ctx cancellation
// under its own deadline, so an abandoned request never leaves a partial
// record.
func (s *service) CreateLink(ctx context.Context, req CreateLinkRequest) (Link, bool, error) {
	const op = "shortener.service.CreateLink"

	rawURL := canonicalURL(req.URL)
	if err := validateURL(rawURL); err != nil {
		return Link{}, false, errx.E(op, errx.Invalid, fmt.Errorf("%w: %w", ErrInvalidURL, err))
	}

	if s.requireCaller && req.Caller.UserID == "" {
		return Link{}, false, errx.E(op, errx.Unauthorized, errors.New("authenticated caller required"))
	}

	baseURL := strings.TrimRight(req.BaseURL, "/")
	if baseURL == "" {
		baseURL = s.baseURL
	}
	if baseURL == "" {
		return Link{}, false, errx.E(op, errx.Invalid, errors.New("base url cannot be empty"))
	}
	req.BaseURL = baseURL

	run := func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.createTimeout)
		defer cancel()
		return s.create(cctx, rawURL, req)
	}

	// A caller-supplied title must not be answered with another caller's
	// title fetch failure, so only fetching creates share a flight.
	var ch <-chan singleflight.Result
	if req.Title == nil {
		ch = s.inflight.DoChan(rawURL, run)
	} else {
		c := make(chan singleflight.Result, 1)
		go func() {
			v, err := run()
			c <- singleflight.Result{Val: v, Err: err}
		}()
		ch = c
	}

	select {
	case <-ctx.Done():
		return Link{}, false, errx.E(op, errx.Unavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Link{}, false, errx.E(op, errx.KindOf(res.Err), res.Err)
		}
		out := res.Val.(createOutcome)
		return out.link, out.created, nil
	}
}

// createOutcome is the shared outcome of a create flight. Callers coalesced into
// the flight that inserted the link all observe created as true.
type createOutcome struct {
	link    Link
	created bool
}

func (s *service) create(ctx context.Context, rawURL string, req CreateLinkRequest) (createOutcome, error) {
	const op = "shortener.service.create"

	existing, err := s.store.FindByURL(ctx, rawURL)
	if err == nil {
		s.logger.DebugContext(ctx, "dedupe hit", "code", existing.Code)
		return createOutcome{link: existing}, nil
	}
	if errx.KindOf(err) != errx.NotFound {
		return createOutcome{}, errx.E(op, errx.KindOf(err), err)
	}

	title, err := s.resolveTitle(ctx, rawURL, req.Title)
	if err != nil {
		return createOutcome{}, err
	}

	for attempt := 1; attempt <= s.codeMaxRetries; attempt++ {
		code, err := sluggen.Unique(ctx, s.codes, s.codeLength, s.codeMaxRetries, s.store.CodeExists)
		if err != nil {
			if errors.Is(err, sluggen.ErrCodeSpaceExhausted) {
				return createOutcome{}, errx.E(op, errx.Internal, err)
			}
			return createOutcome{}, errx.E(op, errx.KindOf(err), err)
		}

		id, err := s.ids.Generate()
		if err != nil {
			return createOutcome{}, errx.E(op, errx.Internal, fmt.Errorf("link id: %w", err))
		}

		inserted, err := s.store.Insert(ctx, Link{
			ID:        id,
			Code:      code,
			URL:       rawURL,
			Title:     title,
			BaseURL:   req.BaseURL,
			CreatedBy: req.Caller.UserID,
			CreatedAt: s.now().UTC(),
		})
		switch {
		case err == nil:
			s.logger.InfoContext(ctx, "link created", "code", inserted.Code, "created_by", inserted.CreatedBy)
			return createOutcome{link: inserted, created: true}, nil

		case errors.Is(err, ErrDuplicateURL):
			// Another request won the race for this URL; hand back its record.
			winner, ferr := s.store.FindByURL(ctx, rawURL)
			if ferr != nil {
				return createOutcome{}, errx.E(op, errx.KindOf(ferr), ferr)
			}
			s.logger.DebugContext(ctx, "dedupe race recovered", "code", winner.Code)
			return createOutcome{link: winner}, nil

		case errors.Is(err, ErrDuplicateCode):
			s.logger.DebugContext(ctx, "code collision on insert", "code", code, "attempt", attempt)
			continue

		default:
			return createOutcome{}, errx.E(op, errx.KindOf(err), err)
		}
	}

	return createOutcome{}, errx.E(op, errx.Internal,
		fmt.Errorf("%w: insert collided %d times", sluggen.ErrCodeSpaceExhausted, s.codeMaxRetries))
}

func (s *service) resolveTitle(ctx context.Context, rawURL string, fallback *string) (string, error) {
	const op = "shortener.service.resolveTitle"

	if fallback != nil {
		return strings.TrimSpace(*fallback), nil
	}

	tctx, cancel := context.WithTimeout(ctx, s.titleTimeout)
	defer cancel()

	title, err := s.titles.FetchTitle(tctx, rawURL)
	if err != nil {
		s.logger.WarnContext(ctx, "title fetch failed", "url", rawURL, "error", err.Error())
		return "", errx.E(op, errx.Upstream, fmt.Errorf("%w: %w", ErrTitleFetchFailed, err))
	}
	return strings.TrimSpace(title), nil
}

// ResolveCode returns the target of code and records the visit. The target
// is read before the visit is counted.
func (s *service) ResolveCode(ctx context.Context, code string, meta ClickMeta) (Resolution, error) {
	const op = "shortener.service.ResolveCode"

	link, err := s.lookup(ctx, code)
	if err != nil {
		return Resolution{}, errx.E(op, errx.KindOf(err), err)
	}

	if _, err := s.recorder.RecordClick(ctx, link.Code, meta); err != nil {
		return Resolution{}, errx.E(op, errx.KindOf(err), err)
	}

	return Resolution{Code: link.Code, TargetURL: link.URL}, nil
}

func (s *service) GetLink(ctx context.Context, code string) (Link, error) {
	const op = "shortener.service.GetLink"

	link, err := s.lookup(ctx, code)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

func (s *service) ListLinks(ctx context.Context, params ListLinksParams) ([]Link, error) {
	const op = "shortener.service.ListLinks"

	if params.Offset < 0 {
		return nil, errx.E(op, errx.Invalid, errors.New("offset cannot be negative"))
	}
	params.Limit = clampLimit(params.Limit)

	links, err := s.store.ListLinks(ctx, params)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return links, nil
}

func (s *service) ListClicks(ctx context.Context, code string, limit int) ([]Click, error) {
	const op = "shortener.service.ListClicks"

	if _, err := s.lookup(ctx, code); err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}

	clicks, err := s.store.ListClicks(ctx, code, clampLimit(limit))
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return clicks, nil
}

// lookup finds code, treating malformed codes as missing without touching
// the store.
func (s *service) lookup(ctx context.Context, code string) (Link, error) {
	const op = "shortener.service.lookup"

	if !sluggen.IsValid(code) {
		return Link{}, errx.E(op, errx.NotFound, fmt.Errorf("%w: %q", ErrNotFound, code))
	}

	link, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
