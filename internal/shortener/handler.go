package shortener

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sundayezeilo/shortly/internal/errx"
	"github.com/sundayezeilo/shortly/internal/httpx"
)

// HTTPCreateLinkRequest represents the JSON request body for creating a link.
type HTTPCreateLinkRequest struct {
	URL   string  `json:"url" validate:"required,max=2048"`
	Title *string `json:"title,omitempty" validate:"omitempty,max=512"`
}

// LinkResponse represents a link in JSON responses.
type LinkResponse struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	BaseURL    string `json:"base_url"`
	ShortURL   string `json:"short_url"`
	CreatedBy  string `json:"created_by,omitempty"`
	VisitCount int64  `json:"visit_count"`
	CreatedAt  string `json:"created_at"`
}

// ClickResponse represents a click in JSON responses.
type ClickResponse struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Referer   string `json:"referer,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ListResponse wraps paged collections.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset,omitempty"`
}

func toLinkResponse(l Link) LinkResponse {
	return LinkResponse{
		ID:         l.ID.String(),
		Code:       l.Code,
		URL:        l.URL,
		Title:      l.Title,
		BaseURL:    l.BaseURL,
		ShortURL:   l.ShortURL(),
		CreatedBy:  l.CreatedBy,
		VisitCount: l.VisitCount,
		CreatedAt:  l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toClickResponse(c Click) ClickResponse {
	return ClickResponse{
		ID:        c.ID.String(),
		Code:      c.LinkCode,
		Referer:   c.Referer,
		UserAgent: c.UserAgent,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Handler provides HTTP handlers for the URL shortener service.
type Handler struct {
	service Service
	logger  *slog.Logger
	baseURL string
	homeURL string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
	BaseURL string // used when the request carries no usable Origin header
	HomeURL string // redirect target for unknown codes (default: "/")
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	homeURL := cfg.HomeURL
	if homeURL == "" {
		homeURL = "/"
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
		baseURL: cfg.BaseURL,
		homeURL: homeURL,
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

// CreateLink handles POST /api/links. It answers 201 for a new link and 200
// when the URL was already shortened.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[HTTPCreateLinkRequest](w, r)
	if err != nil {
		var verr *httpx.ValidationError
		if errors.As(err, &verr) {
			logger.WarnContext(ctx, "request validation failed", "error", err.Error())
			httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), verr.Fields)
			return
		}
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	link, created, err := h.service.CreateLink(ctx, CreateLinkRequest{
		URL:     req.URL,
		BaseURL: h.baseURLFor(r),
		Title:   req.Title,
		Caller:  Caller{UserID: httpx.UserID(ctx)},
	})
	if err != nil {
		h.writeError(ctx, w, logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	logger.InfoContext(ctx, "link shortened",
		"code", link.Code,
		"created", created,
	)

	httpx.WriteJSON(w, status, toLinkResponse(link))
}

// ListLinks handles GET /api/links. With mine=true only the caller's links
// are listed.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)
	q := r.URL.Query()

	limit, err := intParam(q, "limit")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	offset, err := intParam(q, "offset")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	params := ListLinksParams{Limit: limit, Offset: offset}
	if mine, _ := strconv.ParseBool(q.Get("mine")); mine {
		params.CreatedBy = httpx.UserID(ctx)
		if params.CreatedBy == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "mine=true requires an authenticated caller", nil)
			return
		}
	}

	links, err := h.service.ListLinks(ctx, params)
	if err != nil {
		h.writeError(ctx, w, logger, err)
		return
	}

	items := make([]LinkResponse, 0, len(links))
	for _, l := range links {
		items = append(items, toLinkResponse(l))
	}
	httpx.WriteJSON(w, http.StatusOK, ListResponse[LinkResponse]{
		Items:  items,
		Limit:  clampLimit(limit),
		Offset: offset,
	})
}

// GetLink handles GET /api/links/{code}.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	link, err := h.service.GetLink(ctx, r.PathValue("code"))
	if err != nil {
		h.writeError(ctx, w, h.requestLogger(r), err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toLinkResponse(link))
}

// ListClicks handles GET /api/links/{code}/clicks.
func (h *Handler) ListClicks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	clicks, err := h.service.ListClicks(ctx, r.PathValue("code"), limit)
	if err != nil {
		h.writeError(ctx, w, h.requestLogger(r), err)
		return
	}

	items := make([]ClickResponse, 0, len(clicks))
	for _, c := range clicks {
		items = append(items, toClickResponse(c))
	}
	httpx.WriteJSON(w, http.StatusOK, ListResponse[ClickResponse]{Items: items, Limit: clampLimit(limit)})
}

// Resolve handles GET /{code}: a known code redirects to its target and is
// counted as a visit, an unknown one redirects to the home URL.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.PathValue("code")

	res, err := h.service.ResolveCode(ctx, code, ClickMeta{
		Referer:   r.Referer(),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errx.KindOf(err) == errx.NotFound {
			h.logger.DebugContext(ctx, "unknown code", "code", code)
			http.Redirect(w, r, h.homeURL, http.StatusFound)
			return
		}
		h.writeError(ctx, w, h.requestLogger(r), err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.TargetURL, http.StatusFound)
}

// RedirectHome sends paths that can never be a short code to the home URL.
func (h *Handler) RedirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.homeURL, http.StatusFound)
}

// writeError maps err to a JSON error response by kind. Messages of
// server-side failures are not echoed to the client.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := errx.KindOf(err)
	status := httpx.ErrorKindToStatus(kind)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	var (
		message = err.Error()
		details any
	)
	switch kind {
	case errx.NotFound:
		message = "short link doesn't exist"
	case errx.Upstream:
		message = "could not fetch the page title"
		details = map[string]string{"hint": "retry later or supply a title in the request"}
	case errx.Unauthorized:
		message = "authentication required"
	case errx.Unavailable:
		message = "service temporarily unavailable, please try again"
	default:
		if httpx.ServerSide(kind) {
			message = "an unexpected error occurred"
		}
	}

	if httpx.ServerSide(kind) {
		logger.ErrorContext(ctx, "request failed", logAttrs...)
	} else {
		logger.WarnContext(ctx, "request rejected", logAttrs...)
	}

	if errx.Transient(err) {
		w.Header().Set("Retry-After", "1")
	}
	httpx.WriteError(w, status, httpx.ErrorKindToCode(kind), message, details)
}

// baseURLFor returns the origin the request was made from when the Origin
// header is a usable http(s) origin, and the configured base URL otherwise.
func (h *Handler) baseURLFor(r *http.Request) string {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return h.baseURL
	}

	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return h.baseURL
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.User != nil {
		return h.baseURL
	}
	return u.Scheme + "://" + u.Host
}

func intParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
