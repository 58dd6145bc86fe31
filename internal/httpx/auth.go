package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const userIDContextKey contextKey = "user_id"

// UserID returns the authenticated user id stored on ctx, or "" for
// anonymous requests.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDContextKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID stores an authenticated user id on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// AuthConfig configures Authenticate.
type AuthConfig struct {
	Secret   []byte // HMAC key for HS256 tokens
	Issuer   string // required "iss" claim when non-empty
	Required bool   // reject requests without a bearer token
	Logger   *slog.Logger
}

var (
	errMissingToken = errors.New("missing bearer token")
	errNoSubject    = errors.New("token has no subject")
)

// Authenticate verifies "Authorization: Bearer <jwt>" headers and stores the
// token subject as the user id. Tokens must be HS256, unexpired, and carry a
// subject. Requests without a token pass through anonymously unless
// cfg.Required is set; a token that is present but invalid is always
// rejected.
func Authenticate(cfg AuthConfig) Middleware {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	keyFunc := func(*jwt.Token) (any, error) { return cfg.Secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if errors.Is(err, errMissingToken) && !cfg.Required {
				next.ServeHTTP(w, r)
				return
			}

			if err == nil {
				claims := &jwt.RegisteredClaims{}
				if _, err = parser.ParseWithClaims(raw, claims, keyFunc); err == nil && claims.Subject == "" {
					err = errNoSubject
				}
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.Subject)))
					return
				}
			}

			logger.WarnContext(r.Context(), "authentication failed",
				"request_id", GetRequestID(r.Context()),
				"path", r.URL.Path,
				"error", err.Error(),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="shortly"`)
			WriteError(w, http.StatusUnauthorized, "unauthorized", "a valid bearer token is required", nil)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("malformed authorization header")
	}
	return strings.TrimSpace(token), nil
}
