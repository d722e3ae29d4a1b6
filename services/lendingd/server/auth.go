package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"moneymarket/crypto"
	"moneymarket/observability/logging"
)

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	AdminScope string
	ClockSkew  time.Duration
}

// Principal is the authenticated caller of a request. Sender is the token
// subject and acts as the caller of every protocol operation.
type Principal struct {
	Sender crypto.Address
	Scopes []string
}

// HasScope reports whether scope was granted to p.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey string

const principalKey contextKey = "lendingd.principal"

// PrincipalFrom returns the principal installed by the authenticator.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	parser *jwt.Parser
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
		logger: logger,
	}
}

// Middleware rejects requests without a valid token carrying every
// required scope.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, body("authentication", "MissingToken", "missing bearer token"))
				return
			}
			principal, err := a.Authenticate(tokenString)
			if err != nil {
				a.logger.Debug("token rejected",
					"error", err,
					"request_id", RequestID(r.Context()),
					logging.MaskField("authorization", tokenString))
				writeError(w, http.StatusUnauthorized, body("authentication", "InvalidToken", "invalid token"))
				return
			}
			for _, scope := range requiredScopes {
				if !principal.HasScope(scope) {
					writeError(w, http.StatusForbidden, body("authorization", "InsufficientScope", "insufficient scope"))
					return
				}
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate parses tokenString and resolves its principal.
func (a *Authenticator) Authenticate(tokenString string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, errors.New("auth secret not configured")
	}
	claims := jwt.MapClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, errors.New("token invalid")
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return Principal{}, err
	}
	sender, err := crypto.DecodeAddress(strings.TrimSpace(subject))
	if err != nil {
		return Principal{}, errors.New("subject is not an account address")
	}
	return Principal{Sender: sender, Scopes: extractScopes(claims, a.cfg.ScopeClaim)}, nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
