// Package auth authenticates API callers with HS256 bearer JWTs issued by
// the platform's identity service. The subject claim carries the user ID.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/common/logging"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims this service reads. UserID is accepted as a
// fallback for tokens that do not set sub.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Subject returns the authenticated user ID.
func (c *Claims) Subject() string {
	if c.RegisteredClaims.Subject != "" {
		return c.RegisteredClaims.Subject
	}
	return c.UserID
}

// DefaultLeeway absorbs clock skew between this service and the issuer.
const DefaultLeeway = 30 * time.Second

// Auth validates bearer tokens.
type Auth struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option configures Auth.
type Option func(*Auth)

// WithIssuer requires tokens to carry iss.
func WithIssuer(issuer string) Option {
	return func(a *Auth) { a.issuer = issuer }
}

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(a *Auth) { a.leeway = d }
}

// New creates an authenticator for tokens signed with secret.
func New(secret string, opts ...Option) (*Auth, error) {
	if len(secret) < 32 {
		return nil, errors.ConfigError("JWT secret must be at least 32 characters long")
	}
	a := &Auth{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// GenerateJWT signs a token for userID valid for ttl. The identity service
// normally issues tokens; this serves tooling and tests.
func (a *Auth) GenerateJWT(userID, username string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT parses and verifies tokenString.
func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errors.AuthError("invalid token")
	}
	if claims.Subject() == "" {
		return nil, errors.AuthError("token has no subject")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// user ID in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
			unauthorized(w, "Authentication required")
			return
		}

		claims, err := a.ValidateJWT(strings.TrimSpace(header[7:]))
		if err != nil {
			logging.WithContext(r.Context()).Debug("Rejected bearer token", logging.Err(err))
			unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := logging.ContextWithUserID(r.Context(), claims.Subject())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user ID stored by RequireAuth.
func UserID(ctx context.Context) (string, bool) {
	return logging.UserIDFromContext(ctx)
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="area-connect"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
