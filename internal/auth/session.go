package auth

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/opsboard/opsboard-backend/pkg/config"
	"github.com/opsboard/opsboard-backend/pkg/errors"
)

// Claims is the session payload carried in the cookie. The server recovers
// the full (user, tenant) pair from it on every request.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	TenantID   string `json:"tenant_id"`
	TenantSlug string `json:"tenant_slug"`
}

// Sessions issues and verifies session cookies. Tokens are HS256-signed;
// the secret comes from OPSBOARD_SESSION_SECRET.
type Sessions struct {
	config      *config.SessionConfig
	environment string
}

// NewSessions creates a session manager
func NewSessions(cfg *config.SessionConfig, environment string) *Sessions {
	return &Sessions{config: cfg, environment: environment}
}

// SessionUser contains the identity baked into a session token.
type SessionUser struct {
	ID         string
	Email      string
	Name       string
	TenantID   string
	TenantSlug string
}

// Issue creates a signed session token for the user.
func (s *Sessions) Issue(user *SessionUser) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.MaxAge)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			Issuer:    "opsboard",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		TenantID:   user.TenantID,
		TenantSlug: user.TenantSlug,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// Verify parses and validates a session token.
func (s *Sessions) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.TokenInvalid()
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired()
		}
		return nil, errors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.TokenInvalid()
	}

	return claims, nil
}

// SetCookie writes the session cookie. HttpOnly + SameSite=Lax always;
// Secure outside development.
func (s *Sessions) SetCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.environment == config.EnvProduction || s.environment == config.EnvStaging,
	})
}

// ClearCookie expires the session cookie.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest extracts the session token from the cookie, falling back
// to a bearer header for non-browser clients.
func (s *Sessions) TokenFromRequest(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(s.config.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	const bearerPrefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) > len(bearerPrefix) && authz[:len(bearerPrefix)] == bearerPrefix {
		return authz[len(bearerPrefix):], nil
	}

	return "", errors.Unauthorized("authentication required")
}
