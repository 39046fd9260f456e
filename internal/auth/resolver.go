package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSigningSecret = errors.New("identity resolver: signing secret required")
	ErrMissingIdentity      = errors.New("identity resolver: user identity required")
	ErrInvalidToken         = errors.New("identity resolver: invalid token")
	ErrExpiredToken         = errors.New("identity resolver: token expired")
	ErrMissingSubject       = errors.New("identity resolver: subject required")
	ErrIdentityMismatch     = errors.New("identity resolver: token subject does not match declared user")
)

var defaultUserHeaders = []string{"X-User-Id", "X-Openid", "X-Userid"}

const (
	authorizationHeader = "Authorization"
	tokenHeader         = "X-Auth-Token"
	userIDQueryKey      = "user_id"
)

var tokenQueryKeys = []string{"token", "access_token"}

// ResolverConfig describes how request identities are established.
type ResolverConfig struct {
	SigningSecret []byte
	// UserHeaders lists headers carrying a declared user id, checked in order.
	UserHeaders []string
	Clock       func() time.Time
}

// Resolver derives the acting user of a request from an HS256 token subject
// and an optional declared user id. The token wins; the declared id is used
// only when no token is present.
type Resolver struct {
	signingSecret []byte
	userHeaders   []string
	clock         func() time.Time
}

// NewResolver constructs a resolver with the provided configuration.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	headers := make([]string, 0, len(cfg.UserHeaders))
	for _, header := range cfg.UserHeaders {
		if trimmed := strings.TrimSpace(header); trimmed != "" {
			headers = append(headers, trimmed)
		}
	}
	if len(headers) == 0 {
		headers = append(headers, defaultUserHeaders...)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		userHeaders:   headers,
		clock:         clock,
	}, nil
}

// Subject validates tokenString and returns its subject claim.
func (r *Resolver) Subject(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return r.signingSecret, nil
		},
		jwt.WithTimeFunc(r.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrMissingSubject
	}
	return subject, nil
}

// Resolve returns the acting user or "" when none can be established. An
// unverifiable token is ignored and a token that disagrees with the declared
// user yields no identity. Socket admission uses this lenient form.
func (r *Resolver) Resolve(request *http.Request) string {
	if request == nil {
		return ""
	}
	var tokenUserID string
	if token := r.extractToken(request); token != "" {
		if subject, err := r.Subject(token); err == nil {
			tokenUserID = subject
		}
	}
	declared := r.extractDeclared(request)
	if tokenUserID != "" && declared != "" && tokenUserID != declared {
		return ""
	}
	if tokenUserID != "" {
		return tokenUserID
	}
	return declared
}

// Verify is the strict form used by HTTP handlers: a present token must be
// valid and match any declared user.
func (r *Resolver) Verify(request *http.Request) (string, error) {
	if request == nil {
		return "", ErrMissingIdentity
	}
	var tokenUserID string
	if token := r.extractToken(request); token != "" {
		subject, err := r.Subject(token)
		if err != nil {
			return "", err
		}
		tokenUserID = subject
	}
	declared := r.extractDeclared(request)
	if tokenUserID != "" && declared != "" && tokenUserID != declared {
		return "", ErrIdentityMismatch
	}
	if tokenUserID != "" {
		return tokenUserID, nil
	}
	if declared != "" {
		return declared, nil
	}
	return "", ErrMissingIdentity
}

func (r *Resolver) extractToken(request *http.Request) string {
	if raw := strings.TrimSpace(request.Header.Get(authorizationHeader)); raw != "" {
		if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
			if token := strings.TrimSpace(raw[7:]); token != "" {
				return token
			}
		} else if !strings.Contains(raw, " ") {
			return raw
		}
	}
	if raw := strings.TrimSpace(request.Header.Get(tokenHeader)); raw != "" {
		return raw
	}
	query := request.URL.Query()
	for _, key := range tokenQueryKeys {
		if raw := strings.TrimSpace(query.Get(key)); raw != "" {
			return raw
		}
	}
	return ""
}

func (r *Resolver) extractDeclared(request *http.Request) string {
	for _, header := range r.userHeaders {
		if value := strings.TrimSpace(request.Header.Get(header)); value != "" {
			return value
		}
	}
	if request.URL != nil {
		return strings.TrimSpace(request.URL.Query().Get(userIDQueryKey))
	}
	return ""
}
