// Package auth checks login credentials and issues and verifies the bearer
// tokens that protect the HTTP API.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/shineum/maildeck/internal/apperr"
)

// DefaultTokenTTL is used when Config.TokenTTL is zero.
const DefaultTokenTTL = 12 * time.Hour

const issuer = "maildeck"

// Config holds the single account and token settings.
type Config struct {
	Username string
	// Password is compared in constant time. PasswordHash, a bcrypt hash,
	// takes precedence when both are set.
	Password     string
	PasswordHash string
	Secret       string
	TokenTTL     time.Duration
}

// Claims are the JWT claims carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager authenticates the configured account and signs HS256 tokens.
type Manager struct {
	username string
	password []byte
	hash     []byte
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a Manager. A random signing secret is generated when
// none is configured; tokens then do not survive a restart.
func NewManager(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, errors.New("auth username is required")
	}
	if cfg.Password == "" && cfg.PasswordHash == "" {
		return nil, errors.New("auth password or password hash is required")
	}

	m := &Manager{
		username: cfg.Username,
		ttl:      cfg.TokenTTL,
		now:      time.Now,
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTokenTTL
	}

	if cfg.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt password hash: %w", err)
		}
		m.hash = []byte(cfg.PasswordHash)
	} else {
		m.password = []byte(cfg.Password)
	}

	if cfg.Secret != "" {
		m.secret = []byte(cfg.Secret)
	} else {
		m.secret = make([]byte, 32)
		if _, err := rand.Read(m.secret); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
		slog.Warn("no JWT secret configured, using a random secret; tokens will not survive a restart")
	}

	return m, nil
}

// Authenticate checks username and password against the configured account.
func (m *Manager) Authenticate(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1

	var passOK bool
	if m.hash != nil {
		passOK = bcrypt.CompareHashAndPassword(m.hash, []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), m.password) == 1
	}

	if !userOK || !passOK {
		return apperr.New(apperr.Auth, "invalid username or password", nil)
	}
	return nil
}

// Issue signs a token for username and returns it with its expiry.
func (m *Manager) Issue(username string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token and returns its claims.
func (m *Manager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, apperr.New(apperr.Auth, "invalid or expired token", err)
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash of password, for generating
// configuration values.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
