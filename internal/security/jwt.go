package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTypeAccess = "access"

var (
	ErrSigningKeyMissing = errors.New("access token signing key is not configured")
	ErrMalformedClaims   = errors.New("access token claims are malformed")
)

// Claims is the access token payload. sub is the user id and sid the session id.
type Claims struct {
	TokenType   string   `json:"token_type"`
	SessionID   uint     `json:"sid"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uint, error) {
	if c == nil || c.Subject == "" {
		return 0, ErrMalformedClaims
	}
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrMalformedClaims
	}
	return uint(id), nil
}

type AccessTokenInput struct {
	UserID      uint
	SessionID   uint
	Roles       []string
	Permissions []string
}

type JWTManager struct {
	issuer       string
	audience     string
	accessSecret []byte
	now          func() time.Time
}

func NewJWTManager(issuer, audience, accessSecret string) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		audience:     audience,
		accessSecret: []byte(accessSecret),
		now:          time.Now,
	}
}

// WithClock is used by tests to pin token timestamps.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	cp := *m
	cp.now = now
	return &cp
}

func (m *JWTManager) SignAccessToken(in AccessTokenInput, ttl time.Duration) (string, *Claims, error) {
	if len(m.accessSecret) == 0 {
		return "", nil, ErrSigningKeyMissing
	}
	if in.UserID == 0 || in.SessionID == 0 {
		return "", nil, ErrMalformedClaims
	}
	now := m.now()
	claims := &Claims{
		TokenType:   tokenTypeAccess,
		SessionID:   in.SessionID,
		Roles:       in.Roles,
		Permissions: in.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(in.UserID), 10),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// ParseAccessToken checks signature, issuer, audience, expiry and token type. It never
// touches the session store.
func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	if len(m.accessSecret) == 0 {
		return nil, ErrSigningKeyMissing
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.accessSecret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	return claims, nil
}
