package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionToken is an issued, signed session credential.
type SessionToken struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionClaims carries the session identity inside the JWT.
type SessionClaims struct {
	SessionID string `json:"session_id"`
	Secret    string `json:"secret"`
	jwt.RegisteredClaims
}

const sessionTTL = 7 * 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenRevoked = errors.New("session token revoked or expired")
)

// TokenService signs and verifies session tokens. Issued token IDs are
// mirrored into Redis so individual sessions can be revoked before
// their JWT expiry.
type TokenService struct {
	secret []byte
	rdb    *redis.Client
}

func NewTokenService(secret string, rdb *redis.Client) (*TokenService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 characters")
	}
	return &TokenService{secret: []byte(secret), rdb: rdb}, nil
}

// GenerateSessionToken issues a signed token binding sessionID to the
// caller-held secret. Parsing the returned token yields both back.
func (s *TokenService) GenerateSessionToken(ctx context.Context, sessionID, secret string) (*SessionToken, error) {
	now := time.Now()
	exp := now.Add(sessionTTL)
	jti := uuid.NewString()

	claims := SessionClaims{
		SessionID: sessionID,
		Secret:    secret,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "lorekeeper-platform",
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, sessionKey(jti), sessionID, sessionTTL).Err(); err != nil {
			return nil, err
		}
	}

	return &SessionToken{Token: signed, SessionID: sessionID, ExpiresAt: exp}, nil
}

// ParseSessionToken verifies the signature, expiry and revocation state
// and returns the embedded session identity.
func (s *TokenService) ParseSessionToken(ctx context.Context, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if s.rdb != nil {
		exists, err := s.rdb.Exists(ctx, sessionKey(claims.ID)).Result()
		if err != nil || exists != 1 {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// RevokeSession invalidates one issued token by its JWT ID.
func (s *TokenService) RevokeSession(ctx context.Context, jti string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, sessionKey(jti)).Err()
}

func sessionKey(jti string) string {
	return "session:" + jti
}
