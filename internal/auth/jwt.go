package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	KindAccess TokenKind = "access"
	// KindStream tokens are minted by the start call and bound to one session.
	KindStream TokenKind = "stream"
)

type Claims struct {
	UserID    string    `json:"sub"`
	SessionID string    `json:"sid,omitempty"`
	Kind      TokenKind `json:"kind,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret       string
	Expiry       time.Duration
	StreamExpiry time.Duration
	Issuer       string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret:       secret,
		Expiry:       24 * time.Hour,
		StreamExpiry: 2 * time.Hour,
		Issuer:       "proctor-stream",
	}
}

func CreateToken(userID string, cfg TokenConfig) (string, error) {
	return sign(userID, "", KindAccess, cfg.Expiry, cfg)
}

// CreateStreamToken mints the capability presented on the stream endpoint.
func CreateStreamToken(userID, sessionID string, cfg TokenConfig) (string, error) {
	if sessionID == "" {
		return "", errors.New("missing sessionID")
	}
	expiry := cfg.StreamExpiry
	if expiry == 0 {
		expiry = cfg.Expiry
	}
	return sign(userID, sessionID, KindStream, expiry, cfg)
}

func sign(userID, sessionID string, kind TokenKind, expiry time.Duration, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if userID == "" {
		return "", errors.New("missing userID")
	}
	if expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	now := time.Now()
	claims := Claims{
		UserID:    userID,
		SessionID: sessionID,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.NewString(),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.Kind == "" {
		claims.Kind = KindAccess
	}
	return claims, nil
}
