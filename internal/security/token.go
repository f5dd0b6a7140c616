package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidSessionToken = errors.New("invalid session token")

type SessionClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenManager mints and parses session tokens. The token is an HS256 JWT
// whose jti keys the server-side session record; only the peppered hash of
// the jti is persisted.
type TokenManager struct {
	issuer string
	secret []byte
	pepper string
}

func NewTokenManager(issuer, secret, pepper string) *TokenManager {
	return &TokenManager{issuer: issuer, secret: []byte(secret), pepper: pepper}
}

func (m *TokenManager) MintSessionToken(userID string, ttl time.Duration) (token, tokenHash string, err error) {
	jti := uuid.NewString()
	claims := SessionClaims{
		TokenType: "session",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        jti,
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", err
	}
	return token, m.HashTokenID(jti), nil
}

// ParseSessionToken validates signature and shape but not server-side state;
// session lookup by hash decides liveness.
func (m *TokenManager) ParseSessionToken(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, ErrInvalidSessionToken
	}
	if !tok.Valid || claims.TokenType != "session" || claims.ID == "" {
		return nil, ErrInvalidSessionToken
	}
	return claims, nil
}

func (m *TokenManager) HashTokenID(jti string) string {
	sum := sha256.Sum256([]byte(jti + m.pepper))
	return hex.EncodeToString(sum[:])
}
