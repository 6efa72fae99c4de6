package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired or signed with another secret.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSecret is returned when operator tokens are not configured.
	ErrNoSecret = errors.New("operator token secret not configured")
)

// Operator roles carried in tokens.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// OperatorClaims holds JWT claims for an operator token.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// OperatorTokens issues and validates HS256 operator tokens for the admin API.
type OperatorTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  quartz.Clock
}

// NewOperatorTokens returns an OperatorTokens signing with secret. A nil clock uses the real clock.
func NewOperatorTokens(secret, issuer string, ttl time.Duration, clock quartz.Clock) *OperatorTokens {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &OperatorTokens{secret: []byte(secret), issuer: issuer, ttl: ttl, clock: clock}
}

// Issue issues a token for subject with role. Returns the token string and its expiration time.
func (p *OperatorTokens) Issue(subject, role string) (token string, expiresAt time.Time, err error) {
	if len(p.secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.clock.Now("tokens", "issue").UTC()
	expiresAt = now.Add(p.ttl)
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	return token, expiresAt, err
}

// Validate parses and validates the token (signature, exp, iss) and returns its claims.
func (p *OperatorTokens) Validate(tokenString string) (*OperatorClaims, error) {
	if len(p.secret) == 0 {
		return nil, ErrNoSecret
	}
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return p.clock.Now("tokens", "validate") }),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleOperator && claims.Role != RoleViewer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
