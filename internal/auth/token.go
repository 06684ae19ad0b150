package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

const clockSkew = 30 * time.Second

// TokenManager validates JWT bearer tokens issued by the identity provider.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// WithIssuer makes ParseToken reject tokens from any other issuer.
func (tm *TokenManager) WithIssuer(issuer string) *TokenManager {
	tm.issuer = issuer
	return tm
}

// Claims is the bearer token payload: who is calling and with which role.
type Claims struct {
	SubjectID string             `json:"sub"`
	Subject   domain.SubjectType `json:"subject"`
	Role      domain.Role        `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for the subject. Used by tooling and tests; the
// service itself does not issue sessions.
func (tm *TokenManager) GenerateToken(subjectID string, subject domain.SubjectType, role domain.Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		SubjectID: subjectID,
		Subject:   subject,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    tm.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken validates signature, expiry and issuer and returns the claims.
// Tokens without a subject or carrying an unknown role are rejected.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.SubjectID == "" {
		return nil, errors.New("token has no subject")
	}
	switch claims.Role {
	case domain.RoleAgent, domain.RoleAdmin:
	default:
		return nil, errors.New("token has an unknown role")
	}
	return claims, nil
}
