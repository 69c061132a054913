package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"odin-exchange/internal/model"
)

// AccessClaims is carried by the short-lived access token: who the caller
// is and what roles they hold.
type AccessClaims struct {
	UserID string   `json:"sub_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// IdentityClaims is carried by the identity token: the display name bound
// to the same subject as the access token.
type IdentityClaims struct {
	UserID string `json:"sub_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-SHA256 access and identity tokens against a
// shared secret, the way go-server/internal/auth/jwt.go validates a single
// token, generalized to the two-token scheme spec.md's Authenticate command
// requires.
type JWTVerifier struct {
	secretKey []byte
}

func NewJWTVerifier(secretKey string) *JWTVerifier {
	return &JWTVerifier{secretKey: []byte(secretKey)}
}

var _ Verifier = (*JWTVerifier)(nil)

func (v *JWTVerifier) Verify(accessToken, idToken string) (ValidatedClient, error) {
	access, err := v.parseAccess(accessToken)
	if err != nil {
		return ValidatedClient{}, fmt.Errorf("access token: %w", err)
	}
	identity, err := v.parseIdentity(idToken)
	if err != nil {
		return ValidatedClient{}, fmt.Errorf("identity token: %w", err)
	}
	if access.UserID == "" || access.UserID != identity.UserID {
		return ValidatedClient{}, errors.New("access and identity tokens disagree on subject")
	}

	roles := make([]model.Role, 0, len(access.Roles))
	for _, r := range access.Roles {
		roles = append(roles, model.Role(r))
	}

	return ValidatedClient{
		ID:    access.UserID,
		Name:  identity.Name,
		Roles: model.NewRoleSet(roles...),
	}, nil
}

func (v *JWTVerifier) parseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := v.parse(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *JWTVerifier) parseIdentity(token string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	if err := v.parse(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *JWTVerifier) parse(tokenString string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secretKey, nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return errors.New("invalid token claims")
	}
	return nil
}

// GenerateTestTokens produces a matched access/identity token pair for
// local development and tests, mirroring go-server's GenerateTestToken.
func (v *JWTVerifier) GenerateTestTokens(userID, name string, roles []string, ttl time.Duration) (access, identity string, err error) {
	now := time.Now()
	accessClaims := &AccessClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "odin-exchange",
			Subject:   userID,
		},
	}
	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(v.secretKey)
	if err != nil {
		return "", "", err
	}

	identityClaims := &IdentityClaims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "odin-exchange",
			Subject:   userID,
		},
	}
	identity, err = jwt.NewWithClaims(jwt.SigningMethodHS256, identityClaims).SignedString(v.secretKey)
	if err != nil {
		return "", "", err
	}

	return access, identity, nil
}
