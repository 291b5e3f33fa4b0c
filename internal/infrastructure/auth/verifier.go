// Package auth verifies session tokens and turns their claims into a
// domain.Identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"admin-console/internal/domain"
)

// Verifier checks a bearer token and returns the identity it carries.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// CognitoVerifier accepts RS256 ID tokens issued by one Cognito user pool
// to one app client. Access tokens and unverified emails are refused since
// the email claim is what identifies the person.
type CognitoVerifier struct {
	issuer   string
	clientID string
	keys     *keySet
}

func NewCognitoVerifier(userPoolID, clientID, region string) *CognitoVerifier {
	issuer := "https://cognito-idp." + region + ".amazonaws.com/" + userPoolID
	return newRS256Verifier(issuer, clientID, issuer+"/.well-known/jwks.json")
}

func newRS256Verifier(issuer, clientID, jwksURL string) *CognitoVerifier {
	return &CognitoVerifier{issuer: issuer, clientID: clientID, keys: newKeySet(jwksURL, 15*time.Minute)}
}

func (v *CognitoVerifier) Verify(ctx context.Context, tokenString string) (domain.Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.keys.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.clientID),
	)
	if err != nil || !token.Valid {
		return domain.Identity{}, fmt.Errorf("invalid token: %w", domain.ErrUnauthenticated)
	}
	if use, _ := claims["token_use"].(string); use != "id" {
		return domain.Identity{}, fmt.Errorf("token_use %q is not an id token: %w", use, domain.ErrUnauthenticated)
	}
	if !emailVerified(claims["email_verified"]) {
		return domain.Identity{}, fmt.Errorf("email not verified: %w", domain.ErrUnauthenticated)
	}
	return identityFromClaims(claims)
}

// emailVerified accepts the boolean Cognito emits and its string form.
func emailVerified(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// HMACVerifier accepts HS256 tokens signed with a shared secret. It also
// mints them for local tooling.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

func (v *HMACVerifier) Verify(_ context.Context, tokenString string) (domain.Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return domain.Identity{}, fmt.Errorf("invalid token: %w", domain.ErrUnauthenticated)
	}
	return identityFromClaims(claims)
}

func (v *HMACVerifier) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	issued := id.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	claims := jwt.MapClaims{
		"sub":   id.Subject,
		"email": id.Email,
		"name":  id.FullName,
		"iat":   issued.Unix(),
		"exp":   issued.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func identityFromClaims(claims jwt.MapClaims) (domain.Identity, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Identity{}, fmt.Errorf("token has no subject: %w", domain.ErrUnauthenticated)
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	id := domain.Identity{
		Subject:  sub,
		Email:    strings.TrimSpace(email),
		FullName: name,
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
