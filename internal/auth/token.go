package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-tourbooking/internal/models"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier turns a raw bearer token into the caller it was issued to.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (models.Principal, error)
}

// ExtractTokenFromRequest extracts the bearer token from the Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}
	return parts[1], nil
}

// tokenClaims covers both the Supabase layout (role under app_metadata) and
// issuers that put a flat role claim on the token.
type tokenClaims struct {
	Subject     string `json:"sub"`
	Role        string `json:"role"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

func (c tokenClaims) principal() (models.Principal, error) {
	if c.Subject == "" {
		return models.Principal{}, fmt.Errorf("%w: subject claim not found", ErrInvalidToken)
	}
	role := c.AppMetadata.Role
	if role == "" && c.Role == models.RoleAdmin {
		role = models.RoleAdmin
	}
	if role != models.RoleAdmin {
		role = models.RoleUser
	}
	return models.Principal{UserID: c.Subject, Role: role}, nil
}

// HS256Verifier checks tokens signed with the project's shared JWT secret.
type HS256Verifier struct {
	secret []byte
}

func NewHS256Verifier(secret string) *HS256Verifier {
	return &HS256Verifier{secret: []byte(secret)}
}

type supabaseClaims struct {
	jwt.RegisteredClaims
	Role        string `json:"role"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

func (v *HS256Verifier) Verify(ctx context.Context, rawToken string) (models.Principal, error) {
	var claims supabaseClaims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	tc := tokenClaims{Subject: claims.Subject, Role: claims.Role}
	tc.AppMetadata.Role = claims.AppMetadata.Role
	return tc.principal()
}

// OIDCVerifier checks tokens against an OpenID Connect issuer's keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (models.Principal, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return models.Principal{}, fmt.Errorf("%w: parse claims: %v", ErrInvalidToken, err)
	}
	return claims.principal()
}

// NewVerifier prefers the OIDC issuer and falls back to the shared secret.
func NewVerifier(ctx context.Context, issuer, secret string) (Verifier, error) {
	if issuer != "" {
		return NewOIDCVerifier(ctx, issuer)
	}
	if secret == "" {
		return nil, errors.New("either OIDC_ISSUER or SUPABASE_JWT_SECRET must be set")
	}
	return NewHS256Verifier(secret), nil
}
