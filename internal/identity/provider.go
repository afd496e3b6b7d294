package identity

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"limitgate/pkg/errors"
)

// ProviderConfig configures bearer token validation
type ProviderConfig struct {
	// SigningMethod is the signing algorithm (HS256, RS256, etc)
	SigningMethod string
	// Secret for HS256/HS512 validation
	Secret string
	// PublicKey (PEM) for RS256/RS512 validation
	PublicKey string
	// Issuer is the expected token issuer
	Issuer string
	// Audience is the expected audience
	Audience []string
}

// Provider validates JWT bearer tokens and extracts the subject claims
type Provider struct {
	config *ProviderConfig
	key    interface{}
}

// NewProvider creates a token provider from static key material
func NewProvider(config *ProviderConfig) (*Provider, error) {
	if config.SigningMethod == "" {
		config.SigningMethod = "HS256"
	}

	p := &Provider{config: config}

	switch {
	case strings.HasPrefix(config.SigningMethod, "HS"):
		if config.Secret == "" {
			return nil, errors.NewError(errors.ErrorTypeInternal, "HMAC signing requires secret")
		}
		p.key = []byte(config.Secret)

	case strings.HasPrefix(config.SigningMethod, "RS"):
		if config.PublicKey == "" {
			return nil, errors.NewError(errors.ErrorTypeInternal, "RSA signing requires publicKey")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKey))
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse RSA public key").WithCause(err)
		}
		p.key = key

	default:
		return nil, errors.NewError(errors.ErrorTypeInternal,
			fmt.Sprintf("unsupported signing method: %s", config.SigningMethod))
	}

	return p, nil
}

// TokenClaims are the claims extracted from a validated token
type TokenClaims struct {
	// Subject is the user identifier
	Subject string
	// Email claim, if present
	Email string
	// Role claim, if present
	Role string
}

// Verify validates the token signature and registered claims
func (p *Provider) Verify(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, p.keyFunc)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "invalid token").WithCause(err)
	}
	if !token.Valid {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "token validation failed")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "invalid token claims")
	}

	if p.config.Issuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != p.config.Issuer {
			return nil, errors.NewError(errors.ErrorTypeUnauthorized, "invalid token issuer").
				WithDetail("expected", p.config.Issuer).
				WithDetail("actual", issuer)
		}
	}

	if len(p.config.Audience) > 0 && !p.validateAudience(claims) {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "invalid token audience")
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "missing subject claim")
	}

	tc := &TokenClaims{Subject: subject}
	tc.Email, _ = claims["email"].(string)
	tc.Role, _ = claims["role"].(string)

	return tc, nil
}

// keyFunc returns the key for validating the token
func (p *Provider) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method.Alg() != p.config.SigningMethod {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
	}
	return p.key, nil
}

// validateAudience checks if the token audience matches any expected value
func (p *Provider) validateAudience(claims jwt.MapClaims) bool {
	audClaim, ok := claims["aud"]
	if !ok {
		return false
	}

	// Handle both string and []string audience
	switch aud := audClaim.(type) {
	case string:
		for _, expected := range p.config.Audience {
			if aud == expected {
				return true
			}
		}
	case []interface{}:
		for _, a := range aud {
			audStr, ok := a.(string)
			if !ok {
				continue
			}
			for _, expected := range p.config.Audience {
				if audStr == expected {
					return true
				}
			}
		}
	}

	return false
}

// ExtractBearer pulls the bearer token out of an Authorization header value
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", errors.NewError(errors.ErrorTypeUnauthorized, "no authentication token found")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.NewError(errors.ErrorTypeUnauthorized, "malformed authorization header")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.NewError(errors.ErrorTypeUnauthorized, "no authentication token found")
	}

	return token, nil
}
