package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/labsight/deidgate/internal/domain"
)

// SubjectKey is the gin context key holding the verified token subject.
const SubjectKey = "subject"

// ErrMissingToken is returned when no bearer token is present.
var ErrMissingToken = errors.New("missing bearer token")

// TokenVerifier validates HS256 bearer tokens issued by the marketplace.
// Tokens are never issued here.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenVerifier creates a verifier from configuration.
func NewTokenVerifier(cfg domain.AuthConfig) *TokenVerifier {
	return &TokenVerifier{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

// Subject verifies tok and returns its subject claim.
func (v *TokenVerifier) Subject(tok string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// RequireSubject rejects requests without a valid bearer token and stores
// the subject under SubjectKey.
func RequireSubject(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tok == "" {
			abortUnauthorized(c, ErrMissingToken.Error())
			return
		}

		subject, err := v.Subject(tok)
		if err != nil {
			abortUnauthorized(c, "invalid bearer token")
			return
		}

		c.Set(SubjectKey, subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, details string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, domain.NewAppError(
		domain.ErrCodeAuthentication,
		"Authentication required",
		details,
		c.GetString(CorrelationIDKey),
	))
}
