package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsight/deidgate/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-with-enough-length-1234"

func signToken(t *testing.T, claims jwt.RegisteredClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "marketplace",
		Audience:  jwt.ClaimStrings{"deidgate"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier(domain.AuthConfig{JWTSecret: testSecret, Issuer: "marketplace", Audience: "deidgate"})

	sub, err := v.Subject(signToken(t, validClaims(), jwt.SigningMethodHS256, []byte(testSecret)))
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	tests := []struct {
		name   string
		claims func(c *jwt.RegisteredClaims)
		key    []byte
	}{
		{"wrong key", func(*jwt.RegisteredClaims) {}, []byte("another-secret-entirely-xxxxxxxx")},
		{"expired", func(c *jwt.RegisteredClaims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) }, nil},
		{"no expiry", func(c *jwt.RegisteredClaims) { c.ExpiresAt = nil }, nil},
		{"wrong issuer", func(c *jwt.RegisteredClaims) { c.Issuer = "elsewhere" }, nil},
		{"wrong audience", func(c *jwt.RegisteredClaims) { c.Audience = jwt.ClaimStrings{"other"} }, nil},
		{"no subject", func(c *jwt.RegisteredClaims) { c.Subject = "" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.claims(&claims)
			key := tt.key
			if key == nil {
				key = []byte(testSecret)
			}
			_, err := v.Subject(signToken(t, claims, jwt.SigningMethodHS256, key))
			assert.Error(t, err)
		})
	}

	t.Run("unsigned token", func(t *testing.T) {
		tok := signToken(t, validClaims(), jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)
		_, err := v.Subject(tok)
		assert.Error(t, err)
	})
}

func TestRequireSubject(t *testing.T) {
	v := NewTokenVerifier(domain.AuthConfig{JWTSecret: testSecret})

	router := gin.New()
	router.Use(CorrelationID(), RequireSubject(v))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SubjectKey))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(), jwt.SigningMethodHS256, []byte(testSecret)))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bearer not-a-token"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.Contains(t, w.Body.String(), domain.ErrCodeAuthentication)
	}
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestCorrelationID(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(CorrelationIDKey)) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(w.Body.String())
	assert.NoError(t, err)
	assert.Equal(t, w.Body.String(), w.Header().Get("X-Correlation-ID"))

	existing := uuid.NewString()
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", existing)
	router.ServeHTTP(w, req)
	assert.Equal(t, existing, w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "jane@example.com")
	router.ServeHTTP(w, req)
	assert.NotEqual(t, "jane@example.com", w.Body.String())
}

func TestRequestTimeout(t *testing.T) {
	router := gin.New()
	router.Use(RequestTimeout(10 * time.Millisecond))
	router.GET("/", func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, time.Second)
		<-c.Request.Context().Done()
		c.Status(http.StatusGatewayTimeout)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestAccessLogOmitsRawPath(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	router := gin.New()
	router.Use(AccessLog(logger))
	router.GET("/orders/:order_ref", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/secret-ref?email=jane@example.com", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "/orders/:order_ref", entry.Data["route"])
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	for _, v := range entry.Data {
		assert.NotContains(t, fmt.Sprint(v), "jane@example.com")
	}
}
