package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratacloud/host-controller/internal/patch"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, role string) string {
	t.Helper()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "test-caller",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func authTestRouter(enabled bool) (*gin.Engine, *patch.CallerIdentity) {
	gin.SetMode(gin.TestMode)
	var got patch.CallerIdentity
	r := gin.New()
	r.Use(Auth(AuthConfig{Secret: testSecret, Enabled: enabled}))
	r.GET("/probe", func(c *gin.Context) {
		got = GetCaller(c)
		c.Status(http.StatusOK)
	})
	return r, &got
}

func TestAuth_MissingHeader(t *testing.T) {
	r, _ := authTestRouter(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_MalformedHeader(t *testing.T) {
	r, _ := authTestRouter(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(AuthorizationHeader, "Token abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	r, _ := authTestRouter(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(AuthorizationHeader, "Bearer not-a-token")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_WrongSecret(t *testing.T) {
	r, _ := authTestRouter(true)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(AuthorizationHeader, "Bearer "+signed)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_RoleMapping(t *testing.T) {
	tests := []struct {
		role string
		want patch.CallerIdentity
	}{
		{"maintenance", patch.CallerMaintenance},
		{"orchestrator", patch.CallerOrchestrator},
		{"operator", patch.CallerGeneric},
		{"", patch.CallerGeneric},
	}

	for _, tt := range tests {
		t.Run("role "+tt.role, func(t *testing.T) {
			r, got := authTestRouter(true)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			req.Header.Set(AuthorizationHeader, "Bearer "+signToken(t, tt.role))
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestAuth_DisabledTreatsCallerAsGeneric(t *testing.T) {
	r, got := authTestRouter(false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, patch.CallerGeneric, *got)
}
