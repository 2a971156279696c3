package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	require.NoError(t, err)
	return s
}

func testRouter(handler gin.HandlerFunc, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("", mw...)
	g.GET("/ping", handler)
	return r
}

func doGet(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth_ValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":  "s2210300",
		"role": "user",
		"name": "山田 太郎",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	var gotID, gotName string
	r := testRouter(func(c *gin.Context) {
		gotID, gotName = ActorFrom(c)
		c.Status(http.StatusOK)
	}, RequireAuth(testSecret))

	w := doGet(r, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s2210300", gotID)
	assert.Equal(t, "山田 太郎", gotName)
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	r := testRouter(func(c *gin.Context) { c.Status(http.StatusOK) }, RequireAuth(testSecret))
	w := doGet(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_WrongSecret(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "s2210300",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, []byte("other-secret"))

	r := testRouter(func(c *gin.Context) { c.Status(http.StatusOK) }, RequireAuth(testSecret))
	w := doGet(r, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "s2210300",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, testSecret)

	r := testRouter(func(c *gin.Context) { c.Status(http.StatusOK) }, RequireAuth(testSecret))
	w := doGet(r, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole_AdminOnly(t *testing.T) {
	mkToken := func(role string) string {
		return signToken(t, jwt.MapClaims{
			"sub":  "u1",
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		}, testSecret)
	}

	r := testRouter(func(c *gin.Context) { c.Status(http.StatusOK) },
		RequireAuth(testSecret), RequireRole("admin"))

	w := doGet(r, mkToken("admin"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = doGet(r, mkToken("user"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
