package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cppla/dailytake/utils"
)

const testSecret = "test-secret"

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetUint(ContextUserIDKey), "username": c.GetString(ContextUsernameKey)})
	})
	r.GET("/x", handlers...)
	return r
}

func doGet(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signToken(secret string, userID uint, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := utils.Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func TestAuthRequired(t *testing.T) {
	r := newRouter(AuthRequired(testSecret))

	assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer   ").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer not-a-jwt").Code)

	token, err := signToken(testSecret, 3, "carol", time.Hour)
	require.NoError(t, err)
	w := doGet(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":3,"username":"carol"}`, w.Body.String())
}

func TestAdminRequired(t *testing.T) {
	r := newRouter(AuthRequired(testSecret), AdminRequired(func(name string) bool { return name == "root" }))

	user, err := signToken(testSecret, 3, "carol", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, doGet(r, "Bearer "+user).Code)

	admin, err := signToken(testSecret, 1, "root", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doGet(r, "Bearer "+admin).Code)
}

func TestRateLimiter_PerCaller(t *testing.T) {
	rl := NewRateLimiter(4) // burst 2
	now := time.Now()

	assert.True(t, rl.allow("user:1", now))
	assert.True(t, rl.allow("user:1", now))
	assert.False(t, rl.allow("user:1", now))
	assert.True(t, rl.allow("user:2", now), "other callers have their own bucket")

	assert.True(t, rl.allow("user:1", now.Add(15*time.Second)), "one token refills every 15s")

	rl.allow("user:3", now)
	rl.allow("user:4", now.Add(limiterIdle+time.Second))
	assert.NotContains(t, rl.limiters, "user:3", "idle buckets are evicted")
}

func TestRateLimiter_SweepsAtMostOncePerInterval(t *testing.T) {
	rl := NewRateLimiter(60)
	now := time.Now()
	rl.allow("user:1", now)
	rl.limiters["user:stale"] = &rateLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst), expires: now.Add(-time.Second)}

	rl.allow("user:1", now.Add(10*time.Second))
	assert.Contains(t, rl.limiters, "user:stale", "no sweep inside the interval")

	rl.allow("user:1", now.Add(sweepEvery))
	assert.NotContains(t, rl.limiters, "user:stale")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(2) // burst 1
	r := newRouter(AuthRequired(testSecret), rl.Middleware())
	token, err := signToken(testSecret, 9, "dave", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, doGet(r, "Bearer "+token).Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, "Bearer "+token).Code)

	unlimited := newRouter(NewRateLimiter(0).Middleware())
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doGet(unlimited, "").Code)
	}
}

func TestEnsureUser(t *testing.T) {
	var gotID uint
	var gotName string
	ok := newRouter(AuthRequired(testSecret), EnsureUser(func(_ context.Context, id uint, name string) error {
		gotID, gotName = id, name
		return nil
	}))
	token, err := signToken(testSecret, 4, "erin", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doGet(ok, "Bearer "+token).Code)
	assert.Equal(t, uint(4), gotID)
	assert.Equal(t, "erin", gotName)

	down := newRouter(AuthRequired(testSecret), EnsureUser(func(context.Context, uint, string) error {
		return errors.New("db down")
	}))
	assert.Equal(t, http.StatusServiceUnavailable, doGet(down, "Bearer "+token).Code)
}
