package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/token-service/internal/client/userdirectory"
	"github.com/noah-isme/token-service/internal/models"
	"github.com/noah-isme/token-service/internal/repository"
	"github.com/noah-isme/token-service/internal/service"
	"github.com/noah-isme/token-service/pkg/config"
	"github.com/noah-isme/token-service/pkg/cryptox"
)

type routerFixture struct {
	router *gin.Engine
	tokens *service.TokenService
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := repository.NewRedisTokenRepository(client, nil)

	directoryServer := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(directoryServer.Close)

	logr := zap.NewNop()
	metrics := service.NewMetricsService()

	protector, err := cryptox.NewKeyProtector("router-test-secret")
	require.NoError(t, err)
	keys := service.NewSigningKeyService(repo, protector, logr, metrics)
	require.NoError(t, keys.Initialize(context.Background()))

	directory := userdirectory.NewClient(directoryServer.URL, time.Second, logr)
	codec := service.NewTokenCodec(keys, 15*time.Minute, time.Hour)
	tokens := service.NewTokenService(codec, repo, directory, logr, metrics)
	authSvc := service.NewAuthService(tokens, directory, nil, validator.New(), logr)

	cfg := &config.Config{Env: config.EnvDevelopment, APIPrefix: "/api/v1"}
	return &routerFixture{
		router: newRouter(cfg, logr, metrics, authSvc, keys),
		tokens: tokens,
	}
}

func (f *routerFixture) revoke(t *testing.T, path, accessToken string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w.Code
}

func TestRouterUserRevokesOwnSessions(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	own, err := f.tokens.Issue(ctx, 2, "user@example.com", models.RoleUser)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, f.revoke(t, "/api/v1/users/3/revoke", own.AccessToken))
	assert.Equal(t, http.StatusNoContent, f.revoke(t, "/api/v1/users/2/revoke", own.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, f.revoke(t, "/api/v1/users/2/revoke", own.AccessToken))
}

func TestRouterAdminRevokesOtherUser(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	admin, err := f.tokens.Issue(ctx, 1, "admin@example.com", models.RoleAdmin)
	require.NoError(t, err)
	target, err := f.tokens.Issue(ctx, 3, "target@example.com", models.RoleUser)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, f.revoke(t, "/api/v1/users/3/revoke", admin.AccessToken))

	_, err = f.tokens.Verify(ctx, target.AccessToken, models.TokenTypeAccess)
	assert.Error(t, err)
	_, err = f.tokens.Verify(ctx, admin.AccessToken, models.TokenTypeAccess)
	assert.NoError(t, err)
}

func TestRouterRevokeRequiresBearer(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/2/revoke", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
