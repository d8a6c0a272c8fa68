package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/token-service/api/swagger"
	"github.com/noah-isme/token-service/internal/client/userdirectory"
	"github.com/noah-isme/token-service/internal/handler"
	"github.com/noah-isme/token-service/internal/middleware"
	"github.com/noah-isme/token-service/internal/models"
	"github.com/noah-isme/token-service/internal/repository"
	"github.com/noah-isme/token-service/internal/service"
	"github.com/noah-isme/token-service/pkg/cache"
	"github.com/noah-isme/token-service/pkg/config"
	"github.com/noah-isme/token-service/pkg/cryptox"
	"github.com/noah-isme/token-service/pkg/database"
	"github.com/noah-isme/token-service/pkg/jobs"
	"github.com/noah-isme/token-service/pkg/logger"
	corsmiddleware "github.com/noah-isme/token-service/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/token-service/pkg/middleware/requestid"
)

// @title Token Service API
// @version 1.0.0
// @description Issues, rotates, verifies and revokes signed session tokens
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownGracePeriod = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("token service stopped", zap.Error(err))
	}
}

// stores bundles the persistence adapters selected by TOKEN_STORE_DRIVER.
// audit stays nil for the redis driver.
type stores struct {
	tokens service.TokenStore
	keys   service.SigningKeyStore
	audit  service.AuditRecorder
	close  func()
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*stores, error) {
	switch cfg.TokenStore.Driver {
	case config.StoreDriverRedis:
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		repo := repository.NewRedisTokenRepository(client, logr)
		return &stores{tokens: repo, keys: repo, close: func() { _ = client.Close() }}, nil
	default:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := database.ApplyMigrations(db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logr.Info("database migrations applied")
		}
		return &stores{
			tokens: repository.NewTokenRepository(db),
			keys:   repository.NewSigningKeyRepository(db),
			audit:  repository.NewAuditRepository(db),
			close:  func() { _ = db.Close() },
		}, nil
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()

	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer st.close()

	if cfg.JWT.EncryptionSecret == "" {
		logr.Warn("JWT_ENCRYPTION_SECRET is empty; the signing key is stored under an all-zero key")
	}
	protector, err := cryptox.NewKeyProtector(cfg.JWT.EncryptionSecret)
	if err != nil {
		return err
	}

	keys := service.NewSigningKeyService(st.keys, protector, logr, metrics)
	if err := keys.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize signing key: %w", err)
	}

	directory := userdirectory.NewClient(cfg.UserDirectory.BaseURL, cfg.UserDirectory.Timeout, logr)
	codec := service.NewTokenCodec(keys, cfg.JWT.AccessExpiration, cfg.JWT.RefreshExpiration)
	tokens := service.NewTokenService(codec, st.tokens, directory, logr, metrics)

	var audit service.AuditRecorder
	if st.audit != nil {
		dispatcher := service.NewAuditDispatcher(st.audit, jobs.Config{
			Workers:    cfg.Audit.Workers,
			BufferSize: cfg.Audit.BufferSize,
			Logger:     logr,
		})
		dispatcher.Start(context.Background())
		defer dispatcher.Stop()
		audit = dispatcher
	}

	authSvc := service.NewAuthService(tokens, directory, audit, validator.New(), logr)

	router := newRouter(cfg, logr, metrics, authSvc, keys)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("token_store", cfg.TokenStore.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logr.Info("server stopped")
	return nil
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, authSvc *service.AuthService, ready handler.ReadinessChecker) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	health := handler.NewHealthHandler(metrics, ready)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	requireAuth := middleware.JWT(authSvc)

	api := r.Group(cfg.APIPrefix)
	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", requireAuth, authHandler.Logout)
	auth.GET("/me", requireAuth, authHandler.Me)

	users := api.Group("/users", requireAuth)
	users.POST("/:id/revoke", middleware.RequireRoles(models.RoleAdmin, middleware.RoleSelf), authHandler.ForceLogout)

	return r
}
