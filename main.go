package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dashboard/api"
	"dashboard/dashboard"
	"dashboard/storage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()
	log.Infof("item store: %s", cfg.Backend)

	var (
		sinks    []dashboard.EventSink
		notifier api.Notifier
		deduper  api.Deduper
	)
	broker := storage.NewBroker()
	notifier = broker

	if cfg.RedisConn != "" {
		opts, err := redisOptions(cfg.RedisConn)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()

		store = storage.NewCache(store, rc, cfg.ItemsCacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)

		// changes travel through Redis so every instance wakes its streams
		rn := storage.NewRedisNotifier(rc, storage.DefaultChangesChannel, broker)
		go rn.Run(ctx)
		sinks = append(sinks, rn)
	} else {
		sinks = append(sinks, broker)
	}

	if cfg.EventsQueue != "" {
		q, err := storage.NewEventQueue(cfg.StorageConn, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("event queue: %v", err)
		}
		pub := storage.NewAsyncPublisher(q, cfg.Publisher, logger)
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	ctrl := dashboard.New(store, logger, sinks...)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		ExposeHeaders: []string{echo.HeaderLocation, "Retry-After"},
	}))
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, ctrl, auth, deduper, notifier, logger)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}

func openStore(ctx context.Context, cfg config) (dashboard.Store, func(), error) {
	switch cfg.Backend {
	case backendSQL:
		s, err := storage.OpenSQL(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case backendTables:
		s, err := storage.NewTables(cfg.StorageConn, cfg.ItemsTable)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
	return storage.NewMemory(), func() {}, nil
}

func newAuth(cfg config) (*api.Auth, error) {
	if len(cfg.AuthSecret) > 0 {
		log.Warn("bearer tokens are validated with a shared secret")
		return api.NewAuth(nil, api.AuthConfig{SharedSecret: cfg.AuthSecret, KeyCacheTTL: cfg.JWKSCacheTTL}), nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, api.AuthConfig{
		Audience:    cfg.AuthAudience,
		Issuer:      cfg.AuthIssuer(),
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}), nil
}
