package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/yoockh/closingdesk/config"
	"github.com/yoockh/closingdesk/internal/api/handlers"
	"github.com/yoockh/closingdesk/internal/api/middleware"
	"github.com/yoockh/closingdesk/internal/api/routes"
	"github.com/yoockh/closingdesk/internal/auth"
	"github.com/yoockh/closingdesk/internal/cache"
	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/logger"
	"github.com/yoockh/closingdesk/internal/providers/identity"
	mongorepo "github.com/yoockh/closingdesk/internal/repositories/mongo"
	pgrepo "github.com/yoockh/closingdesk/internal/repositories/postgres"
	"github.com/yoockh/closingdesk/internal/roles"
	"github.com/yoockh/closingdesk/internal/services"
	"github.com/yoockh/closingdesk/internal/workers"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadApp()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	l := logger.NewWithLevel(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init PostgreSQL
	db, err := config.OpenPostgres()
	if err != nil {
		l.WithError(err).Fatal("PostgreSQL init error")
	}
	if cfg.AutoMigrate {
		if err := config.MigratePostgres(db); err != nil {
			l.WithError(err).Fatal("PostgreSQL migrate error")
		}
	}
	l.Info("PostgreSQL connected")

	// Init Redis
	rdb, err := config.OpenRedis()
	if err != nil {
		l.WithError(err).Fatal("Redis init error")
	}
	defer rdb.Close()
	l.Info("Redis connected")

	// Init MongoDB
	mongoCfg, err := config.LoadMongo()
	if err != nil {
		l.WithError(err).Fatal("MongoDB config error")
	}
	mongoClient, mdb, err := config.OpenMongo(ctx, mongoCfg)
	if err != nil {
		l.WithError(err).Fatal("MongoDB init error")
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	if err := config.EnsureMongoIndexes(ctx, mdb); err != nil {
		l.WithError(err).Fatal("MongoDB index error")
	}
	l.Info("MongoDB connected")

	bus := events.NewRedisBus(rdb, l)
	statsCache := cache.NewRedisCache(rdb, "closingdesk:cache:")
	profileRepo := pgrepo.NewProfileRepo(db)
	auditRepo := mongorepo.NewAuthEventRepo(mdb, mongoCfg.AuditRetention)

	profileSvc := services.NewProfileService(profileRepo, bus, statsCache)
	adminSvc := services.NewAdminService(profileRepo, auditRepo, bus, statsCache)

	idp := identity.NewSupabase(cfg.SupabaseURL, cfg.SupabaseAnonKey, &http.Client{Timeout: 10 * time.Second})
	codec := auth.CookieCodec{Name: cfg.SessionCookie, Prefix: cfg.CookiePrefix, Secure: cfg.CookieSecure}
	verifier := auth.NewVerifier(cfg.SupabaseJWTSecret, cfg.SupabaseJWTIssuer, cfg.SupabaseJWTAudience)
	overrides := roles.NewOverrideStore(cfg.CookieSecure)

	pool := &workers.AuditWorkerPool{
		Redis:      rdb,
		Sink:       auditRepo,
		NumWorkers: cfg.AuditWorkers,
		Logger:     l,
		Stream:     bus.Stream(),
	}
	if cfg.AuditWorkers > 0 {
		if err := pool.Start(ctx); err != nil {
			l.WithError(err).Fatal("audit workers init error")
		}
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(l))
	if len(cfg.CORSOrigins) > 0 {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = cfg.CORSOrigins
		cc.AllowCredentials = true
		cc.AllowHeaders = append(cc.AllowHeaders, "Authorization", "X-Request-Id")
		r.Use(cors.New(cc))
	}
	r.Use(middleware.RouteGuard(middleware.GuardDeps{
		Cookies:  codec,
		Verifier: verifier,
		Identity: idp,
		Profiles: profileSvc,
		Events:   bus,
		Log:      l,
	}))

	sessions := handlers.NewSessionHandler(idp, profileSvc, bus, cfg.SessionInitTimeout, l)
	routes.RegisterRoutes(r, routes.Deps{
		Auth:        handlers.NewAuthHandler(idp, codec, overrides, profileSvc, bus, l),
		Session:     sessions,
		WS:          handlers.NewWSHandler(sessions, cfg.CORSOrigins),
		Profile:     handlers.NewProfileHandler(profileSvc),
		Role:        handlers.NewRoleHandler(profileSvc, overrides),
		Admin:       handlers.NewAdminHandler(adminSvc),
		Profiles:    profileSvc,
		AuthLimiter: routes.DefaultAuthLimiter(),
	})
	r.NoRoute(routes.Frontend(cfg.StaticDir))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		l.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()
	l.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.WithError(err).Warn("http shutdown incomplete")
	}
	pool.Wait()
}
