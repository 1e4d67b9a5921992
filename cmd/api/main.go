package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"tapattend/internal/attendance"
	"tapattend/internal/auth"
	"tapattend/internal/cloudinary"
	"tapattend/internal/config"
	"tapattend/internal/events"
	"tapattend/internal/handler"
	"tapattend/internal/httpmiddleware"
	"tapattend/internal/logger"
	"tapattend/internal/queue"
	"tapattend/internal/reader"
	"tapattend/internal/report"
	"tapattend/internal/roster"
	"tapattend/internal/scanner"
	"tapattend/internal/session"
	"tapattend/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	svc := attendance.NewService(repo, cfg.Location())

	health := map[string]func(context.Context) bool{"db": db.Healthy}

	var q queue.Queue
	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		health["redis"] = redisClient.Healthy
	} else {
		q = queue.NewInMemory(64)
	}

	files, err := report.NewFiles(cfg.ReportsDir)
	if err != nil {
		return err
	}
	sections := roster.NewDirectory(cfg.SectionsDir)
	if created, err := sections.WriteTemplates(); err != nil {
		log.WithError(err).Warn("could not create section templates")
	} else if len(created) > 0 {
		log.WithField("sections", created).Info("created empty section templates")
	}

	if cfg.QueueBackend != "redis" {
		// no separate worker process consumes the in-memory queue
		go func() {
			_ = report.NewWorker(svc, files, archiver(cfg)).Run(ctx, q)
		}()
	}

	rd, err := reader.New(reader.Config{Type: cfg.ReaderBackend, Device: cfg.SerialPort, Baud: cfg.SerialBaud})
	if err != nil {
		return err
	}
	virtual, _ := rd.(*reader.Virtual)
	log.WithField("backend", cfg.ReaderBackend).Info("card reader ready")

	origins := httpmiddleware.NewOrigins(cfg.AllowedOrigins)
	hub := events.NewHub(origins.CheckRequest)
	ctrl := scanner.NewController(ctx, scanner.Config{
		PollInterval:    cfg.PollInterval,
		DebounceWindow:  cfg.DebounceWindow,
		IdleStatusEvery: cfg.IdleStatusEvery,
	}, scanner.Deps{
		Reader:  rd,
		Session: session.New(),
		Lookup:  roster.NewLookup(svc, sections),
		Store:   svc,
		Sink:    events.Multi(hub, events.NewLogSink(logger.Component("events"))),
	})

	creds, err := adminCredentials(cfg)
	if err != nil {
		return err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  origins.Allow,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.New(handler.Deps{
		Controller:  ctrl,
		Service:     svc,
		Sections:    sections,
		Importer:    roster.NewImporter(sections, svc),
		Reports:     files,
		Queue:       q,
		Hub:         hub,
		Virtual:     virtual,
		Credentials: creds,
		Auth: handler.AuthConfig{
			Issuer:        cfg.JWTIssuer,
			SigningKey:    cfg.JWTSigningKey,
			TTL:           cfg.AdminTTL,
			SecureCookies: cfg.SecureCookies,
		},
		Health: health,
	}).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("server forced shutdown: %v", err)
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.Warnf("scanner shutdown: %v", err)
	}
	log.Info("server exited")
	return nil
}

func adminCredentials(cfg config.App) (*auth.Credentials, error) {
	password := cfg.AdminPassword
	if password == "" && cfg.AdminPasswordHash == "" {
		log.Warn("ADMIN_PASSWORD not set, using the development default")
		password = "admin123"
	}
	return auth.NewCredentials(cfg.AdminUser, password, cfg.AdminPasswordHash)
}

// archiver returns the Cloudinary client when configured.
func archiver(cfg config.App) report.Archiver {
	c := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if !c.Configured() {
		log.Info("cloudinary not configured, reports stay local")
		return nil
	}
	log.WithField("cloud", cfg.CloudinaryCloudName).Info("cloudinary configured")
	return c
}
