package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aplsync/internal/alert"
	"aplsync/internal/apl"
	"aplsync/internal/config"
	cronrunner "aplsync/internal/cron"
	"aplsync/internal/db"
	"aplsync/internal/handler"
	"aplsync/internal/health"
	"aplsync/internal/ingest"
	"aplsync/internal/logger"
	gormrepository "aplsync/internal/repository/gorm"
	"aplsync/internal/scheduler"
	"aplsync/internal/source"
	"aplsync/internal/transform"
)

func main() {
	cfgPath := os.Getenv("APL_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("APL_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	fetcher := &source.Fetcher{
		HTTP:      &http.Client{Timeout: cfg.Fetch.Timeout},
		UserAgent: cfg.Fetch.UserAgent,
	}
	notifier := &alert.Webhook{
		URL:         cfg.Alert.WebhookURL,
		HTTP:        &http.Client{Timeout: cfg.Alert.Timeout},
		Logger:      logger,
		HistorySize: cfg.Alert.HistorySize,
	}
	monitor := &health.Monitor{
		Repo:           store,
		Config:         cfg.Health,
		AlertThreshold: cfg.Alert.ConsecutiveFailureThreshold,
		Logger:         logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	sched := &scheduler.Scheduler{
		Repo:           store,
		Monitor:        monitor,
		Notifier:       notifier,
		Logger:         logger,
		AlertThreshold: cfg.Alert.ConsecutiveFailureThreshold,
		Cron:           cronRunner,
	}

	for _, st := range cfg.States {
		processor, err := apl.ParseProcessor(st.Processor)
		if err != nil {
			logger.Fatal("bad state config", zap.String("state", st.Code), zap.Error(err))
		}
		st.Code = strings.ToUpper(strings.TrimSpace(st.Code))
		svc := &ingest.Service{
			State:                      st,
			Processor:                  processor,
			Fetcher:                    fetcher,
			Transformer:                transform.New(st.Code, processor, logger),
			Repo:                       store,
			Logger:                     logger,
			SignificantChangeThreshold: cfg.Sync.SignificantChangeThreshold,
		}
		if err := sched.Register(st, processor, svc); err != nil {
			logger.Fatal("state registration failed", zap.String("state", st.Code), zap.Error(err))
		}
	}

	if cfg.Sync.Enabled {
		cronRunner.Start()
		defer cronRunner.Stop()
	} else {
		logger.Warn("scheduled sync disabled; manual triggers only")
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn, Monitor: monitor}
	healthHandler.Register(engine)
	syncHandler := &handler.SyncHandler{
		Repo:      store,
		Scheduler: sched,
		Alerts:    notifier,
		Logger:    logger,
	}
	syncHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
