package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/medimage-analyzer/internal/application"
	appanalysis "github.com/bryanwahyu/medimage-analyzer/internal/application/analysis"
	appimages "github.com/bryanwahyu/medimage-analyzer/internal/application/images"
	appreport "github.com/bryanwahyu/medimage-analyzer/internal/application/report"
	"github.com/bryanwahyu/medimage-analyzer/internal/config"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/aimodels"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
	aiopenai "github.com/bryanwahyu/medimage-analyzer/internal/infra/ai/openai"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/ai/prompt"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/medimage-analyzer/internal/infra/db/mysql"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/db/postgres"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/httpserver"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/logger"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/medimage-analyzer/internal/metrics"
	"github.com/bryanwahyu/medimage-analyzer/internal/middleware"
	"github.com/bryanwahyu/medimage-analyzer/internal/realtime"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

type repositories struct {
	analyses analysis.Repository
	images   images.Repository
	models   aimodels.Repository
	db       *sql.DB // nil for the memory driver
}

type blobStore interface {
	images.BlobStore
	Ping(ctx context.Context) error
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if repos.db != nil {
		defer repos.db.Close()
	}
	log.Info("persistence ready", "driver", cfg.Database.Driver)

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	notifier := realtime.NewNotifier(realtime.NewRegistry(), log)
	hub := realtime.NewHandler(notifier, log)

	clock := application.SystemClock{}
	analyses := appanalysis.NewService(appanalysis.Deps{
		Analyses: repos.analyses,
		Images:   repos.images,
		Models:   repos.models,
		Notifier: notifier,
		Clock:    clock,
		Log:      log,
	}, appanalysis.Config{
		MinDuration:        cfg.MinDuration(),
		MaxDuration:        cfg.MaxDuration(),
		FailureProbability: cfg.Processing.FailureProbability,
	})
	imgs := appimages.NewService(repos.images, blobs, clock, log, appimages.Config{
		MaxBytes:          cfg.Uploads.MaxBytes,
		AllowedExtensions: cfg.AllowedExtensions(),
	})
	imgs.SetUsageChecker(analyses)
	reports := appreport.NewService(repos.analyses, repos.models, repos.images, reportClient(cfg, log), clock)

	token := cfg.Auth.Token
	if token == "" {
		token = uuid.NewString()
		log.Info("no auth token configured, generated one for this run; obtain it via /api/v1/login/token")
	}

	checks := map[string]middleware.HealthChecker{"storage": middleware.CheckFunc(blobs.Ping)}
	if repos.db != nil {
		checks["database"] = &middleware.DatabaseHealthChecker{DB: repos.db}
	}

	var draining atomic.Bool
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	handler := httpserver.NewRouter(httpserver.Services{
		Analyses: analyses,
		Images:   imgs,
		Reports:  reports,
		Hub:      hub,
	}, httpserver.Options{
		Credentials: middleware.Credentials{
			Email:    cfg.Auth.DemoEmail,
			Password: cfg.Auth.DemoPassword,
			Token:    token,
		},
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimiter:    limiter,
		HealthChecks:   checks,
		Ready:          func() bool { return !draining.Load() },
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		MaxUploadBytes: cfg.Uploads.MaxBytes,
		WebSocket: httpserver.WSConfig{
			WriteTimeout:    time.Duration(cfg.WebSocket.WriteTimeoutSeconds) * time.Second,
			PongTimeout:     time.Duration(cfg.WebSocket.PongTimeoutSeconds) * time.Second,
			MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		},
		Log: log,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return hub.RunHeartbeat(gctx, time.Duration(cfg.WebSocket.HeartbeatSeconds)*time.Second)
	})
	g.Go(func() error {
		return limiter.RunCleanup(gctx, 5*time.Minute)
	})
	g.Go(func() error {
		<-gctx.Done()
		draining.Store(true)
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		// websocket connections are hijacked; Shutdown does not wait for them
		if err := analyses.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("analysis shutdown: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func openRepositories(ctx context.Context, cfg *config.Config) (repositories, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return repositories{}, err
		}
		if err := mysqlp.Migrate(ctx, db); err != nil {
			db.Close()
			return repositories{}, err
		}
		return repositories{
			analyses: mysqlp.NewAnalysisRepository(db),
			images:   mysqlp.NewImageRepository(db),
			models:   mysqlp.NewModelRepository(db),
			db:       db,
		}, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return repositories{}, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return repositories{}, err
		}
		return repositories{
			analyses: postgres.NewAnalysisRepository(db),
			images:   postgres.NewImageRepository(db),
			models:   postgres.NewModelRepository(db),
			db:       db,
		}, nil
	default:
		return repositories{
			analyses: memory.NewAnalysisRepository(),
			images:   memory.NewImageRepository(),
			models:   memory.NewModelRepository(time.Now()),
		}, nil
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blobStore, error) {
	if !cfg.Minio.Enabled {
		local, err := storage.NewLocal(cfg.Uploads.Dir)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
	store, err := storage.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func reportClient(cfg *config.Config, log *slog.Logger) ai.Client {
	if cfg.OpenAI.APIKey == "" {
		log.Info("openai key not set, reports use the local narrator")
		return prompt.Local{}
	}
	return aiopenai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
}
