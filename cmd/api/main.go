// server/cmd/api/main.go
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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pharma-scm-api-server/config"
	"pharma-scm-api-server/internal/api/routes"
	"pharma-scm-api-server/internal/auth"
	"pharma-scm-api-server/internal/blockchain"
	"pharma-scm-api-server/internal/database"
	"pharma-scm-api-server/internal/logging"
	"pharma-scm-api-server/internal/metrics"
	"pharma-scm-api-server/internal/prediction"
	"pharma-scm-api-server/internal/s3"
	"pharma-scm-api-server/internal/socket"
	"pharma-scm-api-server/internal/store"
	"pharma-scm-api-server/internal/store/memory"
	"pharma-scm-api-server/internal/store/mongodb"
	"pharma-scm-api-server/internal/workflow"
)

func main() {
	// 1. Load .env and configuration
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Could not load .env: %v", err)
	}
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		log.Fatalf("Could not load config: %v", err)
	}

	logger, err := logging.New(cfg.Server.Mode, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Could not create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 3. Stores
	batches, users, closeStore, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := database.SeedFDAReviewer(ctx, users, cfg.Seed, logger); err != nil {
		return err
	}

	// 4. Observers: websocket notifications and, when enabled, the ledger
	hub := socket.NewHub(logger)
	observers := []workflow.Observer{socket.NewNotifier(hub)}

	background, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	g, gctx := errgroup.WithContext(background)

	if cfg.Fabric.Enabled {
		ledger, err := blockchain.Connect(cfg.Fabric, logger)
		if err != nil {
			return err
		}
		defer ledger.Close()
		recorder := blockchain.NewRecorder(ledger.Contract, cfg.Fabric.QueueSize, logger)
		observers = append(observers, recorder)
		g.Go(func() error {
			recorder.Run(gctx)
			return nil
		})
		logger.Info("Ledger anchoring enabled", zap.String("channel", cfg.Fabric.ChannelName))
	}

	// 5. Workflow engine and dispatch recovery
	engine := workflow.New(batches, workflow.Config{
		SettlingDelay:    cfg.Workflow.SettlingDelay,
		BatchConcurrency: cfg.Workflow.BatchConcurrency,
	}, logger, m, observers...)

	if n, err := engine.RecoverStale(ctx, cfg.Workflow.StaleDispatchAfter); err != nil {
		logger.Error("Startup dispatch recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("Startup dispatch recovery finished", zap.Int("recovered", n))
	}
	g.Go(func() error {
		engine.RunRecovery(gctx, cfg.Workflow.RecoveryInterval, cfg.Workflow.StaleDispatchAfter)
		return nil
	})

	// 6. Anomaly prediction
	predictions, err := newPredictionService(ctx, cfg, logger, m)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiration)
	if err != nil {
		return err
	}

	// 7. Router and HTTP server
	if cfg.Server.Mode != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := routes.SetupRouter(routes.Dependencies{
		Config:      cfg,
		Engine:      engine,
		Users:       users,
		Tokens:      tokens,
		Hub:         hub,
		Predictions: predictions,
		Metrics:     m,
		Logger:      logger,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting API server", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	// 8. Graceful shutdown: stop taking requests, let dispatches settle,
	// then stop background workers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Warn("Dispatches left in Dispatching for recovery", zap.Error(err))
	}
	cancelBackground()
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.BatchStore, store.UserStore, func(), error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		return memory.NewBatchStore(), memory.NewUserStore(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := mongodb.Connect(connectCtx, cfg.Mongo.URI)
	if err != nil {
		return nil, nil, nil, err
	}
	db := client.Database(cfg.Mongo.DBName)
	if err := mongodb.EnsureIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, nil, err
	}
	logger.Info("Connected to MongoDB", zap.String("db", cfg.Mongo.DBName))

	closeFn := func() { disconnect(client, logger) }
	return mongodb.NewBatchStore(db, logger), mongodb.NewUserStore(db), closeFn, nil
}

func disconnect(client *mongo.Client, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("Failed to disconnect from MongoDB", zap.Error(err))
	}
}

func newPredictionService(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*prediction.Service, error) {
	if cfg.LLM.APIKey == "" {
		logger.Warn("No LLM API key configured; anomaly prediction disabled")
		return nil, nil
	}
	predictor, err := prediction.NewGeminiPredictor(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}

	opts := []prediction.Option{
		prediction.WithTimeout(cfg.LLM.Timeout),
		prediction.WithLogger(logger),
		prediction.WithMetrics(m),
	}
	if cfg.S3.Enabled {
		uploader, err := s3.NewUploader(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		opts = append(opts, prediction.WithArchiver(uploader))
		logger.Info("Prediction reports archived to S3", zap.String("bucket", cfg.S3.Bucket))
	}
	return prediction.NewService(predictor, opts...), nil
}
