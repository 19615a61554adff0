package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/nimishamba325/Coral-reef/internal/config"
	"github.com/nimishamba325/Coral-reef/internal/handlers"
	"github.com/nimishamba325/Coral-reef/internal/hub"
	"github.com/nimishamba325/Coral-reef/internal/inference"
	"github.com/nimishamba325/Coral-reef/internal/logging"
	"github.com/nimishamba325/Coral-reef/internal/selection"
	"github.com/nimishamba325/Coral-reef/internal/workflow"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	registry := initRegistry(cfg, logger)
	a, err := newApp(cfg, registry, logger)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: a.router,
	}

	logger.Info("coral health client listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("inference_endpoint", cfg.InferenceEndpoint),
	)
	serveErr := serveHTTPServer(server, cfg.ShutdownTimeout, logger)
	a.close()

	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

// app is the wired client: selection store, coordinator, state feed and the
// HTTP surface in front of them.
type app struct {
	router      *gin.Engine
	store       *selection.Store
	coordinator *workflow.Coordinator
	stopHub     context.CancelFunc
	logger      *zap.Logger
}

func newApp(cfg *config.Config, registry selection.Registry, logger *zap.Logger) (*app, error) {
	client, err := inference.NewHTTPClient(cfg.InferenceEndpoint, logger, inference.WithTimeout(cfg.InferenceTimeout))
	if err != nil {
		return nil, err
	}

	store := selection.NewStore(registry, logger)
	coordinator := workflow.NewCoordinator(store, client, logger)
	store.Subscribe(coordinator.ImageChanged)

	hubCtx, stopHub := context.WithCancel(context.Background())
	stateHub := hub.New(logger)
	go stateHub.Run(hubCtx)
	coordinator.Subscribe(broadcastState(stateHub, logger))

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	r.Use(cors.New(handlers.CORSConfig(cfg.AllowedOrigins)))

	handlers.RegisterRoutes(r, handlers.API{
		Store:         store,
		Previews:      registry,
		Coordinator:   coordinator,
		Hub:           stateHub,
		Logger:        logger,
		MaxUploadSize: cfg.MaxUploadBytes,
	})

	return &app{router: r, store: store, coordinator: coordinator, stopHub: stopHub, logger: logger}, nil
}

// close stops in-flight work and releases the selected image's handle.
func (a *app) close() {
	a.stopHub()
	a.coordinator.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.ClearImage(ctx); err != nil {
		a.logger.Warn("failed to release selection on shutdown", zap.Error(err))
	}
}

func initRegistry(cfg *config.Config, zapLogger *zap.Logger) selection.Registry {
	if cfg.RedisAddr == "" {
		zapLogger.Info("using in-memory preview registry")
		return selection.NewMemoryRegistry()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", cfg.RedisAddr))
	}
	zapLogger.Info("using redis preview registry", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.PreviewTTL))
	return selection.NewRedisRegistry(selection.NewRedisCache(client), cfg.PreviewTTL, zapLogger)
}

func broadcastState(h *hub.Hub, zapLogger *zap.Logger) func(workflow.State) {
	return func(state workflow.State) {
		payload, err := json.Marshal(state)
		if err != nil {
			zapLogger.Error("failed to encode workflow state", zap.Error(err))
			return
		}
		h.Broadcast(payload)
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
