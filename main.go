package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nee-hit476/Jenji/annotate"
	"github.com/nee-hit476/Jenji/config"
	"github.com/nee-hit476/Jenji/detect"
	"github.com/nee-hit476/Jenji/imaging"
	"github.com/nee-hit476/Jenji/metrics"
	"github.com/nee-hit476/Jenji/pipeline"
	"github.com/nee-hit476/Jenji/server"
	"github.com/nee-hit476/Jenji/services"
	"github.com/nee-hit476/Jenji/session"
	"github.com/nee-hit476/Jenji/sink"
	"github.com/nee-hit476/Jenji/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg := config.Get()

	serverID := uuid.New().String()
	log.Infof("Starting server instance %s (env %s)", serverID, env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One Redis client is shared by every Redis-backed concern; none of
	// them configured means no client at all.
	var redisClient *redis.Client
	if cfg.Store.Type == "redis" || cfg.Auth.Enabled || cfg.Sink.Type == "redis" {
		var err error
		redisClient, err = services.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer services.CloseRedisClient(redisClient)
	}

	sessionTTL := time.Duration(cfg.WebSocket.SessionTTL) * time.Second
	var store session.Store
	switch cfg.Store.Type {
	case "redis":
		store = session.NewRedisStore(redisClient, sessionTTL)
	default:
		store = session.NewMemoryStore(sessionTTL)
	}

	detector := detect.NewONNXDetector(&cfg.Model, log)
	detector.Start(ctx)
	defer detector.Close()

	events, err := buildSink(cfg, redisClient, log)
	if err != nil {
		log.Fatalf("Failed to create detection sink: %v", err)
	}
	defer events.Close()

	manager := websocket.NewClientManager(store, serverID, log)
	dispatcher := pipeline.NewDispatcher(
		detector,
		imaging.Codec{},
		annotate.New(cfg.Pipeline.BoxColor, cfg.Pipeline.BoxThickness),
		manager,
		events,
		serverID,
		pipeline.Options{
			MaxDimension: cfg.Pipeline.MaxDimension,
			JPEGQuality:  cfg.Pipeline.JPEGQuality,
		},
		log,
	)

	validator := websocket.NewJWTValidator(&cfg.Auth, redisClient, log)
	handler := websocket.NewHandler(manager, dispatcher, validator, cfg, detector.Ready, log)

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, log)
	}

	srv := server.New(&cfg.Server, handler, manager, detector.Ready, log)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal %s, shutting down", sig)
	case err := <-serverErr:
		if err != nil {
			log.Errorf("Server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Shutdown error: %v", err)
	}
	log.Info("Server stopped")
}

func buildSink(cfg *config.AppConfig, redisClient *redis.Client, log *logrus.Logger) (sink.Sink, error) {
	switch cfg.Sink.Type {
	case "redis":
		return sink.NewRedisSink(redisClient, cfg.Sink.Channel), nil
	case "kafka":
		return sink.NewKafkaSink(cfg.Sink.Kafka.Brokers, cfg.Sink.Channel, log)
	default:
		return sink.NopSink{}, nil
	}
}
