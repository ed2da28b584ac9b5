package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	// Validate auth config
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth is enabled")
		}
		if c.Auth.TokenQueryParam == "" {
			return errors.New("auth.tokenQueryParam must be configured when auth is enabled")
		}
	}

	// Validate session store
	switch strings.ToLower(c.Store.Type) {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address must be specified for redis session store")
		}
	default:
		return fmt.Errorf("invalid store type: %s. Must be 'memory' or 'redis'", c.Store.Type)
	}

	// Validate sink config
	switch strings.ToLower(c.Sink.Type) {
	case "none":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address must be specified for redis sink")
		}
		if c.Sink.Channel == "" {
			return errors.New("sink channel must be configured for redis sink")
		}
	case "kafka":
		if len(c.Sink.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka sink")
		}
		if c.Sink.Channel == "" {
			return errors.New("sink channel must be configured for kafka sink")
		}
	default:
		return fmt.Errorf("invalid sink type: %s. Must be 'none', 'redis' or 'kafka'", c.Sink.Type)
	}

	// Validate model config
	if c.Model.InputSize < 32 || c.Model.InputSize%32 != 0 {
		return errors.New("model input size must be a positive multiple of 32")
	}
	if c.Model.Confidence < 0 || c.Model.Confidence > 1 {
		return errors.New("model confidence threshold must be in [0, 1]")
	}
	if c.Model.IOUThreshold <= 0 || c.Model.IOUThreshold > 1 {
		return errors.New("model IoU threshold must be in (0, 1]")
	}
	if c.Model.PoolSize < 1 {
		return errors.New("model pool size must be at least 1")
	}
	if len(c.Model.ClassNames) == 0 {
		return errors.New("model class names must not be empty")
	}

	// Validate pipeline config
	if c.Pipeline.MaxDimension < 1 {
		return errors.New("pipeline max dimension must be positive")
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return errors.New("pipeline JPEG quality must be in [1, 100]")
	}
	if len(c.Pipeline.BoxColor) != 3 {
		return errors.New("pipeline box color must be an RGB triple")
	}

	if c.WebSocket.MaxConnections < 1 {
		return errors.New("max connections must be positive")
	}

	if c.WebSocket.HandshakeTimeout < 1 {
		return errors.New("handshake timeout must be at least 1 second")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.ActivityTimeout {
		return errors.New("ping interval should be less than activity timeout")
	}

	if c.WebSocket.SessionTTL <= c.WebSocket.ActivityTimeout {
		return errors.New("session TTL should be greater than activity timeout")
	}

	return nil
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "JENJI_PORT")

	// Auth
	viper.BindEnv("auth.enabled", "JENJI_AUTH_ENABLED")
	viper.BindEnv("auth.jwtSecret", "JENJI_AUTH_JWT_SECRET")
	viper.BindEnv("auth.tokenQueryParam", "JENJI_AUTH_TOKEN_PARAM")
	viper.BindEnv("auth.revocationListKey", "JENJI_AUTH_REVOCATION_KEY")

	// Redis / store
	viper.BindEnv("redis.address", "JENJI_REDIS_ADDRESS")
	viper.BindEnv("redis.password", "JENJI_REDIS_PASSWORD")
	viper.BindEnv("store.type", "JENJI_STORE_TYPE")

	// Model
	viper.BindEnv("model.path", "JENJI_MODEL_PATH")
	viper.BindEnv("model.libraryPath", "JENJI_MODEL_LIBRARY_PATH")
	viper.BindEnv("model.confidence", "JENJI_MODEL_CONFIDENCE")
	viper.BindEnv("model.poolSize", "JENJI_MODEL_POOL_SIZE")

	// Pipeline
	viper.BindEnv("pipeline.maxDimension", "JENJI_PIPELINE_MAX_DIMENSION")
	viper.BindEnv("pipeline.jpegQuality", "JENJI_PIPELINE_JPEG_QUALITY")

	// Sink
	viper.BindEnv("sink.type", "JENJI_SINK_TYPE")
	viper.BindEnv("sink.channel", "JENJI_SINK_CHANNEL")
	viper.BindEnv("sink.kafka.brokers", "JENJI_KAFKA_BROKERS")

	// WebSocket
	viper.BindEnv("websocket.maxConnections", "JENJI_MAX_CONNECTIONS")
	viper.BindEnv("websocket.messageSizeLimit", "JENJI_MESSAGE_SIZE_LIMIT")
	viper.BindEnv("websocket.handshakeTimeout", "JENJI_HANDSHAKE_TIMEOUT")
	viper.BindEnv("websocket.pingInterval", "JENJI_PING_INTERVAL")
	viper.BindEnv("websocket.pongTimeout", "JENJI_PONG_TIMEOUT")
	viper.BindEnv("websocket.activityTimeout", "JENJI_ACTIVITY_TIMEOUT")
	viper.BindEnv("websocket.writeTimeout", "JENJI_WRITE_TIMEOUT")
	viper.BindEnv("websocket.sessionTTL", "JENJI_SESSION_TTL")
}
