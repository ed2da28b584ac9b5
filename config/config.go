package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Store     StoreConfig
	Model     ModelConfig
	Pipeline  PipelineConfig
	Sink      SinkConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int // Seconds
	WriteTimeout int // Seconds
}

type WebSocketConfig struct {
	MaxConnections   int
	MessageSizeLimit int64 // Bytes; must fit one compressed frame
	HandshakeTimeout int   // Seconds
	PingInterval     int   // Seconds
	PongTimeout      int   // Seconds
	ActivityTimeout  int   // Seconds
	WriteTimeout     int   // Seconds
	MaxRetries       int
	KeepAlive        bool
	SessionTTL       int // Seconds
}

type AuthConfig struct {
	Enabled           bool
	JWTSecret         string
	TokenQueryParam   string
	RevocationListKey string
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int // Seconds
}

// StoreConfig selects the session metadata store. "memory" keeps records
// in-process; "redis" shares them across instances.
type StoreConfig struct {
	Type string
}

type ModelConfig struct {
	Path         string
	LibraryPath  string // ONNX Runtime shared library; empty = per-OS default
	InputName    string
	OutputName   string
	InputSize    int
	Confidence   float64
	IOUThreshold float64
	PoolSize     int // Number of model sessions; 1 serializes all inference
	WarmUp       bool
	ClassNames   []string
}

type PipelineConfig struct {
	MaxDimension int // Frames larger than this are downscaled before inference
	JPEGQuality  int
	BoxColor     []int // RGB
	BoxThickness int
}

type SinkConfig struct {
	Type    string // "none", "redis" or "kafka"
	Channel string
	Kafka   KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("JENJI")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			// A missing file is tolerated: defaults plus env vars are
			// enough to run, and containerized deployments often configure
			// purely through the environment.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
		}

		if err := viper.Unmarshal(&instance); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := instance.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
