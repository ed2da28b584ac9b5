package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{Port: 8080, ReadTimeout: 15, WriteTimeout: 15},
		WebSocket: WebSocketConfig{
			MaxConnections:   100,
			MessageSizeLimit: 10 * 1024 * 1024,
			HandshakeTimeout: 10,
			PingInterval:     25,
			PongTimeout:      30,
			ActivityTimeout:  60,
			WriteTimeout:     10,
			MaxRetries:       5,
			SessionTTL:       90,
		},
		Redis: RedisConfig{Address: "localhost:6379"},
		Store: StoreConfig{Type: "memory"},
		Model: ModelConfig{
			Path:         "model/best.onnx",
			InputSize:    640,
			Confidence:   0.25,
			IOUThreshold: 0.7,
			PoolSize:     1,
			ClassNames:   []string{"OxygenTank", "FireAlarm"},
		},
		Pipeline: PipelineConfig{
			MaxDimension: 640,
			JPEGQuality:  90,
			BoxColor:     []int{0, 255, 0},
			BoxThickness: 2,
		},
		Sink: SinkConfig{Type: "none", Channel: "detections"},
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *AppConfig) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *AppConfig) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "auth enabled with default secret",
			mutate:  func(c *AppConfig) { c.Auth = AuthConfig{Enabled: true, JWTSecret: "default-secret", TokenQueryParam: "token"} },
			wantErr: "jwtSecret",
		},
		{
			name:    "unknown store type",
			mutate:  func(c *AppConfig) { c.Store.Type = "postgres" },
			wantErr: "invalid store type",
		},
		{
			name:    "unknown sink type",
			mutate:  func(c *AppConfig) { c.Sink.Type = "rabbitmq" },
			wantErr: "invalid sink type",
		},
		{
			name:    "kafka sink without brokers",
			mutate:  func(c *AppConfig) { c.Sink.Type = "kafka" },
			wantErr: "kafka brokers",
		},
		{
			name:    "input size not multiple of 32",
			mutate:  func(c *AppConfig) { c.Model.InputSize = 100 },
			wantErr: "multiple of 32",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *AppConfig) { c.Model.Confidence = 1.5 },
			wantErr: "confidence",
		},
		{
			name:    "zero pool size",
			mutate:  func(c *AppConfig) { c.Model.PoolSize = 0 },
			wantErr: "pool size",
		},
		{
			name:    "max dimension zero",
			mutate:  func(c *AppConfig) { c.Pipeline.MaxDimension = 0 },
			wantErr: "max dimension",
		},
		{
			name:    "box color wrong length",
			mutate:  func(c *AppConfig) { c.Pipeline.BoxColor = []int{0, 255} },
			wantErr: "RGB triple",
		},
		{
			name:    "ping interval past activity timeout",
			mutate:  func(c *AppConfig) { c.WebSocket.PingInterval = 120 },
			wantErr: "ping interval",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}
