package config

import "github.com/spf13/viper"

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)

	// Auth
	viper.SetDefault("auth.enabled", false) // Default to off for security
	viper.SetDefault("auth.jwtSecret", "default-secret")
	viper.SetDefault("auth.tokenQueryParam", "token")
	viper.SetDefault("auth.revocationListKey", "jwt:revoked")

	// Redis
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolSize", 100)
	viper.SetDefault("redis.poolTimeout", 5)

	// Session store
	viper.SetDefault("store.type", "memory")

	// WebSocket
	viper.SetDefault("websocket.maxConnections", 100)
	viper.SetDefault("websocket.messageSizeLimit", 10*1024*1024)
	viper.SetDefault("websocket.maxRetries", 5)
	viper.SetDefault("websocket.handshakeTimeout", 10)
	viper.SetDefault("websocket.pingInterval", 25)
	viper.SetDefault("websocket.pongTimeout", 30)
	viper.SetDefault("websocket.activityTimeout", 60)
	viper.SetDefault("websocket.writeTimeout", 10)
	viper.SetDefault("websocket.keepAlive", true)
	viper.SetDefault("websocket.sessionTTL", 90)

	// Model
	viper.SetDefault("model.path", "model/best.onnx")
	viper.SetDefault("model.libraryPath", "")
	viper.SetDefault("model.inputName", "images")
	viper.SetDefault("model.outputName", "output0")
	viper.SetDefault("model.inputSize", 640)
	viper.SetDefault("model.confidence", 0.25)
	viper.SetDefault("model.iouThreshold", 0.7)
	viper.SetDefault("model.poolSize", 1)
	viper.SetDefault("model.warmUp", true)
	viper.SetDefault("model.classNames", []string{
		"OxygenTank", "NitrogenTank", "FirstAidBox", "FireAlarm",
		"SafetySwitchPanel", "EmergencyPhone", "FireExtinguisher",
	})

	// Pipeline
	viper.SetDefault("pipeline.maxDimension", 640)
	viper.SetDefault("pipeline.jpegQuality", 90)
	viper.SetDefault("pipeline.boxColor", []int{0, 255, 0})
	viper.SetDefault("pipeline.boxThickness", 2)

	// Detection sink
	viper.SetDefault("sink.type", "none")
	viper.SetDefault("sink.channel", "detections")

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
}
