// File: metrics/metrics.go
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// WebSocket Metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "The current number of active WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})

	// Pipeline Metrics
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_received_total",
		Help: "The total number of frames received from clients.",
	})
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_processed_total",
		Help: "The total number of frames that completed the detection pipeline.",
	})
	FramesShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_shed_total",
		Help: "The total number of frames discarded by the latest-wins admission policy.",
	})
	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frame_errors_total",
		Help: "The total number of per-frame pipeline failures.",
	}, []string{"stage"})
	ResponsesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "responses_sent_total",
		Help: "The total number of detection responses sent to clients.",
	})
	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_duration_seconds",
		Help:    "Wall-clock duration of a single inference call.",
		Buckets: prometheus.DefBuckets,
	})

	// Sink Metrics
	SinkMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_messages_published_total",
		Help: "The total number of detection events published to the sink.",
	}, []string{"sink_type"})
	SinkPublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_publish_retries_total",
		Help: "The total number of retries when publishing to the sink.",
	}, []string{"sink_type"})

	// Auth Metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_success_total",
		Help: "The total number of successful authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "The total number of failed authentications.",
	}, []string{"reason"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Infof("Starting metrics server on %s%s", addr, path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("Failed to start metrics server: %v", err)
		}
	}()
}
