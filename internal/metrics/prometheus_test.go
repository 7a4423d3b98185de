package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSessionStarted()
	m.RecordSessionStarted()
	m.RecordSessionEnded(false, 1.5)
	m.RecordSessionEnded(true, 0.2)
	m.RecordSessionRejected("unsupported_format")
	m.RecordChunkProduced(1024)
	m.RecordChunkProduced(512)
	m.RecordChunkDropped()
	m.RecordSendFailure("timeout")
	m.SetClientsConnected(3)

	tests := []struct {
		name      string
		collector prometheus.Collector
		expected  float64
	}{
		{name: "sessions started", collector: m.SessionsStarted, expected: 2},
		{name: "sessions completed", collector: m.SessionsCompleted, expected: 1},
		{name: "sessions failed", collector: m.SessionsFailed, expected: 1},
		{name: "sessions rejected", collector: m.SessionsRejected.WithLabelValues("unsupported_format"), expected: 1},
		{name: "chunks produced", collector: m.ChunksProduced, expected: 2},
		{name: "bytes produced", collector: m.BytesProduced, expected: 1536},
		{name: "chunks dropped", collector: m.ChunksDropped, expected: 1},
		{name: "send timeouts", collector: m.SendFailures.WithLabelValues("timeout"), expected: 1},
		{name: "clients connected", collector: m.ClientsConnected, expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.collector); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.RecordSessionStarted()
	m.RecordSessionEnded(false, 1)
	m.RecordSessionRejected("unsupported_stream")
	m.RecordChunkProduced(10)
	m.RecordChunkDispatched()
	m.RecordChunkDropped()
	m.RecordSendFailure("error")
	m.SetClientsConnected(1)
	m.RecordClientRegistered()
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
	m.RecordHTTPError("GET", "/health", "internal")
}

func TestSeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
