package loadspiker

import (
	"github.com/ecamuto/LoadSpiker/internal/metrics"
	"github.com/ecamuto/LoadSpiker/internal/protocol"
)

// Outcome is the wire-stable result of one operation: the same shape
// regardless of which protocol produced it, and the same shape a JSON
// reporter or another language's binding would serialize.
type Outcome struct {
	StatusCode     int               `json:"status_code"`
	ResponseTimeUs int64             `json:"response_time_us"`
	ResponseTimeMs float64           `json:"response_time_ms"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body"`
	Success        bool              `json:"success"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	ProtocolData   map[string]any    `json:"protocol_data,omitempty"`
}

func newOutcome(o *protocol.Outcome) *Outcome {
	if o == nil {
		return nil
	}
	return &Outcome{
		StatusCode:     o.StatusCode,
		ResponseTimeUs: o.ResponseTimeUs,
		ResponseTimeMs: o.ResponseTimeMs(),
		Headers:        o.Headers,
		Body:           string(o.Body),
		Success:        o.Success,
		ErrorMessage:   o.Error,
		ProtocolData:   o.ProtocolData,
	}
}

// MetricsSnapshot is the wire-stable metrics record returned by GetMetrics,
// RunScenario, and RunCustom.
type MetricsSnapshot struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`

	TotalResponseTimeMs float64 `json:"total_response_time_ms"`
	MinResponseTimeMs   float64 `json:"min_response_time_ms"`
	MaxResponseTimeMs   float64 `json:"max_response_time_ms"`

	RequestsPerSecond float64 `json:"requests_per_second"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	SuccessRate       float64 `json:"success_rate"`
	ErrorRate         float64 `json:"error_rate"`

	// Microsecond-precision fields, for consumers that need more than the
	// millisecond fields above carry.
	MinResponseTimeUs int64 `json:"min_response_time_us"`
	MaxResponseTimeUs int64 `json:"max_response_time_us"`
}

func newMetricsSnapshot(s metrics.Snapshot) MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:       s.TotalRequests,
		SuccessfulRequests:  s.SuccessfulRequests,
		FailedRequests:      s.FailedRequests,
		TotalResponseTimeMs: float64(s.TotalResponseTimeUs) / 1000.0,
		MinResponseTimeMs:   s.MinResponseTimeMs,
		MaxResponseTimeMs:   s.MaxResponseTimeMs,
		RequestsPerSecond:   s.RequestsPerSecond,
		AvgResponseTimeMs:   s.AvgResponseTimeMs,
		SuccessRate:         s.SuccessRate,
		ErrorRate:           s.ErrorRate,
		MinResponseTimeUs:   s.MinResponseTimeUs,
		MaxResponseTimeUs:   s.MaxResponseTimeUs,
	}
}
