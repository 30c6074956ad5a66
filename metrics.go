package multicall

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricCallCount         = []string{"multicall", "call", "count"}
	MetricCallErrorCount    = []string{"multicall", "call", "error", "count"}
	MetricCallDisabledCount = []string{"multicall", "call", "disabled", "count"}
	// MetricCallDurationMs samples the full dial-invoke-close cycle of
	// a single call in milliseconds.
	MetricCallDurationMs     = []string{"multicall", "call", "duration", "ms"}
	MetricBroadcastCount     = []string{"multicall", "broadcast", "count"}
	MetricBroadcastFailCount = []string{"multicall", "broadcast", "endpoint", "failure", "count"}
	MetricPoolSize           = []string{"multicall", "pool", "endpoints"}
)

type TelemetryLabel string

var (
	LabelEndpoint TelemetryLabel = "endpoint"
	LabelAddr     TelemetryLabel = "addr"
	LabelProtocol TelemetryLabel = "protocol"
	LabelMethod   TelemetryLabel = "method"
	LabelError    TelemetryLabel = "error"
	LabelRouter   TelemetryLabel = "router"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
