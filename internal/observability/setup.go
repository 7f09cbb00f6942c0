package observability

import (
	"context"

	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/observability"
)

// Setup installs the default logger and tracer provider and builds the
// metrics registry. The returned function flushes pending spans.
func Setup(ctx context.Context, serviceName string, development bool, otlpEndpoint string) (*observability.Metrics, func(context.Context) error, error) {
	observability.InitLogger(development)
	metrics := observability.NewMetrics()
	tracerShutdown, err := observability.InitTracing(ctx, serviceName, otlpEndpoint)
	if err != nil {
		return nil, nil, err
	}
	return metrics, tracerShutdown, nil
}
