package metrics

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewStdoutHandler builds a handler whose metrics are written to w as JSON
// every interval. The returned function flushes and stops the exporter.
func NewStdoutHandler(ctx context.Context, w io.Writer, interval time.Duration, name string) (Handler, func(context.Context) error, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(w)), stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, nil, err
	}
	if interval <= 0 {
		interval = time.Minute
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	return NewOtelHandler(ctx, provider, name), provider.Shutdown, nil
}
