package cli

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tokutei-learning/tokutei"
	otelexport "github.com/tokutei-learning/tokutei/metrics/export/otel"
)

const meterName = "github.com/tokutei-learning/tokutei"

// otelCollector reads engine metrics through the OpenTelemetry SDK on demand.
type otelCollector struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
	exporter *otelexport.Exporter
}

func newOTelCollector(engine *tokutei.Engine) (*otelCollector, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := otelexport.NewExporter(provider.Meter(meterName), engine)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return &otelCollector{reader: reader, provider: provider, exporter: exp}, nil
}

// collect returns every int64 instrument by name, data points summed.
func (c *otelCollector) collect(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch d := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range d.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range d.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out, nil
}

// run logs the non-zero values every interval until ctx is done.
func (c *otelCollector) run(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			values, err := c.collect(ctx)
			if err != nil {
				logger.Warn("otel collect failed", "error", err)
				continue
			}
			logger.Info("metrics", nonZeroAttrs(values)...)
		}
	}
}

func (c *otelCollector) close() error {
	return errors.Join(c.exporter.Close(), c.provider.Shutdown(context.Background()))
}

func nonZeroAttrs(values map[string]int64) []any {
	names := make([]string, 0, len(values))
	for name, v := range values {
		if v != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	attrs := make([]any, 0, 2*len(names))
	for _, name := range names {
		attrs = append(attrs, name, values[name])
	}
	return attrs
}
