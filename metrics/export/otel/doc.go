// Package otel binds authcore engine metrics to an OpenTelemetry meter.
//
// [NewExporter] creates one observable counter per engine counter. Each
// latency histogram is published as a cumulative "_bucket" gauge with an
// "le" attribute per bound plus a "_count" counter, mirroring the
// Prometheus layout. A single callback reads the engine snapshot on each
// collection cycle. The caller owns the MeterProvider.
package otel
