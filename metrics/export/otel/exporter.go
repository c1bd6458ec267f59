package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is what the exporter reads on each collection.
// *authcore.Engine implements it.
type MetricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// observeFunc writes one instrument's data points from a snapshot.
type observeFunc func(metric.Observer, authcore.MetricsSnapshot)

// Exporter publishes engine metrics as OTel observable instruments.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration
}

// bucketOptions holds one "le" attribute set per histogram bound, shared by
// every histogram.
var bucketOptions = func() []metric.ObserveOption {
	opts := make([]metric.ObserveOption, len(internaldefs.HistogramBounds))
	for i, le := range internaldefs.HistogramBounds {
		opts[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return opts
}()

// NewExporter registers the instruments on meter and a single callback that
// reads source. Counters become Int64ObservableCounter. Each histogram
// becomes a cumulative "<name>_bucket" gauge keyed by the "le" attribute and
// a "<name>_count" counter. Call Close to unregister.
func NewExporter(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var (
		observables []metric.Observable
		observers   []observeFunc
	)

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		counter, err := meter.Int64ObservableCounter(def.Name,
			metric.WithDescription(def.Help),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			return nil, fmt.Errorf("otel counter %s: %w", def.Name, err)
		}
		observables = append(observables, counter)
		observers = append(observers, func(o metric.Observer, s authcore.MetricsSnapshot) {
			o.ObserveInt64(counter, int64(s.Counters[id]))
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{sample}"),
		)
		if err != nil {
			return nil, fmt.Errorf("otel histogram %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableCounter(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{sample}"),
		)
		if err != nil {
			return nil, fmt.Errorf("otel histogram %s: %w", def.Name, err)
		}
		observables = append(observables, buckets, count)
		observers = append(observers, func(o metric.Observer, s authcore.MetricsSnapshot) {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(s.Histograms[id]))
			for i, v := range cumulative {
				o.ObserveInt64(buckets, int64(v), bucketOptions[i])
			}
			o.ObserveInt64(count, int64(cumulative[len(cumulative)-1]))
		})
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("otel counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	observables = append(observables, dropped)

	exporter := &Exporter{source: source}
	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, observe := range observers {
			observe(o, snapshot)
		}
		o.ObserveInt64(dropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel register callback: %w", err)
	}
	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback. The instruments stay on the
// meter but report nothing further.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
