package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("otel exporter: nil meter")
	ErrNilSource = errors.New("otel exporter: nil metrics source")
)

// Source is satisfied by *linkAuth.Engine.
type Source interface {
	MetricsSnapshot() linkAuth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter observes a Source once per collection cycle.
type Exporter struct {
	source       Source
	registration metric.Registration

	counters []metric.Int64ObservableCounter // indexed like internaldefs.Counters
	buckets  metric.Int64ObservableGauge     // one series per le bucket
	dropped  metric.Int64ObservableCounter

	bucketAttrs [len(internaldefs.Bounds) + 1]metric.ObserveOption
}

func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.Counters)+2)

	for _, f := range internaldefs.Counters {
		c, err := meter.Int64ObservableCounter(f.Name, metric.WithDescription(f.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", f.Name, err)
		}
		e.counters = append(e.counters, c)
		observables = append(observables, c)
	}

	var err error
	e.buckets, err = meter.Int64ObservableGauge(
		internaldefs.Latency.Name+"_bucket",
		metric.WithDescription(internaldefs.Latency.Help+" Cumulative count per le bound."),
	)
	if err != nil {
		return nil, fmt.Errorf("latency buckets: %w", err)
	}
	for i := range e.bucketAttrs {
		e.bucketAttrs[i] = metric.WithAttributes(attribute.String("le", internaldefs.BucketLabel(i)))
	}

	e.dropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("audit dropped: %w", err)
	}
	observables = append(observables, e.buckets, e.dropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for i, f := range internaldefs.Counters {
		o.ObserveInt64(e.counters[i], int64(snap.Counters[f.ID]))
	}
	if raw, ok := snap.Histograms[internaldefs.Latency.ID]; ok {
		for i, n := range internaldefs.Cumulative(raw) {
			o.ObserveInt64(e.buckets, int64(n), e.bucketAttrs[i])
		}
	}
	o.ObserveInt64(e.dropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. The meter provider is left running.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
