package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/charityauth"
	"github.com/MrEthical07/charityauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is satisfied by *charityauth.Engine.
type MetricsSource interface {
	MetricsSnapshot() charityauth.MetricsSnapshot
	AuditDropped() uint64
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithAttributes attaches attrs to every observation, for example the
// deployment or tenant the engine serves.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(e *Exporter) {
		e.common = append(e.common, attrs...)
	}
}

type latency struct {
	id      charityauth.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	le      [8]metric.ObserveOption
}

// Exporter publishes engine counters as observable OTel instruments. Each
// latency histogram becomes a bucket gauge keyed by an "le" attribute plus a
// sample count.
type Exporter struct {
	source       MetricsSource
	common       []attribute.KeyValue
	base         metric.ObserveOption
	counters     map[charityauth.MetricID]metric.Int64ObservableCounter
	latencies    []latency
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

// New registers instruments on meter and one callback reading source.
// Close unregisters the callback.
func New(meter metric.Meter, source MetricsSource, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make(map[charityauth.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.base = metric.WithAttributes(e.common...)

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = ins
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		l, err := e.newLatency(meter, def)
		if err != nil {
			return nil, err
		}
		e.latencies = append(e.latencies, l)
		observables = append(observables, l.buckets, l.count)
	}

	dropped, err := meter.Int64ObservableCounter(
		"charityauth_audit_dropped_total",
		metric.WithDescription("Audit events dropped because the dispatcher queue was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("counter charityauth_audit_dropped_total: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) newLatency(meter metric.Meter, def internaldefs.HistogramDef) (latency, error) {
	l := latency{id: def.ID}

	buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
		metric.WithDescription(def.Help+" Cumulative count per upper bound."))
	if err != nil {
		return l, fmt.Errorf("gauge %s_bucket: %w", def.Name, err)
	}
	count, err := meter.Int64ObservableGauge(def.Name+"_count",
		metric.WithDescription(def.Help+" Total samples."))
	if err != nil {
		return l, fmt.Errorf("gauge %s_count: %w", def.Name, err)
	}
	l.buckets, l.count = buckets, count

	for i, bound := range internaldefs.HistogramBounds {
		attrs := make([]attribute.KeyValue, 0, len(e.common)+1)
		attrs = append(attrs, e.common...)
		attrs = append(attrs, attribute.String("le", bound))
		l.le[i] = metric.WithAttributes(attrs...)
	}
	return l, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snap.Counters[id]), e.base)
	}
	for _, l := range e.latencies {
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[l.id]))
		for i, v := range cum {
			o.ObserveInt64(l.buckets, int64(v), l.le[i])
		}
		o.ObserveInt64(l.count, int64(cum[len(cum)-1]), e.base)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()), e.base)
	return nil
}

// Close unregisters the collection callback. It is safe on a nil Exporter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
