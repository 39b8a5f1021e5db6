package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/charityauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.Mutex
	counters map[charityauth.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() charityauth.MetricsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := charityauth.MetricsSnapshot{
		Counters:   make(map[charityauth.MetricID]uint64, len(f.counters)),
		Histograms: map[charityauth.MetricID][]uint64{charityauth.MetricLoginLatency: append([]uint64(nil), f.latency...)},
	}
	for k, v := range f.counters {
		snap.Counters[k] = v
	}
	return snap
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func TestExporterPublishesCountersAndLatency(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		counters: map[charityauth.MetricID]uint64{
			charityauth.MetricLoginSuccess:         3,
			charityauth.MetricVerificationApproved: 2,
		},
		latency: []uint64{1, 0, 2, 0, 1, 0, 0, 1},
		dropped: 4,
	}

	exp, err := New(provider.Meter("charityauth-test"), src, WithAttributes(attribute.String("site", "donate")))
	require.NoError(t, err)
	defer func() { assert.NoError(t, exp.Close()) }()

	got := collect(t, reader)

	login, ok := got["charityauth_login_success_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, login.DataPoints, 1)
	assert.Equal(t, int64(3), login.DataPoints[0].Value)
	site, _ := login.DataPoints[0].Attributes.Value("site")
	assert.Equal(t, "donate", site.AsString())

	approved := got["charityauth_verification_approved_total"].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(2), approved.DataPoints[0].Value)

	buckets, ok := got["charityauth_login_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, buckets.DataPoints, 8)
	byBound := make(map[string]int64, 8)
	for _, dp := range buckets.DataPoints {
		le, ok := dp.Attributes.Value("le")
		require.True(t, ok)
		byBound[le.AsString()] = dp.Value
	}
	assert.Equal(t, int64(1), byBound["0.05"])
	assert.Equal(t, int64(3), byBound["0.25"])
	assert.Equal(t, int64(4), byBound["1"])
	assert.Equal(t, int64(5), byBound["+Inf"])

	count := got["charityauth_login_latency_seconds_count"].Data.(metricdata.Gauge[int64])
	assert.Equal(t, int64(5), count.DataPoints[0].Value)

	dropped := got["charityauth_audit_dropped_total"].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(4), dropped.DataPoints[0].Value)
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newMeter()

	_, err := New(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
	_, err = New(provider.Meter("charityauth-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)

	var nilExp *Exporter
	assert.NoError(t, nilExp.Close())
}

func TestExporterStopsObservingAfterClose(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{counters: map[charityauth.MetricID]uint64{charityauth.MetricLogout: 1}}

	exp, err := New(provider.Meter("charityauth-test"), src)
	require.NoError(t, err)
	require.Contains(t, collect(t, reader), "charityauth_logout_total")

	require.NoError(t, exp.Close())
	for _, dp := range collectSum(t, reader, "charityauth_logout_total") {
		t.Fatalf("observation after close: %+v", dp)
	}
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	m, ok := collect(t, reader)[name]
	if !ok {
		return nil
	}
	sum, _ := m.Data.(metricdata.Sum[int64])
	return sum.DataPoints
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{counters: map[charityauth.MetricID]uint64{}}

	exp, err := New(provider.Meter("charityauth-test"), src)
	require.NoError(t, err)
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[charityauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
