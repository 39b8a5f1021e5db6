// Package otel exports charityauth engine counters through an
// OpenTelemetry metric.Meter using observable instruments.
package otel
