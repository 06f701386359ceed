// Package stats collects the downloader's request counters and
// response-time distribution, and exposes them both as
// Prometheus metrics and as an immutable snapshot.
package stats

import "time"

// Stats is an immutable snapshot of a Collector's counters at the
// moment Snapshot was called. Observers never see a field decrease.
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	RetryRequests      int64
	TotalRetries       int64
	MinResponseTime    time.Duration
	MaxResponseTime    time.Duration
	AvgResponseTime    time.Duration
	TotalTime          time.Duration
}

// Collector is the narrow interface the downloader observes through,
// so it need not import Prometheus directly.
type Collector interface {
	// ObserveRequest records a first-time dispatch (not a retry).
	ObserveRequest()
	// ObserveRetry records one retry attempt against an
	// already-counted request.
	ObserveRetry()
	// ObserveSuccess records a request that reached a terminal status
	// outside the retry table, retried or not, and how long its final
	// attempt took.
	ObserveSuccess(elapsed time.Duration)
	// ObserveFailure records a request that reached terminal failure
	// (transport retries used up, redirect overflow, or a retry-table
	// status with no retries left).
	ObserveFailure()
	// Snapshot returns an immutable view of the counters so far.
	Snapshot() Stats
}

// NoopCollector discards every observation. Useful as a default when
// the caller does not wire a real Collector.
type NoopCollector struct{}

func (NoopCollector) ObserveRequest()                {}
func (NoopCollector) ObserveRetry()                  {}
func (NoopCollector) ObserveSuccess(time.Duration)   {}
func (NoopCollector) ObserveFailure()                {}
func (NoopCollector) Snapshot() Stats                { return Stats{} }

var _ Collector = NoopCollector{}
