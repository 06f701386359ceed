package metadata

import (
	"log/slog"
	"time"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

// MetadataSink is the observability surface a fetcher or driver writes
// to: fetch outcomes, classified errors, and persisted artifacts.
type MetadataSink interface {
	RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, details string, attrs []Attribute)
	RecordArtifact(path string)
}

// CrawlFinalizer records the terminal, once-per-run summary of a
// completed crawl.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration)
}

// Recorder is the slog-backed MetadataSink and CrawlFinalizer used
// throughout the crawl. One Recorder is shared per spider run.
type Recorder struct {
	logger     *slog.Logger
	spiderName string
}

// NewRecorder builds a Recorder that tags every log line with the
// owning spider's name.
func NewRecorder(spiderName string) Recorder {
	return Recorder{
		logger:     slog.Default().With("spider", spiderName),
		spiderName: spiderName,
	}
}

// NewRecorderWithLogger builds a Recorder against a caller-supplied
// logger, letting the composition root control handler and level.
func NewRecorderWithLogger(spiderName string, logger *slog.Logger) Recorder {
	return Recorder{
		logger:     logger.With("spider", spiderName),
		spiderName: spiderName,
	}
}

func (r *Recorder) RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	event := FetchEvent{
		fetchUrl:    fetchURL,
		httpStatus:  httpStatus,
		duration:    duration,
		contentType: contentType,
		retryCount:  retryCount,
		crawlDepth:  crawlDepth,
	}
	r.logger.Info("fetch",
		"url", event.fetchUrl,
		"status", event.httpStatus,
		"duration", event.duration,
		"content_type", event.contentType,
		"retries", event.retryCount,
		"depth", event.crawlDepth,
	)
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, details string, attrs []Attribute) {
	record := ErrorRecord{
		packageName: packageName,
		action:      action,
		cause:       cause,
		errorString: details,
		observedAt:  observedAt,
		attrs:       attrs,
	}

	args := []any{
		"package", record.packageName,
		"action", record.action,
		"cause", record.cause.String(),
		"error", record.errorString,
		"observed_at", record.observedAt,
	}
	for _, a := range record.attrs {
		args = append(args, string(a.Key), a.Value)
	}
	r.logger.Error("crawl error", args...)
}

func (r *Recorder) RecordArtifact(path string) {
	artifact := ArtifactRecord{path: path}
	r.logger.Info("artifact written", "path", artifact.path)
}

func (r *Recorder) RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration) {
	stats := crawlStats{
		totalPages:  totalPages,
		totalErrors: totalErrors,
		totalAssets: totalAssets,
		durationMs:  duration.Milliseconds(),
	}
	r.logger.Info("crawl finished",
		"pages", stats.totalPages,
		"errors", stats.totalErrors,
		"assets", stats.totalAssets,
		"duration_ms", stats.durationMs,
	)
}

var (
	_ MetadataSink   = (*Recorder)(nil)
	_ CrawlFinalizer = (*Recorder)(nil)
)
