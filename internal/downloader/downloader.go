// Package downloader executes Requests drawn from the frontier with
// bounded global concurrency, decoding compressed bodies, bounding
// redirects, and applying a status-code-aware retry policy before
// yielding a terminal Response.
//
// It never decides admission or scheduling itself; transport and
// status-retry outcomes that need another attempt are re-admitted
// through the Admitter it was given, and it returns nil for that
// attempt so the caller knows no Response was produced.
package downloader

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/webants/webants/internal/frontier"
	"github.com/webants/webants/internal/request"
	"github.com/webants/webants/internal/stats"
	"github.com/webants/webants/pkg/failure"
	"github.com/webants/webants/pkg/timeutil"
	"github.com/webants/webants/pkg/urlcanon"
)

// Admitter is the downloader's narrow view of the frontier: the
// re-admission path a retried Request takes.
type Admitter interface {
	Admit(req *request.Request) frontier.AdmitResult
}

// EventPublisher is the downloader's narrow view of an event bus.
type EventPublisher interface {
	Publish(name string, attrs map[string]any)
}

// FailureTracker is the downloader's narrow view of the circuit
// breaker, keyed by the attempt's target host: a failure is recorded
// on every transport error, on a redirect overflow, and when a
// retry-table status has no retries left; a success on any other
// terminal status. A retry-table status that is re-admitted records
// nothing.
type FailureTracker interface {
	RecordFailure(host string)
	RecordSuccess(host string)
}

// Downloader is the bounded-concurrency HTTP executor described in
// the package doc.
type Downloader struct {
	cfg         Config
	client      *http.Client
	sem         chan struct{}
	sleeper     timeutil.Sleeper
	stats       stats.Collector
	events      EventPublisher
	breaker     FailureTracker
	retryPolicy RetryPolicy

	attemptsMu sync.Mutex
	attempts   map[urlcanon.Fingerprint]int

	statusAttemptsMu sync.Mutex
	statusAttempts   map[urlcanon.Fingerprint]map[int]int
}

// New builds a Downloader. sleeper may be nil (real wall clock);
// collector may be nil (discards observations); events and breaker
// may be nil (disables event emission / breaker feedback).
func New(cfg Config, sleeper timeutil.Sleeper, collector stats.Collector, events EventPublisher, breaker FailureTracker) *Downloader {
	if sleeper == nil {
		sleeper = timeutil.NewRealSleeper()
	}
	if collector == nil {
		collector = stats.NoopCollector{}
	}

	d := &Downloader{
		cfg:            cfg,
		sem:            make(chan struct{}, max(cfg.Concurrency, 1)),
		sleeper:        sleeper,
		stats:          collector,
		events:         events,
		breaker:        breaker,
		retryPolicy:    DefaultRetryPolicy(),
		attempts:       make(map[urlcanon.Fingerprint]int),
		statusAttempts: make(map[urlcanon.Fingerprint]map[int]int),
	}

	transport := &http.Transport{
		DisableCompression: true, // decompression is handled explicitly to support brotli
	}

	d.client = &http.Client{
		Transport:     transport,
		CheckRedirect: d.checkRedirect,
	}

	return d
}

// WithRetryPolicy overrides the status-code retry table a caller needs
// a different per-code budget than spec.md's default (§4.3) for.
func (d *Downloader) WithRetryPolicy(p RetryPolicy) *Downloader {
	d.retryPolicy = p
	return d
}

func (d *Downloader) checkRedirect(req *http.Request, via []*http.Request) error {
	if !d.cfg.FollowRedirects {
		return http.ErrUseLastResponse
	}
	if len(via) > d.cfg.RedirectLimit {
		return &redirectLimitError{limit: d.cfg.RedirectLimit}
	}
	return nil
}

// Fetch acquires the global concurrency slot, sleeps req.Delay(), and
// issues the HTTP exchange. It returns a classified error on transport
// failure (including redirect overflow, which is reported as a
// synthetic 600 Response rather than an error, per the retry-exhausted
// contract) or a Response otherwise.
func (d *Downloader) Fetch(ctx context.Context, req *request.Request) (*request.Response, failure.ClassifiedError) {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	if req.Delay() > 0 {
		d.sleeper.Sleep(req.Delay())
	}

	return d.performFetch(ctx, req)
}

func (d *Downloader) performFetch(ctx context.Context, req *request.Request) (*request.Response, failure.ClassifiedError) {
	timeout := req.Timeout()
	if timeout <= 0 {
		timeout = d.cfg.RequestTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(req.Body()) > 0 {
		bodyReader = bytes.NewReader(req.Body())
	}

	u := req.URL()
	httpReq, err := http.NewRequestWithContext(fetchCtx, string(req.Method()), u.String(), bodyReader)
	if err != nil {
		return nil, &FetchError{Message: err.Error(), Retryable: false, Cause: ErrCauseNetworkFailure}
	}
	d.applyHeaders(httpReq, req)
	for _, c := range req.Cookies() {
		httpReq.AddCookie(c)
	}

	start := time.Now()
	httpResp, err := d.client.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		var rle *redirectLimitError
		if errors.As(err, &rle) {
			return request.NewRetryExhaustedResponse(req, req.URL(), elapsed), nil
		}
		return nil, &FetchError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     classifyTransportErr(err),
		}
	}
	defer httpResp.Body.Close()

	reader, err := decompressReader(httpResp)
	if err != nil {
		return nil, &FetchError{Message: err.Error(), Retryable: false, Cause: ErrCauseReadResponseBodyError}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseReadResponseBodyError}
	}

	finalURL := req.URL()
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = *httpResp.Request.URL
	}

	return request.NewResponse(httpResp.StatusCode, httpResp.Header, body, finalURL, elapsed, req), nil
}

func (d *Downloader) applyHeaders(httpReq *http.Request, req *request.Request) {
	httpReq.Header.Set("User-Agent", d.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	httpReq.Header.Set("Connection", "keep-alive")

	for key, values := range req.Headers() {
		for i, v := range values {
			if i == 0 {
				httpReq.Header.Set(key, v)
			} else {
				httpReq.Header.Add(key, v)
			}
		}
	}
}

// FetchWithRetry runs fetch_with_retry: on transport failure or a
// status in the retry table, it re-admits the Request (after
// decrementing retries_remaining and raising priority) through
// scheduler and returns nil for this attempt. Otherwise it returns the
// terminal Response, success or not.
//
// complete releases req's dispatch slot (the frontier's per-host
// concurrency semaphore) and is called exactly once, as soon as this
// attempt's outcome is known — in particular *before* any re-admission,
// since a re-admission to the same host can block on that very slot
// (admit acquires the per-host semaphore the original dispatch still
// holds) if it is not released first.
func (d *Downloader) FetchWithRetry(ctx context.Context, req *request.Request, scheduler Admitter, complete func(*request.Request)) *request.Response {
	n := d.recordAttempt(req.Fingerprint())
	if n == 1 {
		d.stats.ObserveRequest()
	} else {
		d.stats.ObserveRetry()
	}

	host := req.Host()

	resp, cerr := d.Fetch(ctx, req)
	if cerr != nil {
		d.recordBreakerFailure(host)
		if cerr.Severity() == failure.SeverityRecoverable && req.RetriesRemaining() > 0 {
			complete(req)
			d.rescheduleAfterTransportError(req, n, scheduler)
			return nil
		}
		d.stats.ObserveFailure()
		complete(req)
		return request.NewRetryExhaustedResponse(req, req.URL(), 0)
	}

	if resp.IsRetryExhausted() {
		d.recordBreakerFailure(host)
		d.stats.ObserveFailure()
		complete(req)
		return resp
	}

	if rule, ok := d.retryPolicy.RetryRule(resp.Status()); ok {
		statusAttempt := d.recordStatusAttempt(req.Fingerprint(), resp.Status())
		if req.RetriesRemaining() > 0 && statusAttempt <= rule.MaxRetries {
			complete(req)
			d.rescheduleAfterStatusRetry(req, rule, n, scheduler)
			return nil
		}
		d.recordBreakerFailure(host)
		d.stats.ObserveFailure()
		complete(req)
		return resp
	}

	d.recordBreakerSuccess(host)
	d.stats.ObserveSuccess(resp.Elapsed())
	complete(req)
	return resp
}

func (d *Downloader) recordBreakerFailure(host string) {
	if d.breaker != nil {
		d.breaker.RecordFailure(host)
	}
}

func (d *Downloader) recordBreakerSuccess(host string) {
	if d.breaker != nil {
		d.breaker.RecordSuccess(host)
	}
}

func (d *Downloader) rescheduleAfterTransportError(req *request.Request, attempt int, scheduler Admitter) {
	delaySeconds := backoffDelay(d.cfg.RetryDelay.Seconds(), 2, attempt-1)
	req.DecrementRetries(10)
	req.SetDelay(time.Duration(delaySeconds * float64(time.Second)))
	req.WithDontFilter(true)
	scheduler.Admit(req)
	u := req.URL()
	d.publish("request_scheduled", map[string]any{"url": u.String(), "reason": "transport_error"})
}

func (d *Downloader) rescheduleAfterStatusRetry(req *request.Request, rule RetryRule, attempt int, scheduler Admitter) {
	delaySeconds := backoffDelay(d.cfg.RetryDelay.Seconds(), rule.Backoff, attempt-1)
	req.DecrementRetries(10)
	req.SetDelay(time.Duration(delaySeconds * float64(time.Second)))
	req.WithDontFilter(true)
	scheduler.Admit(req)
	u := req.URL()
	d.publish("request_scheduled", map[string]any{"url": u.String(), "reason": "status_retry"})
}

func (d *Downloader) recordAttempt(fp urlcanon.Fingerprint) int {
	d.attemptsMu.Lock()
	defer d.attemptsMu.Unlock()
	d.attempts[fp]++
	return d.attempts[fp]
}

// recordStatusAttempt counts how many times fp has now come back with
// status, enforcing the retry table's per-status MaxRetries budget
// independently of the Request's generic RetriesRemaining.
func (d *Downloader) recordStatusAttempt(fp urlcanon.Fingerprint, status int) int {
	d.statusAttemptsMu.Lock()
	defer d.statusAttemptsMu.Unlock()
	byStatus, ok := d.statusAttempts[fp]
	if !ok {
		byStatus = make(map[int]int)
		d.statusAttempts[fp] = byStatus
	}
	byStatus[status]++
	return byStatus[status]
}

func (d *Downloader) publish(name string, attrs map[string]any) {
	if d.events != nil {
		d.events.Publish(name, attrs)
	}
}

// WorkerLoop repeatedly pulls a Request from next, runs
// FetchWithRetry, and forwards any resulting Response into responses.
// FetchWithRetry itself marks the frontier entry complete, exactly
// once, as soon as the attempt's outcome is known — not here — so that
// a retry's re-admission never has to wait on a dispatch slot this
// same attempt still holds. It returns when next reports no more work
// (the frontier is closed and drained) or ctx is done.
func (d *Downloader) WorkerLoop(ctx context.Context, next func() (*request.Request, bool), complete func(*request.Request), scheduler Admitter, responses chan<- *request.Response) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, ok := next()
		if !ok {
			return
		}

		resp := d.FetchWithRetry(ctx, req, scheduler, complete)
		if resp != nil {
			select {
			case responses <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func classifyTransportErr(err error) FetchErrorCause {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCauseTimeout
	}
	return ErrCauseNetworkFailure
}
