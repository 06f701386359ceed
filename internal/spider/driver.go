// Package spider owns the crawl lifecycle: it admits seeds, runs a
// pool of downloader workers against the frontier, dispatches
// callbacks over their Responses, persists yielded Records through a
// Sink, and checks the circuit breaker before every dispatch.
// Admission, including a retry's re-admission, does not consult the
// breaker.
package spider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webants/webants/internal/breaker"
	"github.com/webants/webants/internal/downloader"
	"github.com/webants/webants/internal/events"
	"github.com/webants/webants/internal/frontier"
	"github.com/webants/webants/internal/metadata"
	"github.com/webants/webants/internal/request"
)

// State is one of the driver's lifecycle phases.
type State int

const (
	Idle State = iota
	Running
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink persists a Record a callback yielded. The driver never
// inspects what it does with one.
type Sink interface {
	Save(record request.Record) error
}

// Driver is the control plane described in the package doc.
type Driver struct {
	cfg        Config
	spiderName string

	frontier   *frontier.Frontier
	downloader *downloader.Downloader
	breaker    *breaker.Registry
	sink       Sink
	events     *events.Bus
	metadata   metadata.MetadataSink
	finalizer  metadata.CrawlFinalizer

	stateMu sync.Mutex
	state   State

	seedsDone           atomic.Bool
	dispatchOutstanding atomic.Int64
	pendingCallbacks    atomic.Int64
	totalErrorsCount    atomic.Int64
	totalAssetsCount    atomic.Int64

	failedMu sync.Mutex
	failed   []*request.Request

	stopOnce  sync.Once
	stopCh    chan struct{}
	closeOnce sync.Once
	closingCh chan struct{}
}

// New builds a Driver. sink, bus, rec, and fin may be nil; a nil sink
// discards every Record, a nil bus disables events, and nil
// metadata/finalizer disable observability logging.
func New(cfg Config, spiderName string, f *frontier.Frontier, d *downloader.Downloader, br *breaker.Registry, sink Sink, bus *events.Bus, rec metadata.MetadataSink, fin metadata.CrawlFinalizer) *Driver {
	return &Driver{
		cfg:        cfg,
		spiderName: spiderName,
		frontier:   f,
		downloader: d,
		breaker:    br,
		sink:       sink,
		events:     bus,
		metadata:   rec,
		finalizer:  fin,
		stopCh:     make(chan struct{}),
		closingCh:  make(chan struct{}),
	}
}

// State reports the driver's current lifecycle phase.
func (d *Driver) State() State {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}

// Stop requests a graceful shutdown: seed admission stops, the
// frontier is closed so workers drain cleanly, and in-flight fetches
// are left to finish or time out on their own rather than being
// force-killed. Run returns once draining completes.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.seedsDone.Store(true)
	d.frontier.Close()
	d.signalClosing()
}

func (d *Driver) signalClosing() {
	d.closeOnce.Do(func() { close(d.closingCh) })
}

// Run drives one complete crawl: it admits seed Requests, spawns
// cfg.Concurrency downloader workers, dispatches their Responses
// through callbacks, and returns once the frontier has fully drained.
func (d *Driver) Run(ctx context.Context, seeds SeedSource) error {
	d.setState(Running)
	startTime := time.Now()
	d.publish(string(events.SpiderOpened), map[string]any{"spider": d.spiderName})

	workerCount := max(d.cfg.Concurrency, 1)
	responses := make(chan *request.Response, workerCount)
	admitter := &gatedAdmitter{driver: d}

	var workerWG sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			d.downloader.WorkerLoop(ctx, d.nextGated(), d.completeTracked, admitter, responses)
		}()
	}

	go d.admitSeeds(ctx, seeds, admitter)

	sweepDone := make(chan struct{})
	go d.sweepLoop(ctx, admitter, sweepDone)

	drainDone := make(chan struct{})
	go d.drainMonitor(ctx, drainDone)

	var dispatchWG sync.WaitGroup
	dispatchWG.Add(1)
	go func() {
		defer dispatchWG.Done()
		d.dispatchLoop(responses, admitter)
	}()

	workerWG.Wait()
	close(responses)
	dispatchWG.Wait()
	<-sweepDone
	<-drainDone

	d.setState(Closed)
	duration := time.Since(startTime)
	if d.finalizer != nil {
		d.finalizer.RecordFinalCrawlStats(
			d.frontier.Stats().TotalAdmitted,
			int(d.totalErrorsCount.Load()),
			int(d.totalAssetsCount.Load()),
			duration,
		)
	}
	d.publish(string(events.SpiderClosed), map[string]any{"spider": d.spiderName, "duration_ms": duration.Milliseconds()})
	return nil
}

func (d *Driver) admitSeeds(ctx context.Context, seeds SeedSource, admitter *gatedAdmitter) {
	defer d.seedsDone.Store(true)
	if seeds == nil {
		return
	}
	ch := seeds.Seeds(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-d.closingCh:
			return
		case req, ok := <-ch:
			if !ok {
				return
			}
			admitter.Admit(req)
		}
	}
}

// nextGated wraps the frontier's dispatch with a circuit-breaker
// check: a Request taken for a host whose circuit is open is dropped
// (its dispatch slot released) rather than handed to a worker.
func (d *Driver) nextGated() func() (*request.Request, bool) {
	return func() (*request.Request, bool) {
		for {
			req, ok := d.frontier.Next()
			if !ok {
				return nil, false
			}
			host := req.Host()
			u := req.URL()
			if !d.breaker.Allow(host) {
				d.frontier.Complete(req)
				d.trackComplete()
				d.publish(string(events.RequestDropped), map[string]any{"url": u.String(), "reason": "circuit_open"})
				continue
			}
			d.publish(string(events.RequestReached), map[string]any{"url": u.String()})
			return req, true
		}
	}
}

func (d *Driver) completeTracked(req *request.Request) {
	d.frontier.Complete(req)
	d.trackComplete()
}

func (d *Driver) trackAdmit()   { d.dispatchOutstanding.Add(1) }
func (d *Driver) trackComplete() { d.dispatchOutstanding.Add(-1) }

func (d *Driver) dispatchLoop(responses <-chan *request.Response, admitter *gatedAdmitter) {
	for resp := range responses {
		d.pendingCallbacks.Add(1)
		d.handleResponse(resp, admitter)
		d.pendingCallbacks.Add(-1)
	}
}

func (d *Driver) handleResponse(resp *request.Response, admitter *gatedAdmitter) {
	req := resp.Request()
	u := req.URL()
	ru := resp.URL()
	d.publish(string(events.ResponseReceived), map[string]any{"url": ru.String(), "status": resp.Status()})

	if resp.IsRetryExhausted() {
		d.totalErrorsCount.Add(1)
		if req.Errback() != nil {
			req.Errback()(fmt.Errorf("retries exhausted fetching %s", u.String()), req)
		}
		d.publish(string(events.ItemError), map[string]any{"url": u.String(), "reason": "retry_exhausted"})
		d.recordFailedForSweep(req)
		return
	}

	cb := req.Callback()
	if cb == nil {
		return
	}

	newReqs, records, err := d.safeCallback(cb, resp, req.Meta())
	if err != nil {
		d.totalErrorsCount.Add(1)
		if req.Errback() != nil {
			req.Errback()(err, req)
		}
		d.publish(string(events.ItemError), map[string]any{"url": u.String(), "error": err.Error()})
		if d.metadata != nil {
			d.metadata.RecordError(time.Now(), "spider", "callback", metadata.CauseContentInvalid, err.Error(), nil)
		}
		return
	}

	finalURL := resp.URL()
	for _, nr := range newReqs {
		nr.WithReferer(&finalURL)
		nu := nr.URL()
		switch admitter.Admit(nr) {
		case frontier.Admitted:
			d.publish(string(events.RequestScheduled), map[string]any{"url": nu.String(), "reason": "discovered"})
		case frontier.Rejected:
			d.publish(string(events.RequestDropped), map[string]any{"url": nu.String(), "reason": "max_requests_reached"})
		case frontier.Filtered:
			// already seen; not a failure, nothing to report
		}
	}

	for _, rec := range records {
		if d.sink == nil {
			continue
		}
		if err := d.sink.Save(rec); err != nil {
			d.publish(string(events.ItemDropped), map[string]any{"url": u.String(), "error": err.Error()})
			if d.metadata != nil {
				d.metadata.RecordError(time.Now(), "spider", "sink.Save", metadata.CauseStorageFailure, err.Error(), nil)
			}
			continue
		}
		d.totalAssetsCount.Add(1)
		d.publish(string(events.ItemScraped), map[string]any{"url": u.String()})
	}
}

// safeCallback recovers a panicking callback so one bad handler never
// kills its worker.
func (d *Driver) safeCallback(cb request.Callback, resp *request.Response, meta map[string]any) (reqs []*request.Request, recs []request.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(resp, meta)
}

func (d *Driver) recordFailedForSweep(req *request.Request) {
	d.failedMu.Lock()
	d.failed = append(d.failed, req)
	d.failedMu.Unlock()
}

func (d *Driver) sweepLoop(ctx context.Context, admitter *gatedAdmitter, done chan<- struct{}) {
	defer close(done)
	if d.cfg.FailedSweepInterval <= 0 {
		select {
		case <-ctx.Done():
		case <-d.closingCh:
		}
		return
	}

	ticker := time.NewTicker(d.cfg.FailedSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.closingCh:
			return
		case <-ticker.C:
			d.sweepFailed(admitter)
		}
	}
}

// sweepFailed re-admits every Request whose fetch ended in the
// synthetic retry-exhausted Response (transport retries used up, or a
// redirect overflow), with one renewed attempt,
// bypassing the seen-set since each was already admitted once.
func (d *Driver) sweepFailed(admitter *gatedAdmitter) {
	d.failedMu.Lock()
	batch := d.failed
	d.failed = nil
	d.failedMu.Unlock()

	for _, req := range batch {
		req.WithRetriesRemaining(1)
		req.WithDontFilter(true)
		admitter.Admit(req)
	}
}

func (d *Driver) drainMonitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	idlePublished := false
	for {
		select {
		case <-ctx.Done():
			d.frontier.Close()
			d.signalClosing()
			return
		case <-ticker.C:
			if !idlePublished && d.tryAdvanceToDraining() {
				d.publish(string(events.SpiderIdle), map[string]any{"spider": d.spiderName})
				idlePublished = true
			}
			if d.readyToClose() {
				d.frontier.Close()
				d.signalClosing()
				return
			}
		}
	}
}

// tryAdvanceToDraining transitions running -> draining once the seed
// generator is exhausted and nothing admitted remains uncompleted.
func (d *Driver) tryAdvanceToDraining() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.state != Running {
		return false
	}
	if !d.seedsDone.Load() || d.dispatchOutstanding.Load() != 0 || d.frontier.Stats().QueueDepth != 0 {
		return false
	}
	d.state = Draining
	return true
}

// readyToClose reports whether draining has completed: every
// dispatched Response has been consumed by its callback and every
// Request that produced has been admitted or filtered.
func (d *Driver) readyToClose() bool {
	d.stateMu.Lock()
	state := d.state
	d.stateMu.Unlock()
	if state != Draining {
		return false
	}
	return d.dispatchOutstanding.Load() == 0 &&
		d.pendingCallbacks.Load() == 0 &&
		d.frontier.Stats().QueueDepth == 0
}

func (d *Driver) publish(name string, attrs map[string]any) {
	if d.events != nil {
		d.events.Publish(name, attrs)
	}
}

// gatedAdmitter is the Admitter the downloader retries through and
// the admitter callbacks discover new Requests through. The circuit
// breaker is consulted exactly once per logical Request, at dispatch
// time in nextGated; Admit itself never calls breaker.Allow, since
// Allow mutates half-open trial state and a second consuming check
// here would starve the very trial request nextGated is waiting on.
type gatedAdmitter struct {
	driver *Driver
}

func (g *gatedAdmitter) Admit(req *request.Request) frontier.AdmitResult {
	result := g.driver.frontier.Admit(req)
	if result == frontier.Admitted {
		g.driver.trackAdmit()
	}
	return result
}

var _ downloader.Admitter = (*gatedAdmitter)(nil)
