// Package frontier implements the priority-ordered admission queue:
// URL deduplication, per-host pacing with EWMA-smoothed jitter, and a
// bounded priority queue handed out to downloader workers.
//
// It knows nothing about fetching, parsing, or persistence; it is a
// data structure plus an admission policy.
package frontier

import (
	"math/rand"
	"sync"
	"time"

	"github.com/webants/webants/internal/request"
	"github.com/webants/webants/pkg/timeutil"
	"github.com/webants/webants/pkg/urlcanon"
)

// AdmitResult is the outcome of Admit.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	Filtered
	Rejected
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case Filtered:
		return "filtered"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// EventPublisher is the frontier's narrow view of an event bus, kept
// as an interface so frontier does not depend on internal/events
// directly. A nil Publisher disables event emission.
type EventPublisher interface {
	Publish(name string, attrs map[string]any)
}

// Stats is an immutable snapshot of the frontier's counters.
type Stats struct {
	TotalAdmitted int
	TotalFiltered int
	QueueDepth    int
	SeenSize      int
}

// Frontier is the admission queue described in package doc.
type Frontier struct {
	cfg Config

	mu   sync.Mutex
	cond *sync.Cond
	pq   priorityQueue

	insertionSeq  uint64
	totalAdmitted int
	totalFiltered int
	closed        bool

	seenMu sync.Mutex
	seen   Set[urlcanon.Fingerprint]

	hostsMu sync.Mutex
	hosts   map[string]*hostState

	rngMu sync.Mutex
	rng   *rand.Rand

	sleeper timeutil.Sleeper
	events  EventPublisher

	lastGlobalDispatchMu sync.Mutex
	lastGlobalDispatch   time.Time
}

// New builds a Frontier. sleeper may be nil (defaults to a real
// wall-clock sleeper); events may be nil (disables event emission).
func New(cfg Config, sleeper timeutil.Sleeper, events EventPublisher) *Frontier {
	if sleeper == nil {
		sleeper = timeutil.NewRealSleeper()
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	f := &Frontier{
		cfg:     cfg,
		seen:    NewSet[urlcanon.Fingerprint](),
		hosts:   make(map[string]*hostState),
		rng:     rand.New(rand.NewSource(seed)),
		sleeper: sleeper,
		events:  events,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Admit evaluates req against the cap, the seen-set, and per-host
// pacing, then enqueues it for dispatch. It never returns an error that
// aborts the caller: failures are reported via the AdmitResult and an
// emitted event.
func (f *Frontier) Admit(req *request.Request) AdmitResult {
	f.mu.Lock()
	if f.cfg.MaxRequests > 0 && f.totalAdmitted >= f.cfg.MaxRequests {
		f.mu.Unlock()
		u := req.URL()
		f.publish("request_reached", map[string]any{"url": u.String()})
		return Rejected
	}
	f.mu.Unlock()

	fp := req.Fingerprint()
	if !req.DontFilter() {
		f.seenMu.Lock()
		alreadySeen := f.seen.Contains(fp)
		f.seenMu.Unlock()
		if alreadySeen {
			f.mu.Lock()
			f.totalFiltered++
			f.mu.Unlock()
			return Filtered
		}
	}

	host := req.Host()
	hs := f.hostStateFor(host)

	hs.acquire()

	now := time.Now()
	jitter := 0.8 + f.nextJitter()*0.4
	delay := hs.recordDispatch(now, f.cfg.DomainDelay, jitter)

	f.seenMu.Lock()
	f.seen.Add(fp)
	f.seenMu.Unlock()

	f.mu.Lock()
	f.totalAdmitted++
	f.mu.Unlock()

	if delay > 0 {
		f.sleeper.Sleep(delay)
	}

	f.enqueue(req, host)
	return Admitted
}

// nextJitter returns a uniform random float64 in [0, 1), used to derive
// the U(0.8, 1.2) multiplier applied to the EWMA interval.
func (f *Frontier) nextJitter() float64 {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return f.rng.Float64()
}

func (f *Frontier) hostStateFor(host string) *hostState {
	f.hostsMu.Lock()
	defer f.hostsMu.Unlock()

	hs, ok := f.hosts[host]
	if !ok {
		hs = newHostState(f.cfg.MaxHostConcurrency)
		f.hosts[host] = hs
	}
	return hs
}

// enqueue inserts req into the priority queue, blocking while the
// queue is at MaxQueueSize capacity.
func (f *Frontier) enqueue(req *request.Request, host string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.cfg.MaxQueueSize > 0 && len(f.pq) >= f.cfg.MaxQueueSize && !f.closed {
		f.cond.Wait()
	}

	f.insertionSeq++
	item := &queueItem{req: req, priority: req.Priority(), insertionSeq: f.insertionSeq, host: host}
	heapPush(&f.pq, item)
	f.cond.Broadcast()
}

// Next pops the smallest (priority, insertionSeq) request, blocking
// until one is available or the frontier is closed. The second return
// is false only once the frontier is closed and drained.
func (f *Frontier) Next() (*request.Request, bool) {
	f.mu.Lock()
	for len(f.pq) == 0 && !f.closed {
		f.cond.Wait()
	}
	if len(f.pq) == 0 {
		f.mu.Unlock()
		return nil, false
	}
	item := heapPop(&f.pq)
	f.cond.Broadcast()
	f.mu.Unlock()

	if f.cfg.RequestDelay > 0 {
		f.waitGlobalDelay()
	}

	return item.req, true
}

func (f *Frontier) waitGlobalDelay() {
	f.lastGlobalDispatchMu.Lock()
	now := time.Now()
	var wait time.Duration
	if !f.lastGlobalDispatch.IsZero() {
		elapsed := now.Sub(f.lastGlobalDispatch)
		if elapsed < f.cfg.RequestDelay {
			wait = f.cfg.RequestDelay - elapsed
		}
	}
	f.lastGlobalDispatch = now.Add(wait)
	f.lastGlobalDispatchMu.Unlock()

	if wait > 0 {
		f.sleeper.Sleep(wait)
	}
}

// Complete releases req's per-host concurrency slot. Safe to call at
// most once per dispatched request; it has no guard against a second
// call, which takes away a slot another request of the same host holds
// (or blocks on the semaphore's receive while no slot is held), so the
// spider driver must guarantee at-most-once completion per admitted
// Request.
func (f *Frontier) Complete(req *request.Request) {
	host := req.Host()
	hs := f.hostStateFor(host)
	hs.completeDispatch()
	hs.release()
}

// Close unblocks any goroutine waiting in Next or enqueue and marks
// the frontier closed; further Admit calls still accept new work
// (the cap/seen-set policy is unaffected), but Next returns
// (nil, false) once the queue has drained.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Stats returns an immutable snapshot of the frontier's counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	admitted, filtered, depth := f.totalAdmitted, f.totalFiltered, len(f.pq)
	f.mu.Unlock()

	f.seenMu.Lock()
	seenSize := f.seen.Size()
	f.seenMu.Unlock()

	return Stats{
		TotalAdmitted: admitted,
		TotalFiltered: filtered,
		QueueDepth:    depth,
		SeenSize:      seenSize,
	}
}

func (f *Frontier) publish(name string, attrs map[string]any) {
	if f.events != nil {
		f.events.Publish(name, attrs)
	}
}
