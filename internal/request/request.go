// Package request holds the data model shared by the frontier, the
// downloader, the circuit breaker, and the spider driver: the crawl
// Request, its Response, and the Record a user callback yields for
// persistence.
package request

import (
	"net/http"
	"net/url"
	"time"

	"github.com/webants/webants/pkg/urlcanon"
)

// Method is an HTTP method a Request may use.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodPatch   Method = "PATCH"
)

// Callback consumes a Response and yields new Requests and/or Records.
// Implementations must be pure or internally synchronized: the driver
// may invoke a Request's callback concurrently from any worker.
type Callback func(resp *Response, meta map[string]any) ([]*Request, []Record, error)

// Errback is invoked on a Request's terminal failure, in place of its
// Callback.
type Errback func(err error, req *Request)

// Request is the unit of work admitted into the frontier. Two Requests
// with equal Fingerprint are considered duplicates.
type Request struct {
	url              url.URL
	method           Method
	headers          http.Header
	body             []byte
	cookies          []*http.Cookie
	priority         int
	retriesRemaining int
	delay            time.Duration
	timeout          time.Duration
	dontFilter       bool
	callback         Callback
	errback          Errback
	cbKwargs         map[string]any
	meta             map[string]any
	referer          *url.URL
}

// New builds a Request with the given target URL and method; all other
// fields take their zero value and should be set with the With*
// mutators before admission.
func New(u url.URL, method Method) *Request {
	return &Request{
		url:     u,
		method:  method,
		headers: make(http.Header),
		meta:    make(map[string]any),
	}
}

func (r *Request) URL() url.URL            { return r.url }
func (r *Request) Method() Method          { return r.method }
func (r *Request) Headers() http.Header    { return r.headers }
func (r *Request) Body() []byte            { return r.body }
func (r *Request) Cookies() []*http.Cookie { return r.cookies }
func (r *Request) Priority() int           { return r.priority }
func (r *Request) RetriesRemaining() int   { return r.retriesRemaining }
func (r *Request) Delay() time.Duration    { return r.delay }
func (r *Request) Timeout() time.Duration  { return r.timeout }
func (r *Request) DontFilter() bool        { return r.dontFilter }
func (r *Request) Callback() Callback      { return r.callback }
func (r *Request) Errback() Errback        { return r.errback }
func (r *Request) CbKwargs() map[string]any { return r.cbKwargs }
func (r *Request) Meta() map[string]any    { return r.meta }
func (r *Request) Referer() *url.URL       { return r.referer }

func (r *Request) WithHeaders(h http.Header) *Request {
	r.headers = h
	return r
}

func (r *Request) WithBody(b []byte) *Request {
	r.body = b
	return r
}

func (r *Request) WithCookies(c []*http.Cookie) *Request {
	r.cookies = c
	return r
}

func (r *Request) WithPriority(p int) *Request {
	r.priority = p
	return r
}

func (r *Request) WithRetriesRemaining(n int) *Request {
	r.retriesRemaining = n
	return r
}

func (r *Request) WithDelay(d time.Duration) *Request {
	r.delay = d
	return r
}

func (r *Request) WithTimeout(d time.Duration) *Request {
	r.timeout = d
	return r
}

func (r *Request) WithDontFilter(v bool) *Request {
	r.dontFilter = v
	return r
}

func (r *Request) WithCallback(cb Callback) *Request {
	r.callback = cb
	return r
}

func (r *Request) WithErrback(eb Errback) *Request {
	r.errback = eb
	return r
}

func (r *Request) WithCbKwargs(m map[string]any) *Request {
	r.cbKwargs = m
	return r
}

func (r *Request) WithMeta(m map[string]any) *Request {
	r.meta = m
	return r
}

func (r *Request) WithReferer(parent *url.URL) *Request {
	r.referer = parent
	return r
}

// DecrementRetries lowers retriesRemaining by one and raises priority by
// delta (making it later), matching the frontier's re-admission rule for
// retries: naturally drains after fresh work at the same base tier.
func (r *Request) DecrementRetries(priorityDelta int) {
	if r.retriesRemaining > 0 {
		r.retriesRemaining--
	}
	r.priority += priorityDelta
}

// SetDelay overrides the delay applied before the next send, used when
// rescheduling a Request after backoff.
func (r *Request) SetDelay(d time.Duration) {
	r.delay = d
}

// Fingerprint is H(method ‖ canonical_url ‖ body), computed with
// auth and fragments stripped and the query sorted so that reordering
// query params or varying default port never changes the result.
func (r *Request) Fingerprint() urlcanon.Fingerprint {
	return urlcanon.ComputeFingerprint(string(r.method), r.url, r.body)
}

// Host is the canonical hostname used to key HostState: lower-cased,
// port stripped.
func (r *Request) Host() string {
	canonical := urlcanon.Canonicalize(r.url, urlcanon.DefaultOptions())
	return canonical.Hostname()
}
