package request_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/webants/webants/internal/request"
)

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	return *u
}

func TestNew_DefaultsHeadersAndMeta(t *testing.T) {
	req := request.New(mustURL(t, "http://example.com/a"), request.MethodGet)

	if req.Headers() == nil {
		t.Error("Headers() is nil, want an empty http.Header")
	}
	if req.Meta() == nil {
		t.Error("Meta() is nil, want an empty map")
	}
	if req.Method() != request.MethodGet {
		t.Errorf("Method() = %v, want GET", req.Method())
	}
}

func TestWithMutators_ChainAndApply(t *testing.T) {
	req := request.New(mustURL(t, "http://example.com/a"), request.MethodPost).
		WithPriority(3).
		WithDontFilter(true).
		WithTimeout(5 * time.Second).
		WithDelay(250 * time.Millisecond).
		WithRetriesRemaining(2)

	if req.Priority() != 3 {
		t.Errorf("Priority() = %d, want 3", req.Priority())
	}
	if !req.DontFilter() {
		t.Error("DontFilter() = false, want true")
	}
	if req.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", req.Timeout())
	}
	if req.Delay() != 250*time.Millisecond {
		t.Errorf("Delay() = %v, want 250ms", req.Delay())
	}
	if req.RetriesRemaining() != 2 {
		t.Errorf("RetriesRemaining() = %d, want 2", req.RetriesRemaining())
	}
}

func TestDecrementRetries_StopsAtZeroAndRaisesPriority(t *testing.T) {
	req := request.New(mustURL(t, "http://example.com/a"), request.MethodGet).
		WithRetriesRemaining(1).
		WithPriority(0)

	req.DecrementRetries(10)
	if req.RetriesRemaining() != 0 {
		t.Errorf("RetriesRemaining() = %d, want 0", req.RetriesRemaining())
	}
	if req.Priority() != 10 {
		t.Errorf("Priority() = %d, want 10", req.Priority())
	}

	// A further decrement must not go negative.
	req.DecrementRetries(10)
	if req.RetriesRemaining() != 0 {
		t.Errorf("RetriesRemaining() = %d, want 0 (floor)", req.RetriesRemaining())
	}
	if req.Priority() != 20 {
		t.Errorf("Priority() = %d, want 20", req.Priority())
	}
}

func TestFingerprint_IgnoresQueryOrderAndDefaultPort(t *testing.T) {
	a := request.New(mustURL(t, "http://example.com:80/p?b=1&a=2"), request.MethodGet)
	b := request.New(mustURL(t, "http://example.com/p?a=2&b=1"), request.MethodGet)

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("expected equivalent requests to fingerprint identically")
	}
}

func TestFingerprint_DiffersOnMethodOrBody(t *testing.T) {
	base := request.New(mustURL(t, "http://example.com/p"), request.MethodGet)
	post := request.New(mustURL(t, "http://example.com/p"), request.MethodPost)
	withBody := request.New(mustURL(t, "http://example.com/p"), request.MethodGet).WithBody([]byte("x"))

	if base.Fingerprint() == post.Fingerprint() {
		t.Error("expected GET and POST to fingerprint differently")
	}
	if base.Fingerprint() == withBody.Fingerprint() {
		t.Error("expected different bodies to fingerprint differently")
	}
}

func TestHost_LowercasesAndStripsPort(t *testing.T) {
	req := request.New(mustURL(t, "http://EXAMPLE.com:8080/p"), request.MethodGet)
	if got := req.Host(); got != "example.com" {
		t.Errorf("Host() = %q, want %q", got, "example.com")
	}
}

func TestNewRetryExhaustedResponse_CarriesExtensions(t *testing.T) {
	req := request.New(mustURL(t, "http://example.com/a"), request.MethodGet)
	resp := request.NewRetryExhaustedResponse(req, req.URL(), 2*time.Second)

	if !resp.IsRetryExhausted() {
		t.Fatal("IsRetryExhausted() = false, want true")
	}
	if resp.Status() != request.RetryExhaustedStatus {
		t.Errorf("Status() = %d, want %d", resp.Status(), request.RetryExhaustedStatus)
	}
	if v, _ := resp.Extensions()["retry_exhausted"].(bool); !v {
		t.Error(`Extensions()["retry_exhausted"] is not true`)
	}
	if resp.Extensions()["request"] != req {
		t.Error(`Extensions()["request"] does not reference the originating request`)
	}
}

func TestNewResponse_OrdinaryStatusIsNotRetryExhausted(t *testing.T) {
	req := request.New(mustURL(t, "http://example.com/a"), request.MethodGet)
	resp := request.NewResponse(200, nil, []byte("ok"), req.URL(), time.Millisecond, req)

	if resp.IsRetryExhausted() {
		t.Error("IsRetryExhausted() = true for status 200, want false")
	}
	if string(resp.Body()) != "ok" {
		t.Errorf("Body() = %q, want %q", resp.Body(), "ok")
	}
}

func TestNewRecord_NilFieldsBecomesEmptyMap(t *testing.T) {
	now := time.Now()
	rec := request.NewRecord("myspider", "http://example.com/a", 200, nil, now)

	if rec.Fields() == nil {
		t.Fatal("Fields() is nil, want an empty map")
	}
	if len(rec.Fields()) != 0 {
		t.Errorf("Fields() has %d entries, want 0", len(rec.Fields()))
	}
	if rec.SpiderName() != "myspider" {
		t.Errorf("SpiderName() = %q, want %q", rec.SpiderName(), "myspider")
	}
}

func TestNewFieldValue_WithAndWithoutNote(t *testing.T) {
	plain := request.NewFieldValue("value")
	if plain.Note != "" {
		t.Errorf("plain.Note = %q, want empty", plain.Note)
	}

	noted := request.NewFieldValueWithNote("value", "css:h1")
	if noted.Note != "css:h1" {
		t.Errorf("noted.Note = %q, want %q", noted.Note, "css:h1")
	}
}
