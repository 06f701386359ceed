package downloader

// RetryRule is the per-status retry budget and backoff factor: up to
// MaxRetries consecutive attempts, delay = retry_delay * Backoff^n on
// the nth retry (n starting at 0).
type RetryRule struct {
	MaxRetries int
	Backoff    float64
}

// RetryPolicy decides which HTTP statuses are retryable and with what
// budget. A caller that needs a different per-code budget than
// spec.md's default table (§4.3) supplies its own RetryPolicy through
// Downloader.WithRetryPolicy rather than forking the downloader.
type RetryPolicy interface {
	// RetryRule reports the retry rule for status and whether one
	// exists. A status absent from the policy is either success
	// (2xx/3xx) or immediately terminal (some other 4xx).
	RetryRule(status int) (RetryRule, bool)
}

// defaultRetryTable is the status -> retry rule mapping from spec.md
// §4.3. It is the zero-value RetryPolicy every Downloader starts with.
var defaultRetryTable = map[int]RetryRule{
	403: {MaxRetries: 5, Backoff: 2},
	404: {MaxRetries: 5, Backoff: 2},
	408: {MaxRetries: 3, Backoff: 2},
	420: {MaxRetries: 3, Backoff: 2},
	429: {MaxRetries: 3, Backoff: 5},
	500: {MaxRetries: 3, Backoff: 2},
	502: {MaxRetries: 3, Backoff: 2},
	503: {MaxRetries: 3, Backoff: 2},
	504: {MaxRetries: 3, Backoff: 2},
}

// defaultRetryPolicy implements RetryPolicy over defaultRetryTable.
type defaultRetryPolicy struct{}

func (defaultRetryPolicy) RetryRule(status int) (RetryRule, bool) {
	rule, ok := defaultRetryTable[status]
	return rule, ok
}

// DefaultRetryPolicy returns the status-code retry policy from
// spec.md §4.3.
func DefaultRetryPolicy() RetryPolicy { return defaultRetryPolicy{} }

// backoffDelay computes retry_delay * factor^n for the nth retry
// (n=0 means the first retry), matching the spec's exponent convention.
func backoffDelay(base float64, factor float64, n int) float64 {
	delay := base
	for i := 0; i < n; i++ {
		delay *= factor
	}
	return delay
}
