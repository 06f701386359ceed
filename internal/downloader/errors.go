package downloader

import (
	"fmt"

	"github.com/webants/webants/pkg/failure"
)

// FetchErrorCause names the transport-layer reason a fetch failed
// before any HTTP status was observed.
type FetchErrorCause string

const (
	ErrCauseNetworkFailure        FetchErrorCause = "network issues"
	ErrCauseTimeout               FetchErrorCause = "timeout"
	ErrCauseReadResponseBodyError FetchErrorCause = "failed to read response body"
	ErrCauseRedirectLimitExceeded FetchErrorCause = "reached redirect limit"
)

// FetchError is a classified transport-layer failure: connect refused,
// DNS, TLS, read/write failure, or timeout. Retryable unless the
// request itself was malformed or the response body's
// Content-Encoding could not be decoded.
type FetchError struct {
	Message   string
	Retryable bool
	Cause     FetchErrorCause
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("downloader error: %s: %s", e.Cause, e.Message)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

// redirectLimitError signals that http.Client's CheckRedirect rejected
// a redirect because the chain exceeded Config.RedirectLimit.
type redirectLimitError struct {
	limit int
}

func (e *redirectLimitError) Error() string {
	return fmt.Sprintf("redirect limit of %d exceeded", e.limit)
}
