package frontier

import "github.com/webants/webants/pkg/failure"

// ErrorCause classifies why admit failed to log/observe without
// affecting control flow beyond the AdmitResult already returned.
type ErrorCause string

const (
	ErrCauseCapReached  ErrorCause = "cap_reached"
	ErrCauseQueueClosed ErrorCause = "queue_closed"
)

// FrontierError is non-fatal by construction: admit never aborts the
// caller, it reports rejected/filtered and the caller continues.
type FrontierError struct {
	Cause   ErrorCause
	Message string
}

func (e *FrontierError) Error() string {
	return "frontier: " + string(e.Cause) + ": " + e.Message
}

func (e *FrontierError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}

var _ failure.ClassifiedError = (*FrontierError)(nil)
