package attendance

import "fmt"

// ServiceError carries a stable machine-readable code alongside the
// underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opRecorderNew    = "attendance.recorder.new"
	opRecordEvent    = "attendance.record_event"
	opReactionAdd    = "attendance.reaction_add"
	opReactionRemove = "attendance.reaction_remove"
	opBackfillNew    = "attendance.backfill.new"
	opIngestHistory  = "attendance.ingest_history"
	opQuery          = "attendance.query"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
