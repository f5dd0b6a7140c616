package service

import "errors"

// Error taxonomy. Validation failures reject synchronously without an audit
// entry; not-found cases are benign nil/false returns; security violations
// are always audited and fail closed; persistence errors propagate raw so
// boundary callers can fail secure.
var (
	ErrValidation      = errors.New("validation failed")
	ErrReporterBlocked = errors.New("reporter not in good standing")
	ErrTooManyReports  = errors.New("report rate exceeded")
	ErrDuplicateReport = errors.New("duplicate pending report")
)
