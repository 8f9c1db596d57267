package constant

import "errors"

// Business error codes are stable wire identifiers; the human messages live in
// pkg.ValidateBusinessError.
var (
	ErrEntityNotFound           = errors.New("0001")
	ErrOutboxEntryNotFound      = errors.New("0002")
	ErrOutboxEntryTerminal      = errors.New("0003")
	ErrInvalidStatusTransition  = errors.New("0004")
	ErrProcessNotFound          = errors.New("0005")
	ErrProcessTerminal          = errors.New("0006")
	ErrStepNotRegistered        = errors.New("0007")
	ErrCompensationNotRegistered = errors.New("0008")
	ErrWorkflowNotFound         = errors.New("0009")
	ErrWorkflowTerminal         = errors.New("0010")
	ErrDuplicateWorkItem        = errors.New("0011")
	ErrWorkItemNotFound         = errors.New("0012")
	ErrUnknownPayloadTag        = errors.New("0013")
	ErrLockNotAcquired          = errors.New("0014")
	ErrExternalPublishUnhandled = errors.New("0015")
	ErrHandlerNotFound          = errors.New("0016")
	ErrForkRequiresSingleConfig = errors.New("0017")
	ErrInternalServer           = errors.New("0018")
	ErrIdempotencyViolation     = errors.New("0019")
	ErrJobNotRegistered         = errors.New("0020")
)
