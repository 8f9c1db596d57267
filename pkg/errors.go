package pkg

import (
	"errors"
	"fmt"
	"strings"

	cn "github.com/AureliaStudio/conveyor/pkg/constant"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// EntityNotFoundError records an error indicating an entity was not found in any case that caused it.
// You can use it to representing a Database not found, cache not found or any other repository.
type EntityNotFoundError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

// NewEntityNotFoundError creates an instance of EntityNotFoundError.
func NewEntityNotFoundError(entityType string) EntityNotFoundError {
	return EntityNotFoundError{
		EntityType: entityType,
		Code:       "",
		Title:      "",
		Message:    "",
		Err:        nil,
	}
}

// WrapEntityNotFoundError creates an instance of EntityNotFoundError.
func WrapEntityNotFoundError(entityType string, err error) EntityNotFoundError {
	return EntityNotFoundError{
		EntityType: entityType,
		Code:       "",
		Title:      "",
		Message:    "",
		Err:        err,
	}
}

// Error implements the error interface.
func (e EntityNotFoundError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		if strings.TrimSpace(e.EntityType) != "" {
			return fmt.Sprintf("Entity %s not found", e.EntityType)
		}

		if e.Err != nil {
			return e.Err.Error()
		}

		return "entity not found"
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e EntityNotFoundError) Unwrap() error {
	return e.Err
}

// ValidationError records an error indicating that a domain rule rejected the operation.
type ValidationError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if strings.TrimSpace(e.Code) != "" {
		return fmt.Sprintf("%s - %s", e.Code, e.Message)
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e ValidationError) Unwrap() error {
	return e.Err
}

// EntityConflictError records an error indicating an entity already exists in some repository
// You can use it to representing a Database conflict, cache or any other repository.
type EntityConflictError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

// Error implements the error interface.
func (e EntityConflictError) Error() string {
	if e.Err != nil && strings.TrimSpace(e.Message) == "" {
		return e.Err.Error()
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e EntityConflictError) Unwrap() error {
	return e.Err
}

// UnprocessableOperationError indicates an operation that couldn't be performed because it's invalid,
// usually a programming misuse such as missing configuration or a wrong call order.
type UnprocessableOperationError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

func (e UnprocessableOperationError) Error() string {
	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e UnprocessableOperationError) Unwrap() error {
	return e.Err
}

// FailedPreconditionError indicates a precondition failed during an operation.
type FailedPreconditionError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e FailedPreconditionError) Error() string {
	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e FailedPreconditionError) Unwrap() error {
	return e.Err
}

// InternalServerError indicates detected state that should never occur.
type InternalServerError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e InternalServerError) Error() string {
	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e InternalServerError) Unwrap() error {
	return e.Err
}

// LockAcquisitionError indicates a named lock could not be acquired within its retry budget.
type LockAcquisitionError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

func (e LockAcquisitionError) Error() string {
	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e LockAcquisitionError) Unwrap() error {
	return e.Err
}

// ValidateInternalError validates the error and returns an appropriate InternalServerError.
func ValidateInternalError(err error, entityType string) error {
	return InternalServerError{
		EntityType: entityType,
		Code:       cn.ErrInternalServer.Error(),
		Title:      "Internal Server Error",
		Message:    "The server encountered an unexpected error. Please try again later or contact support.",
		Err:        err,
	}
}

// ValidateBusinessError validates the error and returns the appropriate business error code, title, and message.
//
//nolint:gocyclo
func ValidateBusinessError(err error, entityType string, args ...any) error {
	switch {
	case errors.Is(err, cn.ErrEntityNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrEntityNotFound.Error(),
			Title:      "Entity Not Found",
			Message:    "No entity was found for the given ID. Please make sure to use the correct ID for the entity you are trying to manage.",
		}
	case errors.Is(err, cn.ErrOutboxEntryNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrOutboxEntryNotFound.Error(),
			Title:      "Outbox Entry Not Found",
			Message:    "No outbox entry was found for the given event ID. Please make sure to use the event ID returned by the write operation.",
		}
	case errors.Is(err, cn.ErrOutboxEntryTerminal):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrOutboxEntryTerminal.Error(),
			Title:      "Outbox Entry Terminal",
			Message:    "The outbox entry has already reached a terminal status and cannot transition again.",
		}
	case errors.Is(err, cn.ErrInvalidStatusTransition):
		return InternalServerError{
			EntityType: entityType,
			Code:       cn.ErrInvalidStatusTransition.Error(),
			Title:      "Invalid Status Transition",
			Message:    fmt.Sprintf("The status transition from %s to %s is not allowed.", args...),
		}
	case errors.Is(err, cn.ErrProcessNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrProcessNotFound.Error(),
			Title:      "Process Not Found",
			Message:    "No long process was found for the given ID. Please make sure to use the ID returned when the process was started.",
		}
	case errors.Is(err, cn.ErrProcessTerminal):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrProcessTerminal.Error(),
			Title:      "Process Terminal",
			Message:    "The process has already completed or failed and cannot be resumed.",
		}
	case errors.Is(err, cn.ErrStepNotRegistered):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrStepNotRegistered.Error(),
			Title:      "Step Not Registered",
			Message:    fmt.Sprintf("The step %s is not registered on the process definition. Please register every persisted step before running the process.", args...),
		}
	case errors.Is(err, cn.ErrCompensationNotRegistered):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrCompensationNotRegistered.Error(),
			Title:      "Compensation Not Registered",
			Message:    fmt.Sprintf("The compensation %s is not registered on the process definition.", args...),
		}
	case errors.Is(err, cn.ErrWorkflowNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrWorkflowNotFound.Error(),
			Title:      "Workflow Not Found",
			Message:    "No behaviour workflow was found for the given ID. Please make sure to use the correct workflow ID.",
		}
	case errors.Is(err, cn.ErrWorkflowTerminal):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrWorkflowTerminal.Error(),
			Title:      "Workflow Terminal",
			Message:    "The behaviour workflow has already completed or failed and cannot make further progress.",
		}
	case errors.Is(err, cn.ErrDuplicateWorkItem):
		return EntityConflictError{
			EntityType: entityType,
			Code:       cn.ErrDuplicateWorkItem.Error(),
			Title:      "Duplicate Work Item",
			Message:    fmt.Sprintf("A work item with the key %s already exists for this workflow step and phase.", args...),
		}
	case errors.Is(err, cn.ErrWorkItemNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrWorkItemNotFound.Error(),
			Title:      "Work Item Not Found",
			Message:    "No work item was found for the given identity. Please make sure the ledger rows were generated before executing the step.",
		}
	case errors.Is(err, cn.ErrUnknownPayloadTag):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrUnknownPayloadTag.Error(),
			Title:      "Unknown Payload Tag",
			Message:    fmt.Sprintf("The payload tag %s is not registered on the codec. Please register every concrete payload type before decoding.", args...),
		}
	case errors.Is(err, cn.ErrLockNotAcquired):
		return LockAcquisitionError{
			EntityType: entityType,
			Code:       cn.ErrLockNotAcquired.Error(),
			Title:      "Lock Not Acquired",
			Message:    fmt.Sprintf("The lock %s could not be acquired within the retry budget. Please retry with backoff or abort the operation.", args...),
		}
	case errors.Is(err, cn.ErrExternalPublishUnhandled):
		return FailedPreconditionError{
			EntityType: entityType,
			Code:       cn.ErrExternalPublishUnhandled.Error(),
			Title:      "External Publish Unhandled",
			Message:    "The entry requires the external transport but no external handler accepted it. Please check the external publisher configuration.",
		}
	case errors.Is(err, cn.ErrHandlerNotFound):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrHandlerNotFound.Error(),
			Title:      "Handler Not Found",
			Message:    fmt.Sprintf("No handler is registered for the command %s. Please register the handler on the command bus.", args...),
		}
	case errors.Is(err, cn.ErrForkRequiresSingleConfig):
		return InternalServerError{
			EntityType: entityType,
			Code:       cn.ErrForkRequiresSingleConfig.Error(),
			Title:      "Fork Requires Single Config",
			Message:    "A forked workflow must contain exactly one behaviour config.",
		}
	case errors.Is(err, cn.ErrJobNotRegistered):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrJobNotRegistered.Error(),
			Title:      "Job Not Registered",
			Message:    fmt.Sprintf("No job handler is registered under the name %s.", args...),
		}
	default:
		return err
	}
}

// ValidatePGError inspects a driver-level postgres error and maps constraint violations
// onto the business error records. Everything else surfaces unchanged.
func ValidatePGError(pgErr *pgconn.PgError, entityType string) error {
	switch pgErr.Code {
	case "23505":
		return EntityConflictError{
			EntityType: entityType,
			Title:      "Entity Conflict",
			Message:    "A record with the same unique key already exists.",
			Err:        pgErr,
		}
	default:
		return pgErr
	}
}

// ValidatePQError is the lib/pq twin of ValidatePGError for connections that surface
// *pq.Error instead of *pgconn.PgError.
func ValidatePQError(pqErr *pq.Error, entityType string) error {
	switch pqErr.Code {
	case "23505":
		return EntityConflictError{
			EntityType: entityType,
			Title:      "Entity Conflict",
			Message:    "A record with the same unique key already exists.",
			Err:        pqErr,
		}
	default:
		return pqErr
	}
}
