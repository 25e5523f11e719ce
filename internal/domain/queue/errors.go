package queue

import "errors"

var (
	ErrPatientNotFound        = errors.New("patient not found")
	ErrEntryNotFound          = errors.New("queue entry not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrStoreUnavailable       = errors.New("queue store unavailable")
	ErrConcurrentModification = errors.New("concurrent modification conflict")
	ErrJustificationRequired  = errors.New("priority override requires a justification")
	ErrPriorityNotAllowed     = errors.New("role may not assign priority")
)
