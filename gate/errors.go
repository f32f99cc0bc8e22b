package gate

import "errors"

// Approval-phase failures are expected user-facing validation; callers
// match them with errors.Is. Execution-phase failures never surface here,
// they are folded into ExecutionResult.Error.
var (
	ErrRequestNotFound      = errors.New("execution request not found")
	ErrRequestExpired       = errors.New("execution request expired")
	ErrAlreadyApproved      = errors.New("execution request already approved")
	ErrNotApproved          = errors.New("execution request is not approved")
	ErrAlreadyExecuted      = errors.New("execution request already executed")
	ErrConfirmationRequired = errors.New("confirmation phrase required")
	ErrConfirmationMismatch = errors.New("confirmation phrase does not match")
	ErrUnsupportedOperation = errors.New("no backend matched the workspace")
)
