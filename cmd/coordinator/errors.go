package main

import (
	"errors"

	"github.com/sigcoord/coordinator/exitcode"
	"github.com/sigcoord/coordinator/internal/coordinatorlog"
)

// exitCodeForError maps a returned error to one of the host-process exit
// code categories. A plain error (not a *CoordinatorError) falls back to
// Internal.
func exitCodeForError(err error) int {
	if err == nil {
		return exitcode.Success
	}
	var cerr *coordinatorlog.CoordinatorError
	if !errors.As(err, &cerr) {
		return exitcode.Internal
	}
	switch cerr.Code {
	case coordinatorlog.ErrCodeValidation:
		return exitcode.Validation
	case coordinatorlog.ErrCodeAuthentication, coordinatorlog.ErrCodeRateLimited:
		return exitcode.Authentication
	case coordinatorlog.ErrCodeExpired, coordinatorlog.ErrCodeWindowExceeded:
		return exitcode.Timeout
	case coordinatorlog.ErrCodeExecutionFailed:
		return exitcode.SessionError
	case coordinatorlog.ErrCodeInternal:
		return exitcode.Internal
	default:
		return exitcode.SessionError
	}
}
