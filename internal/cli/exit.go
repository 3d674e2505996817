package cli

import (
	"context"
	"errors"

	"github.com/SteelMorgan/cutthelog/internal/domain"
)

// Process exit codes
const (
	ExitOK         = 0
	ExitUsage      = 1
	ExitNotFound   = 2
	ExitReadError  = 3
	ExitCacheError = 4

	// ExitInterrupted follows the shell convention for SIGINT
	ExitInterrupted = 130
)

var errUsage = errors.New("usage error")

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitInterrupted
	case errors.Is(err, domain.ErrTargetNotFound):
		return ExitNotFound
	case errors.Is(err, domain.ErrTargetUnreadable), errors.Is(err, domain.ErrOutputFailed):
		return ExitReadError
	case errors.Is(err, domain.ErrCacheUnwritable),
		errors.Is(err, domain.ErrCacheUnreadable),
		errors.Is(err, domain.ErrCacheLocked):
		return ExitCacheError
	default:
		return ExitUsage
	}
}
