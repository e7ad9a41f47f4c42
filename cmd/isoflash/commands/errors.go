package commands

import (
	"fmt"

	"github.com/isoflash/isoflash/pkg/pipeline"
	"github.com/spf13/cobra"
)

// Process exit codes
const (
	ExitOK                = 0
	ExitRuntime           = 1
	ExitUsage             = 2
	ExitConversionFailed  = 3
	ExitDeviceUnavailable = 4
	ExitWriteFailed       = 5
	ExitCancelled         = 130
)

// ExitError carries the exit code a command wants the process to end with.
// A nil Err means the command already reported the failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(cmd *cobra.Command, err error) error {
	return &ExitError{Code: ExitUsage, Err: fmt.Errorf("%w\n\n%s", err, cmd.UsageString())}
}

// usageArgs turns positional argument errors into usage failures.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError(cmd, err)
		}
		return nil
	}
}

// exitCode maps a finished run to the process exit code.
func exitCode(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindSuccess:
		return ExitOK
	case pipeline.KindConversionFailed:
		return ExitConversionFailed
	case pipeline.KindDeviceUnavailable:
		return ExitDeviceUnavailable
	case pipeline.KindWriteFailed:
		return ExitWriteFailed
	case pipeline.KindCancelled:
		return ExitCancelled
	default:
		return ExitRuntime
	}
}
