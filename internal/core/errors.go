package core

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyFleet         = errors.New("no instances found for fleet")
	ErrNotReady           = errors.New("fleet is not ready")
	ErrCountMismatch      = errors.New("artifact count does not match fleet size")
	ErrMissingLocalFile   = errors.New("local file not found")
	ErrRemoteFailure      = errors.New("remote operation failed")
	ErrNothingToTerminate = errors.New("nothing to terminate")
	ErrOperationCancelled = errors.New("operation cancelled")
	ErrInvalidPartition   = errors.New("invalid partition")
)

// RemoteError reports a failed operation against one node.
type RemoteError struct {
	Host string
	Op   string
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Host, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool { return target == ErrRemoteFailure }

func remoteErr(host, op string, err error) error {
	return &RemoteError{Host: host, Op: op, Err: err}
}

// Hint returns the corrective action for a failure, or "" when there is
// nothing specific to suggest.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyFleet):
		return "check the fleet name or create the fleet with `shardfleet create`"
	case errors.Is(err, ErrNotReady):
		return "wait for every instance to reach running, then run `shardfleet check` again"
	case errors.Is(err, ErrCountMismatch):
		return "regenerate shard configs with `shardfleet partition` using the current fleet size"
	case errors.Is(err, ErrMissingLocalFile):
		return "check the path; files are resolved relative to the working directory"
	case errors.Is(err, ErrRemoteFailure):
		return "run `shardfleet diagnose` to check SSH reachability"
	case errors.Is(err, ErrNothingToTerminate):
		return "every instance of the fleet is already terminated"
	case errors.Is(err, ErrOperationCancelled):
		return "pass --yes to skip the confirmation"
	case errors.Is(err, ErrInvalidPartition):
		return "use a worker count between 1 and n-2, or --strategy balanced"
	}
	return ""
}
