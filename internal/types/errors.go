package types

import "errors"

// Failure taxonomy for the kernel session lifecycle. Call sites wrap these
// with fmt.Errorf("...: %w", ...) so callers can test with errors.Is while
// the message keeps the local detail (HTTP status, response body, path).
var (
	// ErrNoInterpreterFound: no saved, active, or known environment passed
	// the package precondition probe.
	ErrNoInterpreterFound = errors.New("no usable Python interpreter found")

	// ErrMissingDependency: the spawned kernel server died with a missing
	// module on stderr before ever answering the health endpoint.
	ErrMissingDependency = errors.New("kernel server dependency missing")

	// ErrStartupTimeout: the health endpoint never answered inside the
	// bounded polling budget.
	ErrStartupTimeout = errors.New("kernel server startup timed out")

	// ErrNoKernelsAvailable: the server is reachable but reports an empty
	// kernelspec catalog.
	ErrNoKernelsAvailable = errors.New("kernel server reports no kernels")

	ErrSessionCreateFailed = errors.New("session create failed")
	ErrSwitchKernelFailed  = errors.New("switch kernel failed")
	ErrRestartFailed       = errors.New("kernel restart failed")

	// ErrNoActiveSession: an execute was requested with no live session.
	ErrNoActiveSession = errors.New("no active kernel session")

	// ErrBusy: a kernel-affecting operation is already in flight.
	ErrBusy = errors.New("kernel operation already in progress")
)
