package main

// Exit codes. Schedulers key off these to tell a failed harvest from an
// interrupted one.
const (
	// ExitSuccess indicates the run completed with status SUCCESS.
	ExitSuccess = 0

	// ExitGeneral indicates a fatal error; the run row, if opened,
	// was closed as FAILED.
	ExitGeneral = 1

	// ExitInterrupted indicates the run was stopped by SIGINT or
	// SIGTERM after in-flight candidates finished.
	ExitInterrupted = 130
)
