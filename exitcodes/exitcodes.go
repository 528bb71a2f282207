// Package exitcodes defines the standard exit codes used by gridrunner.
package exitcodes

// Exit code constants used by gridrunner
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when all tests pass successfully
// * TestFailure (1): Used when one or more tests fail
// * RuntimeErr (2): Used for runtime errors such as panics or configuration failures
// * ForcedShutdown (3): Used when graceful shutdown did not complete within the halt timeout
const (
	Success        = 0 // All tests pass
	TestFailure    = 1 // Test failures
	RuntimeErr     = 2 // Runtime errors
	ForcedShutdown = 3 // Halt timeout expired before graceful shutdown completed
)
