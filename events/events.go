// Package events carries the notification contract between the coordinator,
// the top-level runner and external listeners. Two multicast channels exist:
// a fire-and-forget one for synchronous events and an awaited, ordered one
// for asynchronous events.
package events

// Name identifies one event in the fixed event table.
type Name string

// Runner-produced events.
const (
	// Init fires exactly once per coordinator instance, before any test
	// dispatch. Awaited.
	Init Name = "init"
	// RunnerStart fires when the top-level runner begins a run. Awaited.
	RunnerStart Name = "startRunner"
	// RunnerEnd fires when a run completes or is cancelled. Awaited.
	RunnerEnd Name = "endRunner"
	// TestPass fires once per passed test. Fire-and-forget.
	TestPass Name = "passTest"
	// TestFail fires once per failed test. Fire-and-forget.
	TestFail Name = "failTest"
	// Error surfaces a fatal runner error. Fire-and-forget; listeners are
	// expected to react by calling Halt.
	Error Name = "err"
	// BeforeFileRead and AfterFileRead bracket the first parse of a
	// manifest file within a worker. Fire-and-forget.
	BeforeFileRead Name = "beforeFileRead"
	AfterFileRead  Name = "afterFileRead"
	// AfterTestsRead fires once the collection has been read, with the
	// collection as payload. Awaited.
	AfterTestsRead Name = "afterTestsRead"
	// Exit fires on process shutdown; every listener completes before the
	// process may terminate. Awaited.
	Exit Name = "exit"
)

// Coordinator-only events, never produced by the top-level runner.
const (
	// CLI is the extension point fired while the command line is being
	// assembled. Fire-and-forget.
	CLI Name = "cli"
	// AddTest fires when a test is handed to AddTestToRun while no run is
	// active. Fire-and-forget.
	AddTest Name = "addTest"
	// UpdateReference notifies listeners of a reference-artifact update.
	// Fire-and-forget.
	UpdateReference Name = "updateReference"
)

// awaited is the fixed set of events whose listeners must be awaited, in
// registration order, before the emitting operation is considered complete.
var awaited = map[Name]bool{
	Init:           true,
	RunnerStart:    true,
	RunnerEnd:      true,
	AfterTestsRead: true,
	Exit:           true,
}

// IsAwaited reports whether listeners for the event block the emitter.
func IsAwaited(name Name) bool {
	return awaited[name]
}

// All returns the complete event table, assembled once; the table is fixed
// for the lifetime of the process.
func All() []Name {
	return []Name{
		Init,
		RunnerStart,
		RunnerEnd,
		TestPass,
		TestFail,
		Error,
		BeforeFileRead,
		AfterFileRead,
		AfterTestsRead,
		Exit,
		CLI,
		AddTest,
		UpdateReference,
	}
}

// RunnerEvents returns the subset of events a top-level runner produces.
func RunnerEvents() []Name {
	return []Name{
		RunnerStart,
		RunnerEnd,
		TestPass,
		TestFail,
		Error,
		BeforeFileRead,
		AfterFileRead,
	}
}
