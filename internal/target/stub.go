package target

import "fmt"

// StubResult is the outcome of running a code stub on the target core.
// Non-negative values are the exit code the stub reported through its
// breakpoint immediate; 0 means success.
type StubResult int

// Failures detected by the runner rather than reported by the stub.
const (
	StubOK             StubResult = 0
	StubFault          StubResult = -1
	StubTimeout        StubResult = -2
	StubTransportError StubResult = -3
)

func (r StubResult) String() string {
	switch r {
	case StubOK:
		return "ok"
	case StubFault:
		return "core fault"
	case StubTimeout:
		return "timeout"
	case StubTransportError:
		return "transport error"
	default:
		return fmt.Sprintf("stub exit code %d", int(r))
	}
}

// Err returns nil for StubOK and a *StubError otherwise.
func (r StubResult) Err() error {
	if r == StubOK {
		return nil
	}
	return &StubError{Result: r}
}

// StubError reports a stub run that did not succeed.
type StubError struct {
	Result StubResult
}

func (e *StubError) Error() string {
	return fmt.Sprintf("stub failed: %s", e.Result)
}

// StubRunner executes code on the target core. The call halts the core,
// loads r0-r3 from args, starts execution at entry and blocks until the
// stub stops on a breakpoint, faults, or the runner's own timeout elapses.
type StubRunner interface {
	RunStub(entry uint32, args [4]uint32) StubResult
}
