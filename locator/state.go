package locator

// State of the engine. There is no terminal state; an engine lives until it is dropped.
//
//	Uninitialized -> Scanning -> Located -> Tracking -> Invalidated -> Scanning ...
type State int32

const (
	Uninitialized State = iota
	Scanning
	// Located is transient: the cache is written and Tracking follows immediately
	Located
	Tracking
	Invalidated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Scanning:
		return "scanning"
	case Located:
		return "located"
	case Tracking:
		return "tracking"
	case Invalidated:
		return "invalidated"
	}
	return "unknown"
}
