// Package process provides the read-only view of a target process used by the locator:
// address types, the Process interface and the sentinel errors shared by its implementations.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrProcessLost is returned once the attached process has exited. It is terminal for the
	// handle: the caller has to attach again.
	ErrProcessLost = errors.New("target process lost")

	// ErrEndOfAddressSpace is returned by QueryRegion when no region starts at or above the
	// queried address.
	ErrEndOfAddressSpace = errors.New("end of address space")

	ErrInvalidPointer = errors.New("invalid pointer read")
)
