//go:build !linux && !windows

package main

import (
	"fmt"
	"runtime"

	"memlocate/process"
)

func attach(pid process.ProcessID) (process.Process, error) {
	return nil, fmt.Errorf("attaching to live processes is not supported on %s; use --dump", runtime.GOOS)
}
