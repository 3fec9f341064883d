//go:build windows

package main

import (
	"memlocate/process"
	"memlocate/process_windows"
)

func attach(pid process.ProcessID) (process.Process, error) {
	proc, err := process_windows.NewWithPID(pid)
	if err != nil {
		return nil, err
	}
	return proc, nil
}
