//go:build linux

package main

import (
	"memlocate/process"
	"memlocate/process_linux"
)

func attach(pid process.ProcessID) (process.Process, error) {
	proc, err := process_linux.NewWithPID(pid)
	if err != nil {
		return nil, err
	}
	return proc, nil
}
