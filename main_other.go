//go:build !linux

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	// The global hotkey registration needs the process main thread.
	runtime.LockOSThread()
}

func main() {
	mainthread.Init(run)
}
