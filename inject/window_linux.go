//go:build linux

package inject

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// SystemWindows resolves the focus target with xdotool when present. Focus
// detection is best-effort on Linux: without a helper the compositor gives
// us nothing, so an unknown window is assumed editable rather than blocking
// every injection.
type SystemWindows struct{}

func NewSystemWindows() SystemWindows { return SystemWindows{} }

func (SystemWindows) Active() (WindowInfo, error) {
	id, err := xdotool("getactivewindow")
	if err != nil {
		return WindowInfo{AppName: "unknown", Editable: true}, nil
	}
	if id == "" {
		return WindowInfo{}, fmt.Errorf("no focused window")
	}

	info := WindowInfo{Editable: true}
	if title, err := xdotool("getwindowname", id); err == nil {
		info.Title = title
	}
	if pid, err := xdotool("getwindowpid", id); err == nil {
		info.ProcessID, _ = strconv.Atoi(pid)
		info.AppName = processName(info.ProcessID)
	}
	return info, nil
}

// CheckPermission verifies the uinput device is reachable, which is what
// keystroke synthesis actually needs on Linux.
func (SystemWindows) CheckPermission() error {
	for _, path := range []string{"/dev/uinput", "/dev/input/uinput"} {
		f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			f.Close()
			return nil
		}
		if os.IsPermission(err) {
			return fmt.Errorf("cannot open %s (run: sudo usermod -aG input $USER, then re-login): %w", path, err)
		}
	}
	return fmt.Errorf("uinput device not found, try: sudo modprobe uinput")
}

func xdotool(args ...string) (string, error) {
	out, err := exec.Command("xdotool", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func processName(pid int) string {
	if pid <= 0 {
		return ""
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
