//go:build !linux

package inject

import "github.com/micmonay/keybd_event"

// SystemWindows is a permissive default where no focus query is wired: the
// front window is assumed editable and permission is probed by constructing
// a key bonding, which fails on macOS without accessibility access.
type SystemWindows struct{}

func NewSystemWindows() SystemWindows { return SystemWindows{} }

func (SystemWindows) Active() (WindowInfo, error) {
	return WindowInfo{AppName: "unknown", Editable: true}, nil
}

func (SystemWindows) CheckPermission() error {
	_, err := keybd_event.NewKeyBonding()
	return err
}
