//go:build !linux

package inject

import (
	"runtime"

	"github.com/micmonay/keybd_event"
)

// ChordTyper drives the paste shortcut through keybd_event. Per-character
// typing is not portable here; the dispatcher falls back to the clipboard
// path when Type reports ErrTypeUnsupported.
type ChordTyper struct{}

func NewSystemTyper() *ChordTyper { return &ChordTyper{} }

func (ChordTyper) Type(string) error {
	return ErrTypeUnsupported
}

func (ChordTyper) PasteChord() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true) // Cmd+V
	} else {
		kb.HasCTRL(true)
	}
	return kb.Launching()
}
