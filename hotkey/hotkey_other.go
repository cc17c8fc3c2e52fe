//go:build !linux

package hotkey

import (
	"fmt"

	"golang.design/x/hotkey"
)

var xKeys = map[string]hotkey.Key{
	"space": hotkey.KeySpace, "enter": hotkey.KeyReturn, "tab": hotkey.KeyTab,
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
}

type xHotkey struct {
	hk      *hotkey.Hotkey
	keydown chan struct{}
	keyup   chan struct{}
}

func New(binding string) (Hotkey, error) {
	c, err := parseChord(binding)
	if err != nil {
		return nil, err
	}
	key, ok := xKeys[c.key]
	if !ok {
		return nil, fmt.Errorf("hotkey: unsupported key %q", c.key)
	}
	// Alt is named differently per platform in golang.design/x/hotkey;
	// only ctrl/shift chords are portable here.
	if c.alt {
		return nil, fmt.Errorf("hotkey: alt modifier not supported on this platform")
	}
	var mods []hotkey.Modifier
	if c.ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if c.shift {
		mods = append(mods, hotkey.ModShift)
	}
	return &xHotkey{
		hk:      hotkey.New(mods, key),
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}, nil
}

func (h *xHotkey) Register() error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	go func() {
		for {
			<-h.hk.Keydown()
			h.keydown <- struct{}{}
		}
	}()
	go func() {
		for {
			<-h.hk.Keyup()
			h.keyup <- struct{}{}
		}
	}()
	return nil
}

func (h *xHotkey) Unregister() {
	h.hk.Unregister()
}

func (h *xHotkey) Keydown() <-chan struct{} {
	return h.keydown
}

func (h *xHotkey) Keyup() <-chan struct{} {
	return h.keyup
}
