package hotkey

import (
	"fmt"
	"strings"
)

// Hotkey is the push-to-talk binding: Keydown starts an activation, Keyup
// ends it.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// chord is a parsed binding like "ctrl+shift+space".
type chord struct {
	ctrl  bool
	shift bool
	alt   bool
	key   string
}

func parseChord(s string) (chord, error) {
	var c chord
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "ctrl", "control":
			c.ctrl = true
		case "shift":
			c.shift = true
		case "alt":
			c.alt = true
		default:
			if i != len(parts)-1 {
				return chord{}, fmt.Errorf("hotkey: unknown modifier %q in %q", p, s)
			}
			c.key = p
		}
	}
	if c.key == "" {
		return chord{}, fmt.Errorf("hotkey: chord %q has no terminal key", s)
	}
	if !c.ctrl && !c.shift && !c.alt {
		return chord{}, fmt.Errorf("hotkey: chord %q needs at least one modifier", s)
	}
	return c, nil
}
