package inject

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"voxd/log"
)

// Method is how text reaches the focused application.
type Method int

const (
	Auto Method = iota
	Keyboard
	Clipboard
)

func (m Method) String() string {
	switch m {
	case Auto:
		return "auto"
	case Keyboard:
		return "keyboard"
	case Clipboard:
		return "clipboard"
	}
	return "unknown"
}

var (
	// ErrNoActiveWindow means no editable target window exists. No side
	// effects were performed.
	ErrNoActiveWindow = errors.New("inject: no active editable window")
	// ErrPermissionDenied means the platform blocks input simulation. The
	// user must grant access; retrying cannot help.
	ErrPermissionDenied = errors.New("inject: input simulation permission denied")
	// ErrClipboardRestore marks a failed restore of the saved clipboard. It
	// accompanies the injection outcome, never replaces it.
	ErrClipboardRestore = errors.New("inject: clipboard restore failed")
	// ErrTypeUnsupported is returned by typers that cannot synthesize
	// per-character keystrokes; the dispatcher falls back to the clipboard.
	ErrTypeUnsupported = errors.New("inject: per-character typing not supported")
)

// Request is one unit of text delivery. Requests are processed strictly in
// arrival order; there is no coalescing.
type Request struct {
	ID     uuid.UUID
	Text   string
	Method Method
}

func NewRequest(text string, method Method) Request {
	return Request{ID: uuid.New(), Text: text, Method: method}
}

// WindowInfo describes the focus target at injection time.
type WindowInfo struct {
	ProcessID int
	AppName   string
	Title     string
	Editable  bool
}

// Typer synthesizes keystrokes. PasteChord triggers the platform paste
// shortcut; Type delivers text character by character.
type Typer interface {
	Type(text string) error
	PasteChord() error
}

// ClipboardAccess wraps the system clipboard. All operations are fallible
// and potentially slow.
type ClipboardAccess interface {
	Read() (string, error)
	Write(text string) error
	Available() bool
}

// Windows answers focus and permission queries.
type Windows interface {
	Active() (WindowInfo, error)
	CheckPermission() error
}

// Config tunes the dispatcher.
type Config struct {
	// ShortTextMax is the Auto cutoff: texts of at most this many runes go
	// through the keyboard, longer ones prefer the clipboard.
	ShortTextMax int
	// SettleDelay gives the compositor time between clipboard write, paste
	// chord, and restore.
	SettleDelay time.Duration
}

func (c *Config) fill() {
	if c.ShortTextMax <= 0 {
		c.ShortTextMax = 10
	}
}

// Dispatcher executes injection requests one at a time. The mutex gives
// strict FIFO under a single caller and mutual exclusion under several; the
// coordinator is the only production caller.
type Dispatcher struct {
	typer Typer
	clip  ClipboardAccess
	win   Windows
	cfg   Config

	mu        sync.Mutex
	delivered int
}

func NewDispatcher(typer Typer, clip ClipboardAccess, win Windows, cfg Config) *Dispatcher {
	cfg.fill()
	return &Dispatcher{typer: typer, clip: clip, win: win, cfg: cfg}
}

// Delivered returns how many requests completed successfully.
func (d *Dispatcher) Delivered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered
}

// Inject delivers one request. Permission and focus are checked before any
// side effect; the clipboard path always restores the saved contents on the
// way out, success or not.
func (d *Dispatcher) Inject(req Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.win.CheckPermission(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	win, err := d.win.Active()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoActiveWindow, err)
	}
	if !win.Editable {
		return ErrNoActiveWindow
	}

	method := d.resolve(req)
	log.Infof("inject: request %s via %s to %s (%d runes)",
		req.ID, method, win.AppName, utf8.RuneCountInString(req.Text))

	switch method {
	case Keyboard:
		err = d.typer.Type(req.Text)
		if errors.Is(err, ErrTypeUnsupported) && d.clip.Available() {
			err = d.viaClipboard(req.Text)
		}
	default:
		err = d.viaClipboard(req.Text)
	}
	if err != nil {
		return err
	}
	d.delivered++
	return nil
}

// resolve picks the concrete method for a request. Auto sends short texts
// through the keyboard (less clipboard churn) and longer ones through a
// paste, falling back to the keyboard when no clipboard is available.
func (d *Dispatcher) resolve(req Request) Method {
	switch req.Method {
	case Keyboard, Clipboard:
		return req.Method
	}
	if utf8.RuneCountInString(req.Text) <= d.cfg.ShortTextMax {
		return Keyboard
	}
	if d.clip.Available() {
		return Clipboard
	}
	return Keyboard
}

// viaClipboard is the scoped clipboard operation: save, write, paste,
// restore. Restore runs on every exit path; its failure is joined to the
// paste outcome rather than masking it.
func (d *Dispatcher) viaClipboard(text string) error {
	saved, readErr := d.clip.Read()
	if readErr != nil {
		// Nothing to restore; proceed with an empty snapshot.
		log.Warnf("inject: clipboard read before injection: %v", readErr)
		saved = ""
	}

	if err := d.clip.Write(text); err != nil {
		return fmt.Errorf("inject: clipboard write: %w", err)
	}
	d.settle()

	pasteErr := d.typer.PasteChord()
	d.settle()

	var restoreErr error
	if err := d.clip.Write(saved); err != nil {
		restoreErr = fmt.Errorf("%w: %v", ErrClipboardRestore, err)
	}

	if pasteErr != nil {
		pasteErr = fmt.Errorf("inject: paste: %w", pasteErr)
	}
	return errors.Join(pasteErr, restoreErr)
}

func (d *Dispatcher) settle() {
	if d.cfg.SettleDelay > 0 {
		time.Sleep(d.cfg.SettleDelay)
	}
}
