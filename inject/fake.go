package inject

import (
	"errors"
	"sync"
)

var errFakeWrite = errors.New("fake clipboard write failure")

// FakeTyper records synthesized keystrokes.
type FakeTyper struct {
	mu       sync.Mutex
	typed    []string
	pastes   int
	TypeErr  error
	PasteErr error
	// NoType makes Type behave like platforms without per-character
	// keystroke support.
	NoType bool
}

func NewFakeTyper() *FakeTyper { return &FakeTyper{} }

func (f *FakeTyper) Type(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NoType {
		return ErrTypeUnsupported
	}
	if f.TypeErr != nil {
		return f.TypeErr
	}
	f.typed = append(f.typed, text)
	return nil
}

func (f *FakeTyper) PasteChord() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PasteErr != nil {
		return f.PasteErr
	}
	f.pastes++
	return nil
}

func (f *FakeTyper) Typed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typed...)
}

func (f *FakeTyper) Pastes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pastes
}

// FakeClipboard is an in-memory clipboard with scriptable failures.
type FakeClipboard struct {
	mu          sync.Mutex
	content     string
	writes      []string
	Unavailable bool
	ReadErr     error
	WriteErr    error
	// FailWriteAfter fails the Nth write (1-based); 0 disables. Used to
	// break the restore step specifically.
	FailWriteAfter int
	writeCount     int
}

func NewFakeClipboard(content string) *FakeClipboard {
	return &FakeClipboard{content: content}
}

func (f *FakeClipboard) Read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return "", f.ReadErr
	}
	return f.content, nil
}

func (f *FakeClipboard) Write(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCount++
	if f.WriteErr != nil {
		return f.WriteErr
	}
	if f.FailWriteAfter > 0 && f.writeCount >= f.FailWriteAfter {
		return errFakeWrite
	}
	f.content = text
	f.writes = append(f.writes, text)
	return nil
}

func (f *FakeClipboard) Available() bool { return !f.Unavailable }

func (f *FakeClipboard) Content() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content
}

func (f *FakeClipboard) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// FakeWindows serves a scripted focus target.
type FakeWindows struct {
	Info      WindowInfo
	ActiveErr error
	PermErr   error
}

func NewFakeWindows() *FakeWindows {
	return &FakeWindows{Info: WindowInfo{ProcessID: 42, AppName: "editor", Title: "notes", Editable: true}}
}

func (f *FakeWindows) Active() (WindowInfo, error) {
	if f.ActiveErr != nil {
		return WindowInfo{}, f.ActiveErr
	}
	return f.Info, nil
}

func (f *FakeWindows) CheckPermission() error { return f.PermErr }
