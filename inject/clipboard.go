package inject

import cb "github.com/atotto/clipboard"

// SystemClipboard backs ClipboardAccess with the platform clipboard.
type SystemClipboard struct{}

func (SystemClipboard) Read() (string, error) {
	return cb.ReadAll()
}

func (SystemClipboard) Write(text string) error {
	return cb.WriteAll(text)
}

func (SystemClipboard) Available() bool {
	return !cb.Unsupported
}
