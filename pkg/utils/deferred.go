// Package utils provides small shared helpers.
package utils

import (
	"io"
	"sync"
)

// DeferredWriter buffers writes in memory until Flush. Used to hold log
// output while the TUI owns the terminal, then replay it afterwards.
type DeferredWriter struct {
	mu  sync.Mutex
	buf []byte
}

// Write appends to the buffer. Never fails.
func (w *DeferredWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Flush writes the buffered output to out and clears the buffer.
func (w *DeferredWriter) Flush(out io.Writer) error {
	w.mu.Lock()
	data := w.buf
	w.buf = nil
	w.mu.Unlock()

	if len(data) == 0 {
		return nil
	}
	_, err := out.Write(data)
	return err
}
