// File: internal/ui/terminal.go
// Brief: Internal ui package implementation for 'terminal helpers'.

package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/term"
)

// TerminalWidth reports the column count of w when it is backed by a
// terminal.
func TerminalWidth(w io.Writer) (int, bool) {
	type fdProvider interface {
		Fd() uintptr
	}
	if v, ok := w.(fdProvider); ok {
		if cols, _, err := term.GetSize(int(v.Fd())); err == nil {
			return cols, true
		}
	}
	return 0, false
}

// StartSpinner prints a lightweight ASCII spinner until the returned stop
// function is called. Stopping waits for the render goroutine to finish,
// so later writes to w never interleave with a spinner frame, then prints
// "[done]" or "[fail]" depending on the success flag.
func StartSpinner(w io.Writer, message string) func(success bool) {
	frames := []rune{'|', '/', '-', '\\'}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-done:
				fmt.Fprintf(w, "\r%s    \r", message)
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %c", message, frames[idx])
				idx = (idx + 1) % len(frames)
			}
		}
	}()
	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			close(done)
			<-finished
			status := "[done]"
			if !success {
				status = "[fail]"
			}
			fmt.Fprintf(w, "%s %s\n", message, status)
		})
	}
}
