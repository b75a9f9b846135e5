package session

import (
	"strings"
	"sync"
)

// RingBuffer keeps the most recent output lines for a session. It backs
// the output endpoint and provides recent context to the oracle prompt
// without ever growing unbounded.
type RingBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

// NewRingBuffer creates a buffer retaining at most capacity lines.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{cap: capacity}
}

// Replace swaps the buffer content for the lines of a full capture,
// keeping only the trailing window when the capture exceeds capacity.
func (b *RingBuffer) Replace(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = b.lines[:0]
	if text == "" {
		return
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > b.cap {
		lines = lines[len(lines)-b.cap:]
	}
	b.lines = append(b.lines, lines...)
}

// Last returns up to n trailing lines joined by newlines.
// n <= 0 returns everything retained.
func (b *RingBuffer) Last(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := b.lines
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Len returns the number of retained lines.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
