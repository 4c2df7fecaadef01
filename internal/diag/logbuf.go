// Package diag holds in-process diagnostics, currently a bounded ring of
// recent log lines that the frontend can display without touching files.
package diag

import (
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	TS  time.Time
	Msg string
}

// LogBuffer keeps the most recent log lines in a fixed-size ring. It
// implements io.Writer so it can sit in a log.MultiWriter chain; writes are
// split on newlines and a trailing partial line is held until completed.
type LogBuffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	partial strings.Builder
}

func NewLogBuffer(size int) *LogBuffer {
	if size < 1 {
		size = 1
	}
	return &LogBuffer{entries: make([]Entry, size)}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		s := b.partial.String()
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(s[:i], "\r")
		b.partial.Reset()
		b.partial.WriteString(s[i+1:])
		if line == "" {
			continue
		}
		b.entries[b.next] = Entry{TS: time.Now(), Msg: line}
		b.next++
		if b.next == len(b.entries) {
			b.next = 0
			b.full = true
		}
	}
	return len(p), nil
}

// Snapshot returns the buffered lines oldest first.
func (b *LogBuffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	if b.full {
		out = make([]Entry, 0, len(b.entries))
		out = append(out, b.entries[b.next:]...)
		out = append(out, b.entries[:b.next]...)
	} else {
		out = append(out, b.entries[:b.next]...)
	}
	return out
}

// Len reports how many lines are currently buffered.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}
