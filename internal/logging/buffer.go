package logging

import (
	"log/slog"
	"sync"
	"time"
)

const DefaultCapacity = 1000

// Entry is one buffered log record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
}

// Buffer is a bounded ring of log entries awaiting submission. When full the
// oldest entry is overwritten.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

func (b *Buffer) Push(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := len(b.entries)
	if b.count < size {
		b.entries[(b.start+b.count)%size] = e
		b.count++
		return
	}
	b.entries[b.start] = e
	b.start = (b.start + 1) % size
}

// Drain returns the buffered entries oldest first and empties the buffer.
func (b *Buffer) Drain() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, b.count)
	size := len(b.entries)
	for i := range b.count {
		out[i] = b.entries[(b.start+i)%size]
		b.entries[(b.start+i)%size] = Entry{}
	}
	b.start, b.count = 0, 0
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
