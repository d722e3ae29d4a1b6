package events

import "sync"

// Buffer collects events until they are flushed or discarded. It is used to
// hold back records of an operation until the operation commits.
type Buffer struct {
	mu      sync.Mutex
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	b.mu.Unlock()
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Checkpoint records the current buffer length and returns a function that
// truncates the buffer back to it.
func (b *Buffer) Checkpoint() func() {
	b.mu.Lock()
	mark := len(b.pending)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		if mark < len(b.pending) {
			for i := mark; i < len(b.pending); i++ {
				b.pending[i] = nil
			}
			b.pending = b.pending[:mark]
		}
		b.mu.Unlock()
	}
}

// Drain returns the buffered events in emission order and empties the buffer.
func (b *Buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// FlushTo drains the buffer into sink.
func (b *Buffer) FlushTo(sink Emitter) {
	for _, evt := range b.Drain() {
		if sink != nil {
			sink.Emit(evt)
		}
	}
}
