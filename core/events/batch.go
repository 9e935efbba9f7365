package events

import (
	"context"
	"sync"
)

type batchKey struct{}

type pendingEvent struct {
	to  Emitter
	evt Event
}

// Batch holds the events raised during one unit of work. They reach their
// emitters, in emission order, only when the batch is committed.
type Batch struct {
	mu      sync.Mutex
	pending []pendingEvent
}

// WithBatch returns a child context carrying a fresh batch.
func WithBatch(ctx context.Context) (context.Context, *Batch) {
	b := &Batch{}
	return context.WithValue(ctx, batchKey{}, b), b
}

// BatchFrom returns the batch carried by ctx, if any.
func BatchFrom(ctx context.Context) (*Batch, bool) {
	if ctx == nil {
		return nil, false
	}
	b, ok := ctx.Value(batchKey{}).(*Batch)
	return b, ok && b != nil
}

// EmitContext delivers evt to emitter, deferring delivery when ctx carries a
// batch.
func EmitContext(ctx context.Context, emitter Emitter, evt Event) {
	if emitter == nil || evt == nil {
		return
	}
	if b, ok := BatchFrom(ctx); ok {
		b.mu.Lock()
		b.pending = append(b.pending, pendingEvent{to: emitter, evt: evt})
		b.mu.Unlock()
		return
	}
	emitter.Emit(evt)
}

// Len reports the number of events waiting for commit.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Commit forwards the pending events and empties the batch.
func (b *Batch) Commit() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, p := range pending {
		p.to.Emit(p.evt)
	}
}

// Discard drops the pending events.
func (b *Batch) Discard() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}
