package transport

import "sync"

// Buffer holds the recent event history for one session and feeds live
// watchers. Replay is by envelope Seq, so a polling client and a push
// client drain the same stream. Watcher sends never block: a full
// watcher channel drops the event and the client recovers by replay,
// which is the at-least-once contract.
type Buffer struct {
	mu       sync.Mutex
	max      int
	events   []Envelope
	watchers map[chan Envelope]struct{}
	closed   bool
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 512
	}
	return &Buffer{
		max:      max,
		watchers: map[chan Envelope]struct{}{},
	}
}

func (b *Buffer) Append(ev Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.events = append(b.events, ev)
	if len(b.events) > b.max {
		b.events = b.events[len(b.events)-b.max:]
	}
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ReplayAfter returns every buffered envelope with Seq strictly greater
// than since, in order.
func (b *Buffer) ReplayAfter(since int64) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	out := make([]Envelope, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out
}

// LastSeq returns the newest buffered sequence, or 0 when empty.
func (b *Buffer) LastSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return 0
	}
	return b.events[len(b.events)-1].Seq
}

func (b *Buffer) Subscribe() chan Envelope {
	ch := make(chan Envelope, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.watchers[ch] = struct{}{}
	return ch
}

func (b *Buffer) Unsubscribe(ch chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watchers[ch]; ok {
		delete(b.watchers, ch)
		close(ch)
	}
}

func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.watchers {
		close(ch)
		delete(b.watchers, ch)
	}
}
