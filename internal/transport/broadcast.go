package transport

import (
	"sync"
	"time"

	"github.com/park285/chess-sync-server/internal/obslog"
	"go.uber.org/zap"
)

// Broadcaster fans session events out to both transports: it appends to
// the session's replay buffer, which simultaneously feeds live push
// subscribers and later poll drains.
type Broadcaster struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
	size    int
}

func NewBroadcaster(bufferSize int) *Broadcaster {
	return &Broadcaster{
		buffers: make(map[string]*Buffer),
		size:    bufferSize,
	}
}

// Register creates the event buffer for a new session.
func (b *Broadcaster) Register(sessionID string) *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[sessionID]; ok {
		return buf
	}
	buf := NewBuffer(b.size)
	b.buffers[sessionID] = buf
	return buf
}

// Buffer returns the session's buffer, creating it if the session was
// recovered after a restart.
func (b *Broadcaster) Buffer(sessionID string) *Buffer {
	b.mu.RLock()
	buf, ok := b.buffers[sessionID]
	b.mu.RUnlock()
	if ok {
		return buf
	}
	return b.Register(sessionID)
}

// Publish stamps the server timestamp and hands the envelope to the
// session's buffer. It never blocks on slow clients.
func (b *Broadcaster) Publish(sessionID string, ev Envelope) {
	if ev.ServerTS == 0 {
		ev.ServerTS = time.Now().UnixMilli()
	}
	buf := b.Buffer(sessionID)
	buf.Append(ev)
	obslog.L().Debug("event_publish",
		zap.String("session_id", sessionID),
		zap.String("type", string(ev.Type)),
		zap.Int64("seq", ev.Seq),
	)
}

// Drop closes and forgets a session's buffer after archival.
func (b *Broadcaster) Drop(sessionID string) {
	b.mu.Lock()
	buf, ok := b.buffers[sessionID]
	delete(b.buffers, sessionID)
	b.mu.Unlock()
	if ok {
		buf.Close()
	}
}
