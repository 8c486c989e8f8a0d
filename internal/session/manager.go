package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-sync-server/internal/clock"
	"github.com/park285/chess-sync-server/internal/obslog"
	"github.com/park285/chess-sync-server/internal/oracle"
	"github.com/park285/chess-sync-server/internal/transport"
	"github.com/park285/chess-sync-server/pkg/syncdto"
	"go.uber.org/zap"
)

// Options tunes the per-session lifetimes. Zero values fall back to
// conservative defaults.
type Options struct {
	DefaultInitialMs   int64
	DefaultIncrementMs int64
	HandshakeTimeout   time.Duration
	DrawOfferTTL       time.Duration
	ResumeCooldown     time.Duration
	AbandonGrace       time.Duration
	ArchiveGrace       time.Duration

	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.DefaultInitialMs <= 0 {
		o.DefaultInitialMs = 300000
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.DrawOfferTTL <= 0 {
		o.DrawOfferTTL = 60 * time.Second
	}
	if o.ResumeCooldown <= 0 {
		o.ResumeCooldown = 2 * time.Second
	}
	if o.AbandonGrace <= 0 {
		o.AbandonGrace = 5 * time.Minute
	}
	if o.ArchiveGrace <= 0 {
		o.ArchiveGrace = 5 * time.Minute
	}
	return o
}

type drawOffer struct {
	by       Color
	deadline time.Time
	timer    *time.Timer
}

// Session is the per-game runtime. Every mutating operation and every
// client-facing read takes s.mu, so all state transitions for one game
// are serialized while distinct games run fully in parallel.
type Session struct {
	mu sync.Mutex

	st  State
	clk *clock.Clock

	hs      *HandshakeRecord
	hsTimer *time.Timer

	offer *drawOffer

	present     map[Color]bool
	pausedAt    time.Time
	resumeTimer *time.Timer
}

// Manager owns all live sessions and is the only writer of their state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	oracle *oracle.Oracle
	bus    *transport.Broadcaster
	store  *Store
	repo   *Repository
	opts   Options

	onArchive func(sessionID string)
	now       func() time.Time
}

func NewManager(bus *transport.Broadcaster, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions: make(map[string]*Session),
		oracle:   oracle.New(),
		bus:      bus,
		opts:     opts.withDefaults(),
		now:      now,
	}
}

// AttachStore wires the crash-recovery snapshot store.
func (m *Manager) AttachStore(s *Store) { m.store = s }

// AttachRepository wires the finished-game archive.
func (m *Manager) AttachRepository(r *Repository) { m.repo = r }

// OnArchive registers a hook invoked when a session leaves memory after
// its grace window, so transports can drop connection records.
func (m *Manager) OnArchive(fn func(sessionID string)) { m.onArchive = fn }

// Create registers a new pending session. Color assignment is fixed
// here and never renegotiated: the first ref plays white.
func (m *Manager) Create(ctx context.Context, whiteID, blackID string, initialMs, incrementMs int64) (*syncdto.PublicState, error) {
	whiteID = strings.TrimSpace(whiteID)
	blackID = strings.TrimSpace(blackID)
	if whiteID == "" || blackID == "" || whiteID == blackID {
		return nil, ErrValidation
	}
	if initialMs <= 0 {
		initialMs = m.opts.DefaultInitialMs
	}
	if incrementMs < 0 {
		incrementMs = m.opts.DefaultIncrementMs
	}

	now := m.now()
	id := uuid.NewString()
	s := &Session{
		st: State{
			ID:        id,
			Status:    StatusPending,
			FEN:       m.oracle.StartFEN(),
			Moves:     []Move{},
			WhiteID:   whiteID,
			BlackID:   blackID,
			Turn:      White,
			Result:    ResultNone,
			EndReason: EndNone,
			InitialMs: initialMs,
			CreatedAt: now,
			UpdatedAt: now,
		},
		clk:     clock.New(initialMs, incrementMs),
		present: map[Color]bool{},
	}
	s.st.Clock = s.clk.Peek()
	s.hs = &HandshakeRecord{
		SessionID: id,
		Deadline:  now.Add(m.opts.HandshakeTimeout),
	}
	s.hsTimer = time.AfterFunc(m.opts.HandshakeTimeout, func() { m.expireHandshake(id) })

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.bus.Register(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	m.persistLocked(ctx, s)
	obslog.L().Info("session_create",
		zap.String("session_id", id),
		zap.String("white_id", whiteID),
		zap.String("black_id", blackID),
		zap.Int64("initial_ms", initialMs),
		zap.Int64("increment_ms", incrementMs),
	)
	return m.publicLocked(s, now), nil
}

func (m *Manager) get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s := m.sessions[strings.TrimSpace(sessionID)]
	m.mu.RUnlock()
	if s == nil {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// PublicState returns the current shared view, ticking the clock first
// so reads never show stale remaining time.
func (m *Manager) PublicState(ctx context.Context, sessionID string) (*syncdto.PublicState, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := m.now()
	m.tickAndCheckLocked(ctx, s, now)
	return m.publicLocked(s, now), nil
}

// PollToken computes the cache-validation token for the poll endpoint.
func (m *Manager) PollToken(ctx context.Context, sessionID string) (string, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := m.now()
	m.tickAndCheckLocked(ctx, s, now)
	cs := clockState(s.clk.Peek())
	// second resolution keeps idle polls cacheable while a clock runs;
	// clients animate their own countdown between deltas
	cs.WhiteRemainingMs /= 1000
	cs.BlackRemainingMs /= 1000
	return transport.CacheToken(string(s.st.Status), len(s.st.Moves), cs), nil
}

// RunSweeper periodically evaluates timeouts, abandoned pauses, and
// overdue handshakes until the context is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one timeout/abandonment pass over all sessions.
func (m *Manager) SweepOnce(ctx context.Context) {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	now := m.now()
	for _, s := range list {
		s.mu.Lock()
		switch s.st.Status {
		case StatusActive:
			m.tickAndCheckLocked(ctx, s, now)
		case StatusPaused:
			if !s.present[White] && !s.present[Black] && now.Sub(s.pausedAt) > m.opts.AbandonGrace {
				m.abortLocked(ctx, s, now)
			}
		case StatusPending:
			if s.hs != nil && now.After(s.hs.Deadline) {
				m.abortLocked(ctx, s, now)
			}
		}
		s.mu.Unlock()
	}
}

// Recover rehydrates one session from the snapshot store after a
// restart. A previously active session comes back paused; clocks only
// restart once both players have reconnected.
func (m *Manager) Recover(ctx context.Context, sessionID string) error {
	if m.store == nil {
		return ErrUnknownSession
	}
	st, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if st == nil {
		return ErrUnknownSession
	}

	if len(st.Moves) > 0 {
		if fen, rerr := m.oracle.Replay(st.LedgerUCI()); rerr == nil && fen != st.FEN {
			obslog.L().Warn("session_recover_fen_mismatch",
				zap.String("session_id", st.ID),
				zap.String("stored_fen", st.FEN),
				zap.String("replayed_fen", fen),
			)
			st.FEN = fen
		}
	}

	now := m.now()
	s := &Session{
		st:      *st,
		clk:     clock.Restore(st.Clock),
		present: map[Color]bool{},
	}
	if s.st.Status == StatusActive {
		// Halt, not Pause: the gap since the snapshot's last tick is
		// server downtime, not thinking time.
		s.clk.Halt()
		s.st.Status = StatusPaused
		s.st.Clock = s.clk.Peek()
		s.pausedAt = now
	}
	if s.st.Status == StatusPending {
		s.hs = &HandshakeRecord{SessionID: st.ID, Deadline: now.Add(m.opts.HandshakeTimeout)}
		s.hsTimer = time.AfterFunc(m.opts.HandshakeTimeout, func() { m.expireHandshake(st.ID) })
	}

	m.mu.Lock()
	m.sessions[st.ID] = s
	m.mu.Unlock()
	m.bus.Register(st.ID)
	obslog.L().Info("session_recover",
		zap.String("session_id", st.ID),
		zap.String("status", string(s.st.Status)),
		zap.Int("moves", len(s.st.Moves)),
	)
	return nil
}

// scheduleArchive removes a terminal session after the grace window,
// keeping it reachable for late reconnecting clients until then.
func (m *Manager) scheduleArchive(sessionID string) {
	time.AfterFunc(m.opts.ArchiveGrace, func() { m.archiveNow(sessionID) })
}

// archiveNow drops the session from memory and deletes its snapshot;
// past this point the Postgres row is the only remaining record.
func (m *Manager) archiveNow(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	m.bus.Drop(sessionID)
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.Delete(ctx, sessionID); err != nil {
			obslog.L().Error("session_archive_delete_error",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
	if m.onArchive != nil {
		m.onArchive(sessionID)
	}
	obslog.L().Info("session_archive", zap.String("session_id", sessionID))
}
