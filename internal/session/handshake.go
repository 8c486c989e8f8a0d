package session

import (
	"context"
	"time"

	"github.com/park285/chess-sync-server/internal/clock"
	"github.com/park285/chess-sync-server/internal/obslog"
	"github.com/park285/chess-sync-server/internal/transport"
	"github.com/park285/chess-sync-server/pkg/syncdto"
	"go.uber.org/zap"
)

// BeginHandshake records one player's readiness. Repeating the call is
// idempotent: the ready bit is already set, the ack just restates the
// assigned color. When the second distinct player confirms, the session
// activates and white's clock starts.
func (m *Manager) BeginHandshake(ctx context.Context, sessionID, playerID string, protocolVersion int) (*syncdto.HandshakeAck, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	color := s.st.ColorOf(playerID)
	if color == clock.None {
		return nil, ErrNotAParticipant
	}
	if s.st.Status.Terminal() {
		return nil, ErrSessionTerminal
	}

	// Confirming after activation is a no-op ack, not an error: the
	// late duplicate from a retrying client must not fail.
	if s.st.Status != StatusPending {
		return m.handshakeAckLocked(s, color), nil
	}
	if s.hs == nil {
		return nil, ErrSessionTerminal
	}

	now := m.now()
	if now.After(s.hs.Deadline) {
		m.abortLocked(ctx, s, now)
		return nil, ErrSessionTerminal
	}

	if !s.hs.ready(color) {
		s.hs.markReady(color)
		if protocolVersion > s.hs.ProtocolVersion {
			s.hs.ProtocolVersion = protocolVersion
		}
		obslog.L().Info("handshake_ready",
			zap.String("session_id", s.st.ID),
			zap.String("color", string(color)),
			zap.Uint8("ready_mask", s.hs.ReadyMask),
		)
	}
	s.present[color] = true

	if s.hs.bothReady() {
		m.activateLocked(ctx, s, now)
	}
	return m.handshakeAckLocked(s, color), nil
}

// activateLocked moves PENDING to ACTIVE: the handshake record is
// destroyed, white's clock starts, and the activation event is the
// first entry every subscriber sees.
func (m *Manager) activateLocked(ctx context.Context, s *Session, now time.Time) {
	s.st.ProtocolVersion = s.hs.ProtocolVersion
	s.hs = nil
	if s.hsTimer != nil {
		s.hsTimer.Stop()
		s.hsTimer = nil
	}

	s.st.Status = StatusActive
	s.st.Turn = White
	s.clk.Start(White, now)
	s.st.Clock = s.clk.Peek()
	s.st.UpdatedAt = now

	m.emitLocked(s, transport.EventActivated, transport.ActivatedPayload{
		FEN:             s.st.FEN,
		WhiteID:         s.st.WhiteID,
		BlackID:         s.st.BlackID,
		Clock:           clockState(s.clk.Peek()),
		ProtocolVersion: s.st.ProtocolVersion,
	}, now)
	m.persistLocked(ctx, s)
	obslog.L().Info("session_activate",
		zap.String("session_id", s.st.ID),
		zap.Int("protocol_version", s.st.ProtocolVersion),
	)
}

func (m *Manager) handshakeAckLocked(s *Session, color Color) *syncdto.HandshakeAck {
	// Ready reports whether both sides have confirmed, i.e. the game is
	// live; the caller's own bit is implied by a successful ack.
	ready := s.hs == nil || s.hs.bothReady()
	return &syncdto.HandshakeAck{
		SessionID: s.st.ID,
		Color:     string(color),
		Status:    string(s.st.Status),
		Ready:     ready,
	}
}

// expireHandshake aborts a session whose second player never confirmed
// within the window.
func (m *Manager) expireHandshake(sessionID string) {
	s, err := m.get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Status != StatusPending || s.hs == nil {
		return
	}
	now := m.now()
	if now.Before(s.hs.Deadline) {
		return
	}
	obslog.L().Warn("handshake_expire",
		zap.String("session_id", s.st.ID),
		zap.Uint8("ready_mask", s.hs.ReadyMask),
	)
	m.abortLocked(context.Background(), s, now)
}
