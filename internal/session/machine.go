package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-sync-server/internal/clock"
	"github.com/park285/chess-sync-server/internal/obslog"
	"github.com/park285/chess-sync-server/internal/oracle"
	"github.com/park285/chess-sync-server/internal/transport"
	"github.com/park285/chess-sync-server/pkg/syncdto"
	"go.uber.org/zap"
)

// SubmitMove validates and applies one ply. On ErrStaleState the
// returned state is non-nil and carries the current authoritative view
// so the client can resync instead of blindly retrying.
func (m *Manager) SubmitMove(ctx context.Context, sessionID, playerID string, req syncdto.MoveRequest) (*syncdto.PublicState, error) {
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
	if s.st.Status != StatusActive {
		return nil, ErrNotActive
	}

	now := m.now()
	// Zero-time detection takes priority over move acceptance: a flag
	// that fell before our own sweep observed it still ends the game.
	if m.tickAndCheckLocked(ctx, s, now) {
		return nil, ErrSessionTerminal
	}

	if color != s.st.Turn {
		return nil, ErrOutOfTurn
	}

	want := len(s.st.Moves) + 1
	if req.SequenceHint != 0 {
		if req.SequenceHint < want {
			return m.publicLocked(s, now), ErrStaleState
		}
		if req.SequenceHint > want {
			return nil, ErrValidation
		}
	}

	input := strings.TrimSpace(req.Notation)
	if req.From != "" && req.To != "" {
		input = strings.ToLower(strings.TrimSpace(req.From) + strings.TrimSpace(req.To) + strings.TrimSpace(req.Promotion))
	}
	if input == "" {
		return nil, ErrValidation
	}

	v, aerr := m.oracle.Apply(s.st.LedgerUCI(), input)
	if aerr != nil {
		if errors.Is(aerr, oracle.ErrIllegalMove) {
			return nil, ErrIllegalMove
		}
		return nil, fmt.Errorf("apply move: %w", aerr)
	}

	// Mover's remaining time the instant their clock stops, before any
	// increment is credited.
	remaining := s.clk.Peek().Remaining(color)
	mv := Move{
		Seq:             want,
		Color:           color,
		SAN:             v.SAN,
		UCI:             v.UCI,
		From:            v.From,
		To:              v.To,
		Promotion:       v.Promotion,
		ClientTS:        req.ClientTS,
		ServerTS:        now.UnixMilli(),
		ClockSnapshotMs: remaining,
	}
	s.st.Moves = append(s.st.Moves, mv)
	s.st.FEN = v.FEN
	s.st.Turn = colorFromToken(v.NextTurn)
	s.st.UpdatedAt = now

	var finished bool
	if v.Terminal {
		finished = m.markFinishedLocked(s, resultFromToken(v.Result), reasonFromMethod(v.Method, v.Result), now)
	} else {
		s.clk.TurnChange(color.Opponent(), now)
	}
	s.st.Clock = s.clk.Peek()

	// The move event already carries the final status, so no observer
	// ever sees "move accepted" on a game that this move ended.
	m.emitLocked(s, transport.EventMove, transport.MovePayload{
		Move:   moveView(mv),
		FEN:    v.FEN,
		Turn:   string(s.st.Turn),
		Status: string(s.st.Status),
		Clock:  clockState(s.clk.Peek()),
	}, now)
	if finished {
		m.emitFinishedLocked(s, now)
		m.archiveLocked(s)
	}
	m.persistLocked(ctx, s)

	obslog.L().Info("move_accept",
		zap.String("session_id", s.st.ID),
		zap.String("color", string(color)),
		zap.Int("seq", mv.Seq),
		zap.String("uci", mv.UCI),
		zap.String("status", string(s.st.Status)),
	)
	return m.publicLocked(s, now), nil
}

// Resign ends the game in the opponent's favor. Repeating resign on an
// already-finished game returns the existing result, not an error.
func (m *Manager) Resign(ctx context.Context, sessionID, playerID string) (*syncdto.PublicState, error) {
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
	now := m.now()
	if s.st.Status.Terminal() {
		return m.publicLocked(s, now), nil
	}
	if s.st.Status != StatusActive && s.st.Status != StatusPaused {
		return nil, ErrNotActive
	}
	if m.tickAndCheckLocked(ctx, s, now) {
		return m.publicLocked(s, now), nil
	}

	if m.finalizeLocked(ctx, s, winnerResult(color.Opponent()), EndResignation, now) {
		obslog.L().Info("session_resign",
			zap.String("session_id", s.st.ID),
			zap.String("resigner", string(color)),
		)
	}
	return m.publicLocked(s, now), nil
}

// OfferDraw records a pending offer with a bounded lifetime. A repeated
// offer from the same side is idempotent.
func (m *Manager) OfferDraw(ctx context.Context, sessionID, playerID string) (*syncdto.PublicState, error) {
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
	if s.st.Status != StatusActive {
		return nil, ErrNotActive
	}
	now := m.now()
	if m.tickAndCheckLocked(ctx, s, now) {
		return nil, ErrSessionTerminal
	}

	if s.offer != nil {
		if s.offer.by == color {
			return m.publicLocked(s, now), nil
		}
		return nil, ErrDrawPending
	}

	deadline := now.Add(m.opts.DrawOfferTTL)
	s.offer = &drawOffer{
		by:       color,
		deadline: deadline,
		timer:    time.AfterFunc(m.opts.DrawOfferTTL, func() { m.expireDrawOffer(sessionID) }),
	}
	m.emitLocked(s, transport.EventDrawOffered, transport.DrawOfferedPayload{
		By:        string(color),
		To:        string(color.Opponent()),
		ExpiresAt: deadline.UnixMilli(),
	}, now)
	obslog.L().Info("draw_offer",
		zap.String("session_id", s.st.ID),
		zap.String("by", string(color)),
	)
	return m.publicLocked(s, now), nil
}

// RespondDraw accepts or declines the opponent's pending offer.
func (m *Manager) RespondDraw(ctx context.Context, sessionID, playerID string, accept bool) (*syncdto.PublicState, error) {
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
	if s.st.Status != StatusActive {
		return nil, ErrNotActive
	}
	now := m.now()
	if m.tickAndCheckLocked(ctx, s, now) {
		return nil, ErrSessionTerminal
	}
	if s.offer == nil || s.offer.by != color.Opponent() {
		return nil, ErrNoDrawOffer
	}

	m.clearDrawOfferLocked(s)
	if accept {
		m.finalizeLocked(ctx, s, ResultDraw, EndDrawAgreed, now)
	} else {
		m.emitLocked(s, transport.EventDrawDeclined, transport.DrawDeclinedPayload{
			By:     string(color),
			Reason: "declined",
		}, now)
	}
	obslog.L().Info("draw_response",
		zap.String("session_id", s.st.ID),
		zap.String("by", string(color)),
		zap.Bool("accepted", accept),
	)
	return m.publicLocked(s, now), nil
}

// Pause stops both clocks on explicit request or connectivity loss.
func (m *Manager) Pause(ctx context.Context, sessionID, playerID, reason string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.ColorOf(playerID) == clock.None {
		return ErrNotAParticipant
	}
	if s.st.Status != StatusActive {
		return ErrNotActive
	}
	m.pauseLocked(ctx, s, reason, m.now())
	return nil
}

// MarkConnected flags a player's transport as live.
func (m *Manager) MarkConnected(sessionID, playerID string) {
	s, err := m.get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.st.ColorOf(playerID); c != clock.None {
		s.present[c] = true
	}
}

// MarkDisconnected pauses an active game when a push channel drops.
func (m *Manager) MarkDisconnected(ctx context.Context, sessionID, playerID string) {
	s, err := m.get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.st.ColorOf(playerID)
	if c == clock.None {
		return
	}
	s.present[c] = false
	if s.st.Status == StatusActive {
		m.pauseLocked(ctx, s, "disconnect", m.now())
	}
}

// Resync builds the reconnect payload: full position, clocks, status,
// and only the ledger entries after lastKnown. It also flips the
// player's presence bit; a paused game resumes once both sides are back
// and the cooldown elapsed.
func (m *Manager) Resync(ctx context.Context, sessionID, playerID string, lastKnown int) (*syncdto.SyncPacket, error) {
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
	if lastKnown < 0 {
		return nil, ErrValidation
	}

	now := m.now()
	m.tickAndCheckLocked(ctx, s, now)
	s.present[color] = true
	if s.st.Status == StatusPaused {
		m.tryResumeLocked(ctx, s, now)
	}

	delta := make([]syncdto.MoveView, 0)
	for _, mv := range s.st.Moves {
		if mv.Seq > lastKnown {
			delta = append(delta, moveView(mv))
		}
	}
	obslog.L().Info("session_resync",
		zap.String("session_id", s.st.ID),
		zap.String("player_id", playerID),
		zap.Int("last_known", lastKnown),
		zap.Int("delta", len(delta)),
	)
	return &syncdto.SyncPacket{
		State: *m.publicLocked(s, now),
		Moves: delta,
	}, nil
}

// --- internal transitions; callers hold s.mu ---

// tickAndCheckLocked charges wall time and finalizes on a fallen flag.
// Reports true when the session is (now) terminal.
func (m *Manager) tickAndCheckLocked(ctx context.Context, s *Session, now time.Time) bool {
	if s.st.Status.Terminal() {
		return true
	}
	if s.st.Status != StatusActive {
		return false
	}
	flagged := s.clk.TickAt(now)
	s.st.Clock = s.clk.Peek()
	if flagged == clock.None {
		return false
	}
	m.finalizeLocked(ctx, s, winnerResult(flagged.Opponent()), EndTimeout, now)
	obslog.L().Info("session_timeout",
		zap.String("session_id", s.st.ID),
		zap.String("flagged", string(flagged)),
	)
	return true
}

func (m *Manager) pauseLocked(ctx context.Context, s *Session, reason string, now time.Time) {
	s.clk.Pause(now)
	s.st.Status = StatusPaused
	s.st.Clock = s.clk.Peek()
	s.st.UpdatedAt = now
	s.pausedAt = now
	m.emitLocked(s, transport.EventPaused, transport.PausedPayload{Reason: reason}, now)
	m.persistLocked(ctx, s)
	obslog.L().Info("session_pause",
		zap.String("session_id", s.st.ID),
		zap.String("reason", reason),
	)
}

// tryResumeLocked restarts the clocks once both sides re-acknowledged
// presence. Inside the cooldown it arms a timer instead, so a rapid
// pause/resume flap settles into one resume.
func (m *Manager) tryResumeLocked(ctx context.Context, s *Session, now time.Time) {
	if s.st.Status != StatusPaused {
		return
	}
	if !s.present[White] || !s.present[Black] {
		return
	}
	if wait := s.pausedAt.Add(m.opts.ResumeCooldown).Sub(now); wait > 0 {
		if s.resumeTimer == nil {
			s.resumeTimer = time.AfterFunc(wait, func() { m.retryResume(s.st.ID) })
		}
		return
	}
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	s.st.Status = StatusActive
	s.clk.Start(s.st.Turn, now)
	s.st.Clock = s.clk.Peek()
	s.st.UpdatedAt = now
	m.emitLocked(s, transport.EventResumed, transport.ResumedPayload{
		Turn:  string(s.st.Turn),
		Clock: clockState(s.clk.Peek()),
	}, now)
	m.persistLocked(ctx, s)
	obslog.L().Info("session_resume", zap.String("session_id", s.st.ID))
}

func (m *Manager) retryResume(sessionID string) {
	s, err := m.get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeTimer = nil
	m.tryResumeLocked(context.Background(), s, m.now())
}

func (m *Manager) expireDrawOffer(sessionID string) {
	s, err := m.get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := m.now()
	if s.offer == nil || now.Before(s.offer.deadline) || s.st.Status.Terminal() {
		return
	}
	by := s.offer.by
	m.clearDrawOfferLocked(s)
	m.emitLocked(s, transport.EventDrawDeclined, transport.DrawDeclinedPayload{
		By:     string(by.Opponent()),
		Reason: "expired",
	}, now)
	obslog.L().Info("draw_offer_expire", zap.String("session_id", s.st.ID))
}

func (m *Manager) clearDrawOfferLocked(s *Session) {
	if s.offer == nil {
		return
	}
	if s.offer.timer != nil {
		s.offer.timer.Stop()
	}
	s.offer = nil
}

// markFinishedLocked is the single idempotency gate: the first caller
// wins, every later trigger is a no-op. Result and endReason never
// change after it returns true.
func (m *Manager) markFinishedLocked(s *Session, result Result, reason EndReason, now time.Time) bool {
	if s.st.Status.Terminal() {
		return false
	}
	s.clk.Pause(now)
	s.st.Status = StatusFinished
	s.st.Result = result
	s.st.EndReason = reason
	s.st.Clock = s.clk.Peek()
	s.st.UpdatedAt = now
	s.st.FinishedAt = now
	m.clearDrawOfferLocked(s)
	m.stopTimersLocked(s)
	return true
}

// finalizeLocked funnels every terminal path: resignation, timeout,
// draw agreement, terminal move, abandonment all land here exactly
// once per session.
func (m *Manager) finalizeLocked(ctx context.Context, s *Session, result Result, reason EndReason, now time.Time) bool {
	if !m.markFinishedLocked(s, result, reason, now) {
		return false
	}
	m.emitFinishedLocked(s, now)
	m.persistLocked(ctx, s)
	m.archiveLocked(s)
	obslog.L().Info("session_finalize",
		zap.String("session_id", s.st.ID),
		zap.String("result", string(result)),
		zap.String("end_reason", string(reason)),
	)
	return true
}

// abortLocked terminates a session that never produced a result:
// handshake timeout or mutual abandonment.
func (m *Manager) abortLocked(ctx context.Context, s *Session, now time.Time) bool {
	if s.st.Status.Terminal() {
		return false
	}
	s.clk.Pause(now)
	s.st.Status = StatusAborted
	s.st.Result = ResultNone
	s.st.EndReason = EndAbandoned
	s.st.Clock = s.clk.Peek()
	s.st.UpdatedAt = now
	s.st.FinishedAt = now
	m.clearDrawOfferLocked(s)
	m.stopTimersLocked(s)
	m.emitFinishedLocked(s, now)
	m.persistLocked(ctx, s)
	m.scheduleArchive(s.st.ID)
	obslog.L().Info("session_abort", zap.String("session_id", s.st.ID))
	return true
}

func (m *Manager) stopTimersLocked(s *Session) {
	if s.hsTimer != nil {
		s.hsTimer.Stop()
		s.hsTimer = nil
	}
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	s.hs = nil
}

func (m *Manager) emitFinishedLocked(s *Session, now time.Time) {
	m.emitLocked(s, transport.EventFinished, transport.FinishedPayload{
		Result:    string(s.st.Result),
		EndReason: string(s.st.EndReason),
		Clock:     clockState(s.clk.Peek()),
	}, now)
}

// archiveLocked persists the final result to the database and schedules
// in-memory expiry. Best effort, and detached from the request context:
// archival failures are logged, never surfaced to the game path.
func (m *Manager) archiveLocked(s *Session) {
	if m.repo != nil {
		st := s.st
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.repo.SaveResult(cctx, &st); err != nil {
				obslog.L().Error("session_archive_error",
					zap.String("session_id", st.ID),
					zap.Error(err),
				)
			}
		}()
	}
	m.scheduleArchive(s.st.ID)
}

func (m *Manager) emitLocked(s *Session, t transport.EventType, payload any, now time.Time) {
	s.st.EventSeq++
	m.bus.Publish(s.st.ID, transport.Envelope{
		Type:      t,
		SessionID: s.st.ID,
		Seq:       s.st.EventSeq,
		Payload:   payload,
		ServerTS:  now.UnixMilli(),
	})
}

func (m *Manager) persistLocked(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	s.st.Clock = s.clk.Peek()
	if err := m.store.Save(ctx, &s.st); err != nil {
		obslog.L().Error("session_persist_error",
			zap.String("session_id", s.st.ID),
			zap.Error(err),
		)
	}
}

func (m *Manager) publicLocked(s *Session, now time.Time) *syncdto.PublicState {
	var last *syncdto.MoveView
	if n := len(s.st.Moves); n > 0 {
		v := moveView(s.st.Moves[n-1])
		last = &v
	}
	return &syncdto.PublicState{
		SessionID: s.st.ID,
		Status:    string(s.st.Status),
		FEN:       s.st.FEN,
		Turn:      string(s.st.Turn),
		WhiteID:   s.st.WhiteID,
		BlackID:   s.st.BlackID,
		MoveCount: len(s.st.Moves),
		LastMove:  last,
		Clock:     clockState(s.clk.Snapshot(now)),
		Result:    string(s.st.Result),
		EndReason: string(s.st.EndReason),
		EventSeq:  s.st.EventSeq,
	}
}

// --- mapping helpers ---

func clockState(p clock.Pair) syncdto.ClockState {
	return syncdto.ClockState{
		WhiteRemainingMs: p.WhiteMs,
		BlackRemainingMs: p.BlackMs,
		IncrementMs:      p.IncrementMs,
		RunningColor:     string(p.Running),
	}
}

func moveView(mv Move) syncdto.MoveView {
	return syncdto.MoveView{
		Seq:           mv.Seq,
		Color:         string(mv.Color),
		SAN:           mv.SAN,
		UCI:           mv.UCI,
		From:          mv.From,
		To:            mv.To,
		Promotion:     mv.Promotion,
		ClientTS:      mv.ClientTS,
		ServerTS:      mv.ServerTS,
		ClockSnapshot: mv.ClockSnapshotMs,
	}
}

func colorFromToken(t string) Color {
	if t == "white" {
		return White
	}
	return Black
}

func resultFromToken(t string) Result {
	switch t {
	case "white":
		return ResultWhiteWins
	case "black":
		return ResultBlackWins
	case "draw":
		return ResultDraw
	}
	return ResultNone
}

func winnerResult(c Color) Result {
	if c == White {
		return ResultWhiteWins
	}
	return ResultBlackWins
}

func reasonFromMethod(method, result string) EndReason {
	switch method {
	case "checkmate":
		return EndCheckmate
	case "stalemate":
		return EndStalemate
	case "repetition":
		return EndRepetition
	case "fifty-move":
		return EndFiftyMove
	case "insufficient-material":
		return EndInsufficientMaterial
	}
	if result == "draw" {
		return EndStalemate
	}
	return EndCheckmate
}
