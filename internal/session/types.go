package session

import (
	"time"

	"github.com/park285/chess-sync-server/internal/clock"
)

// Color aliases the clock-side type so both packages speak about the
// same two sides.
type Color = clock.Color

const (
	White = clock.White
	Black = clock.Black
)

// Status is the session lifecycle state. Every flag combination maps to
// exactly one of these; there are no side booleans.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusFinished Status = "FINISHED"
	StatusAborted  Status = "ABORTED"
)

// Terminal reports whether no further mutation is possible.
func (s Status) Terminal() bool { return s == StatusFinished || s == StatusAborted }

type Result string

const (
	ResultNone      Result = "none"
	ResultWhiteWins Result = "white-wins"
	ResultBlackWins Result = "black-wins"
	ResultDraw      Result = "draw"
)

type EndReason string

const (
	EndNone                 EndReason = "none"
	EndCheckmate            EndReason = "checkmate"
	EndResignation          EndReason = "resignation"
	EndTimeout              EndReason = "timeout"
	EndDrawAgreed           EndReason = "draw-agreed"
	EndStalemate            EndReason = "stalemate"
	EndRepetition           EndReason = "repetition"
	EndFiftyMove            EndReason = "fifty-move"
	EndInsufficientMaterial EndReason = "insufficient-material"
	EndAbandoned            EndReason = "abandoned"
)

// Move is one ply, immutable once appended. Seq is gapless from 1.
type Move struct {
	Seq             int    `json:"seq"`
	Color           Color  `json:"color"`
	SAN             string `json:"san"`
	UCI             string `json:"uci"`
	From            string `json:"from"`
	To              string `json:"to"`
	Promotion       string `json:"promotion,omitempty"`
	ClientTS        int64  `json:"client_ts,omitempty"`
	ServerTS        int64  `json:"server_ts"`
	ClockSnapshotMs int64  `json:"clock_snapshot_ms"`
}

// State is the persisted root aggregate: everything needed to
// reconstruct a session after a crash without replaying transport
// history.
type State struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	FEN             string     `json:"fen"`
	Moves           []Move     `json:"moves"`
	WhiteID         string     `json:"white_id"`
	BlackID         string     `json:"black_id"`
	Turn            Color      `json:"turn"`
	Result          Result     `json:"result"`
	EndReason       EndReason  `json:"end_reason"`
	Clock           clock.Pair `json:"clock"`
	InitialMs       int64      `json:"initial_ms"`
	ProtocolVersion int        `json:"protocol_version,omitempty"`
	EventSeq        int64      `json:"event_seq"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FinishedAt      time.Time  `json:"finished_at,omitempty"`
}

// ColorOf maps a player ref to its side, or "" when not a participant.
func (st *State) ColorOf(playerID string) Color {
	switch playerID {
	case "":
		return clock.None
	case st.WhiteID:
		return White
	case st.BlackID:
		return Black
	}
	return clock.None
}

// LedgerUCI flattens the move ledger for the legality oracle.
func (st *State) LedgerUCI() []string {
	out := make([]string, len(st.Moves))
	for i, mv := range st.Moves {
		out[i] = mv.UCI
	}
	return out
}

// HandshakeRecord tracks readiness until both sides confirmed. It is
// destroyed on activation.
type HandshakeRecord struct {
	SessionID       string
	ReadyMask       uint8 // bit 0 white, bit 1 black
	ProtocolVersion int
	Deadline        time.Time
}

func (h *HandshakeRecord) ready(c Color) bool {
	return h.ReadyMask&maskBit(c) != 0
}

func (h *HandshakeRecord) markReady(c Color) {
	h.ReadyMask |= maskBit(c)
}

func (h *HandshakeRecord) bothReady() bool { return h.ReadyMask == 0b11 }

func maskBit(c Color) uint8 {
	if c == White {
		return 0b01
	}
	return 0b10
}

// Sentinel errors for the game-logic taxonomy. The gateway maps these
// to HTTP statuses and user-facing reason strings.
var (
	ErrUnknownSession  = errf("unknown session")
	ErrNotAParticipant = errf("player is not a participant of this session")
	ErrValidation      = errf("malformed request")
	ErrIllegalMove     = errf("illegal move")
	ErrOutOfTurn       = errf("not your turn")
	ErrStaleState      = errf("sequence hint behind current ledger")
	ErrSessionTerminal = errf("session already finished")
	ErrNotActive       = errf("session not active")
	ErrDrawPending     = errf("draw offer already pending")
	ErrNoDrawOffer     = errf("no draw offer pending")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
