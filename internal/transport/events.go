// Package transport carries state deltas from a session to its two
// clients over either a push channel or a polling fallback. It knows
// nothing about chess; it moves envelopes and tracks connections.
package transport

import "github.com/park285/chess-sync-server/pkg/syncdto"

// EventType discriminates the tagged-union event envelope. Every event
// a client can observe goes through this one type.
type EventType string

const (
	EventActivated    EventType = "activated"
	EventMove         EventType = "move"
	EventPaused       EventType = "paused"
	EventResumed      EventType = "resumed"
	EventDrawOffered  EventType = "drawOffered"
	EventDrawDeclined EventType = "drawDeclined"
	EventFinished     EventType = "finished"
)

// Envelope is one broadcast event. Seq is the per-session event
// sequence, monotonic across all event types; move payloads carry the
// ledger ply separately.
type Envelope struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Payload   any       `json:"payload,omitempty"`
	ServerTS  int64     `json:"server_ts"`
}

type ActivatedPayload struct {
	FEN             string             `json:"fen"`
	WhiteID         string             `json:"white_id"`
	BlackID         string             `json:"black_id"`
	Clock           syncdto.ClockState `json:"clock"`
	ProtocolVersion int                `json:"protocol_version"`
}

type MovePayload struct {
	Move   syncdto.MoveView   `json:"move"`
	FEN    string             `json:"fen"`
	Turn   string             `json:"turn"`
	Status string             `json:"status"`
	Clock  syncdto.ClockState `json:"clock"`
}

type PausedPayload struct {
	Reason string `json:"reason"`
}

type ResumedPayload struct {
	Turn  string             `json:"turn"`
	Clock syncdto.ClockState `json:"clock"`
}

type DrawOfferedPayload struct {
	By        string `json:"by"`
	To        string `json:"to"`
	ExpiresAt int64  `json:"expires_at_ms"`
}

type DrawDeclinedPayload struct {
	By     string `json:"by"`
	Reason string `json:"reason"` // "declined" | "expired"
}

type FinishedPayload struct {
	Result    string             `json:"result"`
	EndReason string             `json:"end_reason"`
	Clock     syncdto.ClockState `json:"clock"`
}
