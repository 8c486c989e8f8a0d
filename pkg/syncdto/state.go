package syncdto

// ClockState is the client-facing snapshot of both countdown clocks.
// All values are integer milliseconds.
type ClockState struct {
	WhiteRemainingMs int64  `json:"white_remaining_ms"`
	BlackRemainingMs int64  `json:"black_remaining_ms"`
	IncrementMs      int64  `json:"increment_ms"`
	RunningColor     string `json:"running_color"` // "white" | "black" | ""
}

// MoveView is one ledger entry as exposed to clients.
type MoveView struct {
	Seq           int    `json:"seq"`
	Color         string `json:"color"`
	SAN           string `json:"san"`
	UCI           string `json:"uci"`
	From          string `json:"from"`
	To            string `json:"to"`
	Promotion     string `json:"promotion,omitempty"`
	ClientTS      int64  `json:"client_ts,omitempty"`
	ServerTS      int64  `json:"server_ts"`
	ClockSnapshot int64  `json:"clock_snapshot_ms"`
}

// PublicState is the shared authoritative view returned after mutations
// and on state reads.
type PublicState struct {
	SessionID string     `json:"session_id"`
	Status    string     `json:"status"`
	FEN       string     `json:"fen"`
	Turn      string     `json:"turn"`
	WhiteID   string     `json:"white_id"`
	BlackID   string     `json:"black_id"`
	MoveCount int        `json:"move_count"`
	LastMove  *MoveView  `json:"last_move,omitempty"`
	Clock     ClockState `json:"clock"`
	Result    string     `json:"result"`
	EndReason string     `json:"end_reason"`
	EventSeq  int64      `json:"event_seq"`
}

// SyncPacket is the full resynchronization payload returned on reconnect.
// Moves contains only ledger entries after the client's last known sequence.
type SyncPacket struct {
	State PublicState `json:"state"`
	Moves []MoveView  `json:"moves"`
}
