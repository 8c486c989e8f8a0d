package syncdto

type CreateSessionRequest struct {
	WhitePlayerID string `json:"white_player_id"`
	BlackPlayerID string `json:"black_player_id"`
	InitialTimeMs int64  `json:"initial_time_ms,omitempty"`
	IncrementMs   int64  `json:"increment_ms,omitempty"`
}

type HandshakeRequest struct {
	PlayerID        string `json:"player_id"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`
	Transport       string `json:"transport,omitempty"` // "push" | "poll"
}

type HandshakeAck struct {
	SessionID    string `json:"session_id"`
	ConnectionID string `json:"connection_id"`
	Color        string `json:"color"`
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
}

type MoveRequest struct {
	ConnectionID  string `json:"connection_id"`
	SequenceHint  int    `json:"sequence_hint"`
	From          string `json:"from"`
	To            string `json:"to"`
	Promotion     string `json:"promotion,omitempty"`
	Notation      string `json:"notation,omitempty"`
	ClientTS      int64  `json:"client_ts,omitempty"`
	ClockSnapshot int64  `json:"clock_snapshot_ms,omitempty"`
}

type ResignRequest struct {
	ConnectionID string `json:"connection_id"`
}

type PauseRequest struct {
	ConnectionID string `json:"connection_id"`
	Reason       string `json:"reason,omitempty"`
}

type DrawOfferRequest struct {
	ConnectionID string `json:"connection_id"`
}

type DrawResponseRequest struct {
	ConnectionID string `json:"connection_id"`
	Accept       bool   `json:"accept"`
}

type ReconnectRequest struct {
	PlayerID          string `json:"player_id"`
	LastKnownSequence int    `json:"last_known_sequence"`
	Transport         string `json:"transport,omitempty"`
}

type ReconnectResponse struct {
	ConnectionID string     `json:"connection_id"`
	Packet       SyncPacket `json:"packet"`
	EventSeq     int64      `json:"event_seq"`
}

// ErrorBody is the uniform error envelope returned by the REST gateway.
// State is attached on stale-state rejections so clients can resync
// without another round trip.
type ErrorBody struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	State   *PublicState `json:"state,omitempty"`
}
