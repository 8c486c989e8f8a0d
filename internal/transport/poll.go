package transport

import (
	"fmt"

	"github.com/park285/chess-sync-server/pkg/syncdto"
)

// CacheToken summarizes the observable session state for cheap poll
// validation: status, ledger length, and both remaining clocks. A poll
// carrying the current token with no pending events is answered without
// re-serializing state. Poll frequency is a client policy; correctness
// depends only on the since cursor.
func CacheToken(status string, moveCount int, clk syncdto.ClockState) string {
	return fmt.Sprintf("%s.%d.%d.%d", status, moveCount, clk.WhiteRemainingMs, clk.BlackRemainingMs)
}

// DrainResult is the poll answer: either "unchanged" or the events
// strictly after the client's cursor plus a fresh token.
type DrainResult struct {
	Unchanged bool
	Token     string
	Events    []Envelope
	EventSeq  int64
}

// Drain serves a poll-mode client. currentToken is computed by the
// caller from authoritative state so the drain itself stays read-only.
func (b *Broadcaster) Drain(sessionID string, since int64, clientToken, currentToken string) DrainResult {
	buf := b.Buffer(sessionID)
	events := buf.ReplayAfter(since)
	if len(events) == 0 && clientToken != "" && clientToken == currentToken {
		return DrainResult{Unchanged: true, Token: currentToken, EventSeq: buf.LastSeq()}
	}
	return DrainResult{
		Token:    currentToken,
		Events:   events,
		EventSeq: buf.LastSeq(),
	}
}
