package resync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/chess-sync-server/internal/session"
	"github.com/park285/chess-sync-server/internal/transport"
	"github.com/park285/chess-sync-server/pkg/syncdto"
)

func newFixture(t *testing.T) (*Manager, *session.Manager, *transport.Registry, string) {
	t.Helper()
	ctx := context.Background()
	bus := transport.NewBroadcaster(64)
	sessions := session.NewManager(bus, session.Options{
		DefaultInitialMs: 60000,
		HandshakeTimeout: time.Hour,
	})
	reg := transport.NewRegistry()

	st, err := sessions.Create(ctx, "alice", "bob", 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := sessions.BeginHandshake(ctx, st.SessionID, "alice", 1); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if _, err := sessions.BeginHandshake(ctx, st.SessionID, "bob", 1); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	for _, mv := range []struct{ player, uci string }{
		{"alice", "e2e4"}, {"bob", "c7c5"},
	} {
		if _, err := sessions.SubmitMove(ctx, st.SessionID, mv.player, syncdto.MoveRequest{Notation: mv.uci}); err != nil {
			t.Fatalf("%s: %v", mv.uci, err)
		}
	}
	return New(sessions, reg, bus), sessions, reg, st.SessionID
}

func TestReconnectDeliversDeltaAndFreshConnection(t *testing.T) {
	m, _, reg, id := newFixture(t)

	resp, err := m.Reconnect(context.Background(), id, syncdto.ReconnectRequest{
		PlayerID:          "bob",
		LastKnownSequence: 1,
		Transport:         "push",
	})
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if resp.ConnectionID == "" {
		t.Fatalf("no connection id issued")
	}
	if len(resp.Packet.Moves) != 1 || resp.Packet.Moves[0].UCI != "c7c5" {
		t.Fatalf("delta = %+v", resp.Packet.Moves)
	}
	if resp.Packet.State.MoveCount != 2 {
		t.Fatalf("state = %+v", resp.Packet.State)
	}
	// activated + two move events
	if resp.EventSeq != 3 {
		t.Fatalf("event seq = %d, want 3", resp.EventSeq)
	}
	if cur := reg.Current(id, "bob"); cur == nil || cur.Kind != transport.KindPush {
		t.Fatalf("registry current = %+v", cur)
	}
}

func TestReconnectSupersedesPriorConnection(t *testing.T) {
	m, _, reg, id := newFixture(t)
	ctx := context.Background()

	first, err := m.Reconnect(ctx, id, syncdto.ReconnectRequest{PlayerID: "alice"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := m.Reconnect(ctx, id, syncdto.ReconnectRequest{PlayerID: "alice"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ConnectionID == second.ConnectionID {
		t.Fatalf("connection id reused")
	}
	if !reg.Get(first.ConnectionID).Stale {
		t.Fatalf("first connection not superseded")
	}
}

func TestReconnectValidation(t *testing.T) {
	m, _, _, id := newFixture(t)
	ctx := context.Background()

	if _, err := m.Reconnect(ctx, id, syncdto.ReconnectRequest{PlayerID: ""}); !errors.Is(err, session.ErrValidation) {
		t.Fatalf("empty player err = %v", err)
	}
	if _, err := m.Reconnect(ctx, id, syncdto.ReconnectRequest{PlayerID: "alice", Transport: "carrier-pigeon"}); !errors.Is(err, session.ErrValidation) {
		t.Fatalf("bad transport err = %v", err)
	}
	if _, err := m.Reconnect(ctx, id, syncdto.ReconnectRequest{PlayerID: "mallory"}); !errors.Is(err, session.ErrNotAParticipant) {
		t.Fatalf("stranger err = %v", err)
	}
	if _, err := m.Reconnect(ctx, "nope", syncdto.ReconnectRequest{PlayerID: "alice"}); !errors.Is(err, session.ErrUnknownSession) {
		t.Fatalf("unknown session err = %v", err)
	}
}
