package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	st, err := OpenStore(fmt.Sprintf("redis://%s/0", mr.Addr()), time.Hour)
	if err != nil {
		mr.Close()
		t.Fatalf("OpenStore: %v", err)
	}
	return st, func() { _ = st.Close(); mr.Close() }
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	st := &State{
		ID:      "sess-1",
		Status:  StatusActive,
		FEN:     "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1",
		WhiteID: "alice",
		BlackID: "bob",
		Turn:    Black,
		Moves: []Move{{
			Seq: 1, Color: White, SAN: "e4", UCI: "e2e4",
			From: "e2", To: "e4", ServerTS: 123, ClockSnapshotMs: 59000,
		}},
		Result:    ResultNone,
		EndReason: EndNone,
		EventSeq:  2,
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
		UpdatedAt: time.Unix(1_700_000_010, 0).UTC(),
	}
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatalf("Load returned nil for existing snapshot")
	}
	if got.ID != st.ID || got.Status != st.Status || got.Turn != st.Turn || got.EventSeq != st.EventSeq {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Moves) != 1 || got.Moves[0].UCI != "e2e4" || got.Moves[0].ClockSnapshotMs != 59000 {
		t.Fatalf("moves mismatch: %+v", got.Moves)
	}

	ids, err := store.IDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "sess-1" {
		t.Fatalf("IDs = %v, %v", ids, err)
	}
}

func TestStoreLoadMissingIsNil(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	got, err := store.Load(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("missing snapshot = %+v, want nil", got)
	}
}

func TestStoreDeleteRemovesSnapshotAndIndex(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Save(ctx, &State{ID: "sess-2", Status: StatusPending}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, "sess-2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := store.Load(ctx, "sess-2")
	if err != nil || got != nil {
		t.Fatalf("after delete: %+v, %v", got, err)
	}
	ids, _ := store.IDs(ctx)
	if len(ids) != 0 {
		t.Fatalf("index after delete = %v", ids)
	}
}

func TestManagerRecoverFromSnapshot(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	env := newTestEnv(t)
	env.m.AttachStore(store)
	id := env.createActive(t, 0)
	if _, err := env.move(t, id, "alice", "e2e4"); err != nil {
		t.Fatalf("e2e4: %v", err)
	}

	// a second manager simulating the restarted process
	env2 := newTestEnv(t)
	env2.m.AttachStore(store)
	if err := env2.m.Recover(ctx, id); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	pub, err := env2.m.PublicState(ctx, id)
	if err != nil {
		t.Fatalf("PublicState: %v", err)
	}
	// active sessions come back paused until both players return
	if pub.Status != string(StatusPaused) {
		t.Fatalf("recovered status = %s, want PAUSED", pub.Status)
	}
	if pub.MoveCount != 1 || pub.Turn != "black" {
		t.Fatalf("recovered state: %+v", pub)
	}

	pkt, err := env2.m.Resync(ctx, id, "alice", 0)
	if err != nil {
		t.Fatalf("resync white: %v", err)
	}
	if pkt.State.Status != string(StatusPaused) {
		t.Fatalf("one-sided resync resumed: %s", pkt.State.Status)
	}
	env2.advance(time.Second)
	pkt, err = env2.m.Resync(ctx, id, "bob", 0)
	if err != nil {
		t.Fatalf("resync black: %v", err)
	}
	if pkt.State.Status != string(StatusActive) {
		t.Fatalf("after both resync: %s", pkt.State.Status)
	}
}

func TestRecoverDoesNotChargeDowntime(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	env := newTestEnv(t)
	env.m.AttachStore(store)
	id := env.createActive(t, 0)
	if _, err := env.move(t, id, "alice", "e2e4"); err != nil {
		t.Fatalf("e2e4: %v", err)
	}

	// the restarted process comes up well after the crash; the outage
	// must not be billed to the side whose clock was running
	env2 := newTestEnv(t)
	env2.advance(10 * time.Minute)
	env2.m.AttachStore(store)
	if err := env2.m.Recover(ctx, id); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	pub, err := env2.m.PublicState(ctx, id)
	if err != nil {
		t.Fatalf("PublicState: %v", err)
	}
	if pub.Status != string(StatusPaused) {
		t.Fatalf("recovered status = %s, want PAUSED", pub.Status)
	}
	if pub.Clock.WhiteRemainingMs != 60000 || pub.Clock.BlackRemainingMs != 60000 {
		t.Fatalf("recovered clocks white=%d black=%d, want 60000/60000",
			pub.Clock.WhiteRemainingMs, pub.Clock.BlackRemainingMs)
	}
	if pub.Clock.RunningColor != "" {
		t.Fatalf("recovered running = %q, want stopped", pub.Clock.RunningColor)
	}

	// after both players return, black resumes from the full remainder
	if _, err := env2.m.Resync(ctx, id, "alice", 0); err != nil {
		t.Fatalf("resync white: %v", err)
	}
	env2.advance(time.Second)
	pkt, err := env2.m.Resync(ctx, id, "bob", 0)
	if err != nil {
		t.Fatalf("resync black: %v", err)
	}
	if pkt.State.Status != string(StatusActive) {
		t.Fatalf("after both resync: %s", pkt.State.Status)
	}
	if pkt.State.Clock.RunningColor != "black" || pkt.State.Clock.BlackRemainingMs != 60000 {
		t.Fatalf("resumed clock = %+v", pkt.State.Clock)
	}
}

func TestArchiveDropsSessionAndSnapshot(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	env := newTestEnv(t)
	env.m.AttachStore(store)
	id := env.createActive(t, 0)
	if _, err := env.m.Resign(ctx, id, "alice"); err != nil {
		t.Fatalf("Resign: %v", err)
	}

	// the session stays reachable through the grace window
	if got, err := store.Load(ctx, id); err != nil || got == nil {
		t.Fatalf("snapshot before archive: %+v, %v", got, err)
	}

	env.m.archiveNow(id)
	if _, err := env.m.PublicState(ctx, id); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("state after archive = %v, want unknown session", err)
	}
	got, err := store.Load(ctx, id)
	if err != nil || got != nil {
		t.Fatalf("snapshot after archive: %+v, %v", got, err)
	}
}
