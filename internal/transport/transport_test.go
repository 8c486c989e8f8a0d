package transport

import (
	"testing"

	"github.com/park285/chess-sync-server/pkg/syncdto"
)

func mkEnvelope(seq int64) Envelope {
	return Envelope{Type: EventMove, SessionID: "s1", Seq: seq, ServerTS: seq * 1000}
}

func TestBufferReplayAfterIsStrict(t *testing.T) {
	b := NewBuffer(16)
	for i := int64(1); i <= 5; i++ {
		b.Append(mkEnvelope(i))
	}
	got := b.ReplayAfter(3)
	if len(got) != 2 || got[0].Seq != 4 || got[1].Seq != 5 {
		t.Fatalf("ReplayAfter(3) = %+v", got)
	}
	if got := b.ReplayAfter(5); len(got) != 0 {
		t.Fatalf("ReplayAfter(last) = %+v, want empty", got)
	}
	if b.LastSeq() != 5 {
		t.Fatalf("LastSeq = %d", b.LastSeq())
	}
}

func TestBufferTrimsOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := int64(1); i <= 5; i++ {
		b.Append(mkEnvelope(i))
	}
	got := b.ReplayAfter(0)
	if len(got) != 3 || got[0].Seq != 3 {
		t.Fatalf("after trim = %+v", got)
	}
}

func TestBufferWatcherReceivesAndNeverBlocks(t *testing.T) {
	b := NewBuffer(256)
	ch := b.Subscribe()

	b.Append(mkEnvelope(1))
	if ev := <-ch; ev.Seq != 1 {
		t.Fatalf("watched seq = %d", ev.Seq)
	}

	// overflow the watcher channel; Append must not block and the
	// event stays recoverable by replay
	for i := int64(2); i <= 200; i++ {
		b.Append(mkEnvelope(i))
	}
	if b.LastSeq() != 200 {
		t.Fatalf("LastSeq after overflow = %d", b.LastSeq())
	}

	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		// drain until the close is visible
		for range ch {
		}
	}
}

func TestBufferCloseStopsWatchers(t *testing.T) {
	b := NewBuffer(16)
	ch := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after close")
	}
	b.Append(mkEnvelope(1))
	if b.LastSeq() != 0 {
		t.Fatalf("append after close stored an event")
	}
	ch2 := b.Subscribe()
	if _, ok := <-ch2; ok {
		t.Fatalf("subscribe after close returned open channel")
	}
}

func TestRegistrySupersedesOnReconnect(t *testing.T) {
	r := NewRegistry()
	first := r.Register("s1", "alice", KindPush)
	second := r.Register("s1", "alice", KindPoll)

	if first.ConnectionID == second.ConnectionID {
		t.Fatalf("reconnect reused connection id")
	}
	if !r.Get(first.ConnectionID).Stale {
		t.Fatalf("first record not marked stale")
	}
	cur := r.Current("s1", "alice")
	if cur == nil || cur.ConnectionID != second.ConnectionID || cur.Stale {
		t.Fatalf("current = %+v", cur)
	}
}

func TestRegistryAckNeverRegresses(t *testing.T) {
	r := NewRegistry()
	rec := r.Register("s1", "alice", KindPoll)
	r.Ack(rec.ConnectionID, 7)
	r.Ack(rec.ConnectionID, 3)
	if got := r.Get(rec.ConnectionID).AckedSeq; got != 7 {
		t.Fatalf("AckedSeq = %d, want 7", got)
	}
}

func TestRegistryDropSession(t *testing.T) {
	r := NewRegistry()
	a := r.Register("s1", "alice", KindPush)
	r.Register("s2", "bob", KindPush)
	r.DropSession("s1")
	if r.Get(a.ConnectionID) != nil || r.Current("s1", "alice") != nil {
		t.Fatalf("s1 records survived drop")
	}
	if r.Current("s2", "bob") == nil {
		t.Fatalf("unrelated session dropped")
	}
}

func TestDrainUnchangedRequiresTokenMatch(t *testing.T) {
	b := NewBroadcaster(16)
	b.Register("s1")
	b.Publish("s1", mkEnvelope(1))
	b.Publish("s1", mkEnvelope(2))

	token := CacheToken("ACTIVE", 2, syncdto.ClockState{WhiteRemainingMs: 60, BlackRemainingMs: 58})

	// caught-up cursor and matching token: nothing to send
	res := b.Drain("s1", 2, token, token)
	if !res.Unchanged || len(res.Events) != 0 || res.EventSeq != 2 {
		t.Fatalf("caught-up drain = %+v", res)
	}

	// caught-up cursor but a clock-divergent token still returns a
	// fresh token so the client re-syncs its cache key
	res = b.Drain("s1", 2, "ACTIVE.2.61.58", token)
	if res.Unchanged || res.Token != token {
		t.Fatalf("token-mismatch drain = %+v", res)
	}

	// behind cursor always gets the delta
	res = b.Drain("s1", 0, token, token)
	if res.Unchanged || len(res.Events) != 2 {
		t.Fatalf("behind drain = %+v", res)
	}

	// an empty client token never short-circuits
	res = b.Drain("s1", 2, "", token)
	if res.Unchanged {
		t.Fatalf("empty token drain claimed unchanged")
	}
}
