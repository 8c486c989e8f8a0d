package oracle

import (
	"errors"
	"testing"
)

func TestApplyLegalUCIMove(t *testing.T) {
	o := New()
	v, err := o.Apply(nil, "e2e4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if v.UCI != "e2e4" || v.SAN != "e4" {
		t.Fatalf("unexpected encoding: uci=%q san=%q", v.UCI, v.SAN)
	}
	if v.From != "e2" || v.To != "e4" || v.Promotion != "" {
		t.Fatalf("unexpected squares: %q %q %q", v.From, v.To, v.Promotion)
	}
	if v.NextTurn != "black" {
		t.Fatalf("next turn = %q, want black", v.NextTurn)
	}
	if v.Terminal {
		t.Fatalf("opening move reported terminal")
	}
}

func TestApplySANFallback(t *testing.T) {
	o := New()
	v, err := o.Apply([]string{"e2e4"}, "Nf6")
	if err != nil {
		t.Fatalf("Apply SAN: %v", err)
	}
	if v.UCI != "g8f6" {
		t.Fatalf("uci = %q, want g8f6", v.UCI)
	}
}

func TestApplyIllegalMove(t *testing.T) {
	o := New()
	if _, err := o.Apply(nil, "e2e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	if _, err := o.Apply(nil, ""); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("empty input err = %v, want ErrIllegalMove", err)
	}
}

func TestApplyDetectsCheckmate(t *testing.T) {
	o := New()
	// Fool's mate.
	ledger := []string{"f2f3", "e7e5", "g2g4"}
	v, err := o.Apply(ledger, "d8h4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !v.Terminal {
		t.Fatalf("checkmate not reported terminal")
	}
	if v.Result != "black" || v.Method != "checkmate" {
		t.Fatalf("verdict = %q/%q, want black/checkmate", v.Result, v.Method)
	}
}

func TestReplayRoundTrip(t *testing.T) {
	o := New()
	ledger := []string{}
	fen := o.StartFEN()
	for _, mv := range []string{"e2e4", "e7e5", "g1f3", "b8c6"} {
		v, err := o.Apply(ledger, mv)
		if err != nil {
			t.Fatalf("Apply %s: %v", mv, err)
		}
		ledger = append(ledger, v.UCI)
		fen = v.FEN
	}
	replayed, err := o.Replay(ledger)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != fen {
		t.Fatalf("replayed FEN %q != incremental FEN %q", replayed, fen)
	}
}

func TestCorruptLedgerRejected(t *testing.T) {
	o := New()
	if _, err := o.Apply([]string{"e2e4", "e2e4"}, "e7e5"); !errors.Is(err, ErrCorruptLedger) {
		t.Fatalf("err = %v, want ErrCorruptLedger", err)
	}
}
