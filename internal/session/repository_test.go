package session

import (
	"strings"
	"testing"
	"time"

	"github.com/park285/chess-sync-server/internal/clock"
)

func TestTimeControlTagUsesInitialTime(t *testing.T) {
	st := &State{
		InitialMs: 300000,
		Clock:     clock.Pair{WhiteMs: 0, BlackMs: 184000, IncrementMs: 2000},
	}
	// a timeout loss must still archive the game's time control, not
	// what was left on a clock at the end
	if got := timeControlTag(st); got != "300+2" {
		t.Fatalf("time control = %q, want 300+2", got)
	}
}

func TestCreateRecordsInitialTime(t *testing.T) {
	env := newTestEnv(t)
	id := env.createActive(t, 2000)

	s, err := env.m.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.st.InitialMs != 60000 {
		t.Fatalf("initial ms = %d, want 60000", s.st.InitialMs)
	}
	if got := timeControlTag(&s.st); got != "60+2" {
		t.Fatalf("time control = %q, want 60+2", got)
	}
}

func TestBuildPGNHeadersAndMovetext(t *testing.T) {
	st := &State{
		ID:         "sess-pgn",
		WhiteID:    `alice "the rook"`,
		BlackID:    "bob",
		Result:     ResultWhiteWins,
		EndReason:  EndResignation,
		FinishedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	san := []string{"e4", "e5", "Nf3"}
	pgn := buildPGN(st, san, mapResultToPGN(st.Result))

	for _, want := range []string{
		`[White "alice 'the rook'"]`,
		`[Black "bob"]`,
		`[Date "2026.03.14"]`,
		`[Termination "resignation"]`,
		`[Result "1-0"]`,
		"1. e4 e5 2. Nf3 1-0",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestMapResultToPGN(t *testing.T) {
	cases := map[Result]string{
		ResultWhiteWins: "1-0",
		ResultBlackWins: "0-1",
		ResultDraw:      "1/2-1/2",
		ResultNone:      "*",
	}
	for result, want := range cases {
		if got := mapResultToPGN(result); got != want {
			t.Fatalf("mapResultToPGN(%s) = %q, want %q", result, got, want)
		}
	}
}
