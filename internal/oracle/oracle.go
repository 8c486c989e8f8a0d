// Package oracle adapts the chess rules library behind the single pure
// interface the session core needs: position + candidate move in,
// resulting position + terminal verdict out. No session state lives here.
package oracle

import (
	"errors"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove   = errors.New("illegal move")
	ErrCorruptLedger = errors.New("corrupt move ledger")
)

// Verdict describes one accepted move and the position it produces.
type Verdict struct {
	SAN       string
	UCI       string
	From      string
	To        string
	Promotion string
	FEN       string
	NextTurn  string // "white" | "black"

	Terminal bool
	Result   string // "white" | "black" | "draw" | ""
	Method   string // "checkmate", "stalemate", "repetition", "fifty-move", "insufficient-material"
}

type Oracle struct{}

func New() *Oracle { return &Oracle{} }

// Apply replays the ledger from the start position and applies one
// candidate move, UCI first with SAN as fallback. The ledger itself is
// trusted; a ledger that fails to replay reports ErrCorruptLedger.
func (o *Oracle) Apply(ledgerUCI []string, input string) (*Verdict, error) {
	game := reconstruct(ledgerUCI)
	if game == nil {
		return nil, ErrCorruptLedger
	}
	pos := game.Position()

	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, ErrIllegalMove
	}

	var uci, san string
	notationUCI := nchess.UCINotation{}
	if mv, derr := notationUCI.Decode(pos, strings.ToLower(raw)); derr == nil {
		game.Move(mv, nil)
		san = nchess.AlgebraicNotation{}.Encode(pos, mv)
		uci = strings.ToLower(raw)
	} else {
		if err := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, ErrIllegalMove
		}
		last := lastMove(game)
		if last == nil {
			return nil, ErrIllegalMove
		}
		san = nchess.AlgebraicNotation{}.Encode(pos, last)
		uci = last.String()
	}
	if len(game.Moves()) != len(ledgerUCI)+1 {
		return nil, ErrIllegalMove
	}

	v := &Verdict{
		SAN:      san,
		UCI:      uci,
		FEN:      game.FEN(),
		NextTurn: colorToken(game.Position().Turn()),
	}
	v.From, v.To, v.Promotion = splitUCI(uci)

	switch game.Outcome() {
	case nchess.WhiteWon:
		v.Terminal, v.Result = true, "white"
	case nchess.BlackWon:
		v.Terminal, v.Result = true, "black"
	case nchess.Draw:
		v.Terminal, v.Result = true, "draw"
	}
	if v.Terminal {
		v.Method = methodToken(game.Method())
	}
	return v, nil
}

// Replay reproduces the position a ledger leads to. Used to verify the
// persisted FEN against the ledger on recovery.
func (o *Oracle) Replay(ledgerUCI []string) (string, error) {
	game := reconstruct(ledgerUCI)
	if game == nil {
		return "", ErrCorruptLedger
	}
	return game.FEN(), nil
}

// StartFEN returns the standard initial position.
func (o *Oracle) StartFEN() string {
	return nchess.NewGame().FEN()
}

// reconstruct replays stored UCI moves from the start position. The FEN
// kept on the session is presentation state; replaying it here would
// double-apply moves.
func reconstruct(moves []string) *nchess.Game {
	game := nchess.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorToken(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}

func methodToken(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return "repetition"
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return "fifty-move"
	case nchess.InsufficientMaterial:
		return "insufficient-material"
	}
	return ""
}

func splitUCI(uci string) (from, to, promo string) {
	if len(uci) < 4 {
		return "", "", ""
	}
	from, to = uci[0:2], uci[2:4]
	if len(uci) > 4 {
		promo = uci[4:]
	}
	return from, to, promo
}
