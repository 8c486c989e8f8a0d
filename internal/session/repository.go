package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository archives finished games to Postgres. The archive is write
// once per session; the upsert makes a retried archival harmless.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts the final record for a terminal session.
func (r *Repository) SaveResult(ctx context.Context, st *State) error {
	if r == nil || r.db == nil || st == nil {
		return nil
	}

	uci := make([]string, 0, len(st.Moves))
	san := make([]string, 0, len(st.Moves))
	for _, mv := range st.Moves {
		uci = append(uci, mv.UCI)
		san = append(san, mv.SAN)
	}
	movesUCIRaw, _ := json.Marshal(uci)
	movesSANRaw, _ := json.Marshal(san)

	pgnResult := mapResultToPGN(st.Result)
	pgn := buildPGN(st, san, pgnResult)

	endedAt := st.FinishedAt
	if endedAt.IsZero() {
		endedAt = st.UpdatedAt
	}
	duration := endedAt.Sub(st.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	timeControl := timeControlTag(st)

	q := `INSERT INTO sync_games (
	    session_id, white_id, black_id, time_control,
	    result, end_reason, moves_uci, moves_san, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	  ) ON CONFLICT (session_id) DO UPDATE SET
	    result=EXCLUDED.result,
	    end_reason=EXCLUDED.end_reason,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		st.ID,
		st.WhiteID, st.BlackID, timeControl,
		string(st.Result), string(st.EndReason),
		string(movesUCIRaw), string(movesSANRaw), pgn,
		st.CreatedAt, endedAt, duration,
	)
	return err
}

// timeControlTag renders the game's time control as "base+increment" in
// seconds, from the initial allotment, not whatever remained at the end.
func timeControlTag(st *State) string {
	return fmt.Sprintf("%d+%d", st.InitialMs/1000, st.Clock.IncrementMs/1000)
}

func mapResultToPGN(result Result) string {
	switch result {
	case ResultWhiteWins:
		return "1-0"
	case ResultBlackWins:
		return "0-1"
	case ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(st *State, san []string, pgnResult string) string {
	if st == nil {
		return ""
	}
	var b strings.Builder
	date := st.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Online game\"]\n")
	b.WriteString("[Site \"sync-server\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(st.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(st.BlackID)))
	if st.EndReason != EndNone {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(st.EndReason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(san); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(san[i])))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(san[i+1]))
		}
		b.WriteString(" ")
	}
	if pgnResult != "" {
		b.WriteString(pgnResult)
	}
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
