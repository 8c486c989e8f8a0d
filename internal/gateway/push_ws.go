package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/park285/chess-sync-server/internal/obslog"
	"github.com/park285/chess-sync-server/internal/session"
	"github.com/park285/chess-sync-server/internal/transport"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Push serves the websocket event stream. It runs on its own net/http
// listener; the REST surface stays on fasthttp.
type Push struct {
	sessions *session.Manager
	registry *transport.Registry
	bus      *transport.Broadcaster

	pingInterval time.Duration
}

func NewPush(sessions *session.Manager, registry *transport.Registry, bus *transport.Broadcaster) *Push {
	return &Push{
		sessions:     sessions,
		registry:     registry,
		bus:          bus,
		pingInterval: 30 * time.Second,
	}
}

// ackFrame is the only client-to-server frame on the push channel.
type ackFrame struct {
	Seq int64 `json:"seq"`
}

// ServeHTTP upgrades GET /v1/sessions/{id}/push?connection_id=&since=.
// The connection must have been issued by handshake or reconnect with
// transport "push"; everything else is rejected before the upgrade.
func (p *Push) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pushSessionID(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	connID := strings.TrimSpace(r.URL.Query().Get("connection_id"))
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	rec := p.registry.Get(connID)
	if rec == nil || rec.SessionID != sessionID || rec.Kind != transport.KindPush {
		http.Error(w, "unknown connection", http.StatusForbidden)
		return
	}
	if rec.Stale {
		http.Error(w, "connection superseded", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("push_accept_error",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	p.serve(r.Context(), conn, rec, since)
}

func (p *Push) serve(ctx context.Context, conn *websocket.Conn, rec *transport.Record, since int64) {
	sessionID, playerID := rec.SessionID, rec.PlayerID
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		p.sessions.MarkDisconnected(context.Background(), sessionID, playerID)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	buf := p.bus.Buffer(sessionID)
	// subscribe before replay so the gap between the two cannot lose an
	// event; duplicates are filtered by seq below
	ch := buf.Subscribe()
	defer buf.Unsubscribe(ch)

	p.sessions.MarkConnected(sessionID, playerID)
	obslog.L().Info("push_attach",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID),
		zap.Int64("since", since),
	)

	sent := since
	for _, ev := range buf.ReplayAfter(since) {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			return
		}
		sent = ev.Seq
	}

	// reader: acks and liveness only
	go func() {
		defer cancel()
		for {
			var ack ackFrame
			if err := wsjson.Read(ctx, conn, &ack); err != nil {
				return
			}
			p.registry.Ack(rec.ConnectionID, ack.Seq)
		}
	}()

	ping := time.NewTicker(p.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= sent {
				continue
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
			sent = ev.Seq
		}
	}
}

// Serve blocks on the push listener until the context is cancelled.
func (p *Push) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		return err
	}
}

// pushSessionID extracts {id} from /v1/sessions/{id}/push.
func pushSessionID(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/v1/sessions/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/push")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
