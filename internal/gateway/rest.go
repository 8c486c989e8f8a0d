// Package gateway exposes the session core over HTTP: a REST/poll
// surface on fasthttp and a websocket push surface on net/http.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/park285/chess-sync-server/internal/msgcat"
	"github.com/park285/chess-sync-server/internal/obslog"
	"github.com/park285/chess-sync-server/internal/resync"
	"github.com/park285/chess-sync-server/internal/session"
	"github.com/park285/chess-sync-server/internal/transport"
	"github.com/park285/chess-sync-server/pkg/syncdto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ErrStaleConnection rejects requests carrying a superseded connection
// id; the client must reconnect before acting.
var ErrStaleConnection = errors.New("connection superseded; reconnect required")

type REST struct {
	sessions *session.Manager
	registry *transport.Registry
	bus      *transport.Broadcaster
	resync   *resync.Manager
	cat      *msgcat.Catalog
}

func NewREST(sessions *session.Manager, registry *transport.Registry, bus *transport.Broadcaster, rs *resync.Manager, cat *msgcat.Catalog) *REST {
	return &REST{sessions: sessions, registry: registry, bus: bus, resync: rs, cat: cat}
}

// Handler is the fasthttp entry point. Routing is a plain path switch;
// the surface is small enough that a router dependency buys nothing.
func (g *REST) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())

	if method == fasthttp.MethodGet && path == "/healthz" {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"status":"ok"}`)
		return
	}

	if !strings.HasPrefix(path, "/v1/sessions") {
		g.writeError(ctx, fasthttp.StatusNotFound, "unknown_session", nil)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(path, "/v1/sessions"), "/")

	if rest == "" {
		if method == fasthttp.MethodPost {
			g.handleCreate(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(rest, "/")
	id := parts[0]
	sub := strings.Join(parts[1:], "/")

	switch {
	case sub == "" && method == fasthttp.MethodGet:
		g.handleState(ctx, id)
	case sub == "handshake" && method == fasthttp.MethodPost:
		g.handleHandshake(ctx, id)
	case sub == "moves" && method == fasthttp.MethodPost:
		g.handleMove(ctx, id)
	case sub == "resign" && method == fasthttp.MethodPost:
		g.handleResign(ctx, id)
	case sub == "pause" && method == fasthttp.MethodPost:
		g.handlePause(ctx, id)
	case sub == "draw/offer" && method == fasthttp.MethodPost:
		g.handleDrawOffer(ctx, id)
	case sub == "draw/response" && method == fasthttp.MethodPost:
		g.handleDrawResponse(ctx, id)
	case sub == "events" && method == fasthttp.MethodGet:
		g.handlePoll(ctx, id)
	case sub == "reconnect" && method == fasthttp.MethodPost:
		g.handleReconnect(ctx, id)
	default:
		g.writeError(ctx, fasthttp.StatusNotFound, "unknown_session", nil)
	}
}

func (g *REST) handleCreate(ctx *fasthttp.RequestCtx) {
	var req syncdto.CreateSessionRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
		return
	}
	st, err := g.sessions.Create(ctx, req.WhitePlayerID, req.BlackPlayerID, req.InitialTimeMs, req.IncrementMs)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	g.writeJSON(ctx, fasthttp.StatusCreated, st)
}

func (g *REST) handleState(ctx *fasthttp.RequestCtx, id string) {
	st, err := g.sessions.PublicState(ctx, id)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	g.writeJSON(ctx, fasthttp.StatusOK, st)
}

func (g *REST) handleHandshake(ctx *fasthttp.RequestCtx, id string) {
	var req syncdto.HandshakeRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
		return
	}
	kind := transport.KindPoll
	if strings.EqualFold(strings.TrimSpace(req.Transport), "push") {
		kind = transport.KindPush
	}
	playerID := strings.TrimSpace(req.PlayerID)
	ack, err := g.sessions.BeginHandshake(ctx, id, playerID, req.ProtocolVersion)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	// A retried handshake keeps the connection id its first attempt
	// returned; superseding here would stale that id. A changed
	// transport kind is a real new connection.
	rec := g.registry.Current(id, playerID)
	if rec == nil || rec.Stale || rec.Kind != kind {
		rec = g.registry.Register(id, playerID, kind)
	} else {
		g.registry.Touch(rec.ConnectionID)
	}
	ack.ConnectionID = rec.ConnectionID
	g.writeJSON(ctx, fasthttp.StatusOK, ack)
}

func (g *REST) handleMove(ctx *fasthttp.RequestCtx, id string) {
	var req syncdto.MoveRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
		return
	}
	playerID, err := g.playerFromConnection(id, req.ConnectionID)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	st, err := g.sessions.SubmitMove(ctx, id, playerID, req)
	if err != nil {
		g.mapError(ctx, err, st)
		return
	}
	// the move is durably applied; broadcast to the peer is async
	g.writeJSON(ctx, fasthttp.StatusAccepted, st)
}

func (g *REST) handleResign(ctx *fasthttp.RequestCtx, id string) {
	var req syncdto.ResignRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
		return
	}
	playerID, err := g.playerFromConnection(id, req.ConnectionID)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	st, err := g.sessions.Resign(ctx, id, playerID)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	g.writeJSON(ctx, fasthttp.StatusOK, st)
}

func (g *REST) handlePause(ctx *fasthttp.RequestCtx, id string) {
	var req syncdto.PauseRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
		return
	}
	playerID, err := g.playerFromConnection(id, req.ConnectionID)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "requested"
	}
	if err := g.sessions.Pause(ctx, id, playerID, reason); err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	st, err := g.sessions.PublicState(ctx, id)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	g.writeJSON(ctx, fasthttp.StatusOK, st)
}

func (g *REST) handleDrawOffer(ctx *fasthttp.RequestCtx, id string) {
	var req syncdto.DrawOfferRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
		return
	}
	playerID, err := g.playerFromConnection(id, req.ConnectionID)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	st, err := g.sessions.OfferDraw(ctx, id, playerID)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	g.writeJSON(ctx, fasthttp.StatusOK, st)
}

func (g *REST) handleDrawResponse(ctx *fasthttp.RequestCtx, id string) {
	var req syncdto.DrawResponseRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
		return
	}
	playerID, err := g.playerFromConnection(id, req.ConnectionID)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	st, err := g.sessions.RespondDraw(ctx, id, playerID, req.Accept)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	g.writeJSON(ctx, fasthttp.StatusOK, st)
}

// handlePoll drains events after the client's cursor. A caught-up
// client presenting a current token gets 304 with no body, the
// poll-mode equivalent of no push frame.
func (g *REST) handlePoll(ctx *fasthttp.RequestCtx, id string) {
	since, _ := strconv.ParseInt(string(ctx.QueryArgs().Peek("since")), 10, 64)
	clientToken := string(ctx.QueryArgs().Peek("token"))
	if connID := string(ctx.QueryArgs().Peek("connection_id")); connID != "" {
		g.registry.Touch(connID)
		g.registry.Ack(connID, since)
	}

	token, err := g.sessions.PollToken(ctx, id)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	res := g.bus.Drain(id, since, clientToken, token)
	ctx.Response.Header.Set("X-Sync-Token", res.Token)
	if res.Unchanged {
		ctx.SetStatusCode(fasthttp.StatusNotModified)
		return
	}
	g.writeJSON(ctx, fasthttp.StatusOK, struct {
		Events   []transport.Envelope `json:"events"`
		EventSeq int64                `json:"event_seq"`
		Token    string               `json:"token"`
	}{Events: res.Events, EventSeq: res.EventSeq, Token: res.Token})
}

func (g *REST) handleReconnect(ctx *fasthttp.RequestCtx, id string) {
	var req syncdto.ReconnectRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
		return
	}
	resp, err := g.resync.Reconnect(ctx, id, req)
	if err != nil {
		g.mapError(ctx, err, nil)
		return
	}
	g.writeJSON(ctx, fasthttp.StatusOK, resp)
}

// playerFromConnection resolves the acting player from a connection id
// and rejects superseded connections so a zombie tab cannot act on a
// game its successor already owns.
func (g *REST) playerFromConnection(sessionID, connectionID string) (string, error) {
	rec := g.registry.Get(connectionID)
	if rec == nil || rec.SessionID != sessionID {
		return "", session.ErrValidation
	}
	if rec.Stale {
		return "", ErrStaleConnection
	}
	g.registry.Touch(rec.ConnectionID)
	return rec.PlayerID, nil
}

func (g *REST) mapError(ctx *fasthttp.RequestCtx, err error, st *syncdto.PublicState) {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		g.writeError(ctx, fasthttp.StatusNotFound, "unknown_session", nil)
	case errors.Is(err, session.ErrNotAParticipant):
		g.writeError(ctx, fasthttp.StatusForbidden, "not_a_participant", nil)
	case errors.Is(err, session.ErrValidation):
		g.writeError(ctx, fasthttp.StatusBadRequest, "validation", nil)
	case errors.Is(err, session.ErrIllegalMove):
		g.writeError(ctx, fasthttp.StatusConflict, "illegal_move", nil)
	case errors.Is(err, session.ErrOutOfTurn):
		g.writeError(ctx, fasthttp.StatusConflict, "out_of_turn", nil)
	case errors.Is(err, session.ErrStaleState):
		g.writeError(ctx, fasthttp.StatusConflict, "stale_state", st)
	case errors.Is(err, session.ErrSessionTerminal):
		g.writeError(ctx, fasthttp.StatusGone, "session_terminal", nil)
	case errors.Is(err, session.ErrNotActive):
		g.writeError(ctx, fasthttp.StatusConflict, "session_not_active", nil)
	case errors.Is(err, session.ErrDrawPending):
		g.writeError(ctx, fasthttp.StatusConflict, "draw_pending", nil)
	case errors.Is(err, session.ErrNoDrawOffer):
		g.writeError(ctx, fasthttp.StatusConflict, "no_draw_offer", nil)
	case errors.Is(err, ErrStaleConnection):
		g.writeError(ctx, fasthttp.StatusConflict, "transport", nil)
	default:
		obslog.L().Error("gateway_internal_error", zap.Error(err))
		g.writeError(ctx, fasthttp.StatusInternalServerError, "internal", nil)
	}
}

func (g *REST) writeError(ctx *fasthttp.RequestCtx, status int, code string, st *syncdto.PublicState) {
	body := syncdto.ErrorBody{
		Code:    code,
		Message: g.cat.RenderOr("error."+code, code, nil),
		State:   st,
	}
	g.writeJSON(ctx, status, body)
}

func (g *REST) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(raw)
}

// Serve blocks on the fasthttp listener until the context is cancelled.
func (g *REST) Serve(ctx context.Context, addr string) error {
	srv := &fasthttp.Server{
		Handler:            g.Handler,
		Name:               "sync-server",
		MaxRequestBodySize: 1 << 20,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()
	select {
	case <-ctx.Done():
		return srv.Shutdown()
	case err := <-errCh:
		return err
	}
}
