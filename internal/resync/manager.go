// Package resync coordinates client reconnection: it re-issues a
// connection identity and assembles the catch-up packet in one step so
// a returning client never observes a half-restored view.
package resync

import (
	"context"
	"strings"

	"github.com/park285/chess-sync-server/internal/obslog"
	"github.com/park285/chess-sync-server/internal/session"
	"github.com/park285/chess-sync-server/internal/transport"
	"github.com/park285/chess-sync-server/pkg/syncdto"
	"go.uber.org/zap"
)

type Manager struct {
	sessions *session.Manager
	registry *transport.Registry
	bus      *transport.Broadcaster
}

func New(sessions *session.Manager, registry *transport.Registry, bus *transport.Broadcaster) *Manager {
	return &Manager{sessions: sessions, registry: registry, bus: bus}
}

// Reconnect supersedes the player's previous connection and returns the
// authoritative state plus the ledger entries after the client's last
// known move sequence. Safe to repeat: each call just issues a fresh
// connection id over the same state.
func (m *Manager) Reconnect(ctx context.Context, sessionID string, req syncdto.ReconnectRequest) (*syncdto.ReconnectResponse, error) {
	playerID := strings.TrimSpace(req.PlayerID)
	if playerID == "" {
		return nil, session.ErrValidation
	}
	kind, err := parseKind(req.Transport)
	if err != nil {
		return nil, err
	}

	packet, err := m.sessions.Resync(ctx, sessionID, playerID, req.LastKnownSequence)
	if err != nil {
		return nil, err
	}

	rec := m.registry.Register(sessionID, playerID, kind)
	eventSeq := m.bus.Buffer(sessionID).LastSeq()
	obslog.L().Info("client_reconnect",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID),
		zap.String("kind", string(kind)),
		zap.Int("last_known", req.LastKnownSequence),
		zap.Int("delta", len(packet.Moves)),
	)
	return &syncdto.ReconnectResponse{
		ConnectionID: rec.ConnectionID,
		Packet:       *packet,
		EventSeq:     eventSeq,
	}, nil
}

func parseKind(raw string) (transport.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "poll":
		return transport.KindPoll, nil
	case "push":
		return transport.KindPush, nil
	}
	return "", session.ErrValidation
}
