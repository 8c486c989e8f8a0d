package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/chess-sync-server/internal/config"
	"github.com/park285/chess-sync-server/internal/gateway"
	"github.com/park285/chess-sync-server/internal/msgcat"
	"github.com/park285/chess-sync-server/internal/obslog"
	"github.com/park285/chess-sync-server/internal/resync"
	"github.com/park285/chess-sync-server/internal/session"
	"github.com/park285/chess-sync-server/internal/transport"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cat, err := msgcat.New(os.Getenv("MESSAGE_OVERRIDE_DIR"))
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	bus := transport.NewBroadcaster(cfg.EventBufferSize)
	registry := transport.NewRegistry()
	sessions := session.NewManager(bus, session.Options{
		DefaultInitialMs:   cfg.InitialTimeMs,
		DefaultIncrementMs: cfg.IncrementMs,
		HandshakeTimeout:   cfg.HandshakeTimeout,
		DrawOfferTTL:       cfg.DrawOfferTTL,
		ResumeCooldown:     cfg.ResumeCooldown,
		AbandonGrace:       cfg.AbandonGrace,
		ArchiveGrace:       time.Duration(cfg.ArchiveGraceSec) * time.Second,
	})
	sessions.OnArchive(registry.DropSession)

	store, err := session.OpenStore(cfg.RedisURL, time.Duration(cfg.SessionTTLSec)*time.Second)
	if err != nil {
		log.Fatalf("session store init error: %v", err)
	}
	sessions.AttachStore(store)

	var repo *session.Repository
	if cfg.DatabaseURL != "" {
		repo, err = session.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive repository init error: %v", err)
		}
		sessions.AttachRepository(repo)
	} else {
		obslog.L().Warn("archive_disabled", zap.String("reason", "DATABASE_URL not set"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recoverSessions(ctx, sessions, store)
	go sessions.RunSweeper(ctx, cfg.SweepInterval)

	rs := resync.New(sessions, registry, bus)
	rest := gateway.NewREST(sessions, registry, bus, rs, cat)
	push := gateway.NewPush(sessions, registry, bus)

	errCh := make(chan error, 2)
	go func() { errCh <- rest.Serve(ctx, cfg.RESTListenAddr) }()
	go func() { errCh <- push.Serve(ctx, cfg.PushListenAddr) }()
	obslog.L().Info("server_start",
		zap.String("rest_addr", cfg.RESTListenAddr),
		zap.String("push_addr", cfg.PushListenAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		obslog.L().Info("server_shutdown", zap.String("signal", sig.String()))
	case err := <-errCh:
		obslog.L().Error("listener_failed", zap.Error(err))
	}
	cancel()

	_ = store.Close()
	if repo != nil {
		_ = repo.Close()
	}
}

// recoverSessions rehydrates every snapshotted session so reconnecting
// clients find their games after a restart.
func recoverSessions(ctx context.Context, sessions *session.Manager, store *session.Store) {
	ids, err := store.IDs(ctx)
	if err != nil {
		obslog.L().Error("recover_list_error", zap.Error(err))
		return
	}
	recovered := 0
	for _, id := range ids {
		if err := sessions.Recover(ctx, id); err != nil {
			obslog.L().Warn("recover_skip", zap.String("session_id", id), zap.Error(err))
			continue
		}
		recovered++
	}
	if len(ids) > 0 {
		obslog.L().Info("recover_done",
			zap.Int("found", len(ids)),
			zap.Int("recovered", recovered),
		)
	}
}
