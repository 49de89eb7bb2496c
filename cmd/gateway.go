package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/autoreply"
	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
	"github.com/aldihidayat35/billey-waapi-v2/internal/config"
	"github.com/aldihidayat35/billey-waapi-v2/internal/gateway"
	"github.com/aldihidayat35/billey-waapi-v2/internal/identity"
	"github.com/aldihidayat35/billey-waapi-v2/internal/pipeline"
	"github.com/aldihidayat35/billey-waapi-v2/internal/session"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store/pg"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store/sqlite"
	"github.com/aldihidayat35/billey-waapi-v2/internal/template"
	"github.com/aldihidayat35/billey-waapi-v2/internal/transport"
)

// templateSenders and autoReplySenders adapt the session registry to the
// sender lookups the dispatch and rule engines declare for themselves.
// The registry field is set after the registry exists; the engines only
// call Sender on live traffic, which the registry itself originates.
type templateSenders struct{ reg *session.Registry }

func (p *templateSenders) Sender(sessionID string) (template.Sender, bool) {
	out, ok := p.reg.Outbound(sessionID)
	if !ok {
		return nil, false
	}
	return out, true
}

type autoReplySenders struct{ reg *session.Registry }

func (p *autoReplySenders) Sender(sessionID string) (autoreply.Sender, bool) {
	out, ok := p.reg.Outbound(sessionID)
	if !ok {
		return nil, false
	}
	return out, true
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var stores *store.Stores
	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
		stores, err = pg.NewStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	} else {
		stores, err = sqlite.NewStores(store.StoreConfig{SQLitePath: cfg.Database.SQLitePath})
	}
	if err != nil {
		slog.Error("failed to open store", "mode", mode, "error", err)
		os.Exit(1)
	}

	msgBus := bus.New()
	defer msgBus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := identity.NewResolver(cfg.Sessions.AuthDir)
	if watcher, err := identity.NewWatcher(resolver, cfg.Sessions.AuthDir); err != nil {
		slog.Warn("identity watcher unavailable", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	echo := pipeline.NewEchoSet(cfg.Pipeline.EchoTTL())
	defer echo.Close()

	bridge := transport.NewBridge(cfg.Bridge.URL, cfg.Bridge.DialTimeout)

	tplSenders := &templateSenders{}
	replySenders := &autoReplySenders{}

	templates := template.New(template.Options{
		Stores:    stores,
		Senders:   tplSenders,
		Echo:      echo,
		Publisher: msgBus,
	})

	replies := autoreply.New(autoreply.Options{
		Stores:    stores,
		Senders:   replySenders,
		Echo:      echo,
		Publisher: msgBus,
	})
	if retention := cfg.AutoReply.CooldownRetention(); retention > 0 {
		go replies.RunPruner(ctx, time.Hour, retention)
	}

	pipe := pipeline.New(pipeline.Options{
		Stores:       stores,
		Publisher:    msgBus,
		Resolver:     resolver,
		Echo:         echo,
		Fetcher:      pipeline.NewHTTPFetcher(cfg.Pipeline.MediaTimeout()),
		AutoReply:    replies,
		Templates:    templates,
		MediaTimeout: cfg.Pipeline.MediaTimeout(),
	})

	registry := session.NewRegistry(session.Options{
		Transport: bridge,
		Pipeline:  pipe,
		Publisher: msgBus,
		Logs:      stores.SessionLogs,
		Resolver:  resolver,
		Config:    cfg.Sessions,
	})
	tplSenders.reg = registry
	replySenders.reg = registry

	server := gateway.NewServer(cfg.Gateway, msgBus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		registry.Close()
		cancel()
	}()

	slog.Info("waapi gateway starting",
		"version", Version,
		"mode", mode,
		"bridge", cfg.Bridge.URL,
		"listen", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}
