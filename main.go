package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/moyoez/localvault/access"
	"github.com/moyoez/localvault/api"
	"github.com/moyoez/localvault/api/notifyhub"
	"github.com/moyoez/localvault/notify"
	"github.com/moyoez/localvault/tokens"
	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
	"github.com/moyoez/localvault/upload"
	"github.com/moyoez/localvault/vault"
)

const shutdownTimeout = 10 * time.Second

func main() {
	flags := tool.SetFlags()

	// initialize logger
	tool.InitLogger()
	tool.SetLogMode(flags.Log)

	appCfg, err := tool.LoadConfig(flags.UseConfigPath)
	if err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
	tool.ApplyFlagOverrides(&appCfg, flags)

	if flags.SkipNotify {
		notify.SetUseNotify(false)
	}
	if appCfg.NotifySocket != "" {
		notify.DefaultUnixSocketPath = appCfg.NotifySocket
	}

	root, err := vault.NewRoot(appCfg.StorageRoot)
	if err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
	tempRoot := appCfg.TempDir
	if tempRoot == "" {
		tempRoot = filepath.Join(root.Dir(), ".tmp")
	}
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		tool.DefaultLogger.Fatalf("failed to create temp dir %s: %v", tempRoot, err)
	}
	if err := root.Reserve(tempRoot); err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}

	persister, closePersister := openTokenPersister(appCfg)
	defer closePersister()
	store := tokens.NewStore(persister, tokens.WithTTL(appCfg.TokenTTL))

	sessions := upload.NewSessions(appCfg.SessionTTL)
	reaper := upload.NewReaper(tempRoot, appCfg.SessionTTL, sessions)
	reaper.OnAbandoned = notify.SendUploadAbandoned

	gate, err := access.NewGate(appCfg.Username, appCfg.Password)
	if err != nil {
		tool.DefaultLogger.Fatalf("failed to set up access gate: %v", err)
	}
	if gate.PasswordConfigured() {
		tool.DefaultLogger.Infof("[Access] Password protection enabled for %s", strings.Join(access.SensitiveExtensions, " "))
	}

	var hub *notifyhub.Hub
	if appCfg.NotifyWS {
		hub = notifyhub.New()
		notify.SetHub(hub)
	}

	server := api.NewServer(appCfg.Port, appCfg.Protocol, api.Deps{
		Root:          root,
		Tokens:        store,
		Sessions:      sessions,
		Receiver:      upload.NewReceiver(tempRoot, sessions, appCfg.MaxChunkBytes),
		Finalizer:     upload.NewFinalizer(root, tempRoot, sessions),
		Gate:          gate,
		Hub:           hub,
		MaxChunkBytes: appCfg.MaxChunkBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go store.Run(ctx, appCfg.TokenSweepInterval)
	go reaper.Run(ctx, appCfg.ReapInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	tool.DefaultLogger.Infof("Serving %s (temp %s), tokens via %s", root.Dir(), tempRoot, appCfg.TokenBackend)

	select {
	case err := <-errCh:
		if err != nil {
			tool.DefaultLogger.Errorf("API server stopped: %v", err)
		}
	case <-ctx.Done():
		tool.DefaultLogger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			tool.DefaultLogger.Errorf("Graceful shutdown failed: %v", err)
		}
	}
}

// openTokenPersister picks the token backend. The returned func releases it.
func openTokenPersister(cfg types.AppConfig) (tokens.Persister, func()) {
	switch strings.ToLower(cfg.TokenBackend) {
	case "badger":
		dir := strings.TrimSuffix(cfg.TokenFile, filepath.Ext(cfg.TokenFile)) + ".badger"
		db, err := tokens.OpenBadger(dir)
		if err != nil {
			tool.DefaultLogger.Fatalf("%v", err)
		}
		tool.DefaultLogger.Infof("[Token] Persisting tokens in badger at %s", dir)
		return tokens.NewBadgerPersister(db), func() {
			if err := db.Close(); err != nil {
				tool.DefaultLogger.Errorf("[Token] Failed to close badger: %v", err)
			}
		}
	default:
		tool.DefaultLogger.Infof("[Token] Persisting tokens in %s", cfg.TokenFile)
		return tokens.NewFilePersister(cfg.TokenFile), func() {}
	}
}
