package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/optiease/edgechat/internal"
)

// loadConfig reads the effective configuration, applying CLI overrides.
func loadConfig() (*internal.Config, error) {
	path := configFile
	if path == "" {
		var err error
		path, err = internal.ConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if storageBackend != "" {
		cfg.Storage.Backend = storageBackend
	}
	return cfg, nil
}

// openStore builds the persistence backend the config selects. The remote
// backend always wraps a local store as its fallback.
func openStore(cfg *internal.Config) (internal.Store, error) {
	dbPath := cfg.Storage.DatabasePath
	if dbPath == "" {
		dir, err := internal.DataDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dir, "edgechat.db")
	}

	switch cfg.Storage.Backend {
	case "", "local":
		return internal.OpenSQLiteStore(dbPath)

	case "remote":
		if cfg.Storage.RemoteURL == "" {
			return nil, fmt.Errorf("remote storage selected but storage.remote_url is not set")
		}
		local, err := internal.OpenSQLiteStore(dbPath)
		if err != nil {
			return nil, err
		}
		remote := internal.NewRemoteStore(cfg.Storage.RemoteURL)
		return internal.NewFallbackStore(remote, local), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// buildOrchestrator wires the full send pipeline from config.
func buildOrchestrator(ctx context.Context, cfg *internal.Config) (*internal.Orchestrator, internal.Store, error) {
	cfg.Provider.Clamp()

	provider, err := internal.NewGenAIProvider(ctx, cfg.Provider)
	if err != nil {
		return nil, nil, err
	}

	opts := internal.CreateOptions{
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		TopK:        cfg.Provider.TopK,
	}
	newGuard := func() *internal.SessionGuard {
		return internal.NewSessionGuard(provider, opts)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	budget := internal.NewBudgetController(cfg.Budget)
	assembler := internal.NewAssembler(internal.NewConverterClient(cfg.ConverterURL))

	return internal.NewOrchestrator(newGuard, budget, assembler, store), store, nil
}

// findChat resolves a chat id to its stored record.
func findChat(ctx context.Context, store internal.Store, chatID string) (*internal.Chat, error) {
	chats, err := store.LoadAllChats(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range chats {
		if c.ID == chatID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("chat %s not found", chatID)
}
