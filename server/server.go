package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/zkidentity/attest/challenge"
	"github.com/zkidentity/attest/identity"
	"github.com/zkidentity/attest/models"
	"github.com/zkidentity/attest/nullifier"
	"github.com/zkidentity/attest/server/api"
	"github.com/zkidentity/attest/store"
	"github.com/zkidentity/attest/verifier"
)

type ServeConfig struct {
	// Server settings
	Host string
	Port int

	// Verification key settings
	KeysDir    string
	KeyVersion uint

	// Performance settings
	MaxRequestSize  int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Challenge store maintenance
	PurgeInterval time.Duration

	// Security settings
	EnableCORS  bool
	CorsOrigins []string

	// Observability
	EnablePprof bool
	LogLevel    string
	LogFormat   string // "json" or "text"

	// TLS settings
	EnableTLS bool
	CertFile  string
	KeyFile   string
}

func Run(cfg *ServeConfig) error {
	// Validate configuration
	if err := validateServeConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Setup structured logging
	logger := SetupLogger(cfg.LogLevel, cfg.LogFormat)

	// Load verification keys, one per proof kind
	keys, err := loadKeys(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to load verification keys: %w", err)
	}

	// Wire the protocol core: keyed stores, registries, challenge protocol
	challengeStore := store.NewMemory[models.Challenge]()
	nullifiers := nullifier.NewRegistry(store.NewMemory[struct{}]())
	identities := identity.NewRegistry(nullifiers)
	proto := challenge.NewProtocol(challengeStore, keys, identities, nullifiers)

	// Background eviction of expired challenges
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go store.Janitor(janitorCtx, challengeStore, cfg.PurgeInterval)

	// Create server
	server := api.NewServer(proto, identities, keys)

	// Setup router with middleware
	r := setupRouter(server, cfg, logger)

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", addr, "tls", cfg.EnableTLS)

		var err error
		if cfg.EnableTLS {
			err = httpServer.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("Shutting down server gracefully...")
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// loadKeys reads one verification key per proof kind from the keys
// directory. Kinds without a key file are logged and left disabled; at least
// one kind must load.
func loadKeys(cfg *ServeConfig, logger Logger) (challenge.KeySet, error) {
	var keys challenge.KeySet

	loaded := 0
	for kind := models.ProofKind(0); kind < models.NumProofKinds; kind++ {
		path := filepath.Join(cfg.KeysDir, fmt.Sprintf("%s-%d.vk", kind, cfg.KeyVersion))
		vk, err := verifier.LoadKey(path)
		if err != nil {
			logger.Warn("Failed to load verification key", "proofType", kind.String(), "error", err)
			continue
		}
		keys[kind] = vk
		loaded++
		logger.Info("Loaded verification key", "proofType", kind.String(), "publicInputs", vk.NumPublicInputs())
	}

	if loaded == 0 {
		return keys, fmt.Errorf("no verification keys loaded from %s", cfg.KeysDir)
	}

	logger.Info("Key loading complete", "loaded", loaded, "total", models.NumProofKinds)
	return keys, nil
}

func validateServeConfig(cfg *ServeConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.PurgeInterval <= 0 {
		return fmt.Errorf("invalid purge interval: %s", cfg.PurgeInterval)
	}

	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not provided")
		}
		if _, err := os.Stat(cfg.CertFile); err != nil {
			return fmt.Errorf("cert file not found: %s", cfg.CertFile)
		}
		if _, err := os.Stat(cfg.KeyFile); err != nil {
			return fmt.Errorf("key file not found: %s", cfg.KeyFile)
		}
	}

	if _, err := os.Stat(cfg.KeysDir); err != nil {
		return fmt.Errorf("keys directory not found: %s", cfg.KeysDir)
	}

	return nil
}
