// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Identity-bootstrap reconciles a Matrix account's cross-signing
// identity: it mints, imports, or republishes the cross-signing keys
// so that the local cache, server-side secret storage, and the
// published public keys agree. Safe to re-run: a second run with no
// external changes performs no new publication.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bureau-foundation/identity/crosssign"
	"github.com/bureau-foundation/identity/lib/config"
	"github.com/bureau-foundation/identity/lib/ref"
	"github.com/bureau-foundation/identity/lib/secret"
	"github.com/bureau-foundation/identity/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   string
		passwordFile string
		resetKeys    bool
		statusOnly   bool
	)

	flag.StringVar(&configPath, "config", "", "path to identity.yaml (defaults to IDENTITY_CONFIG)")
	flag.StringVar(&passwordFile, "password-file", "", "path to file containing the account password, or - for stdin (enables password login and interactive-auth)")
	flag.BoolVar(&resetKeys, "reset-keys", false, "mint a fresh cross-signing identity even if one exists")
	flag.BoolVar(&statusOnly, "status", false, "report identity status without reconciling")
	flag.Parse()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap is a handful of small requests; a stuck homeserver
	// should fail the run rather than hang it.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	var password *secret.Buffer
	if passwordFile != "" {
		password, err = secret.ReadFromPath(passwordFile)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		defer password.Close()
	}

	session, err := establishSession(ctx, client, cfg, password)
	if err != nil {
		return err
	}
	defer session.Close()
	logger.Info("session established",
		"user_id", session.UserID(),
		"device_id", session.DeviceID(),
	)

	var storagePrivateKey *secret.Buffer
	if cfg.Storage.PrivateKeyFile != "" {
		storagePrivateKey, err = secret.ReadFromPath(cfg.Storage.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("reading storage private key: %w", err)
		}
		defer storagePrivateKey.Close()
	}

	store, err := crosssign.NewAccountDataStore(session, cfg.Storage.RecipientKey, storagePrivateKey)
	if err != nil {
		return err
	}

	var cache *crosssign.Cache
	if cfg.Cache.Dir != "" {
		pickleKey, err := secret.ReadFromPath(cfg.Cache.PickleKeyFile)
		if err != nil {
			return fmt.Errorf("reading pickle key: %w", err)
		}
		defer pickleKey.Close()
		cache, err = crosssign.NewCache(cfg.Cache.Dir, pickleKey, session.UserID())
		if err != nil {
			return err
		}
	}

	engine := crosssign.NewEd25519Engine(session.UserID())
	defer engine.Close()

	manager, err := crosssign.NewManager(crosssign.ManagerConfig{
		API:    session,
		Engine: engine,
		Store:  store,
		Cache:  cache,
		Logger: logger,
		OnImport: func() {
			logger.Info("cross-signing keys imported from secret storage")
		},
	})
	if err != nil {
		return err
	}

	if !statusOnly {
		options := crosssign.BootstrapOptions{ResetKeys: resetKeys}
		if password != nil {
			options.AuthCallback = passwordAuthCallback(session.UserID(), password)
		}
		if err := manager.Bootstrap(ctx, options); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
	}

	status, err := manager.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading identity status: %w", err)
	}
	logger.Info("identity status",
		"public_keys_on_device", status.PublicKeysOnDevice,
		"private_keys_in_secret_storage", status.PrivateKeysInSecretStorage,
		"cached_master", status.PrivateKeysCachedLocally.HasMaster,
		"cached_self_signing", status.PrivateKeysCachedLocally.HasSelfSigning,
		"cached_user_signing", status.PrivateKeysCachedLocally.HasUserSigning,
	)
	return nil
}

// establishSession resumes from a stored access token when configured,
// otherwise logs in with the username and password.
func establishSession(ctx context.Context, client *messaging.Client, cfg *config.Config, password *secret.Buffer) (*messaging.DirectSession, error) {
	if cfg.AccessTokenFile != "" {
		token, err := secret.ReadFromPath(cfg.AccessTokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading access token: %w", err)
		}
		defer token.Close()

		userID, err := ref.ParseUserID(cfg.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid user_id: %w", err)
		}
		deviceID, err := ref.ParseDeviceID(cfg.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("invalid device_id: %w", err)
		}
		session, err := client.SessionFromToken(userID, deviceID, token.String())
		if err != nil {
			return nil, err
		}

		// Fail now on a dead token instead of mid-bootstrap.
		if _, err := session.WhoAmI(ctx); err != nil {
			session.Close()
			return nil, fmt.Errorf("stored access token rejected: %w", err)
		}
		return session, nil
	}

	if password == nil {
		return nil, fmt.Errorf("--password-file is required for password login")
	}
	return client.Login(ctx, cfg.Username, password)
}

// passwordAuthCallback answers an interactive-auth challenge with the
// account password, when the server offers the password stage.
func passwordAuthCallback(userID ref.UserID, password *secret.Buffer) crosssign.AuthCallback {
	return func(ctx context.Context, challenge *messaging.UIAAChallenge) (map[string]any, error) {
		if !challenge.HasFlow("m.login.password") {
			return nil, fmt.Errorf("server offers no password auth flow (flows: %v)", challenge.Flows)
		}
		return map[string]any{
			"type": "m.login.password",
			"identifier": map[string]any{
				"type": "m.id.user",
				"user": userID.String(),
			},
			"password": password.String(),
			"session":  challenge.Session,
		}, nil
	}
}
