// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/identity/lib/clock"
	"github.com/bureau-foundation/identity/lib/secret"
	"github.com/bureau-foundation/identity/messaging"
)

// ManagerConfig holds the collaborators for a Manager.
type ManagerConfig struct {
	// API is the homeserver surface (usually a *messaging.DirectSession).
	API ServerAPI
	// Engine holds and uses the private keys.
	Engine SigningEngine
	// Store is the encrypted server-side secret storage.
	Store SecretStore
	// Cache persists key seeds across process lifetimes. Optional;
	// without it a crashed bootstrap cannot resume from local state.
	Cache *Cache
	// OnImport is invoked after keys are imported from secret storage
	// (callers may need to invalidate verification caches). Optional.
	OnImport func()
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Clock is used for duration measurement. If nil, the real clock is used.
	Clock clock.Clock
}

// Manager is the identity reconciliation engine. One Manager per
// account identity; Bootstrap is single-flight (a mutex serializes
// the whole read-decide-act sequence).
type Manager struct {
	api       ServerAPI
	engine    SigningEngine
	store     SecretStore
	processor *Processor
	cache     *Cache
	onImport  func()
	logger    *slog.Logger
	clock     clock.Clock

	mu sync.Mutex
}

// NewManager creates a reconciliation manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.API == nil {
		return nil, fmt.Errorf("crosssign: API is required")
	}
	if config.Engine == nil {
		return nil, fmt.Errorf("crosssign: Engine is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("crosssign: Store is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	return &Manager{
		api:       config.API,
		engine:    config.Engine,
		store:     config.Store,
		processor: NewProcessor(config.API, logger),
		cache:     config.Cache,
		onImport:  config.OnImport,
		logger:    logger,
		clock:     timeSource,
	}, nil
}

// Bootstrap reconciles the account's cross-signing identity. It reads
// the local engine state and secret storage presence, computes one
// Decision, and executes it. The decision is never re-evaluated
// mid-flight; any step failure aborts the call and surfaces its error
// verbatim. Retrying is the caller's job — re-invoking Bootstrap is
// cheap and safe because the decision table re-routes from whatever
// state the failed call left behind.
//
// Concurrent calls serialize; at most one bootstrap per Manager is in
// flight.
func (m *Manager) Bootstrap(ctx context.Context, options BootstrapOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.clock.Now()

	// Resume path: seeds cached by a previous process lifetime count
	// as "keys local" for the decision.
	if err := m.restoreFromCache(); err != nil {
		return err
	}

	keysLocal := m.engine.Status().Complete()
	keysInStorage, err := m.secretsPresent(ctx)
	if err != nil {
		return err
	}

	decision := Decide(options.ResetKeys, keysLocal, keysInStorage)
	m.logger.Info("identity reconciliation decision",
		"decision", decision.String(),
		"requested_reset", options.ResetKeys,
		"keys_local", keysLocal,
		"keys_in_storage", keysInStorage,
	)

	switch decision {
	case DecisionNoOp:
	case DecisionReset:
		err = m.reset(ctx, options)
	case DecisionImport:
		err = m.importFromStorage(ctx, options)
	case DecisionExport:
		err = m.exportToStorage(ctx, false)
	}
	if err != nil {
		return err
	}

	m.logger.Info("identity bootstrap complete",
		"decision", decision.String(),
		"duration", m.clock.Now().Sub(start),
	)
	return nil
}

// Status reports the identity state across the three stores.
func (m *Manager) Status(ctx context.Context) (IdentityStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID := m.api.UserID()
	response, err := m.api.QueryKeys(ctx, messaging.QueryKeysRequest{
		DeviceKeys: map[string][]string{userID.String(): {}},
	})
	if err != nil {
		return IdentityStatus{}, fmt.Errorf("crosssign: querying published keys: %w", err)
	}
	_, published := response.MasterKeys[userID.String()]

	inStorage, err := m.secretsPresent(ctx)
	if err != nil {
		return IdentityStatus{}, err
	}

	return IdentityStatus{
		PublicKeysOnDevice:         published,
		PrivateKeysInSecretStorage: inStorage,
		PrivateKeysCachedLocally:   m.engine.Status(),
	}, nil
}

// reset mints fresh keys, publishes them, self-signs the device, and
// exports the private keys to secret storage. The seeds are cached
// locally before publication: a crash anywhere in this sequence
// leaves "keys local, not in storage", which the next Bootstrap
// routes to export.
func (m *Manager) reset(ctx context.Context, options BootstrapOptions) error {
	requests, err := m.engine.GenerateCrossSigningKeys(true)
	if err != nil {
		return err
	}

	if err := m.saveToCache(); err != nil {
		return err
	}

	selfSign, err := m.selfSignRequest(ctx)
	if err != nil {
		return err
	}
	if selfSign != nil {
		requests = append(requests, *selfSign)
	}

	if err := m.processor.Submit(ctx, requests, options.AuthCallback); err != nil {
		return err
	}

	return m.exportToStorage(ctx, true)
}

// importFromStorage recovers the private keys from secret storage,
// installs them in the engine, self-signs the device, and fires the
// import notification.
func (m *Manager) importFromStorage(ctx context.Context, options BootstrapOptions) error {
	seeds := make([]*secret.Buffer, 0, 3)
	defer func() {
		for _, seed := range seeds {
			seed.Close()
		}
	}()
	for _, name := range []string{SecretNameMaster, SecretNameSelfSigning, SecretNameUserSigning} {
		seed, err := m.store.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("crosssign: importing %q: %w", name, err)
		}
		seeds = append(seeds, seed)
	}

	if err := m.engine.ImportCrossSigningKeys(seeds[0], seeds[1], seeds[2]); err != nil {
		return err
	}

	if err := m.saveToCache(); err != nil {
		return err
	}

	selfSign, err := m.selfSignRequest(ctx)
	if err != nil {
		return err
	}
	if selfSign != nil {
		if err := m.processor.Submit(ctx, []OutgoingRequest{*selfSign}, options.AuthCallback); err != nil {
			return err
		}
	}

	if m.onImport != nil {
		m.onImport()
	}
	return nil
}

// exportToStorage writes the three seeds into secret storage. With
// force false the write is skipped when all three secrets are already
// present — the idempotence that makes a repeated bootstrap free of
// observable side effects.
func (m *Manager) exportToStorage(ctx context.Context, force bool) error {
	if !force {
		present, err := m.secretsPresent(ctx)
		if err != nil {
			return err
		}
		if present {
			m.logger.Debug("secret storage already holds all keys, skipping export")
			return nil
		}
	}

	master, selfSigning, userSigning, err := m.engine.ExportCrossSigningKeys()
	if err != nil {
		return err
	}
	defer master.Close()
	defer selfSigning.Close()
	defer userSigning.Close()

	exports := []struct {
		name string
		seed *secret.Buffer
	}{
		{SecretNameMaster, master},
		{SecretNameSelfSigning, selfSigning},
		{SecretNameUserSigning, userSigning},
	}
	for _, export := range exports {
		if err := m.store.Set(ctx, export.name, export.seed.Bytes()); err != nil {
			return fmt.Errorf("crosssign: exporting %q: %w", export.name, err)
		}
	}
	return nil
}

// secretsPresent reports whether all three secrets exist in storage.
// Partial presence counts as absent — an incomplete set is never
// imported.
func (m *Manager) secretsPresent(ctx context.Context) (bool, error) {
	for _, name := range []string{SecretNameMaster, SecretNameSelfSigning, SecretNameUserSigning} {
		present, err := m.store.Present(ctx, name)
		if err != nil {
			return false, fmt.Errorf("crosssign: checking storage for %q: %w", name, err)
		}
		if !present {
			return false, nil
		}
	}
	return true, nil
}

// selfSignRequest fetches the device's own key record and builds the
// signature-upload request. Returns nil when the device has never
// uploaded identity keys (nothing to sign — a client without
// end-to-end encryption enabled).
func (m *Manager) selfSignRequest(ctx context.Context) (*OutgoingRequest, error) {
	userID := m.api.UserID()
	deviceID := m.api.DeviceID()

	response, err := m.api.QueryKeys(ctx, messaging.QueryKeysRequest{
		DeviceKeys: map[string][]string{userID.String(): {deviceID.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("crosssign: fetching own device record: %w", err)
	}
	deviceKeys, ok := response.DeviceKeys[userID.String()][deviceID.String()]
	if !ok {
		m.logger.Warn("own device has no published identity keys, skipping self-signature",
			"device_id", deviceID,
		)
		return nil, nil
	}

	request, err := m.engine.SelfSignOwnDevice(deviceKeys)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// restoreFromCache imports cached seeds into the engine when the
// engine is missing keys. A missing cache file is not an error.
func (m *Manager) restoreFromCache() error {
	if m.cache == nil || m.engine.Status().Complete() {
		return nil
	}
	master, selfSigning, userSigning, err := m.cache.Load()
	if err != nil {
		if errors.Is(err, ErrNoCachedKeys) {
			return nil
		}
		return err
	}
	defer master.Close()
	defer selfSigning.Close()
	defer userSigning.Close()

	if err := m.engine.ImportCrossSigningKeys(master, selfSigning, userSigning); err != nil {
		return err
	}
	m.logger.Info("restored cross-signing keys from local cache")
	return nil
}

// saveToCache persists the engine's current seeds. No-op without a
// configured cache.
func (m *Manager) saveToCache() error {
	if m.cache == nil {
		return nil
	}
	master, selfSigning, userSigning, err := m.engine.ExportCrossSigningKeys()
	if err != nil {
		return err
	}
	defer master.Close()
	defer selfSigning.Close()
	defer userSigning.Close()
	return m.cache.Save(master, selfSigning, userSigning)
}
