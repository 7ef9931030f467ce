// Package keys manages custodial proxy key material. For each owner address
// the registry generates, exactly once, a cardano payment keypair and a
// hydra keypair on disk under a fixed key-storage directory, derives the
// proxy address from the cardano verification key, and persists the mapping.
package keys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"hydrapay.dev/hpd/internal/cli"
	"hydrapay.dev/hpd/internal/config"
	"hydrapay.dev/hpd/internal/state"
	"hydrapay.dev/hpd/internal/store"
	"hydrapay.dev/hpd/internal/types"
)

// ProxyStore is the persistence needed by the registry: existence check,
// insert, and select-by-key against proxy records.
type ProxyStore interface {
	InsertProxy(rec store.ProxyRecord) error
	GetProxy(owner string) (*store.ProxyRecord, error)
}

// Generator produces a fresh proxy address and key set for an owner,
// writing the key files under dir. Injectable for tests; the default shells
// out to cardano-cli and hydra-tools.
type Generator func(dir, owner string) (string, types.KeyInfo, error)

// Registry caches and persists proxy key material per owner address.
type Registry struct {
	mu    sync.Mutex
	dir   string
	state *state.Store
	db    ProxyStore
	gen   Generator
}

// NewRegistry creates a registry storing key files under dir. The state
// store serves as the in-process cache and db as durable persistence.
func NewRegistry(cfg *config.Config, st *state.Store, db ProxyStore) *Registry {
	return &Registry{
		dir:   cfg.KeyDir,
		state: st,
		db:    db,
		gen:   cliGenerator(cfg),
	}
}

// SetGenerator overrides key generation. Used by tests.
func (r *Registry) SetGenerator(gen Generator) {
	r.gen = gen
}

// AddOrGetKeyInfo returns the proxy address and key set for an owner
// address, generating them on first use. The generate-then-insert sequence
// runs under the registry lock so concurrent first calls for the same owner
// observe a single generated key set.
func (r *Registry) AddOrGetKeyInfo(owner string) (string, types.KeyInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.state.Proxy(owner); ok {
		return info.Address, info.Keys, nil
	}

	// warm the cache from the durable store before generating
	if r.db != nil {
		rec, err := r.db.GetProxy(owner)
		if err == nil {
			info := types.ProxyInfo{Address: rec.ProxyAddress, Keys: rec.Keys}
			r.state.PutProxy(owner, info)
			return info.Address, info.Keys, nil
		}
		if err != store.ErrNotFound {
			return "", types.KeyInfo{}, fmt.Errorf("load proxy record: %w", err)
		}
	}

	proxy, keyInfo, err := r.gen(r.dir, owner)
	if err != nil {
		return "", types.KeyInfo{}, fmt.Errorf("generate proxy keys: %w", err)
	}

	if r.db != nil {
		err := r.db.InsertProxy(store.ProxyRecord{
			OwnerAddress: owner,
			ProxyAddress: proxy,
			Keys:         keyInfo,
		})
		if err != nil {
			return "", types.KeyInfo{}, fmt.Errorf("persist proxy record: %w", err)
		}
	}

	r.state.PutProxy(owner, types.ProxyInfo{Address: proxy, Keys: keyInfo})
	return proxy, keyInfo, nil
}

// cliGenerator returns the default Generator backed by the external ledger
// tooling: cardano-cli for the payment keypair and address derivation,
// hydra-tools for the hydra keypair.
func cliGenerator(cfg *config.Config) Generator {
	return func(dir, owner string) (string, types.KeyInfo, error) {
		ownerDir := filepath.Join(dir, owner)
		if err := os.MkdirAll(ownerDir, 0o700); err != nil {
			return "", types.KeyInfo{}, fmt.Errorf("create key directory: %w", err)
		}

		keyInfo := types.KeyInfo{
			CardanoSigningKey:      filepath.Join(ownerDir, "cardano.sk"),
			CardanoVerificationKey: filepath.Join(ownerDir, "cardano.vk"),
			HydraSigningKey:        filepath.Join(ownerDir, "hydra.sk"),
			HydraVerificationKey:   filepath.Join(ownerDir, "hydra.vk"),
		}

		timeout := time.Duration(cfg.CLITimeoutSeconds) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		_, err := cli.Run(ctx, nil, cfg.CardanoCLIBin, "address", "key-gen",
			"--verification-key-file", keyInfo.CardanoVerificationKey,
			"--signing-key-file", keyInfo.CardanoSigningKey)
		if err != nil {
			return "", types.KeyInfo{}, fmt.Errorf("cardano key-gen: %w", err)
		}

		_, err = cli.Run(ctx, nil, cfg.HydraToolsBin, "gen-hydra-key",
			"--output-file", filepath.Join(ownerDir, "hydra"))
		if err != nil {
			return "", types.KeyInfo{}, fmt.Errorf("hydra key-gen: %w", err)
		}

		out, err := cli.Run(ctx, nil, cfg.CardanoCLIBin, "address", "build",
			"--payment-verification-key-file", keyInfo.CardanoVerificationKey,
			"--testnet-magic", strconv.Itoa(cfg.Ledger.NetworkMagic))
		if err != nil {
			return "", types.KeyInfo{}, fmt.Errorf("derive proxy address: %w", err)
		}

		proxy := strings.TrimSpace(string(out))
		if proxy == "" {
			return "", types.KeyInfo{}, fmt.Errorf("derive proxy address: empty output")
		}
		return proxy, keyInfo, nil
	}
}
