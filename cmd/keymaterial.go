// File: cmd/keymaterial.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/romirom11/agentpass/internal/config"
	"github.com/romirom11/agentpass/internal/vault"
)

// loadKeyMaterial reads the agent's root secret from the configured key
// file. The file must be readable by the owner only; a group or world
// readable key defeats the vault's encryption at rest.
func loadKeyMaterial(cfg config.VaultConfig) ([]byte, error) {
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("vault.key_file is not configured")
	}

	info, err := os.Stat(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("key file %s has permissions %#o, want 0600 or stricter", cfg.KeyFile, perm)
	}

	data, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read key file: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("key file %s is empty", cfg.KeyFile)
	}
	return data, nil
}

// openVault loads key material and initializes the encrypted store. The
// caller owns the returned vault and must Close it.
func openVault(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*vault.Vault, error) {
	key, err := loadKeyMaterial(cfg.VaultCfg)
	if err != nil {
		return nil, err
	}

	v := vault.New(cfg.VaultCfg.Path, key, logger)
	if err := v.Init(ctx); err != nil {
		return nil, fmt.Errorf("vault initialization failed: %w", err)
	}
	return v, nil
}
