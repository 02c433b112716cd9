package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"microbounty/core/state"
)

type GenesisAllocation struct {
	Address       string            `toml:"Address"`
	BalanceNative string            `toml:"BalanceNative,omitempty"`
	TokenBalances map[string]string `toml:"TokenBalances,omitempty"`
}

type Config struct {
	ListenAddress   string              `toml:"ListenAddress"`
	RPCAddress      string              `toml:"RPCAddress"`
	DataDir         string              `toml:"DataDir"`
	NetworkName     string              `toml:"NetworkName"`
	SupportedTokens []string            `toml:"SupportedTokens"`
	Genesis         []GenesisAllocation `toml:"Genesis,omitempty"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "microbounty-local"
	}
	if cfg.SupportedTokens == nil {
		cfg.SupportedTokens = []string{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[common.Address]struct{}, len(c.SupportedTokens))
	for _, raw := range c.SupportedTokens {
		addr, err := parseAddress(raw)
		if err != nil {
			return fmt.Errorf("config: SupportedTokens: %w", err)
		}
		if addr == (common.Address{}) {
			return fmt.Errorf("config: SupportedTokens cannot list the zero address")
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("config: SupportedTokens lists %s twice", addr.Hex())
		}
		seen[addr] = struct{}{}
	}
	for _, alloc := range c.Genesis {
		if _, err := parseAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: Genesis: %w", err)
		}
		if alloc.BalanceNative != "" {
			if _, err := parseAmount(alloc.BalanceNative); err != nil {
				return fmt.Errorf("config: Genesis balance for %s: %w", alloc.Address, err)
			}
		}
		for token, amount := range alloc.TokenBalances {
			if _, err := parseAddress(token); err != nil {
				return fmt.Errorf("config: Genesis token for %s: %w", alloc.Address, err)
			}
			if _, err := parseAmount(amount); err != nil {
				return fmt.Errorf("config: Genesis token balance for %s: %w", alloc.Address, err)
			}
		}
	}
	return nil
}

// TokenAddresses returns the parsed registry allow-list.
func (c *Config) TokenAddresses() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.SupportedTokens))
	for _, raw := range c.SupportedTokens {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// GenesisAccounts converts the configured allocations into the state layer's
// genesis form.
func (c *Config) GenesisAccounts() ([]state.GenesisAccount, error) {
	out := make([]state.GenesisAccount, 0, len(c.Genesis))
	for _, alloc := range c.Genesis {
		addr, err := parseAddress(alloc.Address)
		if err != nil {
			return nil, err
		}
		ga := state.GenesisAccount{Address: addr, BalanceNative: big.NewInt(0)}
		if alloc.BalanceNative != "" {
			if ga.BalanceNative, err = parseAmount(alloc.BalanceNative); err != nil {
				return nil, err
			}
		}
		if len(alloc.TokenBalances) > 0 {
			ga.TokenBalances = make(map[common.Address]*big.Int, len(alloc.TokenBalances))
			for token, amount := range alloc.TokenBalances {
				tokenAddr, err := parseAddress(token)
				if err != nil {
					return nil, err
				}
				value, err := parseAmount(amount)
				if err != nil {
					return nil, err
				}
				ga.TokenBalances[tokenAddr] = value
			}
		}
		out = append(out, ga)
	}
	return out, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:   ":6001",
		RPCAddress:      ":8080",
		DataDir:         "./microbounty-data",
		NetworkName:     "microbounty-local",
		SupportedTokens: []string{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
