package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"microbounty/core/types"
	"microbounty/storage"
)

// GenesisAccount seeds an address with native and token balances at first
// boot. Token balances are keyed by token address.
type GenesisAccount struct {
	Address       common.Address
	BalanceNative *big.Int
	TokenBalances map[common.Address]*big.Int
}

// ApplyGenesis funds the supplied accounts exactly once. Subsequent calls are
// no-ops so a restarted node does not re-mint balances.
func (m *Manager) ApplyGenesis(accounts []GenesisAccount) error {
	applied, err := m.db.Has(genesisAppliedKey)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	if applied {
		return nil
	}
	for _, ga := range accounts {
		if ga.Address == vaultAddress {
			return fmt.Errorf("state: genesis cannot fund the custody vault")
		}
		acc := &types.Account{BalanceNative: big.NewInt(0)}
		if ga.BalanceNative != nil {
			if ga.BalanceNative.Sign() < 0 {
				return fmt.Errorf("state: negative genesis balance for %s", ga.Address.Hex())
			}
			acc.BalanceNative = new(big.Int).Set(ga.BalanceNative)
		}
		if err := m.PutAccount(ga.Address, acc); err != nil {
			return err
		}
		for token, amount := range ga.TokenBalances {
			if err := m.SetTokenBalance(token, ga.Address, amount); err != nil {
				return err
			}
		}
	}
	return m.db.Put(genesisAppliedKey, []byte{1})
}
