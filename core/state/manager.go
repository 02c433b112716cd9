package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"microbounty/core/types"
	"microbounty/native/bounty"
	"microbounty/storage"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the holder's
	// balance (native or token).
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrInsufficientAllowance is returned when a custody pull exceeds the
	// owner's approval for the vault.
	ErrInsufficientAllowance = errors.New("state: insufficient allowance")
	// ErrUnsolicitedDeposit is returned for any transfer targeting the
	// custody vault outside the engine's escrow credit paths. The ledger
	// never accepts funds except as an explicit, accounted bounty creation.
	ErrUnsolicitedDeposit = errors.New("state: custody vault only accepts escrow credits")
)

// vaultAddress is derived deterministically so every node agrees on the
// custody address without configuration.
var vaultAddress = common.BytesToAddress(ethcrypto.Keccak256([]byte("microbounty/custody-vault"))[12:])

// Manager persists ledger state in a key-value store: bounty records and
// indices, the platform aggregate, native accounts, and the fungible-token
// ledger (balances and vault allowances). It implements the bounty engine's
// state interface.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// VaultAddress returns the address holding escrowed value.
func (m *Manager) VaultAddress() common.Address { return vaultAddress }

func addrKey(prefix string, addr common.Address) []byte {
	return []byte(prefix + strings.ToLower(addr.Hex()))
}

func tokenHolderKey(prefix string, token, holder common.Address) []byte {
	return []byte(prefix + strings.ToLower(token.Hex()) + "/" + strings.ToLower(holder.Hex()))
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte(tokenAllowancePrefix + strings.ToLower(token.Hex()) + "/" + strings.ToLower(owner.Hex()) + "/" + strings.ToLower(spender.Hex()))
}

func bountyRecordKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return []byte(fmt.Sprintf("%s%x", bountyRecordPrefix, buf))
}

// --- Accounts (native coin) ---

// GetAccount loads the account for the address, returning a zeroed account
// when none has been stored yet. The result is the caller's to mutate.
func (m *Manager) GetAccount(addr common.Address) (*types.Account, error) {
	raw, err := m.db.Get(addrKey(accountPrefix, addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{BalanceNative: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var acc types.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	if acc.BalanceNative == nil {
		acc.BalanceNative = big.NewInt(0)
	}
	return &acc, nil
}

// PutAccount stores the account record for the address.
func (m *Manager) PutAccount(addr common.Address, acc *types.Account) error {
	raw, err := json.Marshal(acc.Clone())
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(addrKey(accountPrefix, addr), raw)
}

// NativeTransfer moves native value between two plain accounts. Transfers
// into the custody vault are rejected here; escrow funding goes through
// EscrowCredit so every credited unit is accounted against a bounty.
func (m *Manager) NativeTransfer(from, to common.Address, amount *big.Int) error {
	if to == vaultAddress {
		return ErrUnsolicitedDeposit
	}
	return m.moveNative(from, to, amount)
}

func (m *Manager) moveNative(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.BalanceNative.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amount)
	toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amount)
	if err := m.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to, toAcc)
}

// EscrowCredit moves native value from the payer into custody.
func (m *Manager) EscrowCredit(from common.Address, amount *big.Int) error {
	return m.moveNative(from, vaultAddress, amount)
}

// EscrowDebit moves native value out of custody to the recipient.
func (m *Manager) EscrowDebit(to common.Address, amount *big.Int) error {
	return m.moveNative(vaultAddress, to, amount)
}

// CustodyNativeBalance reports the native value currently held in custody.
func (m *Manager) CustodyNativeBalance() (*big.Int, error) {
	acc, err := m.GetAccount(vaultAddress)
	if err != nil {
		return nil, err
	}
	return acc.BalanceNative, nil
}

// --- Token ledger ---

func (m *Manager) bigIntAt(key []byte) (*big.Int, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt amount at %s", key)
	}
	return v, nil
}

func (m *Manager) putBigInt(key []byte, v *big.Int) error {
	return m.db.Put(key, []byte(v.String()))
}

// TokenBalance returns the holder's balance of the given token.
func (m *Manager) TokenBalance(token, holder common.Address) (*big.Int, error) {
	return m.bigIntAt(tokenHolderKey(tokenBalancePrefix, token, holder))
}

// SetTokenBalance overwrites a token balance. Only genesis allocation and
// tests use this; runtime movement goes through the transfer paths.
func (m *Manager) SetTokenBalance(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: token balance must be non-negative")
	}
	return m.putBigInt(tokenHolderKey(tokenBalancePrefix, token, holder), amount)
}

// TokenAllowance returns how much of owner's token balance the spender may
// pull.
func (m *Manager) TokenAllowance(token, owner, spender common.Address) (*big.Int, error) {
	return m.bigIntAt(allowanceKey(token, owner, spender))
}

// TokenApprove sets the spender's allowance over the owner's token balance.
func (m *Manager) TokenApprove(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: allowance must be non-negative")
	}
	return m.putBigInt(allowanceKey(token, owner, spender), amount)
}

// TokenEscrowCredit pulls tokens from the owner into custody, consuming the
// vault's allowance. This is the only way token value enters custody.
func (m *Manager) TokenEscrowCredit(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	allowance, err := m.TokenAllowance(token, from, vaultAddress)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	balance, err := m.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	vaultBalance, err := m.TokenBalance(token, vaultAddress)
	if err != nil {
		return err
	}
	if err := m.putBigInt(allowanceKey(token, from, vaultAddress), new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	if err := m.putBigInt(tokenHolderKey(tokenBalancePrefix, token, from), new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return m.putBigInt(tokenHolderKey(tokenBalancePrefix, token, vaultAddress), new(big.Int).Add(vaultBalance, amount))
}

// TokenEscrowDebit moves tokens out of custody to the recipient.
func (m *Manager) TokenEscrowDebit(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	vaultBalance, err := m.TokenBalance(token, vaultAddress)
	if err != nil {
		return err
	}
	if vaultBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := m.TokenBalance(token, to)
	if err != nil {
		return err
	}
	if err := m.putBigInt(tokenHolderKey(tokenBalancePrefix, token, vaultAddress), new(big.Int).Sub(vaultBalance, amount)); err != nil {
		return err
	}
	return m.putBigInt(tokenHolderKey(tokenBalancePrefix, token, to), new(big.Int).Add(toBalance, amount))
}

// CustodyTokenBalance reports the token value currently held in custody.
func (m *Manager) CustodyTokenBalance(token common.Address) (*big.Int, error) {
	return m.TokenBalance(token, vaultAddress)
}

// --- Bounty records ---

// BountyPut stores the sanitized bounty record.
func (m *Manager) BountyPut(b *bounty.Bounty) error {
	sanitized, err := bounty.SanitizeBounty(b)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("state: encode bounty: %w", err)
	}
	return m.db.Put(bountyRecordKey(sanitized.ID), raw)
}

// BountyGet loads a bounty by id. The returned record is a private copy.
func (m *Manager) BountyGet(id uint64) (*bounty.Bounty, bool) {
	raw, err := m.db.Get(bountyRecordKey(id))
	if err != nil {
		return nil, false
	}
	var b bounty.Bounty
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false
	}
	return &b, true
}

// BountyCount returns the number of ids allocated so far.
func (m *Manager) BountyCount() uint64 {
	raw, err := m.db.Get(bountySeqKey)
	if err != nil {
		return 0
	}
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// BountyAllocateID reserves and returns the next sequential bounty id,
// starting at 1.
func (m *Manager) BountyAllocateID() (uint64, error) {
	next := m.BountyCount() + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := m.db.Put(bountySeqKey, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// --- Indices ---

func (m *Manager) indexAppend(key []byte, id uint64) error {
	ids, err := m.indexRead(key)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("state: encode index: %w", err)
	}
	return m.db.Put(key, raw)
}

func (m *Manager) indexRead(key []byte) ([]uint64, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return []uint64{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("state: decode index: %w", err)
	}
	return ids, nil
}

func (m *Manager) BountyCreatorIndexAppend(addr common.Address, id uint64) error {
	return m.indexAppend(addrKey(bountyCreatorPrefix, addr), id)
}

func (m *Manager) BountyHunterIndexAppend(addr common.Address, id uint64) error {
	return m.indexAppend(addrKey(bountyHunterPrefix, addr), id)
}

func (m *Manager) BountyTokenIndexAppend(token common.Address, id uint64) error {
	return m.indexAppend(addrKey(bountyTokenPrefix, token), id)
}

func (m *Manager) BountyIDsByCreator(addr common.Address) ([]uint64, error) {
	return m.indexRead(addrKey(bountyCreatorPrefix, addr))
}

func (m *Manager) BountyIDsByHunter(addr common.Address) ([]uint64, error) {
	return m.indexRead(addrKey(bountyHunterPrefix, addr))
}

func (m *Manager) BountyIDsByToken(token common.Address) ([]uint64, error) {
	return m.indexRead(addrKey(bountyTokenPrefix, token))
}

// --- Platform aggregate ---

type statsRecord struct {
	TotalBounties          uint64 `json:"totalBounties"`
	ActiveBounties         uint64 `json:"activeBounties"`
	CompletedBounties      uint64 `json:"completedBounties"`
	CancelledBounties      uint64 `json:"cancelledBounties"`
	TotalValueLockedNative string `json:"totalValueLockedNative"`
	TotalValueLockedStable string `json:"totalValueLockedStable"`
	TotalPaidOutNative     string `json:"totalPaidOutNative"`
	TotalPaidOutStable     string `json:"totalPaidOutStable"`
}

// StatsGet loads the platform aggregate, zeroed when never written.
func (m *Manager) StatsGet() (*bounty.PlatformStats, error) {
	raw, err := m.db.Get(bountyStatsKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return bounty.NewPlatformStats(), nil
	}
	if err != nil {
		return nil, err
	}
	var rec statsRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: decode stats: %w", err)
	}
	stats := bounty.NewPlatformStats()
	stats.TotalBounties = rec.TotalBounties
	stats.ActiveBounties = rec.ActiveBounties
	stats.CompletedBounties = rec.CompletedBounties
	stats.CancelledBounties = rec.CancelledBounties
	for _, pair := range []struct {
		dst *big.Int
		src string
	}{
		{stats.TotalValueLockedNative, rec.TotalValueLockedNative},
		{stats.TotalValueLockedStable, rec.TotalValueLockedStable},
		{stats.TotalPaidOutNative, rec.TotalPaidOutNative},
		{stats.TotalPaidOutStable, rec.TotalPaidOutStable},
	} {
		if pair.src == "" {
			continue
		}
		if _, ok := pair.dst.SetString(pair.src, 10); !ok {
			return nil, fmt.Errorf("state: corrupt stats total %q", pair.src)
		}
	}
	return bounty.SanitizeStats(stats)
}

// StatsPut stores the platform aggregate after sanity checks.
func (m *Manager) StatsPut(stats *bounty.PlatformStats) error {
	sanitized, err := bounty.SanitizeStats(stats)
	if err != nil {
		return err
	}
	rec := statsRecord{
		TotalBounties:          sanitized.TotalBounties,
		ActiveBounties:         sanitized.ActiveBounties,
		CompletedBounties:      sanitized.CompletedBounties,
		CancelledBounties:      sanitized.CancelledBounties,
		TotalValueLockedNative: sanitized.TotalValueLockedNative.String(),
		TotalValueLockedStable: sanitized.TotalValueLockedStable.String(),
		TotalPaidOutNative:     sanitized.TotalPaidOutNative.String(),
		TotalPaidOutStable:     sanitized.TotalPaidOutStable.String(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: encode stats: %w", err)
	}
	return m.db.Put(bountyStatsKey, raw)
}
