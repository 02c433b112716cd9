package bounty

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// asset is the capability an escrow operation needs from a payment class:
// its minimum reward, moving value into custody, paying value out, and the
// aggregate buckets it belongs to. Dispatching through this interface keeps
// the "is this the zero sentinel" check in exactly one place (assetFor).
type asset interface {
	MinimumReward() *big.Int
	// Collect moves reward into the ledger's custody from the creator,
	// validating the attached native value against the asset's expectation.
	Collect(st engineState, from common.Address, reward, attached *big.Int) error
	// Disburse moves amount out of custody to the recipient.
	Disburse(st engineState, to common.Address, amount *big.Int) error
	// CustodyBalance reports the custody balance backing this asset class.
	CustodyBalance(st engineState) (*big.Int, error)
	// Locked and PaidOut select this asset class's aggregate buckets.
	Locked(stats *PlatformStats) *big.Int
	PaidOut(stats *PlatformStats) *big.Int
}

func assetFor(paymentToken common.Address) asset {
	if paymentToken == NativeToken {
		return nativeAsset{}
	}
	return tokenAsset{token: paymentToken}
}

type nativeAsset struct{}

func (nativeAsset) MinimumReward() *big.Int { return new(big.Int).Set(MinNativeReward) }

func (nativeAsset) Collect(st engineState, from common.Address, reward, attached *big.Int) error {
	if attached == nil {
		attached = big.NewInt(0)
	}
	if attached.Cmp(reward) != 0 {
		return ErrValueMismatch
	}
	if err := st.EscrowCredit(from, reward); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

func (nativeAsset) Disburse(st engineState, to common.Address, amount *big.Int) error {
	if err := st.EscrowDebit(to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

func (nativeAsset) CustodyBalance(st engineState) (*big.Int, error) {
	return st.CustodyNativeBalance()
}

func (nativeAsset) Locked(stats *PlatformStats) *big.Int  { return stats.TotalValueLockedNative }
func (nativeAsset) PaidOut(stats *PlatformStats) *big.Int { return stats.TotalPaidOutNative }

type tokenAsset struct {
	token common.Address
}

func (tokenAsset) MinimumReward() *big.Int { return new(big.Int).Set(MinTokenReward) }

func (a tokenAsset) Collect(st engineState, from common.Address, reward, attached *big.Int) error {
	if attached != nil && attached.Sign() != 0 {
		return ErrUnexpectedValue
	}
	if err := st.TokenEscrowCredit(a.token, from, reward); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

func (a tokenAsset) Disburse(st engineState, to common.Address, amount *big.Int) error {
	if err := st.TokenEscrowDebit(a.token, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

func (a tokenAsset) CustodyBalance(st engineState) (*big.Int, error) {
	return st.CustodyTokenBalance(a.token)
}

func (tokenAsset) Locked(stats *PlatformStats) *big.Int  { return stats.TotalValueLockedStable }
func (tokenAsset) PaidOut(stats *PlatformStats) *big.Int { return stats.TotalPaidOutStable }
