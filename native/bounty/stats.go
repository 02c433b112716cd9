package bounty

import (
	"fmt"
	"math/big"
)

// PlatformStats is the single global aggregate derived from ledger
// transitions. It is never independently settable: the engine mutates it in
// lockstep with the transition it summarises and persists the result through
// the same state backend.
type PlatformStats struct {
	TotalBounties     uint64
	ActiveBounties    uint64
	CompletedBounties uint64
	CancelledBounties uint64

	TotalValueLockedNative *big.Int
	TotalValueLockedStable *big.Int
	TotalPaidOutNative     *big.Int
	TotalPaidOutStable     *big.Int
}

// NewPlatformStats returns a zeroed aggregate.
func NewPlatformStats() *PlatformStats {
	return &PlatformStats{
		TotalValueLockedNative: big.NewInt(0),
		TotalValueLockedStable: big.NewInt(0),
		TotalPaidOutNative:     big.NewInt(0),
		TotalPaidOutStable:     big.NewInt(0),
	}
}

// Clone returns a deep copy so callers can hold a snapshot while the engine
// keeps mutating the live record.
func (s *PlatformStats) Clone() *PlatformStats {
	if s == nil {
		return NewPlatformStats()
	}
	clone := &PlatformStats{
		TotalBounties:     s.TotalBounties,
		ActiveBounties:    s.ActiveBounties,
		CompletedBounties: s.CompletedBounties,
		CancelledBounties: s.CancelledBounties,
	}
	clone.TotalValueLockedNative = cloneOrZero(s.TotalValueLockedNative)
	clone.TotalValueLockedStable = cloneOrZero(s.TotalValueLockedStable)
	clone.TotalPaidOutNative = cloneOrZero(s.TotalPaidOutNative)
	clone.TotalPaidOutStable = cloneOrZero(s.TotalPaidOutStable)
	return clone
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// SanitizeStats validates an aggregate read from storage, returning a cloned
// instance with non-nil totals.
func SanitizeStats(s *PlatformStats) (*PlatformStats, error) {
	clone := s.Clone()
	if clone.ActiveBounties != clone.TotalBounties-clone.CompletedBounties-clone.CancelledBounties {
		return nil, fmt.Errorf("bounty: stats counters out of balance")
	}
	for _, v := range []*big.Int{
		clone.TotalValueLockedNative, clone.TotalValueLockedStable,
		clone.TotalPaidOutNative, clone.TotalPaidOutStable,
	} {
		if v.Sign() < 0 {
			return nil, fmt.Errorf("bounty: negative stats total")
		}
	}
	return clone, nil
}

// ParticipantStats aggregates a single identity's marketplace activity.
// Spent totals count completed bounties the identity created (rewards that
// actually left their pocket); earned totals count completed bounties where
// the identity hunted.
type ParticipantStats struct {
	Created            uint64
	CompletedAsCreator uint64
	SpentNative        *big.Int
	SpentStable        *big.Int
	EarnedNative       *big.Int
	EarnedStable       *big.Int
}

// NewParticipantStats returns a zeroed per-identity aggregate.
func NewParticipantStats() *ParticipantStats {
	return &ParticipantStats{
		SpentNative:  big.NewInt(0),
		SpentStable:  big.NewInt(0),
		EarnedNative: big.NewInt(0),
		EarnedStable: big.NewInt(0),
	}
}
