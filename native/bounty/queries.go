package bounty

import (
	"github.com/ethereum/go-ethereum/common"
)

// Get returns a copy of the bounty or ErrNotFound.
func (e *Engine) Get(id uint64) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	b, err := e.loadBounty(id)
	if err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// Count returns the number of bounties ever created.
func (e *Engine) Count() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.BountyCount(), nil
}

// ByStatus lists bounty ids currently in the given status, in creation order.
// Status changes over a bounty's life, so this scans the ledger rather than
// maintaining a mutable index.
func (e *Engine) ByStatus(status BountyStatus) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	total := e.state.BountyCount()
	ids := make([]uint64, 0)
	for id := uint64(1); id <= total; id++ {
		b, ok := e.state.BountyGet(id)
		if !ok {
			continue
		}
		if b.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ByCreator lists bounty ids created by the address, in creation order.
func (e *Engine) ByCreator(addr common.Address) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.BountyIDsByCreator(addr)
}

// ByHunter lists bounty ids where the address submitted the accepted claim.
func (e *Engine) ByHunter(addr common.Address) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.BountyIDsByHunter(addr)
}

// ByToken lists bounty ids denominated in the given payment asset. Pass the
// native sentinel for native-coin bounties.
func (e *Engine) ByToken(token common.Address) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.BountyIDsByToken(token)
}

// ParticipantStats aggregates one identity's activity: bounties created,
// completed as creator, and value spent/earned split by asset class. Spent
// counts only completed bounties; refunds from cancellations never count.
func (e *Engine) ParticipantStats(addr common.Address) (*ParticipantStats, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	out := NewParticipantStats()

	created, err := e.state.BountyIDsByCreator(addr)
	if err != nil {
		return nil, err
	}
	out.Created = uint64(len(created))
	for _, id := range created {
		b, ok := e.state.BountyGet(id)
		if !ok || b.Status != BountyCompleted {
			continue
		}
		out.CompletedAsCreator++
		if b.Native() {
			out.SpentNative.Add(out.SpentNative, b.Reward)
		} else {
			out.SpentStable.Add(out.SpentStable, b.Reward)
		}
	}

	hunted, err := e.state.BountyIDsByHunter(addr)
	if err != nil {
		return nil, err
	}
	for _, id := range hunted {
		b, ok := e.state.BountyGet(id)
		if !ok || b.Status != BountyCompleted {
			continue
		}
		if b.Native() {
			out.EarnedNative.Add(out.EarnedNative, b.Reward)
		} else {
			out.EarnedStable.Add(out.EarnedStable, b.Reward)
		}
	}
	return out, nil
}

// IsTokenSupported reports fungible-token registry membership. The native
// sentinel is not a registry member.
func (e *Engine) IsTokenSupported(token common.Address) bool {
	if e == nil || e.registry == nil {
		return false
	}
	return e.registry.IsTokenSupported(token)
}
