package bounty

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"microbounty/core/events"
	"microbounty/core/types"
)

var (
	errNilState    = errors.New("bounty engine: state not configured")
	errNilRegistry = errors.New("bounty engine: token registry not configured")
	errCustodyGap  = errors.New("bounty engine: locked value exceeds custody balance")
)

// engineState is the storage the engine requires: bounty records, the id
// sequence, append-only participation indices, the platform aggregate, and
// the value-movement primitives for both asset classes. Custody can only be
// funded through the Escrow/TokenEscrow credit paths; the state layer rejects
// any other transfer targeting the vault.
type engineState interface {
	BountyPut(*Bounty) error
	BountyGet(id uint64) (*Bounty, bool)
	BountyCount() uint64
	BountyAllocateID() (uint64, error)

	BountyCreatorIndexAppend(addr common.Address, id uint64) error
	BountyHunterIndexAppend(addr common.Address, id uint64) error
	BountyTokenIndexAppend(token common.Address, id uint64) error
	BountyIDsByCreator(addr common.Address) ([]uint64, error)
	BountyIDsByHunter(addr common.Address) ([]uint64, error)
	BountyIDsByToken(token common.Address) ([]uint64, error)

	StatsGet() (*PlatformStats, error)
	StatsPut(*PlatformStats) error

	EscrowCredit(from common.Address, amount *big.Int) error
	EscrowDebit(to common.Address, amount *big.Int) error
	TokenEscrowCredit(token common.Address, from common.Address, amount *big.Int) error
	TokenEscrowDebit(token common.Address, to common.Address, amount *big.Int) error
	CustodyNativeBalance() (*big.Int, error)
	CustodyTokenBalance(token common.Address) (*big.Int, error)
}

type bountyEvent struct {
	evt *types.Event
}

func (e bountyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bountyEvent) Event() *types.Event { return e.evt }

// Engine wires the bounty escrow logic with external state and event
// emitters. Mutating operations serialize on the engine mutex and run to
// completion one at a time, so racing callers observe a total order: the
// first sequenced call wins and later ones fail their status check cleanly.
// Every precondition failure leaves the ledger and the aggregate untouched.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	registry *TokenRegistry
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a bounty engine bound to the given token registry, with a
// no-op emitter. Callers can override the emitter via SetEmitter.
func NewEngine(registry *TokenRegistry) *Engine {
	return &Engine{
		registry: registry,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(bountyEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	return nil
}

func (e *Engine) loadBounty(id uint64) (*Bounty, error) {
	b, ok := e.state.BountyGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (e *Engine) loadStats() (*PlatformStats, error) {
	stats, err := e.state.StatsGet()
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = NewPlatformStats()
	}
	return stats, nil
}

// assertCustody verifies the running locked total never exceeds the custody
// balance actually held for the asset class. A violation means bookkeeping
// and value movement have drifted apart.
func (e *Engine) assertCustody(a asset, stats *PlatformStats) error {
	held, err := a.CustodyBalance(e.state)
	if err != nil {
		return err
	}
	if a.Locked(stats).Cmp(held) > 0 {
		return errCustodyGap
	}
	return nil
}

// Create escrows a new bounty. Native bounties must attach exactly the reward
// as value; token bounties must attach none and have pre-authorized the
// custody transfer.
func (e *Engine) Create(creator common.Address, title, description string, reward *big.Int, paymentToken common.Address, category Category, attachedValue *big.Int) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if l := len(title); l < 1 || l > MaxTitleLen {
		return nil, ErrTitleLength
	}
	if len(description) == 0 {
		return nil, ErrDescriptionRequired
	}
	if len(description) > MaxDescriptionLen {
		return nil, ErrDescriptionLength
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}
	if !e.registry.IsSupported(paymentToken) {
		return nil, ErrUnsupportedToken
	}
	amount := cloneBigInt(reward)
	a := assetFor(paymentToken)
	if amount.Cmp(a.MinimumReward()) < 0 {
		return nil, ErrRewardTooLow
	}

	// All preconditions hold; value moves first so a transfer failure
	// rejects the creation with nothing recorded.
	if err := a.Collect(e.state, creator, amount, attachedValue); err != nil {
		return nil, err
	}

	id, err := e.state.BountyAllocateID()
	if err != nil {
		return nil, err
	}
	b := &Bounty{
		ID:           id,
		Creator:      creator,
		Title:        title,
		Description:  description,
		Reward:       amount,
		PaymentToken: paymentToken,
		Status:       BountyOpen,
		CreatedAt:    e.now(),
		Category:     category,
	}
	if err := e.state.BountyPut(b); err != nil {
		return nil, err
	}
	if err := e.state.BountyCreatorIndexAppend(creator, id); err != nil {
		return nil, err
	}
	if err := e.state.BountyTokenIndexAppend(paymentToken, id); err != nil {
		return nil, err
	}

	stats, err := e.loadStats()
	if err != nil {
		return nil, err
	}
	stats.TotalBounties++
	stats.ActiveBounties++
	a.Locked(stats).Add(a.Locked(stats), amount)
	if err := e.state.StatsPut(stats); err != nil {
		return nil, err
	}
	if err := e.assertCustody(a, stats); err != nil {
		return nil, err
	}

	e.emit(NewCreatedEvent(b))
	return b.Clone(), nil
}

// SubmitWork claims an open bounty for the caller. The first valid submission
// flips the status away from OPEN and locks out every later one; there is no
// queue of competing submissions.
func (e *Engine) SubmitWork(id uint64, hunter common.Address, proofURL, notes string) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loadBounty(id)
	if err != nil {
		return nil, err
	}
	if b.Status != BountyOpen {
		return nil, ErrNotOpen
	}
	if hunter == b.Creator {
		return nil, ErrSelfSubmission
	}
	if len(proofURL) == 0 {
		return nil, ErrProofRequired
	}
	if len(notes) > MaxNotesLen {
		return nil, ErrNotesTooLong
	}

	b.Hunter = hunter
	b.ProofURL = proofURL
	b.SubmissionNotes = notes
	b.SubmittedAt = e.now()
	b.Status = BountyInProgress
	if err := e.state.BountyPut(b); err != nil {
		return nil, err
	}
	if err := e.state.BountyHunterIndexAppend(hunter, id); err != nil {
		return nil, err
	}

	e.emit(NewWorkSubmittedEvent(b))
	return b.Clone(), nil
}

// Approve releases the escrowed reward to the hunter and completes the
// bounty. The payout transfer and the bookkeeping form one atomic unit: a
// failed transfer leaves status and aggregates untouched.
func (e *Engine) Approve(id uint64, caller common.Address) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loadBounty(id)
	if err != nil {
		return nil, err
	}
	if caller != b.Creator {
		return nil, ErrNotCreator
	}
	if b.Status != BountyInProgress {
		return nil, ErrNotInProgress
	}

	a := assetFor(b.PaymentToken)
	if err := a.Disburse(e.state, b.Hunter, b.Reward); err != nil {
		return nil, err
	}

	b.Status = BountyCompleted
	b.CompletedAt = e.now()
	if err := e.state.BountyPut(b); err != nil {
		return nil, err
	}

	stats, err := e.loadStats()
	if err != nil {
		return nil, err
	}
	stats.ActiveBounties--
	stats.CompletedBounties++
	a.Locked(stats).Sub(a.Locked(stats), b.Reward)
	a.PaidOut(stats).Add(a.PaidOut(stats), b.Reward)
	if err := e.state.StatsPut(stats); err != nil {
		return nil, err
	}
	if err := e.assertCustody(a, stats); err != nil {
		return nil, err
	}

	e.emit(NewCompletedEvent(b))
	return b.Clone(), nil
}

// Cancel refunds an open bounty to its creator. Cancellation is deliberately
// unavailable once a submission exists: the only path forward from
// IN_PROGRESS is Approve. A refund is categorically distinct from a payout
// and never touches the paid-out totals.
func (e *Engine) Cancel(id uint64, caller common.Address) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loadBounty(id)
	if err != nil {
		return nil, err
	}
	if caller != b.Creator {
		return nil, ErrNotCreator
	}
	if b.Status != BountyOpen {
		return nil, ErrNotCancellable
	}

	a := assetFor(b.PaymentToken)
	if err := a.Disburse(e.state, b.Creator, b.Reward); err != nil {
		return nil, err
	}

	b.Status = BountyCancelled
	if err := e.state.BountyPut(b); err != nil {
		return nil, err
	}

	stats, err := e.loadStats()
	if err != nil {
		return nil, err
	}
	stats.ActiveBounties--
	stats.CancelledBounties++
	a.Locked(stats).Sub(a.Locked(stats), b.Reward)
	if err := e.state.StatsPut(stats); err != nil {
		return nil, err
	}
	if err := e.assertCustody(a, stats); err != nil {
		return nil, err
	}

	e.emit(NewCancelledEvent(b))
	return b.Clone(), nil
}

// PlatformStats returns a snapshot of the global aggregate.
func (e *Engine) PlatformStats() (*PlatformStats, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	stats, err := e.loadStats()
	if err != nil {
		return nil, err
	}
	return stats.Clone(), nil
}

// Registry exposes the engine's token registry for read-only checks.
func (e *Engine) Registry() *TokenRegistry {
	if e == nil {
		return nil
	}
	return e.registry
}

// CheckCustody re-derives the custody invariant for both asset classes and
// every registered token. Exposed so operators and tests can verify the
// running locked totals against actual custody at any point.
func (e *Engine) CheckCustody() error {
	if err := e.ready(); err != nil {
		return err
	}
	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	if err := e.assertCustody(nativeAsset{}, stats); err != nil {
		return fmt.Errorf("native: %w", err)
	}
	stableLocked := big.NewInt(0)
	for _, token := range e.registry.Tokens() {
		held, err := e.state.CustodyTokenBalance(token)
		if err != nil {
			return err
		}
		stableLocked.Add(stableLocked, held)
	}
	if stats.TotalValueLockedStable.Cmp(stableLocked) > 0 {
		return fmt.Errorf("stable: %w", errCustodyGap)
	}
	return nil
}
