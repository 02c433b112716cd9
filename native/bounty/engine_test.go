package bounty

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"microbounty/core/events"
	"microbounty/core/types"
)

type mockState struct {
	bounties   map[uint64]*Bounty
	seq        uint64
	native     map[common.Address]*big.Int
	tokens     map[common.Address]map[common.Address]*big.Int
	allowances map[string]*big.Int
	byCreator  map[common.Address][]uint64
	byHunter   map[common.Address][]uint64
	byToken    map[common.Address][]uint64
	stats      *PlatformStats
	vault      common.Address

	failDisburse bool
}

func newMockState() *mockState {
	return &mockState{
		bounties:   make(map[uint64]*Bounty),
		native:     make(map[common.Address]*big.Int),
		tokens:     make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[string]*big.Int),
		byCreator:  make(map[common.Address][]uint64),
		byHunter:   make(map[common.Address][]uint64),
		byToken:    make(map[common.Address][]uint64),
		stats:      NewPlatformStats(),
		vault:      newTestAddress(0xEE),
	}
}

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, common.AddressLength))
	return addr
}

func (m *mockState) BountyPut(b *Bounty) error {
	sanitized, err := SanitizeBounty(b)
	if err != nil {
		return err
	}
	m.bounties[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) BountyGet(id uint64) (*Bounty, bool) {
	b, ok := m.bounties[id]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

func (m *mockState) BountyCount() uint64 { return m.seq }

func (m *mockState) BountyAllocateID() (uint64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockState) BountyCreatorIndexAppend(addr common.Address, id uint64) error {
	m.byCreator[addr] = append(m.byCreator[addr], id)
	return nil
}

func (m *mockState) BountyHunterIndexAppend(addr common.Address, id uint64) error {
	m.byHunter[addr] = append(m.byHunter[addr], id)
	return nil
}

func (m *mockState) BountyTokenIndexAppend(token common.Address, id uint64) error {
	m.byToken[token] = append(m.byToken[token], id)
	return nil
}

func (m *mockState) BountyIDsByCreator(addr common.Address) ([]uint64, error) {
	return append([]uint64{}, m.byCreator[addr]...), nil
}

func (m *mockState) BountyIDsByHunter(addr common.Address) ([]uint64, error) {
	return append([]uint64{}, m.byHunter[addr]...), nil
}

func (m *mockState) BountyIDsByToken(token common.Address) ([]uint64, error) {
	return append([]uint64{}, m.byToken[token]...), nil
}

func (m *mockState) StatsGet() (*PlatformStats, error) { return m.stats.Clone(), nil }

func (m *mockState) StatsPut(stats *PlatformStats) error {
	sanitized, err := SanitizeStats(stats)
	if err != nil {
		return err
	}
	m.stats = sanitized
	return nil
}

func (m *mockState) balance(addr common.Address) *big.Int {
	if v, ok := m.native[addr]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (m *mockState) setBalance(addr common.Address, v *big.Int) {
	m.native[addr] = new(big.Int).Set(v)
}

func (m *mockState) EscrowCredit(from common.Address, amount *big.Int) error {
	bal := m.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.native[from] = bal.Sub(bal, amount)
	m.native[m.vault] = new(big.Int).Add(m.balance(m.vault), amount)
	return nil
}

func (m *mockState) EscrowDebit(to common.Address, amount *big.Int) error {
	if m.failDisburse {
		return fmt.Errorf("transfer rejected")
	}
	bal := m.balance(m.vault)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient custody balance")
	}
	m.native[m.vault] = bal.Sub(bal, amount)
	m.native[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

func allowKey(token, owner common.Address) string {
	return token.Hex() + "/" + owner.Hex()
}

func (m *mockState) tokenBalance(token, holder common.Address) *big.Int {
	if held, ok := m.tokens[token]; ok {
		if v, ok := held[holder]; ok {
			return new(big.Int).Set(v)
		}
	}
	return big.NewInt(0)
}

func (m *mockState) setTokenBalance(token, holder common.Address, v *big.Int) {
	if _, ok := m.tokens[token]; !ok {
		m.tokens[token] = make(map[common.Address]*big.Int)
	}
	m.tokens[token][holder] = new(big.Int).Set(v)
}

func (m *mockState) setAllowance(token, owner common.Address, v *big.Int) {
	m.allowances[allowKey(token, owner)] = new(big.Int).Set(v)
}

func (m *mockState) TokenEscrowCredit(token, from common.Address, amount *big.Int) error {
	allowance, ok := m.allowances[allowKey(token, from)]
	if !ok || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient allowance")
	}
	bal := m.tokenBalance(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.allowances[allowKey(token, from)] = new(big.Int).Sub(allowance, amount)
	m.setTokenBalance(token, from, bal.Sub(bal, amount))
	m.setTokenBalance(token, m.vault, new(big.Int).Add(m.tokenBalance(token, m.vault), amount))
	return nil
}

func (m *mockState) TokenEscrowDebit(token, to common.Address, amount *big.Int) error {
	if m.failDisburse {
		return fmt.Errorf("transfer rejected")
	}
	bal := m.tokenBalance(token, m.vault)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient custody balance")
	}
	m.setTokenBalance(token, m.vault, bal.Sub(bal, amount))
	m.setTokenBalance(token, to, new(big.Int).Add(m.tokenBalance(token, to), amount))
	return nil
}

func (m *mockState) CustodyNativeBalance() (*big.Int, error) {
	return m.balance(m.vault), nil
}

func (m *mockState) CustodyTokenBalance(token common.Address) (*big.Int, error) {
	return m.tokenBalance(token, m.vault), nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesEvents() []*types.Event {
	out := make([]*types.Event, 0, len(c.events))
	for _, evt := range c.events {
		if wrapper, ok := evt.(bountyEvent); ok && wrapper.evt != nil {
			out = append(out, wrapper.evt)
		}
	}
	return out
}

var (
	testUSDC = newTestAddress(0xC0)
	testUSDT = newTestAddress(0xC1)
)

func newTestEngine(t *testing.T, state *mockState) *Engine {
	t.Helper()
	registry, err := NewTokenRegistry([]common.Address{testUSDC, testUSDT})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	engine := NewEngine(registry)
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine
}

func fundNative(state *mockState, addr common.Address, units int64) {
	state.setBalance(addr, new(big.Int).Mul(MinNativeReward, big.NewInt(units)))
}

func fundToken(state *mockState, token, addr common.Address, units int64) {
	amount := new(big.Int).Mul(MinTokenReward, big.NewInt(units))
	state.setTokenBalance(token, addr, amount)
	state.setAllowance(token, addr, amount)
}

func createNative(t *testing.T, engine *Engine, creator common.Address) *Bounty {
	t.Helper()
	b, err := engine.Create(creator, "Test Bounty", "A description for the test bounty", MinNativeReward, NativeToken, CategoryDevelopment, MinNativeReward)
	if err != nil {
		t.Fatalf("create native bounty: %v", err)
	}
	return b
}

func createToken(t *testing.T, engine *Engine, creator common.Address, token common.Address) *Bounty {
	t.Helper()
	b, err := engine.Create(creator, "Stable Bounty", "A description for the stable bounty", MinTokenReward, token, CategoryDesign, nil)
	if err != nil {
		t.Fatalf("create token bounty: %v", err)
	}
	return b
}

func TestCreateValidations(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	fundNative(state, creator, 10)

	longTitle := string(bytes.Repeat([]byte{'a'}, MaxTitleLen+1))
	longDesc := string(bytes.Repeat([]byte{'d'}, MaxDescriptionLen+1))
	belowNative := new(big.Int).Sub(MinNativeReward, big.NewInt(1))
	unknownToken := newTestAddress(0xDD)

	cases := []struct {
		name     string
		title    string
		desc     string
		reward   *big.Int
		token    common.Address
		category Category
		attached *big.Int
		wantErr  error
	}{
		{"empty title", "", "desc", MinNativeReward, NativeToken, CategoryOther, MinNativeReward, ErrTitleLength},
		{"title too long", longTitle, "desc", MinNativeReward, NativeToken, CategoryOther, MinNativeReward, ErrTitleLength},
		{"empty description", "Title", "", MinNativeReward, NativeToken, CategoryOther, MinNativeReward, ErrDescriptionRequired},
		{"description too long", "Title", longDesc, MinNativeReward, NativeToken, CategoryOther, MinNativeReward, ErrDescriptionLength},
		{"invalid category", "Title", "desc", MinNativeReward, NativeToken, Category(5), MinNativeReward, ErrInvalidCategory},
		{"unsupported token", "Title", "desc", MinTokenReward, unknownToken, CategoryOther, nil, ErrUnsupportedToken},
		{"reward below native minimum", "Title", "desc", belowNative, NativeToken, CategoryOther, belowNative, ErrRewardTooLow},
		{"zero reward", "Title", "desc", big.NewInt(0), NativeToken, CategoryOther, big.NewInt(0), ErrRewardTooLow},
		{"value mismatch", "Title", "desc", MinNativeReward, NativeToken, CategoryOther, belowNative, ErrValueMismatch},
		{"unexpected value with token", "Title", "desc", MinTokenReward, testUSDC, CategoryOther, big.NewInt(1), ErrUnexpectedValue},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := snapshot(t, engine)
			_, err := engine.Create(creator, tc.title, tc.desc, tc.reward, tc.token, tc.category, tc.attached)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			requireUnchanged(t, engine, before)
			if state.seq != 0 {
				t.Fatalf("rejected create must not allocate an id")
			}
		})
	}
}

func TestCreateNativeBounty(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	creator := newTestAddress(0x01)
	fundNative(state, creator, 3)

	b := createNative(t, engine, creator)
	if b.ID != 1 {
		t.Fatalf("expected id 1, got %d", b.ID)
	}
	if b.Status != BountyOpen {
		t.Fatalf("expected OPEN, got %s", b.Status)
	}
	if b.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected createdAt: %d", b.CreatedAt)
	}
	if got := state.balance(state.vault); got.Cmp(MinNativeReward) != 0 {
		t.Fatalf("expected custody %s, got %s", MinNativeReward, got)
	}

	stats, err := engine.PlatformStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalBounties != 1 || stats.ActiveBounties != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.TotalValueLockedNative.Cmp(MinNativeReward) != 0 {
		t.Fatalf("unexpected locked native: %s", stats.TotalValueLockedNative)
	}

	evts := emitter.typesEvents()
	if len(evts) != 1 || evts[0].Type != EventTypeBountyCreated {
		t.Fatalf("expected created event, got %v", evts)
	}
	if evts[0].Attributes["id"] != "1" || evts[0].Attributes["creator"] != creator.Hex() {
		t.Fatalf("unexpected event attributes: %v", evts[0].Attributes)
	}
	if evts[0].Attributes["category"] != "DEVELOPMENT" {
		t.Fatalf("unexpected category attribute: %v", evts[0].Attributes)
	}
}

func TestCreateTokenBountyPullsFromCreator(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x02)
	fundToken(state, testUSDC, creator, 5)

	before := state.tokenBalance(testUSDC, creator)
	createToken(t, engine, creator, testUSDC)

	want := new(big.Int).Sub(before, MinTokenReward)
	if got := state.tokenBalance(testUSDC, creator); got.Cmp(want) != 0 {
		t.Fatalf("expected creator balance %s, got %s", want, got)
	}
	if got := state.tokenBalance(testUSDC, state.vault); got.Cmp(MinTokenReward) != 0 {
		t.Fatalf("expected custody %s, got %s", MinTokenReward, got)
	}
	stats, _ := engine.PlatformStats()
	if stats.TotalValueLockedStable.Cmp(MinTokenReward) != 0 {
		t.Fatalf("unexpected locked stable: %s", stats.TotalValueLockedStable)
	}
}

func TestCreateTokenBountyRequiresAllowanceAndBalance(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x03)

	// Balance present, no allowance.
	state.setTokenBalance(testUSDC, creator, MinTokenReward)
	before := snapshot(t, engine)
	_, err := engine.Create(creator, "Title", "desc", MinTokenReward, testUSDC, CategoryOther, nil)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	requireUnchanged(t, engine, before)

	// Allowance present, no balance.
	state.setTokenBalance(testUSDC, creator, big.NewInt(0))
	state.setAllowance(testUSDC, creator, MinTokenReward)
	_, err = engine.Create(creator, "Title", "desc", MinTokenReward, testUSDC, CategoryOther, nil)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	requireUnchanged(t, engine, before)
}

func TestSubmitWork(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	emitter := &capturingEmitter{}
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	fundNative(state, creator, 2)
	createNative(t, engine, creator)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_100 })

	b, err := engine.SubmitWork(1, hunter, "https://github.com/pr/1", "Done")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if b.Status != BountyInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", b.Status)
	}
	if b.Hunter != hunter || b.ProofURL != "https://github.com/pr/1" || b.SubmissionNotes != "Done" {
		t.Fatalf("submission fields not stored: %+v", b)
	}
	if b.SubmittedAt != 1_700_000_100 {
		t.Fatalf("unexpected submittedAt: %d", b.SubmittedAt)
	}

	ids, err := engine.ByHunter(hunter)
	if err != nil || !reflect.DeepEqual(ids, []uint64{1}) {
		t.Fatalf("hunter index: %v %v", ids, err)
	}
	evts := emitter.typesEvents()
	if len(evts) != 1 || evts[0].Type != EventTypeWorkSubmitted {
		t.Fatalf("expected submission event, got %v", evts)
	}

	// No value moves on submission.
	stats, _ := engine.PlatformStats()
	if stats.ActiveBounties != 1 || stats.TotalValueLockedNative.Cmp(MinNativeReward) != 0 {
		t.Fatalf("submission must not move value: %+v", stats)
	}
}

func TestSubmitWorkRejections(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	other := newTestAddress(0x03)
	fundNative(state, creator, 2)
	createNative(t, engine, creator)

	longNotes := string(bytes.Repeat([]byte{'n'}, MaxNotesLen+1))

	cases := []struct {
		name    string
		id      uint64
		caller  common.Address
		proof   string
		notes   string
		wantErr error
	}{
		{"missing bounty", 999, hunter, "https://proof.url", "", ErrNotFound},
		{"creator self-submission", 1, creator, "https://proof.url", "", ErrSelfSubmission},
		{"empty proof", 1, hunter, "", "", ErrProofRequired},
		{"notes too long", 1, hunter, "https://proof.url", longNotes, ErrNotesTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := snapshot(t, engine)
			_, err := engine.SubmitWork(tc.id, tc.caller, tc.proof, tc.notes)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			requireUnchanged(t, engine, before)
		})
	}

	// First valid submission locks out the rest.
	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := engine.SubmitWork(1, other, "https://other.url", ""); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	b, _ := engine.Get(1)
	if b.Hunter != hunter {
		t.Fatalf("second submission must not steal the claim")
	}
}

func TestApproveNativeBounty(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	emitter := &capturingEmitter{}
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	fundNative(state, creator, 2)
	createNative(t, engine, creator)
	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_200 })

	before := state.balance(hunter)
	b, err := engine.Approve(1, creator)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if b.Status != BountyCompleted || b.CompletedAt != 1_700_000_200 {
		t.Fatalf("unexpected completion state: %+v", b)
	}
	gained := new(big.Int).Sub(state.balance(hunter), before)
	if gained.Cmp(MinNativeReward) != 0 {
		t.Fatalf("hunter should gain exactly the reward, got %s", gained)
	}

	stats, _ := engine.PlatformStats()
	if stats.TotalValueLockedNative.Sign() != 0 {
		t.Fatalf("locked native should be zero, got %s", stats.TotalValueLockedNative)
	}
	if stats.TotalPaidOutNative.Cmp(MinNativeReward) != 0 {
		t.Fatalf("unexpected paid out: %s", stats.TotalPaidOutNative)
	}
	if stats.ActiveBounties != 0 || stats.CompletedBounties != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	evts := emitter.typesEvents()
	if len(evts) != 1 || evts[0].Type != EventTypeBountyCompleted {
		t.Fatalf("expected completion event, got %v", evts)
	}
	if err := engine.CheckCustody(); err != nil {
		t.Fatalf("custody invariant: %v", err)
	}
}

func TestApproveTokenBounty(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	fundToken(state, testUSDC, creator, 2)
	createToken(t, engine, creator, testUSDC)
	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := engine.Approve(1, creator); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := state.tokenBalance(testUSDC, hunter); got.Cmp(MinTokenReward) != 0 {
		t.Fatalf("expected hunter to receive %s, got %s", MinTokenReward, got)
	}
	stats, _ := engine.PlatformStats()
	if stats.TotalValueLockedStable.Sign() != 0 || stats.TotalPaidOutStable.Cmp(MinTokenReward) != 0 {
		t.Fatalf("unexpected stable totals: %+v", stats)
	}
}

func TestApproveRejections(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	other := newTestAddress(0x03)
	fundNative(state, creator, 2)
	createNative(t, engine, creator)

	before := snapshot(t, engine)
	if _, err := engine.Approve(1, creator); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("approve on OPEN should fail with state error, got %v", err)
	}
	requireUnchanged(t, engine, before)

	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	before = snapshot(t, engine)
	if _, err := engine.Approve(1, other); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}
	requireUnchanged(t, engine, before)

	if _, err := engine.Approve(1, creator); err != nil {
		t.Fatalf("approve: %v", err)
	}
	before = snapshot(t, engine)
	hunterBalance := state.balance(hunter)
	if _, err := engine.Approve(1, creator); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("double approve should fail, got %v", err)
	}
	requireUnchanged(t, engine, before)
	if state.balance(hunter).Cmp(hunterBalance) != 0 {
		t.Fatalf("double approve must not pay twice")
	}
}

func TestApproveRollsBackOnTransferFailure(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	fundNative(state, creator, 2)
	createNative(t, engine, creator)
	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	state.failDisburse = true
	before := snapshot(t, engine)
	_, err := engine.Approve(1, creator)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	requireUnchanged(t, engine, before)
	b, _ := engine.Get(1)
	if b.Status != BountyInProgress {
		t.Fatalf("failed transfer must not change status, got %s", b.Status)
	}

	state.failDisburse = false
	if _, err := engine.Approve(1, creator); err != nil {
		t.Fatalf("approve after recovery: %v", err)
	}
}

func TestCancelNativeBounty(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	emitter := &capturingEmitter{}
	creator := newTestAddress(0x01)
	fundNative(state, creator, 1)
	createNative(t, engine, creator)
	engine.SetEmitter(emitter)

	b, err := engine.Cancel(1, creator)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b.Status != BountyCancelled {
		t.Fatalf("expected CANCELLED, got %s", b.Status)
	}
	if got := state.balance(creator); got.Cmp(MinNativeReward) != 0 {
		t.Fatalf("creator should be refunded in full, got %s", got)
	}
	stats, _ := engine.PlatformStats()
	if stats.TotalValueLockedNative.Sign() != 0 {
		t.Fatalf("locked native should be zero, got %s", stats.TotalValueLockedNative)
	}
	if stats.TotalPaidOutNative.Sign() != 0 {
		t.Fatalf("a refund is not a payout: %s", stats.TotalPaidOutNative)
	}
	if stats.ActiveBounties != 0 || stats.CancelledBounties != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	evts := emitter.typesEvents()
	if len(evts) != 1 || evts[0].Type != EventTypeBountyCancelled {
		t.Fatalf("expected cancellation event, got %v", evts)
	}
}

func TestCancelRejections(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	other := newTestAddress(0x03)
	fundNative(state, creator, 2)
	createNative(t, engine, creator)

	before := snapshot(t, engine)
	if _, err := engine.Cancel(1, other); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}
	requireUnchanged(t, engine, before)

	if _, err := engine.Cancel(999, creator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Once a submission exists the creator cannot reclaim funds; the only
	// path forward from IN_PROGRESS is Approve.
	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	before = snapshot(t, engine)
	if _, err := engine.Cancel(1, creator); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
	requireUnchanged(t, engine, before)
}

func TestDoubleCancelFails(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	fundNative(state, creator, 1)
	createNative(t, engine, creator)

	if _, err := engine.Cancel(1, creator); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before := snapshot(t, engine)
	creatorBalance := state.balance(creator)
	if _, err := engine.Cancel(1, creator); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("double cancel should fail, got %v", err)
	}
	requireUnchanged(t, engine, before)
	if state.balance(creator).Cmp(creatorBalance) != 0 {
		t.Fatalf("double cancel must not refund twice")
	}
}

// TestPlatformStatsAcrossLifecycle drives the mixed scenario from the
// original marketplace: two native bounties and one stablecoin bounty moving
// through approve and cancel, with the conservation invariants re-checked
// after every operation.
func TestPlatformStatsAcrossLifecycle(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	fundNative(state, creator, 4)
	fundToken(state, testUSDC, creator, 2)

	check := func(stage string) {
		t.Helper()
		stats, err := engine.PlatformStats()
		if err != nil {
			t.Fatalf("%s: stats: %v", stage, err)
		}
		if stats.ActiveBounties != stats.TotalBounties-stats.CompletedBounties-stats.CancelledBounties {
			t.Fatalf("%s: counter conservation violated: %+v", stage, stats)
		}
		lockedNative, lockedStable := big.NewInt(0), big.NewInt(0)
		total, _ := engine.Count()
		for id := uint64(1); id <= total; id++ {
			b, _ := engine.Get(id)
			if b.Status != BountyOpen && b.Status != BountyInProgress {
				continue
			}
			if b.Native() {
				lockedNative.Add(lockedNative, b.Reward)
			} else {
				lockedStable.Add(lockedStable, b.Reward)
			}
		}
		if stats.TotalValueLockedNative.Cmp(lockedNative) != 0 {
			t.Fatalf("%s: locked native drifted: have %s want %s", stage, stats.TotalValueLockedNative, lockedNative)
		}
		if stats.TotalValueLockedStable.Cmp(lockedStable) != 0 {
			t.Fatalf("%s: locked stable drifted: have %s want %s", stage, stats.TotalValueLockedStable, lockedStable)
		}
		if err := engine.CheckCustody(); err != nil {
			t.Fatalf("%s: custody invariant: %v", stage, err)
		}
	}

	createNative(t, engine, creator) // #1
	check("create #1")
	createNative(t, engine, creator) // #2
	check("create #2")
	createToken(t, engine, creator, testUSDC) // #3
	check("create #3")

	stats, _ := engine.PlatformStats()
	if stats.TotalBounties != 3 || stats.ActiveBounties != 3 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	wantNative := new(big.Int).Mul(MinNativeReward, big.NewInt(2))
	if stats.TotalValueLockedNative.Cmp(wantNative) != 0 {
		t.Fatalf("unexpected locked native: %s", stats.TotalValueLockedNative)
	}

	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit #1: %v", err)
	}
	check("submit #1")
	if _, err := engine.Approve(1, creator); err != nil {
		t.Fatalf("approve #1: %v", err)
	}
	check("approve #1")

	if _, err := engine.Cancel(2, creator); err != nil {
		t.Fatalf("cancel #2: %v", err)
	}
	check("cancel #2")

	if _, err := engine.SubmitWork(3, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit #3: %v", err)
	}
	check("submit #3")
	if _, err := engine.Approve(3, creator); err != nil {
		t.Fatalf("approve #3: %v", err)
	}
	check("approve #3")

	stats, _ = engine.PlatformStats()
	if stats.ActiveBounties != 0 || stats.CompletedBounties != 2 || stats.CancelledBounties != 1 {
		t.Fatalf("unexpected terminal counters: %+v", stats)
	}
	if stats.TotalPaidOutNative.Cmp(MinNativeReward) != 0 {
		t.Fatalf("only #1 pays out native: %s", stats.TotalPaidOutNative)
	}
	if stats.TotalPaidOutStable.Cmp(MinTokenReward) != 0 {
		t.Fatalf("only #3 pays out stable: %s", stats.TotalPaidOutStable)
	}
}

func TestQueries(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	fundNative(state, creator, 2)
	fundToken(state, testUSDC, creator, 1)

	createNative(t, engine, creator)          // #1
	createNative(t, engine, creator)          // #2
	createToken(t, engine, creator, testUSDC) // #3
	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	open, err := engine.ByStatus(BountyOpen)
	if err != nil || !reflect.DeepEqual(open, []uint64{2, 3}) {
		t.Fatalf("open ids: %v %v", open, err)
	}
	inProgress, err := engine.ByStatus(BountyInProgress)
	if err != nil || !reflect.DeepEqual(inProgress, []uint64{1}) {
		t.Fatalf("in-progress ids: %v %v", inProgress, err)
	}

	created, err := engine.ByCreator(creator)
	if err != nil || !reflect.DeepEqual(created, []uint64{1, 2, 3}) {
		t.Fatalf("creator ids: %v %v", created, err)
	}
	hunted, err := engine.ByHunter(hunter)
	if err != nil || !reflect.DeepEqual(hunted, []uint64{1}) {
		t.Fatalf("hunter ids: %v %v", hunted, err)
	}

	nativeIDs, err := engine.ByToken(NativeToken)
	if err != nil || !reflect.DeepEqual(nativeIDs, []uint64{1, 2}) {
		t.Fatalf("native ids: %v %v", nativeIDs, err)
	}
	usdcIDs, err := engine.ByToken(testUSDC)
	if err != nil || !reflect.DeepEqual(usdcIDs, []uint64{3}) {
		t.Fatalf("usdc ids: %v %v", usdcIDs, err)
	}

	count, err := engine.Count()
	if err != nil || count != 3 {
		t.Fatalf("count: %d %v", count, err)
	}
	if _, err := engine.Get(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = engine.ByStatus(BountyStatus(9))
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if Kind(err) != KindValidation {
		t.Fatalf("malformed status must classify as validation, got %s", Kind(err))
	}
}

func TestParticipantStats(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	fundNative(state, creator, 3)
	fundToken(state, testUSDC, creator, 1)

	createNative(t, engine, creator)          // #1 → completed
	createNative(t, engine, creator)          // #2 → cancelled
	createToken(t, engine, creator, testUSDC) // #3 → completed
	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := engine.Approve(1, creator); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.Cancel(2, creator); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := engine.SubmitWork(3, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := engine.Approve(3, creator); err != nil {
		t.Fatalf("approve: %v", err)
	}

	cs, err := engine.ParticipantStats(creator)
	if err != nil {
		t.Fatalf("creator stats: %v", err)
	}
	if cs.Created != 3 || cs.CompletedAsCreator != 2 {
		t.Fatalf("unexpected creator counters: %+v", cs)
	}
	if cs.SpentNative.Cmp(MinNativeReward) != 0 {
		t.Fatalf("cancelled bounty must not count as spend: %s", cs.SpentNative)
	}
	if cs.SpentStable.Cmp(MinTokenReward) != 0 {
		t.Fatalf("unexpected stable spend: %s", cs.SpentStable)
	}

	hs, err := engine.ParticipantStats(hunter)
	if err != nil {
		t.Fatalf("hunter stats: %v", err)
	}
	if hs.Created != 0 || hs.EarnedNative.Cmp(MinNativeReward) != 0 || hs.EarnedStable.Cmp(MinTokenReward) != 0 {
		t.Fatalf("unexpected hunter stats: %+v", hs)
	}
}

// slowDisburseState widens the window between an operation's status check and
// its payout so racing callers overlap unless the engine sequences them.
type slowDisburseState struct {
	*mockState
}

func (s *slowDisburseState) EscrowDebit(to common.Address, amount *big.Int) error {
	time.Sleep(5 * time.Millisecond)
	return s.mockState.EscrowDebit(to, amount)
}

func TestConcurrentApprovesPayOnce(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	hunter := newTestAddress(0x02)
	fundNative(state, creator, 1)
	createNative(t, engine, creator)
	if _, err := engine.SubmitWork(1, hunter, "https://proof.url", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.SetState(&slowDisburseState{mockState: state})

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Approve(1, creator)
		}(i)
	}
	wg.Wait()

	successes := 0
	for i, err := range errs {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, ErrNotInProgress) {
			t.Fatalf("caller %d: losers must fail the status check, got %v", i, err)
		}
	}
	if successes != 1 {
		t.Fatalf("exactly one approve must win, got %d", successes)
	}
	if got := state.balance(hunter); got.Cmp(MinNativeReward) != 0 {
		t.Fatalf("hunter must be paid exactly once, got %s", got)
	}
	stats, _ := engine.PlatformStats()
	if stats.TotalPaidOutNative.Cmp(MinNativeReward) != 0 || stats.CompletedBounties != 1 {
		t.Fatalf("aggregate recorded more than one payout: %+v", stats)
	}
	if err := engine.CheckCustody(); err != nil {
		t.Fatalf("custody invariant: %v", err)
	}
}

func TestConcurrentSubmissionsSingleHunter(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	fundNative(state, creator, 1)
	createNative(t, engine, creator)

	const hunters = 8
	errs := make([]error, hunters)
	var wg sync.WaitGroup
	wg.Add(hunters)
	for i := 0; i < hunters; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.SubmitWork(1, newTestAddress(byte(0x10+i)), "https://proof.url", "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for i, err := range errs {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, ErrNotOpen) {
			t.Fatalf("hunter %d: losers must see a non-open bounty, got %v", i, err)
		}
	}
	if successes != 1 {
		t.Fatalf("exactly one submission must win, got %d", successes)
	}
	b, _ := engine.Get(1)
	if b.Status != BountyInProgress || b.Hunter == (common.Address{}) {
		t.Fatalf("winner not recorded: %+v", b)
	}
}

func TestConcurrentCancelsRefundOnce(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(t, state)
	creator := newTestAddress(0x01)
	fundNative(state, creator, 1)
	createNative(t, engine, creator)
	engine.SetState(&slowDisburseState{mockState: state})

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Cancel(1, creator)
		}(i)
	}
	wg.Wait()

	successes := 0
	for i, err := range errs {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, ErrNotCancellable) {
			t.Fatalf("caller %d: losers must fail the status check, got %v", i, err)
		}
	}
	if successes != 1 {
		t.Fatalf("exactly one cancel must win, got %d", successes)
	}
	if got := state.balance(creator); got.Cmp(MinNativeReward) != 0 {
		t.Fatalf("creator must be refunded exactly once, got %s", got)
	}
}

// snapshot captures everything a failed operation must leave untouched.
type engineSnapshot struct {
	stats    *PlatformStats
	statuses map[uint64]BountyStatus
	custody  *big.Int
}

func snapshot(t *testing.T, engine *Engine) engineSnapshot {
	t.Helper()
	stats, err := engine.PlatformStats()
	if err != nil {
		t.Fatalf("snapshot stats: %v", err)
	}
	statuses := make(map[uint64]BountyStatus)
	total, _ := engine.Count()
	for id := uint64(1); id <= total; id++ {
		b, err := engine.Get(id)
		if err != nil {
			t.Fatalf("snapshot bounty %d: %v", id, err)
		}
		statuses[id] = b.Status
	}
	custody, err := engine.state.CustodyNativeBalance()
	if err != nil {
		t.Fatalf("snapshot custody: %v", err)
	}
	return engineSnapshot{stats: stats, statuses: statuses, custody: custody}
}

func requireUnchanged(t *testing.T, engine *Engine, before engineSnapshot) {
	t.Helper()
	after := snapshot(t, engine)
	if !reflect.DeepEqual(before.stats, after.stats) {
		t.Fatalf("aggregate changed on a rejected call:\nbefore %+v\nafter  %+v", before.stats, after.stats)
	}
	if !reflect.DeepEqual(before.statuses, after.statuses) {
		t.Fatalf("bounty statuses changed on a rejected call")
	}
	if before.custody.Cmp(after.custody) != 0 {
		t.Fatalf("custody changed on a rejected call: %s -> %s", before.custody, after.custody)
	}
}
