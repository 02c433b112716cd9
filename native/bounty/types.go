package bounty

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// BountyStatus represents the lifecycle states supported by the bounty ledger.
type BountyStatus uint8

const (
	BountyOpen BountyStatus = iota
	BountyInProgress
	BountyCompleted
	BountyCancelled
)

// Valid reports whether the status value is within the supported range.
func (s BountyStatus) Valid() bool {
	switch s {
	case BountyOpen, BountyInProgress, BountyCompleted, BountyCancelled:
		return true
	default:
		return false
	}
}

// String returns the canonical upper-snake name used in events and RPC
// responses.
func (s BountyStatus) String() string {
	switch s {
	case BountyOpen:
		return "OPEN"
	case BountyInProgress:
		return "IN_PROGRESS"
	case BountyCompleted:
		return "COMPLETED"
	case BountyCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// ParseStatus converts a status name back to its enum value.
func ParseStatus(name string) (BountyStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "OPEN":
		return BountyOpen, nil
	case "IN_PROGRESS":
		return BountyInProgress, nil
	case "COMPLETED":
		return BountyCompleted, nil
	case "CANCELLED":
		return BountyCancelled, nil
	default:
		return 0, fmt.Errorf("bounty: unknown status %q", name)
	}
}

// Category is the closed set of bounty classifications.
type Category uint8

const (
	CategoryDevelopment Category = iota
	CategoryDesign
	CategoryContent
	CategoryBugFix
	CategoryOther
)

// Valid reports whether the category value is within the supported range.
func (c Category) Valid() bool {
	return c <= CategoryOther
}

func (c Category) String() string {
	switch c {
	case CategoryDevelopment:
		return "DEVELOPMENT"
	case CategoryDesign:
		return "DESIGN"
	case CategoryContent:
		return "CONTENT"
	case CategoryBugFix:
		return "BUG_FIX"
	case CategoryOther:
		return "OTHER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// NativeToken is the reserved sentinel identifying the platform's native coin
// as a payment asset. It is never a registry member.
var NativeToken = common.Address{}

const (
	// MaxTitleLen bounds the bounty title; titles must also be non-empty.
	MaxTitleLen = 100
	// MaxDescriptionLen bounds the bounty description.
	MaxDescriptionLen = 1000
	// MaxNotesLen bounds the hunter's submission notes.
	MaxNotesLen = 200
)

// Minimum rewards per asset class. The two constants are independent because
// the native coin and stable tokens use different smallest-unit scales
// (10 vs. 6 decimals); deriving one from the other invites unit bugs.
var (
	MinNativeReward = new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil))
	MinTokenReward  = new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil))
)

// Bounty captures the metadata and runtime status of a single escrowed task.
// Identifiers are sequential and 1-based; every field other than Status obeys
// monotonic fill-in: once set at its transition it never changes.
type Bounty struct {
	ID              uint64
	Creator         common.Address
	Title           string
	Description     string
	Reward          *big.Int
	PaymentToken    common.Address
	Status          BountyStatus
	Hunter          common.Address
	ProofURL        string
	SubmissionNotes string
	CreatedAt       int64
	SubmittedAt     int64
	CompletedAt     int64
	Category        Category
}

// Native reports whether the bounty is denominated in the native coin.
func (b *Bounty) Native() bool {
	return b != nil && b.PaymentToken == NativeToken
}

// Clone returns a deep copy of the bounty so callers can safely mutate the
// copy without affecting the stored instance.
func (b *Bounty) Clone() *Bounty {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Reward != nil {
		clone.Reward = new(big.Int).Set(b.Reward)
	} else {
		clone.Reward = big.NewInt(0)
	}
	return &clone
}

// SanitizeBounty validates a bounty record read from or headed to storage,
// returning a cloned instance with a non-nil reward. The function does not
// mutate the original value.
func SanitizeBounty(b *Bounty) (*Bounty, error) {
	if b == nil {
		return nil, fmt.Errorf("bounty: nil bounty")
	}
	clone := b.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("bounty: id must be positive")
	}
	if clone.Reward.Sign() <= 0 {
		return nil, fmt.Errorf("bounty: reward must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("bounty: invalid status %d", clone.Status)
	}
	if !clone.Category.Valid() {
		return nil, fmt.Errorf("bounty: invalid category %d", clone.Category)
	}
	return clone, nil
}
