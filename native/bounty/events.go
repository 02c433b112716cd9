package bounty

import (
	"strconv"

	"microbounty/core/types"
)

const (
	EventTypeBountyCreated   = "bounty.created"
	EventTypeWorkSubmitted   = "bounty.work_submitted"
	EventTypeBountyCompleted = "bounty.completed"
	EventTypeBountyCancelled = "bounty.cancelled"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// bounty.
func NewCreatedEvent(b *Bounty) *types.Event {
	attrs := baseAttributes(b)
	if b != nil {
		attrs["creator"] = b.Creator.Hex()
		attrs["paymentToken"] = b.PaymentToken.Hex()
		attrs["category"] = b.Category.String()
	}
	return &types.Event{Type: EventTypeBountyCreated, Attributes: attrs}
}

// NewWorkSubmittedEvent returns the canonical event payload emitted when a
// hunter claims an open bounty.
func NewWorkSubmittedEvent(b *Bounty) *types.Event {
	attrs := make(map[string]string)
	if b != nil {
		attrs["id"] = strconv.FormatUint(b.ID, 10)
		attrs["hunter"] = b.Hunter.Hex()
		attrs["proofUrl"] = b.ProofURL
	}
	return &types.Event{Type: EventTypeWorkSubmitted, Attributes: attrs}
}

// NewCompletedEvent returns the canonical event payload for a reward payout.
func NewCompletedEvent(b *Bounty) *types.Event {
	attrs := baseAttributes(b)
	if b != nil {
		attrs["hunter"] = b.Hunter.Hex()
	}
	return &types.Event{Type: EventTypeBountyCompleted, Attributes: attrs}
}

// NewCancelledEvent returns the canonical event payload for a refunded
// cancellation.
func NewCancelledEvent(b *Bounty) *types.Event {
	attrs := baseAttributes(b)
	if b != nil {
		attrs["creator"] = b.Creator.Hex()
	}
	return &types.Event{Type: EventTypeBountyCancelled, Attributes: attrs}
}

func baseAttributes(b *Bounty) map[string]string {
	attrs := make(map[string]string)
	if b == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(b.ID, 10)
	if b.Reward != nil {
		attrs["reward"] = b.Reward.String()
	}
	return attrs
}
