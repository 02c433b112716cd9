package bounty

import "errors"

// ErrorKind buckets engine failures so callers can distinguish malformed
// input, authorization problems, illegal transitions, value mismatches,
// missing records, and transfer failures without matching on message text.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindAuthorization
	KindState
	KindValueMismatch
	KindNotFound
	KindTransfer
)

var (
	ErrTitleLength         = errors.New("bounty: title must be 1-100 characters")
	ErrDescriptionRequired = errors.New("bounty: description is required")
	ErrDescriptionLength   = errors.New("bounty: description exceeds 1000 character limit")
	ErrInvalidCategory     = errors.New("bounty: invalid category")
	ErrInvalidStatus       = errors.New("bounty: invalid status")
	ErrUnsupportedToken    = errors.New("bounty: token is not supported")
	ErrRewardTooLow        = errors.New("bounty: reward below asset minimum")
	ErrProofRequired       = errors.New("bounty: proof URL is required")
	ErrNotesTooLong        = errors.New("bounty: notes exceed 200 character limit")

	ErrNotCreator     = errors.New("bounty: only creator can perform this action")
	ErrSelfSubmission = errors.New("bounty: creator cannot submit to their own bounty")

	ErrNotOpen        = errors.New("bounty: bounty is not open")
	ErrNotInProgress  = errors.New("bounty: bounty must be in progress to approve")
	ErrNotCancellable = errors.New("bounty: only open bounties can be cancelled")

	ErrValueMismatch   = errors.New("bounty: attached value must equal reward amount")
	ErrUnexpectedValue = errors.New("bounty: do not attach native value for a token bounty")

	ErrNotFound = errors.New("bounty: bounty does not exist")

	// ErrTransferFailed wraps failures from the underlying asset-movement
	// capability (insufficient balance, missing allowance, rejected transfer).
	ErrTransferFailed = errors.New("bounty: transfer failed")
)

// Kind classifies an engine error into its taxonomy bucket.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTitleLength),
		errors.Is(err, ErrDescriptionRequired),
		errors.Is(err, ErrDescriptionLength),
		errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrUnsupportedToken),
		errors.Is(err, ErrRewardTooLow),
		errors.Is(err, ErrProofRequired),
		errors.Is(err, ErrNotesTooLong):
		return KindValidation
	case errors.Is(err, ErrNotCreator), errors.Is(err, ErrSelfSubmission):
		return KindAuthorization
	case errors.Is(err, ErrNotOpen), errors.Is(err, ErrNotInProgress), errors.Is(err, ErrNotCancellable):
		return KindState
	case errors.Is(err, ErrValueMismatch), errors.Is(err, ErrUnexpectedValue):
		return KindValueMismatch
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransferFailed):
		return KindTransfer
	default:
		return KindUnknown
	}
}

// String returns the taxonomy label used in metrics and RPC error payloads.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindValueMismatch:
		return "value_mismatch"
	case KindNotFound:
		return "not_found"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}
