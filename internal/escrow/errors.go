package escrow

import (
	"errors"
	"fmt"

	"github.com/fentz26/escrowd/internal/ledger"
)

// Kind groups error codes by the reason an operation was refused.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindAuthorization Kind = "authorization"
	KindArithmetic    Kind = "arithmetic"
	KindTiming        Kind = "timing"
	KindQuorum        Kind = "quorum"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

// Error is a refusal with a stable code. Every failure aborts the whole
// transaction; nothing it would have written is committed.
type Error struct {
	Code    string
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any Error with the same code, so wrapped copies still satisfy
// errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) wrap(cause error) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Message: e.Message, cause: cause}
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

// Validation errors.
var (
	ErrInvalidFee       = newError(KindValidation, "InvalidFee", "fee basis points must be <= 3001")
	ErrInvalidConfig    = newError(KindValidation, "InvalidConfig", "invalid platform configuration")
	ErrBountyTooLow     = newError(KindValidation, "BountyTooLow", "bounty is below the platform minimum")
	ErrTitleTooLong     = newError(KindValidation, "TitleTooLong", "title exceeds 64 characters")
	ErrDeadlineInPast   = newError(KindValidation, "DeadlineInPast", "deadline must be in the future")
	ErrInvalidRepReward = newError(KindValidation, "InvalidRepReward", "reputation reward must be 0-1000")
	ErrInvalidRuling    = newError(KindValidation, "InvalidRuling", "invalid ruling value")
	ErrInvalidCategory  = newError(KindValidation, "InvalidCategory", "unknown task category")
	ErrInvalidReason    = newError(KindValidation, "InvalidReason", "unknown dispute reason")
)

// State errors.
var (
	ErrTaskNotOpen              = newError(KindState, "TaskNotOpen", "task is not in Open status")
	ErrTaskNotClaimedOrRejected = newError(KindState, "TaskNotClaimedOrRejected", "task is not in Claimed or Rejected status")
	ErrTaskNotSubmitted         = newError(KindState, "TaskNotSubmitted", "task is not in Submitted status")
	ErrTaskCannotExpire         = newError(KindState, "TaskCannotExpire", "task cannot be expired in its current status")
	ErrTemplateInactive         = newError(KindState, "TemplateInactive", "template is not active")
	ErrTaskNotDisputable        = newError(KindState, "TaskNotDisputable", "task is not in a disputable status")
	ErrDisputeNotOpen           = newError(KindState, "DisputeNotOpen", "dispute is not open")
	ErrTaskNotDisputed          = newError(KindState, "TaskNotDisputed", "task is not in Disputed status")
	ErrPlatformPaused           = newError(KindState, "PlatformPaused", "platform is paused")
	ErrPlatformAlreadyPaused    = newError(KindState, "PlatformAlreadyPaused", "platform is already paused")
	ErrPlatformNotPaused        = newError(KindState, "PlatformNotPaused", "platform is not paused")
	ErrInvalidTaskIndex         = newError(KindState, "InvalidTaskIndex", "task index does not match creator counter")
	ErrInsufficientFunds        = newError(KindState, "InsufficientFunds", "insufficient funds")
)

// Authorization errors.
var (
	ErrNotPlatformAuthority   = newError(KindAuthorization, "NotPlatformAuthority", "caller is not the platform authority")
	ErrNotTaskCreator         = newError(KindAuthorization, "NotTaskCreator", "caller is not the task creator")
	ErrNotAssignedAgent       = newError(KindAuthorization, "NotAssignedAgent", "caller is not the assigned agent")
	ErrNotTaskParty           = newError(KindAuthorization, "NotTaskParty", "caller is not a party to this task")
	ErrPartyCannotVote        = newError(KindAuthorization, "PartyCannotVote", "task parties cannot vote on their own dispute")
	ErrNotProfileOwner        = newError(KindAuthorization, "NotProfileOwner", "caller is not the profile owner")
	ErrInsufficientReputation = newError(KindAuthorization, "InsufficientReputation", "voter reputation is below the minimum required to vote")
)

// Timing, quorum and arithmetic errors.
var (
	ErrTaskExpired          = newError(KindTiming, "TaskExpired", "task has passed its deadline")
	ErrDeadlineNotReached   = newError(KindTiming, "DeadlineNotReached", "deadline has not been reached yet")
	ErrVotingPeriodEnded    = newError(KindTiming, "VotingPeriodEnded", "voting period has ended")
	ErrVotingPeriodNotEnded = newError(KindTiming, "VotingPeriodNotEnded", "voting period has not ended yet")
	ErrInsufficientVotes    = newError(KindQuorum, "InsufficientVotes", "insufficient votes to resolve dispute")
	ErrArithmeticOverflow   = newError(KindArithmetic, "ArithmeticOverflow", "arithmetic overflow in calculation")
)

// Record-level errors.
var (
	ErrAccountNotFound = newError(KindNotFound, "AccountNotFound", "account not found")
	ErrAccountExists   = newError(KindConflict, "AccountExists", "account already exists")
	ErrAlreadyVoted    = newError(KindConflict, "AlreadyVoted", "caller has already voted on this dispute")
	ErrAccountMismatch = newError(KindState, "AccountMismatch", "account holds a different record type")
)

// KindOf returns the kind of err, or KindInternal for errors raised outside
// the program.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or "Internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}

// storeError translates ledger failures into program errors.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.As(err, new(*Error)):
		return err
	case errors.Is(err, ledger.ErrNotFound):
		return ErrAccountNotFound.wrap(err)
	case errors.Is(err, ledger.ErrExists):
		return ErrAccountExists.wrap(err)
	case errors.Is(err, ledger.ErrKindMismatch):
		return ErrAccountMismatch.wrap(err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ErrInsufficientFunds.wrap(err)
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return ErrArithmeticOverflow.wrap(err)
	}
	return err
}
