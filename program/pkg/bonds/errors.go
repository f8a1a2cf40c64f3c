package bonds

import (
	"errors"
	"fmt"
)

// ErrorCode numbers program errors the way the deployed program reports them.
type ErrorCode uint32

const (
	CodeInvalidProgramID ErrorCode = 6000 + iota
	CodeInvalidAdminAuthority
	CodeInvalidOperatorAuthority
	CodeInvalidPauseAuthority
	CodeInvalidBondAuthority
	CodeValidatorIdentityMismatch
	CodeInvalidVoteAccountProgramID
	CodeInvalidConfigAccount
	CodeBondAccountMismatch
	CodeBondAlreadyExists
	CodeMaxStakeWantedTooLow
	CodeInvalidStakeOwner
	CodeWrongStakeAccountWithdrawer
	CodeWrongStakeAccountStaker
	CodeStakeNotDelegated
	CodeBondStakeWrongDelegation
	CodeStakeLockedUp
	CodeStakeNotBigEnough
	CodeStakeAccountNotBigEnoughToSplit
	CodeStakeAlreadyFundedToSettlement
	CodeStakeNotFullyDeactivated
	CodeStakeMergeMismatch
	CodeSettlementAccountMismatch
	CodeSettlementAlreadyExists
	CodeEmptySettlementClaim
	CodeEmptySettlementMerkleTree
	CodeSettlementEpochInFuture
	CodeSettlementExpired
	CodeSettlementNotExpired
	CodeSettlementNotClosed
	CodeClaimingTooEarly
	CodeClaimAmountExceedsMaxTotalClaim
	CodeClaimCountExceedsMaxMerkleNodes
	CodeClaimingStakeAccountLamportsInsufficient
	CodeClaimStakeAccountAuthorityMismatch
	CodeClaimSettlementProofFailed
	CodeClaimIndexOutOfRange
	CodeSettlementAlreadyClaimed
	CodeInvalidRentCollector
	CodeInvalidSplitRentCollector
	CodeMissingSplitRentRefundAccount
	CodeWithdrawRequestAlreadyExists
	CodeWithdrawRequestNotReady
	CodeWithdrawRequestAmountTooSmall
	CodeWithdrawRequestAlreadyFulfilled
	CodeWithdrawRequestMismatch
	CodeWithdrawStakeNotInitialized
	CodeStakerNotSettlementAuthority
	CodeProgramIsPaused
	CodeAlreadyPaused
	CodeNotPaused
	CodeInvalidAmount
	CodeSettlementMerkleTreeTooLarge
	CodeSplitStakeAccountRequired
)

var codeMessages = map[ErrorCode]string{
	CodeInvalidProgramID:                         "account is not owned by the bonds program",
	CodeInvalidAdminAuthority:                    "wrong admin authority",
	CodeInvalidOperatorAuthority:                 "wrong operator authority",
	CodeInvalidPauseAuthority:                    "wrong pause authority",
	CodeInvalidBondAuthority:                     "wrong bond authority, expected bond authority or validator identity",
	CodeValidatorIdentityMismatch:                "signer is not the validator identity of the vote account",
	CodeInvalidVoteAccountProgramID:              "vote account is not owned by the vote program",
	CodeInvalidConfigAccount:                     "account does not belong to this config",
	CodeBondAccountMismatch:                      "bond address does not match config and vote account",
	CodeBondAlreadyExists:                        "bond already exists for the vote account",
	CodeMaxStakeWantedTooLow:                     "max stake wanted is below the configured minimum",
	CodeInvalidStakeOwner:                        "account is not owned by the stake program",
	CodeWrongStakeAccountWithdrawer:              "stake account withdrawer is not the bonds withdrawer authority",
	CodeWrongStakeAccountStaker:                  "stake account staker does not match",
	CodeStakeNotDelegated:                        "stake account is not delegated",
	CodeBondStakeWrongDelegation:                 "stake account is delegated to another vote account",
	CodeStakeLockedUp:                            "stake account is locked up",
	CodeStakeNotBigEnough:                        "stake account is smaller than the minimal stake account size",
	CodeStakeAccountNotBigEnoughToSplit:          "stake account is not big enough to be split",
	CodeStakeAlreadyFundedToSettlement:           "stake account is already funded to a settlement",
	CodeStakeNotFullyDeactivated:                 "stake account is not fully deactivated",
	CodeStakeMergeMismatch:                       "stake accounts cannot be merged",
	CodeSettlementAccountMismatch:                "settlement does not belong to the bond",
	CodeSettlementAlreadyExists:                  "settlement already exists",
	CodeEmptySettlementClaim:                     "max total claim must be positive",
	CodeEmptySettlementMerkleTree:                "max merkle nodes must be positive",
	CodeSettlementEpochInFuture:                  "settlement epoch is in the future",
	CodeSettlementExpired:                        "settlement has expired",
	CodeSettlementNotExpired:                     "settlement has not expired yet",
	CodeSettlementNotClosed:                      "settlement still exists",
	CodeClaimingTooEarly:                         "settlement claiming has not started yet",
	CodeClaimAmountExceedsMaxTotalClaim:          "claim exceeds max total claim",
	CodeClaimCountExceedsMaxMerkleNodes:          "claim count exceeds max merkle nodes",
	CodeClaimingStakeAccountLamportsInsufficient: "stake account does not hold enough lamports to pay the claim",
	CodeClaimStakeAccountAuthorityMismatch:       "claim destination authorities do not match the claim",
	CodeClaimSettlementProofFailed:               "merkle proof verification failed",
	CodeClaimIndexOutOfRange:                     "claim index is out of the settlement claims range",
	CodeSettlementAlreadyClaimed:                 "claim has already been paid",
	CodeInvalidRentCollector:                     "wrong rent collector",
	CodeInvalidSplitRentCollector:                "wrong split rent collector",
	CodeMissingSplitRentRefundAccount:            "split rent refund account is required",
	CodeWithdrawRequestAlreadyExists:             "withdraw request already exists for the bond",
	CodeWithdrawRequestNotReady:                  "withdraw request lockup has not elapsed",
	CodeWithdrawRequestAmountTooSmall:            "remaining withdraw amount is below the minimal stake account size",
	CodeWithdrawRequestAlreadyFulfilled:          "withdraw request is already fulfilled",
	CodeWithdrawRequestMismatch:                  "withdraw request does not belong to the bond",
	CodeWithdrawStakeNotInitialized:              "only initialized, undelegated stake accounts can be withdrawn",
	CodeStakerNotSettlementAuthority:             "stake account staker is not the settlement authority",
	CodeProgramIsPaused:                          "program is paused",
	CodeAlreadyPaused:                            "program is already paused",
	CodeNotPaused:                                "program is not paused",
	CodeInvalidAmount:                            "amount must be positive",
	CodeSettlementMerkleTreeTooLarge:             "max merkle nodes do not fit the claims account",
	CodeSplitStakeAccountRequired:                "split stake account is required for the leftover",
}

func (c ErrorCode) String() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error %d", uint32(c))
}

// Error is a rejection by the program. None of them are transient.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("bonds error %d: %s", uint32(e.Code), e.Code)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the program error code carried by err.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

var (
	ErrInvalidProgramID                         = &Error{Code: CodeInvalidProgramID}
	ErrInvalidAdminAuthority                    = &Error{Code: CodeInvalidAdminAuthority}
	ErrInvalidOperatorAuthority                 = &Error{Code: CodeInvalidOperatorAuthority}
	ErrInvalidPauseAuthority                    = &Error{Code: CodeInvalidPauseAuthority}
	ErrInvalidBondAuthority                     = &Error{Code: CodeInvalidBondAuthority}
	ErrValidatorIdentityMismatch                = &Error{Code: CodeValidatorIdentityMismatch}
	ErrInvalidVoteAccountProgramID              = &Error{Code: CodeInvalidVoteAccountProgramID}
	ErrInvalidConfigAccount                     = &Error{Code: CodeInvalidConfigAccount}
	ErrBondAccountMismatch                      = &Error{Code: CodeBondAccountMismatch}
	ErrBondAlreadyExists                        = &Error{Code: CodeBondAlreadyExists}
	ErrMaxStakeWantedTooLow                     = &Error{Code: CodeMaxStakeWantedTooLow}
	ErrInvalidStakeOwner                        = &Error{Code: CodeInvalidStakeOwner}
	ErrWrongStakeAccountWithdrawer              = &Error{Code: CodeWrongStakeAccountWithdrawer}
	ErrWrongStakeAccountStaker                  = &Error{Code: CodeWrongStakeAccountStaker}
	ErrStakeNotDelegated                        = &Error{Code: CodeStakeNotDelegated}
	ErrBondStakeWrongDelegation                 = &Error{Code: CodeBondStakeWrongDelegation}
	ErrStakeLockedUp                            = &Error{Code: CodeStakeLockedUp}
	ErrStakeNotBigEnough                        = &Error{Code: CodeStakeNotBigEnough}
	ErrStakeAccountNotBigEnoughToSplit          = &Error{Code: CodeStakeAccountNotBigEnoughToSplit}
	ErrStakeAlreadyFundedToSettlement           = &Error{Code: CodeStakeAlreadyFundedToSettlement}
	ErrStakeNotFullyDeactivated                 = &Error{Code: CodeStakeNotFullyDeactivated}
	ErrStakeMergeMismatch                       = &Error{Code: CodeStakeMergeMismatch}
	ErrSettlementAccountMismatch                = &Error{Code: CodeSettlementAccountMismatch}
	ErrSettlementAlreadyExists                  = &Error{Code: CodeSettlementAlreadyExists}
	ErrEmptySettlementClaim                     = &Error{Code: CodeEmptySettlementClaim}
	ErrEmptySettlementMerkleTree                = &Error{Code: CodeEmptySettlementMerkleTree}
	ErrSettlementMerkleTreeTooLarge             = &Error{Code: CodeSettlementMerkleTreeTooLarge}
	ErrSplitStakeAccountRequired                = &Error{Code: CodeSplitStakeAccountRequired}
	ErrSettlementEpochInFuture                  = &Error{Code: CodeSettlementEpochInFuture}
	ErrSettlementExpired                        = &Error{Code: CodeSettlementExpired}
	ErrSettlementNotExpired                     = &Error{Code: CodeSettlementNotExpired}
	ErrSettlementNotClosed                      = &Error{Code: CodeSettlementNotClosed}
	ErrClaimingTooEarly                         = &Error{Code: CodeClaimingTooEarly}
	ErrClaimAmountExceedsMaxTotalClaim          = &Error{Code: CodeClaimAmountExceedsMaxTotalClaim}
	ErrClaimCountExceedsMaxMerkleNodes          = &Error{Code: CodeClaimCountExceedsMaxMerkleNodes}
	ErrClaimingStakeAccountLamportsInsufficient = &Error{Code: CodeClaimingStakeAccountLamportsInsufficient}
	ErrClaimStakeAccountAuthorityMismatch       = &Error{Code: CodeClaimStakeAccountAuthorityMismatch}
	ErrClaimSettlementProofFailed               = &Error{Code: CodeClaimSettlementProofFailed}
	ErrClaimIndexOutOfRange                     = &Error{Code: CodeClaimIndexOutOfRange}
	ErrSettlementAlreadyClaimed                 = &Error{Code: CodeSettlementAlreadyClaimed}
	ErrInvalidRentCollector                     = &Error{Code: CodeInvalidRentCollector}
	ErrInvalidSplitRentCollector                = &Error{Code: CodeInvalidSplitRentCollector}
	ErrMissingSplitRentRefundAccount            = &Error{Code: CodeMissingSplitRentRefundAccount}
	ErrWithdrawRequestAlreadyExists             = &Error{Code: CodeWithdrawRequestAlreadyExists}
	ErrWithdrawRequestNotReady                  = &Error{Code: CodeWithdrawRequestNotReady}
	ErrWithdrawRequestAmountTooSmall            = &Error{Code: CodeWithdrawRequestAmountTooSmall}
	ErrWithdrawRequestAlreadyFulfilled          = &Error{Code: CodeWithdrawRequestAlreadyFulfilled}
	ErrWithdrawRequestMismatch                  = &Error{Code: CodeWithdrawRequestMismatch}
	ErrWithdrawStakeNotInitialized              = &Error{Code: CodeWithdrawStakeNotInitialized}
	ErrStakerNotSettlementAuthority             = &Error{Code: CodeStakerNotSettlementAuthority}
	ErrProgramIsPaused                          = &Error{Code: CodeProgramIsPaused}
	ErrAlreadyPaused                            = &Error{Code: CodeAlreadyPaused}
	ErrNotPaused                                = &Error{Code: CodeNotPaused}
	ErrInvalidAmount                            = &Error{Code: CodeInvalidAmount}
)
