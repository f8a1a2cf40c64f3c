package stake

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/sysvar"
)

var (
	ErrMissingSignature       = errors.New("stake: missing required authority signature")
	ErrNotDelegated           = errors.New("stake: account is not delegated")
	ErrNotInitialized         = errors.New("stake: account is not initialized")
	ErrAlreadyDeactivated     = errors.New("stake: already deactivated")
	ErrTooSoonToRedelegate    = errors.New("stake: too soon to redelegate")
	ErrInsufficientFunds      = errors.New("stake: insufficient funds")
	ErrNotBigEnoughToSplit    = errors.New("stake: not big enough to split")
	ErrMergeMismatch          = errors.New("stake: merge mismatch")
	ErrMergeTransientStake    = errors.New("stake: merge of transient stake")
	ErrLockupInForce          = errors.New("stake: lockup in force")
	ErrWithdrawActiveStake    = errors.New("stake: cannot withdraw active stake")
	ErrMergeSameAccountSource = errors.New("stake: cannot merge an account into itself")
)

// Status is the activation status of a stake account at an epoch. Warmup and cooldown are
// modelled as taking effect at the next epoch boundary.
type Status int

const (
	StatusInactive Status = iota
	StatusActivating
	StatusActive
	StatusDeactivating
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActivating:
		return "activating"
	case StatusActive:
		return "active"
	case StatusDeactivating:
		return "deactivating"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (st *State) Status(epoch uint64) Status {
	if st.Kind != KindStake {
		return StatusInactive
	}
	d := st.Stake.Delegation
	if d.DeactivationEpoch != NotDeactivated {
		if d.DeactivationEpoch < epoch || d.ActivationEpoch == d.DeactivationEpoch {
			return StatusInactive
		}
		return StatusDeactivating
	}
	if d.ActivationEpoch >= epoch {
		return StatusActivating
	}
	return StatusActive
}

// IsFullyDeactivated reports whether no lamports remain delegated at epoch.
func (st *State) IsFullyDeactivated(epoch uint64) bool {
	return st.Status(epoch) == StatusInactive
}

// IsDelegatedTo reports whether the account carries a delegation to voter, active or not.
func (st *State) IsDelegatedTo(voter solana.PublicKey) bool {
	return st.Kind == KindStake && st.Stake.Delegation.VoterPubkey == voter
}

func (st *State) meta() (*Meta, error) {
	switch st.Kind {
	case KindInitialized, KindStake:
		return &st.Meta, nil
	default:
		return nil, ErrNotInitialized
	}
}

// NewInitialized returns an initialized, undelegated stake state.
func NewInitialized(authorized Authorized, lockup Lockup, rent sysvar.Rent) *State {
	return &State{
		Kind: KindInitialized,
		Meta: Meta{
			RentExemptReserve: rent.MinimumBalance(AccountSize),
			Authorized:        authorized,
			Lockup:            lockup,
		},
	}
}

type AuthorizeRole int

const (
	AuthorizeStaker AuthorizeRole = iota
	AuthorizeWithdrawer
)

// Authorize replaces the staker or withdrawer. Staker changes may be signed by either authority,
// withdrawer changes only by the withdrawer and only outside a lockup.
func (st *State) Authorize(signer, newAuthority solana.PublicKey, role AuthorizeRole, clock sysvar.Clock, custodian *solana.PublicKey) error {
	meta, err := st.meta()
	if err != nil {
		return err
	}
	switch role {
	case AuthorizeStaker:
		if signer != meta.Authorized.Staker && signer != meta.Authorized.Withdrawer {
			return ErrMissingSignature
		}
		meta.Authorized.Staker = newAuthority
	case AuthorizeWithdrawer:
		if signer != meta.Authorized.Withdrawer {
			return ErrMissingSignature
		}
		if meta.Lockup.IsInForce(clock, custodian) {
			return ErrLockupInForce
		}
		meta.Authorized.Withdrawer = newAuthority
	default:
		return fmt.Errorf("stake: unknown authorize role %d", role)
	}
	return nil
}

// Delegate delegates the account to voter, or re-activates a deactivated one. A delegation
// deactivated in the current epoch to the same voter is rescinded instead.
func (st *State) Delegate(signer, voter solana.PublicKey, lamports uint64, clock sysvar.Clock) error {
	meta, err := st.meta()
	if err != nil {
		return err
	}
	if signer != meta.Authorized.Staker {
		return ErrMissingSignature
	}
	if lamports < meta.RentExemptReserve {
		return ErrInsufficientFunds
	}
	delegation := Delegation{
		VoterPubkey:        voter,
		Stake:              lamports - meta.RentExemptReserve,
		ActivationEpoch:    clock.Epoch,
		DeactivationEpoch:  NotDeactivated,
		WarmupCooldownRate: DefaultWarmupCooldownRate,
	}
	if st.Kind == KindInitialized {
		st.Kind = KindStake
		st.Stake = Stake{Delegation: delegation}
		return nil
	}
	switch st.Status(clock.Epoch) {
	case StatusInactive:
		st.Stake.Delegation = delegation
		return nil
	case StatusDeactivating:
		if st.Stake.Delegation.VoterPubkey != voter || st.Stake.Delegation.DeactivationEpoch != clock.Epoch {
			return ErrTooSoonToRedelegate
		}
		st.Stake.Delegation.DeactivationEpoch = NotDeactivated
		return nil
	default:
		return ErrTooSoonToRedelegate
	}
}

// Deactivate starts the cooldown of a delegated account at the current epoch.
func (st *State) Deactivate(signer solana.PublicKey, clock sysvar.Clock) error {
	if st.Kind != KindStake {
		return ErrNotDelegated
	}
	if signer != st.Meta.Authorized.Staker {
		return ErrMissingSignature
	}
	if st.Stake.Delegation.DeactivationEpoch != NotDeactivated {
		return ErrAlreadyDeactivated
	}
	st.Stake.Delegation.DeactivationEpoch = clock.Epoch
	return nil
}

// Split moves splitLamports out of an account holding lamports into a new account with the same
// meta. Both resulting accounts must keep at least rent_exempt_reserve + minimumStake; nothing
// changes when that does not hold.
func (st *State) Split(signer solana.PublicKey, lamports, splitLamports, minimumStake uint64) (*State, error) {
	meta, err := st.meta()
	if err != nil {
		return nil, err
	}
	if signer != meta.Authorized.Staker {
		return nil, ErrMissingSignature
	}
	if splitLamports == 0 || splitLamports > lamports {
		return nil, ErrInsufficientFunds
	}
	// Both halves must stay strictly above rent plus the minimum delegation.
	minimal := meta.RentExemptReserve + minimumStake
	if splitLamports <= minimal || lamports-splitLamports <= minimal {
		return nil, ErrNotBigEnoughToSplit
	}

	split := &State{Kind: st.Kind, Meta: *meta}
	if st.Kind == KindStake {
		splitStake := splitLamports - meta.RentExemptReserve
		if splitStake > st.Stake.Delegation.Stake {
			return nil, ErrInsufficientFunds
		}
		split.Stake = st.Stake
		split.Stake.Delegation.Stake = splitStake
		split.Flags = st.Flags
		st.Stake.Delegation.Stake -= splitStake
	}
	return split, nil
}

// Merge folds src into st. Both must share authorities and compatible lockups, and be either both
// inactive or both active towards the same voter. The caller moves the lamports and closes src.
func (st *State) Merge(signer solana.PublicKey, src *State, srcLamports uint64, clock sysvar.Clock) error {
	if st == src {
		return ErrMergeSameAccountSource
	}
	dstMeta, err := st.meta()
	if err != nil {
		return err
	}
	srcMeta, err := src.meta()
	if err != nil {
		return err
	}
	if signer != dstMeta.Authorized.Staker {
		return ErrMissingSignature
	}
	lockupsMatch := dstMeta.Lockup == srcMeta.Lockup ||
		(!dstMeta.Lockup.IsInForce(clock, nil) && !srcMeta.Lockup.IsInForce(clock, nil))
	if dstMeta.Authorized != srcMeta.Authorized || !lockupsMatch {
		return ErrMergeMismatch
	}

	dstStatus, srcStatus := st.Status(clock.Epoch), src.Status(clock.Epoch)
	if dstStatus == StatusDeactivating || srcStatus == StatusDeactivating {
		return ErrMergeTransientStake
	}
	switch {
	case dstStatus == StatusInactive && srcStatus == StatusInactive:
		return nil
	case dstStatus == StatusActive && srcStatus == StatusActive:
		if st.Stake.Delegation.VoterPubkey != src.Stake.Delegation.VoterPubkey {
			return ErrMergeMismatch
		}
		st.Stake.Delegation.Stake += src.Stake.Delegation.Stake
		st.Stake.CreditsObserved = max(st.Stake.CreditsObserved, src.Stake.CreditsObserved)
		return nil
	case dstStatus == StatusActivating && srcStatus == StatusInactive:
		st.Stake.Delegation.Stake += srcLamports
		return nil
	case dstStatus == StatusActivating && srcStatus == StatusActivating:
		if st.Stake.Delegation.VoterPubkey != src.Stake.Delegation.VoterPubkey {
			return ErrMergeMismatch
		}
		st.Stake.Delegation.Stake += src.Meta.RentExemptReserve + src.Stake.Delegation.Stake
		return nil
	default:
		return ErrMergeMismatch
	}
}

// Withdraw checks that amount may leave an account holding lamports. It reports whether the
// withdrawal empties the account, in which case the state resets to uninitialized.
func (st *State) Withdraw(signer solana.PublicKey, lamports, amount uint64, clock sysvar.Clock, custodian *solana.PublicKey) (bool, error) {
	if amount > lamports {
		return false, ErrInsufficientFunds
	}
	switch st.Kind {
	case KindUninitialized:
		return amount == lamports, nil
	case KindInitialized, KindStake:
	default:
		return false, ErrInvalidAccountData
	}
	if signer != st.Meta.Authorized.Withdrawer {
		return false, ErrMissingSignature
	}
	if st.Meta.Lockup.IsInForce(clock, custodian) {
		return false, ErrLockupInForce
	}

	reserve := st.Meta.RentExemptReserve
	if st.Kind == KindStake && !st.IsFullyDeactivated(clock.Epoch) {
		reserve += st.Stake.Delegation.Stake
	}
	if amount == lamports {
		if st.Kind == KindStake && !st.IsFullyDeactivated(clock.Epoch) {
			return false, ErrWithdrawActiveStake
		}
		*st = State{Kind: KindUninitialized}
		return true, nil
	}
	if lamports-amount < reserve {
		return false, ErrInsufficientFunds
	}
	return false, nil
}
