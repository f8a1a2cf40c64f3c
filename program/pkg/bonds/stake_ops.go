package bonds

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

type MergeStakeArgs struct {
	Config      solana.PublicKey
	Source      solana.PublicKey
	Destination solana.PublicKey
	// Settlement names the settlement whose staker authority holds both accounts. Nil means bond
	// custody.
	Settlement *solana.PublicKey
}

// MergeStake folds one bond stake account into another with the same custody. It is permissionless.
func (p *Program) MergeStake(args MergeStakeArgs) error {
	return p.execute(EventMergeStake, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		if args.Source == args.Destination {
			return wrapError(CodeStakeMergeMismatch, stake.ErrMergeSameAccountSource)
		}
		withdrawer, err := p.bondsWithdrawer(args.Config)
		if err != nil {
			return err
		}
		staker := withdrawer
		if args.Settlement != nil {
			staker, _, err = state.FindSettlementStakerAuthority(p.programID, *args.Settlement)
			if err != nil {
				return err
			}
		}

		src, err := p.loadStake(tx, args.Source)
		if err != nil {
			return err
		}
		dst, err := p.loadStake(tx, args.Destination)
		if err != nil {
			return err
		}
		for _, sa := range []*stakeAccount{src, dst} {
			if sa.state.Meta.Authorized.Withdrawer != withdrawer {
				return newError(CodeWrongStakeAccountWithdrawer, "%s", sa.addr)
			}
			if sa.state.Meta.Authorized.Staker != staker {
				return newError(CodeWrongStakeAccountStaker, "%s has staker %s, expected %s", sa.addr, sa.state.Meta.Authorized.Staker, staker)
			}
		}

		clock := tx.Clock()
		lamports := src.account.Lamports
		if err := dst.state.Merge(staker, src.state, lamports, clock); err != nil {
			if errors.Is(err, stake.ErrMergeMismatch) || errors.Is(err, stake.ErrMergeTransientStake) {
				return wrapError(CodeStakeMergeMismatch, err)
			}
			return fmt.Errorf("failed to merge stake: %w", err)
		}
		if _, err := tx.Close(args.Source, args.Destination); err != nil {
			return err
		}
		if err := dst.store(); err != nil {
			return err
		}
		tx.Emit(EventMergeStake, StakeEvent{
			StakeAccount: args.Destination,
			Source:       &args.Source,
			Settlement:   args.Settlement,
			Lamports:     lamports,
		})
		return nil
	})
}

type ResetStakeArgs struct {
	Config      solana.PublicKey
	VoteAccount solana.PublicKey
	// Settlement is the address of the closed settlement the stake account was funded to.
	Settlement   solana.PublicKey
	StakeAccount solana.PublicKey
}

// ResetStake returns a stake account stranded under a closed settlement to bond custody and
// delegates it back to the bonded vote account. It is permissionless.
func (p *Program) ResetStake(args ResetStakeArgs) error {
	return p.execute(EventResetStake, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		_, bond, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		withdrawer, sa, err := p.loadStrandedStake(tx, args.Config, args.Settlement, args.StakeAccount)
		if err != nil {
			return err
		}
		st := sa.state
		if !st.IsDelegatedTo(bond.VoteAccount) {
			return newError(CodeBondStakeWrongDelegation, "%s", args.StakeAccount)
		}

		clock := tx.Clock()
		if err := st.Authorize(withdrawer, withdrawer, stake.AuthorizeStaker, clock, nil); err != nil {
			return fmt.Errorf("failed to authorize staker: %w", err)
		}
		switch st.Status(clock.Epoch) {
		case stake.StatusInactive, stake.StatusDeactivating:
			if err := st.Delegate(withdrawer, bond.VoteAccount, sa.account.Lamports, clock); err != nil {
				return fmt.Errorf("failed to delegate stake: %w", err)
			}
		}
		if err := sa.store(); err != nil {
			return err
		}
		tx.Emit(EventResetStake, StakeEvent{
			StakeAccount: args.StakeAccount,
			Settlement:   &args.Settlement,
			Lamports:     sa.account.Lamports,
		})
		return nil
	})
}

type WithdrawStakeArgs struct {
	Config            solana.PublicKey
	OperatorAuthority solana.PublicKey
	Settlement        solana.PublicKey
	StakeAccount      solana.PublicKey
	WithdrawTo        solana.PublicKey
}

// WithdrawStake empties an undelegated stake account stranded under a closed settlement into
// WithdrawTo.
func (p *Program) WithdrawStake(args WithdrawStakeArgs) error {
	return p.execute(EventWithdrawStake, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		if err := checkOperator(cfg, args.OperatorAuthority); err != nil {
			return err
		}
		withdrawer, sa, err := p.loadStrandedStake(tx, args.Config, args.Settlement, args.StakeAccount)
		if err != nil {
			return err
		}
		if sa.state.Kind != stake.KindInitialized {
			return newError(CodeWithdrawStakeNotInitialized, "%s is %s", args.StakeAccount, sa.state.Kind)
		}
		lamports := sa.account.Lamports
		if _, err := sa.state.Withdraw(withdrawer, lamports, lamports, tx.Clock(), nil); err != nil {
			return fmt.Errorf("failed to withdraw stake: %w", err)
		}
		if _, err := tx.Close(args.StakeAccount, args.WithdrawTo); err != nil {
			return err
		}
		destination := args.WithdrawTo
		tx.Emit(EventWithdrawStake, StakeEvent{
			StakeAccount: args.StakeAccount,
			Settlement:   &args.Settlement,
			Destination:  &destination,
			Lamports:     lamports,
		})
		return nil
	})
}

// loadStrandedStake loads a bond stake account whose staker is the authority of a settlement that
// no longer exists.
func (p *Program) loadStrandedStake(tx *ledger.Tx, config, settlement, stakeAddr solana.PublicKey) (solana.PublicKey, *stakeAccount, error) {
	if tx.Exists(settlement) {
		return solana.PublicKey{}, nil, newError(CodeSettlementNotClosed, "%s", settlement)
	}
	withdrawer, err := p.bondsWithdrawer(config)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	settlementAuthority, _, err := state.FindSettlementStakerAuthority(p.programID, settlement)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	sa, err := p.loadStake(tx, stakeAddr)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	if sa.state.Kind != stake.KindInitialized && sa.state.Kind != stake.KindStake {
		return solana.PublicKey{}, nil, newError(CodeStakeNotDelegated, "%s is %s", stakeAddr, sa.state.Kind)
	}
	if sa.state.Meta.Authorized.Withdrawer != withdrawer {
		return solana.PublicKey{}, nil, newError(CodeWrongStakeAccountWithdrawer, "%s", stakeAddr)
	}
	if sa.state.Meta.Authorized.Staker != settlementAuthority {
		return solana.PublicKey{}, nil, newError(CodeStakerNotSettlementAuthority, "%s has staker %s", stakeAddr, sa.state.Meta.Authorized.Staker)
	}
	return withdrawer, sa, nil
}
