package bonds

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

type InitWithdrawRequestArgs struct {
	Config      solana.PublicKey
	VoteAccount solana.PublicKey
	Authority   solana.PublicKey
	Amount      uint64
	RentPayer   solana.PublicKey
}

// InitWithdrawRequest opens the single withdraw request a bond may have.
func (p *Program) InitWithdrawRequest(args InitWithdrawRequestArgs) (solana.PublicKey, error) {
	var reqAddr solana.PublicKey
	err := p.execute(EventInitWithdrawRequest, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		bondAddr, bond, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		if err := p.checkBondAuthority(tx, bond, args.Authority); err != nil {
			return err
		}
		if args.Amount == 0 {
			return ErrInvalidAmount
		}
		addr, bump, err := state.FindWithdrawRequestAddress(p.programID, bondAddr)
		if err != nil {
			return err
		}
		req := &state.WithdrawRequest{
			VoteAccount:     bond.VoteAccount,
			Bond:            bondAddr,
			Epoch:           tx.Clock().Epoch,
			RequestedAmount: args.Amount,
			Bump:            bump,
		}
		if err := p.createAccount(tx, addr, args.RentPayer, req); err != nil {
			return mapCreateError(err, CodeWithdrawRequestAlreadyExists)
		}
		tx.Emit(EventInitWithdrawRequest, withdrawRequestEvent(addr, req, solana.PublicKey{}, nil))
		reqAddr = addr
		return nil
	})
	return reqAddr, err
}

type CancelWithdrawRequestArgs struct {
	Config        solana.PublicKey
	VoteAccount   solana.PublicKey
	Authority     solana.PublicKey
	RentCollector solana.PublicKey
}

func (p *Program) CancelWithdrawRequest(args CancelWithdrawRequestArgs) error {
	return p.execute(EventCancelWithdrawRequest, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		bondAddr, bond, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		if err := p.checkBondAuthority(tx, bond, args.Authority); err != nil {
			return err
		}
		addr, req, err := p.loadWithdrawRequest(tx, bondAddr)
		if err != nil {
			return err
		}
		if _, err := tx.Close(addr, args.RentCollector); err != nil {
			return err
		}
		tx.Emit(EventCancelWithdrawRequest, withdrawRequestEvent(addr, req, solana.PublicKey{}, nil))
		return nil
	})
}

type ClaimWithdrawRequestArgs struct {
	Config       solana.PublicKey
	VoteAccount  solana.PublicKey
	Authority    solana.PublicKey
	StakeAccount solana.PublicKey
	// Withdrawer becomes staker and withdrawer of the released stake account.
	Withdrawer solana.PublicKey
	// SplitStakeAccount receives the part of StakeAccount that exceeds the remaining request.
	SplitStakeAccount   solana.PublicKey
	SplitStakeRentPayer solana.PublicKey
	// RentCollector receives the request rent once the request is fully satisfied.
	RentCollector solana.PublicKey
}

// ClaimWithdrawRequest releases one bond stake account towards the open request once its lockup
// has elapsed. A stake account larger than the remaining amount is split first; the request is
// closed when fully satisfied.
func (p *Program) ClaimWithdrawRequest(args ClaimWithdrawRequestArgs) error {
	return p.execute(EventClaimWithdrawRequest, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		bondAddr, bond, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		if err := p.checkBondAuthority(tx, bond, args.Authority); err != nil {
			return err
		}
		reqAddr, req, err := p.loadWithdrawRequest(tx, bondAddr)
		if err != nil {
			return err
		}
		clock := tx.Clock()
		if req.Epoch+cfg.WithdrawLockupEpochs >= clock.Epoch {
			return newError(CodeWithdrawRequestNotReady, "created at epoch %d, lockup %d, current %d", req.Epoch, cfg.WithdrawLockupEpochs, clock.Epoch)
		}
		remaining := req.Remaining()
		if remaining == 0 {
			return ErrWithdrawRequestAlreadyFulfilled
		}

		withdrawer, err := p.bondsWithdrawer(args.Config)
		if err != nil {
			return err
		}
		sa, err := p.loadStake(tx, args.StakeAccount)
		if err != nil {
			return err
		}
		if err := checkBondCustody(sa, withdrawer, withdrawer, bond.VoteAccount); err != nil {
			return err
		}
		if sa.state.Meta.Lockup.IsInForce(clock, nil) {
			return ErrStakeLockedUp
		}

		var split *solana.PublicKey
		amount := sa.account.Lamports
		if amount > remaining {
			minimal := minimalStakeSize(sa.state, cfg)
			if remaining <= minimal {
				return newError(CodeWithdrawRequestAmountTooSmall, "%d <= %d", remaining, minimal)
			}
			if _, _, err := p.splitStake(tx, sa, withdrawer, args.SplitStakeAccount, args.SplitStakeRentPayer, amount-remaining, cfg.MinimumStakeLamports); err != nil {
				return err
			}
			split = &args.SplitStakeAccount
			amount = remaining
		}

		st := sa.state
		if st.Stake.Delegation.DeactivationEpoch == stake.NotDeactivated {
			if err := st.Deactivate(withdrawer, clock); err != nil {
				return fmt.Errorf("failed to deactivate stake: %w", err)
			}
		}
		if err := st.Authorize(withdrawer, args.Withdrawer, stake.AuthorizeStaker, clock, nil); err != nil {
			return fmt.Errorf("failed to authorize staker: %w", err)
		}
		if err := st.Authorize(withdrawer, args.Withdrawer, stake.AuthorizeWithdrawer, clock, nil); err != nil {
			return fmt.Errorf("failed to authorize withdrawer: %w", err)
		}
		if err := sa.store(); err != nil {
			return err
		}

		req.WithdrawnAmount += amount
		event := withdrawRequestEvent(reqAddr, req, args.StakeAccount, split)
		if req.Remaining() == 0 {
			if _, err := tx.Close(reqAddr, args.RentCollector); err != nil {
				return err
			}
		} else if err := p.storeAccount(tx, reqAddr, req); err != nil {
			return err
		}
		tx.Emit(EventClaimWithdrawRequest, event)
		return nil
	})
}

func (p *Program) loadWithdrawRequest(tx *ledger.Tx, bondAddr solana.PublicKey) (solana.PublicKey, *state.WithdrawRequest, error) {
	addr, _, err := state.FindWithdrawRequestAddress(p.programID, bondAddr)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	var req state.WithdrawRequest
	if err := p.loadAccount(tx, addr, &req); err != nil {
		return solana.PublicKey{}, nil, err
	}
	if req.Bond != bondAddr {
		return solana.PublicKey{}, nil, ErrWithdrawRequestMismatch
	}
	return addr, &req, nil
}

func withdrawRequestEvent(addr solana.PublicKey, req *state.WithdrawRequest, stakeAccount solana.PublicKey, split *solana.PublicKey) WithdrawRequestEvent {
	return WithdrawRequestEvent{
		WithdrawRequest: addr,
		Bond:            req.Bond,
		VoteAccount:     req.VoteAccount,
		Epoch:           req.Epoch,
		RequestedAmount: req.RequestedAmount,
		WithdrawnAmount: req.WithdrawnAmount,
		StakeAccount:    stakeAccount,
		SplitStake:      split,
	}
}
