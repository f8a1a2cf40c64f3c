package bonds

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

type InitSettlementArgs struct {
	Config            solana.PublicKey
	VoteAccount       solana.PublicKey
	OperatorAuthority solana.PublicKey
	MerkleRoot        [32]byte
	MaxTotalClaim     uint64
	MaxMerkleNodes    uint64
	// Epoch is the epoch the settlement is created for. It may not be in the future.
	Epoch         uint64
	RentCollector solana.PublicKey
	RentPayer     solana.PublicKey
}

// InitSettlement commits a merkle root for a bond and creates its claims bitmap sized to the number
// of merkle nodes.
func (p *Program) InitSettlement(args InitSettlementArgs) (solana.PublicKey, error) {
	var settlementAddr solana.PublicKey
	err := p.execute(EventInitSettlement, func(tx *ledger.Tx) error {
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
		bondAddr, bond, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		if args.MaxTotalClaim == 0 {
			return ErrEmptySettlementClaim
		}
		if args.MaxMerkleNodes == 0 {
			return ErrEmptySettlementMerkleTree
		}
		if args.MaxMerkleNodes > state.MaxSettlementClaimRecords {
			return newError(CodeSettlementMerkleTreeTooLarge, "%d nodes, at most %d", args.MaxMerkleNodes, uint64(state.MaxSettlementClaimRecords))
		}
		clock := tx.Clock()
		if args.Epoch > clock.Epoch {
			return newError(CodeSettlementEpochInFuture, "epoch %d, current %d", args.Epoch, clock.Epoch)
		}

		addr, bump, err := state.FindSettlementAddress(p.programID, bondAddr, args.MerkleRoot, args.Epoch)
		if err != nil {
			return err
		}
		stakerAuthority, stakerBump, err := state.FindSettlementStakerAuthority(p.programID, addr)
		if err != nil {
			return err
		}
		claimsAddr, claimsBump, err := state.FindSettlementClaimsAddress(p.programID, addr)
		if err != nil {
			return err
		}
		settlement := &state.Settlement{
			Bond:            bondAddr,
			StakerAuthority: stakerAuthority,
			MerkleRoot:      args.MerkleRoot,
			MaxTotalClaim:   args.MaxTotalClaim,
			MaxMerkleNodes:  args.MaxMerkleNodes,
			EpochCreatedFor: args.Epoch,
			SlotCreatedAt:   clock.Slot,
			RentCollector:   args.RentCollector,
			Bumps: state.Bumps{
				Pda:              bump,
				StakerAuthority:  stakerBump,
				SettlementClaims: claimsBump,
			},
		}
		if err := p.createAccount(tx, addr, args.RentPayer, settlement); err != nil {
			return mapCreateError(err, CodeSettlementAlreadyExists)
		}
		if err := p.createAccount(tx, claimsAddr, args.RentPayer, state.NewSettlementClaims(addr, args.MaxMerkleNodes)); err != nil {
			return mapCreateError(err, CodeSettlementAlreadyExists)
		}
		tx.Emit(EventInitSettlement, settlementEvent(addr, settlement, bond.VoteAccount))
		settlementAddr = addr
		return nil
	})
	return settlementAddr, err
}

type FundSettlementArgs struct {
	Config            solana.PublicKey
	VoteAccount       solana.PublicKey
	OperatorAuthority solana.PublicKey
	Settlement        solana.PublicKey
	StakeAccount      solana.PublicKey
	// SplitStakeAccount receives the leftover of StakeAccount when it can stand on its own.
	SplitStakeAccount   solana.PublicKey
	SplitStakeRentPayer solana.PublicKey
}

// FundSettlement dedicates a bond stake account to a settlement. Once the settlement is fully
// funded further calls succeed without changing anything.
func (p *Program) FundSettlement(args FundSettlementArgs) error {
	return p.execute(EventFundSettlement, func(tx *ledger.Tx) error {
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
		bondAddr, bond, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		settlement, err := p.loadSettlement(tx, args.Settlement, bondAddr)
		if err != nil {
			return err
		}
		clock := tx.Clock()
		if settlement.IsExpired(clock.Epoch, cfg.EpochsToClaimSettlement) {
			return ErrSettlementExpired
		}
		if settlement.LamportsFunded >= settlement.MaxTotalClaim {
			p.log.Info("bonds: settlement already fully funded", "settlement", args.Settlement.String(), "lamportsFunded", settlement.LamportsFunded)
			return nil
		}

		withdrawer, err := p.bondsWithdrawer(args.Config)
		if err != nil {
			return err
		}
		sa, err := p.loadStake(tx, args.StakeAccount)
		if err != nil {
			return err
		}
		if sa.state.Kind == stake.KindStake && sa.state.Meta.Authorized.Withdrawer == withdrawer &&
			sa.state.Meta.Authorized.Staker != withdrawer {
			return newError(CodeStakeAlreadyFundedToSettlement, "%s has staker %s", args.StakeAccount, sa.state.Meta.Authorized.Staker)
		}
		if err := checkBondCustody(sa, withdrawer, withdrawer, bond.VoteAccount); err != nil {
			return err
		}
		if sa.state.Meta.Lockup.IsInForce(clock, nil) {
			return ErrStakeLockedUp
		}

		minimal := minimalStakeSize(sa.state, cfg)
		if sa.account.Lamports <= minimal {
			return newError(CodeStakeNotBigEnough, "%s holds %d, minimal %d", args.StakeAccount, sa.account.Lamports, minimal)
		}
		available := sa.account.Lamports - minimal
		toFund := min(available, settlement.MaxTotalClaim-settlement.LamportsFunded)

		var split *solana.PublicKey
		if leftover := available - toFund; leftover > minimal {
			if args.SplitStakeAccount.IsZero() {
				return newError(CodeSplitStakeAccountRequired, "leftover %d", leftover)
			}
			_, rent, err := p.splitStake(tx, sa, withdrawer, args.SplitStakeAccount, args.SplitStakeRentPayer, leftover, cfg.MinimumStakeLamports)
			if err != nil {
				return err
			}
			if settlement.SplitRentCollector != nil && *settlement.SplitRentCollector != args.SplitStakeRentPayer {
				return newError(CodeInvalidSplitRentCollector, "settlement already refunds split rent to %s", *settlement.SplitRentCollector)
			}
			payer := args.SplitStakeRentPayer
			settlement.SplitRentCollector = &payer
			settlement.SplitRentAmount += rent
			split = &args.SplitStakeAccount
		}

		st := sa.state
		if st.Stake.Delegation.DeactivationEpoch == stake.NotDeactivated {
			if err := st.Deactivate(withdrawer, clock); err != nil {
				return fmt.Errorf("failed to deactivate stake: %w", err)
			}
		}
		if err := st.Authorize(withdrawer, settlement.StakerAuthority, stake.AuthorizeStaker, clock, nil); err != nil {
			return fmt.Errorf("failed to authorize staker: %w", err)
		}
		if err := sa.store(); err != nil {
			return err
		}

		settlement.LamportsFunded += toFund
		if err := p.storeAccount(tx, args.Settlement, settlement); err != nil {
			return err
		}
		tx.Emit(EventFundSettlement, FundSettlementEvent{
			Settlement:     args.Settlement,
			StakeAccount:   args.StakeAccount,
			SplitStake:     split,
			FundedAmount:   toFund,
			LamportsFunded: settlement.LamportsFunded,
		})
		return nil
	})
}

type CloseSettlementArgs struct {
	Config        solana.PublicKey
	VoteAccount   solana.PublicKey
	Settlement    solana.PublicKey
	RentCollector solana.PublicKey
	// SplitRentCollector and SplitRentRefundAccount are required when the settlement paid for a split.
	SplitRentCollector     solana.PublicKey
	SplitRentRefundAccount *solana.PublicKey
}

// CloseSettlement removes an expired settlement and its claims bitmap, refunding split rent first.
func (p *Program) CloseSettlement(args CloseSettlementArgs) error {
	return p.execute(EventCloseSettlement, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		bondAddr, _, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		settlement, err := p.loadSettlement(tx, args.Settlement, bondAddr)
		if err != nil {
			return err
		}
		if !settlement.IsExpired(tx.Clock().Epoch, cfg.EpochsToClaimSettlement) {
			return newError(CodeSettlementNotExpired, "created for epoch %d, claimable for %d epochs", settlement.EpochCreatedFor, cfg.EpochsToClaimSettlement)
		}
		return p.closeSettlement(tx, args, settlement, false)
	})
}

type CancelSettlementArgs struct {
	CloseSettlementArgs
	// Authority is the operator or the pause authority.
	Authority solana.PublicKey
}

// CancelSettlement closes a settlement before expiry. It remains available while the program is
// paused.
func (p *Program) CancelSettlement(args CancelSettlementArgs) error {
	return p.execute(EventCancelSettlement, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if args.Authority != cfg.OperatorAuthority && args.Authority != cfg.PauseAuthority {
			return ErrInvalidOperatorAuthority
		}
		bondAddr, _, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		settlement, err := p.loadSettlement(tx, args.Settlement, bondAddr)
		if err != nil {
			return err
		}
		return p.closeSettlement(tx, args.CloseSettlementArgs, settlement, true)
	})
}

func (p *Program) closeSettlement(tx *ledger.Tx, args CloseSettlementArgs, settlement *state.Settlement, cancelled bool) error {
	if args.RentCollector != settlement.RentCollector {
		return ErrInvalidRentCollector
	}

	var refunded uint64
	if settlement.SplitRentCollector != nil && settlement.SplitRentAmount > 0 {
		if args.SplitRentCollector != *settlement.SplitRentCollector {
			return ErrInvalidSplitRentCollector
		}
		if args.SplitRentRefundAccount == nil {
			return ErrMissingSplitRentRefundAccount
		}
		if err := p.refundSplitRent(tx, args.Config, *args.SplitRentRefundAccount, settlement); err != nil {
			return err
		}
		refunded = settlement.SplitRentAmount
	}

	claimsAddr, _, err := state.FindSettlementClaimsAddress(p.programID, args.Settlement)
	if err != nil {
		return err
	}
	if _, err := tx.Close(args.Settlement, args.RentCollector); err != nil {
		return err
	}
	if _, err := tx.Close(claimsAddr, args.RentCollector); err != nil {
		return fmt.Errorf("failed to close settlement claims: %w", err)
	}

	name := EventCloseSettlement
	if cancelled {
		name = EventCancelSettlement
	}
	tx.Emit(name, CloseSettlementEvent{
		Settlement:         args.Settlement,
		RentCollector:      args.RentCollector,
		SplitRentCollector: settlement.SplitRentCollector,
		SplitRentRefund:    refunded,
		Cancelled:          cancelled,
	})
	return nil
}

// refundSplitRent withdraws the split rent from a bond stake account that has stopped earning.
func (p *Program) refundSplitRent(tx *ledger.Tx, config, refundAddr solana.PublicKey, settlement *state.Settlement) error {
	withdrawer, err := p.bondsWithdrawer(config)
	if err != nil {
		return err
	}
	sa, err := p.loadStake(tx, refundAddr)
	if err != nil {
		return err
	}
	authorized := sa.state.Meta.Authorized
	if authorized.Withdrawer != withdrawer {
		return newError(CodeWrongStakeAccountWithdrawer, "%s", refundAddr)
	}
	if authorized.Staker != withdrawer && authorized.Staker != settlement.StakerAuthority {
		return newError(CodeWrongStakeAccountStaker, "%s", refundAddr)
	}
	clock := tx.Clock()
	if sa.state.Kind == stake.KindStake && !sa.state.IsFullyDeactivated(clock.Epoch) {
		return newError(CodeStakeNotFullyDeactivated, "%s", refundAddr)
	}
	closed, err := sa.state.Withdraw(withdrawer, sa.account.Lamports, settlement.SplitRentAmount, clock, nil)
	if err != nil {
		if errors.Is(err, stake.ErrInsufficientFunds) {
			return newError(CodeStakeNotBigEnough, "%s cannot refund %d", refundAddr, settlement.SplitRentAmount)
		}
		return fmt.Errorf("failed to withdraw split rent: %w", err)
	}
	if closed {
		_, err := tx.Close(refundAddr, *settlement.SplitRentCollector)
		return err
	}
	if err := tx.Transfer(refundAddr, *settlement.SplitRentCollector, settlement.SplitRentAmount); err != nil {
		return err
	}
	return sa.store()
}

func settlementEvent(addr solana.PublicKey, s *state.Settlement, voteAccount solana.PublicKey) SettlementEvent {
	return SettlementEvent{
		Settlement:      addr,
		Bond:            s.Bond,
		VoteAccount:     voteAccount,
		MerkleRoot:      s.MerkleRoot,
		Epoch:           s.EpochCreatedFor,
		MaxTotalClaim:   s.MaxTotalClaim,
		MaxMerkleNodes:  s.MaxMerkleNodes,
		LamportsFunded:  s.LamportsFunded,
		LamportsClaimed: s.LamportsClaimed,
	}
}
