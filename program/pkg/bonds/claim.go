package bonds

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/merkle"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

type ClaimSettlementArgs struct {
	Config      solana.PublicKey
	VoteAccount solana.PublicKey
	Settlement  solana.PublicKey
	// StakeAccountFrom is a stake account funded to the settlement.
	StakeAccountFrom solana.PublicKey
	// StakeAccountTo receives the claim; its authorities must match the tree node.
	StakeAccountTo solana.PublicKey
	Staker         solana.PublicKey
	Withdrawer     solana.PublicKey
	Amount         uint64
	Index          uint64
	Proof          []solana.Hash
}

// ClaimSettlement pays one merkle tree node out of the settlement's funded stake. It is
// permissionless; the proof and the claims bitmap gate it.
func (p *Program) ClaimSettlement(args ClaimSettlementArgs) error {
	return p.execute(EventClaimSettlement, func(tx *ledger.Tx) error {
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
		settlement, err := p.loadSettlement(tx, args.Settlement, bondAddr)
		if err != nil {
			return err
		}

		clock := tx.Clock()
		if clock.Slot < settlement.SlotCreatedAt+cfg.SlotsToStartSettlementClaiming {
			return newError(CodeClaimingTooEarly, "slot %d, claimable from %d", clock.Slot, settlement.SlotCreatedAt+cfg.SlotsToStartSettlementClaiming)
		}
		if settlement.IsExpired(clock.Epoch, cfg.EpochsToClaimSettlement) {
			return newError(CodeSettlementExpired, "created for epoch %d, current %d", settlement.EpochCreatedFor, clock.Epoch)
		}
		if args.Amount == 0 {
			return ErrEmptySettlementClaim
		}
		if settlement.LamportsClaimed > settlement.MaxTotalClaim || args.Amount > settlement.MaxTotalClaim-settlement.LamportsClaimed {
			return newError(CodeClaimAmountExceedsMaxTotalClaim, "claimed %d + %d > %d", settlement.LamportsClaimed, args.Amount, settlement.MaxTotalClaim)
		}
		if settlement.MerkleNodesClaimed+1 > settlement.MaxMerkleNodes {
			return newError(CodeClaimCountExceedsMaxMerkleNodes, "%d nodes already claimed", settlement.MerkleNodesClaimed)
		}

		withdrawer, err := p.bondsWithdrawer(args.Config)
		if err != nil {
			return err
		}
		from, err := p.loadStake(tx, args.StakeAccountFrom)
		if err != nil {
			return err
		}
		if err := checkBondCustody(from, withdrawer, settlement.StakerAuthority, bond.VoteAccount); err != nil {
			return err
		}
		if !from.state.IsFullyDeactivated(clock.Epoch) {
			return newError(CodeStakeNotFullyDeactivated, "%s", args.StakeAccountFrom)
		}
		if minimal := minimalStakeSize(from.state, cfg); from.account.Lamports < minimal || args.Amount > from.account.Lamports-minimal {
			return newError(CodeClaimingStakeAccountLamportsInsufficient, "%s holds %d, needs %d more than %d", args.StakeAccountFrom, from.account.Lamports, args.Amount, minimal)
		}

		to, err := p.loadStake(tx, args.StakeAccountTo)
		if err != nil {
			return err
		}
		if to.state.Kind != stake.KindInitialized && to.state.Kind != stake.KindStake {
			return newError(CodeClaimStakeAccountAuthorityMismatch, "%s is %s", args.StakeAccountTo, to.state.Kind)
		}
		if to.state.Meta.Authorized.Staker != args.Staker || to.state.Meta.Authorized.Withdrawer != args.Withdrawer {
			return newError(CodeClaimStakeAccountAuthorityMismatch, "%s", args.StakeAccountTo)
		}

		node := merkle.HashIndexedLeafNode(args.Staker, args.Withdrawer, bond.VoteAccount, args.Amount, args.Index)
		if !merkle.Verify(args.Proof, solana.Hash(settlement.MerkleRoot), merkle.HashLeaf(node)) {
			return ErrClaimSettlementProofFailed
		}

		claimsAddr, _, err := state.FindSettlementClaimsAddress(p.programID, args.Settlement)
		if err != nil {
			return err
		}
		var claims state.SettlementClaims
		if err := p.loadAccount(tx, claimsAddr, &claims); err != nil {
			return err
		}
		if claims.Settlement != args.Settlement {
			return ErrSettlementAccountMismatch
		}
		alreadySet, err := claims.Set(args.Index)
		if err != nil {
			if errors.Is(err, state.ErrClaimIndexOutOfRange) {
				return wrapError(CodeClaimIndexOutOfRange, err)
			}
			return err
		}
		if alreadySet {
			return newError(CodeSettlementAlreadyClaimed, "index %d", args.Index)
		}

		if _, err := from.state.Withdraw(withdrawer, from.account.Lamports, args.Amount, clock, nil); err != nil {
			return fmt.Errorf("failed to withdraw claim: %w", err)
		}
		if err := tx.Transfer(args.StakeAccountFrom, args.StakeAccountTo, args.Amount); err != nil {
			return err
		}
		if err := from.store(); err != nil {
			return err
		}

		settlement.LamportsClaimed += args.Amount
		settlement.MerkleNodesClaimed++
		if err := p.storeAccount(tx, args.Settlement, settlement); err != nil {
			return err
		}
		if err := p.storeAccount(tx, claimsAddr, &claims); err != nil {
			return err
		}
		tx.Emit(EventClaimSettlement, ClaimSettlementEvent{
			Settlement:       args.Settlement,
			Index:            args.Index,
			StakeAccountFrom: args.StakeAccountFrom,
			StakeAccountTo:   args.StakeAccountTo,
			Staker:           args.Staker,
			Withdrawer:       args.Withdrawer,
			Amount:           args.Amount,
		})
		return nil
	})
}
