package bonds

import (
	"math"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
	"github.com/stretchr/testify/require"
)

func TestBonds_Settlement_Lifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tt := f.newTree(2*sol, sol)
	settlementAddr := f.initSettlement(tt, 3*sol, 2)

	s := f.settlement(settlementAddr)
	require.Equal(t, tt.root(), s.MerkleRoot)
	require.Equal(t, uint64(startEpoch-1), s.EpochCreatedFor)
	require.Equal(t, f.ledger.Clock().Slot, s.SlotCreatedAt)
	claims, err := f.program.SettlementClaims(settlementAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(2), claims.MaxRecords)
	require.Zero(t, claims.Count())

	funded := f.putBondStake(10 * sol)
	fundArgs := f.fundArgs(settlementAddr, funded)
	require.NoError(t, f.program.FundSettlement(fundArgs))

	s = f.settlement(settlementAddr)
	require.Equal(t, uint64(3*sol), s.LamportsFunded)
	require.NotNil(t, s.SplitRentCollector)
	require.Equal(t, f.payer, *s.SplitRentCollector)
	require.Equal(t, uint64(stakeRent), s.SplitRentAmount)

	st, lamports := f.stake(funded)
	require.Equal(t, uint64(minimalStake+3*sol), lamports)
	require.Equal(t, s.StakerAuthority, st.Meta.Authorized.Staker)
	require.Equal(t, f.withdrawer, st.Meta.Authorized.Withdrawer)
	require.Equal(t, uint64(startEpoch), st.Stake.Delegation.DeactivationEpoch)

	split, splitLamports := f.stake(fundArgs.SplitStakeAccount)
	require.Equal(t, uint64(10*sol), splitLamports+lamports-stakeRent)
	require.Equal(t, f.withdrawer, split.Meta.Authorized.Staker)
	require.Equal(t, stake.StatusActive, split.Status(startEpoch))

	f.ledger.AdvanceEpochs(1)
	for i := range tt.leaves {
		require.NoError(t, f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, i)))
		require.Equal(t, stakeRent+tt.leaves[i].amount, f.lamports(tt.leaves[i].recipient))
	}
	s = f.settlement(settlementAddr)
	require.Equal(t, uint64(3*sol), s.LamportsClaimed)
	require.Equal(t, uint64(2), s.MerkleNodesClaimed)
	require.Equal(t, uint64(minimalStake), f.lamports(funded))
	claims, err = f.program.SettlementClaims(settlementAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(2), claims.Count())

	err = f.program.CloseSettlement(f.closeArgs(settlementAddr, &funded))
	require.ErrorIs(t, err, ErrSettlementNotExpired)

	f.ledger.AdvanceEpochs(2)
	err = f.program.CloseSettlement(f.closeArgs(settlementAddr, nil))
	require.ErrorIs(t, err, ErrMissingSplitRentRefundAccount)
	wrongCollector := f.closeArgs(settlementAddr, &funded)
	wrongCollector.RentCollector = newKey()
	require.ErrorIs(t, f.program.CloseSettlement(wrongCollector), ErrInvalidRentCollector)

	claimsAddr, _, err := state.FindSettlementClaimsAddress(f.program.ProgramID(), settlementAddr)
	require.NoError(t, err)
	payerBefore := f.lamports(f.payer)
	settlementRent := f.lamports(settlementAddr) + f.lamports(claimsAddr)
	require.NoError(t, f.program.CloseSettlement(f.closeArgs(settlementAddr, &funded)))

	require.False(t, f.exists(settlementAddr))
	require.False(t, f.exists(claimsAddr))
	require.Equal(t, payerBefore+settlementRent+stakeRent, f.lamports(f.payer))
	require.Equal(t, uint64(sol), f.lamports(funded))

	events := f.ledger.Events()
	last := events[len(events)-1]
	require.Equal(t, EventCloseSettlement, last.Name)
	require.Equal(t, uint64(stakeRent), last.Payload.(CloseSettlementEvent).SplitRentRefund)

	require.NoError(t, f.program.ResetStake(ResetStakeArgs{Config: f.config, VoteAccount: f.vote, Settlement: settlementAddr, StakeAccount: funded}))
	st, _ = f.stake(funded)
	require.Equal(t, f.withdrawer, st.Meta.Authorized.Staker)
	require.Equal(t, uint64(stake.NotDeactivated), st.Stake.Delegation.DeactivationEpoch)
	require.Equal(t, f.vote, st.Stake.Delegation.VoterPubkey)
	require.Equal(t, f.ledger.Clock().Epoch, st.Stake.Delegation.ActivationEpoch)
}

func TestBonds_Settlement_Init(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tt := f.newTree(sol)
	args := InitSettlementArgs{
		Config:            f.config,
		VoteAccount:       f.vote,
		OperatorAuthority: f.operator,
		MerkleRoot:        tt.root(),
		MaxTotalClaim:     sol,
		MaxMerkleNodes:    1,
		Epoch:             startEpoch,
		RentCollector:     f.payer,
		RentPayer:         f.payer,
	}

	t.Run("operator only", func(t *testing.T) {
		bad := args
		bad.OperatorAuthority = f.admin
		_, err := f.program.InitSettlement(bad)
		require.ErrorIs(t, err, ErrInvalidOperatorAuthority)
	})

	t.Run("non-zero caps", func(t *testing.T) {
		bad := args
		bad.MaxTotalClaim = 0
		_, err := f.program.InitSettlement(bad)
		require.ErrorIs(t, err, ErrEmptySettlementClaim)

		bad = args
		bad.MaxMerkleNodes = 0
		_, err = f.program.InitSettlement(bad)
		require.ErrorIs(t, err, ErrEmptySettlementMerkleTree)
	})

	t.Run("claims bitmap must fit one account", func(t *testing.T) {
		before := f.snapshot()
		for _, nodes := range []uint64{math.MaxUint64, 1 << 40, state.MaxSettlementClaimRecords + 1} {
			bad := args
			bad.MaxMerkleNodes = nodes
			_, err := f.program.InitSettlement(bad)
			require.ErrorIs(t, err, ErrSettlementMerkleTreeTooLarge, "max merkle nodes %d", nodes)
		}
		require.Equal(t, before, f.snapshot())
	})

	t.Run("epoch not in the future", func(t *testing.T) {
		bad := args
		bad.Epoch = startEpoch + 1
		_, err := f.program.InitSettlement(bad)
		require.ErrorIs(t, err, ErrSettlementEpochInFuture)
	})

	t.Run("one settlement per bond, root and epoch", func(t *testing.T) {
		addr, err := f.program.InitSettlement(args)
		require.NoError(t, err)
		expected, _, err := state.FindSettlementAddress(f.program.ProgramID(), f.bond, args.MerkleRoot, args.Epoch)
		require.NoError(t, err)
		require.Equal(t, expected, addr)

		_, err = f.program.InitSettlement(args)
		require.ErrorIs(t, err, ErrSettlementAlreadyExists)

		other := args
		other.Epoch = startEpoch - 1
		_, err = f.program.InitSettlement(other)
		require.NoError(t, err)
	})
}

func TestBonds_Settlement_FundingIsMonotonic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tt := f.newTree(3*sol, 2*sol)
	settlementAddr := f.initSettlement(tt, 5*sol, 2)

	exact := f.putBondStake(minimalStake + 3*sol)
	args := f.fundArgs(settlementAddr, exact)
	require.NoError(t, f.program.FundSettlement(args))
	require.False(t, f.exists(args.SplitStakeAccount))
	s := f.settlement(settlementAddr)
	require.Equal(t, uint64(3*sol), s.LamportsFunded)
	require.Nil(t, s.SplitRentCollector)

	large := f.putBondStake(10 * sol)
	args = f.fundArgs(settlementAddr, large)
	require.NoError(t, f.program.FundSettlement(args))
	require.True(t, f.exists(args.SplitStakeAccount))
	s = f.settlement(settlementAddr)
	require.Equal(t, uint64(5*sol), s.LamportsFunded)

	extra := f.putBondStake(4 * sol)
	before := f.snapshot()
	require.NoError(t, f.program.FundSettlement(f.fundArgs(settlementAddr, extra)))
	require.Equal(t, before, f.snapshot())
	st, _ := f.stake(extra)
	require.Equal(t, f.withdrawer, st.Meta.Authorized.Staker)

	t.Run("stake funded to another settlement is rejected", func(t *testing.T) {
		other := f.initSettlement(f.newTree(sol), sol, 1)
		err := f.program.FundSettlement(f.fundArgs(other, exact))
		require.ErrorIs(t, err, ErrStakeAlreadyFundedToSettlement)
	})
}

func TestBonds_Settlement_FundRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	settlementAddr := f.initSettlement(f.newTree(sol), sol, 1)

	t.Run("operator only", func(t *testing.T) {
		args := f.fundArgs(settlementAddr, f.putBondStake(5*sol))
		args.OperatorAuthority = f.bondAuthority
		require.ErrorIs(t, f.program.FundSettlement(args), ErrInvalidOperatorAuthority)
	})

	t.Run("stake must exceed the minimal size", func(t *testing.T) {
		err := f.program.FundSettlement(f.fundArgs(settlementAddr, f.putBondStake(minimalStake)))
		require.ErrorIs(t, err, ErrStakeNotBigEnough)
	})

	t.Run("stake must be in bond custody", func(t *testing.T) {
		owner := newKey()
		addr := f.putStake(5*sol, stake.Authorized{Staker: owner, Withdrawer: owner}, &f.vote)
		require.ErrorIs(t, f.program.FundSettlement(f.fundArgs(settlementAddr, addr)), ErrWrongStakeAccountWithdrawer)
	})

	t.Run("leftover requires a split stake account", func(t *testing.T) {
		args := f.fundArgs(settlementAddr, f.putBondStake(10*sol))
		args.SplitStakeAccount = solana.PublicKey{}
		before := f.snapshot()
		require.ErrorIs(t, f.program.FundSettlement(args), ErrSplitStakeAccountRequired)
		require.Equal(t, before, f.snapshot())
	})

	t.Run("failed split leaves every account untouched", func(t *testing.T) {
		args := f.fundArgs(settlementAddr, f.putBondStake(10*sol))
		args.SplitStakeRentPayer = newKey()
		before := f.snapshot()
		err := f.program.FundSettlement(args)
		require.ErrorIs(t, err, ledger.ErrAccountNotFound)
		require.Equal(t, before, f.snapshot())
	})
}

func TestBonds_Settlement_ClaimDeduplication(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tt := f.newTree(2*sol, sol)
	settlementAddr, funded := f.fundedSettlement(tt, 10*sol, 20*sol)

	require.NoError(t, f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 0)))
	paid := f.lamports(tt.leaves[0].recipient)

	err := f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 0))
	require.ErrorIs(t, err, ErrSettlementAlreadyClaimed)
	require.Equal(t, paid, f.lamports(tt.leaves[0].recipient))

	replay := f.claimArgs(settlementAddr, funded, tt, 0)
	replay.Index = 1
	require.ErrorIs(t, f.program.ClaimSettlement(replay), ErrClaimSettlementProofFailed)

	t.Run("concurrent claims of one node pay once", func(t *testing.T) {
		args := f.claimArgs(settlementAddr, funded, tt, 1)
		var (
			wg   sync.WaitGroup
			errs = make([]error, 8)
		)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = f.program.ClaimSettlement(args)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.ErrorIs(t, err, ErrSettlementAlreadyClaimed)
		}
		require.Equal(t, 1, succeeded)
		require.Equal(t, uint64(stakeRent+sol), f.lamports(tt.leaves[1].recipient))
	})

	s := f.settlement(settlementAddr)
	require.Equal(t, uint64(3*sol), s.LamportsClaimed)
	require.Equal(t, uint64(2), s.MerkleNodesClaimed)
}

func TestBonds_Settlement_ClaimCaps(t *testing.T) {
	t.Parallel()

	t.Run("total claim", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		tt := f.newTree(3*sol, 3*sol)
		settlementAddr, funded := f.fundedSettlement(tt, 5*sol, 20*sol)
		require.NoError(t, f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 0)))

		before := f.snapshot()
		err := f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 1))
		require.ErrorIs(t, err, ErrClaimAmountExceedsMaxTotalClaim)
		require.Equal(t, before, f.snapshot())
	})

	t.Run("total claim without wrapping", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		tt := f.newTree(sol, math.MaxUint64)
		settlementAddr, funded := f.fundedSettlement(tt, 5*sol, 20*sol)
		require.NoError(t, f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 0)))

		before := f.snapshot()
		err := f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 1))
		require.ErrorIs(t, err, ErrClaimAmountExceedsMaxTotalClaim)
		require.Equal(t, before, f.snapshot())
	})

	t.Run("merkle nodes", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		tt := f.newTree(sol, sol, sol)
		settlementAddr := f.initSettlement(tt, 3*sol, 2)
		funded := f.putBondStake(10 * sol)
		require.NoError(t, f.program.FundSettlement(f.fundArgs(settlementAddr, funded)))
		f.ledger.AdvanceEpochs(1)

		require.NoError(t, f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 0)))
		require.NoError(t, f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 1)))
		err := f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 2))
		require.ErrorIs(t, err, ErrClaimCountExceedsMaxMerkleNodes)
	})

	t.Run("bitmap range", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		tt := f.newTree(sol, sol, sol)
		settlementAddr := f.initSettlement(tt, 3*sol, 2)
		funded := f.putBondStake(10 * sol)
		require.NoError(t, f.program.FundSettlement(f.fundArgs(settlementAddr, funded)))
		f.ledger.AdvanceEpochs(1)

		err := f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 2))
		require.ErrorIs(t, err, ErrClaimIndexOutOfRange)
	})
}

func TestBonds_Settlement_ClaimRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tt := f.newTree(2*sol, sol)
	settlementAddr, funded := f.fundedSettlement(tt, 3*sol, 10*sol)

	t.Run("tampered amount", func(t *testing.T) {
		args := f.claimArgs(settlementAddr, funded, tt, 0)
		args.Amount++
		require.ErrorIs(t, f.program.ClaimSettlement(args), ErrClaimSettlementProofFailed)
	})

	t.Run("recipient authorities must match the node", func(t *testing.T) {
		args := f.claimArgs(settlementAddr, funded, tt, 0)
		args.StakeAccountTo = tt.leaves[1].recipient
		require.ErrorIs(t, f.program.ClaimSettlement(args), ErrClaimStakeAccountAuthorityMismatch)
	})

	t.Run("source must be funded to the settlement", func(t *testing.T) {
		args := f.claimArgs(settlementAddr, f.putBondStake(10*sol), tt, 0)
		require.ErrorIs(t, f.program.ClaimSettlement(args), ErrWrongStakeAccountStaker)
	})

	t.Run("settlement of another bond", func(t *testing.T) {
		identity := newKey()
		vote := f.putVoteAccount(identity)
		_, err := f.program.InitBond(InitBondArgs{Config: f.config, VoteAccount: vote, ValidatorIdentity: &identity, RentPayer: f.payer})
		require.NoError(t, err)
		args := f.claimArgs(settlementAddr, funded, tt, 0)
		args.VoteAccount = vote
		require.ErrorIs(t, f.program.ClaimSettlement(args), ErrSettlementAccountMismatch)
	})
}

func TestBonds_Settlement_ExpiryGating(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tt := f.newTree(sol, sol)
	settlementAddr := f.initSettlement(tt, 2*sol, 2)
	funded := f.putBondStake(10 * sol)
	require.NoError(t, f.program.FundSettlement(f.fundArgs(settlementAddr, funded)))

	err := f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 0))
	require.ErrorIs(t, err, ErrClaimingTooEarly)

	f.ledger.AdvanceSlots(slotsToStart)
	err = f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 0))
	require.ErrorIs(t, err, ErrStakeNotFullyDeactivated)

	// Last claimable epoch: created for startEpoch-1, claimable for epochsToClaim epochs.
	f.ledger.AdvanceEpochs(startEpoch - 1 + epochsToClaim - startEpoch)
	require.NoError(t, f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 0)))
	require.ErrorIs(t, f.program.CloseSettlement(f.closeArgs(settlementAddr, &funded)), ErrSettlementNotExpired)

	f.ledger.AdvanceEpochs(1)
	err = f.program.ClaimSettlement(f.claimArgs(settlementAddr, funded, tt, 1))
	require.ErrorIs(t, err, ErrSettlementExpired)
	err = f.program.FundSettlement(f.fundArgs(settlementAddr, f.putBondStake(5*sol)))
	require.ErrorIs(t, err, ErrSettlementExpired)
	require.NoError(t, f.program.CloseSettlement(f.closeArgs(settlementAddr, &funded)))
}

func TestBonds_Settlement_Cancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tt := f.newTree(sol)
	settlementAddr := f.initSettlement(tt, sol, 1)
	funded := f.putBondStake(10 * sol)
	require.NoError(t, f.program.FundSettlement(f.fundArgs(settlementAddr, funded)))

	cancel := CancelSettlementArgs{CloseSettlementArgs: f.closeArgs(settlementAddr, &funded), Authority: f.bondAuthority}
	require.ErrorIs(t, f.program.CancelSettlement(cancel), ErrInvalidOperatorAuthority)

	cancel.Authority = f.operator
	require.ErrorIs(t, f.program.CancelSettlement(cancel), ErrStakeNotFullyDeactivated)

	f.ledger.AdvanceEpochs(1)
	require.NoError(t, f.program.CancelSettlement(cancel))
	require.False(t, f.exists(settlementAddr))

	events := f.ledger.Events()
	last := events[len(events)-1]
	require.Equal(t, EventCancelSettlement, last.Name)
	require.True(t, last.Payload.(CloseSettlementEvent).Cancelled)

	t.Run("stranded stake", func(t *testing.T) {
		err := f.program.ResetStake(ResetStakeArgs{Config: f.config, VoteAccount: f.vote, Settlement: settlementAddr, StakeAccount: f.putBondStake(5 * sol)})
		require.ErrorIs(t, err, ErrStakerNotSettlementAuthority)

		require.NoError(t, f.program.ResetStake(ResetStakeArgs{Config: f.config, VoteAccount: f.vote, Settlement: settlementAddr, StakeAccount: funded}))
		st, _ := f.stake(funded)
		require.Equal(t, f.withdrawer, st.Meta.Authorized.Staker)
		require.Equal(t, stake.StatusActivating, st.Status(f.ledger.Clock().Epoch))
	})
}

func TestBonds_Settlement_ResetRequiresClosedSettlement(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tt := f.newTree(sol)
	settlementAddr, funded := f.fundedSettlement(tt, sol, 10*sol)
	err := f.program.ResetStake(ResetStakeArgs{Config: f.config, VoteAccount: f.vote, Settlement: settlementAddr, StakeAccount: funded})
	require.ErrorIs(t, err, ErrSettlementNotClosed)
}

func TestBonds_Settlement_StakeMaintenance(t *testing.T) {
	t.Parallel()

	t.Run("withdraw stake pays out an initialized stranded account", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		settlementAddr := f.initSettlement(f.newTree(sol), sol, 1)
		authority, _, err := state.FindSettlementStakerAuthority(f.program.ProgramID(), settlementAddr)
		require.NoError(t, err)
		initialized := f.putStake(3*sol, stake.Authorized{Staker: authority, Withdrawer: f.withdrawer}, nil)
		delegated := f.putStake(3*sol, stake.Authorized{Staker: authority, Withdrawer: f.withdrawer}, &f.vote)
		dest := newKey()

		args := WithdrawStakeArgs{Config: f.config, OperatorAuthority: f.operator, Settlement: settlementAddr, StakeAccount: initialized, WithdrawTo: dest}
		require.ErrorIs(t, f.program.WithdrawStake(args), ErrSettlementNotClosed)

		require.NoError(t, f.program.CancelSettlement(CancelSettlementArgs{CloseSettlementArgs: f.closeArgs(settlementAddr, nil), Authority: f.operator}))

		notOperator := args
		notOperator.OperatorAuthority = f.admin
		require.ErrorIs(t, f.program.WithdrawStake(notOperator), ErrInvalidOperatorAuthority)

		onDelegated := args
		onDelegated.StakeAccount = delegated
		require.ErrorIs(t, f.program.WithdrawStake(onDelegated), ErrWithdrawStakeNotInitialized)

		require.NoError(t, f.program.WithdrawStake(args))
		require.False(t, f.exists(initialized))
		require.Equal(t, uint64(3*sol), f.lamports(dest))
	})

	t.Run("merge folds bond stake together", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		src, dst := f.putBondStake(3*sol), f.putBondStake(2*sol)
		require.ErrorIs(t, f.program.MergeStake(MergeStakeArgs{Config: f.config, Source: dst, Destination: dst}), ErrStakeMergeMismatch)

		require.NoError(t, f.program.MergeStake(MergeStakeArgs{Config: f.config, Source: src, Destination: dst}))
		require.False(t, f.exists(src))
		st, lamports := f.stake(dst)
		require.Equal(t, uint64(5*sol), lamports)
		require.Equal(t, uint64(5*sol-2*stakeRent), st.Stake.Delegation.Stake)
	})

	t.Run("merge under a settlement authority", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		settlementAddr := newKey()
		authority, _, err := state.FindSettlementStakerAuthority(f.program.ProgramID(), settlementAddr)
		require.NoError(t, err)
		custody := stake.Authorized{Staker: authority, Withdrawer: f.withdrawer}
		src, dst := f.putStake(3*sol, custody, &f.vote), f.putStake(2*sol, custody, &f.vote)

		err = f.program.MergeStake(MergeStakeArgs{Config: f.config, Source: src, Destination: dst})
		require.ErrorIs(t, err, ErrWrongStakeAccountStaker)

		require.NoError(t, f.program.MergeStake(MergeStakeArgs{Config: f.config, Source: src, Destination: dst, Settlement: &settlementAddr}))
		require.Equal(t, uint64(5*sol), f.lamports(dst))
	})

	t.Run("merge rejects mixed custody", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		owner := newKey()
		foreign := f.putStake(3*sol, stake.Authorized{Staker: owner, Withdrawer: owner}, &f.vote)
		err := f.program.MergeStake(MergeStakeArgs{Config: f.config, Source: foreign, Destination: f.putBondStake(2 * sol)})
		require.ErrorIs(t, err, ErrWrongStakeAccountWithdrawer)
	})
}

func TestBonds_Settlement_Queries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.program.Settlement(newKey())
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, _, err = f.program.StakeAccount(f.bond)
	require.ErrorIs(t, err, ErrInvalidStakeOwner)
}
