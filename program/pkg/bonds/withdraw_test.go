package bonds

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/stretchr/testify/require"
)

func (f *fixture) initWithdrawRequest(amount uint64) solana.PublicKey {
	f.t.Helper()
	addr, err := f.program.InitWithdrawRequest(InitWithdrawRequestArgs{
		Config:      f.config,
		VoteAccount: f.vote,
		Authority:   f.bondAuthority,
		Amount:      amount,
		RentPayer:   f.payer,
	})
	require.NoError(f.t, err)
	return addr
}

func (f *fixture) claimWithdrawArgs(stakeAccount, withdrawer solana.PublicKey) ClaimWithdrawRequestArgs {
	return ClaimWithdrawRequestArgs{
		Config:              f.config,
		VoteAccount:         f.vote,
		Authority:           f.bondAuthority,
		StakeAccount:        stakeAccount,
		Withdrawer:          withdrawer,
		SplitStakeAccount:   newKey(),
		SplitStakeRentPayer: f.payer,
		RentCollector:       f.payer,
	}
}

func TestBonds_WithdrawRequest_Lifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reqAddr := f.initWithdrawRequest(3 * sol)

	_, err := f.program.InitWithdrawRequest(InitWithdrawRequestArgs{Config: f.config, VoteAccount: f.vote, Authority: f.identity, Amount: sol, RentPayer: f.payer})
	require.ErrorIs(t, err, ErrWithdrawRequestAlreadyExists)

	req, err := f.program.WithdrawRequest(f.bond)
	require.NoError(t, err)
	require.Equal(t, uint64(startEpoch), req.Epoch)
	require.Equal(t, uint64(3*sol), req.RequestedAmount)

	user := newKey()
	bondStake := f.putBondStake(5 * sol)
	args := f.claimWithdrawArgs(bondStake, user)

	f.ledger.AdvanceEpochs(withdrawLockup)
	require.ErrorIs(t, f.program.ClaimWithdrawRequest(args), ErrWithdrawRequestNotReady)

	f.ledger.AdvanceEpochs(1)
	require.NoError(t, f.program.ClaimWithdrawRequest(args))

	st, lamports := f.stake(bondStake)
	require.Equal(t, uint64(3*sol), lamports)
	require.Equal(t, stake.Authorized{Staker: user, Withdrawer: user}, st.Meta.Authorized)
	require.Equal(t, f.ledger.Clock().Epoch, st.Stake.Delegation.DeactivationEpoch)

	split, splitLamports := f.stake(args.SplitStakeAccount)
	require.Equal(t, uint64(2*sol+stakeRent), splitLamports)
	require.Equal(t, stake.Authorized{Staker: f.withdrawer, Withdrawer: f.withdrawer}, split.Meta.Authorized)

	require.False(t, f.exists(reqAddr))
}

func TestBonds_WithdrawRequest_PartialClaims(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reqAddr := f.initWithdrawRequest(8 * sol)
	f.ledger.AdvanceEpochs(withdrawLockup + 1)
	user := newKey()

	require.NoError(t, f.program.ClaimWithdrawRequest(f.claimWithdrawArgs(f.putBondStake(5*sol), user)))
	req, err := f.program.WithdrawRequest(f.bond)
	require.NoError(t, err)
	require.Equal(t, uint64(5*sol), req.WithdrawnAmount)
	require.Equal(t, uint64(3*sol), req.Remaining())

	payerBefore := f.lamports(f.payer)
	requestRent := f.lamports(reqAddr)
	require.NoError(t, f.program.ClaimWithdrawRequest(f.claimWithdrawArgs(f.putBondStake(3*sol), user)))
	require.False(t, f.exists(reqAddr))
	require.Equal(t, payerBefore+requestRent, f.lamports(f.payer))
}

func TestBonds_WithdrawRequest_Rejections(t *testing.T) {
	t.Parallel()

	t.Run("remaining amount below the minimal stake", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.initWithdrawRequest(sol / 2)
		f.ledger.AdvanceEpochs(withdrawLockup + 1)
		err := f.program.ClaimWithdrawRequest(f.claimWithdrawArgs(f.putBondStake(5*sol), newKey()))
		require.ErrorIs(t, err, ErrWithdrawRequestAmountTooSmall)
	})

	t.Run("excess too small to split off", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.initWithdrawRequest(4*sol + sol/2)
		f.ledger.AdvanceEpochs(withdrawLockup + 1)
		bondStake := f.putBondStake(5 * sol)
		before := f.snapshot()
		err := f.program.ClaimWithdrawRequest(f.claimWithdrawArgs(bondStake, newKey()))
		require.ErrorIs(t, err, ErrStakeAccountNotBigEnoughToSplit)
		require.Equal(t, before, f.snapshot())
	})

	t.Run("stake outside bond custody", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.initWithdrawRequest(sol * 2)
		f.ledger.AdvanceEpochs(withdrawLockup + 1)
		owner := newKey()
		foreign := f.putStake(2*sol, stake.Authorized{Staker: owner, Withdrawer: owner}, &f.vote)
		err := f.program.ClaimWithdrawRequest(f.claimWithdrawArgs(foreign, owner))
		require.ErrorIs(t, err, ErrWrongStakeAccountWithdrawer)
	})

	t.Run("foreign authority", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.program.InitWithdrawRequest(InitWithdrawRequestArgs{Config: f.config, VoteAccount: f.vote, Authority: newKey(), Amount: sol, RentPayer: f.payer})
		require.ErrorIs(t, err, ErrInvalidBondAuthority)

		_, err = f.program.InitWithdrawRequest(InitWithdrawRequestArgs{Config: f.config, VoteAccount: f.vote, Authority: f.bondAuthority, RentPayer: f.payer})
		require.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestBonds_WithdrawRequest_Cancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reqAddr := f.initWithdrawRequest(3 * sol)
	cancel := CancelWithdrawRequestArgs{Config: f.config, VoteAccount: f.vote, Authority: newKey(), RentCollector: f.payer}
	require.ErrorIs(t, f.program.CancelWithdrawRequest(cancel), ErrInvalidBondAuthority)

	cancel.Authority = f.identity
	require.NoError(t, f.program.CancelWithdrawRequest(cancel))
	require.False(t, f.exists(reqAddr))

	require.Equal(t, reqAddr, f.initWithdrawRequest(sol))
}
