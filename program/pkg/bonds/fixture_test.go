package bonds

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/merkle"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
	"github.com/malbeclabs/bonds/program/pkg/sysvar"
	bondstesting "github.com/malbeclabs/bonds/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

const (
	sol          = 1_000_000_000
	stakeRent    = 2_282_880
	minimalStake = stakeRent + sol

	startEpoch = 100

	epochsToClaim  = 3
	withdrawLockup = 2
	slotsToStart   = 100
)

type fixture struct {
	t       *testing.T
	ledger  *ledger.Ledger
	program *Program

	config        solana.PublicKey
	admin         solana.PublicKey
	operator      solana.PublicKey
	payer         solana.PublicKey
	vote          solana.PublicKey
	identity      solana.PublicKey
	bondAuthority solana.PublicKey
	bond          solana.PublicKey
	// withdrawer is the bonds withdrawer authority of the config.
	withdrawer solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	l, err := ledger.New(ledger.Config{
		Logger: bondstesting.NewLogger(),
		Clock:  sysvar.Clock{Epoch: startEpoch, Slot: startEpoch * sysvar.DefaultSlotsPerEpoch},
	})
	require.NoError(t, err)
	p, err := New(ProgramConfig{Logger: bondstesting.NewLogger(), Ledger: l})
	require.NoError(t, err)

	f := &fixture{
		t:             t,
		ledger:        l,
		program:       p,
		config:        newKey(),
		admin:         newKey(),
		operator:      newKey(),
		payer:         newKey(),
		identity:      newKey(),
		bondAuthority: newKey(),
	}
	l.Put(f.payer, &ledger.Account{Owner: solana.SystemProgramID, Lamports: 1_000 * sol})
	f.vote = f.putVoteAccount(f.identity)

	require.NoError(t, p.InitConfig(InitConfigArgs{
		Config:                         f.config,
		AdminAuthority:                 f.admin,
		OperatorAuthority:              f.operator,
		EpochsToClaimSettlement:        epochsToClaim,
		WithdrawLockupEpochs:           withdrawLockup,
		SlotsToStartSettlementClaiming: slotsToStart,
		RentPayer:                      f.payer,
	}))
	f.bond, err = p.InitBond(InitBondArgs{
		Config:            f.config,
		VoteAccount:       f.vote,
		ValidatorIdentity: &f.identity,
		BondAuthority:     f.bondAuthority,
		Cpmpe:             10,
		RentPayer:         f.payer,
	})
	require.NoError(t, err)
	f.withdrawer, _, err = state.FindBondsWithdrawerAuthority(p.ProgramID(), f.config)
	require.NoError(t, err)
	return f
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func (f *fixture) putVoteAccount(identity solana.PublicKey) solana.PublicKey {
	addr := newKey()
	f.ledger.Put(addr, &ledger.Account{
		Owner:    state.VoteProgramID,
		Lamports: f.ledger.Rent().MinimumBalance(state.VoteAccountSize),
		Data:     state.EncodeVoteAccount(&state.VoteAccount{NodePubkey: identity, AuthorizedWithdrawer: identity, Commission: 5}),
	})
	return addr
}

// putStake stores a stake account holding lamports. A non-nil voter delegates it, active since
// well before the current epoch.
func (f *fixture) putStake(lamports uint64, authorized stake.Authorized, voter *solana.PublicKey) solana.PublicKey {
	f.t.Helper()
	st := stake.NewInitialized(authorized, stake.Lockup{}, f.ledger.Rent())
	if voter != nil {
		require.NoError(f.t, st.Delegate(authorized.Staker, *voter, lamports, sysvar.Clock{Epoch: startEpoch - 10}))
	}
	data, err := st.Encode()
	require.NoError(f.t, err)
	addr := newKey()
	f.ledger.Put(addr, &ledger.Account{Owner: stake.ProgramID, Lamports: lamports, Data: data})
	return addr
}

// putBondStake stores an active stake account in bond custody.
func (f *fixture) putBondStake(lamports uint64) solana.PublicKey {
	return f.putStake(lamports, stake.Authorized{Staker: f.withdrawer, Withdrawer: f.withdrawer}, &f.vote)
}

func (f *fixture) stake(addr solana.PublicKey) (*stake.State, uint64) {
	f.t.Helper()
	st, lamports, err := f.program.StakeAccount(addr)
	require.NoError(f.t, err)
	return st, lamports
}

func (f *fixture) lamports(addr solana.PublicKey) uint64 {
	acc, ok := f.ledger.Get(addr)
	if !ok {
		return 0
	}
	return acc.Lamports
}

func (f *fixture) exists(addr solana.PublicKey) bool {
	_, ok := f.ledger.Get(addr)
	return ok
}

func (f *fixture) settlement(addr solana.PublicKey) *state.Settlement {
	f.t.Helper()
	s, err := f.program.Settlement(addr)
	require.NoError(f.t, err)
	return s
}

// snapshot captures every committed account the program, the stake program and the system
// program own.
func (f *fixture) snapshot() map[solana.PublicKey]ledger.Account {
	out := make(map[solana.PublicKey]ledger.Account)
	for _, owner := range []solana.PublicKey{f.program.ProgramID(), stake.ProgramID, solana.SystemProgramID, state.VoteProgramID} {
		for _, addr := range f.ledger.Addresses(owner) {
			acc, ok := f.ledger.Get(addr)
			require.True(f.t, ok)
			out[addr] = *acc
		}
	}
	return out
}

type claimLeaf struct {
	staker     solana.PublicKey
	withdrawer solana.PublicKey
	amount     uint64
	// recipient is a stake account owned by staker and withdrawer.
	recipient solana.PublicKey
}

type testTree struct {
	leaves []claimLeaf
	tree   *merkle.Tree
}

func (f *fixture) newTree(amounts ...uint64) *testTree {
	f.t.Helper()
	tt := &testTree{}
	items := make([]solana.Hash, len(amounts))
	for i, amount := range amounts {
		leaf := claimLeaf{staker: newKey(), withdrawer: newKey(), amount: amount}
		leaf.recipient = f.putStake(stakeRent, stake.Authorized{Staker: leaf.staker, Withdrawer: leaf.withdrawer}, nil)
		tt.leaves = append(tt.leaves, leaf)
		items[i] = merkle.HashIndexedLeafNode(leaf.staker, leaf.withdrawer, f.vote, amount, uint64(i))
	}
	tree, err := merkle.NewTree(items)
	require.NoError(f.t, err)
	tt.tree = tree
	return tt
}

func (tt *testTree) root() [32]byte {
	return [32]byte(tt.tree.Root())
}

func (f *fixture) initSettlement(tt *testTree, maxTotalClaim, maxMerkleNodes uint64) solana.PublicKey {
	f.t.Helper()
	addr, err := f.program.InitSettlement(InitSettlementArgs{
		Config:            f.config,
		VoteAccount:       f.vote,
		OperatorAuthority: f.operator,
		MerkleRoot:        tt.root(),
		MaxTotalClaim:     maxTotalClaim,
		MaxMerkleNodes:    maxMerkleNodes,
		Epoch:             startEpoch - 1,
		RentCollector:     f.payer,
		RentPayer:         f.payer,
	})
	require.NoError(f.t, err)
	return addr
}

func (f *fixture) fundArgs(settlement, stakeAccount solana.PublicKey) FundSettlementArgs {
	return FundSettlementArgs{
		Config:              f.config,
		VoteAccount:         f.vote,
		OperatorAuthority:   f.operator,
		Settlement:          settlement,
		StakeAccount:        stakeAccount,
		SplitStakeAccount:   newKey(),
		SplitStakeRentPayer: f.payer,
	}
}

func (f *fixture) claimArgs(settlement, from solana.PublicKey, tt *testTree, index int) ClaimSettlementArgs {
	f.t.Helper()
	proof, err := tt.tree.Proof(index)
	require.NoError(f.t, err)
	leaf := tt.leaves[index]
	return ClaimSettlementArgs{
		Config:           f.config,
		VoteAccount:      f.vote,
		Settlement:       settlement,
		StakeAccountFrom: from,
		StakeAccountTo:   leaf.recipient,
		Staker:           leaf.staker,
		Withdrawer:       leaf.withdrawer,
		Amount:           leaf.amount,
		Index:            uint64(index),
		Proof:            proof,
	}
}

func (f *fixture) closeArgs(settlement solana.PublicKey, refund *solana.PublicKey) CloseSettlementArgs {
	return CloseSettlementArgs{
		Config:                 f.config,
		VoteAccount:            f.vote,
		Settlement:             settlement,
		RentCollector:          f.payer,
		SplitRentCollector:     f.payer,
		SplitRentRefundAccount: refund,
	}
}

// fundedSettlement creates a settlement over tt capped at maxTotalClaim, funds it from a fresh bond
// stake account of stakeLamports and moves past the claiming delay and the deactivation epoch.
func (f *fixture) fundedSettlement(tt *testTree, maxTotalClaim, stakeLamports uint64) (settlement, funded solana.PublicKey) {
	f.t.Helper()
	settlement = f.initSettlement(tt, maxTotalClaim, uint64(len(tt.leaves)))
	funded = f.putBondStake(stakeLamports)
	require.NoError(f.t, f.program.FundSettlement(f.fundArgs(settlement, funded)))
	f.ledger.AdvanceEpochs(1)
	return settlement, funded
}
