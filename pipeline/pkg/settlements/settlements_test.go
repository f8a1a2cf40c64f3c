package settlements

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/settlement"
	"github.com/malbeclabs/bonds/pipeline/pkg/onchain"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
	"github.com/malbeclabs/bonds/program/pkg/sysvar"
	bondstesting "github.com/malbeclabs/bonds/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

const (
	sol           = 1_000_000_000
	startEpoch    = 100
	epochsToClaim = 3
)

type harness struct {
	t          *testing.T
	ledger     *ledger.Ledger
	program    *bonds.Program
	config     solana.PublicKey
	operator   solana.PublicKey
	payer      solana.PublicKey
	vote       solana.PublicKey
	bond       solana.PublicKey
	withdrawer solana.PublicKey
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l, err := ledger.New(ledger.Config{
		Logger: bondstesting.NewLogger(),
		Clock:  sysvar.Clock{Epoch: startEpoch, Slot: startEpoch * sysvar.DefaultSlotsPerEpoch},
	})
	require.NoError(t, err)
	p, err := bonds.New(bonds.ProgramConfig{Logger: bondstesting.NewLogger(), Ledger: l})
	require.NoError(t, err)

	h := &harness{t: t, ledger: l, program: p, config: newKey(), operator: newKey(), payer: newKey()}
	l.Put(h.payer, &ledger.Account{Owner: solana.SystemProgramID, Lamports: 1_000 * sol})
	identity := newKey()
	h.vote = newKey()
	l.Put(h.vote, &ledger.Account{
		Owner:    state.VoteProgramID,
		Lamports: l.Rent().MinimumBalance(state.VoteAccountSize),
		Data:     state.EncodeVoteAccount(&state.VoteAccount{NodePubkey: identity, AuthorizedWithdrawer: identity}),
	})
	require.NoError(t, p.InitConfig(bonds.InitConfigArgs{
		Config:                         h.config,
		AdminAuthority:                 newKey(),
		OperatorAuthority:              h.operator,
		EpochsToClaimSettlement:        epochsToClaim,
		SlotsToStartSettlementClaiming: 10,
		RentPayer:                      h.payer,
	}))
	h.bond, err = p.InitBond(bonds.InitBondArgs{
		Config:            h.config,
		VoteAccount:       h.vote,
		ValidatorIdentity: &identity,
		BondAuthority:     newKey(),
		RentPayer:         h.payer,
	})
	require.NoError(t, err)
	h.withdrawer, _, err = state.FindBondsWithdrawerAuthority(p.ProgramID(), h.config)
	require.NoError(t, err)
	return h
}

func (h *harness) putBondStake(lamports uint64) solana.PublicKey {
	h.t.Helper()
	st := stake.NewInitialized(stake.Authorized{Staker: h.withdrawer, Withdrawer: h.withdrawer}, stake.Lockup{}, h.ledger.Rent())
	require.NoError(h.t, st.Delegate(h.withdrawer, h.vote, lamports, sysvar.Clock{Epoch: startEpoch - 10}))
	data, err := st.Encode()
	require.NoError(h.t, err)
	addr := newKey()
	h.ledger.Put(addr, &ledger.Account{Owner: stake.ProgramID, Lamports: lamports, Data: data})
	return addr
}

func (h *harness) driver() (*Driver, *LedgerRecipients) {
	h.t.Helper()
	recipients := NewLedgerRecipients(h.ledger, h.payer)
	d, err := NewDriver(DriverConfig{
		Logger:     bondstesting.NewLogger(),
		Program:    h.program,
		Config:     h.config,
		Operator:   h.operator,
		RentPayer:  h.payer,
		Recipients: recipients,
	})
	require.NoError(h.t, err)
	return d, recipients
}

type beneficiary struct {
	staker     solana.PublicKey
	withdrawer solana.PublicKey
	amount     uint64
}

// trees builds a collection for epoch startEpoch-1 with a bond funded tree for h.vote and a
// protocol funded tree for another vote account.
func (h *harness) trees(beneficiaries ...beneficiary) *settlement.MerkleTreeCollection {
	h.t.Helper()
	claims := make([]settlement.Claim, len(beneficiaries))
	for i, b := range beneficiaries {
		claims[i] = settlement.Claim{StakeAuthority: b.staker, WithdrawAuthority: b.withdrawer, ClaimAmount: b.amount}
	}
	trees, err := settlement.BuildMerkleTreeCollection(&settlement.SettlementCollection{
		Epoch: startEpoch - 1,
		Settlements: []settlement.Settlement{
			{Meta: settlement.PolicyMeta{Funder: settlement.FunderValidatorBond}, VoteAccount: h.vote, Claims: claims},
			{Meta: settlement.PolicyMeta{Funder: settlement.FunderProtocol}, VoteAccount: newKey(), Claims: claims[:1]},
		},
	})
	require.NoError(h.t, err)
	return trees
}

func (h *harness) bondTree(trees *settlement.MerkleTreeCollection) settlement.MerkleTree {
	for _, tree := range trees.MerkleTrees {
		if BondFunded(tree) {
			return tree
		}
	}
	h.t.Fatal("no bond funded tree")
	return settlement.MerkleTree{}
}

func (h *harness) lamports(addr solana.PublicKey) uint64 {
	acc, ok := h.ledger.Get(addr)
	if !ok {
		return 0
	}
	return acc.Lamports
}

func TestBonds_Settlements_DriverLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	funded := h.putBondStake(10 * sol)
	alice := beneficiary{staker: newKey(), withdrawer: newKey(), amount: 2 * sol}
	bob := beneficiary{staker: newKey(), withdrawer: newKey(), amount: sol}
	trees := h.trees(alice, bob)
	d, recipients := h.driver()

	report, err := d.InitSettlements(ctx, trees)
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, uint64(3*sol), report.Lamports)

	report, err = d.InitSettlements(ctx, trees)
	require.NoError(t, err)
	require.Zero(t, report.Processed)
	require.Equal(t, 2, report.Skipped)

	_, addr, err := SettlementAddress(h.program.ProgramID(), h.config, trees.Epoch, h.bondTree(trees))
	require.NoError(t, err)

	report, err = d.FundSettlements(ctx, trees)
	require.NoError(t, err)
	require.Equal(t, uint64(3*sol), report.Lamports)
	s, err := h.program.Settlement(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3*sol), s.LamportsFunded)
	st, _, err := h.program.StakeAccount(funded)
	require.NoError(t, err)
	require.Equal(t, s.StakerAuthority, st.Meta.Authorized.Staker)

	report, err = d.ClaimSettlements(ctx, trees)
	require.Error(t, err, "claiming delay has not passed")
	require.Equal(t, 1, report.Failed)

	h.ledger.AdvanceEpochs(1)
	h.ledger.AdvanceSlots(10)
	report, err = d.ClaimSettlements(ctx, trees)
	require.NoError(t, err)
	require.Equal(t, 2, report.Processed)
	require.Equal(t, uint64(3*sol), report.Lamports)
	for _, b := range []beneficiary{alice, bob} {
		to, err := recipients.StakeAccountFor(b.staker, b.withdrawer)
		require.NoError(t, err)
		require.Equal(t, h.ledger.Rent().MinimumBalance(stake.AccountSize)+b.amount, h.lamports(to))
	}

	report, err = d.ClaimSettlements(ctx, trees)
	require.NoError(t, err)
	require.Zero(t, report.Processed)

	report, err = d.CloseSettlements(ctx, trees)
	require.NoError(t, err)
	require.Zero(t, report.Processed)
	_, err = h.program.Settlement(addr)
	require.NoError(t, err)

	h.ledger.AdvanceEpochs(epochsToClaim + 1)
	report, err = d.CloseSettlements(ctx, trees)
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed)
	_, err = h.program.Settlement(addr)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	st, _, err = h.program.StakeAccount(funded)
	require.NoError(t, err)
	require.Equal(t, h.withdrawer, st.Meta.Authorized.Staker)
	require.True(t, st.IsDelegatedTo(h.vote))
}

func TestBonds_Settlements_Simulate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.putBondStake(10 * sol)
	h.putBondStake(3 * sol)
	trees := h.trees(
		beneficiary{staker: newKey(), withdrawer: newKey(), amount: 3 * sol},
		beneficiary{staker: newKey(), withdrawer: newKey(), amount: 2 * sol},
	)
	d, _ := h.driver()

	reports, err := Simulate(context.Background(), d, trees)
	require.NoError(t, err)
	require.Len(t, reports, 4)
	for _, r := range reports {
		require.True(t, r.Succeeded(), "%s: %v", r.Operation, r.Errors)
	}
	require.Equal(t, OperationClaim, reports[2].Operation)
	require.Equal(t, uint64(5*sol), reports[2].Lamports)
}

func TestBonds_Settlements_FundUnderfunded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.putBondStake(2 * sol)
	trees := h.trees(beneficiary{staker: newKey(), withdrawer: newKey(), amount: 5 * sol})
	d, _ := h.driver()

	_, err := d.InitSettlements(ctx, trees)
	require.NoError(t, err)
	report, err := d.FundSettlements(ctx, trees)
	require.ErrorContains(t, err, "covers")
	require.Equal(t, 1, report.Failed)
}

func TestBonds_Settlements_InitWithoutBond(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	trees := h.trees(beneficiary{staker: newKey(), withdrawer: newKey(), amount: sol})
	trees.MerkleTrees = append(trees.MerkleTrees, settlement.MerkleTree{
		MerkleRoot:       solana.Hash{1},
		MaxTotalClaimSum: sol,
		MaxTotalClaims:   1,
		VoteAccount:      newKey(),
		Funder:           settlement.FunderValidatorBond,
	})
	d, _ := h.driver()

	report, err := d.InitSettlements(context.Background(), trees)
	require.Error(t, err)
	require.Equal(t, 1, report.Processed)
	require.Equal(t, 1, report.Failed)
}

func (h *harness) snapshot() *onchain.Snapshot {
	h.t.Helper()
	cfg, err := h.program.Config(h.config)
	require.NoError(h.t, err)
	_, bond, err := h.program.Bond(h.config, h.vote)
	require.NoError(h.t, err)
	snap := &onchain.Snapshot{
		Epoch:         h.ledger.Clock().Epoch,
		ConfigAddress: h.config,
		Config:        *cfg,
		Bonds:         []onchain.BondAccount{{Address: h.bond, Bond: *bond}},
	}
	for _, addr := range h.ledger.Addresses(h.program.ProgramID()) {
		s, err := h.program.Settlement(addr)
		if err != nil {
			continue
		}
		snap.Settlements = append(snap.Settlements, onchain.SettlementAccount{Address: addr, Settlement: *s})
	}
	return snap
}

func TestBonds_Settlements_Verify(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	trees := h.trees(beneficiary{staker: newKey(), withdrawer: newKey(), amount: sol})
	programID := h.program.ProgramID()

	report, err := Verify(programID, h.snapshot(), trees)
	require.Error(t, err)
	require.Len(t, report.Discrepancies, 1)
	require.Equal(t, DiscrepancyMissing, report.Discrepancies[0].Kind)
	require.Equal(t, 1, report.Skipped)

	d, _ := h.driver()
	_, err = d.InitSettlements(context.Background(), trees)
	require.NoError(t, err)

	report, err = Verify(programID, h.snapshot(), trees)
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed)
	require.True(t, report.Succeeded())

	t.Run("mismatch", func(t *testing.T) {
		snap := h.snapshot()
		snap.Settlements[0].Settlement.MaxTotalClaim++
		report, err := Verify(programID, snap, trees)
		require.ErrorContains(t, err, "max total claim")
		require.Equal(t, DiscrepancyMismatch, report.Discrepancies[0].Kind)
	})

	t.Run("unknown", func(t *testing.T) {
		snap := h.snapshot()
		snap.Settlements = append(snap.Settlements, onchain.SettlementAccount{
			Address:    newKey(),
			Settlement: state.Settlement{Bond: h.bond, EpochCreatedFor: trees.Epoch},
		}, onchain.SettlementAccount{
			Address:    newKey(),
			Settlement: state.Settlement{Bond: h.bond, EpochCreatedFor: trees.Epoch - 1},
		})
		report, err := Verify(programID, snap, trees)
		require.Error(t, err)
		require.Len(t, report.Discrepancies, 1)
		require.Equal(t, DiscrepancyUnknown, report.Discrepancies[0].Kind)
		require.Equal(t, h.vote, report.Discrepancies[0].VoteAccount)
	})
}

func TestBonds_Settlements_SeedLedger(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.putBondStake(10 * sol)
	snap := h.snapshot()
	for _, addr := range h.ledger.Addresses(stake.ProgramID) {
		st, lamports, err := h.program.StakeAccount(addr)
		require.NoError(t, err)
		snap.StakeAccounts = append(snap.StakeAccounts, onchain.StakeAccount{Address: addr, Lamports: lamports, State: *st})
	}
	snap.Epoch, snap.Slot = 120, 120*sysvar.DefaultSlotsPerEpoch

	l, err := ledger.New(ledger.Config{Logger: bondstesting.NewLogger()})
	require.NoError(t, err)
	require.NoError(t, SeedLedger(l, h.program.ProgramID(), snap))
	require.Equal(t, uint64(120), l.Clock().Epoch)

	p, err := bonds.New(bonds.ProgramConfig{Logger: bondstesting.NewLogger(), Ledger: l})
	require.NoError(t, err)
	cfg, err := p.Config(h.config)
	require.NoError(t, err)
	require.Equal(t, h.operator, cfg.OperatorAuthority)
	_, bond, err := p.Bond(h.config, h.vote)
	require.NoError(t, err)
	require.Equal(t, h.vote, bond.VoteAccount)
	require.Len(t, l.Addresses(stake.ProgramID), 1)
}
