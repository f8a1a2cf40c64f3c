package settlement

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/merkle"
	"github.com/malbeclabs/bonds/engine/pkg/protected"
	"github.com/malbeclabs/bonds/engine/pkg/snapshot"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	voteA     = solana.PublicKey{0xa}
	voteB     = solana.PublicKey{0xb}
	staker1   = solana.PublicKey{1}
	staker2   = solana.PublicKey{2}
	withdraw1 = solana.PublicKey{0x11}
	withdraw2 = solana.PublicKey{0x12}
)

const policiesJSON = `{
  "policies": [
    {"LowCredits": {"meta": {"funder": "ValidatorBond"}, "min_settlement_lamports": 1000, "grace_low_credits_bps": 500, "covered_range_bps": [0, 10000]}},
    {"CommissionIncrease": {"meta": {"funder": "Protocol"}, "min_settlement_lamports": 0, "grace_increase_bps": 0, "covered_range_bps": [0, 5000]}}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBonds_Settlement_PolicyFile(t *testing.T) {
	t.Parallel()

	pf, err := LoadPolicyFile(writeFile(t, "policies.json", policiesJSON))
	require.NoError(t, err)
	require.Len(t, pf.Policies, 2)
	require.Equal(t, protected.KindLowCredits, pf.Policies[0].Kind())
	require.Equal(t, FunderValidatorBond, pf.Policies[0].Meta().Funder)
	require.Equal(t, uint64(1000), pf.Policies[0].MinSettlementLamports())
	require.Equal(t, protected.KindCommissionIncrease, pf.Policies[1].Kind())
	require.Equal(t, [2]uint64{0, 5000}, pf.Policies[1].CoveredRangeBps())

	data, err := json.Marshal(pf)
	require.NoError(t, err)
	var again PolicyFile
	require.NoError(t, json.Unmarshal(data, &again))
	require.Equal(t, pf, &again)

	for name, content := range map[string]string{
		"unknown kind":    `{"policies": [{"Downtime": {}}]}`,
		"two variants":    `{"policies": [{"LowCredits": {}, "CommissionIncrease": {}}]}`,
		"unknown funder":  `{"policies": [{"LowCredits": {"meta": {"funder": "Treasury"}, "covered_range_bps": [0, 1]}}]}`,
		"inverted range":  `{"policies": [{"LowCredits": {"meta": {"funder": "Protocol"}, "covered_range_bps": [10, 1]}}]}`,
		"range above max": `{"policies": [{"LowCredits": {"meta": {"funder": "Protocol"}, "covered_range_bps": [0, 10001]}}]}`,
	} {
		_, err := LoadPolicyFile(writeFile(t, "policies.json", content))
		require.Error(t, err, name)
	}
	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestBonds_Settlement_PolicyMatches(t *testing.T) {
	t.Parallel()

	policy := Policy{LowCredits: &LowCreditsPolicy{Meta: PolicyMeta{Funder: FunderProtocol}, GraceLowCreditsBps: 500}}
	require.True(t, policy.Matches(protected.ProtectedEvent{LowCredits: &protected.LowCredits{EprLossBps: 501}}))
	require.False(t, policy.Matches(protected.ProtectedEvent{LowCredits: &protected.LowCredits{EprLossBps: 500}}))
	require.False(t, policy.Matches(protected.ProtectedEvent{CommissionIncrease: &protected.CommissionIncrease{EprLossBps: 9000}}))
	require.Error(t, Policy{}.Validate())
}

func stakeMeta(pubkey byte, vote *solana.PublicKey, withdraw, staker solana.PublicKey, active uint64) snapshot.StakeMeta {
	return snapshot.StakeMeta{
		Pubkey:                   solana.PublicKey{0xee, pubkey},
		ActiveDelegationLamports: active,
		Validator:                vote,
		StakeAuthority:           staker,
		WithdrawAuthority:        withdraw,
	}
}

func testIndex(t *testing.T) *snapshot.StakeMetaIndex {
	t.Helper()
	idx, err := snapshot.NewStakeMetaIndex(
		&snapshot.ValidatorMetaCollection{Epoch: 100, Slot: 7},
		&snapshot.StakeMetaCollection{
			Epoch: 100,
			Slot:  7,
			StakeMetas: []snapshot.StakeMeta{
				stakeMeta(1, &voteA, withdraw1, staker1, 600_000),
				stakeMeta(2, &voteA, withdraw1, staker1, 400_000),
				stakeMeta(3, &voteA, withdraw2, staker2, 2_000_000),
				stakeMeta(4, &voteA, withdraw2, staker1, 0),
				stakeMeta(5, &voteB, withdraw1, staker1, 250_000),
			},
		},
	)
	require.NoError(t, err)
	return idx
}

func lowCreditsEvent(vote solana.PublicKey, lossBps uint64) protected.ProtectedEvent {
	return protected.ProtectedEvent{LowCredits: &protected.LowCredits{
		VoteAccount: vote,
		ExpectedEpr: decimal.RequireFromString("0.01"),
		ActualEpr:   decimal.RequireFromString("0.004"),
		EprLossBps:  lossBps,
	}}
}

func TestBonds_Settlement_Generate(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	events := &protected.ProtectedEventCollection{
		Epoch: 100,
		Slot:  7,
		Events: []protected.ProtectedEvent{
			lowCreditsEvent(voteA, 6000),
			lowCreditsEvent(voteB, 6000),
			lowCreditsEvent(solana.PublicKey{0xc}, 6000),
		},
	}
	policies := []Policy{
		{LowCredits: &LowCreditsPolicy{Meta: PolicyMeta{Funder: FunderValidatorBond}, MinSettlementLamports: 1000, GraceLowCreditsBps: 500, CoveredRangeBps: [2]uint64{0, 2000}}},
		{LowCredits: &LowCreditsPolicy{Meta: PolicyMeta{Funder: FunderProtocol}, CoveredRangeBps: [2]uint64{2000, 10000}}},
	}

	got, err := Generate(events, idx, policies, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.Epoch)
	// voteB claims fall below the first policy minimum; the unknown vote account has no stake.
	require.Len(t, got.Settlements, 3)

	first := got.Settlements[0]
	require.Equal(t, voteA, first.VoteAccount)
	require.Equal(t, FunderValidatorBond, first.Meta.Funder)
	require.Equal(t, uint64(2), first.ClaimsCount)
	require.Equal(t, uint64(6_000), first.ClaimsAmount)
	require.Equal(t, Claim{
		WithdrawAuthority: withdraw1,
		StakeAuthority:    staker1,
		StakeAccounts:     map[solana.PublicKey]uint64{{0xee, 1}: 600_000, {0xee, 2}: 400_000},
		ActiveStake:       1_000_000,
		ClaimAmount:       2_000,
	}, first.Claims[0])
	require.Equal(t, uint64(4_000), first.Claims[1].ClaimAmount)

	require.Equal(t, FunderProtocol, got.Settlements[1].Meta.Funder)
	require.Equal(t, uint64(12_000), got.Settlements[1].ClaimsAmount)
	require.Equal(t, voteB, got.Settlements[2].VoteAccount)
	require.Equal(t, uint64(1_000), got.Settlements[2].ClaimsAmount)

	filtered, err := Generate(events, idx, policies[:1], NewStakeAuthorityFilter(staker2))
	require.NoError(t, err)
	require.Len(t, filtered.Settlements, 1)
	require.Equal(t, staker2, filtered.Settlements[0].Claims[0].StakeAuthority)

	events.Slot = 8
	_, err = Generate(events, idx, policies, nil)
	require.Error(t, err)
}

func TestBonds_Settlement_BuildMerkleTreeCollection(t *testing.T) {
	t.Parallel()

	settlements := &SettlementCollection{
		Epoch: 100,
		Slot:  7,
		Settlements: []Settlement{
			{VoteAccount: voteB, Meta: PolicyMeta{Funder: FunderProtocol}, Claims: []Claim{
				{StakeAuthority: staker2, WithdrawAuthority: withdraw2, ClaimAmount: 5},
			}},
			{VoteAccount: voteA, Meta: PolicyMeta{Funder: FunderValidatorBond}, Claims: []Claim{
				{StakeAuthority: staker2, WithdrawAuthority: withdraw2, ClaimAmount: 30},
				{StakeAuthority: staker1, WithdrawAuthority: withdraw1, ClaimAmount: 10},
			}},
			{VoteAccount: voteA, Meta: PolicyMeta{Funder: FunderValidatorBond}, Claims: []Claim{
				{StakeAuthority: staker1, WithdrawAuthority: withdraw1, ClaimAmount: 20},
				{StakeAuthority: staker1, WithdrawAuthority: withdraw2, ClaimAmount: 1},
			}},
			{VoteAccount: voteA, Meta: PolicyMeta{Funder: FunderProtocol}, Claims: []Claim{
				{StakeAuthority: staker1, WithdrawAuthority: withdraw1, ClaimAmount: 7},
			}},
		},
	}

	got, err := BuildMerkleTreeCollection(settlements)
	require.NoError(t, err)
	require.Len(t, got.MerkleTrees, 3)
	require.Equal(t, voteA, got.MerkleTrees[0].VoteAccount)
	require.Equal(t, FunderProtocol, got.MerkleTrees[0].Funder)
	require.Equal(t, FunderValidatorBond, got.MerkleTrees[1].Funder)
	require.Equal(t, voteB, got.MerkleTrees[2].VoteAccount)

	tree := got.MerkleTrees[1]
	require.Equal(t, uint64(61), tree.MaxTotalClaimSum)
	require.Equal(t, uint64(3), tree.MaxTotalClaims)
	require.Equal(t, []uint64{30, 1, 30}, []uint64{tree.TreeNodes[0].Claim, tree.TreeNodes[1].Claim, tree.TreeNodes[2].Claim})
	for i, n := range tree.TreeNodes {
		require.Equal(t, uint64(i), n.Index)
		require.True(t, merkle.Verify(n.Proof, tree.MerkleRoot, merkle.HashLeaf(n.Hash(voteA))))
	}
	require.NoError(t, tree.Verify())

	node, ok := tree.Node(staker2, withdraw2)
	require.True(t, ok)
	require.Equal(t, uint64(2), node.Index)
	_, ok = tree.Node(staker2, withdraw1)
	require.False(t, ok)

	again, err := BuildMerkleTreeCollection(settlements)
	require.NoError(t, err)
	require.Equal(t, got, again)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	var decoded MerkleTreeCollection
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, decoded.MerkleTrees[1].Verify())

	decoded.MerkleTrees[1].TreeNodes[0].Claim++
	require.Error(t, decoded.MerkleTrees[1].Verify())
}
