package settlement

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/merkle"
)

// TreeNode is one leaf of a settlement tree: the total a beneficiary may claim.
type TreeNode struct {
	Index             uint64           `json:"index"`
	StakeAuthority    solana.PublicKey `json:"stake_authority"`
	WithdrawAuthority solana.PublicKey `json:"withdraw_authority"`
	Claim             uint64           `json:"claim"`
	Proof             []solana.Hash    `json:"proof"`
}

// Hash is the leaf item committed to the tree.
func (n TreeNode) Hash(voteAccount solana.PublicKey) solana.Hash {
	return merkle.HashIndexedLeafNode(n.StakeAuthority, n.WithdrawAuthority, voteAccount, n.Claim, n.Index)
}

// MerkleTree is the artifact one on-chain settlement is created from.
type MerkleTree struct {
	MerkleRoot       solana.Hash      `json:"merkle_root"`
	MaxTotalClaimSum uint64           `json:"max_total_claim_sum"`
	MaxTotalClaims   uint64           `json:"max_total_claims"`
	VoteAccount      solana.PublicKey `json:"vote_account"`
	Funder           Funder           `json:"funder"`
	TreeNodes        []TreeNode       `json:"tree_nodes"`
}

// Node finds the leaf of a beneficiary.
func (t *MerkleTree) Node(stakeAuthority, withdrawAuthority solana.PublicKey) (TreeNode, bool) {
	for _, n := range t.TreeNodes {
		if n.StakeAuthority == stakeAuthority && n.WithdrawAuthority == withdrawAuthority {
			return n, true
		}
	}
	return TreeNode{}, false
}

// Verify recomputes every proof against the stored root.
func (t *MerkleTree) Verify() error {
	for _, n := range t.TreeNodes {
		if !merkle.Verify(n.Proof, t.MerkleRoot, merkle.HashLeaf(n.Hash(t.VoteAccount))) {
			return fmt.Errorf("proof of node %d does not verify against root %s", n.Index, t.MerkleRoot)
		}
	}
	return nil
}

type MerkleTreeCollection struct {
	Epoch       uint64       `json:"epoch"`
	Slot        uint64       `json:"slot"`
	MerkleTrees []MerkleTree `json:"merkle_trees"`
}

func (c *MerkleTreeCollection) EpochAndSlot() (uint64, uint64) { return c.Epoch, c.Slot }

type treeKey struct {
	voteAccount solana.PublicKey
	funder      Funder
}

type beneficiary struct {
	stakeAuthority    solana.PublicKey
	withdrawAuthority solana.PublicKey
}

// BuildMerkleTreeCollection builds one tree per (vote account, funder). Claims of the same
// beneficiary across settlements are merged into a single leaf. Trees are ordered by vote account
// then funder, leaves by stake authority then withdraw authority.
func BuildMerkleTreeCollection(settlements *SettlementCollection) (*MerkleTreeCollection, error) {
	claims := make(map[treeKey]map[beneficiary]uint64)
	for _, s := range settlements.Settlements {
		key := treeKey{voteAccount: s.VoteAccount, funder: s.Meta.Funder}
		byBeneficiary, ok := claims[key]
		if !ok {
			byBeneficiary = make(map[beneficiary]uint64)
			claims[key] = byBeneficiary
		}
		for _, c := range s.Claims {
			b := beneficiary{stakeAuthority: c.StakeAuthority, withdrawAuthority: c.WithdrawAuthority}
			byBeneficiary[b] += c.ClaimAmount
		}
	}

	keys := make([]treeKey, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b treeKey) int {
		if c := bytes.Compare(a.voteAccount[:], b.voteAccount[:]); c != 0 {
			return c
		}
		return strings.Compare(string(a.funder), string(b.funder))
	})

	out := &MerkleTreeCollection{Epoch: settlements.Epoch, Slot: settlements.Slot, MerkleTrees: []MerkleTree{}}
	for _, k := range keys {
		tree, err := buildTree(k, claims[k])
		if err != nil {
			return nil, fmt.Errorf("failed to build merkle tree for %s: %w", k.voteAccount, err)
		}
		out.MerkleTrees = append(out.MerkleTrees, *tree)
	}
	return out, nil
}

func buildTree(key treeKey, claims map[beneficiary]uint64) (*MerkleTree, error) {
	owners := make([]beneficiary, 0, len(claims))
	for b := range claims {
		owners = append(owners, b)
	}
	slices.SortFunc(owners, func(a, b beneficiary) int {
		if c := bytes.Compare(a.stakeAuthority[:], b.stakeAuthority[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.withdrawAuthority[:], b.withdrawAuthority[:])
	})

	t := &MerkleTree{VoteAccount: key.voteAccount, Funder: key.funder, TreeNodes: make([]TreeNode, len(owners))}
	items := make([]solana.Hash, len(owners))
	for i, o := range owners {
		n := TreeNode{
			Index:             uint64(i),
			StakeAuthority:    o.stakeAuthority,
			WithdrawAuthority: o.withdrawAuthority,
			Claim:             claims[o],
		}
		t.TreeNodes[i] = n
		items[i] = n.Hash(key.voteAccount)
		t.MaxTotalClaimSum += n.Claim
	}
	t.MaxTotalClaims = uint64(len(owners))

	tree, err := merkle.NewTree(items)
	if err != nil {
		return nil, err
	}
	t.MerkleRoot = tree.Root()
	for i := range t.TreeNodes {
		proof, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		t.TreeNodes[i].Proof = proof
	}
	return t, nil
}
