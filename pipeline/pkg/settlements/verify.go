package settlements

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/settlement"
	"github.com/malbeclabs/bonds/pipeline/pkg/onchain"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

type DiscrepancyKind string

const (
	// DiscrepancyMissing is a merkle tree without its settlement on chain.
	DiscrepancyMissing DiscrepancyKind = "missing"
	// DiscrepancyUnknown is a settlement of the epoch that no merkle tree accounts for.
	DiscrepancyUnknown DiscrepancyKind = "unknown"
	// DiscrepancyMismatch is a settlement whose caps differ from its merkle tree.
	DiscrepancyMismatch DiscrepancyKind = "mismatch"
)

type Discrepancy struct {
	Kind        DiscrepancyKind
	VoteAccount solana.PublicKey
	Settlement  solana.PublicKey
	Detail      string
}

func (d Discrepancy) Error() string {
	return fmt.Sprintf("%s settlement %s of vote account %s: %s", d.Kind, d.Settlement, d.VoteAccount, d.Detail)
}

// BondFunded reports whether a merkle tree is paid out of the validator's bond. Protocol funded
// trees are settled outside the bonds program.
func BondFunded(tree settlement.MerkleTree) bool {
	return tree.Funder == settlement.FunderValidatorBond
}

// SettlementAddress derives the settlement a bond funded merkle tree is created as.
func SettlementAddress(programID, config solana.PublicKey, epoch uint64, tree settlement.MerkleTree) (bond, addr solana.PublicKey, err error) {
	bond, _, err = state.FindBondAddress(programID, config, tree.VoteAccount)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	addr, _, err = state.FindSettlementAddress(programID, bond, tree.MerkleRoot, epoch)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return bond, addr, nil
}

// Verify checks that the on-chain settlements of the collection's epoch are exactly the bond
// funded merkle trees. Every discrepancy is reported; the error joins them all.
func Verify(programID solana.PublicKey, snap *onchain.Snapshot, trees *settlement.MerkleTreeCollection) (*Report, error) {
	report := newReport(OperationVerify, trees.Epoch)
	onchainByAddr := make(map[solana.PublicKey]onchain.SettlementAccount, len(snap.Settlements))
	for _, s := range snap.Settlements {
		onchainByAddr[s.Address] = s
	}

	var discrepancies []Discrepancy
	expected := make(map[solana.PublicKey]struct{})
	for _, tree := range trees.MerkleTrees {
		if !BondFunded(tree) {
			report.skip()
			continue
		}
		_, addr, err := SettlementAddress(programID, snap.ConfigAddress, trees.Epoch, tree)
		if err != nil {
			return nil, err
		}
		expected[addr] = struct{}{}
		got, ok := onchainByAddr[addr]
		if !ok {
			detail := "not found on chain"
			if _, ok := snap.BondByVoteAccount(tree.VoteAccount); !ok {
				detail = "vote account has no bond"
			}
			discrepancies = append(discrepancies, Discrepancy{Kind: DiscrepancyMissing, VoteAccount: tree.VoteAccount, Settlement: addr, Detail: detail})
			continue
		}
		s := got.Settlement
		if s.MaxTotalClaim != tree.MaxTotalClaimSum || s.MaxMerkleNodes != tree.MaxTotalClaims {
			discrepancies = append(discrepancies, Discrepancy{
				Kind:        DiscrepancyMismatch,
				VoteAccount: tree.VoteAccount,
				Settlement:  addr,
				Detail: fmt.Sprintf("max total claim %d, expected %d; max merkle nodes %d, expected %d",
					s.MaxTotalClaim, tree.MaxTotalClaimSum, s.MaxMerkleNodes, tree.MaxTotalClaims),
			})
			continue
		}
		report.ok(s.MaxTotalClaim)
	}

	bondVotes := make(map[solana.PublicKey]solana.PublicKey, len(snap.Bonds))
	for _, b := range snap.Bonds {
		bondVotes[b.Address] = b.Bond.VoteAccount
	}
	for _, s := range snap.Settlements {
		if s.Settlement.EpochCreatedFor != trees.Epoch {
			continue
		}
		if _, ok := expected[s.Address]; ok {
			continue
		}
		discrepancies = append(discrepancies, Discrepancy{
			Kind:        DiscrepancyUnknown,
			VoteAccount: bondVotes[s.Settlement.Bond],
			Settlement:  s.Address,
			Detail:      fmt.Sprintf("merkle root %s is not in the collection", solana.Hash(s.Settlement.MerkleRoot)),
		})
	}

	errs := make([]error, 0, len(discrepancies))
	for _, d := range discrepancies {
		report.fail(d)
		errs = append(errs, d)
	}
	report.Discrepancies = discrepancies
	return report, errors.Join(errs...)
}
