package state

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ProgramID = solana.MustPublicKeyFromBase58("vBoNdEvzMrSai7is21XgVYik65mqtaKXuSdMBJ1xkW4")

var (
	BondSeed                = []byte("bond_account")
	SettlementSeed          = []byte("settlement_account")
	BondsWithdrawerSeed     = []byte("bonds_authority")
	SettlementAuthoritySeed = []byte("settlement_authority")
	WithdrawRequestSeed     = []byte("withdraw_account")
	SettlementClaimSeed     = []byte("claim_account")
	SettlementClaimsSeed    = []byte("claims_account")
)

func findAddress(programID solana.PublicKey, seeds ...[]byte) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive program address: %w", err)
	}
	return addr, bump, nil
}

func FindBondAddress(programID, config, voteAccount solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findAddress(programID, BondSeed, config[:], voteAccount[:])
}

func FindSettlementAddress(programID, bond solana.PublicKey, merkleRoot [32]byte, epoch uint64) (solana.PublicKey, uint8, error) {
	var epochLE [8]byte
	binary.LittleEndian.PutUint64(epochLE[:], epoch)
	return findAddress(programID, SettlementSeed, bond[:], merkleRoot[:], epochLE[:])
}

// FindBondsWithdrawerAuthority is the signer that every bond stake account lists as withdrawer.
func FindBondsWithdrawerAuthority(programID, config solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findAddress(programID, BondsWithdrawerSeed, config[:])
}

// FindSettlementStakerAuthority marks stake accounts funded to one settlement.
func FindSettlementStakerAuthority(programID, settlement solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findAddress(programID, SettlementAuthoritySeed, settlement[:])
}

func FindWithdrawRequestAddress(programID, bond solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findAddress(programID, WithdrawRequestSeed, bond[:])
}

func FindSettlementClaimsAddress(programID, settlement solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findAddress(programID, SettlementClaimsSeed, settlement[:])
}

// FindSettlementClaimAddress derives the legacy per-claim record address from the tree node hash
// of (staker, withdrawer, vote account, claim).
func FindSettlementClaimAddress(programID, settlement solana.PublicKey, treeNodeHash [32]byte) (solana.PublicKey, uint8, error) {
	return findAddress(programID, SettlementClaimSeed, settlement[:], treeNodeHash[:])
}
