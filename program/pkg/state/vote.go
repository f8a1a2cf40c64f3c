package state

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

var VoteProgramID = solana.VoteProgramID

// VoteAccountSize is the allocation of a current vote account.
const VoteAccountSize = 3762

// Vote state versions share a prefix: u32 version tag, node pubkey, authorized withdrawer, commission.
const (
	voteNodeOffset       = 4
	voteWithdrawerOffset = voteNodeOffset + 32
	voteCommissionOffset = voteWithdrawerOffset + 32
)

// VoteAccount is the prefix of a vote account the bonds program reads.
type VoteAccount struct {
	NodePubkey           solana.PublicKey
	AuthorizedWithdrawer solana.PublicKey
	Commission           uint8
}

func DecodeVoteAccount(data []byte) (*VoteAccount, error) {
	if len(data) < voteCommissionOffset+1 {
		return nil, ErrAccountTooSmall
	}
	return &VoteAccount{
		NodePubkey:           solana.PublicKeyFromBytes(data[voteNodeOffset:voteWithdrawerOffset]),
		AuthorizedWithdrawer: solana.PublicKeyFromBytes(data[voteWithdrawerOffset:voteCommissionOffset]),
		Commission:           data[voteCommissionOffset],
	}, nil
}

// EncodeVoteAccount writes a current-version vote account with the given prefix and an empty tail.
func EncodeVoteAccount(v *VoteAccount) []byte {
	data := make([]byte, VoteAccountSize)
	binary.LittleEndian.PutUint32(data[:voteNodeOffset], 2)
	copy(data[voteNodeOffset:], v.NodePubkey[:])
	copy(data[voteWithdrawerOffset:], v.AuthorizedWithdrawer[:])
	data[voteCommissionOffset] = v.Commission
	return data
}
