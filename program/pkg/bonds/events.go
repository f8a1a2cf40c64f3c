package bonds

import (
	"github.com/gagliardetto/solana-go"
)

const (
	EventInitConfig            = "init_config"
	EventConfigureConfig       = "configure_config"
	EventEmergencyPause        = "emergency_pause"
	EventEmergencyResume       = "emergency_resume"
	EventInitBond              = "init_bond"
	EventConfigureBond         = "configure_bond"
	EventFundBond              = "fund_bond"
	EventInitWithdrawRequest   = "init_withdraw_request"
	EventCancelWithdrawRequest = "cancel_withdraw_request"
	EventClaimWithdrawRequest  = "claim_withdraw_request"
	EventInitSettlement        = "init_settlement"
	EventFundSettlement        = "fund_settlement"
	EventClaimSettlement       = "claim_settlement"
	EventCloseSettlement       = "close_settlement"
	EventCancelSettlement      = "cancel_settlement"
	EventMergeStake            = "merge_stake"
	EventResetStake            = "reset_stake"
	EventWithdrawStake         = "withdraw_stake"
)

type BondEvent struct {
	Bond           solana.PublicKey
	VoteAccount    solana.PublicKey
	Authority      solana.PublicKey
	Cpmpe          uint64
	MaxStakeWanted uint64
}

type FundBondEvent struct {
	Bond         solana.PublicKey
	VoteAccount  solana.PublicKey
	StakeAccount solana.PublicKey
	Lamports     uint64
}

type WithdrawRequestEvent struct {
	WithdrawRequest solana.PublicKey
	Bond            solana.PublicKey
	VoteAccount     solana.PublicKey
	Epoch           uint64
	RequestedAmount uint64
	WithdrawnAmount uint64
	StakeAccount    solana.PublicKey
	SplitStake      *solana.PublicKey
}

type SettlementEvent struct {
	Settlement      solana.PublicKey
	Bond            solana.PublicKey
	VoteAccount     solana.PublicKey
	MerkleRoot      [32]byte
	Epoch           uint64
	MaxTotalClaim   uint64
	MaxMerkleNodes  uint64
	LamportsFunded  uint64
	LamportsClaimed uint64
}

type FundSettlementEvent struct {
	Settlement     solana.PublicKey
	StakeAccount   solana.PublicKey
	SplitStake     *solana.PublicKey
	FundedAmount   uint64
	LamportsFunded uint64
}

type ClaimSettlementEvent struct {
	Settlement       solana.PublicKey
	Index            uint64
	StakeAccountFrom solana.PublicKey
	StakeAccountTo   solana.PublicKey
	Staker           solana.PublicKey
	Withdrawer       solana.PublicKey
	Amount           uint64
}

type CloseSettlementEvent struct {
	Settlement         solana.PublicKey
	RentCollector      solana.PublicKey
	SplitRentCollector *solana.PublicKey
	SplitRentRefund    uint64
	Cancelled          bool
}

type StakeEvent struct {
	StakeAccount solana.PublicKey
	Source       *solana.PublicKey
	Settlement   *solana.PublicKey
	Destination  *solana.PublicKey
	Lamports     uint64
}
