package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// ValidatorMeta is the per-validator view of a bank snapshot.
type ValidatorMeta struct {
	VoteAccount solana.PublicKey `json:"vote_account"`
	Commission  uint8            `json:"commission"`
	// MevCommission is in basis points; nil when the validator runs no MEV client.
	MevCommission *uint16 `json:"mev_commission"`
	Stake         uint64  `json:"stake"`
	Credits       uint64  `json:"credits"`
}

type ValidatorMetaCollection struct {
	Epoch                uint64          `json:"epoch"`
	Slot                 uint64          `json:"slot"`
	Capitalization       uint64          `json:"capitalization"`
	EpochDurationInYears float64         `json:"epoch_duration_in_years"`
	ValidatorRate        float64         `json:"validator_rate"`
	ValidatorRewards     uint64          `json:"validator_rewards"`
	ValidatorMetas       []ValidatorMeta `json:"validator_metas"`
}

// TotalStake sums the stake of every validator in the collection.
func (c *ValidatorMetaCollection) TotalStake() uint64 {
	var total uint64
	for _, v := range c.ValidatorMetas {
		total += v.Stake
	}
	return total
}

// Find returns the meta of voteAccount, if present.
func (c *ValidatorMetaCollection) Find(voteAccount solana.PublicKey) (ValidatorMeta, bool) {
	for _, v := range c.ValidatorMetas {
		if v.VoteAccount == voteAccount {
			return v, true
		}
	}
	return ValidatorMeta{}, false
}

// StakeMeta is the per-stake-account view of a bank snapshot. Validator is nil for undelegated
// stake.
type StakeMeta struct {
	Pubkey                         solana.PublicKey  `json:"pubkey"`
	BalanceLamports                uint64            `json:"balance_lamports"`
	ActiveDelegationLamports       uint64            `json:"active_delegation_lamports"`
	ActivatingDelegationLamports   uint64            `json:"activating_delegation_lamports"`
	DeactivatingDelegationLamports uint64            `json:"deactivating_delegation_lamports"`
	Validator                      *solana.PublicKey `json:"validator"`
	StakeAuthority                 solana.PublicKey  `json:"stake_authority"`
	WithdrawAuthority              solana.PublicKey  `json:"withdraw_authority"`
}

type StakeMetaCollection struct {
	Epoch      uint64      `json:"epoch"`
	Slot       uint64      `json:"slot"`
	StakeMetas []StakeMeta `json:"stake_metas"`
}

// EpochSlot is implemented by every collection that is tied to a snapshot bank.
type EpochSlot interface {
	EpochAndSlot() (epoch, slot uint64)
}

func (c *ValidatorMetaCollection) EpochAndSlot() (uint64, uint64) { return c.Epoch, c.Slot }
func (c *StakeMetaCollection) EpochAndSlot() (uint64, uint64)     { return c.Epoch, c.Slot }

// CheckSameEpochSlot fails unless every collection was produced from the same bank.
func CheckSameEpochSlot(collections ...EpochSlot) error {
	if len(collections) < 2 {
		return nil
	}
	epoch, slot := collections[0].EpochAndSlot()
	for i, c := range collections[1:] {
		e, s := c.EpochAndSlot()
		if e != epoch || s != slot {
			return fmt.Errorf("collection %d is for epoch %d slot %d, expected epoch %d slot %d", i+1, e, s, epoch, slot)
		}
	}
	return nil
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v to path as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func LoadValidatorMetaCollection(path string) (*ValidatorMetaCollection, error) {
	var c ValidatorMetaCollection
	if err := ReadJSON(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func LoadStakeMetaCollection(path string) (*StakeMetaCollection, error) {
	var c StakeMetaCollection
	if err := ReadJSON(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
