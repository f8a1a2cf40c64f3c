package snapshot

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/gagliardetto/solana-go"
)

// AuthorityPair is the beneficiary key of a group of stake accounts.
type AuthorityPair struct {
	WithdrawAuthority solana.PublicKey
	StakeAuthority    solana.PublicKey
}

func (a AuthorityPair) compare(b AuthorityPair) int {
	if c := bytes.Compare(a.WithdrawAuthority[:], b.WithdrawAuthority[:]); c != 0 {
		return c
	}
	return bytes.Compare(a.StakeAuthority[:], b.StakeAuthority[:])
}

// StakeGroup is every delegated stake account of one beneficiary towards one validator.
type StakeGroup struct {
	Authorities AuthorityPair
	StakeMetas  []StakeMeta
}

// ActiveStake sums the active delegation of the group.
func (g StakeGroup) ActiveStake() uint64 {
	var total uint64
	for _, m := range g.StakeMetas {
		total += m.ActiveDelegationLamports
	}
	return total
}

// StakeMetaIndex groups delegated stake by validator and beneficiary.
type StakeMetaIndex struct {
	epoch      uint64
	slot       uint64
	validators map[solana.PublicKey]ValidatorMeta
	groups     map[solana.PublicKey][]StakeGroup
}

// NewStakeMetaIndex indexes stakes by vote account. Undelegated stake is left out. Both collections
// must come from the same bank.
func NewStakeMetaIndex(validators *ValidatorMetaCollection, stakes *StakeMetaCollection) (*StakeMetaIndex, error) {
	if err := CheckSameEpochSlot(validators, stakes); err != nil {
		return nil, fmt.Errorf("failed to index stake metas: %w", err)
	}
	idx := &StakeMetaIndex{
		epoch:      stakes.Epoch,
		slot:       stakes.Slot,
		validators: make(map[solana.PublicKey]ValidatorMeta, len(validators.ValidatorMetas)),
		groups:     make(map[solana.PublicKey][]StakeGroup),
	}
	for _, v := range validators.ValidatorMetas {
		idx.validators[v.VoteAccount] = v
	}

	byVote := make(map[solana.PublicKey]map[AuthorityPair][]StakeMeta)
	for _, m := range stakes.StakeMetas {
		if m.Validator == nil {
			continue
		}
		pairs, ok := byVote[*m.Validator]
		if !ok {
			pairs = make(map[AuthorityPair][]StakeMeta)
			byVote[*m.Validator] = pairs
		}
		key := AuthorityPair{WithdrawAuthority: m.WithdrawAuthority, StakeAuthority: m.StakeAuthority}
		pairs[key] = append(pairs[key], m)
	}
	for vote, pairs := range byVote {
		groups := make([]StakeGroup, 0, len(pairs))
		for key, metas := range pairs {
			slices.SortFunc(metas, func(a, b StakeMeta) int { return bytes.Compare(a.Pubkey[:], b.Pubkey[:]) })
			groups = append(groups, StakeGroup{Authorities: key, StakeMetas: metas})
		}
		slices.SortFunc(groups, func(a, b StakeGroup) int { return a.Authorities.compare(b.Authorities) })
		idx.groups[vote] = groups
	}
	return idx, nil
}

func (idx *StakeMetaIndex) Epoch() uint64 { return idx.epoch }
func (idx *StakeMetaIndex) Slot() uint64  { return idx.slot }

// ValidatorMeta looks up the snapshot meta of a vote account.
func (idx *StakeMetaIndex) ValidatorMeta(voteAccount solana.PublicKey) (ValidatorMeta, bool) {
	v, ok := idx.validators[voteAccount]
	return v, ok
}

// IterGrouped returns the stake groups delegated to voteAccount ordered by withdraw then stake
// authority, or false when nothing is delegated to it.
func (idx *StakeMetaIndex) IterGrouped(voteAccount solana.PublicKey) ([]StakeGroup, bool) {
	groups, ok := idx.groups[voteAccount]
	return groups, ok
}

// VoteAccounts lists every validator with delegated stake in byte order.
func (idx *StakeMetaIndex) VoteAccounts() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(idx.groups))
	for vote := range idx.groups {
		out = append(out, vote)
	}
	slices.SortFunc(out, func(a, b solana.PublicKey) int { return bytes.Compare(a[:], b[:]) })
	return out
}
