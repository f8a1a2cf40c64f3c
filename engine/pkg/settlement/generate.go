package settlement

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/protected"
	"github.com/malbeclabs/bonds/engine/pkg/snapshot"
)

// Claim is the entitlement of one (withdraw authority, stake authority) pair.
type Claim struct {
	WithdrawAuthority solana.PublicKey            `json:"withdraw_authority"`
	StakeAuthority    solana.PublicKey            `json:"stake_authority"`
	StakeAccounts     map[solana.PublicKey]uint64 `json:"stake_accounts"`
	ActiveStake       uint64                      `json:"active_stake"`
	ClaimAmount       uint64                      `json:"claim_amount"`
}

type Settlement struct {
	Reason       protected.ProtectedEvent `json:"reason"`
	Meta         PolicyMeta               `json:"meta"`
	VoteAccount  solana.PublicKey         `json:"vote_account"`
	ClaimsCount  uint64                   `json:"claims_count"`
	ClaimsAmount uint64                   `json:"claims_amount"`
	Claims       []Claim                  `json:"claims"`
}

type SettlementCollection struct {
	Epoch       uint64       `json:"epoch"`
	Slot        uint64       `json:"slot"`
	Settlements []Settlement `json:"settlements"`
}

func (c *SettlementCollection) EpochAndSlot() (uint64, uint64) { return c.Epoch, c.Slot }

// StakeAuthorityFilter limits claims to the listed stake authorities. An empty filter allows all.
type StakeAuthorityFilter map[solana.PublicKey]struct{}

func NewStakeAuthorityFilter(authorities ...solana.PublicKey) StakeAuthorityFilter {
	f := make(StakeAuthorityFilter, len(authorities))
	for _, a := range authorities {
		f[a] = struct{}{}
	}
	return f
}

func (f StakeAuthorityFilter) Allows(authority solana.PublicKey) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[authority]
	return ok
}

// Generate emits, per policy in order, one settlement for every matching protected event whose
// total claims reach the policy minimum.
func Generate(events *protected.ProtectedEventCollection, index *snapshot.StakeMetaIndex, policies []Policy, filter StakeAuthorityFilter) (*SettlementCollection, error) {
	if events.Epoch != index.Epoch() || events.Slot != index.Slot() {
		return nil, fmt.Errorf("protected events are for epoch %d slot %d, stake index for epoch %d slot %d", events.Epoch, events.Slot, index.Epoch(), index.Slot())
	}
	out := &SettlementCollection{Epoch: events.Epoch, Slot: events.Slot, Settlements: []Settlement{}}
	for i, policy := range policies {
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("policy %d: %w", i, err)
		}
		for _, event := range events.Events {
			if !policy.Matches(event) {
				continue
			}
			if s, ok := settle(event, index, policy, filter); ok {
				out.Settlements = append(out.Settlements, s)
			}
		}
	}
	return out, nil
}

func settle(event protected.ProtectedEvent, index *snapshot.StakeMetaIndex, policy Policy, filter StakeAuthorityFilter) (Settlement, bool) {
	groups, ok := index.IterGrouped(event.VoteAccount())
	if !ok {
		return Settlement{}, false
	}
	s := Settlement{Reason: event, Meta: policy.Meta(), VoteAccount: event.VoteAccount()}
	for _, g := range groups {
		if !filter.Allows(g.Authorities.StakeAuthority) {
			continue
		}
		accounts := make(map[solana.PublicKey]uint64, len(g.StakeMetas))
		for _, m := range g.StakeMetas {
			accounts[m.Pubkey] = m.ActiveDelegationLamports
		}
		active := g.ActiveStake()
		if active == 0 {
			continue
		}
		amount := event.ClaimAmountInLossRange(policy.CoveredRangeBps(), active)
		if amount == 0 {
			continue
		}
		s.Claims = append(s.Claims, Claim{
			WithdrawAuthority: g.Authorities.WithdrawAuthority,
			StakeAuthority:    g.Authorities.StakeAuthority,
			StakeAccounts:     accounts,
			ActiveStake:       active,
			ClaimAmount:       amount,
		})
		s.ClaimsAmount += amount
	}
	s.ClaimsCount = uint64(len(s.Claims))
	if s.ClaimsCount == 0 || s.ClaimsAmount < policy.MinSettlementLamports() {
		return Settlement{}, false
	}
	return s, true
}
