package protected

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/snapshot"
	"github.com/shopspring/decimal"
)

// ExpectedCredits is the stake-weighted average of vote credits, rounded down.
func ExpectedCredits(validators *snapshot.ValidatorMetaCollection) uint64 {
	total := validators.TotalStake()
	if total == 0 {
		return 0
	}
	weighted := decimal.Zero
	for _, v := range validators.ValidatorMetas {
		weighted = weighted.Add(decimal.NewFromUint64(v.Credits).Mul(decimal.NewFromUint64(v.Stake)))
	}
	return weighted.Div(decimal.NewFromUint64(total)).Floor().BigInt().Uint64()
}

// CollectLowCreditsEvents flags every staked validator that charges less than full commission and
// earned fewer credits than expected.
func CollectLowCreditsEvents(validators *snapshot.ValidatorMetaCollection) []ProtectedEvent {
	calc := NewEprCalculator(validators)
	expected := ExpectedCredits(validators)
	if expected == 0 {
		return nil
	}
	var events []ProtectedEvent
	for _, v := range sortedMetas(validators) {
		if v.Stake == 0 || v.Credits >= expected || v.Commission >= 100 {
			continue
		}
		expectedEpr := calc.ExpectedEpr(v.Commission)
		actualEpr := expectedEpr.Mul(decimal.NewFromUint64(v.Credits)).Div(decimal.NewFromUint64(expected))
		events = append(events, ProtectedEvent{LowCredits: &LowCredits{
			VoteAccount:     v.VoteAccount,
			ExpectedCredits: expected,
			ActualCredits:   v.Credits,
			Commission:      v.Commission,
			ExpectedEpr:     expectedEpr,
			ActualEpr:       actualEpr,
			EprLossBps:      Bps(expected-v.Credits, expected),
			Stake:           v.Stake,
		}})
	}
	return events
}

// CollectCommissionIncreaseEvents compares the commission of every staked validator in current
// with the epoch before it.
func CollectCommissionIncreaseEvents(current, previous *snapshot.ValidatorMetaCollection) ([]ProtectedEvent, error) {
	if previous.Epoch+1 != current.Epoch {
		return nil, fmt.Errorf("previous validators are for epoch %d, expected %d", previous.Epoch, current.Epoch-1)
	}
	calc := NewEprCalculator(current)
	prev := make(map[solana.PublicKey]uint8, len(previous.ValidatorMetas))
	for _, v := range previous.ValidatorMetas {
		prev[v.VoteAccount] = clampCommission(v.Commission)
	}
	var events []ProtectedEvent
	for _, v := range sortedMetas(current) {
		before, ok := prev[v.VoteAccount]
		if !ok || v.Stake == 0 {
			continue
		}
		now := clampCommission(v.Commission)
		if now <= before {
			continue
		}
		events = append(events, ProtectedEvent{CommissionIncrease: &CommissionIncrease{
			VoteAccount:        v.VoteAccount,
			PreviousCommission: before,
			CurrentCommission:  now,
			ExpectedEpr:        calc.ExpectedEpr(before),
			ActualEpr:          calc.ExpectedEpr(now),
			EprLossBps:         maxBps - Bps(uint64(100-now), uint64(100-before)),
			Stake:              v.Stake,
		}})
	}
	return events, nil
}

// Collect runs every detector over the snapshot. previous may be nil, in which case commission
// increases are not detected.
func Collect(current, previous *snapshot.ValidatorMetaCollection) (*ProtectedEventCollection, error) {
	events := CollectLowCreditsEvents(current)
	if previous != nil {
		increases, err := CollectCommissionIncreaseEvents(current, previous)
		if err != nil {
			return nil, err
		}
		events = append(events, increases...)
	}
	return &ProtectedEventCollection{Epoch: current.Epoch, Slot: current.Slot, Events: events}, nil
}

func sortedMetas(validators *snapshot.ValidatorMetaCollection) []snapshot.ValidatorMeta {
	metas := slices.Clone(validators.ValidatorMetas)
	slices.SortFunc(metas, func(a, b snapshot.ValidatorMeta) int {
		return bytes.Compare(a.VoteAccount[:], b.VoteAccount[:])
	})
	return metas
}
