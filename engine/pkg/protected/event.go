package protected

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindLowCredits         Kind = "LowCredits"
	KindCommissionIncrease Kind = "CommissionIncrease"
)

// LowCredits flags a validator that earned fewer vote credits than the stake-weighted average.
type LowCredits struct {
	VoteAccount     solana.PublicKey `json:"vote_account"`
	ExpectedCredits uint64           `json:"expected_credits"`
	ActualCredits   uint64           `json:"actual_credits"`
	Commission      uint8            `json:"commission"`
	ExpectedEpr     decimal.Decimal  `json:"expected_epr"`
	ActualEpr       decimal.Decimal  `json:"actual_epr"`
	EprLossBps      uint64           `json:"epr_loss_bps"`
	Stake           uint64           `json:"stake"`
}

// CommissionIncrease flags a validator that raised its commission between two consecutive epochs.
type CommissionIncrease struct {
	VoteAccount        solana.PublicKey `json:"vote_account"`
	PreviousCommission uint8            `json:"previous_commission"`
	CurrentCommission  uint8            `json:"current_commission"`
	ExpectedEpr        decimal.Decimal  `json:"expected_epr"`
	ActualEpr          decimal.Decimal  `json:"actual_epr"`
	EprLossBps         uint64           `json:"epr_loss_bps"`
	Stake              uint64           `json:"stake"`
}

// ProtectedEvent holds exactly one event variant. It encodes as {"<Kind>": {...}}.
type ProtectedEvent struct {
	LowCredits         *LowCredits
	CommissionIncrease *CommissionIncrease
}

var errNoVariant = errors.New("protected event has no variant set")

func (e ProtectedEvent) Kind() Kind {
	switch {
	case e.LowCredits != nil:
		return KindLowCredits
	case e.CommissionIncrease != nil:
		return KindCommissionIncrease
	}
	return ""
}

func (e ProtectedEvent) VoteAccount() solana.PublicKey {
	switch e.Kind() {
	case KindLowCredits:
		return e.LowCredits.VoteAccount
	case KindCommissionIncrease:
		return e.CommissionIncrease.VoteAccount
	}
	return solana.PublicKey{}
}

func (e ProtectedEvent) ExpectedEpr() decimal.Decimal {
	switch e.Kind() {
	case KindLowCredits:
		return e.LowCredits.ExpectedEpr
	case KindCommissionIncrease:
		return e.CommissionIncrease.ExpectedEpr
	}
	return decimal.Zero
}

func (e ProtectedEvent) ActualEpr() decimal.Decimal {
	switch e.Kind() {
	case KindLowCredits:
		return e.LowCredits.ActualEpr
	case KindCommissionIncrease:
		return e.CommissionIncrease.ActualEpr
	}
	return decimal.Zero
}

func (e ProtectedEvent) EprLossBps() uint64 {
	switch e.Kind() {
	case KindLowCredits:
		return e.LowCredits.EprLossBps
	case KindCommissionIncrease:
		return e.CommissionIncrease.EprLossBps
	}
	return 0
}

// ClaimPerStake is the epr stakers lost to the event.
func (e ProtectedEvent) ClaimPerStake() decimal.Decimal {
	return e.ExpectedEpr().Sub(e.ActualEpr())
}

// ClaimAmount is the full loss of stake lamports, rounded down.
func (e ProtectedEvent) ClaimAmount(stake uint64) uint64 {
	return lamports(e.ClaimPerStake().Mul(decimal.NewFromUint64(stake)))
}

// ClaimAmountInLossRange covers only the part of the loss between rangeBps[0] and rangeBps[1] of
// the expected epr, so that several policies can cover stacked layers of the same event.
func (e ProtectedEvent) ClaimAmountInLossRange(rangeBps [2]uint64, stake uint64) uint64 {
	expected := e.ExpectedEpr()
	upper := expected.Mul(decimal.NewFromUint64(rangeBps[1])).Div(decBps)
	ignored := expected.Mul(decimal.NewFromUint64(rangeBps[0])).Div(decBps)
	perStake := decimal.Min(upper, e.ClaimPerStake()).Sub(ignored)
	return lamports(perStake.Mul(decimal.NewFromUint64(stake)))
}

func lamports(d decimal.Decimal) uint64 {
	if !d.IsPositive() {
		return 0
	}
	return d.Floor().BigInt().Uint64()
}

func (e ProtectedEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind() {
	case KindLowCredits:
		return json.Marshal(map[Kind]*LowCredits{KindLowCredits: e.LowCredits})
	case KindCommissionIncrease:
		return json.Marshal(map[Kind]*CommissionIncrease{KindCommissionIncrease: e.CommissionIncrease})
	}
	return nil, errNoVariant
}

func (e *ProtectedEvent) UnmarshalJSON(data []byte) error {
	var raw map[Kind]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("protected event must have exactly one variant, got %d", len(raw))
	}
	*e = ProtectedEvent{}
	for kind, body := range raw {
		switch kind {
		case KindLowCredits:
			e.LowCredits = &LowCredits{}
			return json.Unmarshal(body, e.LowCredits)
		case KindCommissionIncrease:
			e.CommissionIncrease = &CommissionIncrease{}
			return json.Unmarshal(body, e.CommissionIncrease)
		default:
			return fmt.Errorf("unknown protected event kind %q", kind)
		}
	}
	return nil
}

type ProtectedEventCollection struct {
	Epoch  uint64           `json:"epoch"`
	Slot   uint64           `json:"slot"`
	Events []ProtectedEvent `json:"events"`
}

func (c *ProtectedEventCollection) EpochAndSlot() (uint64, uint64) { return c.Epoch, c.Slot }
