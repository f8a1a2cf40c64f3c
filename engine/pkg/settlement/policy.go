package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/malbeclabs/bonds/engine/pkg/protected"
)

// Funder is who pays a settlement out.
type Funder string

const (
	FunderProtocol      Funder = "Protocol"
	FunderValidatorBond Funder = "ValidatorBond"
)

func (f Funder) Validate() error {
	switch f {
	case FunderProtocol, FunderValidatorBond:
		return nil
	}
	return fmt.Errorf("unknown funder %q", f)
}

type PolicyMeta struct {
	Funder Funder `json:"funder"`
}

type LowCreditsPolicy struct {
	Meta                  PolicyMeta `json:"meta"`
	MinSettlementLamports uint64     `json:"min_settlement_lamports"`
	GraceLowCreditsBps    uint64     `json:"grace_low_credits_bps"`
	CoveredRangeBps       [2]uint64  `json:"covered_range_bps"`
}

type CommissionIncreasePolicy struct {
	Meta                  PolicyMeta `json:"meta"`
	MinSettlementLamports uint64     `json:"min_settlement_lamports"`
	GraceIncreaseBps      uint64     `json:"grace_increase_bps"`
	CoveredRangeBps       [2]uint64  `json:"covered_range_bps"`
}

// Policy holds exactly one policy variant. It encodes as {"<Kind>": {...}} with the kinds of
// protected events.
type Policy struct {
	LowCredits         *LowCreditsPolicy
	CommissionIncrease *CommissionIncreasePolicy
}

var errNoPolicyVariant = errors.New("settlement policy has no variant set")

func (p Policy) Kind() protected.Kind {
	switch {
	case p.LowCredits != nil:
		return protected.KindLowCredits
	case p.CommissionIncrease != nil:
		return protected.KindCommissionIncrease
	}
	return ""
}

func (p Policy) Meta() PolicyMeta {
	switch p.Kind() {
	case protected.KindLowCredits:
		return p.LowCredits.Meta
	case protected.KindCommissionIncrease:
		return p.CommissionIncrease.Meta
	}
	return PolicyMeta{}
}

func (p Policy) MinSettlementLamports() uint64 {
	switch p.Kind() {
	case protected.KindLowCredits:
		return p.LowCredits.MinSettlementLamports
	case protected.KindCommissionIncrease:
		return p.CommissionIncrease.MinSettlementLamports
	}
	return 0
}

func (p Policy) CoveredRangeBps() [2]uint64 {
	switch p.Kind() {
	case protected.KindLowCredits:
		return p.LowCredits.CoveredRangeBps
	case protected.KindCommissionIncrease:
		return p.CommissionIncrease.CoveredRangeBps
	}
	return [2]uint64{}
}

// Matches reports whether the policy covers the event: same kind and a loss above the grace
// tolerance.
func (p Policy) Matches(event protected.ProtectedEvent) bool {
	if event.Kind() != p.Kind() {
		return false
	}
	switch p.Kind() {
	case protected.KindLowCredits:
		return event.LowCredits.EprLossBps > p.LowCredits.GraceLowCreditsBps
	case protected.KindCommissionIncrease:
		return event.CommissionIncrease.EprLossBps > p.CommissionIncrease.GraceIncreaseBps
	}
	return false
}

func (p Policy) Validate() error {
	if p.LowCredits != nil && p.CommissionIncrease != nil {
		return errors.New("settlement policy has more than one variant set")
	}
	if p.Kind() == "" {
		return errNoPolicyVariant
	}
	if err := p.Meta().Funder.Validate(); err != nil {
		return err
	}
	r := p.CoveredRangeBps()
	if r[0] > r[1] || r[1] > 10_000 {
		return fmt.Errorf("invalid covered range %v bps", r)
	}
	return nil
}

func (p Policy) MarshalJSON() ([]byte, error) {
	switch p.Kind() {
	case protected.KindLowCredits:
		return json.Marshal(map[protected.Kind]*LowCreditsPolicy{protected.KindLowCredits: p.LowCredits})
	case protected.KindCommissionIncrease:
		return json.Marshal(map[protected.Kind]*CommissionIncreasePolicy{protected.KindCommissionIncrease: p.CommissionIncrease})
	}
	return nil, errNoPolicyVariant
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	var raw map[protected.Kind]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("settlement policy must have exactly one variant, got %d", len(raw))
	}
	*p = Policy{}
	for kind, body := range raw {
		switch kind {
		case protected.KindLowCredits:
			p.LowCredits = &LowCreditsPolicy{}
			return json.Unmarshal(body, p.LowCredits)
		case protected.KindCommissionIncrease:
			p.CommissionIncrease = &CommissionIncreasePolicy{}
			return json.Unmarshal(body, p.CommissionIncrease)
		default:
			return fmt.Errorf("unknown settlement policy kind %q", kind)
		}
	}
	return nil
}

// PolicyFile is the on-disk list of settlement policies.
type PolicyFile struct {
	Policies []Policy `json:"policies"`
}

func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var pf PolicyFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to decode policy file: %w", err)
	}
	for i, p := range pf.Policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %d: %w", i, err)
		}
	}
	return &pf, nil
}
