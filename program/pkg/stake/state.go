// Package stake models native stake accounts: the StakeStateV2 layout and the authorize, delegate,
// deactivate, split, merge and withdraw mechanics the bonds program relies on.
package stake

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/sysvar"
)

var ProgramID = solana.StakeProgramID

// AccountSize is the allocation of every stake account.
const AccountSize = 200

// NotDeactivated is the deactivation epoch of a delegation that was never deactivated.
const NotDeactivated = math.MaxUint64

const DefaultWarmupCooldownRate = 0.09

type Kind uint32

const (
	KindUninitialized Kind = iota
	KindInitialized
	KindStake
	KindRewardsPool
)

func (k Kind) String() string {
	switch k {
	case KindUninitialized:
		return "uninitialized"
	case KindInitialized:
		return "initialized"
	case KindStake:
		return "stake"
	case KindRewardsPool:
		return "rewards_pool"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

type Authorized struct {
	Staker     solana.PublicKey
	Withdrawer solana.PublicKey
}

type Lockup struct {
	UnixTimestamp int64
	Epoch         uint64
	Custodian     solana.PublicKey
}

// IsInForce reports whether the lockup still restricts withdrawals. A signing custodian lifts it.
func (l Lockup) IsInForce(clock sysvar.Clock, custodian *solana.PublicKey) bool {
	if custodian != nil && *custodian == l.Custodian {
		return false
	}
	return l.UnixTimestamp > clock.UnixTimestamp || l.Epoch > clock.Epoch
}

type Meta struct {
	RentExemptReserve uint64
	Authorized        Authorized
	Lockup            Lockup
}

type Delegation struct {
	VoterPubkey        solana.PublicKey
	Stake              uint64
	ActivationEpoch    uint64
	DeactivationEpoch  uint64
	WarmupCooldownRate float64
}

type Stake struct {
	Delegation      Delegation
	CreditsObserved uint64
}

// State is StakeStateV2. Meta is meaningful for KindInitialized and KindStake, Stake and Flags
// only for KindStake.
type State struct {
	Kind  Kind
	Meta  Meta
	Stake Stake
	Flags uint8
}

var (
	ErrInvalidAccountData = errors.New("invalid stake account data")
	ErrUnknownKind        = errors.New("unknown stake state kind")
)

// Decode parses the data of a stake account.
func Decode(data []byte) (*State, error) {
	if len(data) < AccountSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidAccountData, len(data))
	}
	st := &State{}
	if err := st.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, err
	}
	return st, nil
}

// Encode serializes the state into a zero-padded AccountSize buffer.
func (st *State) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := st.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return nil, fmt.Errorf("failed to encode stake state: %w", err)
	}
	out := make([]byte, AccountSize)
	copy(out, buf.Bytes())
	return out, nil
}

func (st *State) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint32(uint32(st.Kind), bin.LE); err != nil {
		return err
	}
	switch st.Kind {
	case KindUninitialized, KindRewardsPool:
		return nil
	case KindInitialized:
		return st.Meta.marshal(enc)
	case KindStake:
		if err := st.Meta.marshal(enc); err != nil {
			return err
		}
		if err := st.Stake.marshal(enc); err != nil {
			return err
		}
		return enc.WriteUint8(st.Flags)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, st.Kind)
	}
}

func (st *State) UnmarshalWithDecoder(dec *bin.Decoder) error {
	kind, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	st.Kind = Kind(kind)
	switch st.Kind {
	case KindUninitialized, KindRewardsPool:
		return nil
	case KindInitialized:
		return st.Meta.unmarshal(dec)
	case KindStake:
		if err := st.Meta.unmarshal(dec); err != nil {
			return err
		}
		if err := st.Stake.unmarshal(dec); err != nil {
			return err
		}
		st.Flags, err = dec.ReadUint8()
		return err
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

func (m *Meta) marshal(enc *bin.Encoder) error {
	if err := enc.WriteUint64(m.RentExemptReserve, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteBytes(m.Authorized.Staker[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(m.Authorized.Withdrawer[:], false); err != nil {
		return err
	}
	if err := enc.WriteInt64(m.Lockup.UnixTimestamp, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(m.Lockup.Epoch, bin.LE); err != nil {
		return err
	}
	return enc.WriteBytes(m.Lockup.Custodian[:], false)
}

func (m *Meta) unmarshal(dec *bin.Decoder) error {
	var err error
	if m.RentExemptReserve, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if m.Authorized.Staker, err = readPubkey(dec); err != nil {
		return err
	}
	if m.Authorized.Withdrawer, err = readPubkey(dec); err != nil {
		return err
	}
	if m.Lockup.UnixTimestamp, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	if m.Lockup.Epoch, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	m.Lockup.Custodian, err = readPubkey(dec)
	return err
}

func (s *Stake) marshal(enc *bin.Encoder) error {
	d := s.Delegation
	if err := enc.WriteBytes(d.VoterPubkey[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint64(d.Stake, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(d.ActivationEpoch, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(d.DeactivationEpoch, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteFloat64(d.WarmupCooldownRate, bin.LE); err != nil {
		return err
	}
	return enc.WriteUint64(s.CreditsObserved, bin.LE)
}

func (s *Stake) unmarshal(dec *bin.Decoder) error {
	var err error
	d := &s.Delegation
	if d.VoterPubkey, err = readPubkey(dec); err != nil {
		return err
	}
	if d.Stake, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if d.ActivationEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if d.DeactivationEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if d.WarmupCooldownRate, err = dec.ReadFloat64(bin.LE); err != nil {
		return err
	}
	s.CreditsObserved, err = dec.ReadUint64(bin.LE)
	return err
}

func readPubkey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}
