// Package state holds the on-chain account layouts of the validator bonds program and the
// program-derived address scheme used to locate them.
//
// Every program account starts with an 8 byte discriminator (the first 8 bytes of
// sha256("account:<Name>")) followed by its fields in declaration order, Borsh encoded.
// Accounts are allocated at a fixed size; unused trailing bytes are zero.
package state

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const DiscriminatorLength = 8

type Discriminator [DiscriminatorLength]byte

func accountDiscriminator(name string) Discriminator {
	var d Discriminator
	h := sha256.Sum256([]byte("account:" + name))
	copy(d[:], h[:DiscriminatorLength])
	return d
}

var (
	ConfigDiscriminator           = accountDiscriminator("Config")
	BondDiscriminator             = accountDiscriminator("Bond")
	SettlementDiscriminator       = accountDiscriminator("Settlement")
	SettlementClaimsDiscriminator = accountDiscriminator("SettlementClaims")
	SettlementClaimDiscriminator  = accountDiscriminator("SettlementClaim")
	WithdrawRequestDiscriminator  = accountDiscriminator("WithdrawRequest")
)

var (
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")
	ErrAccountTooSmall       = errors.New("account data too small")
)

// Account is implemented by every program-owned account type.
type Account interface {
	Discriminator() Discriminator
	// Size is the allocated on-chain size including the discriminator.
	Size() int
	MarshalWithEncoder(enc *bin.Encoder) error
	UnmarshalWithDecoder(dec *bin.Decoder) error
}

// Marshal encodes the account with its discriminator, zero padded to Size().
func Marshal(acc Account) ([]byte, error) {
	buf := new(bytes.Buffer)
	d := acc.Discriminator()
	buf.Write(d[:])
	if err := acc.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, fmt.Errorf("failed to encode account: %w", err)
	}
	if buf.Len() > acc.Size() {
		return nil, fmt.Errorf("encoded account is %d bytes, exceeds allocated %d", buf.Len(), acc.Size())
	}
	out := make([]byte, acc.Size())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal checks the discriminator and decodes data into acc.
func Unmarshal(data []byte, acc Account) error {
	if len(data) < DiscriminatorLength {
		return ErrAccountTooSmall
	}
	if !HasDiscriminator(data, acc.Discriminator()) {
		return ErrDiscriminatorMismatch
	}
	if err := acc.UnmarshalWithDecoder(bin.NewBorshDecoder(data[DiscriminatorLength:])); err != nil {
		return fmt.Errorf("failed to decode account: %w", err)
	}
	return nil
}

func HasDiscriminator(data []byte, d Discriminator) bool {
	return len(data) >= DiscriminatorLength && bytes.Equal(data[:DiscriminatorLength], d[:])
}

// writer and reader keep the first error so field lists read like the layout they encode.
type writer struct {
	enc *bin.Encoder
	err error
}

func (w *writer) pubkey(pk solana.PublicKey) {
	if w.err == nil {
		w.err = w.enc.WriteBytes(pk[:], false)
	}
}

func (w *writer) bytes(b []byte) {
	if w.err == nil {
		w.err = w.enc.WriteBytes(b, false)
	}
}

func (w *writer) u8(v uint8) {
	if w.err == nil {
		w.err = w.enc.WriteUint8(v)
	}
}

func (w *writer) u64(v uint64) {
	if w.err == nil {
		w.err = w.enc.WriteUint64(v, bin.LE)
	}
}

func (w *writer) boolean(v bool) {
	if w.err == nil {
		w.err = w.enc.WriteBool(v)
	}
}

func (w *writer) optionPubkey(pk *solana.PublicKey) {
	if pk == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.pubkey(*pk)
}

type reader struct {
	dec *bin.Decoder
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	b, err := r.dec.ReadBytes(n)
	if err != nil {
		r.err = err
		return make([]byte, n)
	}
	return b
}

func (r *reader) pubkey() solana.PublicKey {
	return solana.PublicKeyFromBytes(r.bytes(solana.PublicKeyLength))
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.err = err
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(bin.LE)
	r.err = err
	return v
}

func (r *reader) boolean() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.ReadBool()
	r.err = err
	return v
}

func (r *reader) optionPubkey() *solana.PublicKey {
	switch tag := r.u8(); tag {
	case 0:
		return nil
	case 1:
		pk := r.pubkey()
		return &pk
	default:
		if r.err == nil {
			r.err = fmt.Errorf("invalid option tag %d", tag)
		}
		return nil
	}
}
