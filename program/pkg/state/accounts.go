package state

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Allocated sizes including the 8 byte discriminator.
const (
	ConfigSize                 = 8 + 601
	BondSize                   = 8 + 247
	SettlementSize             = 8 + 318
	SettlementClaimsHeaderSize = 8 + 41
	SettlementClaimSize        = 8 + 262
	WithdrawRequestSize        = 8 + 182

	// MaxAccountSize is the runtime limit on account data.
	MaxAccountSize = 10 * 1024 * 1024
	// MaxSettlementClaimRecords is the largest bitmap a claims account can hold.
	MaxSettlementClaimRecords = (MaxAccountSize - SettlementClaimsHeaderSize) * 8
)

const SettlementClaimsVersion uint8 = 0

// Config is the deployment-wide singleton. Its address is a keypair, not a PDA.
// On-chain size: 8 (discriminator) + 601 = 609 bytes.
type Config struct {
	AdminAuthority                 solana.PublicKey // 32 bytes
	OperatorAuthority              solana.PublicKey // 32 bytes
	EpochsToClaimSettlement        uint64           // 8 bytes
	WithdrawLockupEpochs           uint64           // 8 bytes
	MinimumStakeLamports           uint64           // 8 bytes
	BondsWithdrawerAuthorityBump   uint8            // 1 byte
	PauseAuthority                 solana.PublicKey // 32 bytes
	Paused                         bool             // 1 byte
	SlotsToStartSettlementClaiming uint64           // 8 bytes
	MinBondMaxStakeWanted          uint64           // 8 bytes
	Reserved                       [463]byte
}

func (c *Config) Discriminator() Discriminator { return ConfigDiscriminator }
func (c *Config) Size() int                    { return ConfigSize }

func (c *Config) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &writer{enc: enc}
	w.pubkey(c.AdminAuthority)
	w.pubkey(c.OperatorAuthority)
	w.u64(c.EpochsToClaimSettlement)
	w.u64(c.WithdrawLockupEpochs)
	w.u64(c.MinimumStakeLamports)
	w.u8(c.BondsWithdrawerAuthorityBump)
	w.pubkey(c.PauseAuthority)
	w.boolean(c.Paused)
	w.u64(c.SlotsToStartSettlementClaiming)
	w.u64(c.MinBondMaxStakeWanted)
	w.bytes(c.Reserved[:])
	return w.err
}

func (c *Config) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &reader{dec: dec}
	c.AdminAuthority = r.pubkey()
	c.OperatorAuthority = r.pubkey()
	c.EpochsToClaimSettlement = r.u64()
	c.WithdrawLockupEpochs = r.u64()
	c.MinimumStakeLamports = r.u64()
	c.BondsWithdrawerAuthorityBump = r.u8()
	c.PauseAuthority = r.pubkey()
	c.Paused = r.boolean()
	c.SlotsToStartSettlementClaiming = r.u64()
	c.MinBondMaxStakeWanted = r.u64()
	copy(c.Reserved[:], r.bytes(len(c.Reserved)))
	return r.err
}

// Bond is unique per (config, vote account); see FindBondAddress.
// On-chain size: 8 (discriminator) + 247 = 255 bytes.
type Bond struct {
	Config         solana.PublicKey // 32 bytes
	VoteAccount    solana.PublicKey // 32 bytes
	Authority      solana.PublicKey // 32 bytes
	Cpmpe          uint64           // 8 bytes, cost per mille per epoch
	Bump           uint8            // 1 byte
	MaxStakeWanted uint64           // 8 bytes, 0 = not set
	Reserved       [134]byte
}

func (b *Bond) Discriminator() Discriminator { return BondDiscriminator }
func (b *Bond) Size() int                    { return BondSize }

func (b *Bond) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &writer{enc: enc}
	w.pubkey(b.Config)
	w.pubkey(b.VoteAccount)
	w.pubkey(b.Authority)
	w.u64(b.Cpmpe)
	w.u8(b.Bump)
	w.u64(b.MaxStakeWanted)
	w.bytes(b.Reserved[:])
	return w.err
}

func (b *Bond) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &reader{dec: dec}
	b.Config = r.pubkey()
	b.VoteAccount = r.pubkey()
	b.Authority = r.pubkey()
	b.Cpmpe = r.u64()
	b.Bump = r.u8()
	b.MaxStakeWanted = r.u64()
	copy(b.Reserved[:], r.bytes(len(b.Reserved)))
	return r.err
}

// Bumps caches the PDA bump seeds of a settlement and its companion accounts.
// 3 bytes total.
type Bumps struct {
	Pda              uint8
	StakerAuthority  uint8
	SettlementClaims uint8
}

// Settlement is unique per (bond, merkle root, epoch); see FindSettlementAddress.
// On-chain size: 8 (discriminator) + 318 = 326 bytes. The optional split rent collector is
// Borsh encoded, so when absent the following fields shift by 32 bytes inside the allocation.
type Settlement struct {
	Bond               solana.PublicKey  // 32 bytes
	StakerAuthority    solana.PublicKey  // 32 bytes
	MerkleRoot         [32]byte          // 32 bytes
	MaxTotalClaim      uint64            // 8 bytes
	MaxMerkleNodes     uint64            // 8 bytes
	LamportsFunded     uint64            // 8 bytes
	LamportsClaimed    uint64            // 8 bytes
	MerkleNodesClaimed uint64            // 8 bytes
	EpochCreatedFor    uint64            // 8 bytes
	SlotCreatedAt      uint64            // 8 bytes
	RentCollector      solana.PublicKey  // 32 bytes
	SplitRentCollector *solana.PublicKey // 1 + 32 bytes
	SplitRentAmount    uint64            // 8 bytes
	Bumps              Bumps             // 3 bytes
	Reserved           [90]byte
}

func (s *Settlement) Discriminator() Discriminator { return SettlementDiscriminator }
func (s *Settlement) Size() int                    { return SettlementSize }

func (s *Settlement) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &writer{enc: enc}
	w.pubkey(s.Bond)
	w.pubkey(s.StakerAuthority)
	w.bytes(s.MerkleRoot[:])
	w.u64(s.MaxTotalClaim)
	w.u64(s.MaxMerkleNodes)
	w.u64(s.LamportsFunded)
	w.u64(s.LamportsClaimed)
	w.u64(s.MerkleNodesClaimed)
	w.u64(s.EpochCreatedFor)
	w.u64(s.SlotCreatedAt)
	w.pubkey(s.RentCollector)
	w.optionPubkey(s.SplitRentCollector)
	w.u64(s.SplitRentAmount)
	w.u8(s.Bumps.Pda)
	w.u8(s.Bumps.StakerAuthority)
	w.u8(s.Bumps.SettlementClaims)
	w.bytes(s.Reserved[:])
	return w.err
}

func (s *Settlement) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &reader{dec: dec}
	s.Bond = r.pubkey()
	s.StakerAuthority = r.pubkey()
	copy(s.MerkleRoot[:], r.bytes(32))
	s.MaxTotalClaim = r.u64()
	s.MaxMerkleNodes = r.u64()
	s.LamportsFunded = r.u64()
	s.LamportsClaimed = r.u64()
	s.MerkleNodesClaimed = r.u64()
	s.EpochCreatedFor = r.u64()
	s.SlotCreatedAt = r.u64()
	s.RentCollector = r.pubkey()
	s.SplitRentCollector = r.optionPubkey()
	s.SplitRentAmount = r.u64()
	s.Bumps.Pda = r.u8()
	s.Bumps.StakerAuthority = r.u8()
	s.Bumps.SettlementClaims = r.u8()
	copy(s.Reserved[:], r.bytes(len(s.Reserved)))
	return r.err
}

// IsExpired reports whether the claim window is over at currentEpoch.
func (s *Settlement) IsExpired(currentEpoch, epochsToClaim uint64) bool {
	return s.EpochCreatedFor+epochsToClaim < currentEpoch
}

// SettlementClaims is the per-settlement de-duplication bitmap: bit i is set once tree node i
// has been paid out. Header followed by ceil(MaxRecords/8) raw bytes.
type SettlementClaims struct {
	Settlement solana.PublicKey // 32 bytes
	Version    uint8            // 1 byte
	MaxRecords uint64           // 8 bytes
	Bitmap     []byte
}

func NewSettlementClaims(settlement solana.PublicKey, maxRecords uint64) *SettlementClaims {
	return &SettlementClaims{
		Settlement: settlement,
		Version:    SettlementClaimsVersion,
		MaxRecords: maxRecords,
		Bitmap:     make([]byte, BitmapLen(maxRecords)),
	}
}

// BitmapLen is ceil(maxRecords/8). Callers bound maxRecords by MaxSettlementClaimRecords.
func BitmapLen(maxRecords uint64) int {
	n := maxRecords / 8
	if maxRecords%8 != 0 {
		n++
	}
	return int(n)
}

func SettlementClaimsSize(maxRecords uint64) int {
	return SettlementClaimsHeaderSize + BitmapLen(maxRecords)
}

func (c *SettlementClaims) Discriminator() Discriminator { return SettlementClaimsDiscriminator }
func (c *SettlementClaims) Size() int                    { return SettlementClaimsSize(c.MaxRecords) }

func (c *SettlementClaims) MarshalWithEncoder(enc *bin.Encoder) error {
	if len(c.Bitmap) != BitmapLen(c.MaxRecords) {
		return fmt.Errorf("bitmap is %d bytes, expected %d", len(c.Bitmap), BitmapLen(c.MaxRecords))
	}
	w := &writer{enc: enc}
	w.pubkey(c.Settlement)
	w.u8(c.Version)
	w.u64(c.MaxRecords)
	w.bytes(c.Bitmap)
	return w.err
}

func (c *SettlementClaims) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &reader{dec: dec}
	c.Settlement = r.pubkey()
	c.Version = r.u8()
	c.MaxRecords = r.u64()
	if r.err != nil {
		return r.err
	}
	if c.MaxRecords > MaxSettlementClaimRecords {
		return fmt.Errorf("max records %d exceed account size limit", c.MaxRecords)
	}
	n := BitmapLen(c.MaxRecords)
	if dec.Remaining() < n {
		return fmt.Errorf("bitmap needs %d bytes, account has %d", n, dec.Remaining())
	}
	c.Bitmap = append([]byte(nil), r.bytes(n)...)
	return r.err
}

var ErrClaimIndexOutOfRange = errors.New("claim index out of range")

// IsSet reports whether index has been claimed.
func (c *SettlementClaims) IsSet(index uint64) (bool, error) {
	if index >= c.MaxRecords || index/8 >= uint64(len(c.Bitmap)) {
		return false, ErrClaimIndexOutOfRange
	}
	return c.Bitmap[index/8]&(1<<(index%8)) != 0, nil
}

// Set marks index as claimed and reports whether it was already set.
func (c *SettlementClaims) Set(index uint64) (bool, error) {
	already, err := c.IsSet(index)
	if err != nil {
		return false, err
	}
	c.Bitmap[index/8] |= 1 << (index % 8)
	return already, nil
}

// Count returns the number of set bits.
func (c *SettlementClaims) Count() uint64 {
	var n uint64
	for _, b := range c.Bitmap {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

// SettlementClaim is the per-claim record of the older claiming scheme, where creating the
// account at FindSettlementClaimAddress was the double-claim guard. Kept so that accounts
// created by that scheme can still be decoded and their rent reclaimed.
// On-chain size: 8 (discriminator) + 262 = 270 bytes.
type SettlementClaim struct {
	Settlement             solana.PublicKey // 32 bytes
	StakeAccountTo         solana.PublicKey // 32 bytes
	StakeAccountStaker     solana.PublicKey // 32 bytes
	StakeAccountWithdrawer solana.PublicKey // 32 bytes
	VoteAccount            solana.PublicKey // 32 bytes
	Amount                 uint64           // 8 bytes
	Bump                   uint8            // 1 byte
	RentCollector          solana.PublicKey // 32 bytes
	Reserved               [61]byte
}

func (c *SettlementClaim) Discriminator() Discriminator { return SettlementClaimDiscriminator }
func (c *SettlementClaim) Size() int                    { return SettlementClaimSize }

func (c *SettlementClaim) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &writer{enc: enc}
	w.pubkey(c.Settlement)
	w.pubkey(c.StakeAccountTo)
	w.pubkey(c.StakeAccountStaker)
	w.pubkey(c.StakeAccountWithdrawer)
	w.pubkey(c.VoteAccount)
	w.u64(c.Amount)
	w.u8(c.Bump)
	w.pubkey(c.RentCollector)
	w.bytes(c.Reserved[:])
	return w.err
}

func (c *SettlementClaim) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &reader{dec: dec}
	c.Settlement = r.pubkey()
	c.StakeAccountTo = r.pubkey()
	c.StakeAccountStaker = r.pubkey()
	c.StakeAccountWithdrawer = r.pubkey()
	c.VoteAccount = r.pubkey()
	c.Amount = r.u64()
	c.Bump = r.u8()
	c.RentCollector = r.pubkey()
	copy(c.Reserved[:], r.bytes(len(c.Reserved)))
	return r.err
}

// WithdrawRequest is unique per bond; see FindWithdrawRequestAddress.
// On-chain size: 8 (discriminator) + 182 = 190 bytes.
type WithdrawRequest struct {
	VoteAccount     solana.PublicKey // 32 bytes
	Bond            solana.PublicKey // 32 bytes
	Epoch           uint64           // 8 bytes
	RequestedAmount uint64           // 8 bytes
	WithdrawnAmount uint64           // 8 bytes
	Bump            uint8            // 1 byte
	Reserved        [93]byte
}

func (r *WithdrawRequest) Discriminator() Discriminator { return WithdrawRequestDiscriminator }
func (r *WithdrawRequest) Size() int                    { return WithdrawRequestSize }

func (r *WithdrawRequest) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &writer{enc: enc}
	w.pubkey(r.VoteAccount)
	w.pubkey(r.Bond)
	w.u64(r.Epoch)
	w.u64(r.RequestedAmount)
	w.u64(r.WithdrawnAmount)
	w.u8(r.Bump)
	w.bytes(r.Reserved[:])
	return w.err
}

func (r *WithdrawRequest) UnmarshalWithDecoder(dec *bin.Decoder) error {
	rd := &reader{dec: dec}
	r.VoteAccount = rd.pubkey()
	r.Bond = rd.pubkey()
	r.Epoch = rd.u64()
	r.RequestedAmount = rd.u64()
	r.WithdrawnAmount = rd.u64()
	r.Bump = rd.u8()
	copy(r.Reserved[:], rd.bytes(len(r.Reserved)))
	return rd.err
}

// Remaining is the amount still to be withdrawn.
func (r *WithdrawRequest) Remaining() uint64 {
	if r.WithdrawnAmount >= r.RequestedAmount {
		return 0
	}
	return r.RequestedAmount - r.WithdrawnAmount
}
