// Package sysvar models the cluster clock and rent parameters the bonds program reads.
package sysvar

const (
	// AccountStorageOverhead is the per-account byte overhead charged by rent.
	AccountStorageOverhead = 128

	DefaultLamportsPerByteYear = 3480
	DefaultExemptionThreshold  = 2
	DefaultSlotsPerEpoch       = 432_000
)

type Clock struct {
	Slot          uint64
	Epoch         uint64
	UnixTimestamp int64
}

// AdvanceEpochs moves the clock forward by n epochs, keeping the slot aligned to the epoch start.
func (c Clock) AdvanceEpochs(n uint64, slotsPerEpoch uint64) Clock {
	c.Epoch += n
	c.Slot = c.Epoch * slotsPerEpoch
	c.UnixTimestamp += int64(n*slotsPerEpoch) * 400 / 1000
	return c
}

type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  uint64
}

func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: DefaultLamportsPerByteYear, ExemptionThreshold: DefaultExemptionThreshold}
}

// MinimumBalance is the rent-exempt balance of an account holding size bytes.
func (r Rent) MinimumBalance(size int) uint64 {
	return (uint64(size) + AccountStorageOverhead) * r.LamportsPerByteYear * r.ExemptionThreshold
}
