package settlements

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/settlement"
	"github.com/malbeclabs/bonds/pipeline/pkg/onchain"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
	"github.com/malbeclabs/bonds/program/pkg/sysvar"
)

// SeedLedger loads the config, bonds and bond stake accounts of a chain snapshot into a ledger and
// moves its clock to the snapshot's slot. Existing settlements are left out so a collection can be
// replayed from scratch.
func SeedLedger(l *ledger.Ledger, programID solana.PublicKey, snap *onchain.Snapshot) error {
	put := func(addr solana.PublicKey, acc state.Account) error {
		data, err := state.Marshal(acc)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", addr, err)
		}
		l.Put(addr, &ledger.Account{Owner: programID, Lamports: l.Rent().MinimumBalance(len(data)), Data: data})
		return nil
	}

	cfg := snap.Config
	if err := put(snap.ConfigAddress, &cfg); err != nil {
		return err
	}
	for _, b := range snap.Bonds {
		bond := b.Bond
		if err := put(b.Address, &bond); err != nil {
			return err
		}
	}
	for _, sa := range snap.StakeAccounts {
		st := sa.State
		data, err := st.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode stake account %s: %w", sa.Address, err)
		}
		l.Put(sa.Address, &ledger.Account{Owner: stake.ProgramID, Lamports: sa.Lamports, Data: data})
	}

	clock := l.Clock()
	l.SetClock(sysvar.Clock{Slot: snap.Slot, Epoch: snap.Epoch, UnixTimestamp: clock.UnixTimestamp})
	return nil
}

// Simulate runs the whole lifecycle of a collection on the driver's ledger. Settlements are
// initialized and funded, claimed once the funded stake has deactivated and the claiming delay has
// passed, then closed after expiry. Every phase runs even when an earlier one failed.
func Simulate(ctx context.Context, d *Driver, trees *settlement.MerkleTreeCollection) ([]*Report, error) {
	cfg, err := d.program.Config(d.cfg.Config)
	if err != nil {
		return nil, err
	}
	l := d.program.Ledger()

	var reports []*Report
	var errs []error
	phase := func(fn func(context.Context, *settlement.MerkleTreeCollection) (*Report, error)) {
		report, err := fn(ctx, trees)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	phase(d.InitSettlements)
	phase(d.FundSettlements)
	l.AdvanceEpochs(1)
	l.AdvanceSlots(cfg.SlotsToStartSettlementClaiming)
	phase(d.ClaimSettlements)
	l.AdvanceEpochs(cfg.EpochsToClaimSettlement + 1)
	phase(d.CloseSettlements)
	return reports, errors.Join(errs...)
}
