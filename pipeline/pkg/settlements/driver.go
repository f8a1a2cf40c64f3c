// Package settlements drives merkle tree collections through the settlement lifecycle of the bonds
// program and checks the result against chain state.
package settlements

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/settlement"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

// Recipients resolves the stake account a beneficiary's claim is paid into.
type Recipients interface {
	StakeAccountFor(staker, withdrawer solana.PublicKey) (solana.PublicKey, error)
}

type DriverConfig struct {
	Logger     *slog.Logger
	Program    *bonds.Program
	Config     solana.PublicKey
	Operator   solana.PublicKey
	RentPayer  solana.PublicKey
	Recipients Recipients
	// NewAddress supplies addresses for split stake accounts.
	NewAddress func() solana.PublicKey
}

func (cfg *DriverConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Program == nil {
		return errors.New("program is required")
	}
	if cfg.Config.IsZero() {
		return errors.New("config address is required")
	}
	if cfg.Operator.IsZero() {
		return errors.New("operator is required")
	}
	if cfg.RentPayer.IsZero() {
		return errors.New("rent payer is required")
	}
	if cfg.Recipients == nil {
		return errors.New("recipients is required")
	}
	if cfg.NewAddress == nil {
		cfg.NewAddress = func() solana.PublicKey { return solana.NewWallet().PublicKey() }
	}
	return nil
}

// Driver replays the settlement lifecycle of a merkle tree collection: init, fund, claim and close.
// Each phase processes every tree and fails at the end with all collected errors; the steps inside
// one settlement are sequenced and stop at the first failure.
type Driver struct {
	log        *slog.Logger
	cfg        DriverConfig
	program    *bonds.Program
	withdrawer solana.PublicKey
}

func NewDriver(cfg DriverConfig) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	withdrawer, _, err := state.FindBondsWithdrawerAuthority(cfg.Program.ProgramID(), cfg.Config)
	if err != nil {
		return nil, err
	}
	return &Driver{log: cfg.Logger, cfg: cfg, program: cfg.Program, withdrawer: withdrawer}, nil
}

type target struct {
	tree       settlement.MerkleTree
	bond       solana.PublicKey
	settlement solana.PublicKey
}

func (d *Driver) targets(trees *settlement.MerkleTreeCollection, report *Report) ([]target, error) {
	var out []target
	for _, tree := range trees.MerkleTrees {
		if !BondFunded(tree) {
			report.skip()
			continue
		}
		bond, addr, err := SettlementAddress(d.program.ProgramID(), d.cfg.Config, trees.Epoch, tree)
		if err != nil {
			return nil, err
		}
		out = append(out, target{tree: tree, bond: bond, settlement: addr})
	}
	return out, nil
}

// run applies fn to every bond funded tree and joins the failures.
func (d *Driver) run(ctx context.Context, op Operation, trees *settlement.MerkleTreeCollection, fn func(target, *Report) error) (*Report, error) {
	report := newReport(op, trees.Epoch)
	targets, err := d.targets(trees, report)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(append(errs, err)...)
		}
		if err := fn(t, report); err != nil {
			err = fmt.Errorf("settlement %s of vote account %s: %w", t.settlement, t.tree.VoteAccount, err)
			d.log.Error("settlements: operation failed", "operation", string(op), "settlement", t.settlement.String(), "error", err)
			report.fail(err)
			errs = append(errs, err)
		}
	}
	d.log.Info("settlements: operation done",
		"operation", string(op),
		"run_id", report.RunID.String(),
		"epoch", report.Epoch,
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"lamports", report.Lamports)
	return report, errors.Join(errs...)
}

// InitSettlements creates the settlement of every bond funded tree. Existing settlements are
// skipped.
func (d *Driver) InitSettlements(ctx context.Context, trees *settlement.MerkleTreeCollection) (*Report, error) {
	return d.run(ctx, OperationInit, trees, func(t target, report *Report) error {
		if _, err := d.program.Settlement(t.settlement); err == nil {
			report.skip()
			return nil
		}
		_, err := d.program.InitSettlement(bonds.InitSettlementArgs{
			Config:            d.cfg.Config,
			VoteAccount:       t.tree.VoteAccount,
			OperatorAuthority: d.cfg.Operator,
			MerkleRoot:        t.tree.MerkleRoot,
			MaxTotalClaim:     t.tree.MaxTotalClaimSum,
			MaxMerkleNodes:    t.tree.MaxTotalClaims,
			Epoch:             trees.Epoch,
			RentCollector:     d.cfg.RentPayer,
			RentPayer:         d.cfg.RentPayer,
		})
		if err != nil {
			return err
		}
		report.ok(t.tree.MaxTotalClaimSum)
		return nil
	})
}

// FundSettlements dedicates bond stake to every settlement until its max total claim is covered,
// largest stake accounts first.
func (d *Driver) FundSettlements(ctx context.Context, trees *settlement.MerkleTreeCollection) (*Report, error) {
	return d.run(ctx, OperationFund, trees, func(t target, report *Report) error {
		s, err := d.program.Settlement(t.settlement)
		if err != nil {
			return err
		}
		if s.LamportsFunded >= s.MaxTotalClaim {
			report.skip()
			return nil
		}
		before := s.LamportsFunded
		for _, sa := range d.stakeAccounts(d.withdrawer, &t.tree.VoteAccount) {
			if s.LamportsFunded >= s.MaxTotalClaim {
				break
			}
			err := d.program.FundSettlement(bonds.FundSettlementArgs{
				Config:              d.cfg.Config,
				VoteAccount:         t.tree.VoteAccount,
				OperatorAuthority:   d.cfg.Operator,
				Settlement:          t.settlement,
				StakeAccount:        sa.addr,
				SplitStakeAccount:   d.cfg.NewAddress(),
				SplitStakeRentPayer: d.cfg.RentPayer,
			})
			if errors.Is(err, bonds.ErrStakeNotBigEnough) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to fund from %s: %w", sa.addr, err)
			}
			if s, err = d.program.Settlement(t.settlement); err != nil {
				return err
			}
		}
		if s.LamportsFunded < s.MaxTotalClaim {
			return fmt.Errorf("bond stake covers %d of %d lamports", s.LamportsFunded, s.MaxTotalClaim)
		}
		report.ok(s.LamportsFunded - before)
		return nil
	})
}

// ClaimSettlements pays every unclaimed tree node. Nodes fail independently.
func (d *Driver) ClaimSettlements(ctx context.Context, trees *settlement.MerkleTreeCollection) (*Report, error) {
	cfg, err := d.program.Config(d.cfg.Config)
	if err != nil {
		return nil, err
	}
	return d.run(ctx, OperationClaim, trees, func(t target, report *Report) error {
		s, err := d.program.Settlement(t.settlement)
		if err != nil {
			return err
		}
		claims, err := d.program.SettlementClaims(t.settlement)
		if err != nil {
			return err
		}
		var errs []error
		for _, node := range t.tree.TreeNodes {
			if claimed, err := claims.IsSet(node.Index); err != nil || claimed {
				report.skip()
				continue
			}
			if err := d.claim(t, s, cfg, node); err != nil {
				errs = append(errs, fmt.Errorf("node %d: %w", node.Index, err))
				continue
			}
			report.ok(node.Claim)
		}
		return errors.Join(errs...)
	})
}

func (d *Driver) claim(t target, s *state.Settlement, cfg *state.Config, node settlement.TreeNode) error {
	to, err := d.cfg.Recipients.StakeAccountFor(node.StakeAuthority, node.WithdrawAuthority)
	if err != nil {
		return err
	}
	for _, from := range d.stakeAccounts(s.StakerAuthority, nil) {
		if from.lamports < node.Claim+from.state.Meta.RentExemptReserve+cfg.MinimumStakeLamports {
			continue
		}
		return d.program.ClaimSettlement(bonds.ClaimSettlementArgs{
			Config:           d.cfg.Config,
			VoteAccount:      t.tree.VoteAccount,
			Settlement:       t.settlement,
			StakeAccountFrom: from.addr,
			StakeAccountTo:   to,
			Staker:           node.StakeAuthority,
			Withdrawer:       node.WithdrawAuthority,
			Amount:           node.Claim,
			Index:            node.Index,
			Proof:            node.Proof,
		})
	}
	return fmt.Errorf("no funded stake account covers %d lamports", node.Claim)
}

// CloseSettlements closes every expired settlement, refunding split rent from its funded stake,
// and hands the stranded stake back to the bond.
func (d *Driver) CloseSettlements(ctx context.Context, trees *settlement.MerkleTreeCollection) (*Report, error) {
	cfg, err := d.program.Config(d.cfg.Config)
	if err != nil {
		return nil, err
	}
	epoch := d.program.Ledger().Clock().Epoch
	return d.run(ctx, OperationClose, trees, func(t target, report *Report) error {
		s, err := d.program.Settlement(t.settlement)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			report.skip()
			return nil
		}
		if err != nil {
			return err
		}
		if !s.IsExpired(epoch, cfg.EpochsToClaimSettlement) {
			report.skip()
			return nil
		}

		funded := d.stakeAccounts(s.StakerAuthority, nil)
		args := bonds.CloseSettlementArgs{
			Config:        d.cfg.Config,
			VoteAccount:   t.tree.VoteAccount,
			Settlement:    t.settlement,
			RentCollector: s.RentCollector,
		}
		if s.SplitRentCollector != nil && s.SplitRentAmount > 0 {
			if len(funded) == 0 {
				return errors.New("no funded stake account to refund split rent from")
			}
			args.SplitRentCollector = *s.SplitRentCollector
			args.SplitRentRefundAccount = &funded[0].addr
		}
		if err := d.program.CloseSettlement(args); err != nil {
			return err
		}
		for _, sa := range d.stakeAccounts(s.StakerAuthority, nil) {
			err := d.program.ResetStake(bonds.ResetStakeArgs{
				Config:       d.cfg.Config,
				VoteAccount:  t.tree.VoteAccount,
				Settlement:   t.settlement,
				StakeAccount: sa.addr,
			})
			if err != nil {
				return fmt.Errorf("failed to reset %s: %w", sa.addr, err)
			}
		}
		report.ok(s.LamportsFunded - s.LamportsClaimed)
		return nil
	})
}

type stakeAccount struct {
	addr     solana.PublicKey
	lamports uint64
	state    *stake.State
}

// stakeAccounts lists the delegated stake accounts in bond custody under the given staker,
// optionally only those delegated to voter, largest first.
func (d *Driver) stakeAccounts(staker solana.PublicKey, voter *solana.PublicKey) []stakeAccount {
	var out []stakeAccount
	for _, addr := range d.program.Ledger().Addresses(stake.ProgramID) {
		st, lamports, err := d.program.StakeAccount(addr)
		if err != nil || st.Kind != stake.KindStake {
			continue
		}
		if st.Meta.Authorized.Withdrawer != d.withdrawer || st.Meta.Authorized.Staker != staker {
			continue
		}
		if voter != nil && !st.IsDelegatedTo(*voter) {
			continue
		}
		out = append(out, stakeAccount{addr: addr, lamports: lamports, state: st})
	}
	slices.SortFunc(out, func(a, b stakeAccount) int {
		if a.lamports != b.lamports {
			if a.lamports > b.lamports {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.addr[:], b.addr[:])
	})
	return out
}

// LedgerRecipients creates an initialized stake account per beneficiary in a ledger, funded with
// the rent exempt reserve from a payer.
type LedgerRecipients struct {
	ledger *ledger.Ledger
	payer  solana.PublicKey

	mu       sync.Mutex
	accounts map[[2]solana.PublicKey]solana.PublicKey
}

func NewLedgerRecipients(l *ledger.Ledger, payer solana.PublicKey) *LedgerRecipients {
	return &LedgerRecipients{ledger: l, payer: payer, accounts: make(map[[2]solana.PublicKey]solana.PublicKey)}
}

func (r *LedgerRecipients) StakeAccountFor(staker, withdrawer solana.PublicKey) (solana.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]solana.PublicKey{staker, withdrawer}
	if addr, ok := r.accounts[key]; ok {
		return addr, nil
	}
	st := stake.NewInitialized(stake.Authorized{Staker: staker, Withdrawer: withdrawer}, stake.Lockup{}, r.ledger.Rent())
	data, err := st.Encode()
	if err != nil {
		return solana.PublicKey{}, err
	}
	addr := solana.NewWallet().PublicKey()
	err = r.ledger.Execute("create-recipient", func(tx *ledger.Tx) error {
		_, err := tx.Create(addr, stake.ProgramID, r.payer, st.Meta.RentExemptReserve, data)
		return err
	})
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create recipient stake account: %w", err)
	}
	r.accounts[key] = addr
	return addr, nil
}
