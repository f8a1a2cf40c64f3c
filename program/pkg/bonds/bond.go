package bonds

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

type InitBondArgs struct {
	Config      solana.PublicKey
	VoteAccount solana.PublicKey
	// ValidatorIdentity signs a permissioned init. Without it the bond is created with a zero bid
	// and the validator identity as authority.
	ValidatorIdentity *solana.PublicKey
	BondAuthority     solana.PublicKey
	Cpmpe             uint64
	MaxStakeWanted    uint64
	RentPayer         solana.PublicKey
}

func (p *Program) InitBond(args InitBondArgs) (solana.PublicKey, error) {
	var bondAddr solana.PublicKey
	err := p.execute(EventInitBond, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		vote, err := p.loadVoteAccount(tx, args.VoteAccount)
		if err != nil {
			return err
		}
		addr, bump, err := state.FindBondAddress(p.programID, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}

		bond := &state.Bond{
			Config:      args.Config,
			VoteAccount: args.VoteAccount,
			Authority:   vote.NodePubkey,
			Bump:        bump,
		}
		if args.ValidatorIdentity != nil {
			if *args.ValidatorIdentity != vote.NodePubkey {
				return ErrValidatorIdentityMismatch
			}
			if args.MaxStakeWanted > 0 && args.MaxStakeWanted < cfg.MinBondMaxStakeWanted {
				return newError(CodeMaxStakeWantedTooLow, "%d < %d", args.MaxStakeWanted, cfg.MinBondMaxStakeWanted)
			}
			bond.Authority = args.BondAuthority
			bond.Cpmpe = args.Cpmpe
			bond.MaxStakeWanted = args.MaxStakeWanted
		}
		if err := p.createAccount(tx, addr, args.RentPayer, bond); err != nil {
			return mapCreateError(err, CodeBondAlreadyExists)
		}
		tx.Emit(EventInitBond, BondEvent{
			Bond:           addr,
			VoteAccount:    bond.VoteAccount,
			Authority:      bond.Authority,
			Cpmpe:          bond.Cpmpe,
			MaxStakeWanted: bond.MaxStakeWanted,
		})
		bondAddr = addr
		return nil
	})
	return bondAddr, err
}

// ConfigureBondArgs changes only the fields that are set. Authority is the bond authority or the
// validator identity.
type ConfigureBondArgs struct {
	Config      solana.PublicKey
	VoteAccount solana.PublicKey
	Authority   solana.PublicKey

	NewBondAuthority *solana.PublicKey
	Cpmpe            *uint64
	MaxStakeWanted   *uint64
}

func (p *Program) ConfigureBond(args ConfigureBondArgs) error {
	return p.execute(EventConfigureBond, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		addr, bond, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		if err := p.checkBondAuthority(tx, bond, args.Authority); err != nil {
			return err
		}
		if args.NewBondAuthority != nil {
			bond.Authority = *args.NewBondAuthority
		}
		if args.Cpmpe != nil {
			bond.Cpmpe = *args.Cpmpe
		}
		if args.MaxStakeWanted != nil {
			if *args.MaxStakeWanted > 0 && *args.MaxStakeWanted < cfg.MinBondMaxStakeWanted {
				return newError(CodeMaxStakeWantedTooLow, "%d < %d", *args.MaxStakeWanted, cfg.MinBondMaxStakeWanted)
			}
			bond.MaxStakeWanted = *args.MaxStakeWanted
		}
		if err := p.storeAccount(tx, addr, bond); err != nil {
			return err
		}
		tx.Emit(EventConfigureBond, BondEvent{
			Bond:           addr,
			VoteAccount:    bond.VoteAccount,
			Authority:      bond.Authority,
			Cpmpe:          bond.Cpmpe,
			MaxStakeWanted: bond.MaxStakeWanted,
		})
		return nil
	})
}

type FundBondArgs struct {
	Config       solana.PublicKey
	VoteAccount  solana.PublicKey
	StakeAccount solana.PublicKey
	// StakeAuthority is the current withdrawer of the stake account.
	StakeAuthority solana.PublicKey
}

// FundBond moves a stake account delegated to the bonded vote account into bond custody by making
// the bonds withdrawer authority both its staker and withdrawer.
func (p *Program) FundBond(args FundBondArgs) error {
	return p.execute(EventFundBond, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if err := checkNotPaused(cfg); err != nil {
			return err
		}
		bondAddr, bond, err := p.loadBond(tx, args.Config, args.VoteAccount)
		if err != nil {
			return err
		}
		withdrawer, err := p.bondsWithdrawer(args.Config)
		if err != nil {
			return err
		}
		sa, err := p.loadStake(tx, args.StakeAccount)
		if err != nil {
			return err
		}
		st := sa.state
		if st.Kind != stake.KindStake {
			return newError(CodeStakeNotDelegated, "%s", args.StakeAccount)
		}
		if st.Stake.Delegation.VoterPubkey != bond.VoteAccount {
			return newError(CodeBondStakeWrongDelegation, "%s is delegated to %s", args.StakeAccount, st.Stake.Delegation.VoterPubkey)
		}
		clock := tx.Clock()
		if st.Meta.Lockup.IsInForce(clock, nil) {
			return ErrStakeLockedUp
		}
		if st.Meta.Authorized.Withdrawer == withdrawer {
			return newError(CodeWrongStakeAccountWithdrawer, "%s is already in bond custody", args.StakeAccount)
		}
		if err := st.Authorize(args.StakeAuthority, withdrawer, stake.AuthorizeStaker, clock, nil); err != nil {
			return fmt.Errorf("failed to authorize staker: %w", err)
		}
		if err := st.Authorize(args.StakeAuthority, withdrawer, stake.AuthorizeWithdrawer, clock, nil); err != nil {
			return fmt.Errorf("failed to authorize withdrawer: %w", err)
		}
		if err := sa.store(); err != nil {
			return err
		}
		tx.Emit(EventFundBond, FundBondEvent{
			Bond:         bondAddr,
			VoteAccount:  bond.VoteAccount,
			StakeAccount: args.StakeAccount,
			Lamports:     sa.account.Lamports,
		})
		return nil
	})
}
