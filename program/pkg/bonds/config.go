package bonds

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

type InitConfigArgs struct {
	Config                         solana.PublicKey
	AdminAuthority                 solana.PublicKey
	OperatorAuthority              solana.PublicKey
	EpochsToClaimSettlement        uint64
	WithdrawLockupEpochs           uint64
	SlotsToStartSettlementClaiming uint64
	// MinimumStakeLamports defaults to DefaultMinimumStakeLamports.
	MinimumStakeLamports uint64
	RentPayer            solana.PublicKey
}

// InitConfig creates the deployment config. The admin is the initial pause authority.
func (p *Program) InitConfig(args InitConfigArgs) error {
	return p.execute(EventInitConfig, func(tx *ledger.Tx) error {
		_, bump, err := state.FindBondsWithdrawerAuthority(p.programID, args.Config)
		if err != nil {
			return err
		}
		minimumStake := args.MinimumStakeLamports
		if minimumStake == 0 {
			minimumStake = DefaultMinimumStakeLamports
		}
		cfg := &state.Config{
			AdminAuthority:                 args.AdminAuthority,
			OperatorAuthority:              args.OperatorAuthority,
			EpochsToClaimSettlement:        args.EpochsToClaimSettlement,
			WithdrawLockupEpochs:           args.WithdrawLockupEpochs,
			MinimumStakeLamports:           minimumStake,
			BondsWithdrawerAuthorityBump:   bump,
			PauseAuthority:                 args.AdminAuthority,
			SlotsToStartSettlementClaiming: args.SlotsToStartSettlementClaiming,
		}
		if err := p.createAccount(tx, args.Config, args.RentPayer, cfg); err != nil {
			return err
		}
		tx.Emit(EventInitConfig, *cfg)
		return nil
	})
}

// ConfigureConfigArgs changes only the fields that are set.
type ConfigureConfigArgs struct {
	Config         solana.PublicKey
	AdminAuthority solana.PublicKey

	NewAdminAuthority              *solana.PublicKey
	NewOperatorAuthority           *solana.PublicKey
	NewPauseAuthority              *solana.PublicKey
	EpochsToClaimSettlement        *uint64
	WithdrawLockupEpochs           *uint64
	MinimumStakeLamports           *uint64
	SlotsToStartSettlementClaiming *uint64
	MinBondMaxStakeWanted          *uint64
}

// ConfigureConfig is permitted while paused so that authorities can be rotated during an incident.
func (p *Program) ConfigureConfig(args ConfigureConfigArgs) error {
	return p.execute(EventConfigureConfig, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, args.Config)
		if err != nil {
			return err
		}
		if args.AdminAuthority != cfg.AdminAuthority {
			return ErrInvalidAdminAuthority
		}
		if args.NewAdminAuthority != nil {
			cfg.AdminAuthority = *args.NewAdminAuthority
		}
		if args.NewOperatorAuthority != nil {
			cfg.OperatorAuthority = *args.NewOperatorAuthority
		}
		if args.NewPauseAuthority != nil {
			cfg.PauseAuthority = *args.NewPauseAuthority
		}
		if args.EpochsToClaimSettlement != nil {
			cfg.EpochsToClaimSettlement = *args.EpochsToClaimSettlement
		}
		if args.WithdrawLockupEpochs != nil {
			cfg.WithdrawLockupEpochs = *args.WithdrawLockupEpochs
		}
		if args.MinimumStakeLamports != nil {
			cfg.MinimumStakeLamports = *args.MinimumStakeLamports
		}
		if args.SlotsToStartSettlementClaiming != nil {
			cfg.SlotsToStartSettlementClaiming = *args.SlotsToStartSettlementClaiming
		}
		if args.MinBondMaxStakeWanted != nil {
			cfg.MinBondMaxStakeWanted = *args.MinBondMaxStakeWanted
		}
		if err := p.storeAccount(tx, args.Config, cfg); err != nil {
			return err
		}
		tx.Emit(EventConfigureConfig, *cfg)
		return nil
	})
}

func (p *Program) EmergencyPause(config, pauseAuthority solana.PublicKey) error {
	return p.setPaused(EventEmergencyPause, config, pauseAuthority, true)
}

func (p *Program) EmergencyResume(config, pauseAuthority solana.PublicKey) error {
	return p.setPaused(EventEmergencyResume, config, pauseAuthority, false)
}

func (p *Program) setPaused(name string, config, pauseAuthority solana.PublicKey, paused bool) error {
	return p.execute(name, func(tx *ledger.Tx) error {
		cfg, err := p.loadConfig(tx, config)
		if err != nil {
			return err
		}
		if pauseAuthority != cfg.PauseAuthority {
			return ErrInvalidPauseAuthority
		}
		if paused && cfg.Paused {
			return ErrAlreadyPaused
		}
		if !paused && !cfg.Paused {
			return ErrNotPaused
		}
		cfg.Paused = paused
		if err := p.storeAccount(tx, config, cfg); err != nil {
			return err
		}
		tx.Emit(name, config)
		return nil
	})
}

// Config returns the committed config account.
func (p *Program) Config(addr solana.PublicKey) (*state.Config, error) {
	var cfg state.Config
	if err := p.readCommitted(addr, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
