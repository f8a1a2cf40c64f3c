// Package bonds implements the instructions of the validator bonds program over a ledger.
//
// Every instruction runs as one ledger transaction: it either applies all of its account changes or
// none. Signers are passed explicitly in the argument structs; the caller vouches for them the way
// a transaction signature would.
package bonds

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

const DefaultMinimumStakeLamports = 1_000_000_000

type ProgramConfig struct {
	Logger    *slog.Logger
	Ledger    *ledger.Ledger
	ProgramID solana.PublicKey
}

func (cfg *ProgramConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = state.ProgramID
	}
	return nil
}

type Program struct {
	log       *slog.Logger
	ledger    *ledger.Ledger
	programID solana.PublicKey
}

func New(cfg ProgramConfig) (*Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Program{
		log:       cfg.Logger,
		ledger:    cfg.Ledger,
		programID: cfg.ProgramID,
	}, nil
}

func (p *Program) ProgramID() solana.PublicKey { return p.programID }

func (p *Program) Ledger() *ledger.Ledger { return p.ledger }

func (p *Program) execute(name string, fn func(tx *ledger.Tx) error) error {
	err := p.ledger.Execute(name, fn)
	if err != nil {
		p.log.Debug("bonds: instruction failed", "instruction", name, "error", err)
		return err
	}
	p.log.Debug("bonds: instruction executed", "instruction", name)
	return nil
}

// Account readers. Each checks ownership and discriminator before decoding.

func (p *Program) loadAccount(tx *ledger.Tx, addr solana.PublicKey, acc state.Account) error {
	raw, err := tx.Get(addr)
	if err != nil {
		return err
	}
	if raw.Owner != p.programID {
		return newError(CodeInvalidProgramID, "%s", addr)
	}
	if err := state.Unmarshal(raw.Data, acc); err != nil {
		return fmt.Errorf("failed to load %s: %w", addr, err)
	}
	return nil
}

func (p *Program) storeAccount(tx *ledger.Tx, addr solana.PublicKey, acc state.Account) error {
	raw, err := tx.Get(addr)
	if err != nil {
		return err
	}
	data, err := state.Marshal(acc)
	if err != nil {
		return err
	}
	raw.Data = data
	return nil
}

func (p *Program) createAccount(tx *ledger.Tx, addr, payer solana.PublicKey, acc state.Account) error {
	data, err := state.Marshal(acc)
	if err != nil {
		return err
	}
	_, err = tx.CreateRentExempt(addr, p.programID, payer, data)
	return err
}

func (p *Program) loadConfig(tx *ledger.Tx, addr solana.PublicKey) (*state.Config, error) {
	var cfg state.Config
	if err := p.loadAccount(tx, addr, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadBond loads the bond of voteAccount under config, deriving its address.
func (p *Program) loadBond(tx *ledger.Tx, config, voteAccount solana.PublicKey) (solana.PublicKey, *state.Bond, error) {
	addr, _, err := state.FindBondAddress(p.programID, config, voteAccount)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	var bond state.Bond
	if err := p.loadAccount(tx, addr, &bond); err != nil {
		return solana.PublicKey{}, nil, err
	}
	if bond.Config != config {
		return solana.PublicKey{}, nil, ErrInvalidConfigAccount
	}
	if bond.VoteAccount != voteAccount {
		return solana.PublicKey{}, nil, ErrBondAccountMismatch
	}
	return addr, &bond, nil
}

func (p *Program) loadSettlement(tx *ledger.Tx, addr, bondAddr solana.PublicKey) (*state.Settlement, error) {
	var settlement state.Settlement
	if err := p.loadAccount(tx, addr, &settlement); err != nil {
		return nil, err
	}
	if settlement.Bond != bondAddr {
		return nil, newError(CodeSettlementAccountMismatch, "settlement %s belongs to bond %s", addr, settlement.Bond)
	}
	return &settlement, nil
}

func (p *Program) loadVoteAccount(tx *ledger.Tx, addr solana.PublicKey) (*state.VoteAccount, error) {
	raw, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	if raw.Owner != state.VoteProgramID {
		return nil, newError(CodeInvalidVoteAccountProgramID, "%s", addr)
	}
	return state.DecodeVoteAccount(raw.Data)
}

type stakeAccount struct {
	addr    solana.PublicKey
	account *ledger.Account
	state   *stake.State
}

func (s *stakeAccount) store() error {
	data, err := s.state.Encode()
	if err != nil {
		return err
	}
	s.account.Data = data
	return nil
}

func (p *Program) loadStake(tx *ledger.Tx, addr solana.PublicKey) (*stakeAccount, error) {
	raw, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	if raw.Owner != stake.ProgramID {
		return nil, newError(CodeInvalidStakeOwner, "%s", addr)
	}
	st, err := stake.Decode(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stake account %s: %w", addr, err)
	}
	return &stakeAccount{addr: addr, account: raw, state: st}, nil
}

func (p *Program) bondsWithdrawer(config solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := state.FindBondsWithdrawerAuthority(p.programID, config)
	return addr, err
}

func checkNotPaused(cfg *state.Config) error {
	if cfg.Paused {
		return ErrProgramIsPaused
	}
	return nil
}

func checkOperator(cfg *state.Config, signer solana.PublicKey) error {
	if signer != cfg.OperatorAuthority {
		return ErrInvalidOperatorAuthority
	}
	return nil
}

// checkBondAuthority accepts the bond authority or the validator identity of the bonded vote account.
func (p *Program) checkBondAuthority(tx *ledger.Tx, bond *state.Bond, signer solana.PublicKey) error {
	if signer == bond.Authority {
		return nil
	}
	vote, err := p.loadVoteAccount(tx, bond.VoteAccount)
	if err != nil {
		return err
	}
	if signer != vote.NodePubkey {
		return ErrInvalidBondAuthority
	}
	return nil
}

// checkBondCustody verifies a stake account is held by the bonds program for voteAccount with the
// expected staker.
func checkBondCustody(sa *stakeAccount, withdrawer, staker, voteAccount solana.PublicKey) error {
	st := sa.state
	if st.Kind != stake.KindStake {
		return newError(CodeStakeNotDelegated, "%s is %s", sa.addr, st.Kind)
	}
	if st.Meta.Authorized.Withdrawer != withdrawer {
		return newError(CodeWrongStakeAccountWithdrawer, "%s", sa.addr)
	}
	if st.Meta.Authorized.Staker != staker {
		return newError(CodeWrongStakeAccountStaker, "%s has staker %s, expected %s", sa.addr, st.Meta.Authorized.Staker, staker)
	}
	if st.Stake.Delegation.VoterPubkey != voteAccount {
		return newError(CodeBondStakeWrongDelegation, "%s is delegated to %s", sa.addr, st.Stake.Delegation.VoterPubkey)
	}
	return nil
}

func minimalStakeSize(st *stake.State, cfg *state.Config) uint64 {
	return st.Meta.RentExemptReserve + cfg.MinimumStakeLamports
}

func mapCreateError(err error, code ErrorCode) error {
	if errors.Is(err, ledger.ErrAccountAlreadyExists) {
		return wrapError(code, err)
	}
	return err
}

func (p *Program) readCommitted(addr solana.PublicKey, acc state.Account) error {
	raw, ok := p.ledger.Get(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	if raw.Owner != p.programID {
		return newError(CodeInvalidProgramID, "%s", addr)
	}
	return state.Unmarshal(raw.Data, acc)
}

func (p *Program) Bond(config, voteAccount solana.PublicKey) (solana.PublicKey, *state.Bond, error) {
	addr, _, err := state.FindBondAddress(p.programID, config, voteAccount)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	var bond state.Bond
	if err := p.readCommitted(addr, &bond); err != nil {
		return solana.PublicKey{}, nil, err
	}
	return addr, &bond, nil
}

func (p *Program) Settlement(addr solana.PublicKey) (*state.Settlement, error) {
	var settlement state.Settlement
	if err := p.readCommitted(addr, &settlement); err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (p *Program) SettlementClaims(settlement solana.PublicKey) (*state.SettlementClaims, error) {
	addr, _, err := state.FindSettlementClaimsAddress(p.programID, settlement)
	if err != nil {
		return nil, err
	}
	var claims state.SettlementClaims
	if err := p.readCommitted(addr, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (p *Program) WithdrawRequest(bond solana.PublicKey) (*state.WithdrawRequest, error) {
	addr, _, err := state.FindWithdrawRequestAddress(p.programID, bond)
	if err != nil {
		return nil, err
	}
	var req state.WithdrawRequest
	if err := p.readCommitted(addr, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// StakeAccount returns the committed stake state and lamports of addr.
func (p *Program) StakeAccount(addr solana.PublicKey) (*stake.State, uint64, error) {
	raw, ok := p.ledger.Get(addr)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	if raw.Owner != stake.ProgramID {
		return nil, 0, newError(CodeInvalidStakeOwner, "%s", addr)
	}
	st, err := stake.Decode(raw.Data)
	if err != nil {
		return nil, 0, err
	}
	return st, raw.Lamports, nil
}

// splitStake moves splitLamports from src into a new stake account at dest with the same meta and
// delegation. payer funds the rent-exempt reserve of the new account on top of the split lamports.
func (p *Program) splitStake(tx *ledger.Tx, src *stakeAccount, signer, dest, payer solana.PublicKey, splitLamports, minimumStake uint64) (*stakeAccount, uint64, error) {
	splitState, err := src.state.Split(signer, src.account.Lamports, splitLamports, minimumStake)
	if err != nil {
		if errors.Is(err, stake.ErrNotBigEnoughToSplit) {
			return nil, 0, wrapError(CodeStakeAccountNotBigEnoughToSplit, err)
		}
		return nil, 0, fmt.Errorf("failed to split stake account %s: %w", src.addr, err)
	}
	data, err := splitState.Encode()
	if err != nil {
		return nil, 0, err
	}
	rent := tx.Rent().MinimumBalance(stake.AccountSize)
	acc, err := tx.Create(dest, stake.ProgramID, payer, rent, data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create split stake account: %w", err)
	}
	src.account.Lamports -= splitLamports
	acc.Lamports += splitLamports
	if err := src.store(); err != nil {
		return nil, 0, err
	}
	return &stakeAccount{addr: dest, account: acc, state: splitState}, rent, nil
}
