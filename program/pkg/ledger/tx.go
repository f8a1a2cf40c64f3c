package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/sysvar"
)

// Tx is the view of the ledger seen by one instruction.
type Tx struct {
	ledger  *Ledger
	name    string
	overlay map[solana.PublicKey]*Account
	events  []Event
}

func (tx *Tx) Clock() sysvar.Clock {
	return tx.ledger.clock
}

func (tx *Tx) Rent() sysvar.Rent {
	return tx.ledger.cfg.Rent
}

// Exists reports whether addr holds an account in this view.
func (tx *Tx) Exists(addr solana.PublicKey) bool {
	if acc, ok := tx.overlay[addr]; ok {
		return acc != nil
	}
	_, ok := tx.ledger.accounts[addr]
	return ok
}

// Get returns the account at addr. Mutations through the returned pointer are part of the
// instruction and are discarded if it fails.
func (tx *Tx) Get(addr solana.PublicKey) (*Account, error) {
	if acc, ok := tx.overlay[addr]; ok {
		if acc == nil {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return acc, nil
	}
	acc, ok := tx.ledger.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	cp := acc.clone()
	tx.overlay[addr] = cp
	return cp, nil
}

// Create allocates a new account funded by payer. It fails if addr is already in use, which makes
// derived addresses usable as an insert-if-absent guard.
func (tx *Tx) Create(addr, owner, payer solana.PublicKey, lamports uint64, data []byte) (*Account, error) {
	if tx.Exists(addr) {
		return nil, fmt.Errorf("%w: %s", ErrAccountAlreadyExists, addr)
	}
	if err := tx.debit(payer, lamports); err != nil {
		return nil, err
	}
	acc := &Account{Owner: owner, Lamports: lamports, Data: data}
	tx.overlay[addr] = acc
	return acc, nil
}

// CreateRentExempt creates an account of size bytes funded with its rent-exempt minimum.
func (tx *Tx) CreateRentExempt(addr, owner, payer solana.PublicKey, data []byte) (*Account, error) {
	return tx.Create(addr, owner, payer, tx.Rent().MinimumBalance(len(data)), data)
}

// Close removes the account at addr and moves its lamports to collector.
func (tx *Tx) Close(addr, collector solana.PublicKey) (uint64, error) {
	acc, err := tx.Get(addr)
	if err != nil {
		return 0, err
	}
	lamports := acc.Lamports
	acc.Lamports = 0
	if err := tx.credit(collector, lamports); err != nil {
		return 0, err
	}
	tx.overlay[addr] = nil
	return lamports, nil
}

// Transfer moves lamports between accounts, creating a system account for a new recipient.
func (tx *Tx) Transfer(from, to solana.PublicKey, lamports uint64) error {
	if err := tx.debit(from, lamports); err != nil {
		return err
	}
	return tx.credit(to, lamports)
}

// Emit records an event that is published if the instruction commits.
func (tx *Tx) Emit(name string, payload any) {
	tx.events = append(tx.events, Event{Slot: tx.ledger.clock.Slot, Name: name, Payload: payload})
}

func (tx *Tx) debit(addr solana.PublicKey, lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	acc, err := tx.Get(addr)
	if err != nil {
		return err
	}
	if acc.Lamports < lamports {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientLamports, addr, acc.Lamports, lamports)
	}
	acc.Lamports -= lamports
	return nil
}

func (tx *Tx) credit(addr solana.PublicKey, lamports uint64) error {
	if !tx.Exists(addr) {
		tx.overlay[addr] = &Account{Owner: solana.SystemProgramID}
	}
	acc, err := tx.Get(addr)
	if err != nil {
		return err
	}
	acc.Lamports += lamports
	return nil
}
