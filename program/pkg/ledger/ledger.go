// Package ledger is an in-memory account store with the execution semantics of the runtime:
// instructions run one at a time, see a copy-on-write view of the accounts and are committed only
// when they succeed.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/program/pkg/sysvar"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrInsufficientLamports = errors.New("insufficient lamports")
)

type Account struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

func (a *Account) clone() *Account {
	return &Account{Owner: a.Owner, Lamports: a.Lamports, Data: slices.Clone(a.Data)}
}

type Config struct {
	Logger        *slog.Logger
	Clock         sysvar.Clock
	Rent          sysvar.Rent
	SlotsPerEpoch uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Rent == (sysvar.Rent{}) {
		cfg.Rent = sysvar.DefaultRent()
	}
	if cfg.SlotsPerEpoch == 0 {
		cfg.SlotsPerEpoch = sysvar.DefaultSlotsPerEpoch
	}
	return nil
}

// Event is a record emitted by a committed instruction.
type Event struct {
	Slot    uint64
	Name    string
	Payload any
}

type Ledger struct {
	log *slog.Logger
	cfg Config

	mu       sync.Mutex
	clock    sysvar.Clock
	accounts map[solana.PublicKey]*Account
	events   []Event
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Ledger{
		log:      cfg.Logger,
		cfg:      cfg,
		clock:    cfg.Clock,
		accounts: make(map[solana.PublicKey]*Account),
	}, nil
}

// Execute runs fn against a private view of the accounts. Changes and emitted events become
// visible only if fn returns nil; any error leaves the ledger untouched.
func (l *Ledger) Execute(name string, fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{ledger: l, name: name, overlay: make(map[solana.PublicKey]*Account)}
	if err := fn(tx); err != nil {
		l.log.Debug("ledger: instruction rejected", "instruction", name, "error", err)
		return err
	}
	for addr, acc := range tx.overlay {
		if acc == nil {
			delete(l.accounts, addr)
			continue
		}
		l.accounts[addr] = acc
	}
	l.events = append(l.events, tx.events...)
	l.log.Debug("ledger: instruction committed", "instruction", name, "accounts", len(tx.overlay))
	return nil
}

// Get returns a copy of the committed account.
func (l *Ledger) Get(addr solana.PublicKey) (*Account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, false
	}
	return acc.clone(), true
}

// Put writes an account outside of any instruction, for genesis state and tests.
func (l *Ledger) Put(addr solana.PublicKey, acc *Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[addr] = acc.clone()
}

// Addresses returns every committed address owned by owner, sorted.
func (l *Ledger) Addresses(owner solana.PublicKey) []solana.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []solana.PublicKey
	for _, addr := range slices.SortedFunc(maps.Keys(l.accounts), comparePubkeys) {
		if l.accounts[addr].Owner == owner {
			out = append(out, addr)
		}
	}
	return out
}

func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *Ledger) Clock() sysvar.Clock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clock
}

func (l *Ledger) SetClock(clock sysvar.Clock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
}

// AdvanceEpochs moves the clock forward to the first slot of the epoch n epochs ahead.
func (l *Ledger) AdvanceEpochs(n uint64) sysvar.Clock {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = l.clock.AdvanceEpochs(n, l.cfg.SlotsPerEpoch)
	return l.clock
}

// AdvanceSlots moves the slot forward within the current epoch.
func (l *Ledger) AdvanceSlots(n uint64) sysvar.Clock {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock.Slot += n
	return l.clock
}

func (l *Ledger) Rent() sysvar.Rent {
	return l.cfg.Rent
}

func comparePubkeys(a, b solana.PublicKey) int {
	return bytes.Compare(a[:], b[:])
}
