// Package store persists the read model of one bonds deployment in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Bond struct {
	Address        string `json:"address"`
	Config         string `json:"config"`
	VoteAccount    string `json:"vote_account"`
	Authority      string `json:"authority"`
	Cpmpe          uint64 `json:"cpmpe"`
	MaxStakeWanted uint64 `json:"max_stake_wanted"`
	// FundedLamports is bond stake not yet dedicated to a settlement.
	FundedLamports uint64 `json:"funded_lamports"`
	// LockedLamports is bond stake dedicated to settlements.
	LockedLamports    uint64    `json:"locked_lamports"`
	RequestedLamports uint64    `json:"requested_lamports"`
	StakeAccounts     int       `json:"stake_accounts"`
	Epoch             uint64    `json:"epoch"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EffectiveLamports is the funded amount left after pending withdraw requests.
func (b Bond) EffectiveLamports() uint64 {
	if b.RequestedLamports >= b.FundedLamports {
		return 0
	}
	return b.FundedLamports - b.RequestedLamports
}

type Settlement struct {
	Address            string    `json:"address"`
	Config             string    `json:"config"`
	Bond               string    `json:"bond"`
	VoteAccount        string    `json:"vote_account"`
	MerkleRoot         string    `json:"merkle_root"`
	Epoch              uint64    `json:"epoch"`
	MaxTotalClaim      uint64    `json:"max_total_claim"`
	MaxMerkleNodes     uint64    `json:"max_merkle_nodes"`
	LamportsFunded     uint64    `json:"lamports_funded"`
	LamportsClaimed    uint64    `json:"lamports_claimed"`
	MerkleNodesClaimed uint64    `json:"merkle_nodes_claimed"`
	SlotCreatedAt      uint64    `json:"slot_created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type SyncState struct {
	Config    string    `json:"config"`
	Epoch     uint64    `json:"epoch"`
	Slot      uint64    `json:"slot"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SettlementFilter struct {
	Epoch       *uint64
	VoteAccount string
}

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Config solana.PublicKey
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Config.IsZero() {
		return errors.New("config address is required")
	}
	return nil
}

// Store reads and writes the rows of a single config account.
type Store struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	config string
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool, config: cfg.Config.String()}, nil
}

// ReplaceSnapshot makes the stored rows equal to the given ones in one transaction. Rows missing
// from the input are deleted.
func (s *Store) ReplaceSnapshot(ctx context.Context, epoch, slot uint64, bonds []Bond, settlements []Settlement) error {
	s.log.Debug("store: replacing snapshot", "epoch", epoch, "bonds", len(bonds), "settlements", len(settlements))

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		bondAddrs := make([]string, 0, len(bonds))
		for _, b := range bonds {
			bondAddrs = append(bondAddrs, b.Address)
			batch.Queue(`
				INSERT INTO bonds (address, config, vote_account, authority, cpmpe, max_stake_wanted,
					funded_lamports, locked_lamports, requested_lamports, stake_accounts, epoch, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
				ON CONFLICT (address) DO UPDATE SET
					authority = EXCLUDED.authority,
					cpmpe = EXCLUDED.cpmpe,
					max_stake_wanted = EXCLUDED.max_stake_wanted,
					funded_lamports = EXCLUDED.funded_lamports,
					locked_lamports = EXCLUDED.locked_lamports,
					requested_lamports = EXCLUDED.requested_lamports,
					stake_accounts = EXCLUDED.stake_accounts,
					epoch = EXCLUDED.epoch,
					updated_at = now()
			`, b.Address, s.config, b.VoteAccount, b.Authority, b.Cpmpe, b.MaxStakeWanted,
				b.FundedLamports, b.LockedLamports, b.RequestedLamports, b.StakeAccounts, epoch)
		}
		batch.Queue(`DELETE FROM bonds WHERE config = $1 AND NOT (address = ANY($2))`, s.config, bondAddrs)

		settlementAddrs := make([]string, 0, len(settlements))
		for _, st := range settlements {
			settlementAddrs = append(settlementAddrs, st.Address)
			batch.Queue(`
				INSERT INTO settlements (address, config, bond, vote_account, merkle_root, epoch,
					max_total_claim, max_merkle_nodes, lamports_funded, lamports_claimed,
					merkle_nodes_claimed, slot_created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
				ON CONFLICT (address) DO UPDATE SET
					lamports_funded = EXCLUDED.lamports_funded,
					lamports_claimed = EXCLUDED.lamports_claimed,
					merkle_nodes_claimed = EXCLUDED.merkle_nodes_claimed,
					updated_at = now()
			`, st.Address, s.config, st.Bond, st.VoteAccount, st.MerkleRoot, st.Epoch,
				st.MaxTotalClaim, st.MaxMerkleNodes, st.LamportsFunded, st.LamportsClaimed,
				st.MerkleNodesClaimed, st.SlotCreatedAt)
		}
		batch.Queue(`DELETE FROM settlements WHERE config = $1 AND NOT (address = ANY($2))`, s.config, settlementAddrs)

		batch.Queue(`
			INSERT INTO sync_state (config, epoch, slot, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (config) DO UPDATE SET epoch = EXCLUDED.epoch, slot = EXCLUDED.slot, updated_at = now()
		`, s.config, epoch, slot)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		return nil
	})
}

const bondColumns = `address, config, vote_account, authority, cpmpe, max_stake_wanted, funded_lamports,
	locked_lamports, requested_lamports, stake_accounts, epoch, updated_at`

func scanBond(row pgx.Row) (Bond, error) {
	var b Bond
	err := row.Scan(&b.Address, &b.Config, &b.VoteAccount, &b.Authority, &b.Cpmpe, &b.MaxStakeWanted,
		&b.FundedLamports, &b.LockedLamports, &b.RequestedLamports, &b.StakeAccounts, &b.Epoch, &b.UpdatedAt)
	return b, err
}

// ListBonds returns a page of bonds ordered by vote account, and the total count.
func (s *Store) ListBonds(ctx context.Context, limit, offset int) ([]Bond, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bonds WHERE config = $1`, s.config).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count bonds: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+bondColumns+`
		FROM bonds
		WHERE config = $1
		ORDER BY vote_account ASC
		LIMIT $2 OFFSET $3
	`, s.config, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bonds: %w", err)
	}
	defer rows.Close()

	bonds := []Bond{}
	for rows.Next() {
		b, err := scanBond(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan bond: %w", err)
		}
		bonds = append(bonds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate bonds: %w", err)
	}
	return bonds, total, nil
}

func (s *Store) GetBond(ctx context.Context, voteAccount string) (*Bond, error) {
	b, err := scanBond(s.pool.QueryRow(ctx, `
		SELECT `+bondColumns+`
		FROM bonds
		WHERE config = $1 AND vote_account = $2
	`, s.config, voteAccount))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bond: %w", err)
	}
	return &b, nil
}

// ListSettlements returns a page of settlements, newest epoch first, and the total count.
func (s *Store) ListSettlements(ctx context.Context, filter SettlementFilter, limit, offset int) ([]Settlement, int, error) {
	where := `config = $1 AND ($2::BIGINT IS NULL OR epoch = $2) AND ($3 = '' OR vote_account = $3)`
	args := []any{s.config, filter.Epoch, filter.VoteAccount}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM settlements WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count settlements: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT address, config, bond, vote_account, merkle_root, epoch, max_total_claim, max_merkle_nodes,
			lamports_funded, lamports_claimed, merkle_nodes_claimed, slot_created_at, updated_at
		FROM settlements
		WHERE `+where+`
		ORDER BY epoch DESC, vote_account ASC, address ASC
		LIMIT $4 OFFSET $5
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	settlements := []Settlement{}
	for rows.Next() {
		var st Settlement
		if err := rows.Scan(&st.Address, &st.Config, &st.Bond, &st.VoteAccount, &st.MerkleRoot, &st.Epoch,
			&st.MaxTotalClaim, &st.MaxMerkleNodes, &st.LamportsFunded, &st.LamportsClaimed,
			&st.MerkleNodesClaimed, &st.SlotCreatedAt, &st.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate settlements: %w", err)
	}
	return settlements, total, nil
}

// SyncState returns when the rows were last replaced. ErrNotFound means never.
func (s *Store) SyncState(ctx context.Context) (*SyncState, error) {
	var st SyncState
	err := s.pool.QueryRow(ctx, `
		SELECT config, epoch, slot, updated_at FROM sync_state WHERE config = $1
	`, s.config).Scan(&st.Config, &st.Epoch, &st.Slot, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &st, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
