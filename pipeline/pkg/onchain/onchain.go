// Package onchain reads the accounts of a bonds deployment over JSON-RPC.
package onchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/bonds/program/pkg/stake"
	"github.com/malbeclabs/bonds/program/pkg/state"
	"github.com/malbeclabs/bonds/utils/pkg/retry"
	"golang.org/x/sync/errgroup"
)

// Offsets of the memcmp filters. Bond.Config follows the discriminator; the stake withdrawer
// follows the state kind, the rent exempt reserve and the staker.
const (
	bondConfigOffset        = state.DiscriminatorLength
	stakeWithdrawerOffset   = 4 + 8 + 32
	defaultCommitmentConfig = solanarpc.CommitmentConfirmed
)

type SolanaRPC interface {
	GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error)
}

type FetcherConfig struct {
	Logger     *slog.Logger
	RPC        SolanaRPC
	ProgramID  solana.PublicKey
	Config     solana.PublicKey
	Commitment solanarpc.CommitmentType
	Retry      retry.Config
}

func (cfg *FetcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc is required")
	}
	if cfg.Config.IsZero() {
		return errors.New("config address is required")
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = state.ProgramID
	}
	if cfg.Commitment == "" {
		cfg.Commitment = defaultCommitmentConfig
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

type BondAccount struct {
	Address solana.PublicKey
	Bond    state.Bond
}

type SettlementAccount struct {
	Address    solana.PublicKey
	Settlement state.Settlement
}

type WithdrawRequestAccount struct {
	Address         solana.PublicKey
	WithdrawRequest state.WithdrawRequest
}

type StakeAccount struct {
	Address  solana.PublicKey
	Lamports uint64
	State    stake.State
}

// Snapshot is everything a deployment holds at one point in time. Every slice is ordered by
// address.
type Snapshot struct {
	Epoch            uint64
	Slot             uint64
	ConfigAddress    solana.PublicKey
	Config           state.Config
	Bonds            []BondAccount
	Settlements      []SettlementAccount
	WithdrawRequests []WithdrawRequestAccount
	// StakeAccounts are the stake accounts withdrawable by the bonds withdrawer authority.
	StakeAccounts []StakeAccount
}

// BondByVoteAccount finds the bond of a vote account.
func (s *Snapshot) BondByVoteAccount(voteAccount solana.PublicKey) (BondAccount, bool) {
	for _, b := range s.Bonds {
		if b.Bond.VoteAccount == voteAccount {
			return b, true
		}
	}
	return BondAccount{}, false
}

type Fetcher struct {
	log *slog.Logger
	cfg FetcherConfig
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Fetcher{log: cfg.Logger, cfg: cfg}, nil
}

// Fetch reads the config account and every account that belongs to it.
func (f *Fetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	withdrawer, _, err := state.FindBondsWithdrawerAuthority(f.cfg.ProgramID, f.cfg.Config)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{ConfigAddress: f.cfg.Config}
	var settlements []SettlementAccount
	var requests []WithdrawRequestAccount

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := retry.DoWithResult(gctx, f.cfg.Retry, func() (*solanarpc.GetEpochInfoResult, error) {
			return f.cfg.RPC.GetEpochInfo(gctx, f.cfg.Commitment)
		})
		if err != nil {
			return fmt.Errorf("failed to get epoch info: %w", err)
		}
		snap.Epoch = info.Epoch
		snap.Slot = info.AbsoluteSlot
		return nil
	})
	g.Go(func() error {
		cfg, err := f.fetchConfig(gctx)
		if err != nil {
			return err
		}
		snap.Config = *cfg
		return nil
	})
	g.Go(func() error {
		var err error
		snap.Bonds, err = fetchAccounts(gctx, f, state.BondDiscriminator, []solanarpc.RPCFilter{memcmp(bondConfigOffset, f.cfg.Config[:])},
			func(addr solana.PublicKey, acc *state.Bond) BondAccount { return BondAccount{Address: addr, Bond: *acc} })
		return err
	})
	g.Go(func() error {
		var err error
		settlements, err = fetchAccounts(gctx, f, state.SettlementDiscriminator, nil,
			func(addr solana.PublicKey, acc *state.Settlement) SettlementAccount {
				return SettlementAccount{Address: addr, Settlement: *acc}
			})
		return err
	})
	g.Go(func() error {
		var err error
		requests, err = fetchAccounts(gctx, f, state.WithdrawRequestDiscriminator, nil,
			func(addr solana.PublicKey, acc *state.WithdrawRequest) WithdrawRequestAccount {
				return WithdrawRequestAccount{Address: addr, WithdrawRequest: *acc}
			})
		return err
	})
	g.Go(func() error {
		var err error
		snap.StakeAccounts, err = f.fetchStakeAccounts(gctx, withdrawer)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Settlements and withdraw requests carry no config; keep those of this config's bonds.
	bonds := make(map[solana.PublicKey]struct{}, len(snap.Bonds))
	for _, b := range snap.Bonds {
		bonds[b.Address] = struct{}{}
	}
	for _, s := range settlements {
		if _, ok := bonds[s.Settlement.Bond]; ok {
			snap.Settlements = append(snap.Settlements, s)
		}
	}
	for _, r := range requests {
		if _, ok := bonds[r.WithdrawRequest.Bond]; ok {
			snap.WithdrawRequests = append(snap.WithdrawRequests, r)
		}
	}

	f.log.Info("onchain: fetched",
		"config", f.cfg.Config.String(),
		"epoch", snap.Epoch,
		"bonds", len(snap.Bonds),
		"settlements", len(snap.Settlements),
		"withdraw_requests", len(snap.WithdrawRequests),
		"stake_accounts", len(snap.StakeAccounts))
	return snap, nil
}

func (f *Fetcher) fetchConfig(ctx context.Context) (*state.Config, error) {
	res, err := retry.DoWithResult(ctx, f.cfg.Retry, func() (*solanarpc.GetAccountInfoResult, error) {
		return f.cfg.RPC.GetAccountInfoWithOpts(ctx, f.cfg.Config, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: f.cfg.Commitment,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get config account %s: %w", f.cfg.Config, err)
	}
	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("config account %s not found", f.cfg.Config)
	}
	if res.Value.Owner != f.cfg.ProgramID {
		return nil, fmt.Errorf("config account %s is owned by %s", f.cfg.Config, res.Value.Owner)
	}
	var cfg state.Config
	if err := state.Unmarshal(res.Value.Data.GetBinary(), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config account %s: %w", f.cfg.Config, err)
	}
	return &cfg, nil
}

func (f *Fetcher) fetchStakeAccounts(ctx context.Context, withdrawer solana.PublicKey) ([]StakeAccount, error) {
	res, err := f.programAccounts(ctx, stake.ProgramID, []solanarpc.RPCFilter{memcmp(stakeWithdrawerOffset, withdrawer[:])})
	if err != nil {
		return nil, fmt.Errorf("failed to get stake accounts: %w", err)
	}
	out := make([]StakeAccount, 0, len(res))
	for _, ka := range res {
		if ka == nil || ka.Account == nil {
			continue
		}
		st, err := stake.Decode(ka.Account.Data.GetBinary())
		if err != nil {
			f.log.Warn("onchain: skipping undecodable stake account", "address", ka.Pubkey.String(), "error", err)
			continue
		}
		out = append(out, StakeAccount{Address: ka.Pubkey, Lamports: ka.Account.Lamports, State: *st})
	}
	slices.SortFunc(out, func(a, b StakeAccount) int { return bytes.Compare(a.Address[:], b.Address[:]) })
	return out, nil
}

func (f *Fetcher) programAccounts(ctx context.Context, program solana.PublicKey, filters []solanarpc.RPCFilter) (solanarpc.GetProgramAccountsResult, error) {
	return retry.DoWithResult(ctx, f.cfg.Retry, func() (solanarpc.GetProgramAccountsResult, error) {
		return f.cfg.RPC.GetProgramAccountsWithOpts(ctx, program, &solanarpc.GetProgramAccountsOpts{
			Commitment: f.cfg.Commitment,
			Encoding:   solana.EncodingBase64,
			Filters:    filters,
		})
	})
}

// fetchAccounts reads every program account of one type. Accounts that fail to decode are logged
// and skipped.
func fetchAccounts[A any, T any, PA interface {
	*A
	state.Account
}](ctx context.Context, f *Fetcher, disc state.Discriminator, filters []solanarpc.RPCFilter, wrap func(solana.PublicKey, PA) T) ([]T, error) {
	filters = append([]solanarpc.RPCFilter{memcmp(0, disc[:])}, filters...)
	res, err := f.programAccounts(ctx, f.cfg.ProgramID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get program accounts: %w", err)
	}
	type keyed struct {
		addr solana.PublicKey
		v    T
	}
	items := make([]keyed, 0, len(res))
	for _, ka := range res {
		if ka == nil || ka.Account == nil {
			continue
		}
		acc := PA(new(A))
		if err := state.Unmarshal(ka.Account.Data.GetBinary(), acc); err != nil {
			f.log.Warn("onchain: skipping undecodable account", "address", ka.Pubkey.String(), "error", err)
			continue
		}
		items = append(items, keyed{addr: ka.Pubkey, v: wrap(ka.Pubkey, acc)})
	}
	slices.SortFunc(items, func(a, b keyed) int { return bytes.Compare(a.addr[:], b.addr[:]) })
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = it.v
	}
	return out, nil
}

func memcmp(offset uint64, b []byte) solanarpc.RPCFilter {
	return solanarpc.RPCFilter{Memcmp: &solanarpc.RPCFilterMemcmp{Offset: offset, Bytes: solana.Base58(b)}}
}
