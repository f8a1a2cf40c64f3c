// Package collector keeps the API store in sync with the chain.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/bonds/api/metrics"
	"github.com/malbeclabs/bonds/api/store"
	"github.com/malbeclabs/bonds/pipeline/pkg/onchain"
	"github.com/malbeclabs/bonds/program/pkg/stake"
)

type Fetcher interface {
	Fetch(ctx context.Context) (*onchain.Snapshot, error)
}

type Store interface {
	ReplaceSnapshot(ctx context.Context, epoch, slot uint64, bonds []store.Bond, settlements []store.Settlement) error
}

type Config struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Fetcher         Fetcher
	Store           Store
	RefreshInterval time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Collector struct {
	log       *slog.Logger
	cfg       Config
	refreshMu sync.Mutex

	readyOnce sync.Once
	readyCh   chan struct{}
}

func New(cfg Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

// Ready reports whether at least one snapshot has been stored.
func (c *Collector) Ready() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

func (c *Collector) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for collector: %w", ctx.Err())
	}
}

// Start refreshes immediately and then on every tick until ctx is done.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		c.log.Info("collector: starting refresh loop", "interval", c.cfg.RefreshInterval)

		c.safeRefresh(ctx)

		ticker := c.cfg.Clock.NewTicker(c.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				c.safeRefresh(ctx)
			}
		}
	}()
}

func (c *Collector) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("collector: refresh panicked", "panic", r)
			metrics.CollectorRefreshTotal.WithLabelValues("panic").Inc()
		}
	}()

	if err := c.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Error("collector: refresh failed", "error", err)
	}
}

// Refresh fetches one snapshot and replaces the stored rows with it.
func (c *Collector) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	refreshStart := c.cfg.Clock.Now()
	c.log.Debug("collector: refresh started")
	defer func() {
		duration := c.cfg.Clock.Since(refreshStart)
		metrics.CollectorRefreshDuration.Observe(duration.Seconds())
	}()

	snap, err := c.cfg.Fetcher.Fetch(ctx)
	if err != nil {
		metrics.CollectorRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	bonds := convertBonds(snap)
	settlements := convertSettlements(snap)
	if err := c.cfg.Store.ReplaceSnapshot(ctx, snap.Epoch, snap.Slot, bonds, settlements); err != nil {
		metrics.CollectorRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	metrics.CollectorEpoch.Set(float64(snap.Epoch))
	metrics.CollectorAccounts.WithLabelValues("bond").Set(float64(len(snap.Bonds)))
	metrics.CollectorAccounts.WithLabelValues("settlement").Set(float64(len(snap.Settlements)))
	metrics.CollectorAccounts.WithLabelValues("withdraw_request").Set(float64(len(snap.WithdrawRequests)))
	metrics.CollectorAccounts.WithLabelValues("stake").Set(float64(len(snap.StakeAccounts)))

	c.readyOnce.Do(func() {
		close(c.readyCh)
		c.log.Info("collector: now ready")
	})

	c.log.Info("collector: refresh completed",
		"epoch", snap.Epoch,
		"bonds", len(bonds),
		"settlements", len(settlements),
		"duration", c.cfg.Clock.Since(refreshStart).String())
	metrics.CollectorRefreshTotal.WithLabelValues("success").Inc()
	return nil
}

// convertBonds attributes every custody stake account to the bond of its voter. Accounts whose
// staker is still the withdrawer authority fund the bond; the others are locked in settlements.
func convertBonds(snap *onchain.Snapshot) []store.Bond {
	byVote := make(map[solana.PublicKey]*store.Bond, len(snap.Bonds))
	byAddr := make(map[solana.PublicKey]*store.Bond, len(snap.Bonds))
	result := make([]store.Bond, len(snap.Bonds))
	for i, b := range snap.Bonds {
		result[i] = store.Bond{
			Address:        b.Address.String(),
			Config:         snap.ConfigAddress.String(),
			VoteAccount:    b.Bond.VoteAccount.String(),
			Authority:      b.Bond.Authority.String(),
			Cpmpe:          b.Bond.Cpmpe,
			MaxStakeWanted: b.Bond.MaxStakeWanted,
			Epoch:          snap.Epoch,
		}
		byVote[b.Bond.VoteAccount] = &result[i]
		byAddr[b.Address] = &result[i]
	}

	for _, sa := range snap.StakeAccounts {
		if sa.State.Kind != stake.KindStake {
			continue
		}
		bond, ok := byVote[sa.State.Stake.Delegation.VoterPubkey]
		if !ok {
			continue
		}
		bond.StakeAccounts++
		if sa.State.Meta.Authorized.Staker == sa.State.Meta.Authorized.Withdrawer {
			bond.FundedLamports += sa.Lamports
		} else {
			bond.LockedLamports += sa.Lamports
		}
	}

	for _, r := range snap.WithdrawRequests {
		bond, ok := byAddr[r.WithdrawRequest.Bond]
		if !ok || r.WithdrawRequest.WithdrawnAmount >= r.WithdrawRequest.RequestedAmount {
			continue
		}
		bond.RequestedLamports += r.WithdrawRequest.RequestedAmount - r.WithdrawRequest.WithdrawnAmount
	}
	return result
}

func convertSettlements(snap *onchain.Snapshot) []store.Settlement {
	votes := make(map[solana.PublicKey]solana.PublicKey, len(snap.Bonds))
	for _, b := range snap.Bonds {
		votes[b.Address] = b.Bond.VoteAccount
	}
	result := make([]store.Settlement, len(snap.Settlements))
	for i, s := range snap.Settlements {
		st := s.Settlement
		result[i] = store.Settlement{
			Address:            s.Address.String(),
			Config:             snap.ConfigAddress.String(),
			Bond:               st.Bond.String(),
			VoteAccount:        votes[st.Bond].String(),
			MerkleRoot:         solana.Hash(st.MerkleRoot).String(),
			Epoch:              st.EpochCreatedFor,
			MaxTotalClaim:      st.MaxTotalClaim,
			MaxMerkleNodes:     st.MaxMerkleNodes,
			LamportsFunded:     st.LamportsFunded,
			LamportsClaimed:    st.LamportsClaimed,
			MerkleNodesClaimed: st.MerkleNodesClaimed,
			SlotCreatedAt:      st.SlotCreatedAt,
		}
	}
	return result
}
