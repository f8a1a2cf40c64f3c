package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/engine/pkg/artifacts"
	"github.com/malbeclabs/bonds/engine/pkg/protected"
	"github.com/malbeclabs/bonds/engine/pkg/settlement"
	"github.com/malbeclabs/bonds/engine/pkg/snapshot"
	"github.com/mr-tron/base58"
)

type Config struct {
	Logger                 *slog.Logger
	ValidatorsPath         string
	PreviousValidatorsPath string
	StakesPath             string
	PoliciesPath           string
	StakeAuthorityFilter   settlement.StakeAuthorityFilter
	Store                  artifacts.Store
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ValidatorsPath == "" {
		return errors.New("validators path is required")
	}
	if cfg.StakesPath == "" {
		return errors.New("stakes path is required")
	}
	if cfg.PoliciesPath == "" {
		return errors.New("policies path is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	return nil
}

type Result struct {
	ProtectedEvents *protected.ProtectedEventCollection
	Settlements     *settlement.SettlementCollection
	MerkleTrees     *settlement.MerkleTreeCollection
}

// Run turns one epoch of snapshot data into protected events, settlements and merkle trees and
// stores all three.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger

	validators, err := snapshot.LoadValidatorMetaCollection(cfg.ValidatorsPath)
	if err != nil {
		return nil, err
	}
	var previous *snapshot.ValidatorMetaCollection
	if cfg.PreviousValidatorsPath != "" {
		previous, err = snapshot.LoadValidatorMetaCollection(cfg.PreviousValidatorsPath)
		if err != nil {
			return nil, err
		}
	}
	stakes, err := snapshot.LoadStakeMetaCollection(cfg.StakesPath)
	if err != nil {
		return nil, err
	}
	policies, err := settlement.LoadPolicyFile(cfg.PoliciesPath)
	if err != nil {
		return nil, err
	}

	index, err := snapshot.NewStakeMetaIndex(validators, stakes)
	if err != nil {
		return nil, err
	}
	events, err := protected.Collect(validators, previous)
	if err != nil {
		return nil, fmt.Errorf("failed to collect protected events: %w", err)
	}
	log.Info("engine: collected protected events", "epoch", events.Epoch, "events", len(events.Events))

	settlements, err := settlement.Generate(events, index, policies.Policies, cfg.StakeAuthorityFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to generate settlements: %w", err)
	}
	trees, err := settlement.BuildMerkleTreeCollection(settlements)
	if err != nil {
		return nil, err
	}
	for _, t := range trees.MerkleTrees {
		log.Info("engine: merkle tree",
			"vote_account", t.VoteAccount.String(),
			"funder", string(t.Funder),
			"root", t.MerkleRoot.String(),
			"max_total_claim_sum", t.MaxTotalClaimSum,
			"max_total_claims", t.MaxTotalClaims)
	}

	for name, v := range map[string]any{
		artifacts.ProtectedEventsFile: events,
		artifacts.SettlementsFile:     settlements,
		artifacts.MerkleTreesFile:     trees,
	} {
		if err := artifacts.PutJSON(ctx, cfg.Store, name, v); err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", name, err)
		}
	}
	log.Info("engine: done", "settlements", len(settlements.Settlements), "merkle_trees", len(trees.MerkleTrees))
	return &Result{ProtectedEvents: events, Settlements: settlements, MerkleTrees: trees}, nil
}

// ParseAuthorities decodes base58 public keys given on the command line.
func ParseAuthorities(values []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(values))
	for _, v := range values {
		raw, err := base58.Decode(v)
		if err != nil {
			return nil, fmt.Errorf("invalid authority %q: %w", v, err)
		}
		if len(raw) != solana.PublicKeyLength {
			return nil, fmt.Errorf("invalid authority %q: %d bytes", v, len(raw))
		}
		out = append(out, solana.PublicKeyFromBytes(raw))
	}
	return out, nil
}
