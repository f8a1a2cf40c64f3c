package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/bonds/api/handlers/dberror"
	"github.com/malbeclabs/bonds/api/metrics"
	"github.com/malbeclabs/bonds/api/store"
	"github.com/malbeclabs/bonds/utils/pkg/retry"
	"github.com/mr-tron/base58"
)

// Store is the read side of the bonds store.
type Store interface {
	ListBonds(ctx context.Context, limit, offset int) ([]store.Bond, int, error)
	GetBond(ctx context.Context, voteAccount string) (*store.Bond, error)
	ListSettlements(ctx context.Context, filter store.SettlementFilter, limit, offset int) ([]store.Settlement, int, error)
	SyncState(ctx context.Context) (*store.SyncState, error)
}

type Handlers struct {
	log      *slog.Logger
	store    Store
	retryCfg retry.Config
}

func New(log *slog.Logger, s Store) *Handlers {
	return &Handlers{log: log, store: s, retryCfg: dberror.DefaultRetryConfig()}
}

// BondResponse is a bond with its derived effective amount.
type BondResponse struct {
	store.Bond
	EffectiveLamports uint64 `json:"effective_lamports"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func newBondResponse(b store.Bond) BondResponse {
	return BondResponse{Bond: b, EffectiveLamports: b.EffectiveLamports()}
}

type page[T any] struct {
	items []T
	total int
}

// ListBonds handles GET /v1/bonds.
func (h *Handlers) ListBonds(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, DefaultLimit)
	res, err := query(r.Context(), h, "list_bonds", func() (page[store.Bond], error) {
		bonds, total, err := h.store.ListBonds(r.Context(), p.Limit, p.Offset)
		return page[store.Bond]{bonds, total}, err
	})
	if err != nil {
		h.writeDBError(w, err)
		return
	}

	items := make([]BondResponse, len(res.items))
	for i, b := range res.items {
		items[i] = newBondResponse(b)
	}
	h.writeJSON(w, http.StatusOK, PaginatedResponse[BondResponse]{Items: items, Total: res.total, Limit: p.Limit, Offset: p.Offset})
}

// GetBond handles GET /v1/bonds/{vote_account}.
func (h *Handlers) GetBond(w http.ResponseWriter, r *http.Request) {
	voteAccount := chi.URLParam(r, "vote_account")
	if !isPublicKey(voteAccount) {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "vote_account must be a base58 public key"})
		return
	}

	bond, err := query(r.Context(), h, "get_bond", func() (*store.Bond, error) {
		return h.store.GetBond(r.Context(), voteAccount)
	})
	if errors.Is(err, store.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "bond not found"})
		return
	}
	if err != nil {
		h.writeDBError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newBondResponse(*bond))
}

// ListSettlements handles GET /v1/settlements with optional epoch and vote_account filters.
func (h *Handlers) ListSettlements(w http.ResponseWriter, r *http.Request) {
	epoch, err := parseEpoch(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	filter := store.SettlementFilter{Epoch: epoch, VoteAccount: r.URL.Query().Get("vote_account")}
	if filter.VoteAccount != "" && !isPublicKey(filter.VoteAccount) {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "vote_account must be a base58 public key"})
		return
	}

	p := ParsePagination(r, DefaultLimit)
	res, err := query(r.Context(), h, "list_settlements", func() (page[store.Settlement], error) {
		settlements, total, err := h.store.ListSettlements(r.Context(), filter, p.Limit, p.Offset)
		return page[store.Settlement]{settlements, total}, err
	})
	if err != nil {
		h.writeDBError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PaginatedResponse[store.Settlement]{Items: res.items, Total: res.total, Limit: p.Limit, Offset: p.Offset})
}

// GetStatus handles GET /v1/status.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := query(r.Context(), h, "sync_state", func() (*store.SyncState, error) {
		return h.store.SyncState(r.Context())
	})
	if errors.Is(err, store.ErrNotFound) {
		h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no snapshot collected yet"})
		return
	}
	if err != nil {
		h.writeDBError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func query[T any](ctx context.Context, h *Handlers, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	res, err := dberror.Retry(ctx, h.retryCfg, fn)
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordPostgresQuery(name, time.Since(start), nil)
	} else {
		metrics.RecordPostgresQuery(name, time.Since(start), err)
	}
	return res, err
}

func (h *Handlers) writeDBError(w http.ResponseWriter, err error) {
	h.log.Error("handlers: query failed", "error", err)
	status := http.StatusInternalServerError
	if dberror.IsTransient(err) {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, ErrorResponse{Error: dberror.UserMessage(err)})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("handlers: failed to write response", "error", err)
	}
}

func isPublicKey(s string) bool {
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}
