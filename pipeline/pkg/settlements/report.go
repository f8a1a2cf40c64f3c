package settlements

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Operation string

const (
	OperationVerify Operation = "verify"
	OperationInit   Operation = "init-settlement"
	OperationFund   Operation = "fund-settlement"
	OperationClaim  Operation = "claim-settlement"
	OperationClose  Operation = "close-settlement"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_settlement_pipeline_operations_total",
			Help: "Settlement pipeline records by operation and result",
		},
		[]string{"operation", "result"},
	)

	OperationLamportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_settlement_pipeline_lamports_total",
			Help: "Lamports moved by settlement pipeline operations",
		},
		[]string{"operation"},
	)
)

// Report summarizes one pipeline operation over a merkle tree collection.
type Report struct {
	RunID     uuid.UUID `json:"run_id"`
	Operation Operation `json:"operation"`
	Epoch     uint64    `json:"epoch"`
	StartedAt time.Time `json:"started_at"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Lamports  uint64    `json:"lamports"`
	Errors    []string  `json:"errors,omitempty"`

	Discrepancies []Discrepancy `json:"-"`
}

func newReport(op Operation, epoch uint64) *Report {
	return &Report{RunID: uuid.New(), Operation: op, Epoch: epoch, StartedAt: time.Now().UTC()}
}

func (r *Report) ok(lamports uint64) {
	r.Processed++
	r.Lamports += lamports
	OperationsTotal.WithLabelValues(string(r.Operation), "ok").Inc()
	OperationLamportsTotal.WithLabelValues(string(r.Operation)).Add(float64(lamports))
}

func (r *Report) skip() {
	r.Skipped++
	OperationsTotal.WithLabelValues(string(r.Operation), "skipped").Inc()
}

func (r *Report) fail(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err.Error())
	OperationsTotal.WithLabelValues(string(r.Operation), "failed").Inc()
}

// Succeeded is true when no record failed.
func (r *Report) Succeeded() bool { return r.Failed == 0 }
