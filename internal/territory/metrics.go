// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package territory

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels for OperationsTotal.
const (
	OpClaim    = "claim"
	OpUnclaim  = "unclaim"
	OpTransfer = "transfer"
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
)

// OperationsTotal counts territory and bank operations by result.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clanwar_territory_operations_total",
		Help: "Total number of territory and bank operations",
	},
	[]string{"operation", "result"},
)

// DecaysTotal counts territories removed because upkeep went unpaid.
var DecaysTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "clanwar_territory_decays_total",
		Help: "Total number of territories lost to unpaid maintenance",
	},
)

// MaintenanceRuns counts maintenance passes by status ("ok" or "partial").
var MaintenanceRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clanwar_maintenance_runs_total",
		Help: "Total number of maintenance passes",
	},
	[]string{"status"},
)

// RegisterMetrics registers territory metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OperationsTotal)
	reg.MustRegister(DecaysTotal)
	reg.MustRegister(MaintenanceRuns)
}

func recordOperation(op string, result fmt.Stringer) {
	OperationsTotal.WithLabelValues(op, result.String()).Inc()
}
