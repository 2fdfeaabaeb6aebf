// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package war

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels for OperationsTotal.
const (
	OpDeclare = "declare"
	OpSiege   = "siege"
	OpEnd     = "end_siege"
	OpCancel  = "cancel_siege"
	OpTruce   = "truce"
)

// OperationsTotal counts war operations by result.
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clanwar_war_operations_total",
		Help: "Total number of war operations",
	},
	[]string{"operation", "result"},
)

// SiegesResolved counts finished sieges by winner ("attacker" or "defender").
var SiegesResolved = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clanwar_sieges_resolved_total",
		Help: "Total number of sieges resolved",
	},
	[]string{"winner"},
)

// RegisterMetrics registers war metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OperationsTotal)
	reg.MustRegister(SiegesResolved)
}

func recordOperation(op string, result fmt.Stringer) {
	OperationsTotal.WithLabelValues(op, result.String()).Inc()
}

func recordOutcome(op string, err error) {
	result := "SUCCESS"
	if err != nil {
		result = "FAILED"
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
}
