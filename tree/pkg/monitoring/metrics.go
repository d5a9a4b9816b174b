// Copyright Istio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package monitoring holds the prometheus collectors of the tree server.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	PoolNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediatree_pool_nodes",
		Help: "Processing nodes currently in the pool.",
	})

	PoolNodeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediatree_pool_node_events_total",
		Help: "Processing nodes added to or removed from the pool.",
	}, []string{"event"})

	NodeLoad = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediatree_node_load",
		Help: "Load of each processing node, as of its last listing.",
	}, []string{"node"})

	LedgerHoles = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediatree_ledger_holes",
		Help: "Admission slots not reserved on each node.",
	}, []string{"node"})

	LedgerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediatree_ledger_rejections_total",
		Help: "Reservations refused by the capacity ledger.",
	}, []string{"reason"})

	Trees = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediatree_trees",
		Help: "Live broadcast trees.",
	})

	Sinks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediatree_sinks",
		Help: "Live tree sinks across all trees.",
	})

	TreeOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediatree_tree_operations_total",
		Help: "Tree operations by strategy, operation and result.",
	}, []string{"strategy", "op", "result"})

	Candidates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediatree_ice_candidates_total",
		Help: "Gathered ICE candidates by delivery outcome.",
	}, []string{"outcome"})

	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediatree_sessions",
		Help: "Connected JSON-RPC sessions.",
	})
)

func init() {
	prometheus.MustRegister(PoolNodes)
	prometheus.MustRegister(PoolNodeEvents)
	prometheus.MustRegister(NodeLoad)
	prometheus.MustRegister(LedgerHoles)
	prometheus.MustRegister(LedgerRejections)
	prometheus.MustRegister(Trees)
	prometheus.MustRegister(Sinks)
	prometheus.MustRegister(TreeOperations)
	prometheus.MustRegister(Candidates)
	prometheus.MustRegister(Sessions)
}

// Result maps an error to the result label value.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
