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

// Package simulation drives a TreeManager through synthetic usage patterns and
// records how the pool evolves.
package simulation

import (
	"context"
	"errors"
	"fmt"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/strategy"
	"mediatree.io/mediatree/tree/pkg/topology"
)

var scope = log.RegisterScope("simulation", "usage simulations")

// Usage is one synthetic workload.
type Usage interface {
	Name() string
	Run(ctx context.Context, tm strategy.TreeManager, rec *Recorder) error
}

// Step is the state of the pool after one operation.
type Step struct {
	Index    int    `json:"index"`
	Op       string `json:"op"`
	Tree     string `json:"tree"`
	Nodes    int    `json:"nodes"`
	Elements int    `json:"elements"`
}

type Report struct {
	Usage           string `json:"usage"`
	Steps           []Step `json:"steps"`
	CapacityReached bool   `json:"capacityReached"`
	MaxNodes        int    `json:"maxNodes"`
	MaxElements     int    `json:"maxElements"`
}

// Recorder appends a Step to its Report after every operation.
type Recorder struct {
	tm     strategy.TreeManager
	report Report
}

func (r *Recorder) record(op, treeID string) {
	snap := topology.Take(r.tm.NodePool().Nodes())
	st := Step{
		Index:    len(r.report.Steps),
		Op:       op,
		Tree:     treeID,
		Nodes:    len(snap.Nodes),
		Elements: snap.Elements(),
	}
	r.report.Steps = append(r.report.Steps, st)
	if st.Nodes > r.report.MaxNodes {
		r.report.MaxNodes = st.Nodes
	}
	if st.Elements > r.report.MaxElements {
		r.report.MaxElements = st.Elements
	}
	scope.Debugf("step %d %s %s: %d nodes, %d elements", st.Index, op, treeID, st.Nodes, st.Elements)
}

// Run executes u against tm. Running out of capacity ends the run without an
// error and is flagged in the report.
func Run(ctx context.Context, u Usage, tm strategy.TreeManager) (Report, error) {
	rec := &Recorder{tm: tm, report: Report{Usage: u.Name()}}
	err := u.Run(ctx, tm, rec)
	if errors.Is(err, model.ErrCapacityExhausted) {
		scope.Infof("%s reached maximum tree capacity after %d steps", u.Name(), len(rec.report.Steps))
		rec.report.CapacityReached = true
		err = nil
	}
	if err != nil {
		return rec.report, fmt.Errorf("%s: %w", u.Name(), err)
	}
	return rec.report, nil
}

// ops wraps the TreeManager calls of a usage so that each one is recorded.
type ops struct {
	tm  strategy.TreeManager
	rec *Recorder
}

func (o ops) create(treeID string) error {
	if err := o.tm.CreateTreeWithID(treeID); err != nil {
		return err
	}
	if _, err := o.tm.SetTreeSource(nil, treeID, sourceOffer); err != nil {
		return err
	}
	o.rec.record("create", treeID)
	return nil
}

func (o ops) addSink(treeID string) (string, error) {
	ep, err := o.tm.AddTreeSink(nil, treeID, sinkOffer)
	if err != nil {
		return "", err
	}
	o.rec.record("addSink", treeID)
	return ep.SinkID, nil
}

func (o ops) removeSink(treeID, sinkID string) error {
	if err := o.tm.RemoveTreeSink(treeID, sinkID); err != nil {
		return err
	}
	o.rec.record("removeSink", treeID)
	return nil
}

func (o ops) release(treeID string) error {
	if err := o.tm.ReleaseTree(treeID); err != nil {
		return err
	}
	o.rec.record("release", treeID)
	return nil
}

func treeName(i int) string {
	return fmt.Sprintf("tree%d", i)
}
