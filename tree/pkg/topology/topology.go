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

// Package topology takes snapshots of the nodes of a pool and renders them as
// Graphviz DOT, JSON or YAML for debugging.
package topology

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"sigs.k8s.io/yaml"

	"mediatree.io/mediatree/tree/pkg/model"
)

type Snapshot struct {
	Nodes []Node `json:"nodes"`
}

type Node struct {
	Label     string     `json:"label"`
	Capacity  int        `json:"capacity"`
	Elements  int        `json:"elements"`
	Load      float64    `json:"load"`
	Pipelines []Pipeline `json:"pipelines,omitempty"`
}

type Pipeline struct {
	Label    string    `json:"label"`
	Elements []Element `json:"elements"`
}

type Element struct {
	ID     uint64   `json:"id"`
	Kind   string   `json:"kind"`
	Label  string   `json:"label"`
	Source uint64   `json:"source,omitempty"`
	Sinks  []uint64 `json:"sinks,omitempty"`
	// Peer is the partner of a paired Link.
	Peer *Peer `json:"peer,omitempty"`
}

type Peer struct {
	Node string `json:"node"`
	ID   uint64 `json:"id"`
}

// Take snapshots nodes in the given order.
func Take(nodes []*model.Node) Snapshot {
	s := Snapshot{Nodes: make([]Node, 0, len(nodes))}
	for _, n := range nodes {
		sn := Node{
			Label:    n.Label(),
			Capacity: n.Capacity(),
			Elements: n.ElementCount(),
			Load:     n.Load(),
		}
		for _, p := range n.Pipelines() {
			sp := Pipeline{Label: p.Label(), Elements: []Element{}}
			for _, e := range p.Elements() {
				sp.Elements = append(sp.Elements, element(e))
			}
			sn.Pipelines = append(sn.Pipelines, sp)
		}
		s.Nodes = append(s.Nodes, sn)
	}
	return s
}

func element(e model.Element) Element {
	out := Element{ID: uint64(e.ID()), Kind: e.Kind().String(), Label: e.Label()}
	if src := e.Source(); src != nil {
		out.Source = uint64(src.ID())
	}
	for _, s := range e.Sinks() {
		out.Sinks = append(out.Sinks, uint64(s.ID()))
	}
	if l, ok := e.(*model.Link); ok {
		if peer := l.LinkedTo(); peer != nil {
			out.Peer = &Peer{Node: peer.Pipeline().Node().Label(), ID: uint64(peer.ID())}
		}
	}
	return out
}

func (s Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "    ")
}

func (s Snapshot) YAML() ([]byte, error) {
	out, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return yaml.JSONToYAML(out)
}

// Elements returns the total number of elements in the snapshot.
func (s Snapshot) Elements() int {
	total := 0
	for _, n := range s.Nodes {
		total += n.Elements
	}
	return total
}

// DOT renders the snapshot as a Graphviz digraph with one cluster per node and
// one nested cluster per pipeline. Paired Links are joined by an undirected edge.
func (s Snapshot) DOT() string {
	var b bytes.Buffer
	_ = s.WriteDOT(&b)
	return b.String()
}

func (s Snapshot) WriteDOT(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph topology {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=rectangle, style=filled];\n")

	type pair struct{ a, b uint64 }
	paired := map[pair]bool{}
	var links []pair

	for i, n := range s.Nodes {
		if len(n.Pipelines) == 0 {
			fmt.Fprintf(&b, "  %q [fillcolor=white];\n", n.Label)
			continue
		}
		fmt.Fprintf(&b, "  subgraph cluster_node_%d {\n", i)
		fmt.Fprintf(&b, "    label = %q;\n", fmt.Sprintf("%s (%d/%d)", n.Label, n.Elements, n.Capacity))
		for j, p := range n.Pipelines {
			fmt.Fprintf(&b, "    subgraph cluster_pipeline_%d_%d {\n", i, j)
			fmt.Fprintf(&b, "      label = %q;\n", p.Label)
			b.WriteString("      style=filled;\n      color=lightblue;\n")
			for _, e := range p.Elements {
				fmt.Fprintf(&b, "      e%d [label=%q];\n", e.ID, e.Label)
			}
			for _, e := range p.Elements {
				for _, sink := range e.Sinks {
					fmt.Fprintf(&b, "      e%d -> e%d;\n", e.ID, sink)
				}
				if e.Peer != nil && !paired[pair{e.Peer.ID, e.ID}] {
					paired[pair{e.ID, e.Peer.ID}] = true
					links = append(links, pair{e.ID, e.Peer.ID})
				}
			}
			b.WriteString("    }\n")
		}
		b.WriteString("  }\n")
	}
	for _, l := range links {
		fmt.Fprintf(&b, "  e%d -> e%d [arrowhead=none, style=dashed];\n", l.a, l.b)
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}
