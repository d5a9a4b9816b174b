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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"mediatree.io/mediatree/tree/pkg/topology"
)

type poolNode struct {
	Label    string  `json:"label"`
	Load     float64 `json:"load"`
	Elements int     `json:"elements"`
	Capacity int     `json:"capacity"`
}

func (s *Server) addDebugHandlers(r *mux.Router) {
	d := r.PathPrefix("/debug").Subrouter()
	d.HandleFunc("/topology", s.topology).Methods(http.MethodGet)
	d.HandleFunc("/pool", s.pool).Methods(http.MethodGet)
	d.HandleFunc("/trees", s.trees).Methods(http.MethodGet)
}

// topology renders the pool as json (default), yaml or dot, chosen with ?format=.
func (s *Server) topology(w http.ResponseWriter, req *http.Request) {
	snap := topology.Take(s.registry.NodePool().Nodes())
	switch req.URL.Query().Get("format") {
	case "dot":
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		if err := snap.WriteDOT(w); err != nil {
			handleHTTPError(w, err)
		}
	case "yaml":
		b, err := snap.YAML()
		if err != nil {
			handleHTTPError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(b)
	default:
		writeJSON(w, snap, req)
	}
}

func (s *Server) pool(w http.ResponseWriter, req *http.Request) {
	sorted := s.registry.NodePool().SortedByLoad()
	out := make([]poolNode, 0, len(sorted))
	for _, nl := range sorted {
		out = append(out, poolNode{
			Label:    nl.Node.Label(),
			Load:     nl.Load,
			Elements: nl.Node.ElementCount(),
			Capacity: nl.Node.Capacity(),
		})
	}
	writeJSON(w, out, req)
}

func (s *Server) trees(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, s.registry.Trees(), req)
}

// writeJSON writes a json payload, indented when the request has ?pretty.
func writeJSON(w http.ResponseWriter, obj any, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var b []byte
	var err error
	if req.URL.Query().Has("pretty") {
		b, err = json.MarshalIndent(obj, "", "    ")
	} else {
		b, err = json.Marshal(obj)
	}
	if err != nil {
		handleHTTPError(w, err)
		return
	}
	if _, err := w.Write(b); err != nil {
		scope.Debugf("writing debug response: %v", err)
	}
}

func handleHTTPError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(err.Error()))
}
