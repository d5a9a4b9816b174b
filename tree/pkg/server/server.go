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

// Package server exposes a TreeManager over JSON-RPC 2.0 on websockets, plus
// metrics and debug endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/tree/pkg/candidates"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/monitoring"
	"mediatree.io/mediatree/tree/pkg/strategy"
)

var scope = log.RegisterScope("server", "tree json-rpc server")

const (
	DefaultAddress = ":8890"
	DefaultPath    = "/kurento-tree"
	// DefaultRegistrarPath is where nodes register when a Registrar is set.
	DefaultRegistrarPath = "/registrar"

	shutdownTimeout = 5 * time.Second
)

type Options struct {
	// Address is the listen address.
	Address string
	// Path is the route of the websocket endpoint.
	Path string
	// Registrar, when set, is served on RegistrarPath.
	Registrar     Registrar
	RegistrarPath string
}

// Registrar adds the nodes that announce themselves to the pool.
type Registrar interface {
	Register(label string) (*model.Node, error)
}

// dispatcher answers one request of a session.
type dispatcher func(ss *session, req Request) (any, *Error)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// clients are not browsers bound to an origin
		return true
	},
}

// Server serves one Registry. The candidate hub routes the candidates gathered
// for a Terminal to the session that created it.
type Server struct {
	opts     Options
	registry *strategy.Registry
	hub      *candidates.Hub
	router   *mux.Router
	http     *http.Server

	listener net.Listener

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func New(opts Options, registry *strategy.Registry, hub *candidates.Hub) *Server {
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if !strings.HasPrefix(opts.Path, "/") {
		opts.Path = "/" + opts.Path
	}
	if opts.RegistrarPath == "" {
		opts.RegistrarPath = DefaultRegistrarPath
	}
	if !strings.HasPrefix(opts.RegistrarPath, "/") {
		opts.RegistrarPath = "/" + opts.RegistrarPath
	}
	s := &Server{
		opts:     opts,
		registry: registry,
		hub:      hub,
		sessions: make(map[*session]struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc(opts.Path, s.websocketHandler(s.dispatch))
	if opts.Registrar != nil {
		r.HandleFunc(opts.RegistrarPath, s.websocketHandler(s.dispatchRegistrar))
	}
	r.Handle("/metrics", promhttp.Handler())
	s.addDebugHandlers(r)
	s.router = r
	s.http = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the listen address. Run listens on its own if Listen was not called.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %v", s.opts.Address, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until ctx is done, then closes every session.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	scope.Infof("serving tree protocol on %s%s", s.listener.Addr(), s.opts.Path)
	if s.opts.Registrar != nil {
		scope.Infof("accepting node registrations on %s%s", s.listener.Addr(), s.opts.RegistrarPath)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.http.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.http.Shutdown(sctx)
		s.closeSessions()
		return err
	})
	return g.Wait()
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()
	for _, ss := range sessions {
		ss.close()
	}
}

func (s *Server) websocketHandler(d dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveWebsocket(w, r, d)
	}
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request, d dispatcher) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		scope.Warnf("websocket upgrade failed: %v", err)
		return
	}
	ss := newSession(conn)
	s.mu.Lock()
	s.sessions[ss] = struct{}{}
	s.mu.Unlock()
	monitoring.Sessions.Inc()
	scope.Debugf("session %d opened from %s", ss.id, r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.sessions, ss)
		s.mu.Unlock()
		if s.hub != nil {
			s.hub.UnregisterSink(ss)
		}
		ss.close()
		monitoring.Sessions.Dec()
		scope.Debugf("session %d closed", ss.id)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				scope.Debugf("session %d: read failed: %v", ss.id, err)
			}
			return
		}
		resp := s.handle(ss, msg, d)
		if resp == nil {
			continue
		}
		if err := ss.write(resp); err != nil {
			scope.Warnf("session %d: writing response: %v", ss.id, err)
			return
		}
	}
}

// handle processes one message. Notifications from the client get no response.
func (s *Server) handle(ss *session, msg []byte, d dispatcher) *Response {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return &Response{JSONRPC: jsonrpcVersion, ID: json.RawMessage("null"),
			Error: &Error{Code: CodeParseError, Message: err.Error()}}
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		return &Response{JSONRPC: jsonrpcVersion, ID: idOrNull(req.ID),
			Error: &Error{Code: CodeInvalidRequest, Message: "not a json-rpc 2.0 request"}}
	}

	result, rerr := d(ss, req)
	if rerr != nil {
		scope.WithLabels("method", req.Method).Debugf("request failed: %v", rerr)
	}
	if len(req.ID) == 0 {
		return nil
	}
	resp := &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rerr}
	if rerr == nil {
		b, err := json.Marshal(result)
		if err != nil {
			resp.Error = &Error{Code: CodeTreeError, Message: err.Error()}
		} else {
			resp.Result = b
		}
	}
	return resp
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func (s *Server) dispatch(ss *session, req Request) (any, *Error) {
	var p Params
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams("decoding params of %s: %v", req.Method, err)
		}
	}
	require := func(name, v string) *Error {
		if v == "" {
			return invalidParams("%s requires %s", req.Method, name)
		}
		return nil
	}
	wrap := func(err error) *Error {
		if err == nil {
			return nil
		}
		return treeError(err)
	}

	switch req.Method {
	case MethodCreateTree:
		if p.TreeID == "" {
			id, err := s.registry.CreateTree()
			if err != nil {
				return nil, wrap(err)
			}
			return id, nil
		}
		return nil, wrap(s.registry.CreateTreeWithID(p.TreeID))

	case MethodReleaseTree:
		if e := require("treeId", p.TreeID); e != nil {
			return nil, e
		}
		return nil, wrap(s.registry.ReleaseTree(p.TreeID))

	case MethodSetTreeSource:
		if e := require("treeId", p.TreeID); e != nil {
			return nil, e
		}
		if e := require("offerSdp", p.OfferSdp); e != nil {
			return nil, e
		}
		answer, err := s.registry.SetTreeSource(ss, p.TreeID, p.OfferSdp)
		if err != nil {
			return nil, wrap(err)
		}
		return SourceResult{AnswerSdp: answer}, nil

	case MethodRemoveTreeSource:
		if e := require("treeId", p.TreeID); e != nil {
			return nil, e
		}
		return nil, wrap(s.registry.RemoveTreeSource(p.TreeID))

	case MethodAddTreeSink:
		if e := require("treeId", p.TreeID); e != nil {
			return nil, e
		}
		if e := require("offerSdp", p.OfferSdp); e != nil {
			return nil, e
		}
		ep, err := s.registry.AddTreeSink(ss, p.TreeID, p.OfferSdp)
		if err != nil {
			return nil, wrap(err)
		}
		return SinkResult{SinkID: ep.SinkID, AnswerSdp: ep.AnswerSdp}, nil

	case MethodRemoveTreeSink:
		if e := require("treeId", p.TreeID); e != nil {
			return nil, e
		}
		if e := require("sinkId", p.SinkID); e != nil {
			return nil, e
		}
		return nil, wrap(s.registry.RemoveTreeSink(p.TreeID, p.SinkID))

	case MethodAddIceCandidate:
		if e := require("treeId", p.TreeID); e != nil {
			return nil, e
		}
		if e := require("candidate", p.Candidate); e != nil {
			return nil, e
		}
		if p.SdpMLineIndex == nil {
			return nil, invalidParams("%s requires sdpMLineIndex", req.Method)
		}
		c := model.Candidate{Candidate: p.Candidate, SdpMid: p.SdpMid, SdpMLineIndex: *p.SdpMLineIndex}
		if p.SinkID != "" {
			return nil, wrap(s.registry.AddSinkIceCandidate(p.TreeID, p.SinkID, c))
		}
		return nil, wrap(s.registry.AddTreeIceCandidate(p.TreeID, c))
	}

	scope.Errorf("requesting unrecognized method %q", req.Method)
	return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unrecognized method %q", req.Method)}
}

func (s *Server) dispatchRegistrar(_ *session, req Request) (any, *Error) {
	if req.Method != MethodRegister {
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unrecognized method %q", req.Method)}
	}
	var p Params
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams("decoding params of %s: %v", req.Method, err)
		}
	}
	if p.Label == "" {
		return nil, invalidParams("%s requires label", req.Method)
	}
	n, err := s.opts.Registrar.Register(p.Label)
	if err != nil {
		return nil, treeError(err)
	}
	scope.Infof("node %s registered", n.Label())
	return nil, nil
}
