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

// Package client speaks the tree protocol to a tree server over a websocket.
//
// Calls may be issued from several goroutines. The candidates the server
// gathers arrive on Candidates, in order, until the connection closes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/server"
)

var scope = log.RegisterScope("client", "tree protocol client")

// ErrClosed is returned by calls on a closed connection.
var ErrClosed = errors.New("tree client closed")

const defaultCandidateBuffer = 256

type Options struct {
	// CandidateBuffer bounds the candidates held until read from Candidates.
	// Candidates arriving on a full buffer are dropped.
	CandidateBuffer int
	Dialer          *websocket.Dialer
}

type Client struct {
	conn    *websocket.Conn
	nextID  *atomic.Uint64
	dropped *atomic.Uint64
	closing *atomic.Bool

	// serializes writes; gorilla connections support one concurrent writer
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan server.Response
	err     error

	candidates chan server.IceCandidateEvent
	done       chan struct{}
	closeOnce  sync.Once
}

// Dial connects to the websocket endpoint at url, as in
// ws://localhost:8890/kurento-tree.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	d := opts.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	if opts.CandidateBuffer <= 0 {
		opts.CandidateBuffer = defaultCandidateBuffer
	}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %v", url, err)
	}
	c := &Client{
		conn:       conn,
		nextID:     atomic.NewUint64(0),
		dropped:    atomic.NewUint64(0),
		closing:    atomic.NewBool(false),
		pending:    make(map[uint64]chan server.Response),
		candidates: make(chan server.IceCandidateEvent, opts.CandidateBuffer),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Candidates delivers the iceCandidate notifications of the server. The
// channel is closed once the connection is gone.
func (c *Client) Candidates() <-chan server.IceCandidateEvent {
	return c.candidates
}

// Dropped is the number of candidates lost to a full buffer.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection and fails the calls still waiting.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.candidates)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = ErrClosed
			}
			c.fail(err)
			return
		}
		var head struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			scope.Warnf("dropping undecodable message: %v", err)
			continue
		}
		if head.Method != "" {
			c.notify(head.Method, head.Params)
			continue
		}
		var resp server.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			scope.Warnf("dropping undecodable response: %v", err)
			continue
		}
		id, err := strconv.ParseUint(string(resp.ID), 10, 64)
		if err != nil {
			scope.Warnf("response with foreign id %s", resp.ID)
			continue
		}
		c.mu.Lock()
		ch := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if ch == nil {
			scope.Debugf("response %d has no caller", id)
			continue
		}
		ch <- resp
	}
}

func (c *Client) notify(method string, params json.RawMessage) {
	if method != server.EventIceCandidate {
		scope.Debugf("ignoring notification %s", method)
		return
	}
	var ev server.IceCandidateEvent
	if err := json.Unmarshal(params, &ev); err != nil {
		scope.Warnf("dropping undecodable candidate: %v", err)
		return
	}
	select {
	case c.candidates <- ev:
	default:
		c.dropped.Inc()
		scope.Warnf("candidate buffer full, dropping candidate of %s/%s", ev.TreeID, ev.SinkID)
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// call sends method and decodes its result into out, unless out is nil.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Inc()
	ch := make(chan server.Response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := server.Request{JSONRPC: "2.0", ID: json.RawMessage(strconv.FormatUint(id, 10)), Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			c.forget(id)
			return err
		}
		req.Params = b
	}
	b, err := json.Marshal(req)
	if err != nil {
		c.forget(id)
		return err
	}
	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("sending %s: %v", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.err
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decoding result of %s: %v", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// CreateTree creates a tree and returns the id the server chose.
func (c *Client) CreateTree(ctx context.Context) (string, error) {
	var id string
	if err := c.call(ctx, server.MethodCreateTree, nil, &id); err != nil {
		return "", err
	}
	return id, nil
}

// CreateTreeWithID creates the tree id. Creating an existing tree succeeds.
func (c *Client) CreateTreeWithID(ctx context.Context, id string) error {
	return c.call(ctx, server.MethodCreateTree, server.Params{TreeID: id}, nil)
}

func (c *Client) ReleaseTree(ctx context.Context, treeID string) error {
	return c.call(ctx, server.MethodReleaseTree, server.Params{TreeID: treeID}, nil)
}

// SetTreeSource returns the answer to offerSdp.
func (c *Client) SetTreeSource(ctx context.Context, treeID, offerSdp string) (string, error) {
	var res server.SourceResult
	if err := c.call(ctx, server.MethodSetTreeSource, server.Params{TreeID: treeID, OfferSdp: offerSdp}, &res); err != nil {
		return "", err
	}
	return res.AnswerSdp, nil
}

func (c *Client) RemoveTreeSource(ctx context.Context, treeID string) error {
	return c.call(ctx, server.MethodRemoveTreeSource, server.Params{TreeID: treeID}, nil)
}

func (c *Client) AddTreeSink(ctx context.Context, treeID, offerSdp string) (server.SinkResult, error) {
	var res server.SinkResult
	err := c.call(ctx, server.MethodAddTreeSink, server.Params{TreeID: treeID, OfferSdp: offerSdp}, &res)
	return res, err
}

func (c *Client) RemoveTreeSink(ctx context.Context, treeID, sinkID string) error {
	return c.call(ctx, server.MethodRemoveTreeSink, server.Params{TreeID: treeID, SinkID: sinkID}, nil)
}

// AddIceCandidate hands a client candidate to the sink sinkID, or to the tree
// source when sinkID is empty.
func (c *Client) AddIceCandidate(ctx context.Context, treeID, sinkID string, cand model.Candidate) error {
	index := cand.SdpMLineIndex
	return c.call(ctx, server.MethodAddIceCandidate, server.Params{
		TreeID:        treeID,
		SinkID:        sinkID,
		Candidate:     cand.Candidate,
		SdpMid:        cand.SdpMid,
		SdpMLineIndex: &index,
	}, nil)
}

// Register announces the node label to a registrar endpoint.
func (c *Client) Register(ctx context.Context, label string) error {
	return c.call(ctx, server.MethodRegister, server.Params{Label: label}, nil)
}

// TreeErrorKind returns the kind of a failure reported by the tree manager,
// such as "unknownTree", and false for any other error.
func TreeErrorKind(err error) (string, bool) {
	var e *server.Error
	if errors.As(err, &e) && e.Code == server.CodeTreeError {
		return e.Data, true
	}
	return "", false
}
