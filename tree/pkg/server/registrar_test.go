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

package server_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/candidates"
	"mediatree.io/mediatree/tree/pkg/client"
	"mediatree.io/mediatree/tree/pkg/fakenode"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/pool"
	"mediatree.io/mediatree/tree/pkg/server"
	"mediatree.io/mediatree/tree/pkg/strategy"
)

func factory(label string) (*model.Node, error) {
	return model.NewNode(label, fakenode.New(label, nil), model.MaxElements(5)), nil
}

// serve runs an elastic tree server over p, with the registrar endpoint
// enabled when reg is set.
func serve(t *testing.T, p pool.Pool, reg server.Registrar) string {
	t.Helper()
	hub := candidates.NewHub(nil, 0)
	r := strategy.NewRegistry(strategy.NewLeastLoadedElastic(p), hub)
	s := server.New(server.Options{Registrar: reg}, r, hub)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func connect(t *testing.T, url string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url, client.Options{})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRegisterAddsNodes(t *testing.T) {
	reg, err := pool.NewRegistrar(5, factory)
	assert.NoError(t, err)
	url := serve(t, reg, reg)
	ctx := context.Background()

	r := connect(t, url+server.DefaultRegistrarPath)
	assert.NoError(t, r.Register(ctx, "kms-a"))
	assert.NoError(t, r.Register(ctx, "kms-b"))
	nodes := reg.Nodes()
	assert.Equal(t, len(nodes), 2)
	assert.Equal(t, nodes[1].Label(), "kms-b")

	// the new nodes host trees
	c := connect(t, url+server.DefaultPath)
	id, err := c.CreateTree(ctx)
	assert.NoError(t, err)
	_, err = c.SetTreeSource(ctx, id, fakenode.Offer("sendonly"))
	assert.NoError(t, err)
	assert.Equal(t, nodes[0].ElementCount()+nodes[1].ElementCount(), 1)
}

func TestRegisterErrors(t *testing.T) {
	reg, err := pool.NewRegistrar(5, factory, "kms-a")
	assert.NoError(t, err)
	url := serve(t, reg, reg)
	ctx := context.Background()
	r := connect(t, url+server.DefaultRegistrarPath)

	var rpcErr *server.Error
	err = r.Register(ctx, "kms-a")
	assert.Equal(t, errors.As(err, &rpcErr), true)
	assert.Equal(t, rpcErr.Code, server.CodeTreeError)
	if !strings.Contains(rpcErr.Message, "already registered") {
		t.Fatalf("unexpected message %q", rpcErr.Message)
	}

	err = r.Register(ctx, "")
	assert.Equal(t, errors.As(err, &rpcErr), true)
	assert.Equal(t, rpcErr.Code, server.CodeInvalidParams)

	// tree methods are not served on the registrar endpoint
	_, err = r.CreateTree(ctx)
	assert.Equal(t, errors.As(err, &rpcErr), true)
	assert.Equal(t, rpcErr.Code, server.CodeMethodNotFound)
	assert.Equal(t, len(reg.Nodes()), 1)
}

func TestRegistrarEndpointNeedsRegistrar(t *testing.T) {
	p, err := pool.NewRegistrar(5, factory, "kms-a")
	assert.NoError(t, err)
	url := serve(t, p, nil)
	c := connect(t, url+server.DefaultPath)
	var rpcErr *server.Error
	err = c.Register(context.Background(), "kms-b")
	assert.Equal(t, errors.As(err, &rpcErr), true)
	assert.Equal(t, rpcErr.Code, server.CodeMethodNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Dial(ctx, url+server.DefaultRegistrarPath, client.Options{})
	assert.Error(t, err)
}

func TestClientTreeLifecycle(t *testing.T) {
	p, err := pool.NewRegistrar(5, factory, "kms-a", "kms-b")
	assert.NoError(t, err)
	c := connect(t, serve(t, p, nil)+server.DefaultPath)
	ctx := context.Background()

	assert.NoError(t, c.CreateTreeWithID(ctx, "t1"))
	answer, err := c.SetTreeSource(ctx, "t1", fakenode.Offer("sendonly"))
	assert.NoError(t, err)
	if !strings.Contains(answer, "recvonly") {
		t.Fatalf("unexpected answer:\n%s", answer)
	}
	sink, err := c.AddTreeSink(ctx, "t1", fakenode.Offer("recvonly"))
	assert.NoError(t, err)

	// one gathered candidate per terminal
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case ev := <-c.Candidates():
			assert.Equal(t, ev.TreeID, "t1")
			seen[ev.SinkID] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("candidates missing, got %v", seen)
		}
	}
	assert.Equal(t, seen, map[string]bool{"": true, sink.SinkID: true})

	cand := model.Candidate{Candidate: "candidate:1 1 UDP 2122260223 10.0.0.9 50000 typ host", SdpMid: "0"}
	assert.NoError(t, c.AddIceCandidate(ctx, "t1", sink.SinkID, cand))
	assert.NoError(t, c.AddIceCandidate(ctx, "t1", "", cand))
	assert.NoError(t, c.RemoveTreeSink(ctx, "t1", sink.SinkID))
	assert.NoError(t, c.RemoveTreeSource(ctx, "t1"))
	assert.NoError(t, c.ReleaseTree(ctx, "t1"))

	kind, ok := client.TreeErrorKind(c.ReleaseTree(ctx, "t1"))
	assert.Equal(t, ok, true)
	assert.Equal(t, kind, "unknownTree")
	assert.Equal(t, c.Dropped(), uint64(0))
}

func TestClientCloseFailsCalls(t *testing.T) {
	p, err := pool.NewRegistrar(5, factory, "kms-a")
	assert.NoError(t, err)
	c := connect(t, serve(t, p, nil)+server.DefaultPath)
	assert.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	_, err = c.CreateTree(context.Background())
	assert.ErrorIs(t, err, client.ErrClosed)
}
