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
	"errors"
	"fmt"

	"mediatree.io/mediatree/tree/pkg/model"
)

const jsonrpcVersion = "2.0"

// Method names of the tree protocol.
const (
	MethodCreateTree       = "createTree"
	MethodReleaseTree      = "releaseTree"
	MethodSetTreeSource    = "setTreeSource"
	MethodRemoveTreeSource = "removeTreeSource"
	MethodAddTreeSink      = "addTreeSink"
	MethodRemoveTreeSink   = "removeTreeSink"
	MethodAddIceCandidate  = "addIceCandidate"

	EventIceCandidate = "iceCandidate"

	// MethodRegister is the one method of the registrar endpoint.
	MethodRegister = "register"
)

// Error codes. Failures reported by the tree manager all use CodeTreeError.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeTreeError      = 2
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Params is the union of the parameters of all methods.
type Params struct {
	TreeID        string `json:"treeId,omitempty"`
	OfferSdp      string `json:"offerSdp,omitempty"`
	SinkID        string `json:"sinkId,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SdpMid        string `json:"sdpMid,omitempty"`
	SdpMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
	// Label names the node of a register request.
	Label string `json:"label,omitempty"`
}

type SourceResult struct {
	AnswerSdp string `json:"answerSdp"`
}

type SinkResult struct {
	SinkID    string `json:"sinkId"`
	AnswerSdp string `json:"answerSdp"`
}

// IceCandidateEvent is the payload of the iceCandidate notification. SinkID is
// empty for candidates of the tree source.
type IceCandidateEvent struct {
	TreeID        string `json:"treeId"`
	SinkID        string `json:"sinkId,omitempty"`
	Candidate     string `json:"candidate"`
	SdpMid        string `json:"sdpMid"`
	SdpMLineIndex int    `json:"sdpMLineIndex"`
}

func invalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{model.ErrUnknownTree, "unknownTree"},
	{model.ErrTreeExists, "treeExists"},
	{model.ErrCapacityExhausted, "capacityExhausted"},
	{model.ErrNotSupported, "notSupported"},
	{model.ErrInvalidTopology, "invalidTopology"},
	{model.ErrLedgerInconsistent, "ledgerInconsistent"},
	{model.ErrCollaborator, "collaborator"},
	{model.ErrNodeRetired, "nodeRetired"},
}

// treeError maps an error of the tree manager to its protocol error.
func treeError(err error) *Error {
	e := &Error{Code: CodeTreeError, Message: err.Error()}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			e.Data = k.kind
			break
		}
	}
	return e
}
