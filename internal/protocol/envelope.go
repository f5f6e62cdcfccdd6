// ABOUTME: JSON-RPC 2.0 envelope types for the duplex channel wire format.
// ABOUTME: Payloads inside params/result are opaque and forwarded verbatim.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only jsonrpc version accepted on the wire.
const Version = "2.0"

// Envelope errors.
var (
	ErrMalformed      = errors.New("malformed envelope")
	ErrVersionMissing = errors.New("missing or unsupported jsonrpc version")
)

// Envelope is a JSON-RPC 2.0 message. A request carries Method (and
// optionally Params); a reply carries Result or Error. The ID correlates a
// request with its reply. Params, Result, and Error are kept as raw JSON
// because the bridge forwards them without interpretation.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// IsReply reports whether the envelope correlates to an outstanding request:
// it has an ID and carries either a result or an error.
func (e *Envelope) IsReply() bool {
	return e.ID != "" && (len(e.Result) > 0 || len(e.Error) > 0)
}

// IsNotification reports whether the envelope is a fire-and-forget request
// (a method call with no ID, so no reply is expected).
func (e *Envelope) IsNotification() bool {
	return e.ID == "" && e.Method != ""
}

// Decode parses a raw frame into an Envelope. It rejects frames that are not
// JSON objects or that do not declare jsonrpc "2.0"; callers are expected to
// log and drop such frames rather than fail the connection.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.JSONRPC != Version {
		return nil, ErrVersionMissing
	}
	return &env, nil
}

// NewResult builds a reply envelope for the given request ID with the value
// marshaled into the result field.
func NewResult(id string, value any) (*Envelope, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &Envelope{JSONRPC: Version, ID: id, Result: raw}, nil
}
