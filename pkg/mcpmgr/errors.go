package mcpmgr

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrServerNotFound is returned when a server id is not configured.
	ErrServerNotFound = errors.New("server not found")
	// ErrServerNotConnected is returned when a server exists but its
	// connection is not in the connected state.
	ErrServerNotConnected = errors.New("server not connected")
	// ErrToolNotFound is returned when a connected server did not advertise
	// the requested tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrRequestTimeout is returned to a caller whose request received no
	// reply within the request timeout.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrConnectionClosed is returned to callers whose request was still
	// outstanding when the connection was torn down or its output closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// RPCError is a JSON-RPC error envelope returned by a server.
type RPCError struct {
	ServerID string
	Method   string
	Code     int64
	Message  string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcpmgr: server %q: %s: %s (code %d)", e.ServerID, e.Method, e.Message, e.Code)
}

// newRPCError converts the decoded error member of a response.
func newRPCError(serverID, method string, err error) *RPCError {
	rpcErr := &RPCError{ServerID: serverID, Method: method, Message: err.Error()}
	// The decoded envelope marshals back to {"code":..,"message":..}.
	if data, mErr := json.Marshal(err); mErr == nil {
		var wire struct {
			Code    int64  `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &wire) == nil {
			rpcErr.Code = wire.Code
			if wire.Message != "" {
				rpcErr.Message = wire.Message
			}
		}
	}
	return rpcErr
}

func serverError(serverID string, err error) error {
	return fmt.Errorf("mcpmgr: server %q: %w", serverID, err)
}
