package mcpmgr

import "github.com/modelcontextprotocol/go-sdk/jsonrpc"

// pendingCall is a single-resolution result slot for one outstanding request.
type pendingCall struct {
	method string
	ch     chan *jsonrpc.Response
}

func newPendingCall(method string) *pendingCall {
	return &pendingCall{method: method, ch: make(chan *jsonrpc.Response, 1)}
}

// resolve delivers resp unless the slot already holds a value.
func (p *pendingCall) resolve(resp *jsonrpc.Response) {
	select {
	case p.ch <- resp:
	default:
	}
}
