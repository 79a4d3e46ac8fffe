package session

import "encoding/json"

// request is the outbound command envelope
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// response is the inbound envelope. A non-zero ID marks a reply to a pending
// request; a bare method marks an unsolicited event.
type response struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *remoteError    `json:"error,omitempty"`
}

// remoteError is a remote-reported command failure
type remoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Event is an unsolicited protocol notification passed through unconsumed
type Event struct {
	Method string
	Params json.RawMessage
}
