// Package gobrpc is a ready-made wire protocol for multicall
// endpoints: one gob-encoded request/response exchange per call, plus
// the matching server half for the listening side.
//
// Failures keep their nature across the wire. A handler error or an
// unknown method comes back as `*ServerError`, the exchange itself
// having worked; everything else (dial, IO, decode) surfaces as a
// transport error. `errors.As` tells them apart.
//
// Arguments and results travel inside interface slots, so their
// concrete types must be known to gob on both sides. Common composites
// are pre-registered; applications add their own with `Register`.
package gobrpc

import (
	"encoding/gob"
	"fmt"
	"io"
	"time"
)

var _ = registerGob(
	[]interface{}{},
	map[string]interface{}{},
	[]string{},
	[]int{},
	[]float64{},
	map[string]string{},
	map[string]int{},
	time.Time{},
	time.Duration(0),
)

func registerGob(vs ...interface{}) bool {
	for _, v := range vs {
		gob.Register(v)
	}
	return true
}

// Register makes a caller-defined argument or result type usable in an
// exchange. Both halves must register the same types.
func Register(value interface{}) {
	gob.Register(value)
}

// ServerError is an error the remote side produced on purpose, as
// opposed to a transport failure.
type ServerError struct {
	Method string
	Msg    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("gobrpc: %s: %s", e.Method, e.Msg)
}

type request struct {
	Method string
	Args   []interface{}
	Kwargs map[string]interface{}
}

type response struct {
	Value interface{}
	Err   string
}

// Protocol speaks one gob exchange per call. It is stateless and safe
// for concurrent use; each call owns its transport for the duration of
// the exchange.
type Protocol struct {
	name string
}

// New returns the protocol descriptor for the remote interface name.
// Endpoints speaking differently named protocols never compare equal,
// even on the same address.
func New(name string) *Protocol {
	return &Protocol{name: name}
}

func (p *Protocol) Name() string { return p.name }

// Call encodes one request and decodes its response. On flushable
// transports (framed mode) the request goes out as a single frame.
func (p *Protocol) Call(
	rw io.ReadWriter,
	method string,
	args []interface{},
	kwargs map[string]interface{},
) (interface{}, error) {
	req := request{
		Method: method,
		Args:   args,
		Kwargs: kwargs,
	}
	if err := gob.NewEncoder(rw).Encode(&req); err != nil {
		return nil, fmt.Errorf("gobrpc: encode request: %w", err)
	}
	if err := flush(rw); err != nil {
		return nil, fmt.Errorf("gobrpc: flush request: %w", err)
	}

	var resp response
	if err := gob.NewDecoder(rw).Decode(&resp); err != nil {
		return nil, fmt.Errorf("gobrpc: decode response: %w", err)
	}
	if resp.Err != "" {
		return nil, &ServerError{Method: method, Msg: resp.Err}
	}

	return resp.Value, nil
}

type flusher interface {
	Flush() error
}

func flush(w io.Writer) error {
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
