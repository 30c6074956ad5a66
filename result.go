package multicall

import "fmt"

// Result is the outcome of one endpoint call inside a fan-out. It
// gives successes and failures a uniform shape so aggregation never
// aborts halfway: inspect with `IsError`, unwrap with `Value`.
type Result struct {
	endpoint *Endpoint
	value    interface{}
	err      error
}

// Success wraps the value an endpoint returned.
func Success(ep *Endpoint, value interface{}) Result {
	return Result{endpoint: ep, value: value}
}

// Failure wraps a call error, annotated with the endpoint which
// produced it, see `EndpointError`.
func Failure(ep *Endpoint, err error) Result {
	return Result{endpoint: ep, err: annotate(ep, err)}
}

// Endpoint returns the endpoint this result came from.
func (r Result) Endpoint() *Endpoint { return r.endpoint }

func (r Result) IsError() bool { return r.err != nil }

// Err returns nil for successes, the annotated `*EndpointError` for
// failures.
func (r Result) Err() error { return r.err }

// Value returns what the call produced. For failures the error
// surfaces here, annotated, so consumers can collect results first and
// decide per endpoint when to care.
func (r Result) Value() (interface{}, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.value, nil
}

func (r Result) String() string {
	if r.err != nil {
		return fmt.Sprintf("failure(%s)", r.err)
	}
	return fmt.Sprintf("success(%s: %v)", r.endpoint, r.value)
}
