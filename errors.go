package multicall

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCfg = errors.New("multicall: invalid options")

	ErrEndpointDisabled = errors.New("multicall: endpoint is disabled")
	ErrDuplicateName    = errors.New("multicall: endpoint name already in pool")
	ErrNotFound         = errors.New("multicall: endpoint not found")
	ErrInvalidAddr      = errors.New("multicall: address must be host:port with port in [1, 65535]")
	ErrEmptyPool        = errors.New("multicall: pool has no endpoints")
	ErrDialFailed       = errors.New("multicall: could not reach endpoint")
)

// EndpointError annotates a call failure with the endpoint which
// produced it, so fan-out consumers can tell results apart after
// aggregation. It wraps the original error and stays transparent to
// errors.Is and errors.As.
type EndpointError struct {
	Endpoint *Endpoint
	Err      error
}

func (epErr *EndpointError) Error() string {
	return fmt.Sprintf("%s: %s", epErr.Endpoint, epErr.Err)
}

func (epErr *EndpointError) Unwrap() error {
	return epErr.Err
}

// annotate wraps err with ep unless it is already carrying an
// endpoint annotation.
func annotate(ep *Endpoint, err error) error {
	if err == nil {
		return nil
	}

	var epErr *EndpointError
	if errors.As(err, &epErr) {
		return err
	}

	return &EndpointError{Endpoint: ep, Err: err}
}
