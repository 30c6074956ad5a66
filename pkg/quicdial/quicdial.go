// Package quicdial carries multicall traffic over QUIC: every call
// dials the peer, opens exactly one bidirectional stream and tears
// both down when the call ends. The listening side is expected to
// accept one stream per exchange.
//
// TLS is not optional on QUIC. The config must carry roots the peer
// can be verified against; when it advertises no ALPN, `DefaultAlpn`
// is applied to a private clone.
package quicdial

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/avissian/multicall"
)

// DefaultAlpn is advertised when the TLS config brings no ALPN of its
// own. Both halves must agree on it.
const DefaultAlpn = "multicall"

var ErrNoTLSConfig = errors.New("quicdial: TlsConfig is required")

type config struct {
	quicConf *quic.Config
}

// Option to pass to `New`.
type Option func(*config) error

// WithQuicConfig overrides the QUIC settings used on every dial.
func WithQuicConfig(conf *quic.Config) Option {
	return func(c *config) error {
		c.quicConf = conf
		return nil
	}
}

// New builds a `multicall.Dialer` over QUIC streams, pluggable into an
// endpoint with `multicall.WithDialer`. The endpoint timeout bounds
// the handshake, the stream opening and the subsequent IO.
func New(tlsConf *tls.Config, opts ...Option) (multicall.Dialer, error) {
	if tlsConf == nil {
		return nil, ErrNoTLSConfig
	}

	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{DefaultAlpn}
	}

	var cfg config
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	dial := func(ctx context.Context, addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		conn, err := quic.DialAddr(ctx, addr, tlsConf, cfg.quicConf)
		if err != nil {
			return nil, err
		}

		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			conn.CloseWithError(0, "no stream")
			return nil, err
		}

		if timeout > 0 {
			if err := stream.SetDeadline(time.Now().Add(timeout)); err != nil {
				stream.Close()
				conn.CloseWithError(0, "deadline rejected")
				return nil, err
			}
		}

		return &streamConn{stream: stream, conn: conn}, nil
	}

	return dial, nil
}

// streamConn ties the stream and its parent connection together: the
// endpoint closes its transport exactly once per call and must leave
// nothing behind.
type streamConn struct {
	stream quic.Stream
	conn   quic.Connection
}

func (sc *streamConn) Read(p []byte) (int, error) { return sc.stream.Read(p) }

func (sc *streamConn) Write(p []byte) (int, error) { return sc.stream.Write(p) }

func (sc *streamConn) Close() error {
	err := sc.stream.Close()
	if cErr := sc.conn.CloseWithError(0, ""); err == nil {
		err = cErr
	}
	return err
}
