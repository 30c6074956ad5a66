// Package frame implements the length-prefixed framing spoken by
// framed endpoints: each frame is a protowire varint length followed
// by that many payload bytes.
package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single frame in both directions.
const MaxFrameSize = 1 << 24

var ErrTooLargeFrame = errors.New("frame: too large, refusing to transfer")

var _ io.ReadWriter = (*ReadWriter)(nil)

// ReadWriter adds framing on top of a raw transport. Writes are
// buffered until `Flush`, which emits exactly one frame; reads stream
// transparently across frame boundaries, so codecs on both sides never
// have to align their messages with frames.
//
// A ReadWriter is not safe for concurrent use.
type ReadWriter struct {
	w   io.Writer
	buf bytes.Buffer

	r         *bufio.Reader
	remaining uint64
}

func NewReadWriter(rw io.ReadWriter) *ReadWriter {
	return &ReadWriter{
		w: rw,
		r: bufio.NewReader(rw),
	}
}

// Write buffers p until the next `Flush`.
func (f *ReadWriter) Write(p []byte) (int, error) {
	if uint64(f.buf.Len())+uint64(len(p)) > MaxFrameSize {
		return 0, fmt.Errorf("%w: %d bytes pending", ErrTooLargeFrame, f.buf.Len()+len(p))
	}
	return f.buf.Write(p)
}

// Flush emits everything buffered since the previous Flush as one
// frame. The prefix and the payload go out in a single write so a
// frame is never interleaved halfway.
func (f *ReadWriter) Flush() error {
	prefixed := protowire.AppendVarint(nil, uint64(f.buf.Len()))
	prefixed = append(prefixed, f.buf.Bytes()...)
	f.buf.Reset()

	_, err := f.w.Write(prefixed)
	return err
}

// Read serves from the current frame and fetches the next header once
// it drains. A clean EOF between frames is io.EOF; EOF inside a frame
// or inside a header is io.ErrUnexpectedEOF.
func (f *ReadWriter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for f.remaining == 0 {
		if err := f.nextFrame(); err != nil {
			return 0, err
		}
	}

	if uint64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}

	n, err := f.r.Read(p)
	f.remaining -= uint64(n)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (f *ReadWriter) nextFrame() error {
	buf := make([]byte, 0, binary.MaxVarintLen64)
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		buf = append(buf, b)
		if b < 0x80 || len(buf) == binary.MaxVarintLen64 {
			break
		}
	}

	size, n := protowire.ConsumeVarint(buf)
	if err := protowire.ParseError(n); err != nil {
		return err
	}
	if size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes announced", ErrTooLargeFrame, size)
	}

	f.remaining = size
	return nil
}
