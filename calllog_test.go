package multicall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCallSinkRecordsAttempts(t *testing.T) {
	var sink bytes.Buffer
	ep, _ := testEndpoint(t, &stubProto{}, WithCallLog(&sink))

	_, err := ep.Invoke(context.Background(), "get", "user-17")
	require.NoError(t, err)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.Bytes(), &record), "one JSON line should be written")
	require.Equal(t, "get", record["method"])
	require.Equal(t, ep.Name(), record["endpoint"])
	require.Equal(t, ep.Addr(), record["addr"])
	require.Equal(t, "stub", record["protocol"])
	require.Equal(t, []interface{}{"user-17"}, record["args"])
	require.NotContains(t, record, "kwargs", "empty kwargs should not be recorded")

	ts, ok := record["time"].(string)
	require.True(t, ok, "the record should be timestamped")
	_, err = time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
}

func TestCallSinkSeesFailedDials(t *testing.T) {
	var sink bytes.Buffer
	boom := errors.New("wire cut")
	dialer := &countingDialer{err: boom}
	ep, err := NewEndpoint(&stubProto{}, "10.0.0.1:9090", WithDialer(dialer.dial), WithCallLog(&sink))
	require.NoError(t, err)

	_, err = ep.Invoke(context.Background(), "get", "user-17")
	require.ErrorIs(t, err, ErrDialFailed)
	require.NotZero(t, sink.Len(), "the attempt should be recorded before dialing")
}

func TestCallSinkNeverFailsCalls(t *testing.T) {
	ep, _ := testEndpoint(t, &stubProto{value: "pong"}, WithCallLog(failingWriter{}))

	value, err := ep.Invoke(context.Background(), "get")
	require.NoError(t, err, "a broken sink should not affect the call")
	require.Equal(t, "pong", value)
}

func TestCallSinkSkipsUnrepresentableCalls(t *testing.T) {
	var sink bytes.Buffer
	ep, _ := testEndpoint(t, &stubProto{}, WithCallLog(&sink))

	_, err := ep.Invoke(context.Background(), "get", func() {})
	require.NoError(t, err, "recording must never fail the call")
	require.Zero(t, sink.Len(), "unrepresentable calls should be skipped whole")
}

func TestCallLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.log")
	dialer := &countingDialer{}
	ep, err := NewEndpoint(&stubProto{}, "10.0.0.1:9090", WithDialer(dialer.dial), WithCallLogFile(path))
	require.NoError(t, err)

	_, err = ep.Invoke(context.Background(), "get", "a")
	require.NoError(t, err)
	_, err = ep.Invoke(context.Background(), "set", "a", 1)
	require.NoError(t, err)

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	require.Len(t, lines, 2, "each call should append one line")
	require.Contains(t, lines[0], "get")
	require.Contains(t, lines[1], "set")
}
