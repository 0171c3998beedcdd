package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startStreamServer(t *testing.T, d *Dispatcher) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewStreamServer(d).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("stream server did not stop")
		}
	})
	return ln.Addr()
}

func sendLine(t *testing.T, conn net.Conn, reader *bufio.Reader, line string) Envelope {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	raw, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestStreamTransport(t *testing.T) {
	d, _ := newTestDispatcher(t, false)
	addr := startStreamServer(t, d)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	t.Run("request and response with echoed request_id", func(t *testing.T) {
		env := sendLine(t, conn, reader, `{"request_id":"a1","op":"providers"}`)
		assert.Equal(t, true, env["ok"])
		assert.Equal(t, "a1", env["request_id"])
	})

	t.Run("malformed json fails the request, not the connection", func(t *testing.T) {
		env := sendLine(t, conn, reader, `{not json`)
		assert.Equal(t, false, env["ok"])
		assert.Equal(t, "ValidationError", env["kind"])

		// The same connection still serves the next request
		env = sendLine(t, conn, reader, `{"op":"providers"}`)
		assert.Equal(t, true, env["ok"])
	})

	t.Run("one response per request, in order", func(t *testing.T) {
		_, err := conn.Write([]byte(`{"request_id":"b1","op":"providers"}` + "\n" + `{"request_id":"b2","op":"ping","source":"echo"}` + "\n"))
		require.NoError(t, err)

		for _, want := range []string{"b1", "b2"} {
			raw, err := reader.ReadBytes('\n')
			require.NoError(t, err)
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			assert.Equal(t, want, env["request_id"])
		}
	})

	t.Run("stitch over the wire", func(t *testing.T) {
		payload, err := json.Marshal(stitchRequest())
		require.NoError(t, err)
		env := sendLine(t, conn, reader, string(payload))
		require.Equal(t, true, env["ok"], "envelope: %v", env)

		ent, ok := env["entity"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "echo", ent["source"])
		assert.NotEmpty(t, ent["etag"])
	})

	t.Run("disconnect leaves the listener serving others", func(t *testing.T) {
		early, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		_, err = early.Write([]byte(`{"op":"providers"}` + "\n"))
		require.NoError(t, err)
		early.Close()

		fresh, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		defer fresh.Close()
		env := sendLine(t, fresh, bufio.NewReader(fresh), `{"op":"providers"}`)
		assert.Equal(t, true, env["ok"])
	})
}
