package rpc

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePair wires a Conn to a fake client on the other end of two pipes,
// mirroring how a real stdin/stdout pair looks from the server's side.
type pipePair struct {
	conn         *Conn
	clientReader *bufio.Reader
	clientWriter io.WriteCloser
}

func newPipePair() *pipePair {
	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	return &pipePair{
		conn:         NewConn(serverIn, serverOut),
		clientReader: bufio.NewReader(clientIn),
		clientWriter: clientOut,
	}
}

func TestConn_DecodesInboundRequest(t *testing.T) {
	p := newPipePair()

	_, err := p.clientWriter.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"opal/ping","params":{}}` + "\n"))
	require.NoError(t, err)

	select {
	case req := <-p.conn.Requests():
		assert.Equal(t, "opal/ping", req.Method)
		assert.False(t, req.IsNotification())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded request")
	}
}

func TestConn_DecodesNotificationWithNoID(t *testing.T) {
	p := newPipePair()

	_, err := p.clientWriter.Write([]byte(`{"jsonrpc":"2.0","method":"agent/abort","params":{"session_id":"s1"}}` + "\n"))
	require.NoError(t, err)

	select {
	case req := <-p.conn.Requests():
		assert.True(t, req.IsNotification())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded notification")
	}
}

func TestConn_WriteResponseRoundTrips(t *testing.T) {
	p := newPipePair()

	resp, err := newResultResponse([]byte(`1`), map[string]bool{"pong": true})
	require.NoError(t, err)
	require.NoError(t, p.conn.WriteResponse(resp))

	line, err := p.clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"pong":true`)
	assert.Contains(t, line, `"id":1`)
}

func TestConn_SendRequestResolvesOnClientResponse(t *testing.T) {
	p := newPipePair()

	go func() {
		line, err := p.clientReader.ReadString('\n')
		if err != nil {
			return
		}
		assert.Contains(t, line, "client/confirm")
		_, _ = p.clientWriter.Write([]byte(`{"jsonrpc":"2.0","id":"s2c-1","result":{"action":"once"}}` + "\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := p.conn.SendRequest(ctx, "client/confirm", map[string]string{"title": "run rm"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"action":"once"`)
}

func TestConn_SendRequestContextCanceled(t *testing.T) {
	p := newPipePair()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.conn.SendRequest(ctx, "client/input", nil)
	require.Error(t, err)
}
