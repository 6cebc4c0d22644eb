package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiebor81/mudis"
)

func newTestCache(t *testing.T) *mudis.Cache {
	cfg := mudis.DefaultConfig()
	cfg.SweepInterval = mudis.NoSweep()
	c, err := mudis.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDispatchWriteReadDelete(t *testing.T) {
	s := New(newTestCache(t))
	ctx := context.Background()

	resp := s.dispatch(ctx, request{Cmd: "write", Key: "k", Value: "v"})
	require.True(t, resp.OK)

	resp = s.dispatch(ctx, request{Cmd: "read", Key: "k"})
	require.True(t, resp.OK)
	require.Equal(t, "v", resp.Value)

	resp = s.dispatch(ctx, request{Cmd: "exists", Key: "k"})
	require.True(t, resp.OK)
	require.Equal(t, true, resp.Value)

	resp = s.dispatch(ctx, request{Cmd: "delete", Key: "k"})
	require.True(t, resp.OK)

	resp = s.dispatch(ctx, request{Cmd: "read", Key: "k"})
	require.True(t, resp.OK)
	require.Nil(t, resp.Value)
}

func TestDispatchUnknownCommandIsProtocolError(t *testing.T) {
	s := New(newTestCache(t))
	resp := s.dispatch(context.Background(), request{Cmd: "bogus"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}

func TestDispatchFetchUsesFallbackOnMiss(t *testing.T) {
	s := New(newTestCache(t))
	resp := s.dispatch(context.Background(), request{Cmd: "fetch", Key: "absent", Fallback: "computed"})
	require.True(t, resp.OK)
	require.Equal(t, "computed", resp.Value)
}

func TestDispatchKeysRequiresNamespace(t *testing.T) {
	s := New(newTestCache(t))
	resp := s.dispatch(context.Background(), request{Cmd: "keys"})
	require.False(t, resp.OK)
}

func TestDispatchMetricsGlobalAndNamespace(t *testing.T) {
	s := New(newTestCache(t))
	ctx := context.Background()
	s.dispatch(ctx, request{Cmd: "write", Key: "k", Value: "v", Namespace: "ns"})
	s.dispatch(ctx, request{Cmd: "read", Key: "k", Namespace: "ns"})

	resp := s.dispatch(ctx, request{Cmd: "metrics", Namespace: "ns"})
	require.True(t, resp.OK)

	resp = s.dispatch(ctx, request{Cmd: "metrics", Namespace: "never-touched"})
	require.False(t, resp.OK)

	resp = s.dispatch(ctx, request{Cmd: "metrics"})
	require.True(t, resp.OK)
}

// writeLine writes one JSON-encoded request line to conn.
func writeLine(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func readLine(t *testing.T, r *bufio.Reader) response {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	var resp response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestHandleConnRoundTripsOverAPipe(t *testing.T) {
	s := New(newTestCache(t))
	client, srv := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.handleConn(context.Background(), srv)
		close(done)
	}()

	writeLine(t, client, request{Cmd: "write", Key: "k", Value: "v"})
	reader := bufio.NewReader(client)
	resp := readLine(t, reader)
	require.True(t, resp.OK)

	writeLine(t, client, request{Cmd: "read", Key: "k"})
	resp = readLine(t, reader)
	require.True(t, resp.OK)
	require.Equal(t, "v", resp.Value)

	client.Close()
	<-done
}

func TestHandleConnMalformedJSONClosesConnection(t *testing.T) {
	s := New(newTestCache(t))
	client, srv := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.handleConn(context.Background(), srv)
		close(done)
	}()

	_, err := client.Write([]byte("not json at all\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	resp := readLine(t, reader)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "malformed json")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleConn did not close the connection after a malformed request")
	}
}

func TestListenAndServeOverUnixSocketEndToEnd(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "mudis.sock")

	srv := New(newTestCache(t), WithUnixSocket(sockPath))
	ctx, cancel := context.WithCancel(context.Background())

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.ListenAndServe(ctx) }()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	writeLine(t, conn, request{Cmd: "write", Key: "hello", Value: "world"})
	reader := bufio.NewReader(conn)
	resp := readLine(t, reader)
	require.True(t, resp.OK)

	writeLine(t, conn, request{Cmd: "read", Key: "hello"})
	resp = readLine(t, reader)
	require.True(t, resp.OK)
	require.Equal(t, "world", resp.Value)

	cancel()
	select {
	case err := <-serveErrCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after context cancellation")
	}
}

func TestMultipleConcurrentConnections(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "mudis.sock")

	srv := New(newTestCache(t), WithUnixSocket(sockPath))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.ListenAndServe(ctx)

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)

	const n = 8
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			c, err := net.Dial("unix", sockPath)
			if err != nil {
				results <- false
				return
			}
			defer c.Close()
			writeLine(t, c, request{Cmd: "write", Key: "k", Value: i})
			reader := bufio.NewReader(c)
			resp := readLine(t, reader)
			results <- resp.OK
		}(i)
	}
	for i := 0; i < n; i++ {
		require.True(t, <-results)
	}
}
