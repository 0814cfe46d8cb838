//go:build unix

package stream

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// mockHandler implements Handler interface for testing
type mockHandler struct {
	mu       sync.Mutex
	streams  []*Stream
	handleCh chan *Stream
	block    bool
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		streams:  make([]*Stream, 0),
		handleCh: make(chan *Stream, 10),
	}
}

func (h *mockHandler) Handle(ctx context.Context, s *Stream) {
	h.mu.Lock()
	h.streams = append(h.streams, s)
	h.mu.Unlock()

	select {
	case h.handleCh <- s:
	default:
	}

	if h.block {
		// Blocks until the peer closes or the server disconnects the stream.
		for {
			data, err := s.Read()
			if err != nil || (len(data) == 0 && s.PeerClosed()) {
				return
			}
		}
	}
}

func (h *mockHandler) getStreams() []*Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	opts = append([]ServerOption{
		ServerLoggerOption(DiscardLogger),
		ServerStreamOptions(LoggerOption(DiscardLogger)),
	}, opts...)
	server, err := Listen(addr, opts...)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	return server
}

func TestListen(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	if server.listener == nil {
		t.Error("listener is nil")
	}
}

func TestListen_InvalidAddr(t *testing.T) {
	server1 := newTestServer(t)
	defer server1.Close()

	occupiedAddr := server1.listener.Addr().(*net.TCPAddr)
	if _, err := Listen(occupiedAddr); err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestServerOptions(t *testing.T) {
	server := newTestServer(t,
		ServerShutdownTimeoutOption(time.Minute),
		ServerStreamOptions(ReadTimeoutOption(time.Second)),
	)
	defer server.Close()

	if server.shutdownTimeout != time.Minute {
		t.Errorf("shutdownTimeout = %v, want %v", server.shutdownTimeout, time.Minute)
	}
	if len(server.streamOpts) != 2 {
		t.Errorf("streamOpts = %d, want 2", len(server.streamOpts))
	}
}

func TestServer_Close(t *testing.T) {
	server := newTestServer(t)

	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if _, err := server.listener.AcceptTCP(); err == nil {
		t.Error("expected error after close")
	}
}

func TestServer_Addr(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	if server.Addr() == nil {
		t.Error("Addr returned nil")
	}
}

func TestServer_Serve(t *testing.T) {
	server := newTestServer(t)

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	clientConn, err := net.DialTCP("tcp", nil, server.listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	var s *Stream
	select {
	case s = <-handler.handleCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	if s == nil {
		t.Fatal("handler received nil stream")
	}

	// The stream is disconnected once the handler returns.
	deadline := time.Now().Add(5 * time.Second)
	for s.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Connected() {
		t.Error("stream should be disconnected after the handler returns")
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Serve_Echo(t *testing.T) {
	server := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	echo := HandlerFunc(func(ctx context.Context, s *Stream) {
		for {
			data, err := s.Read()
			if err != nil || len(data) == 0 {
				return
			}
			if _, err = s.Write(data); err != nil {
				return
			}
		}
	})
	go server.Serve(ctx, echo)

	client, err := Dial(ctx, "tcp", server.Addr().String(),
		LoggerOption(DiscardLogger), ReadTimeoutOption(5*time.Second))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Disconnect()

	if _, err = client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var got []byte
	for len(got) < 5 {
		data, err := client.Read()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(data) == 0 {
			t.Fatal("server closed the stream early")
		}
		got = append(got, data...)
	}
	if string(got) != "hello" {
		t.Errorf("echo = %q, want %q", got, "hello")
	}
}

func TestServer_Serve_MultipleConnections(t *testing.T) {
	server := newTestServer(t)

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, handler)

	numClients := 5
	clients := make([]*net.TCPConn, numClients)
	for i := 0; i < numClients; i++ {
		clientConn, err := net.DialTCP("tcp", nil, server.listener.Addr().(*net.TCPAddr))
		if err != nil {
			t.Fatalf("client %d dial failed: %v", i, err)
		}
		clients[i] = clientConn
	}

	for i := 0; i < numClients; i++ {
		select {
		case s := <-handler.handleCh:
			if s == nil {
				t.Errorf("handler %d received nil stream", i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for handler %d", i)
		}
	}

	for _, conn := range clients {
		conn.Close()
	}

	streams := handler.getStreams()
	if len(streams) != numClients {
		t.Errorf("handler received %d streams, want %d", len(streams), numClients)
	}

	ids := make(map[string]struct{})
	for _, s := range streams {
		ids[s.ID()] = struct{}{}
	}
	if len(ids) != numClients {
		t.Errorf("stream IDs not unique: %d distinct", len(ids))
	}
}

func TestServer_Serve_ContextCanceled(t *testing.T) {
	server := newTestServer(t)

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	time.Sleep(time.Millisecond * 50)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Serve_DisconnectsActiveStreams(t *testing.T) {
	server := newTestServer(t)

	handler := newMockHandler()
	handler.block = true
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	clientConn, err := net.DialTCP("tcp", nil, server.listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	select {
	case <-handler.handleCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return while a handler was blocked in Read")
	}

	// The server side closed the connection.
	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err = clientConn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("client read = %v, want io.EOF", err)
	}
}

func TestServer_Close_BypassesShutdownTimeout(t *testing.T) {
	server := newTestServer(t, ServerShutdownTimeoutOption(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, newMockHandler())
	}()

	time.Sleep(time.Millisecond * 50)
	cancel()
	time.Sleep(time.Millisecond * 50)
	_ = server.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close should bypass the shutdown timeout")
	}
}
