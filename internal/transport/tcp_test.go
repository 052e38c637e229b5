package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"instrument-link/internal/config"
)

func tcpTestConfig(host string, port int, mode config.Mode) *config.LinkConfig {
	return &config.LinkConfig{
		Kind: config.KindTCP,
		TCP:  config.TCPConfig{Mode: mode, Host: host, Port: port},
		Timeouts: config.TimeoutConfig{
			Connect: 2 * time.Second,
			Receive: 50 * time.Millisecond,
			Send:    2 * time.Second,
		},
		Buffer: config.BufferConfig{ReadSize: 4096, WriteSize: 4096},
	}
}

func TestTCPClientLoopback(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind test listener: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	client := NewTCPClient(tcpTestConfig("127.0.0.1", port, config.ModeClient), zap.NewNop())

	ctx := context.Background()
	if err := client.Open(ctx); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer client.Close()

	if !client.IsOpen() {
		t.Fatal("client not open after Open")
	}

	var peer net.Conn
	select {
	case peer = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never accepted")
	}
	defer peer.Close()

	// Client to peer.
	payload := []byte{0x01, 0x02, 0x03}
	if err := client.Write(ctx, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	buf := make([]byte, 16)
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("peer read failed: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("peer received %v, expected %v", buf[:n], payload)
	}

	// Peer to client.
	if _, err := peer.Write([]byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}
	data, err := client.Read(ctx, 4096)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(data, []byte{0xAA, 0xBB}) {
		t.Fatalf("client received %v", data)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if client.IsOpen() {
		t.Fatal("client still open after Close")
	}
}

func TestTCPClientReadTimeoutTick(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind test listener: %v", err)
	}
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	client := NewTCPClient(tcpTestConfig("127.0.0.1", port, config.ModeClient), zap.NewNop())
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer client.Close()

	// No data pending: the deadline expires and the read surfaces as an
	// empty tick rather than an error.
	data, err := client.Read(context.Background(), 4096)
	if err != nil {
		t.Fatalf("expected timeout tick, got error: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty read, got %v", data)
	}
}

func TestTCPClientConnectionRefused(t *testing.T) {
	// Bind and immediately release a port so nothing listens on it.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind test listener: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	client := NewTCPClient(tcpTestConfig("127.0.0.1", port, config.ModeClient), zap.NewNop())
	if err := client.Open(context.Background()); err == nil {
		client.Close()
		t.Fatal("expected connect error")
	}
	if client.IsOpen() {
		t.Fatal("client open after failed connect")
	}
}

func TestTCPClientOperationsWhileClosed(t *testing.T) {
	client := NewTCPClient(tcpTestConfig("127.0.0.1", 4001, config.ModeClient), zap.NewNop())

	if err := client.Write(context.Background(), []byte{0x01}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen on write, got %v", err)
	}
	if _, err := client.Read(context.Background(), 16); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen on read, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close of unopened client must be a no-op: %v", err)
	}
}

func waitForListener(t *testing.T, server *TCPServer) net.Addr {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		server.mutex.RLock()
		listener := server.listener
		server.mutex.RUnlock()
		if listener != nil {
			return listener.Addr()
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("listener never bound")
	return nil
}

func TestTCPServerAcceptAndListenerReuse(t *testing.T) {
	server := NewTCPServer(tcpTestConfig("127.0.0.1", 0, config.ModeServer), zap.NewNop())
	defer server.Shutdown()

	openDone := make(chan error, 1)
	go func() { openDone <- server.Open(context.Background()) }()

	addr := waitForListener(t, server)
	peer, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer peer.Close()

	select {
	case err := <-openDone:
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("open never returned")
	}

	if err := server.Write(context.Background(), []byte{0x42}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	buf := make([]byte, 4)
	n, err := peer.Read(buf)
	if err != nil || n != 1 || buf[0] != 0x42 {
		t.Fatalf("peer read %v (%d bytes, err %v)", buf[:n], n, err)
	}

	// Close drops the peer but keeps the listener; a second Open must
	// accept on the same socket without rebinding.
	if err := server.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if server.IsOpen() {
		t.Fatal("server open after Close")
	}

	go func() { openDone <- server.Open(context.Background()) }()
	peer2, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer peer2.Close()

	select {
	case err := <-openDone:
		if err != nil {
			t.Fatalf("second open failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second open never returned")
	}

	// Shutdown releases the listener as well.
	if err := server.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if _, err := net.DialTimeout("tcp", addr.String(), 200*time.Millisecond); err == nil {
		t.Fatal("listener still accepting after Shutdown")
	}
}

func TestTCPServerOpenCancelled(t *testing.T) {
	server := NewTCPServer(tcpTestConfig("127.0.0.1", 0, config.ModeServer), zap.NewNop())
	defer server.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	openDone := make(chan error, 1)
	go func() { openDone <- server.Open(ctx) }()

	waitForListener(t, server)
	cancel()

	select {
	case err := <-openDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("open did not unblock on cancellation")
	}
}
