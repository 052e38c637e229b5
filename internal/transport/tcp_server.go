// internal/transport/tcp_server.go
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"instrument-link/internal/config"
)

// TCPServer implements Transport for instruments that dial in. The
// listener is bound once per Start cycle and reused across reconnects;
// exactly one peer is served at a time, so a second incoming connection
// is not accepted until the current one ends.
type TCPServer struct {
	config   *config.LinkConfig
	listener net.Listener
	conn     net.Conn
	logger   *zap.Logger
	mutex    sync.RWMutex
	isOpen   bool
}

// NewTCPServer creates a new TCP server transport
func NewTCPServer(cfg *config.LinkConfig, logger *zap.Logger) *TCPServer {
	return &TCPServer{
		config: cfg,
		logger: logger.With(
			zap.String("transport", "tcp-server"),
			zap.Int("port", cfg.TCP.Port),
		),
	}
}

// Open binds the listener if needed and blocks until one peer is
// accepted or the context is cancelled
func (ts *TCPServer) Open(ctx context.Context) error {
	ts.mutex.Lock()
	if ts.isOpen {
		ts.mutex.Unlock()
		return nil
	}

	if ts.listener == nil {
		address := fmt.Sprintf("%s:%d", ts.config.TCP.Host, ts.config.TCP.Port)
		listener, err := net.Listen("tcp", address)
		if err != nil {
			ts.mutex.Unlock()
			ts.logger.Error("Failed to bind listener", zap.Error(err))
			return fmt.Errorf("failed to bind %s: %w", address, err)
		}
		ts.listener = listener
		ts.logger.Info("Listener bound", zap.String("address", listener.Addr().String()))
	}
	listener := ts.listener
	ts.mutex.Unlock()

	conn, err := ts.accept(ctx, listener)
	if err != nil {
		return err
	}

	ts.mutex.Lock()
	ts.conn = conn
	ts.isOpen = true
	ts.mutex.Unlock()

	ts.logger.Info("Peer connected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)
	return nil
}

// accept waits for one peer, pumped through a goroutine so cancellation
// unblocks promptly. Shutdown closes the listener, which also releases
// a pump blocked in Accept.
func (ts *TCPServer) accept(ctx context.Context, listener net.Listener) (net.Conn, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	done := make(chan acceptResult, 1)

	go func() {
		conn, err := listener.Accept()
		done <- acceptResult{conn: conn, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			return nil, fmt.Errorf("accept failed: %w", result.err)
		}
		if ctx.Err() != nil {
			result.conn.Close()
			return nil, ctx.Err()
		}
		return result.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drops the active peer but keeps the listener for the next
// connection of the same Start cycle
func (ts *TCPServer) Close() error {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	if ts.conn != nil {
		if err := ts.conn.Close(); err != nil {
			ts.logger.Error("Failed to close peer connection", zap.Error(err))
		}
		ts.conn = nil
	}
	ts.isOpen = false

	return nil
}

// Shutdown drops the peer and releases the listener
func (ts *TCPServer) Shutdown() error {
	ts.Close()

	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	if ts.listener != nil {
		if err := ts.listener.Close(); err != nil {
			ts.listener = nil
			return fmt.Errorf("failed to close listener: %w", err)
		}
		ts.listener = nil
		ts.logger.Info("Listener closed")
	}

	return nil
}

// IsOpen returns whether a peer is connected
func (ts *TCPServer) IsOpen() bool {
	ts.mutex.RLock()
	defer ts.mutex.RUnlock()
	return ts.isOpen && ts.conn != nil
}

// Write writes data to the connected peer
func (ts *TCPServer) Write(ctx context.Context, data []byte) error {
	ts.mutex.RLock()
	conn := ts.conn
	open := ts.isOpen
	ts.mutex.RUnlock()

	if !open || conn == nil {
		return ErrNotOpen
	}

	return tcpWrite(ctx, conn, data, ts.config.Timeouts.Send, ts.logger)
}

// Read reads up to maxBytes from the connected peer
func (ts *TCPServer) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	ts.mutex.RLock()
	conn := ts.conn
	open := ts.isOpen
	ts.mutex.RUnlock()

	if !open || conn == nil {
		return nil, ErrNotOpen
	}

	return tcpRead(ctx, conn, maxBytes, ts.config.Timeouts.Receive)
}

// Kind returns the channel kind
func (ts *TCPServer) Kind() config.Kind {
	return config.KindTCP
}
