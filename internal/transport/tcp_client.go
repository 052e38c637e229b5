// internal/transport/tcp_client.go
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-link/internal/config"
)

// TCPClient implements Transport for outbound TCP connections
type TCPClient struct {
	config *config.LinkConfig
	conn   net.Conn
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
}

// NewTCPClient creates a new TCP client transport
func NewTCPClient(cfg *config.LinkConfig, logger *zap.Logger) *TCPClient {
	return &TCPClient{
		config: cfg,
		logger: logger.With(
			zap.String("transport", "tcp-client"),
			zap.String("host", cfg.TCP.Host),
			zap.Int("port", cfg.TCP.Port),
		),
	}
}

// Open dials the instrument. The connect attempt races the configured
// connection timeout; losing the race yields ErrConnectTimeout.
func (tc *TCPClient) Open(ctx context.Context) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.isOpen {
		return nil
	}

	address := fmt.Sprintf("%s:%d", tc.config.TCP.Host, tc.config.TCP.Port)
	tc.logger.Info("Opening TCP connection", zap.String("address", address))

	dialer := &net.Dialer{
		Timeout: tc.config.Timeouts.Connect,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		tc.logger.Error("Failed to open TCP connection", zap.Error(err))
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return fmt.Errorf("%w: %s", ErrConnectTimeout, address)
		}
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	tc.conn = conn
	tc.isOpen = true

	tc.logger.Info("TCP connection opened successfully")
	return nil
}

// Close closes the TCP connection
func (tc *TCPClient) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return nil
	}

	if err := tc.conn.Close(); err != nil {
		tc.logger.Error("Failed to close TCP connection", zap.Error(err))
		tc.conn = nil
		tc.isOpen = false
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}

	tc.conn = nil
	tc.isOpen = false

	tc.logger.Info("TCP connection closed")
	return nil
}

// Shutdown releases the transport; identical to Close for a client
func (tc *TCPClient) Shutdown() error {
	return tc.Close()
}

// IsOpen returns whether the connection is open
func (tc *TCPClient) IsOpen() bool {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.isOpen && tc.conn != nil
}

// Write writes data to the TCP connection
func (tc *TCPClient) Write(ctx context.Context, data []byte) error {
	tc.mutex.RLock()
	conn := tc.conn
	open := tc.isOpen
	tc.mutex.RUnlock()

	if !open || conn == nil {
		return ErrNotOpen
	}

	return tcpWrite(ctx, conn, data, tc.config.Timeouts.Send, tc.logger)
}

// Read reads up to maxBytes from the TCP connection. Each successful
// read is surfaced as-is; the link treats one read as one frame.
func (tc *TCPClient) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	tc.mutex.RLock()
	conn := tc.conn
	open := tc.isOpen
	tc.mutex.RUnlock()

	if !open || conn == nil {
		return nil, ErrNotOpen
	}

	return tcpRead(ctx, conn, maxBytes, tc.config.Timeouts.Receive)
}

// Kind returns the channel kind
func (tc *TCPClient) Kind() config.Kind {
	return config.KindTCP
}

// tcpWrite writes the full buffer to conn under the send timeout
func tcpWrite(ctx context.Context, conn net.Conn, data []byte, timeout time.Duration, logger *zap.Logger) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	n, err := conn.Write(data)
	if err != nil {
		logger.Error("TCP write failed", zap.Error(err))
		return fmt.Errorf("failed to write to TCP connection: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	logger.Debug("TCP write completed", zap.Int("bytes", len(data)))
	return nil
}

// tcpRead pumps one blocking read through a goroutine so cancellation
// unblocks the caller promptly. A read deadline keeps the pump from
// lingering forever after cancellation; deadline expiry surfaces as an
// empty read the receive loop treats as a tick.
func tcpRead(ctx context.Context, conn net.Conn, maxBytes int, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}

	buffer := make([]byte, maxBytes)
	done := make(chan readResult, 1)

	go func() {
		n, err := conn.Read(buffer)
		result := readResult{}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				result.data = []byte{}
			} else {
				result.err = fmt.Errorf("failed to read from TCP connection: %w", err)
			}
		} else {
			result.data = make([]byte, n)
			copy(result.data, buffer[:n])
		}
		done <- result
	}()

	select {
	case result := <-done:
		return result.data, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
