// internal/transport/serial.go
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"instrument-link/internal/config"
)

// SerialTransport implements Transport for serial port connections.
// Unlike TCP, bytes read from the wire are not self-delimited messages;
// the link feeds them through the frame assembler.
type SerialTransport struct {
	config *config.LinkConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
}

// NewSerialTransport creates a new serial transport
func NewSerialTransport(cfg *config.LinkConfig, logger *zap.Logger) *SerialTransport {
	return &SerialTransport{
		config: cfg,
		logger: logger.With(
			zap.String("transport", "serial"),
			zap.String("port", cfg.Serial.Port),
		),
	}
}

// Open opens the configured serial port. The port name must be among
// the enumerable ports on this host; otherwise ErrPortUnavailable.
func (st *SerialTransport) Open(ctx context.Context) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.isOpen {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	serialCfg := &st.config.Serial

	st.logger.Info("Opening serial port",
		zap.Int("baud_rate", serialCfg.BaudRate),
		zap.String("parity", serialCfg.Parity),
	)

	if err := st.checkPortAvailable(serialCfg.Port); err != nil {
		return err
	}

	mode := &serial.Mode{
		BaudRate: serialCfg.BaudRate,
		DataBits: serialCfg.DataBits,
		StopBits: stopBits(serialCfg.StopBits),
		Parity:   parity(serialCfg.Parity),
	}

	port, err := serial.Open(serialCfg.Port, mode)
	if err != nil {
		st.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port %s: %w", serialCfg.Port, err)
	}

	// A finite read timeout keeps the receive loop cancellable: expired
	// reads come back empty and the loop re-checks its context.
	if err := port.SetReadTimeout(st.config.Timeouts.Receive); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	if err := port.SetDTR(serialCfg.DTR); err != nil {
		st.logger.Warn("Failed to set DTR", zap.Error(err))
	}
	if err := port.SetRTS(serialCfg.RTS); err != nil {
		st.logger.Warn("Failed to set RTS", zap.Error(err))
	}
	if serialCfg.Handshake != "" && serialCfg.Handshake != "none" {
		st.logger.Warn("Hardware handshake not supported, continuing without it",
			zap.String("handshake", serialCfg.Handshake),
		)
	}

	st.port = port
	st.isOpen = true

	st.logger.Info("Serial port opened successfully")
	return nil
}

// checkPortAvailable verifies the port name against the host's ports
func (st *SerialTransport) checkPortAvailable(name string) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	for _, p := range ports {
		if p == name {
			return nil
		}
	}

	st.logger.Error("Requested serial port not found",
		zap.Strings("available_ports", ports),
	)
	return fmt.Errorf("%w: %s", ErrPortUnavailable, name)
}

// Close closes the serial port
func (st *SerialTransport) Close() error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return nil
	}

	if err := st.port.Close(); err != nil {
		st.logger.Error("Failed to close serial port", zap.Error(err))
		st.port = nil
		st.isOpen = false
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	st.port = nil
	st.isOpen = false

	st.logger.Info("Serial port closed")
	return nil
}

// Shutdown releases the transport; identical to Close for serial
func (st *SerialTransport) Shutdown() error {
	return st.Close()
}

// IsOpen returns whether the port is open
func (st *SerialTransport) IsOpen() bool {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.isOpen && st.port != nil
}

// Write writes data to the serial port
func (st *SerialTransport) Write(ctx context.Context, data []byte) error {
	st.mutex.RLock()
	port := st.port
	open := st.isOpen
	st.mutex.RUnlock()

	if !open || port == nil {
		return ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := port.Write(data)
	if err != nil {
		st.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	st.logger.Debug("Serial write completed", zap.Int("bytes", len(data)))
	return nil
}

// Read reads up to maxBytes from the serial port. The blocking read is
// pumped through a goroutine and raced against the context so Stop
// unblocks the receive loop without waiting for the port timeout.
func (st *SerialTransport) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	st.mutex.RLock()
	port := st.port
	open := st.isOpen
	st.mutex.RUnlock()

	if !open || port == nil {
		return nil, ErrNotOpen
	}

	buffer := make([]byte, maxBytes)
	done := make(chan readResult, 1)

	go func() {
		n, err := port.Read(buffer)
		result := readResult{}

		if err != nil {
			if err == io.EOF {
				result.data = buffer[:n]
			} else {
				result.err = fmt.Errorf("failed to read from serial port: %w", err)
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

// Kind returns the channel kind
func (st *SerialTransport) Kind() config.Kind {
	return config.KindSerial
}

// stopBits maps the configured stop bit count to the driver enum
func stopBits(bits int) serial.StopBits {
	switch bits {
	case 2:
		return serial.TwoStopBits
	case 15:
		return serial.OnePointFiveStopBits
	default:
		return serial.OneStopBit
	}
}

// parity maps the configured parity name to the driver enum
func parity(name string) serial.Parity {
	switch name {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}
