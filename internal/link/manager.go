// internal/link/manager.go
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-link/internal/config"
	"instrument-link/internal/event"
	"instrument-link/internal/framing"
	"instrument-link/internal/model"
	"instrument-link/internal/transport"
	"instrument-link/internal/utils"
)

// Factory creates a transport for a link configuration. Overridable so
// tests can run the state machine against an in-memory transport.
type Factory func(cfg *config.LinkConfig, logger *zap.Logger) (transport.Transport, error)

// Manager owns the connection state machine for one instrument link:
// connect, monitor, bounded reconnect, keep-alive and teardown. All
// consumer-visible output flows through the event sink as
// MessageReceived and ConnectionStatusChanged notifications.
type Manager struct {
	sink    *event.Sink
	logger  *zap.Logger
	factory Factory

	// lifecycle serializes Start/Stop/restart so two connection
	// lifetimes never overlap on one transport handle.
	lifecycle sync.Mutex

	mu        sync.Mutex
	cfg       *config.LinkConfig
	state     model.ConnectionState
	active    transport.Transport
	running   bool
	parentCtx context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// NewManager creates a connection manager for the given link config
func NewManager(cfg *config.LinkConfig, sink *event.Sink, logger *zap.Logger) *Manager {
	return &Manager{
		sink:    sink,
		factory: transport.New,
		cfg:     cfg,
		state:   model.StateDisconnected,
		logger: logger.With(
			zap.String("component", "connection-manager"),
			zap.String("link_kind", string(cfg.Kind)),
		),
	}
}

// Start spawns the monitor/reconnect loop and returns immediately; it
// does not wait for the first connection. Calling Start on a running
// link is a warned no-op.
func (m *Manager) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.startLocked(ctx)
}

func (m *Manager) startLocked(parent context.Context) {
	m.mu.Lock()
	if m.running {
		// The monitor loop may have exited on its own after exhausting
		// the reconnect budget; only a live loop blocks a new Start.
		select {
		case <-m.runDone:
			m.running = false
		default:
			m.mu.Unlock()
			m.logger.Warn("Link already running, ignoring Start")
			return
		}
	}

	runCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	m.parentCtx = parent
	m.runCancel = cancel
	m.runDone = done
	m.running = true
	m.mu.Unlock()

	m.logger.Info("Link starting")

	go func() {
		defer close(done)
		m.run(runCtx)
	}()
}

// Stop cancels the monitor loop, force-closes the active transport to
// unblock pending I/O, and waits until every goroutine of the current
// lifetime has terminated. Safe to call repeatedly.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.state = model.StateClosing
	cancel := m.runCancel
	active := m.active
	done := m.runDone
	m.mu.Unlock()

	m.logger.Info("Link stopping")

	cancel()
	if active != nil {
		// Best-effort close so a blocked read or accept returns now
		// instead of when its timeout elapses.
		active.Close()
	}
	<-done

	m.mu.Lock()
	m.running = false
	m.runCancel = nil
	m.mu.Unlock()

	m.logger.Info("Link stopped")
}

// Send writes one payload through the active transport and emits a
// Sent envelope. One transport write per call, no batching.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	cfg := m.cfg
	state := m.state
	active := m.active
	m.mu.Unlock()

	if state != model.StateConnected || active == nil {
		return ErrNotConnected
	}
	if cfg.Direction == config.DirectionInput {
		return ErrDirectionNotAllowed
	}

	data := payload
	if cfg.Kind == config.KindSerial && cfg.Serial.Delimiter != "" {
		data = make([]byte, 0, len(payload)+len(cfg.Serial.Delimiter))
		data = append(data, payload...)
		data = append(data, cfg.Serial.Delimiter...)
	}

	ctx := context.Background()
	if cfg.Timeouts.Send > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Send)
		defer cancel()
	}

	if err := active.Write(ctx, data); err != nil {
		m.logger.Error("Send failed", zap.Error(err))
		return fmt.Errorf("send failed: %w", err)
	}

	envelope := model.NewEnvelope(payload, model.DirectionSent)
	m.logger.Debug("Message sent",
		zap.String("message_id", envelope.ID.String()),
		zap.Int("bytes", len(payload)),
	)
	m.sink.PublishMessage(envelope)

	return nil
}

// UpdateConfig swaps the active configuration. A running link restarts
// asynchronously; callers learn about the new link via
// ConnectionStatusChanged events.
func (m *Manager) UpdateConfig(cfg *config.LinkConfig) {
	m.mu.Lock()
	m.cfg = cfg
	running := m.running
	parent := m.parentCtx
	m.mu.Unlock()

	m.logger.Info("Link configuration updated",
		zap.String("endpoint", cfg.Endpoint()),
		zap.String("link_kind", string(cfg.Kind)),
	)

	if !running {
		return
	}

	go func() {
		m.lifecycle.Lock()
		defer m.lifecycle.Unlock()
		m.stopLocked()
		m.startLocked(parent)
	}()
}

// IsConnected reports whether the link is currently connected
func (m *Manager) IsConnected() bool {
	return m.State() == model.StateConnected
}

// State returns the current connection state
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the active link configuration
func (m *Manager) Config() *config.LinkConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// run is the monitor/reconnect loop: one iteration per connect attempt,
// one serveConnection call per established link. The reconnect counter
// resets on every successful connection; with a bounded budget the loop
// exits once the counter reaches it.
func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.setState(model.StateDisconnected)
		m.sink.PublishStatus(model.StatusDisconnected)
	}()

	cfg := m.Config()

	tr, err := m.factory(cfg, m.logger)
	if err != nil {
		m.logger.Error("Failed to create transport", zap.Error(err))
		m.sink.PublishStatus(model.StatusConnectionFailedPrefix + err.Error())
		return
	}
	defer tr.Shutdown()

	serverMode := cfg.Kind == config.KindTCP && cfg.TCP.Mode == config.ModeServer
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(model.StateConnecting)
		if serverMode {
			m.sink.PublishStatus(model.StatusServerWaiting)
		}

		if err := m.open(ctx, tr, cfg, serverMode); err != nil {
			if ctx.Err() != nil {
				return
			}

			attempts++
			m.logger.Warn("Connect attempt failed",
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			if serverMode {
				m.sink.PublishStatus(model.StatusServerErrorPrefix + err.Error())
			} else {
				m.sink.PublishStatus(model.StatusConnectionFailedPrefix + err.Error())
			}

			if cfg.Reconnect.MaxAttempts >= 0 && attempts >= cfg.Reconnect.MaxAttempts {
				m.logger.Error("Reconnect attempts exhausted",
					zap.Int("attempts", attempts),
				)
				m.sink.PublishStatus(model.StatusConnectionFailedPrefix + ErrMaxReconnectAttempts.Error())
				return
			}

			select {
			case <-time.After(cfg.Reconnect.Interval):
			case <-ctx.Done():
				return
			}
			continue
		}

		attempts = 0

		m.mu.Lock()
		m.active = tr
		m.state = model.StateConnected
		m.mu.Unlock()
		m.logger.Info("Link connected", zap.String("endpoint", cfg.Endpoint()))
		m.sink.PublishStatus(model.StatusConnected)

		m.serveConnection(ctx, tr, cfg)

		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
		tr.Close()

		if ctx.Err() != nil {
			return
		}

		m.setState(model.StateDisconnected)
		m.sink.PublishStatus(model.StatusDisconnected)
	}
}

// open runs one connect attempt under the configured connect timeout.
// A server-mode transport waits for a peer without a deadline; only the
// bind can fail there.
func (m *Manager) open(ctx context.Context, tr transport.Transport, cfg *config.LinkConfig, serverMode bool) error {
	openCtx := ctx
	if !serverMode && cfg.Timeouts.Connect > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Connect)
		defer cancel()
	}

	err := tr.Open(openCtx)
	if err != nil && errors.Is(openCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return transport.ErrConnectTimeout
	}
	return err
}

// serveConnection runs one connection lifetime: the receive loop in
// this goroutine plus a keep-alive goroutine when enabled. It returns
// only after every child goroutine of the lifetime has terminated.
func (m *Manager) serveConnection(ctx context.Context, tr transport.Transport, cfg *config.LinkConfig) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.KeepAlive.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.keepAliveLoop(connCtx, cfg)
		}()
	}

	m.receiveLoop(connCtx, tr, cfg)

	cancel()
	wg.Wait()
}

// receiveLoop reads from the transport until the link dies or the
// lifetime is cancelled. Serial bytes go through the frame assembler;
// TCP treats each read as one complete frame.
func (m *Manager) receiveLoop(ctx context.Context, tr transport.Transport, cfg *config.LinkConfig) {
	var assembler *framing.Assembler
	if cfg.Kind == config.KindSerial {
		assembler = framing.NewAssembler(m.logger)
		defer assembler.Reset()
	}

	for {
		if ctx.Err() != nil {
			return
		}

		data, err := tr.Read(ctx, cfg.Buffer.ReadSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("Transport read failed, dropping link", zap.Error(err))
			return
		}
		if len(data) == 0 {
			// Read timeout tick; lets the loop observe cancellation.
			continue
		}

		if assembler != nil {
			for _, frame := range assembler.Push(data) {
				m.deliverReceived(frame, cfg)
			}
		} else {
			m.deliverReceived(data, cfg)
		}
	}
}

// deliverReceived publishes one inbound frame as a Received envelope
func (m *Manager) deliverReceived(payload []byte, cfg *config.LinkConfig) {
	if cfg.Direction == config.DirectionOutput {
		m.logger.Debug("Dropping inbound data on output-only link",
			zap.Int("bytes", len(payload)),
		)
		return
	}

	envelope := model.NewEnvelope(payload, model.DirectionReceived)
	m.logger.Debug("Message received",
		zap.String("message_id", envelope.ID.String()),
		zap.Int("bytes", len(payload)),
	)
	m.sink.PublishMessage(envelope)
}

// keepAliveLoop sends the sentinel payload on every interval while the
// connection lifetime lasts. A failed keep-alive is logged only; the
// receive loop is what detects a dead link.
func (m *Manager) keepAliveLoop(ctx context.Context, cfg *config.LinkConfig) {
	payload, err := utils.HexToBytes(cfg.KeepAlive.Payload)
	if err != nil {
		m.logger.Error("Invalid keep-alive payload, keep-alive disabled", zap.Error(err))
		return
	}

	ticker := time.NewTicker(cfg.KeepAlive.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Send(payload); err != nil {
				m.logger.Warn("Keep-alive send failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) setState(state model.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}
