// internal/event/sink.go
package event

import (
	"sync"

	"go.uber.org/zap"

	"instrument-link/internal/model"
)

// MessageHandler receives MessageReceived notifications
type MessageHandler func(envelope *model.MessageEnvelope)

// StatusHandler receives ConnectionStatusChanged notifications
type StatusHandler func(status string)

// Sink delivers message and status notifications to registered
// consumers in the order events are produced. Dispatch is synchronous
// with the producing goroutine: a slow handler delays that goroutine's
// subsequent work, which keeps per-lifetime ordering trivially intact
// for a single-instrument integration.
type Sink struct {
	mu              sync.RWMutex
	messageHandlers []MessageHandler
	statusHandlers  []StatusHandler
	logger          *zap.Logger
}

// NewSink creates a new event sink
func NewSink(logger *zap.Logger) *Sink {
	return &Sink{
		logger: logger.With(zap.String("component", "event-sink")),
	}
}

// OnMessage registers a handler for MessageReceived events
func (s *Sink) OnMessage(handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageHandlers = append(s.messageHandlers, handler)
}

// OnStatus registers a handler for ConnectionStatusChanged events
func (s *Sink) OnStatus(handler StatusHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusHandlers = append(s.statusHandlers, handler)
}

// PublishMessage delivers an envelope to all message handlers in
// registration order
func (s *Sink) PublishMessage(envelope *model.MessageEnvelope) {
	s.mu.RLock()
	handlers := s.messageHandlers
	s.mu.RUnlock()

	s.logger.Debug("Publishing message event",
		zap.String("message_id", envelope.ID.String()),
		zap.String("direction", string(envelope.Direction)),
		zap.Int("payload_len", len(envelope.PayloadHex)/2),
	)

	for _, handler := range handlers {
		handler(envelope)
	}
}

// PublishStatus delivers a status text to all status handlers in
// registration order
func (s *Sink) PublishStatus(status string) {
	s.mu.RLock()
	handlers := s.statusHandlers
	s.mu.RUnlock()

	s.logger.Debug("Publishing status event", zap.String("status", status))

	for _, handler := range handlers {
		handler(status)
	}
}
