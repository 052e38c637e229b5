// internal/service/link_service.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"instrument-link/internal/config"
	"instrument-link/internal/event"
	"instrument-link/internal/link"
	"instrument-link/internal/model"
	"instrument-link/internal/utils"
)

// historyLimit bounds the in-memory envelope ring
const historyLimit = 256

// LinkStatus is the consumer-facing snapshot of the link
type LinkStatus struct {
	State      model.ConnectionState `json:"state"`
	Connected  bool                  `json:"connected"`
	LastStatus string                `json:"last_status"`
	Kind       config.Kind           `json:"kind"`
	Endpoint   string                `json:"endpoint"`
}

// LinkService handles instrument link business logic: it fronts the
// connection manager, keeps a bounded history of envelopes and runs the
// optional payload decoder over inbound messages.
type LinkService struct {
	manager *link.Manager
	decoder model.PayloadDecoder
	logger  *utils.ServiceLogger

	mu         sync.RWMutex
	recent     []*model.MessageEnvelope
	lastStatus string
}

// NewLinkService creates a new link service instance and subscribes it
// to the event sink. The decoder may be nil; envelopes then carry the
// raw payload only.
func NewLinkService(
	manager *link.Manager,
	sink *event.Sink,
	decoder model.PayloadDecoder,
	logger *zap.Logger,
) *LinkService {
	ls := &LinkService{
		manager:    manager,
		decoder:    decoder,
		logger:     utils.NewServiceLogger(logger, "link-service"),
		lastStatus: model.StatusDisconnected,
	}

	sink.OnMessage(ls.handleMessage)
	sink.OnStatus(ls.handleStatus)

	return ls
}

// Start begins the connection lifecycle
func (ls *LinkService) Start(ctx context.Context) {
	ls.manager.Start(ctx)
}

// Stop tears the link down and waits for full termination
func (ls *LinkService) Stop() {
	ls.manager.Stop()
}

// SendHex decodes a hex payload and writes it through the link
func (ls *LinkService) SendHex(payloadHex string) (*model.MessageEnvelope, error) {
	payload, err := utils.HexToBytes(payloadHex)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if err := ls.manager.Send(payload); err != nil {
		return nil, err
	}

	// The sink already recorded the Sent envelope; return the newest one
	// so the caller gets the assigned ID.
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if n := len(ls.recent); n > 0 {
		return ls.recent[n-1], nil
	}
	return nil, nil
}

// UpdateConfig validates and applies a new link configuration; a
// running link restarts asynchronously
func (ls *LinkService) UpdateConfig(cfg *config.LinkConfig) error {
	if err := config.ValidateLink(cfg); err != nil {
		return fmt.Errorf("invalid link config: %w", err)
	}

	ls.manager.UpdateConfig(cfg)
	return nil
}

// Status returns a snapshot of the link state
func (ls *LinkService) Status() LinkStatus {
	cfg := ls.manager.Config()

	ls.mu.RLock()
	lastStatus := ls.lastStatus
	ls.mu.RUnlock()

	return LinkStatus{
		State:      ls.manager.State(),
		Connected:  ls.manager.IsConnected(),
		LastStatus: lastStatus,
		Kind:       cfg.Kind,
		Endpoint:   cfg.Endpoint(),
	}
}

// Config returns the active link configuration
func (ls *LinkService) Config() *config.LinkConfig {
	return ls.manager.Config()
}

// IsConnected reports whether the link is currently connected
func (ls *LinkService) IsConnected() bool {
	return ls.manager.IsConnected()
}

// Recent returns up to limit envelopes, newest first. A non-positive
// limit returns the full retained history.
func (ls *LinkService) Recent(limit int) []*model.MessageEnvelope {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	n := len(ls.recent)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*model.MessageEnvelope, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, ls.recent[i])
	}
	return out
}

// handleMessage records an envelope and decodes inbound payloads
func (ls *LinkService) handleMessage(envelope *model.MessageEnvelope) {
	if ls.decoder != nil && envelope.Direction == model.DirectionReceived {
		payload, err := envelope.Payload()
		if err == nil {
			decoded, err := ls.decoder.Decode(payload)
			if err != nil {
				ls.logger.Warn("Payload decode failed",
					zap.String("message_id", envelope.ID.String()),
					zap.Error(err),
				)
			} else {
				envelope.Decoded = decoded
			}
		}
	}

	ls.mu.Lock()
	ls.recent = append(ls.recent, envelope)
	if len(ls.recent) > historyLimit {
		// Drop the oldest entries without pinning the old backing array.
		trimmed := make([]*model.MessageEnvelope, historyLimit)
		copy(trimmed, ls.recent[len(ls.recent)-historyLimit:])
		ls.recent = trimmed
	}
	ls.mu.Unlock()
}

// handleStatus records the latest connection status text
func (ls *LinkService) handleStatus(status string) {
	ls.mu.Lock()
	ls.lastStatus = status
	ls.mu.Unlock()

	ls.logger.Info("Connection status changed", zap.String("status", status))
}
