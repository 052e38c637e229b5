// internal/transport/factory.go
package transport

import (
	"fmt"

	"go.uber.org/zap"

	"instrument-link/internal/config"
)

// New creates a transport for the given link configuration
func New(cfg *config.LinkConfig, logger *zap.Logger) (Transport, error) {
	switch cfg.Kind {
	case config.KindTCP:
		if cfg.TCP.Mode == config.ModeServer {
			return NewTCPServer(cfg, logger), nil
		}
		return NewTCPClient(cfg, logger), nil
	case config.KindSerial:
		return NewSerialTransport(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported link kind: %s", cfg.Kind)
	}
}
