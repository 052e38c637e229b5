// internal/model/state.go
package model

// ConnectionState represents the lifecycle state of the instrument link
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateClosing      ConnectionState = "closing"
)

// Status text vocabulary published through ConnectionStatusChanged
// events. Failure statuses are free-form and built from the prefix
// constants plus a cause.
const (
	StatusConnected     = "Connected"
	StatusDisconnected  = "Disconnected"
	StatusServerWaiting = "Server started, waiting for connections"

	StatusConnectionFailedPrefix = "Connection failed: "
	StatusServerErrorPrefix      = "Server error: "
)
