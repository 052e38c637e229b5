// internal/config/config.go
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Kind identifies the physical channel used for the instrument link
type Kind string

const (
	KindTCP    Kind = "tcp"
	KindSerial Kind = "serial"
)

// Mode identifies the TCP sub-mode
type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
)

// Direction restricts which way application payloads may flow
type Direction string

const (
	DirectionInput         Direction = "input"
	DirectionOutput        Direction = "output"
	DirectionBidirectional Direction = "bidirectional"
)

// Config represents the application configuration
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Link    LinkConfig    `mapstructure:"link"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LinkConfig represents one instrument link. It is treated as an
// immutable value once handed to a running link; changes go through
// ConnectionManager.UpdateConfig which restarts the link.
type LinkConfig struct {
	Kind      Kind            `mapstructure:"kind"`
	Direction Direction       `mapstructure:"direction"`
	TCP       TCPConfig       `mapstructure:"tcp"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	KeepAlive KeepAliveConfig `mapstructure:"keep_alive"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
}

// TCPConfig represents TCP endpoint configuration
type TCPConfig struct {
	Mode Mode   `mapstructure:"mode"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SerialConfig represents serial endpoint configuration
type SerialConfig struct {
	Port      string `mapstructure:"port"`
	BaudRate  int    `mapstructure:"baud_rate"`
	DataBits  int    `mapstructure:"data_bits"`
	StopBits  int    `mapstructure:"stop_bits"`
	Parity    string `mapstructure:"parity"`
	Handshake string `mapstructure:"handshake"`
	DTR       bool   `mapstructure:"dtr"`
	RTS       bool   `mapstructure:"rts"`
	// Delimiter is appended to every outbound serial write when set.
	Delimiter string `mapstructure:"delimiter"`
}

// TimeoutConfig represents link timeouts
type TimeoutConfig struct {
	Connect time.Duration `mapstructure:"connect"`
	Receive time.Duration `mapstructure:"receive"`
	Send    time.Duration `mapstructure:"send"`
}

// ReconnectConfig represents the reconnect policy.
// MaxAttempts of -1 means unbounded retries.
type ReconnectConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// KeepAliveConfig represents the keep-alive policy. Payload is the
// sentinel sent on every interval, as a hex string.
type KeepAliveConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Payload  string        `mapstructure:"payload"`
}

// BufferConfig represents transport buffer sizes
type BufferConfig struct {
	ReadSize  int `mapstructure:"read_size"`
	WriteSize int `mapstructure:"write_size"`
}

// Loader loads configuration and notifies on file changes
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a configuration loader. When path is empty the
// loader searches the working directory and ./config for config.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variable support
	v.SetEnvPrefix("INSTRUMENT_LINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Loader{v: v, path: path}
}

// Load reads and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return l.unmarshal()
}

// Watch registers onChange for configuration file changes. Every change
// produces a freshly unmarshalled Config value; invalid edits are
// dropped so a running link never observes a half-written file.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// unmarshal decodes and validates the currently loaded settings
func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "instrument-link")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8086")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Link defaults
	v.SetDefault("link.kind", "tcp")
	v.SetDefault("link.direction", "bidirectional")
	v.SetDefault("link.tcp.mode", "client")
	v.SetDefault("link.tcp.host", "localhost")
	v.SetDefault("link.tcp.port", 4001)
	v.SetDefault("link.serial.baud_rate", 9600)
	v.SetDefault("link.serial.data_bits", 8)
	v.SetDefault("link.serial.stop_bits", 1)
	v.SetDefault("link.serial.parity", "none")
	v.SetDefault("link.serial.handshake", "none")
	v.SetDefault("link.serial.dtr", false)
	v.SetDefault("link.serial.rts", false)
	v.SetDefault("link.timeouts.connect", "10s")
	v.SetDefault("link.timeouts.receive", "1s")
	v.SetDefault("link.timeouts.send", "10s")
	v.SetDefault("link.reconnect.interval", "5s")
	v.SetDefault("link.reconnect.max_attempts", -1)
	v.SetDefault("link.keep_alive.enabled", false)
	v.SetDefault("link.keep_alive.interval", "30s")
	v.SetDefault("link.keep_alive.payload", "00")
	v.SetDefault("link.buffer.read_size", 4096)
	v.SetDefault("link.buffer.write_size", 4096)
}

// Validate validates the full configuration
func Validate(cfg *Config) error {
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, cfg.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, cfg.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	return ValidateLink(&cfg.Link)
}

// ValidateLink validates one link configuration
func ValidateLink(link *LinkConfig) error {
	switch link.Kind {
	case KindTCP:
		if link.TCP.Mode != ModeClient && link.TCP.Mode != ModeServer {
			return fmt.Errorf("link.tcp.mode must be client or server")
		}
		if link.TCP.Mode == ModeClient && link.TCP.Host == "" {
			return fmt.Errorf("link.tcp.host is required in client mode")
		}
		if link.TCP.Port < 1 || link.TCP.Port > 65535 {
			return fmt.Errorf("invalid tcp port: %d", link.TCP.Port)
		}
	case KindSerial:
		if link.Serial.Port == "" {
			return fmt.Errorf("link.serial.port is required")
		}
		validRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}
		if !containsInt(validRates, link.Serial.BaudRate) {
			return fmt.Errorf("invalid baud rate: %d", link.Serial.BaudRate)
		}
		validParity := []string{"none", "odd", "even"}
		if !contains(validParity, link.Serial.Parity) {
			return fmt.Errorf("link.serial.parity must be one of: %v", validParity)
		}
	default:
		return fmt.Errorf("link.kind must be tcp or serial")
	}

	switch link.Direction {
	case DirectionInput, DirectionOutput, DirectionBidirectional:
	default:
		return fmt.Errorf("link.direction must be input, output or bidirectional")
	}

	if link.Reconnect.MaxAttempts < -1 {
		return fmt.Errorf("link.reconnect.max_attempts must be >= -1")
	}
	if link.Reconnect.Interval <= 0 {
		return fmt.Errorf("link.reconnect.interval must be positive")
	}

	if link.KeepAlive.Enabled {
		if link.KeepAlive.Interval <= 0 {
			return fmt.Errorf("link.keep_alive.interval must be positive")
		}
		if _, err := hex.DecodeString(strings.ToLower(link.KeepAlive.Payload)); err != nil {
			return fmt.Errorf("link.keep_alive.payload must be a hex string: %w", err)
		}
	}

	if link.Buffer.ReadSize <= 0 {
		return fmt.Errorf("link.buffer.read_size must be positive")
	}

	return nil
}

// Endpoint returns a printable endpoint description for the link
func (l *LinkConfig) Endpoint() string {
	if l.Kind == KindSerial {
		return l.Serial.Port
	}
	return fmt.Sprintf("%s:%d", l.TCP.Host, l.TCP.Port)
}

// GetServerAddr returns the HTTP server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func containsInt(values []int, value int) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
