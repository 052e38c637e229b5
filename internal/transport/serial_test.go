package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"instrument-link/internal/config"
)

func serialTestConfig(port string) *config.LinkConfig {
	return &config.LinkConfig{
		Kind: config.KindSerial,
		Serial: config.SerialConfig{
			Port:     port,
			BaudRate: 9600,
			DataBits: 8,
			StopBits: 1,
			Parity:   "none",
		},
		Timeouts: config.TimeoutConfig{Receive: 50 * time.Millisecond},
		Buffer:   config.BufferConfig{ReadSize: 4096, WriteSize: 4096},
	}
}

func TestStopBitsMapping(t *testing.T) {
	cases := []struct {
		in   int
		want serial.StopBits
	}{
		{1, serial.OneStopBit},
		{2, serial.TwoStopBits},
		{15, serial.OnePointFiveStopBits},
		{0, serial.OneStopBit},
	}
	for _, tc := range cases {
		if got := stopBits(tc.in); got != tc.want {
			t.Fatalf("stopBits(%d) = %v, expected %v", tc.in, got, tc.want)
		}
	}
}

func TestParityMapping(t *testing.T) {
	cases := []struct {
		in   string
		want serial.Parity
	}{
		{"none", serial.NoParity},
		{"odd", serial.OddParity},
		{"even", serial.EvenParity},
		{"", serial.NoParity},
	}
	for _, tc := range cases {
		if got := parity(tc.in); got != tc.want {
			t.Fatalf("parity(%q) = %v, expected %v", tc.in, got, tc.want)
		}
	}
}

func TestSerialOperationsWhileClosed(t *testing.T) {
	st := NewSerialTransport(serialTestConfig("/dev/ttyUSB0"), zap.NewNop())

	if st.IsOpen() {
		t.Fatal("new transport reports open")
	}
	if err := st.Write(context.Background(), []byte{0x01}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen on write, got %v", err)
	}
	if _, err := st.Read(context.Background(), 16); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen on read, got %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close of unopened transport must be a no-op: %v", err)
	}
}

func TestSerialOpenUnknownPort(t *testing.T) {
	st := NewSerialTransport(serialTestConfig("/dev/ttyNOSUCH99"), zap.NewNop())

	err := st.Open(context.Background())
	if err == nil {
		st.Close()
		t.Fatal("expected error for unknown port")
	}
	// Port enumeration itself can fail on exotic hosts; when it works,
	// the unknown name must surface as ErrPortUnavailable.
	if _, enumErr := serial.GetPortsList(); enumErr == nil {
		if !errors.Is(err, ErrPortUnavailable) {
			t.Fatalf("expected ErrPortUnavailable, got %v", err)
		}
	}
}

func TestFactorySelectsTransport(t *testing.T) {
	logger := zap.NewNop()

	tcpClient := tcpTestConfig("localhost", 4001, config.ModeClient)
	tr, err := New(tcpClient, logger)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if _, ok := tr.(*TCPClient); !ok {
		t.Fatalf("expected *TCPClient, got %T", tr)
	}

	tcpServer := tcpTestConfig("0.0.0.0", 4001, config.ModeServer)
	tr, err = New(tcpServer, logger)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if _, ok := tr.(*TCPServer); !ok {
		t.Fatalf("expected *TCPServer, got %T", tr)
	}

	tr, err = New(serialTestConfig("/dev/ttyUSB0"), logger)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if _, ok := tr.(*SerialTransport); !ok {
		t.Fatalf("expected *SerialTransport, got %T", tr)
	}

	if _, err := New(&config.LinkConfig{Kind: "usb"}, logger); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
