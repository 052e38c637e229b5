package service

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"instrument-link/internal/config"
	"instrument-link/internal/event"
	"instrument-link/internal/link"
	"instrument-link/internal/model"
)

type upperDecoder struct{}

func (upperDecoder) Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return string(data), nil
}

func serviceFixture(t *testing.T, decoder model.PayloadDecoder) (*LinkService, *event.Sink) {
	t.Helper()

	cfg := &config.LinkConfig{
		Kind:      config.KindTCP,
		Direction: config.DirectionBidirectional,
		TCP:       config.TCPConfig{Mode: config.ModeClient, Host: "localhost", Port: 4001},
		Reconnect: config.ReconnectConfig{Interval: time.Second, MaxAttempts: -1},
		Buffer:    config.BufferConfig{ReadSize: 4096, WriteSize: 4096},
	}

	sink := event.NewSink(zap.NewNop())
	manager := link.NewManager(cfg, sink, zap.NewNop())
	return NewLinkService(manager, sink, decoder, zap.NewNop()), sink
}

func TestRecentNewestFirst(t *testing.T) {
	ls, sink := serviceFixture(t, nil)

	first := model.NewEnvelope([]byte{0x01}, model.DirectionReceived)
	second := model.NewEnvelope([]byte{0x02}, model.DirectionReceived)
	third := model.NewEnvelope([]byte{0x03}, model.DirectionSent)
	sink.PublishMessage(first)
	sink.PublishMessage(second)
	sink.PublishMessage(third)

	recent := ls.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(recent))
	}
	if recent[0].ID != third.ID || recent[1].ID != second.ID {
		t.Fatal("envelopes not ordered newest first")
	}

	if got := len(ls.Recent(0)); got != 3 {
		t.Fatalf("expected full history of 3, got %d", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	ls, sink := serviceFixture(t, nil)

	for i := 0; i < historyLimit+10; i++ {
		sink.PublishMessage(model.NewEnvelope([]byte{byte(i)}, model.DirectionReceived))
	}

	if got := len(ls.Recent(0)); got != historyLimit {
		t.Fatalf("expected history capped at %d, got %d", historyLimit, got)
	}
}

func TestDecoderAppliedToInboundOnly(t *testing.T) {
	ls, sink := serviceFixture(t, upperDecoder{})

	inbound := model.NewEnvelope([]byte("RESULT"), model.DirectionReceived)
	outbound := model.NewEnvelope([]byte("QUERY"), model.DirectionSent)
	sink.PublishMessage(inbound)
	sink.PublishMessage(outbound)

	recent := ls.Recent(0)
	if recent[1].Decoded != "RESULT" {
		t.Fatalf("inbound envelope not decoded: %v", recent[1].Decoded)
	}
	if recent[0].Decoded != nil {
		t.Fatalf("outbound envelope must not be decoded: %v", recent[0].Decoded)
	}
}

func TestDecodeFailureKeepsEnvelope(t *testing.T) {
	ls, sink := serviceFixture(t, upperDecoder{})

	// The decoder rejects an empty body; the envelope is retained raw.
	sink.PublishMessage(model.NewEnvelope(nil, model.DirectionReceived))

	recent := ls.Recent(0)
	if len(recent) != 1 {
		t.Fatalf("expected envelope retained, got %d", len(recent))
	}
	if recent[0].Decoded != nil {
		t.Fatal("failed decode must leave Decoded empty")
	}
}

func TestSendHexRejectsMalformedPayload(t *testing.T) {
	ls, _ := serviceFixture(t, nil)

	if _, err := ls.SendHex("XYZ"); err == nil {
		t.Fatal("expected error for malformed hex")
	}
	if _, err := ls.SendHex(""); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := ls.SendHex("0102"); !errors.Is(err, link.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected on stopped link, got %v", err)
	}
}

func TestUpdateConfigValidates(t *testing.T) {
	ls, _ := serviceFixture(t, nil)

	bad := &config.LinkConfig{Kind: "usb"}
	if err := ls.UpdateConfig(bad); err == nil {
		t.Fatal("expected validation error")
	}

	good := ls.Config()
	if err := ls.UpdateConfig(good); err != nil {
		t.Fatalf("unexpected error for valid config: %v", err)
	}
}

func TestStatusTracksSink(t *testing.T) {
	ls, sink := serviceFixture(t, nil)

	status := ls.Status()
	if status.LastStatus != model.StatusDisconnected || status.Connected {
		t.Fatalf("unexpected initial status: %+v", status)
	}

	sink.PublishStatus(model.StatusConnected)
	if got := ls.Status().LastStatus; got != model.StatusConnected {
		t.Fatalf("status not tracked: %s", got)
	}
	if ls.Status().Endpoint != "localhost:4001" {
		t.Fatalf("unexpected endpoint: %s", ls.Status().Endpoint)
	}
}
