package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nullsumme/govee-ble-to-mqtt/internal/ble"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/publish"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/registry"
)

type publishCall struct {
	topic  string
	retain bool
}

type fakeTransport struct {
	calls []publishCall
	failN int
}

var errTransport = errors.New("broker unreachable")

func (f *fakeTransport) Publish(topic string, _ []byte, retain bool) error {
	if f.failN > 0 {
		f.failN--
		return errTransport
	}
	f.calls = append(f.calls, publishCall{topic, retain})
	return nil
}

// fakeSource replays scripted advertisements and returns err.
type fakeSource struct {
	advs []ble.Advertisement
	err  error
}

func (s *fakeSource) Run(_ context.Context, onAdv func(ble.Advertisement)) error {
	for _, a := range s.advs {
		onAdv(a)
	}
	return s.err
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// packedAdv builds an H5075-style advertisement for the packed value v.
func packedAdv(addr string, v uint32, batt byte, rssi int16) ble.Advertisement {
	return ble.Advertisement{
		Address: addr,
		RSSI:    rssi,
		ManufacturerData: []ble.ManufacturerData{{
			CompanyID: 0xEC88,
			Data:      []byte{0x00, byte(v >> 16), byte(v >> 8), byte(v), batt, 0x00},
		}},
	}
}

func newTestBridge(t *testing.T, ft *fakeTransport, clock *fakeClock, discovery bool, rawOut io.Writer) *Bridge {
	t.Helper()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	pub := publish.New(ft, publish.Options{
		TopicPrefix:      "govee/sensor_data",
		DiscoveryPrefix:  "homeassistant",
		DiscoveryEnabled: discovery,
	}, slog.Default())

	reg := registry.New(59 * time.Second)

	return New(reg, pub, Options{
		DiscoveryEnabled: discovery,
		PrintRaw:         rawOut != nil,
		Now:              clock.now,
		RawOut:           rawOut,
	})
}

func TestBridge_DiscoveryPrecedesData(t *testing.T) {
	ft := &fakeTransport{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBridge(t, ft, clock, true, nil)

	b.HandleAdvertisement(packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61))

	if len(ft.calls) != 5 {
		t.Fatalf("got %d publishes, want 4 discovery + 1 data", len(ft.calls))
	}
	for i, call := range ft.calls[:4] {
		if !strings.HasSuffix(call.topic, "/config") {
			t.Errorf("call %d topic = %q, want a discovery config before data", i, call.topic)
		}
		if !call.retain {
			t.Errorf("call %d not retained", i)
		}
	}
	last := ft.calls[4]
	if last.topic != "govee/sensor_data/A4:C1:38:AA:BB:CC" {
		t.Errorf("data topic = %q", last.topic)
	}
	if last.retain {
		t.Error("data message retained, want not retained")
	}

	// Second accepted reading announces nothing further.
	clock.advance(time.Minute)
	b.HandleAdvertisement(packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61))

	if len(ft.calls) != 6 {
		t.Fatalf("got %d publishes, want exactly one more data message", len(ft.calls))
	}
	if strings.HasSuffix(ft.calls[5].topic, "/config") {
		t.Errorf("second reading published %q, want data only", ft.calls[5].topic)
	}
}

func TestBridge_DedupSuppression(t *testing.T) {
	ft := &fakeTransport{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBridge(t, ft, clock, false, nil)

	adv := packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61)

	b.HandleAdvertisement(adv)
	clock.advance(2 * time.Second)
	b.HandleAdvertisement(adv)

	if len(ft.calls) != 1 {
		t.Fatalf("got %d publishes, want 1 (rebroadcast suppressed)", len(ft.calls))
	}

	clock.advance(time.Minute)
	b.HandleAdvertisement(adv)

	if len(ft.calls) != 2 {
		t.Fatalf("got %d publishes, want 2 after interval elapsed", len(ft.calls))
	}

	s := b.Stats()
	if s.Suppressed != 1 || s.Published != 2 {
		t.Errorf("stats = %+v, want 1 suppressed, 2 published", s)
	}
}

func TestBridge_UnrecognizedDropped(t *testing.T) {
	ft := &fakeTransport{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBridge(t, ft, clock, true, nil)

	b.HandleAdvertisement(ble.Advertisement{Address: "11:22:33:44:55:66"})
	b.HandleAdvertisement(ble.Advertisement{
		Address:          "11:22:33:44:55:66",
		ManufacturerData: []ble.ManufacturerData{{CompanyID: 0x004C, Data: make([]byte, 6)}},
	})
	b.HandleAdvertisement(ble.Advertisement{
		Address:          "a4:c1:38:aa:bb:cc",
		ManufacturerData: []ble.ManufacturerData{{CompanyID: 0xEC88, Data: []byte{0x00}}},
	})

	if len(ft.calls) != 0 {
		t.Errorf("got %d publishes, want 0", len(ft.calls))
	}
	s := b.Stats()
	if s.Received != 3 || s.Unrecognized != 3 {
		t.Errorf("stats = %+v, want 3 received, 3 unrecognized", s)
	}
}

func TestBridge_DecodeErrorCounted(t *testing.T) {
	ft := &fakeTransport{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBridge(t, ft, clock, false, nil)

	// Valid H5075 signature, battery byte out of range.
	b.HandleAdvertisement(packedAdv("a4:c1:38:aa:bb:cc", 217502, 120, -61))

	if len(ft.calls) != 0 {
		t.Errorf("got %d publishes, want 0", len(ft.calls))
	}
	s := b.Stats()
	if s.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", s.DecodeErrors)
	}
}

func TestBridge_TransportErrorNonFatal(t *testing.T) {
	ft := &fakeTransport{failN: 1}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBridge(t, ft, clock, false, nil)

	b.HandleAdvertisement(packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61))
	clock.advance(time.Minute)
	b.HandleAdvertisement(packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61))

	if len(ft.calls) != 1 {
		t.Fatalf("got %d publishes, want 1 after transport recovered", len(ft.calls))
	}
	s := b.Stats()
	if s.PublishErrors != 1 || s.Published != 1 {
		t.Errorf("stats = %+v, want 1 publish error, 1 published", s)
	}
}

func TestBridge_DiscoveryRetriedAfterFailure(t *testing.T) {
	ft := &fakeTransport{failN: 1}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBridge(t, ft, clock, true, nil)

	// First reading: discovery fails on the first config, nothing published,
	// announced flag stays unset.
	b.HandleAdvertisement(packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61))
	if len(ft.calls) != 0 {
		t.Fatalf("got %d publishes, want 0 while discovery failing", len(ft.calls))
	}

	// Next accepted reading retries discovery, then data follows.
	clock.advance(time.Minute)
	b.HandleAdvertisement(packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61))

	if len(ft.calls) != 5 {
		t.Fatalf("got %d publishes, want 4 discovery + 1 data", len(ft.calls))
	}
	if !strings.HasSuffix(ft.calls[0].topic, "/config") {
		t.Errorf("first publish = %q, want discovery config", ft.calls[0].topic)
	}
	if strings.HasSuffix(ft.calls[4].topic, "/config") {
		t.Errorf("last publish = %q, want data message", ft.calls[4].topic)
	}
}

func TestBridge_RunProcessesQueuedEvents(t *testing.T) {
	ft := &fakeTransport{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBridge(t, ft, clock, false, nil)

	src := &fakeSource{advs: []ble.Advertisement{
		packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61),
		packedAdv("a4:c1:38:00:11:22", 195388, 80, -70),
	}}

	if err := b.Run(context.Background(), src); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ft.calls) != 2 {
		t.Fatalf("got %d publishes, want 2", len(ft.calls))
	}
	s := b.Stats()
	if s.Received != 2 || s.Published != 2 {
		t.Errorf("stats = %+v, want 2 received, 2 published", s)
	}
}

func TestBridge_RunReturnsRadioError(t *testing.T) {
	ft := &fakeTransport{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBridge(t, ft, clock, false, nil)

	radioErr := errors.New("hci0 went away")
	src := &fakeSource{err: radioErr}

	if err := b.Run(context.Background(), src); !errors.Is(err, radioErr) {
		t.Errorf("Run() error = %v, want radio error propagated", err)
	}
}

func TestBridge_PrintRaw(t *testing.T) {
	ft := &fakeTransport{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var out bytes.Buffer
	b := newTestBridge(t, ft, clock, false, &out)

	b.HandleAdvertisement(packedAdv("a4:c1:38:aa:bb:cc", 217502, 64, -61))

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("raw output empty, want one JSON line")
	}
	var payload publish.DataPayload
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("raw output is not JSON: %v", err)
	}
	if payload.Temperature != 21.7 || payload.Humidity != 50.2 {
		t.Errorf("raw payload = %+v, want decoded reading", payload)
	}
}
