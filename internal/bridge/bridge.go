package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nullsumme/govee-ble-to-mqtt/internal/ble"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/govee"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/publish"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/registry"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/utils"
)

// Source is the radio collaborator boundary: ble.Listener in production, a
// scripted fake in tests. onAdv is called in arrival order.
type Source interface {
	Run(ctx context.Context, onAdv func(ble.Advertisement)) error
}

type Options struct {
	DiscoveryEnabled bool
	PrintRaw         bool

	// Now and RawOut are overridable for tests; zero values mean time.Now
	// and os.Stdout.
	Now    func() time.Time
	RawOut io.Writer
}

// Bridge is the scan loop: it feeds raw advertisements through
// classification and decoding, lets the registry decide what to publish,
// and drives the publisher. A single worker consumes the event stream so
// per-identity dedup and discovery ordering never race.
type Bridge struct {
	registry  *registry.Registry
	publisher *publish.Publisher
	opts      Options

	received      atomic.Uint64
	unrecognized  atomic.Uint64
	decodeErrors  atomic.Uint64
	suppressed    atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	dropped       atomic.Uint64
}

// Stats is a point-in-time snapshot of the diagnostic counters.
type Stats struct {
	Received      uint64
	Unrecognized  uint64
	DecodeErrors  uint64
	Suppressed    uint64
	Published     uint64
	PublishErrors uint64
	Dropped       uint64
}

const (
	eventBuffer = 64
	drainGrace  = 2 * time.Second
)

func New(reg *registry.Registry, pub *publish.Publisher, opts Options) *Bridge {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RawOut == nil {
		opts.RawOut = os.Stdout
	}
	return &Bridge{
		registry:  reg,
		publisher: pub,
		opts:      opts,
	}
}

// Run consumes advertisements from src until the context is canceled
// (returns nil) or the radio fails (returns the error, which is fatal so an
// outer supervisor can restart the scan session). Queued events are drained
// within a bounded grace period on shutdown.
func (b *Bridge) Run(ctx context.Context, src Source) error {
	events := make(chan ble.Advertisement, eventBuffer)
	srcErr := make(chan error, 1)

	go func() {
		srcErr <- src.Run(ctx, func(adv ble.Advertisement) {
			select {
			case events <- adv:
			default:
				// Never block the radio callback on a slow transport.
				b.dropped.Add(1)
			}
		})
	}()

	for {
		select {
		case adv := <-events:
			b.HandleAdvertisement(adv)
		case err := <-srcErr:
			b.drain(events)
			b.logSummary()
			return err
		}
	}
}

// HandleAdvertisement processes one advertisement to completion: classify,
// decode, registry upsert, then discovery and data publishes. Unrecognized
// or malformed frames are dropped with a counter increment, never an error.
func (b *Bridge) HandleAdvertisement(adv ble.Advertisement) {
	b.received.Add(1)

	frame, ok := govee.Classify(adv.ManufacturerData)
	if !ok {
		b.unrecognized.Add(1)
		return
	}

	reading, err := govee.Decode(frame)
	if err != nil {
		b.decodeErrors.Add(1)
		slog.Debug("govee: decode failed",
			"addr", adv.Address,
			"company", utils.Hex4(frame.CompanyID),
			"data", utils.BytesToHex(frame.Payload),
			"error", err,
		)
		return
	}
	reading.RSSI = adv.RSSI

	id := registry.Identity{
		Address: strings.ToUpper(adv.Address),
		Model:   govee.ModelFor(adv.LocalName, frame),
	}

	now := b.opts.Now()
	res := b.registry.Upsert(id, reading, now)

	if res.FirstSeen {
		slog.Info("govee: device found",
			"addr", id.Address,
			"model", id.Model,
			"name", adv.LocalName,
		)
	}

	if !res.ShouldPublish {
		b.suppressed.Add(1)
		return
	}

	if b.opts.PrintRaw {
		b.printRaw(id, reading, now)
	}

	// Discovery strictly precedes the first data message for an identity.
	// The flag is only marked on success, so a failed announcement is
	// retried with the next accepted reading.
	if b.opts.DiscoveryEnabled && res.NeedsDiscovery {
		if err := b.publisher.PublishDiscovery(id); err != nil {
			b.publishErrors.Add(1)
			slog.Warn("govee: discovery publish failed", "addr", id.Address, "error", err)
			return
		}
		b.registry.MarkDiscoveryAnnounced(id)
	}

	if err := b.publisher.PublishData(id, reading, now); err != nil {
		b.publishErrors.Add(1)
		slog.Warn("govee: data publish failed", "addr", id.Address, "error", err)
		return
	}
	b.published.Add(1)
}

// Stats returns a snapshot of the diagnostic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:      b.received.Load(),
		Unrecognized:  b.unrecognized.Load(),
		DecodeErrors:  b.decodeErrors.Load(),
		Suppressed:    b.suppressed.Load(),
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
		Dropped:       b.dropped.Load(),
	}
}

func (b *Bridge) printRaw(id registry.Identity, r govee.Reading, at time.Time) {
	data, err := json.Marshal(publish.NewDataPayload(id, r, at))
	if err != nil {
		return
	}
	fmt.Fprintln(b.opts.RawOut, string(data))
}

// drain processes events already queued when the source stopped, bounded by
// the shutdown grace period.
func (b *Bridge) drain(events chan ble.Advertisement) {
	deadline := time.Now().Add(drainGrace)
	for time.Now().Before(deadline) {
		select {
		case adv := <-events:
			b.HandleAdvertisement(adv)
		default:
			return
		}
	}
}

func (b *Bridge) logSummary() {
	s := b.Stats()
	slog.Info("scan session finished",
		"devices", b.registry.Len(),
		"received", s.Received,
		"unrecognized", s.Unrecognized,
		"decode_errors", s.DecodeErrors,
		"suppressed", s.Suppressed,
		"published", s.Published,
		"publish_errors", s.PublishErrors,
		"dropped", s.Dropped,
	)
}
