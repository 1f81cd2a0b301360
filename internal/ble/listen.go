package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"
)

// ManufacturerData is one vendor-tagged block from an advertisement,
// keyed by the registered Bluetooth SIG company identifier.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// Advertisement is a single radio observation. The manufacturer data is
// copied out of the scan callback, so the value stays valid after the
// underlying buffer is reused.
type Advertisement struct {
	Address          string
	RSSI             int16
	LocalName        string
	ManufacturerData []ManufacturerData
	SeenAt           time.Time
}

type Options struct {
	Adapter string // "hci0" by default
}

// Listener wraps BlueZ scanning with context cancellation.
//
// Unlike a prefix-filtered listener, it forwards every advertisement it
// observes; Govee frames need a signature-table lookup to recognize, which
// lives downstream in the govee package.
type Listener struct {
	adapter *bluetooth.Adapter
	opts    Options
}

func NewListener(opts Options) *Listener {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}

	return &Listener{
		adapter: bluetooth.NewAdapter(opts.Adapter),
		opts:    opts,
	}
}

// Run enables the adapter and scans until ctx is canceled (returns nil) or
// the radio fails (returns the error). onAdv is invoked synchronously for
// every observed advertisement, in arrival order.
func (l *Listener) Run(ctx context.Context, onAdv func(Advertisement)) error {
	slog.Info("ble: enabling adapter", "adapter", l.opts.Adapter)
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", l.opts.Adapter, err)
	}

	go func() {
		<-ctx.Done()
		_ = l.adapter.StopScan()
	}()

	slog.Info("ble: scanning started", "adapter", l.opts.Adapter)

	// adapter.Scan blocks until StopScan() or error.
	err := l.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		adv := Advertisement{
			Address:   r.Address.String(),
			RSSI:      r.RSSI,
			LocalName: r.LocalName(),
			SeenAt:    time.Now(),
		}

		for _, md := range r.ManufacturerData() {
			adv.ManufacturerData = append(adv.ManufacturerData, ManufacturerData{
				CompanyID: md.CompanyID,
				Data:      append([]byte(nil), md.Data...),
			})
		}

		if onAdv != nil {
			onAdv(adv)
		}
	})

	// If ctx canceled, treat as clean shutdown.
	if ctx.Err() != nil {
		slog.Info("ble: scanning stopped (context canceled)")
		return nil
	}

	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}

	slog.Info("ble: scanning stopped")
	return nil
}
