package govee

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBadLength is returned when a payload does not have the exact
	// length its decoder expects.
	ErrBadLength = errors.New("govee: payload has wrong length")

	// ErrOutOfRange is returned when decoded values fall outside the
	// documented sensor ranges. Values are rejected, never clamped.
	ErrOutOfRange = errors.New("govee: decoded value out of range")
)

// Documented sane ranges for the supported sensors.
const (
	minTempC = -40.0
	maxTempC = 85.0
)

const (
	packed24Len = 6
	split16Len  = 5
	signBit24   = 0x800000
)

// Decode dispatches a classified frame to its variant decoder. Decoders are
// pure: no I/O, no shared state.
func Decode(f Frame) (Reading, error) {
	switch f.Variant {
	case VariantPacked24:
		return DecodePacked24(f.Payload)
	case VariantSplit16:
		return DecodeSplit16(f.Payload)
	default:
		return Reading{}, fmt.Errorf("govee: unknown variant %d", f.Variant)
	}
}

// DecodePacked24 decodes the H5072/H5075 encoding: payload[1:4] is a
// big-endian 24-bit integer whose top bit is the temperature sign. The
// integer divide by 1000 strips the humidity remainder and yields tenths of
// a degree; the remainder is humidity in tenths of a percent. payload[4] is
// battery percent.
func DecodePacked24(b []byte) (Reading, error) {
	if len(b) != packed24Len {
		return Reading{}, fmt.Errorf("%w: got %d, want %d", ErrBadLength, len(b), packed24Len)
	}

	v := uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	negative := v&signBit24 != 0
	if negative {
		v &^= signBit24
	}

	tenths := int32(v / 1000)
	if negative {
		tenths = -tenths
	}

	r := Reading{
		TemperatureC: float64(tenths) / 10.0,
		HumidityPct:  float64(v%1000) / 10.0,
		BatteryPct:   int(b[4]),
	}
	if err := validate(r); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// DecodeSplit16 decodes the H5074/H5179 encoding: little-endian int16
// temperature in hundredths of a degree (two's complement carries the
// sign), little-endian uint16 humidity in hundredths of a percent, then one
// battery byte.
func DecodeSplit16(b []byte) (Reading, error) {
	if len(b) != split16Len {
		return Reading{}, fmt.Errorf("%w: got %d, want %d", ErrBadLength, len(b), split16Len)
	}

	rawTemp := int16(binary.LittleEndian.Uint16(b[0:2]))
	rawHum := binary.LittleEndian.Uint16(b[2:4])

	r := Reading{
		TemperatureC: float64(rawTemp) / 100.0,
		HumidityPct:  float64(rawHum) / 100.0,
		BatteryPct:   int(b[4]),
	}
	if err := validate(r); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func validate(r Reading) error {
	if r.TemperatureC < minTempC || r.TemperatureC > maxTempC {
		return fmt.Errorf("%w: temperature %.2f°C", ErrOutOfRange, r.TemperatureC)
	}
	if r.HumidityPct < 0 || r.HumidityPct > 100 {
		return fmt.Errorf("%w: humidity %.2f%%", ErrOutOfRange, r.HumidityPct)
	}
	if r.BatteryPct < 0 || r.BatteryPct > 100 {
		return fmt.Errorf("%w: battery %d%%", ErrOutOfRange, r.BatteryPct)
	}
	return nil
}
