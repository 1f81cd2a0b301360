package govee

import (
	"strings"

	"github.com/nullsumme/govee-ble-to-mqtt/internal/ble"
)

// Variant selects the bit-packing scheme of a recognized payload.
type Variant int

const (
	// VariantPacked24 packs temperature and humidity into one big-endian
	// 24-bit integer (H5072/H5075 firmware).
	VariantPacked24 Variant = iota

	// VariantSplit16 carries temperature and humidity as separate
	// little-endian 16-bit fields (H5074/H5179 firmware).
	VariantSplit16
)

// Frame is a classified manufacturer block: which decoder applies and the
// fixed-length payload slice it consumes.
type Frame struct {
	Variant   Variant
	Payload   []byte
	CompanyID uint16
	model     Model
}

// Company identifiers as they appear after BLE little-endian company-ID
// parsing. On the wire the H5074/H5075 blocks start 88 EC and the H5179
// block starts 01 88.
const (
	companyGovee      = 0xEC88
	companyGoveeH5179 = 0x8801
)

type signature struct {
	companyID uint16
	blockLen  int
}

type layout struct {
	variant Variant
	start   int
	end     int
	model   Model
}

// signatures is the static vendor-ID + length table. Models that share an
// encoding share a variant; new variants are added here plus one decoder.
var signatures = map[signature]layout{
	{companyGovee, 6}:      {VariantPacked24, 0, 6, ModelH5075},
	{companyGovee, 7}:      {VariantSplit16, 1, 6, ModelH5074},
	{companyGoveeH5179, 9}: {VariantSplit16, 4, 9, ModelH5179},
}

// Classify inspects an advertisement's manufacturer blocks and reports
// whether any of them matches a known Govee signature. Truncated,
// zero-length, or foreign blocks are simply not recognized; Classify never
// fails.
func Classify(elements []ble.ManufacturerData) (Frame, bool) {
	for _, md := range elements {
		l, ok := signatures[signature{md.CompanyID, len(md.Data)}]
		if !ok {
			continue
		}
		return Frame{
			Variant:   l.variant,
			Payload:   md.Data[l.start:l.end],
			CompanyID: md.CompanyID,
			model:     l.model,
		}, true
	}
	return Frame{}, false
}

// ModelFor infers the device model from the advertised local name
// ("GVH5075_XXXX", "Govee_H5074_XXXX", ...), falling back to the model the
// frame signature implies.
func ModelFor(localName string, f Frame) Model {
	for _, m := range []Model{ModelH5072, ModelH5074, ModelH5075, ModelH5179} {
		if strings.Contains(localName, string(m)) {
			return m
		}
	}
	if f.model != "" {
		return f.model
	}
	return ModelUnknown
}
