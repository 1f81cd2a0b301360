package govee

// Model is the inferred Govee device model, derived from the advertised
// local name when present, otherwise from the frame signature.
type Model string

const (
	ModelH5072   Model = "H5072"
	ModelH5074   Model = "H5074"
	ModelH5075   Model = "H5075"
	ModelH5179   Model = "H5179"
	ModelUnknown Model = "unknown"
)

// Reading is one decoded measurement. Temperature is degrees Celsius,
// humidity is relative percent; both are fixed-point values carried as
// float64. RSSI is copied from the advertisement by the caller, it is not
// part of the manufacturer payload.
type Reading struct {
	TemperatureC float64
	HumidityPct  float64
	BatteryPct   int
	RSSI         int16
}
