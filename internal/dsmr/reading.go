package dsmr

import "time"

// Tariff identifies one of the two billing registers of a DSMR meter.
// Register 1 accumulates during low-tariff hours, register 2 during
// high-tariff hours.
type Tariff string

const (
	TariffLow  Tariff = "low"
	TariffHigh Tariff = "high"
)

// DeviceTypeGas is the M-Bus device type code for a gas meter.
const DeviceTypeGas = 3

// Reading holds the decoded content of a single telegram. Every field is
// optional: a nil pointer or a missing map key means the telegram did not
// carry that value, not that the value is zero.
type Reading struct {
	// Time is the telegram timestamp reported by the meter.
	Time *time.Time

	// PowerDelivered and PowerReceived are instantaneous power in kW.
	PowerDelivered *float64
	PowerReceived  *float64

	// EnergyDelivered and EnergyReturned hold the cumulative kWh registers
	// keyed by tariff.
	EnergyDelivered map[Tariff]float64
	EnergyReturned  map[Tariff]float64

	// ActiveTariff is the register currently billing.
	ActiveTariff *Tariff

	// SubDevices lists the M-Bus devices reporting through this meter,
	// ordered by channel.
	SubDevices []SubDevice
}

// SubDevice is an auxiliary meter on one of the M-Bus channels (1..4).
type SubDevice struct {
	Channel    int
	DeviceType *int
	Reading    *SubReading
}

// SubReading is a timestamped cumulative value reported by a sub-device.
// For a gas meter the value is m3.
type SubReading struct {
	Time  time.Time
	Value float64
}
