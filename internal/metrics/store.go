// Package metrics holds the live aggregate of the most recent meter readings
// and exposes it as a prometheus.Collector.
package metrics

import (
	"math"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dsmr-tools/p1exporter/internal/dsmr"
)

var (
	powerConsumedDesc = prometheus.NewDesc(
		"p1_power_consumed_kilowatts",
		"Instantaneous power consumed in kW.",
		nil, nil,
	)
	powerProducedDesc = prometheus.NewDesc(
		"p1_power_produced_kilowatts",
		"Instantaneous power produced in kW.",
		nil, nil,
	)
	energyConsumedDesc = prometheus.NewDesc(
		"p1_energy_consumed_kilowatthours_total",
		"Cumulative energy delivered to the customer in kWh, per tariff register.",
		[]string{"tariff"}, nil,
	)
	energyProducedDesc = prometheus.NewDesc(
		"p1_energy_produced_kilowatthours_total",
		"Cumulative energy delivered by the customer in kWh, per tariff register.",
		[]string{"tariff"}, nil,
	)
	activeTariffDesc = prometheus.NewDesc(
		"p1_active_tariff",
		"Tariff register currently billing (1 = active).",
		[]string{"tariff"}, nil,
	)
	gasConsumedDesc = prometheus.NewDesc(
		"p1_gas_consumed_cubic_meters_total",
		"Cumulative natural gas consumed in m3.",
		nil, nil,
	)
)

// tariffs orders the registers; the position doubles as the slot index and as
// the encoding of Store.activeTariff (index+1, 0 meaning not yet observed).
var tariffs = [2]dsmr.Tariff{dsmr.TariffLow, dsmr.TariffHigh}

func tariffIndex(t dsmr.Tariff) int {
	if t == dsmr.TariffHigh {
		return 1
	}
	return 0
}

// slot is a single metric value: float64 bits in an atomic word, NaN while
// unobserved. Meters never report NaN, so the sentinel cannot collide with a
// real reading.
type slot struct {
	bits atomic.Uint64
}

func (s *slot) reset() {
	s.bits.Store(math.Float64bits(math.NaN()))
}

func (s *slot) set(v float64) {
	s.bits.Store(math.Float64bits(v))
}

func (s *slot) get() (float64, bool) {
	v := math.Float64frombits(s.bits.Load())
	return v, !math.IsNaN(v)
}

// Store is the shared aggregate of the latest known readings. It is written
// by the collector and read concurrently by scrape handlers; every field is
// an independent atomic slot, so the writer and readers never block each
// other. A scrape that races a multi-field update may combine values from two
// telegrams; per-field last-write-wins is the only guarantee.
//
// Counters hold the meter's absolute register values. A meter reset makes
// them non-monotonic; that is passed through, not corrected.
//
// All fields start unobserved and emit no series until first written. The
// Store lives for the process lifetime.
type Store struct {
	powerConsumed  slot
	powerProduced  slot
	energyConsumed [2]slot
	energyProduced [2]slot
	gasConsumed    slot

	// activeTariff holds 0 (unobserved) or tariff index+1. Keeping the
	// whole indicator set in one word makes exclusivity atomic: no reader
	// can see zero or two active registers.
	activeTariff atomic.Int32
}

func NewStore() *Store {
	s := &Store{}
	s.powerConsumed.reset()
	s.powerProduced.reset()
	s.gasConsumed.reset()
	for i := range s.energyConsumed {
		s.energyConsumed[i].reset()
		s.energyProduced[i].reset()
	}
	return s
}

// SetPowerConsumed overwrites the instantaneous consumed power gauge (kW).
func (s *Store) SetPowerConsumed(kw float64) {
	s.powerConsumed.set(kw)
}

// SetPowerProduced overwrites the instantaneous produced power gauge (kW).
func (s *Store) SetPowerProduced(kw float64) {
	s.powerProduced.set(kw)
}

// SetEnergyConsumed overwrites one tariff register of delivered energy (kWh).
func (s *Store) SetEnergyConsumed(t dsmr.Tariff, kwh float64) {
	s.energyConsumed[tariffIndex(t)].set(kwh)
}

// SetEnergyProduced overwrites one tariff register of returned energy (kWh).
func (s *Store) SetEnergyProduced(t dsmr.Tariff, kwh float64) {
	s.energyProduced[tariffIndex(t)].set(kwh)
}

// SetActiveTariff marks t as the billing register and every other register as
// inactive, in one atomic store.
func (s *Store) SetActiveTariff(t dsmr.Tariff) {
	s.activeTariff.Store(int32(tariffIndex(t)) + 1)
}

// SetGasConsumed overwrites the cumulative gas counter (m3).
func (s *Store) SetGasConsumed(m3 float64) {
	s.gasConsumed.set(m3)
}

func (s *Store) Describe(ch chan<- *prometheus.Desc) {
	ch <- powerConsumedDesc
	ch <- powerProducedDesc
	ch <- energyConsumedDesc
	ch <- energyProducedDesc
	ch <- activeTariffDesc
	ch <- gasConsumedDesc
}

// Collect snapshots the store. Fields are read independently; there is no
// cross-field isolation.
func (s *Store) Collect(ch chan<- prometheus.Metric) {
	if v, ok := s.powerConsumed.get(); ok {
		ch <- prometheus.MustNewConstMetric(powerConsumedDesc, prometheus.GaugeValue, v)
	}
	if v, ok := s.powerProduced.get(); ok {
		ch <- prometheus.MustNewConstMetric(powerProducedDesc, prometheus.GaugeValue, v)
	}

	for i, t := range tariffs {
		if v, ok := s.energyConsumed[i].get(); ok {
			ch <- prometheus.MustNewConstMetric(energyConsumedDesc, prometheus.CounterValue, v, string(t))
		}
		if v, ok := s.energyProduced[i].get(); ok {
			ch <- prometheus.MustNewConstMetric(energyProducedDesc, prometheus.CounterValue, v, string(t))
		}
	}

	if active := s.activeTariff.Load(); active != 0 {
		for i, t := range tariffs {
			var v float64
			if active == int32(i)+1 {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(activeTariffDesc, prometheus.GaugeValue, v, string(t))
		}
	}

	if v, ok := s.gasConsumed.get(); ok {
		ch <- prometheus.MustNewConstMetric(gasConsumedDesc, prometheus.CounterValue, v)
	}
}
