// Package collector maintains the connection to the meter's P1 data port and
// applies every decoded reading to the metrics store.
package collector

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/dsmr-tools/p1exporter/internal/dsmr"
	"github.com/dsmr-tools/p1exporter/internal/metrics"
)

// Config holds the connection parameters of the collect loop.
type Config struct {
	// MeterAddress is the TCP address of the P1 reader.
	MeterAddress string

	// DialTimeout bounds a connection attempt.
	DialTimeout time.Duration

	// ReadTimeout bounds every single read, so a stalled feed surfaces as
	// a timeout instead of hanging forever.
	ReadTimeout time.Duration

	// RetryDelay is the fixed wait between reconnection attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with the standard timeouts.
func DefaultConfig() Config {
	return Config{
		DialTimeout: 5 * time.Second,
		ReadTimeout: 2 * time.Second,
		RetryDelay:  5 * time.Second,
	}
}

// Stats counts collect-loop events for self-observability.
type Stats struct {
	Connects      prometheus.Counter
	ConnectErrors prometheus.Counter
	Telegrams     prometheus.Counter
	DecodeErrors  prometheus.Counter
}

func NewStats(reg prometheus.Registerer) *Stats {
	factory := promauto.With(reg)
	return &Stats{
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "p1_connects_total",
			Help: "Successful connections to the P1 reader.",
		}),
		ConnectErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "p1_connection_errors_total",
			Help: "Failed connection attempts to the P1 reader.",
		}),
		Telegrams: factory.NewCounter(prometheus.CounterOpts{
			Name: "p1_telegrams_total",
			Help: "Telegrams decoded and applied.",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "p1_decode_errors_total",
			Help: "Telegrams rejected for framing or checksum violations.",
		}),
	}
}

// Collector owns one meter connection at a time and is the sole writer to
// the store.
type Collector struct {
	cfg    Config
	store  *metrics.Store
	stats  *Stats
	logger *logrus.Logger
}

func New(cfg Config, store *metrics.Store, stats *Stats, logger *logrus.Logger) *Collector {
	defaults := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}

	return &Collector{
		cfg:    cfg,
		store:  store,
		stats:  stats,
		logger: logger,
	}
}

// Run connects, streams and reconnects until ctx is canceled. Every failure
// is logged and retried after the fixed delay; no failure terminates the
// loop. The store keeps its last applied values across connection gaps.
func (c *Collector) Run(ctx context.Context) {
	for {
		conn, err := net.DialTimeout("tcp", c.cfg.MeterAddress, c.cfg.DialTimeout)
		if err != nil {
			c.stats.ConnectErrors.Inc()
			c.logger.WithError(err).WithField("address", c.cfg.MeterAddress).
				Error("Failed to connect to P1 reader")
		} else {
			c.stats.Connects.Inc()
			c.logger.WithField("address", c.cfg.MeterAddress).
				Info("Connected to P1 reader")

			err = c.collect(conn)
			conn.Close()
			c.logger.WithError(err).Error("Failed to collect metrics")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

// collect drains one connection. It only returns on error: a decode failure
// means stream alignment cannot be trusted, so the connection is discarded
// rather than resynchronized in place.
func (c *Collector) collect(conn net.Conn) error {
	reader := dsmr.NewReader(&deadlineReader{conn: conn, timeout: c.cfg.ReadTimeout})

	for {
		reading, err := reader.Next()
		if err != nil {
			var decodeErr *dsmr.DecodeError
			if errors.As(err, &decodeErr) {
				c.stats.DecodeErrors.Inc()
			}
			return err
		}

		c.stats.Telegrams.Inc()
		c.apply(reading)
	}
}

// apply maps every populated field of a reading onto the store. Absent
// fields leave their slots untouched.
func (c *Collector) apply(reading *dsmr.Reading) {
	if reading.PowerDelivered != nil {
		c.store.SetPowerConsumed(*reading.PowerDelivered)
	}
	if reading.PowerReceived != nil {
		c.store.SetPowerProduced(*reading.PowerReceived)
	}

	for tariff, kwh := range reading.EnergyDelivered {
		c.store.SetEnergyConsumed(tariff, kwh)
	}
	for tariff, kwh := range reading.EnergyReturned {
		c.store.SetEnergyProduced(tariff, kwh)
	}

	if reading.ActiveTariff != nil {
		c.store.SetActiveTariff(*reading.ActiveTariff)
	}

	for _, device := range reading.SubDevices {
		if device.DeviceType != nil && *device.DeviceType == dsmr.DeviceTypeGas && device.Reading != nil {
			c.store.SetGasConsumed(device.Reading.Value)
		}
	}
}

// deadlineReader arms the read deadline before every read so a silent feed
// fails with a timeout.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}
