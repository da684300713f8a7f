package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dsmr-tools/p1exporter/internal/collector"
	"github.com/dsmr-tools/p1exporter/internal/config"
	"github.com/dsmr-tools/p1exporter/internal/exporter"
	"github.com/dsmr-tools/p1exporter/internal/metrics"
)

// Command p1exporter bridges a DSMR smart meter's P1 data port to an
// OpenMetrics scrape endpoint.
//
// The exporter keeps one TCP connection to the P1 reader open, applies every
// decoded telegram to an in-memory store and serves the current snapshot to
// anything that scrapes it. Connection and decode failures are retried
// forever; they never terminate the process.
//
// Usage:
//
//	p1exporter [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (optional)
//	-address string
//	      address to listen on (default "127.0.0.1:4545")
//	-p1-address string
//	      P1 reader address (required unless configured)
func main() {
	flags := parseFlags()

	appConfig, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override file and environment.
	if flags.ListenAddress != "" {
		appConfig.Server.Address = flags.ListenAddress
	}
	if flags.MeterAddress != "" {
		appConfig.Meter.Address = flags.MeterAddress
	}
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := newLogger(appConfig.Logging)

	registry := prometheus.NewRegistry()
	store := metrics.NewStore()
	registry.MustRegister(store)
	stats := collector.NewStats(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meterCollector := collector.New(collector.Config{
		MeterAddress: appConfig.Meter.Address,
		DialTimeout:  appConfig.Meter.DialTimeout,
		ReadTimeout:  appConfig.Meter.ReadTimeout,
		RetryDelay:   appConfig.Meter.RetryDelay,
	}, store, stats, logger)

	go meterCollector.Run(ctx)

	srv := exporter.New(registry, logger)

	logger.WithFields(logrus.Fields{
		"address":       appConfig.Server.Address,
		"meter_address": appConfig.Meter.Address,
	}).Info("Starting metrics server")

	handler := srv.Routes(appConfig.Server.RateLimit, appConfig.Server.RateLimitBurst)
	if err := http.ListenAndServe(appConfig.Server.Address, handler); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}

type Flags struct {
	ConfigPath    string
	ListenAddress string
	MeterAddress  string
}

func parseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "", "path to config file")
	flag.StringVar(&flags.ListenAddress, "address", "", "address to listen on")
	flag.StringVar(&flags.MeterAddress, "p1-address", "", "P1 reader address")

	flag.Parse()

	return flags
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}
