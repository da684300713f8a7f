// Package p1exporter implements a DSMR P1 smart meter metrics exporter.
//
// # Architecture
//
// The exporter is structured into several key packages:
//   - dsmr: telegram framing, checksum validation and OBIS decoding
//   - metrics: the concurrency-safe store of the latest readings
//   - collector: the reconnecting ingest loop feeding the store
//   - exporter: the HTTP scrape endpoint and its middleware
//   - config: file, environment and default configuration
//
// Key Properties
//
//   - Resilience:
//     The collector retries the meter connection forever with a fixed
//     delay; connection and decode failures never terminate the process
//     and the store keeps its last values across gaps.
//
//   - Concurrency:
//     The store is written by one collector goroutine and read by any
//     number of scrape handlers; every field is an independent atomic
//     slot, so writer and readers never block each other.
//
//   - Exposition:
//     Scrapes are served in the OpenMetrics text format, version 1.0.0.
//     Counters carry the meter's absolute register values.
//
// Example Usage
//
//	p1exporter -p1-address 192.168.1.10:2000 -address 127.0.0.1:4545
//
// For more information about specific packages, see their respective
// documentation.
package p1exporter
