// Package dsmr decodes DSMR P1 telegrams from a raw byte stream.
//
// A telegram is a CRLF-delimited frame starting with a "/" header line and
// ending with a "!" line that carries a CRC16 checksum over the preceding
// data. Reader turns an io.Reader of such frames into a sequence of Reading
// values, one per valid telegram.
package dsmr

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sigurn/crc16"
)

// maxTelegramSize bounds a single frame so a stream that never produces a
// terminator cannot grow the buffer without limit.
const maxTelegramSize = 16 * 1024

// timestampLayout is the DSMR YYMMDDhhmmss timestamp format. The trailing
// W/S DST marker is matched separately.
const timestampLayout = "060102150405"

// DecodeError reports a framing or checksum violation. After a DecodeError
// the stream alignment can no longer be trusted.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "dsmr: " + e.Reason
}

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// OBIS patterns, precompiled once. Value groups capture the numeric payload
// without the unit suffix.
var (
	timestampPattern       = regexp.MustCompile(`0-0:1\.0\.0\((\d{12})[WS]\)`)
	powerDeliveredPattern  = regexp.MustCompile(`1-0:1\.7\.0\((\d+\.\d+)\*kW\)`)
	powerReceivedPattern   = regexp.MustCompile(`1-0:2\.7\.0\((\d+\.\d+)\*kW\)`)
	energyDeliveredPattern = regexp.MustCompile(`1-0:1\.8\.([12])\((\d+\.\d+)\*kWh\)`)
	energyReturnedPattern  = regexp.MustCompile(`1-0:2\.8\.([12])\((\d+\.\d+)\*kWh\)`)
	activeTariffPattern    = regexp.MustCompile(`0-0:96\.14\.0\((\d{4})\)`)
	deviceTypePattern      = regexp.MustCompile(`0-([1-4]):24\.1\.0\((\d+)\)`)
	deviceReadingPattern   = regexp.MustCompile(`0-([1-4]):24\.2\.1\((\d{12})[WS]\)\((\d+\.\d+)\*[^)]*\)`)
)

// Reader decodes telegrams from a byte stream. It is restartable: on a fresh
// connection it skips input until the next "/" header line, so a stream
// joined mid-telegram resynchronizes on the following frame.
//
// Reader is not safe for concurrent use.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next blocks until one full telegram has been read and returns its decoded
// Reading. It returns a *DecodeError on a framing or checksum violation and
// passes I/O errors through unchanged. After any error the caller should
// discard the underlying stream.
func (r *Reader) Next() (*Reading, error) {
	telegram, err := r.readTelegram()
	if err != nil {
		return nil, err
	}
	if err := verifyChecksum(telegram); err != nil {
		return nil, err
	}
	return parseTelegram(telegram), nil
}

// readTelegram accumulates lines from the "/" header through the "!" trailer.
// Lines before the header are discarded.
func (r *Reader) readTelegram() (string, error) {
	var buffer strings.Builder
	var inTelegram bool

	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			return "", err
		}

		if strings.HasPrefix(line, "/") {
			buffer.Reset()
			buffer.WriteString(line)
			inTelegram = true
		} else if inTelegram {
			buffer.WriteString(line)
			if strings.HasPrefix(line, "!") {
				return buffer.String(), nil
			}
			if buffer.Len() > maxTelegramSize {
				return "", &DecodeError{Reason: fmt.Sprintf("telegram exceeds %d bytes without terminator", maxTelegramSize)}
			}
		}
	}
}

// verifyChecksum checks the CRC16/ARC of everything from the header through
// the "!" against the four hex digits following it.
func verifyChecksum(telegram string) error {
	idx := strings.LastIndexByte(telegram, '!')
	if idx < 0 || len(telegram) < idx+5 {
		return &DecodeError{Reason: "telegram has no checksum"}
	}

	data := telegram[:idx+1]
	given := telegram[idx+1 : idx+5]

	calculated := fmt.Sprintf("%04X", crc16.Checksum([]byte(data), crcTable))
	if !strings.EqualFold(given, calculated) {
		return &DecodeError{Reason: fmt.Sprintf("checksum mismatch: telegram carries %s, calculated %s", strings.ToUpper(given), calculated)}
	}
	return nil
}

func parseTelegram(telegram string) *Reading {
	reading := &Reading{}

	if match := timestampPattern.FindStringSubmatch(telegram); match != nil {
		if t, err := time.ParseInLocation(timestampLayout, match[1], time.Local); err == nil {
			reading.Time = &t
		}
	}

	if v, ok := matchFloat(powerDeliveredPattern, telegram); ok {
		reading.PowerDelivered = &v
	}
	if v, ok := matchFloat(powerReceivedPattern, telegram); ok {
		reading.PowerReceived = &v
	}

	reading.EnergyDelivered = matchTariffRegisters(energyDeliveredPattern, telegram)
	reading.EnergyReturned = matchTariffRegisters(energyReturnedPattern, telegram)

	if match := activeTariffPattern.FindStringSubmatch(telegram); match != nil {
		if t, ok := tariffFromCode(match[1]); ok {
			reading.ActiveTariff = &t
		}
	}

	reading.SubDevices = parseSubDevices(telegram)

	return reading
}

func matchFloat(pattern *regexp.Regexp, telegram string) (float64, bool) {
	match := pattern.FindStringSubmatch(telegram)
	if match == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// matchTariffRegisters collects the per-register values of an energy OBIS
// group. Register 1 maps to the low tariff, register 2 to the high tariff.
func matchTariffRegisters(pattern *regexp.Regexp, telegram string) map[Tariff]float64 {
	matches := pattern.FindAllStringSubmatch(telegram, -1)
	if matches == nil {
		return nil
	}

	values := make(map[Tariff]float64, len(matches))
	for _, match := range matches {
		v, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		switch match[1] {
		case "1":
			values[TariffLow] = v
		case "2":
			values[TariffHigh] = v
		}
	}
	return values
}

func tariffFromCode(code string) (Tariff, bool) {
	switch code {
	case "0001":
		return TariffLow, true
	case "0002":
		return TariffHigh, true
	default:
		return "", false
	}
}

// parseSubDevices merges the per-channel device type and reading lines into
// one SubDevice per M-Bus channel.
func parseSubDevices(telegram string) []SubDevice {
	byChannel := make(map[int]*SubDevice)

	device := func(channel int) *SubDevice {
		if d, ok := byChannel[channel]; ok {
			return d
		}
		d := &SubDevice{Channel: channel}
		byChannel[channel] = d
		return d
	}

	for _, match := range deviceTypePattern.FindAllStringSubmatch(telegram, -1) {
		channel, _ := strconv.Atoi(match[1])
		if deviceType, err := strconv.Atoi(match[2]); err == nil {
			device(channel).DeviceType = &deviceType
		}
	}

	for _, match := range deviceReadingPattern.FindAllStringSubmatch(telegram, -1) {
		channel, _ := strconv.Atoi(match[1])
		t, err := time.ParseInLocation(timestampLayout, match[2], time.Local)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(match[3], 64)
		if err != nil {
			continue
		}
		device(channel).Reading = &SubReading{Time: t, Value: v}
	}

	if len(byChannel) == 0 {
		return nil
	}

	devices := make([]SubDevice, 0, len(byChannel))
	for _, d := range byChannel {
		devices = append(devices, *d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Channel < devices[j].Channel })
	return devices
}
