// Package config holds the hardware configuration document shared with the
// FlockFinder scanner, its canonical wire encoding, and local persistence.
package config

import (
	"encoding/json"
	"fmt"
)

// Stream verbosity modes understood by the firmware.
const (
	StreamModeAll         = 0 // stream every scan event
	StreamModeMatchesOnly = 1 // stream only pattern matches
)

// Interval bounds in milliseconds. Values outside these ranges would either
// starve scanning or spin the radio, so documents are clamped before use.
const (
	MinWiFiScanIntervalMs = 1000
	MaxWiFiScanIntervalMs = 60000
	MinBLEScanIntervalMs  = 1000
	MaxBLEScanIntervalMs  = 60000
	MinChannelHopMs       = 100
	MaxChannelHopMs       = 5000
)

// Pattern is one matching rule. The pattern string's interpretation depends
// on which list it lives in: SSID substring, MAC prefix, BLE name substring,
// or BLE service UUID.
type Pattern struct {
	Pattern    string `json:"pattern"`
	DeviceType string `json:"device_type"`
	Enabled    bool   `json:"enabled"`
}

// Document is the full, self-contained description of the scanner's
// behavior. Field keys are the canonical wire encoding and must round-trip
// byte-compatibly with the firmware.
type Document struct {
	Version              int       `json:"version"`
	WiFiEnabled          bool      `json:"wifi_enabled"`
	BLEEnabled           bool      `json:"ble_enabled"`
	StreamMode           int       `json:"stream_mode"`
	WiFiScanIntervalMs   int       `json:"wifi_scan_interval_ms"`
	BLEScanIntervalMs    int       `json:"ble_scan_interval_ms"`
	ChannelHopIntervalMs int       `json:"channel_hop_interval_ms"`
	SSIDPatterns         []Pattern `json:"ssid_patterns"`
	MACPrefixes          []Pattern `json:"mac_prefixes"`
	BLENamePatterns      []Pattern `json:"ble_name_patterns"`
	BLEUUIDs             []Pattern `json:"ble_uuids"`
}

// Default returns the hard-coded factory document.
func Default() *Document {
	return &Document{
		Version:              1,
		WiFiEnabled:          true,
		BLEEnabled:           true,
		StreamMode:           StreamModeMatchesOnly,
		WiFiScanIntervalMs:   5000,
		BLEScanIntervalMs:    5000,
		ChannelHopIntervalMs: 500,
		SSIDPatterns: []Pattern{
			{Pattern: "Flock", DeviceType: "flock", Enabled: true},
			{Pattern: "Penguin", DeviceType: "flock", Enabled: true},
		},
		MACPrefixes: []Pattern{
			{Pattern: "3C:71:BF", DeviceType: "flock", Enabled: true},
		},
		BLENamePatterns: []Pattern{
			{Pattern: "Flock", DeviceType: "flock", Enabled: true},
		},
		BLEUUIDs: []Pattern{},
	}
}

// Clamp forces the interval fields into their safe ranges in place.
// Inbound hardware data is trusted and clamped silently; user-supplied
// imports go through Validate first.
func (d *Document) Clamp() {
	d.WiFiScanIntervalMs = clampInt(d.WiFiScanIntervalMs, MinWiFiScanIntervalMs, MaxWiFiScanIntervalMs)
	d.BLEScanIntervalMs = clampInt(d.BLEScanIntervalMs, MinBLEScanIntervalMs, MaxBLEScanIntervalMs)
	d.ChannelHopIntervalMs = clampInt(d.ChannelHopIntervalMs, MinChannelHopMs, MaxChannelHopMs)
	if d.StreamMode != StreamModeAll && d.StreamMode != StreamModeMatchesOnly {
		d.StreamMode = StreamModeMatchesOnly
	}
	// Empty lists are legal; nil lists are normalized so the wire encoding
	// always carries the four arrays.
	if d.SSIDPatterns == nil {
		d.SSIDPatterns = []Pattern{}
	}
	if d.MACPrefixes == nil {
		d.MACPrefixes = []Pattern{}
	}
	if d.BLENamePatterns == nil {
		d.BLENamePatterns = []Pattern{}
	}
	if d.BLEUUIDs == nil {
		d.BLEUUIDs = []Pattern{}
	}
}

// Encode serializes the document to its canonical compact encoding.
func (d *Document) Encode() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode config document: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload into a clamped document. The input is
// rejected only when it is not a JSON document at all; out-of-range fields
// are clamped, not refused.
func Decode(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode config document: %w", err)
	}
	d.Clamp()
	return &d, nil
}

// Validate returns human-readable violations. Used only to gate
// user-initiated imports; inbound hardware documents skip this and are
// clamped silently.
func (d *Document) Validate() []string {
	var violations []string
	if d.Version < 1 {
		violations = append(violations, fmt.Sprintf("version must be >= 1, got %d", d.Version))
	}
	if d.StreamMode != StreamModeAll && d.StreamMode != StreamModeMatchesOnly {
		violations = append(violations, fmt.Sprintf("stream_mode must be 0 or 1, got %d", d.StreamMode))
	}
	if d.WiFiScanIntervalMs < MinWiFiScanIntervalMs || d.WiFiScanIntervalMs > MaxWiFiScanIntervalMs {
		violations = append(violations, fmt.Sprintf("wifi_scan_interval_ms must be %d-%d, got %d",
			MinWiFiScanIntervalMs, MaxWiFiScanIntervalMs, d.WiFiScanIntervalMs))
	}
	if d.BLEScanIntervalMs < MinBLEScanIntervalMs || d.BLEScanIntervalMs > MaxBLEScanIntervalMs {
		violations = append(violations, fmt.Sprintf("ble_scan_interval_ms must be %d-%d, got %d",
			MinBLEScanIntervalMs, MaxBLEScanIntervalMs, d.BLEScanIntervalMs))
	}
	if d.ChannelHopIntervalMs < MinChannelHopMs || d.ChannelHopIntervalMs > MaxChannelHopMs {
		violations = append(violations, fmt.Sprintf("channel_hop_interval_ms must be %d-%d, got %d",
			MinChannelHopMs, MaxChannelHopMs, d.ChannelHopIntervalMs))
	}
	for _, list := range []struct {
		name     string
		patterns []Pattern
	}{
		{"ssid_patterns", d.SSIDPatterns},
		{"mac_prefixes", d.MACPrefixes},
		{"ble_name_patterns", d.BLENamePatterns},
		{"ble_uuids", d.BLEUUIDs},
	} {
		for i, p := range list.patterns {
			if p.Pattern == "" {
				violations = append(violations, fmt.Sprintf("%s[%d]: empty pattern", list.name, i))
			}
		}
	}
	return violations
}

// Clone returns a deep copy, used to hand read-only snapshots to observers.
func (d *Document) Clone() *Document {
	out := *d
	out.SSIDPatterns = clonePatterns(d.SSIDPatterns)
	out.MACPrefixes = clonePatterns(d.MACPrefixes)
	out.BLENamePatterns = clonePatterns(d.BLENamePatterns)
	out.BLEUUIDs = clonePatterns(d.BLEUUIDs)
	return &out
}

func clonePatterns(in []Pattern) []Pattern {
	if in == nil {
		return nil
	}
	out := make([]Pattern, len(in))
	copy(out, in)
	return out
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
