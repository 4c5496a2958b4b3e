package bluetooth

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

// Defaults for fields the firmware omits. -127 marks signal strength as
// unmeasured; 0.5 is the neutral confidence midpoint.
const (
	DefaultRSSI       = -127
	DefaultConfidence = 0.5
)

// Decoded is a detection payload after parsing, before assembly attaches
// location and timestamps.
type Decoded struct {
	DeviceType  utils.DeviceType
	MAC         string
	SSID        string
	RSSI        int
	Confidence  float64
	HWTimestamp int64
}

// rawDetection mirrors the firmware's detection encoding. Pointers
// distinguish absent numeric fields from explicit zeros.
type rawDetection struct {
	Type       string   `json:"type"`
	MAC        string   `json:"mac"`
	SSID       string   `json:"ssid"`
	RSSI       *int     `json:"rssi"`
	Confidence *float64 `json:"confidence"`
	TS         int64    `json:"ts"`
}

// DecodeDetection parses a detection notification. Missing rssi and
// confidence get defaults, confidence is clamped to [0,1], and unrecognized
// type strings resolve to the unknown tag. Only payloads that are not valid
// text or not structured at all are rejected.
func DecodeDetection(data []byte) (Decoded, error) {
	if !utf8.Valid(data) {
		return Decoded{}, fmt.Errorf("detection payload is not valid UTF-8 (%d bytes)", len(data))
	}

	var raw rawDetection
	if err := json.Unmarshal(data, &raw); err != nil {
		return Decoded{}, fmt.Errorf("decode detection: %w", err)
	}

	dec := Decoded{
		DeviceType:  utils.DeviceTypeFromWire(raw.Type),
		MAC:         raw.MAC,
		SSID:        raw.SSID,
		RSSI:        DefaultRSSI,
		Confidence:  DefaultConfidence,
		HWTimestamp: raw.TS,
	}
	if raw.RSSI != nil {
		dec.RSSI = *raw.RSSI
	}
	if raw.Confidence != nil {
		dec.Confidence = clampConfidence(*raw.Confidence)
	}
	return dec, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
