package utils

import (
	"strings"
	"time"
)

// DeviceType classifies a detection against the known surveillance vendors.
// Wire strings that match nothing map to DeviceUnknown, never to an error.
type DeviceType string

const (
	DeviceFlock    DeviceType = "flock"
	DeviceAxon     DeviceType = "axon"
	DeviceMotorola DeviceType = "motorola"
	DeviceGenetec  DeviceType = "genetec"
	DeviceVerkada  DeviceType = "verkada"
	DeviceRing     DeviceType = "ring"
	DeviceUnknown  DeviceType = "unknown"
)

// deviceTypeKeywords maps a lowercase substring of the hardware-reported type
// string to its vendor tag. First match wins, checked in this order.
var deviceTypeKeywords = []struct {
	keyword string
	tag     DeviceType
}{
	{"flock", DeviceFlock},
	{"axon", DeviceAxon},
	{"vigilant", DeviceMotorola},
	{"motorola", DeviceMotorola},
	{"genetec", DeviceGenetec},
	{"verkada", DeviceVerkada},
	{"ring", DeviceRing},
}

// DeviceTypeFromWire resolves a hardware-reported type string to a vendor tag.
func DeviceTypeFromWire(s string) DeviceType {
	lower := strings.ToLower(s)
	for _, entry := range deviceTypeKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.tag
		}
	}
	return DeviceUnknown
}

// LocationSnapshot is a point-in-time reading from the location collaborator.
type LocationSnapshot struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Accuracy  float64 `json:"accuracy"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
}

// Detection is a finished detection record: the decoded hardware payload plus
// the location snapshot and wall-clock timestamp attached during assembly.
// Immutable after creation; storage assigns the permanent row ID on insert.
type Detection struct {
	ID          int64            `json:"id,omitempty"`
	RecordID    string           `json:"record_id"`
	DeviceType  DeviceType       `json:"device_type"`
	MAC         string           `json:"mac,omitempty"`
	SSID        string           `json:"ssid,omitempty"`
	RSSI        int              `json:"rssi"`
	Confidence  float64          `json:"confidence"`
	HWTimestamp int64            `json:"hw_timestamp,omitempty"`
	Location    LocationSnapshot `json:"location"`
	DetectedAt  time.Time        `json:"detected_at"`
}

// WebSocket
type WebSocketEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ConnectionStatePayload struct {
	State     string `json:"state"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type PeripheralPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RSSI       int    `json:"rssi"`
	HasService bool   `json:"has_service"`
	LastSeen   int64  `json:"last_seen"`
}

type SyncStatusPayload struct {
	Pending      bool  `json:"pending"`
	LastSyncedAt int64 `json:"last_synced_at,omitempty"`
}

type DebugStreamPayload struct {
	Event string `json:"event"`
	Raw   string `json:"raw"`
	Bytes int    `json:"bytes"`
}
