package bluetooth

import (
	"strings"
	"time"
)

// GATT contract with the scanner firmware. These UUIDs are fixed on the
// hardware side and must never change.
const (
	ServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"

	DetectionCharUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8" // notify: detection events
	CommandCharUUID   = "beb5483e-36e1-4688-b7f5-ea07361b26a9" // write: plain-text commands
	StreamCharUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26aa" // notify: debug stream
	ConfigCharUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26ab" // notify+write: config transfer
)

// Plain-text commands understood by the firmware command characteristic.
const (
	CmdGetConfig   = "GET_CONFIG"
	CmdSaveConfig  = "SAVE_CONFIG"
	CmdResetConfig = "RESET_CONFIG"
	CmdPing        = "PING"
	CmdStatus      = "STATUS"
)

// Chunked config transfer framing. The markers are literal payloads on the
// config characteristic; anything between a START and an END is document text.
const (
	ConfigStartMarker = "CONFIG_START"
	ConfigEndMarker   = "CONFIG_END"

	// ConfigChunkSize is the largest payload the firmware accepts per write.
	ConfigChunkSize = 480

	// ConfigChunkDelay paces outbound chunks so the firmware's single-buffer
	// receive path is never overrun.
	ConfigChunkDelay = 30 * time.Millisecond
)

const (
	ScanTimeout      = 60 * time.Second
	RSSIPollInterval = 2 * time.Second

	// RecentDetectionLimit bounds the in-memory recent list; older entries
	// live only in storage.
	RecentDetectionLimit = 10
)

// deviceNameFragments identify scanner hardware by advertised name when the
// service UUID is absent from the advertisement.
var deviceNameFragments = []string{"flockfinder", "flock", "feather", "esp32", "s3"}

// MatchesHardwareName reports whether an advertised device name looks like
// FlockFinder scanner hardware.
func MatchesHardwareName(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, fragment := range deviceNameFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
