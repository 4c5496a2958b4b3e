package utils

import (
	"log"
	"sync"
)

// AlertSink receives a finished detection as a side effect (audio cue,
// haptic, desktop notification). Each sink carries its own enabled flag;
// a failing or disabled sink never blocks storage or the other sinks.
type AlertSink interface {
	Name() string
	Enabled() bool
	Notify(det Detection) error
}

// LogAlertSink writes an alert line for each passing detection. It doubles
// as the default sink on headless installs where no audio path exists.
type LogAlertSink struct {
	mu      sync.Mutex
	enabled bool
}

func NewLogAlertSink(enabled bool) *LogAlertSink {
	return &LogAlertSink{enabled: enabled}
}

func (s *LogAlertSink) Name() string { return "log" }

func (s *LogAlertSink) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *LogAlertSink) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *LogAlertSink) Notify(det Detection) error {
	log.Printf("ALERT: %s detected (rssi %d, confidence %.2f)", det.DeviceType, det.RSSI, det.Confidence)
	return nil
}

// HubAlertSink pushes an alert event to WebSocket clients so the UI can play
// its own sound or vibration. Distinct from the detection event itself: the
// UI shows every stored detection but only alerts when this sink is enabled.
type HubAlertSink struct {
	hub     *WebSocketHub
	mu      sync.Mutex
	enabled bool
}

func NewHubAlertSink(hub *WebSocketHub, enabled bool) *HubAlertSink {
	return &HubAlertSink{hub: hub, enabled: enabled}
}

func (s *HubAlertSink) Name() string { return "ui" }

func (s *HubAlertSink) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *HubAlertSink) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *HubAlertSink) Notify(det Detection) error {
	s.hub.Broadcast(WebSocketEvent{
		Type:    "detection/alert",
		Payload: det,
	})
	return nil
}
