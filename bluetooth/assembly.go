package bluetooth

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VirtuallyScott/FlockFinderApp/location"
	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

// DetectionStore is the durable sink for finished detections.
type DetectionStore interface {
	Insert(det utils.Detection) (utils.Detection, error)
}

// Assembly turns decoded detection payloads into finished records: it stamps
// a record ID, attaches the current location fix and wall-clock time, applies
// the confidence floor, then fans out to storage, the recent list, WebSocket
// clients, and alert sinks. Fan-out is best effort; one failing leg never
// stops the others.
type Assembly struct {
	store DetectionStore
	loc   location.Provider
	hub   *utils.WebSocketHub
	sinks []utils.AlertSink

	mu            sync.Mutex
	minConfidence float64
	recent        []utils.Detection
}

func NewAssembly(store DetectionStore, loc location.Provider, hub *utils.WebSocketHub, sinks []utils.AlertSink, minConfidence float64) *Assembly {
	return &Assembly{
		store:         store,
		loc:           loc,
		hub:           hub,
		sinks:         sinks,
		minConfidence: minConfidence,
	}
}

// Deliver assembles and fans out one decoded detection. Detections below the
// confidence floor are dropped before any side effect.
func (a *Assembly) Deliver(dec Decoded) {
	a.mu.Lock()
	floor := a.minConfidence
	a.mu.Unlock()
	if dec.Confidence < floor {
		return
	}

	det := utils.Detection{
		RecordID:    uuid.NewString(),
		DeviceType:  dec.DeviceType,
		MAC:         dec.MAC,
		SSID:        dec.SSID,
		RSSI:        dec.RSSI,
		Confidence:  dec.Confidence,
		HWTimestamp: dec.HWTimestamp,
		Location:    a.loc.Current(),
		DetectedAt:  time.Now(),
	}

	stored, err := a.store.Insert(det)
	if err != nil {
		log.Printf("DETECT: store failed for %s: %v", det.RecordID, err)
	} else {
		det = stored
	}

	a.mu.Lock()
	a.recent = append(a.recent, det)
	if len(a.recent) > RecentDetectionLimit {
		a.recent = a.recent[len(a.recent)-RecentDetectionLimit:]
	}
	a.mu.Unlock()

	a.hub.Broadcast(utils.WebSocketEvent{Type: "detection/new", Payload: det})

	for _, sink := range a.sinks {
		if !sink.Enabled() {
			continue
		}
		if err := sink.Notify(det); err != nil {
			log.Printf("DETECT: alert sink %s failed: %v", sink.Name(), err)
		}
	}
}

// Recent returns a copy of the in-memory recent list, newest last.
func (a *Assembly) Recent() []utils.Detection {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]utils.Detection, len(a.recent))
	copy(out, a.recent)
	return out
}

// SetMinConfidence adjusts the confidence floor at runtime.
func (a *Assembly) SetMinConfidence(min float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if min < 0 {
		min = 0
	}
	if min > 1 {
		min = 1
	}
	a.minConfidence = min
}

// MinConfidence reports the current confidence floor.
func (a *Assembly) MinConfidence() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minConfidence
}
