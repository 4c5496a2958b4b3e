package bluetooth

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"unicode/utf8"

	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

// Router dispatches inbound notifications to the layer that owns each
// characteristic and logs traffic it cannot place.
type Router struct {
	assembly *Assembly
	sync     *SyncEngine
	hub      *utils.WebSocketHub
}

func NewRouter(assembly *Assembly, sync *SyncEngine, hub *utils.WebSocketHub) *Router {
	return &Router{assembly: assembly, sync: sync, hub: hub}
}

// HandleNotification routes one notification by its source characteristic.
func (r *Router) HandleNotification(charUUID string, data []byte) {
	switch charUUID {
	case DetectionCharUUID:
		dec, err := DecodeDetection(data)
		if err != nil {
			log.Printf("BLE: dropping detection payload: %v", err)
			r.hub.Broadcast(utils.WebSocketEvent{
				Type:    "detection/decode_error",
				Payload: map[string]string{"error": err.Error()},
			})
			return
		}
		r.assembly.Deliver(dec)

	case StreamCharUUID:
		r.handleDebugStream(data)

	case ConfigCharUUID:
		r.sync.HandleInbound(data)

	default:
		log.Printf("BLE: notification from unexpected characteristic %s (%d bytes): %s",
			charUUID, len(data), hex.EncodeToString(truncate(data, 32)))
	}
}

// handleDebugStream passes raw scan telemetry through to UI clients. The
// payload shape is firmware-defined and deliberately not parsed beyond
// pulling out an event tag for display.
func (r *Router) handleDebugStream(data []byte) {
	payload := utils.DebugStreamPayload{Bytes: len(data)}
	if utf8.Valid(data) {
		payload.Raw = string(data)
	} else {
		payload.Raw = hex.EncodeToString(data)
	}

	var tagged struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil {
		payload.Event = tagged.Event
	}

	r.hub.Broadcast(utils.WebSocketEvent{Type: "stream/event", Payload: payload})
}

func truncate(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[:n]
}
