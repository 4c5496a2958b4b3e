package bluetooth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/VirtuallyScott/FlockFinderApp/config"
	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

func newTestRouter(t *testing.T) (*Router, *Assembly, *SyncEngine) {
	t.Helper()
	hub := utils.NewWebSocketHub()
	store := config.NewStore(filepath.Join(t.TempDir(), "doc.json"), time.Millisecond)
	eng := NewSyncEngine(store, hub, &fakeCharWriter{})
	asm := NewAssembly(&memDetectionStore{}, fixedLocation{}, hub, nil, 0)
	return NewRouter(asm, eng, hub), asm, eng
}

func TestRouterDispatchesDetection(t *testing.T) {
	r, asm, _ := newTestRouter(t)

	r.HandleNotification(DetectionCharUUID, []byte(`{"type":"flock","rssi":-65,"confidence":0.9}`))

	recent := asm.Recent()
	if len(recent) != 1 {
		t.Fatalf("expected 1 assembled detection, got %d", len(recent))
	}
	if recent[0].DeviceType != utils.DeviceFlock {
		t.Errorf("unexpected device type %s", recent[0].DeviceType)
	}
}

func TestRouterDropsUndecodableDetection(t *testing.T) {
	r, asm, _ := newTestRouter(t)

	r.HandleNotification(DetectionCharUUID, []byte("][not json"))

	if len(asm.Recent()) != 0 {
		t.Error("undecodable payload must not produce a detection")
	}
}

func TestRouterDispatchesConfig(t *testing.T) {
	r, _, eng := newTestRouter(t)

	doc := config.Default()
	doc.Version = 6
	data, _ := doc.Encode()
	r.HandleNotification(ConfigCharUUID, data)

	if got := eng.Document(); got.Version != 6 {
		t.Errorf("config notification not routed, version=%d", got.Version)
	}
}

func TestRouterIgnoresUnknownCharacteristic(t *testing.T) {
	r, asm, eng := newTestRouter(t)
	before := eng.Document().Version

	r.HandleNotification("0000dead-0000-1000-8000-00805f9b34fb", []byte(`{"type":"flock"}`))

	if len(asm.Recent()) != 0 || eng.Document().Version != before {
		t.Error("unknown characteristic traffic must be dropped")
	}
}

func TestRouterStreamPassthroughDoesNotPanic(t *testing.T) {
	r, _, _ := newTestRouter(t)
	r.HandleNotification(StreamCharUUID, []byte(`{"event":"wifi_scan","channel":6}`))
	r.HandleNotification(StreamCharUUID, []byte{0xde, 0xad, 0xbe, 0xef})
	r.HandleNotification(StreamCharUUID, nil)
}
