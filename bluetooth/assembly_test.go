package bluetooth

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

type memDetectionStore struct {
	mu       sync.Mutex
	inserted []utils.Detection
	err      error
	nextID   int64
}

func (m *memDetectionStore) Insert(det utils.Detection) (utils.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return utils.Detection{}, m.err
	}
	m.nextID++
	det.ID = m.nextID
	m.inserted = append(m.inserted, det)
	return det, nil
}

func (m *memDetectionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted)
}

type fixedLocation struct {
	snap utils.LocationSnapshot
}

func (f fixedLocation) Current() utils.LocationSnapshot { return f.snap }

type recordingSink struct {
	mu      sync.Mutex
	name    string
	enabled bool
	err     error
	seen    []utils.Detection
}

func (s *recordingSink) Name() string  { return s.name }
func (s *recordingSink) Enabled() bool { return s.enabled }
func (s *recordingSink) Notify(det utils.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.seen = append(s.seen, det)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func TestAssemblyAttachesLocationAndID(t *testing.T) {
	store := &memDetectionStore{}
	loc := fixedLocation{snap: utils.LocationSnapshot{Latitude: 40.7, Longitude: -74.0, Accuracy: 5}}
	a := NewAssembly(store, loc, utils.NewWebSocketHub(), nil, 0)

	a.Deliver(Decoded{DeviceType: utils.DeviceFlock, MAC: "AA:BB", RSSI: -60, Confidence: 0.8})

	if store.count() != 1 {
		t.Fatalf("expected 1 stored detection, got %d", store.count())
	}
	det := store.inserted[0]
	if det.RecordID == "" {
		t.Error("record ID must be assigned")
	}
	if det.Location.Latitude != 40.7 || det.Location.Longitude != -74.0 {
		t.Errorf("location not attached: %+v", det.Location)
	}
	if det.DetectedAt.IsZero() {
		t.Error("detected_at must be stamped")
	}
}

func TestAssemblyConfidenceFloor(t *testing.T) {
	store := &memDetectionStore{}
	a := NewAssembly(store, fixedLocation{}, utils.NewWebSocketHub(), nil, 0.5)

	a.Deliver(Decoded{DeviceType: utils.DeviceRing, Confidence: 0.3})
	a.Deliver(Decoded{DeviceType: utils.DeviceRing, Confidence: 0.5})
	a.Deliver(Decoded{DeviceType: utils.DeviceRing, Confidence: 0.9})

	if store.count() != 2 {
		t.Errorf("expected 2 detections past the floor, got %d", store.count())
	}
	if len(a.Recent()) != 2 {
		t.Errorf("recent list should match stored count, got %d", len(a.Recent()))
	}
}

func TestAssemblyRecentListEviction(t *testing.T) {
	store := &memDetectionStore{}
	a := NewAssembly(store, fixedLocation{}, utils.NewWebSocketHub(), nil, 0)

	for i := 0; i < RecentDetectionLimit+5; i++ {
		a.Deliver(Decoded{
			DeviceType: utils.DeviceFlock,
			MAC:        fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i),
			Confidence: 0.9,
		})
	}

	recent := a.Recent()
	if len(recent) != RecentDetectionLimit {
		t.Fatalf("recent list should cap at %d, got %d", RecentDetectionLimit, len(recent))
	}
	// Oldest entries are evicted; the newest survives at the tail.
	if recent[len(recent)-1].MAC != fmt.Sprintf("AA:BB:CC:DD:EE:%02X", RecentDetectionLimit+4) {
		t.Errorf("newest detection missing from recent list: %s", recent[len(recent)-1].MAC)
	}
	if recent[0].MAC == "AA:BB:CC:DD:EE:00" {
		t.Error("oldest detection should have been evicted")
	}
}

func TestAssemblyStoreFailureDoesNotStopFanout(t *testing.T) {
	store := &memDetectionStore{err: errors.New("disk full")}
	sink := &recordingSink{name: "test", enabled: true}
	a := NewAssembly(store, fixedLocation{}, utils.NewWebSocketHub(), []utils.AlertSink{sink}, 0)

	a.Deliver(Decoded{DeviceType: utils.DeviceVerkada, Confidence: 0.9})

	if sink.count() != 1 {
		t.Error("alert sink should still fire when storage fails")
	}
	if len(a.Recent()) != 1 {
		t.Error("recent list should still grow when storage fails")
	}
}

func TestAssemblySinkIsolation(t *testing.T) {
	store := &memDetectionStore{}
	failing := &recordingSink{name: "broken", enabled: true, err: errors.New("no audio device")}
	disabled := &recordingSink{name: "muted", enabled: false}
	working := &recordingSink{name: "ok", enabled: true}
	a := NewAssembly(store, fixedLocation{}, utils.NewWebSocketHub(),
		[]utils.AlertSink{failing, disabled, working}, 0)

	a.Deliver(Decoded{DeviceType: utils.DeviceGenetec, Confidence: 0.7})

	if working.count() != 1 {
		t.Error("working sink should fire despite an earlier sink failing")
	}
	if disabled.count() != 0 {
		t.Error("disabled sink must not fire")
	}
}

func TestAssemblySetMinConfidence(t *testing.T) {
	store := &memDetectionStore{}
	a := NewAssembly(store, fixedLocation{}, utils.NewWebSocketHub(), nil, 0.9)

	a.Deliver(Decoded{Confidence: 0.5})
	if store.count() != 0 {
		t.Fatal("detection below floor should be dropped")
	}

	a.SetMinConfidence(0.4)
	a.Deliver(Decoded{Confidence: 0.5})
	if store.count() != 1 {
		t.Error("detection should pass after lowering the floor")
	}

	a.SetMinConfidence(7)
	if a.MinConfidence() != 1 {
		t.Errorf("floor should clamp to 1, got %f", a.MinConfidence())
	}
}
