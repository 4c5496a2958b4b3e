package bluetooth

import (
	"testing"

	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

func TestDecodeDetectionFullPayload(t *testing.T) {
	payload := []byte(`{"type":"flock_camera","mac":"AA:BB:CC:DD:EE:FF","ssid":"FlockNet","rssi":-62,"confidence":0.9,"ts":1700000000}`)

	dec, err := DecodeDetection(payload)
	if err != nil {
		t.Fatalf("DecodeDetection failed: %v", err)
	}
	if dec.DeviceType != utils.DeviceFlock {
		t.Errorf("expected device type flock, got %s", dec.DeviceType)
	}
	if dec.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("unexpected mac: %s", dec.MAC)
	}
	if dec.SSID != "FlockNet" {
		t.Errorf("unexpected ssid: %s", dec.SSID)
	}
	if dec.RSSI != -62 {
		t.Errorf("expected rssi -62, got %d", dec.RSSI)
	}
	if dec.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", dec.Confidence)
	}
	if dec.HWTimestamp != 1700000000 {
		t.Errorf("expected ts 1700000000, got %d", dec.HWTimestamp)
	}
}

func TestDecodeDetectionDefaults(t *testing.T) {
	dec, err := DecodeDetection([]byte(`{"type":"axon","mac":"11:22:33:44:55:66"}`))
	if err != nil {
		t.Fatalf("DecodeDetection failed: %v", err)
	}
	if dec.RSSI != DefaultRSSI {
		t.Errorf("expected default rssi %d, got %d", DefaultRSSI, dec.RSSI)
	}
	if dec.Confidence != DefaultConfidence {
		t.Errorf("expected default confidence %f, got %f", DefaultConfidence, dec.Confidence)
	}
	if dec.DeviceType != utils.DeviceAxon {
		t.Errorf("expected axon, got %s", dec.DeviceType)
	}
}

func TestDecodeDetectionExplicitZeroConfidence(t *testing.T) {
	dec, err := DecodeDetection([]byte(`{"type":"ring","confidence":0}`))
	if err != nil {
		t.Fatalf("DecodeDetection failed: %v", err)
	}
	if dec.Confidence != 0 {
		t.Errorf("explicit zero confidence must survive, got %f", dec.Confidence)
	}
}

func TestDecodeDetectionConfidenceClamped(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{`{"type":"flock","confidence":1.7}`, 1},
		{`{"type":"flock","confidence":-0.3}`, 0},
	}
	for _, tc := range cases {
		dec, err := DecodeDetection([]byte(tc.in))
		if err != nil {
			t.Fatalf("DecodeDetection(%s) failed: %v", tc.in, err)
		}
		if dec.Confidence != tc.want {
			t.Errorf("DecodeDetection(%s) confidence = %f, want %f", tc.in, dec.Confidence, tc.want)
		}
	}
}

func TestDecodeDetectionUnknownType(t *testing.T) {
	dec, err := DecodeDetection([]byte(`{"type":"mystery_vendor_3000","rssi":-80}`))
	if err != nil {
		t.Fatalf("DecodeDetection failed: %v", err)
	}
	if dec.DeviceType != utils.DeviceUnknown {
		t.Errorf("expected unknown, got %s", dec.DeviceType)
	}
}

func TestDecodeDetectionVigilantMapsToMotorola(t *testing.T) {
	dec, err := DecodeDetection([]byte(`{"type":"Vigilant ALPR"}`))
	if err != nil {
		t.Fatalf("DecodeDetection failed: %v", err)
	}
	if dec.DeviceType != utils.DeviceMotorola {
		t.Errorf("expected motorola, got %s", dec.DeviceType)
	}
}

func TestDecodeDetectionRejectsGarbage(t *testing.T) {
	if _, err := DecodeDetection([]byte("not json at all")); err == nil {
		t.Error("expected error for non-JSON payload")
	}
	if _, err := DecodeDetection([]byte{0xff, 0xfe, 0x00, 0x81}); err == nil {
		t.Error("expected error for non-UTF8 payload")
	}
	if _, err := DecodeDetection([]byte(`[1,2,3]`)); err == nil {
		t.Error("expected error for non-object payload")
	}
}
