package bluetooth

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/VirtuallyScott/FlockFinderApp/config"
	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

type charWrite struct {
	uuid string
	data []byte
}

type fakeCharWriter struct {
	mu     sync.Mutex
	writes []charWrite
	err    error
}

func (w *fakeCharWriter) WriteCharacteristic(uuid string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	w.writes = append(w.writes, charWrite{uuid: uuid, data: buf})
	return nil
}

func (w *fakeCharWriter) snapshot() []charWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]charWrite, len(w.writes))
	copy(out, w.writes)
	return out
}

func newTestEngine(t *testing.T) (*SyncEngine, *fakeCharWriter) {
	t.Helper()
	store := config.NewStore(filepath.Join(t.TempDir(), "doc.json"), time.Millisecond)
	writer := &fakeCharWriter{}
	e := NewSyncEngine(store, utils.NewWebSocketHub(), writer)
	e.chunkDelay = time.Millisecond
	return e, writer
}

func TestInboundChunkedReassembly(t *testing.T) {
	e, _ := newTestEngine(t)

	doc := config.Default()
	doc.Version = 7
	doc.WiFiScanIntervalMs = 9000
	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Split mid-document so neither chunk parses on its own.
	mid := len(data) / 2
	e.HandleInbound([]byte(ConfigStartMarker))
	e.HandleInbound(data[:mid])
	e.HandleInbound(data[mid:])
	e.HandleInbound([]byte(ConfigEndMarker))

	got := e.Document()
	if got.Version != 7 || got.WiFiScanIntervalMs != 9000 {
		t.Errorf("reassembled document mismatch: version=%d wifi=%d", got.Version, got.WiFiScanIntervalMs)
	}
	status := e.Status()
	if status.Pending {
		t.Error("inbound document should clear pending")
	}
	if status.LastSyncedAt == 0 {
		t.Error("inbound document should stamp last synced time")
	}
}

func TestInboundNewStartDiscardsPartialTransfer(t *testing.T) {
	e, _ := newTestEngine(t)

	doc := config.Default()
	doc.Version = 3
	data, _ := doc.Encode()

	e.HandleInbound([]byte(ConfigStartMarker))
	e.HandleInbound([]byte(`{"version":99,"truncated`))
	// Hardware restarts the transfer; stale bytes must not leak in.
	e.HandleInbound([]byte(ConfigStartMarker))
	e.HandleInbound(data)
	e.HandleInbound([]byte(ConfigEndMarker))

	if got := e.Document(); got.Version != 3 {
		t.Errorf("expected version 3 after restarted transfer, got %d", got.Version)
	}
}

func TestInboundEndWithEmptyBufferRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	before := e.Document()

	e.HandleInbound([]byte(ConfigEndMarker))

	if got := e.Document(); got.Version != before.Version {
		t.Errorf("document changed on empty transfer: %d -> %d", before.Version, got.Version)
	}
	if e.Status().LastSyncedAt != 0 {
		t.Error("rejected transfer must not count as a sync")
	}
}

func TestAbandonInboundDiscardsBuffer(t *testing.T) {
	e, _ := newTestEngine(t)

	e.HandleInbound([]byte(ConfigStartMarker))
	e.HandleInbound([]byte(`{"version":5`))
	e.AbandonInbound()
	e.HandleInbound([]byte(`,"wifi_enabled":true}`))
	e.HandleInbound([]byte(ConfigEndMarker))

	if e.Status().LastSyncedAt != 0 {
		t.Error("abandoned transfer must not produce a document")
	}
}

func TestInboundSinglePacketDocument(t *testing.T) {
	e, _ := newTestEngine(t)

	doc := config.Default()
	doc.Version = 2
	data, _ := doc.Encode()
	e.HandleInbound(data)

	if got := e.Document(); got.Version != 2 {
		t.Errorf("expected single-packet document adopted, version=%d", got.Version)
	}
	if e.Status().Pending {
		t.Error("adopted document should clear pending")
	}
}

func TestInboundClampsOutOfRangeDocument(t *testing.T) {
	e, _ := newTestEngine(t)

	e.HandleInbound([]byte(`{"version":1,"wifi_scan_interval_ms":50,"ble_scan_interval_ms":999999,"channel_hop_interval_ms":1,"stream_mode":9}`))

	got := e.Document()
	if got.WiFiScanIntervalMs != config.MinWiFiScanIntervalMs {
		t.Errorf("wifi interval not clamped up: %d", got.WiFiScanIntervalMs)
	}
	if got.BLEScanIntervalMs != config.MaxBLEScanIntervalMs {
		t.Errorf("ble interval not clamped down: %d", got.BLEScanIntervalMs)
	}
	if got.StreamMode != config.StreamModeMatchesOnly {
		t.Errorf("stream mode not normalized: %d", got.StreamMode)
	}
}

func TestInboundAckResolvesPending(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Apply(config.Default())
	if !e.Status().Pending {
		t.Fatal("Apply should mark pending")
	}

	e.HandleInbound([]byte(`{"success":true,"message":"applied"}`))

	status := e.Status()
	if status.Pending {
		t.Error("successful ack should clear pending")
	}
	if status.LastSyncedAt == 0 {
		t.Error("successful ack should stamp last synced time")
	}
}

func TestInboundNackKeepsPending(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Apply(config.Default())

	e.HandleInbound([]byte(`{"success":false,"message":"flash write failed"}`))

	if !e.Status().Pending {
		t.Error("failed ack must leave pending set for retry")
	}
}

func TestInboundAckDuringTransferNotBuffered(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Apply(config.Default())

	doc := config.Default()
	doc.Version = 42
	data, _ := doc.Encode()
	mid := len(data) / 2

	// The firmware may answer the last push while it is still streaming a
	// document out; the ack must resolve pending, not corrupt the buffer.
	e.HandleInbound([]byte(ConfigStartMarker))
	e.HandleInbound(data[:mid])
	e.HandleInbound([]byte(`{"success":true,"message":"applied"}`))
	e.HandleInbound(data[mid:])
	e.HandleInbound([]byte(ConfigEndMarker))

	if e.Status().Pending {
		t.Error("mid-transfer ack should clear pending")
	}
	if got := e.Document(); got.Version != 42 {
		t.Errorf("transfer corrupted by interleaved ack, version=%d", got.Version)
	}
}

func TestInboundUnrecognizedPayloadIgnored(t *testing.T) {
	e, _ := newTestEngine(t)
	before := e.Document()

	e.HandleInbound([]byte(`{"foo":"bar"}`))
	e.HandleInbound([]byte(`random text`))

	if got := e.Document(); got.Version != before.Version {
		t.Error("unrecognized payloads must not touch the document")
	}
}

func TestPushChunksLargeDocument(t *testing.T) {
	e, writer := newTestEngine(t)

	// Pad the document past three chunk boundaries.
	doc := config.Default()
	for i := 0; len(doc.SSIDPatterns) < 40; i++ {
		doc.SSIDPatterns = append(doc.SSIDPatterns, config.Pattern{
			Pattern:    fmt.Sprintf("Surveillance-Network-%02d", i),
			DeviceType: "unknown",
			Enabled:    true,
		})
	}
	e.Apply(doc)
	data, _ := e.Document().Encode()
	if len(data) <= 3*ConfigChunkSize {
		t.Fatalf("test document too small: %d bytes", len(data))
	}

	if err := e.Push(); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	writes := waitForEndMarker(t, writer)
	if string(writes[0].data) != ConfigStartMarker {
		t.Fatalf("first write must be start marker, got %q", writes[0].data)
	}
	if string(writes[len(writes)-1].data) != ConfigEndMarker {
		t.Fatalf("last write must be end marker, got %q", writes[len(writes)-1].data)
	}

	wantChunks := (len(data) + ConfigChunkSize - 1) / ConfigChunkSize
	chunks := writes[1 : len(writes)-1]
	if len(chunks) != wantChunks {
		t.Fatalf("expected %d chunks, got %d", wantChunks, len(chunks))
	}

	var rebuilt strings.Builder
	for i, w := range chunks {
		if w.uuid != ConfigCharUUID {
			t.Errorf("chunk %d wrote to %s", i, w.uuid)
		}
		if len(w.data) > ConfigChunkSize {
			t.Errorf("chunk %d is %d bytes, over the %d limit", i, len(w.data), ConfigChunkSize)
		}
		rebuilt.Write(w.data)
	}
	if rebuilt.String() != string(data) {
		t.Error("concatenated chunks do not match the encoded document")
	}
}

func TestPushSmallDocumentSingleWrite(t *testing.T) {
	e, writer := newTestEngine(t)

	doc := config.Default()
	doc.SSIDPatterns = []config.Pattern{}
	doc.MACPrefixes = []config.Pattern{}
	doc.BLENamePatterns = []config.Pattern{}
	e.Apply(doc)

	data, _ := e.Document().Encode()
	if len(data) > ConfigChunkSize {
		t.Fatalf("test document unexpectedly large: %d bytes", len(data))
	}

	if err := e.Push(); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var writes []charWrite
	for time.Now().Before(deadline) {
		if writes = writer.snapshot(); len(writes) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(writes) != 1 {
		t.Fatalf("small document should go out in one write, got %d", len(writes))
	}
	if string(writes[0].data) != string(data) {
		t.Error("single write does not match the encoded document")
	}
	if writes[0].uuid != ConfigCharUUID {
		t.Errorf("wrote to %s", writes[0].uuid)
	}
}

func TestPushRejectsConcurrentTransfer(t *testing.T) {
	e, writer := newTestEngine(t)
	e.chunkDelay = 50 * time.Millisecond

	doc := config.Default()
	for i := 0; len(doc.SSIDPatterns) < 40; i++ {
		doc.SSIDPatterns = append(doc.SSIDPatterns, config.Pattern{
			Pattern: fmt.Sprintf("pad-%02d", i), DeviceType: "unknown", Enabled: true,
		})
	}
	e.Apply(doc)

	if err := e.Push(); err != nil {
		t.Fatalf("first Push failed: %v", err)
	}
	if err := e.Push(); err == nil {
		t.Error("second Push should fail while a transfer is in flight")
	}
	waitForEndMarker(t, writer)
}

func TestApplyClampsAndMarksPending(t *testing.T) {
	e, _ := newTestEngine(t)

	doc := config.Default()
	doc.ChannelHopIntervalMs = 5
	e.Apply(doc)

	got := e.Document()
	if got.ChannelHopIntervalMs != config.MinChannelHopMs {
		t.Errorf("channel hop not clamped: %d", got.ChannelHopIntervalMs)
	}
	if !e.Status().Pending {
		t.Error("Apply should mark the document pending")
	}
}

func TestImportRejectsInvalidDocument(t *testing.T) {
	e, _ := newTestEngine(t)
	before := e.Document()

	err := e.Import([]byte(`{"version":0,"wifi_scan_interval_ms":50}`))
	if err == nil {
		t.Fatal("expected import rejection")
	}
	if !strings.Contains(err.Error(), "version") {
		t.Errorf("error should name the violation, got: %v", err)
	}
	if got := e.Document(); got.Version != before.Version {
		t.Error("rejected import must not touch the document")
	}
}

func TestImportAcceptsValidDocument(t *testing.T) {
	e, _ := newTestEngine(t)

	doc := config.Default()
	doc.Version = 4
	data, _ := doc.Encode()
	if err := e.Import(data); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if got := e.Document(); got.Version != 4 {
		t.Errorf("imported document not applied, version=%d", got.Version)
	}
}

func TestCommandHelpers(t *testing.T) {
	e, writer := newTestEngine(t)

	if err := e.RequestConfig(); err != nil {
		t.Fatalf("RequestConfig failed: %v", err)
	}
	if err := e.SaveToFlash(); err != nil {
		t.Fatalf("SaveToFlash failed: %v", err)
	}
	if err := e.FactoryResetHardware(); err != nil {
		t.Fatalf("FactoryResetHardware failed: %v", err)
	}

	writes := writer.snapshot()
	want := []string{CmdGetConfig, CmdSaveConfig, CmdResetConfig}
	if len(writes) != len(want) {
		t.Fatalf("expected %d command writes, got %d", len(want), len(writes))
	}
	for i, w := range writes {
		if w.uuid != CommandCharUUID {
			t.Errorf("command %d wrote to %s", i, w.uuid)
		}
		if string(w.data) != want[i] {
			t.Errorf("command %d = %q, want %q", i, w.data, want[i])
		}
	}
}

func waitForEndMarker(t *testing.T, writer *fakeCharWriter) []charWrite {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		writes := writer.snapshot()
		if n := len(writes); n > 0 && string(writes[n-1].data) == ConfigEndMarker {
			return writes
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("push never completed")
	return nil
}
