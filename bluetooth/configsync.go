package bluetooth

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/VirtuallyScott/FlockFinderApp/config"
	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

// CharWriter writes a payload to a characteristic on the connected scanner.
// Implementations reject writes when no link is ready.
type CharWriter interface {
	WriteCharacteristic(charUUID string, data []byte) error
}

// configAck is the firmware's response after it applies a pushed document.
// The success field doubles as the marker that distinguishes an ack from
// document text on the shared config characteristic.
type configAck struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// docProbe detects single-packet documents by their mandatory version key.
type docProbe struct {
	Version *int `json:"version"`
}

// SyncEngine owns the phone-side copy of the scanner configuration and keeps
// it aligned with the hardware over the config characteristic: chunked
// reassembly inbound, chunked transmission outbound, ack tracking, and
// debounced local persistence.
type SyncEngine struct {
	store      *config.Store
	hub        *utils.WebSocketHub
	writer     CharWriter
	chunkDelay time.Duration

	mu           sync.Mutex
	doc          *config.Document
	pending      bool
	lastSyncedAt time.Time
	rxActive     bool
	rxBuf        strings.Builder
	txActive     bool
}

func NewSyncEngine(store *config.Store, hub *utils.WebSocketHub, writer CharWriter) *SyncEngine {
	return &SyncEngine{
		store:      store,
		hub:        hub,
		writer:     writer,
		chunkDelay: ConfigChunkDelay,
		doc:        store.Load(),
	}
}

// Document returns a snapshot of the current local document.
func (e *SyncEngine) Document() *config.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Clone()
}

// Status reports whether local edits are waiting to be pushed and when the
// last successful sync happened.
func (e *SyncEngine) Status() utils.SyncStatusPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *SyncEngine) statusLocked() utils.SyncStatusPayload {
	p := utils.SyncStatusPayload{Pending: e.pending}
	if !e.lastSyncedAt.IsZero() {
		p.LastSyncedAt = e.lastSyncedAt.Unix()
	}
	return p
}

// Apply replaces the local document with a user edit. The document is
// clamped, marked pending, and persisted; pushing to hardware is a separate
// explicit step.
func (e *SyncEngine) Apply(doc *config.Document) {
	doc = doc.Clone()
	doc.Clamp()

	e.mu.Lock()
	e.doc = doc
	e.pending = true
	status := e.statusLocked()
	e.mu.Unlock()

	e.store.Save(doc)
	e.hub.Broadcast(utils.WebSocketEvent{Type: "config/updated", Payload: doc})
	e.hub.Broadcast(utils.WebSocketEvent{Type: "sync/status", Payload: status})
}

// Import applies a user-supplied document export. Unlike hardware documents,
// imports are validated strictly and rejected with the full violation list
// instead of being silently clamped.
func (e *SyncEngine) Import(data []byte) error {
	var doc config.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse import: %w", err)
	}
	if violations := doc.Validate(); len(violations) > 0 {
		return fmt.Errorf("invalid document: %s", strings.Join(violations, "; "))
	}
	e.Apply(&doc)
	return nil
}

// ResetLocal restores the factory default document as a pending local edit.
func (e *SyncEngine) ResetLocal() {
	e.Apply(config.Default())
}

// Push transmits the current document to the scanner as a framed chunk
// sequence. Only one outbound transfer may be in flight at a time. The
// pending flag stays set until the firmware acks the push.
func (e *SyncEngine) Push() error {
	e.mu.Lock()
	if e.txActive {
		e.mu.Unlock()
		return fmt.Errorf("config push already in progress")
	}
	doc := e.doc.Clone()
	e.txActive = true
	e.pending = true
	e.mu.Unlock()

	data, err := doc.Encode()
	if err != nil {
		e.mu.Lock()
		e.txActive = false
		e.mu.Unlock()
		return err
	}

	go e.transmit(data)
	return nil
}

func (e *SyncEngine) transmit(data []byte) {
	defer func() {
		e.mu.Lock()
		e.txActive = false
		e.mu.Unlock()
	}()

	// Small documents fit a single write and skip the chunk framing.
	if len(data) <= ConfigChunkSize {
		log.Printf("SYNC: pushing %d bytes in one write", len(data))
		if err := e.writer.WriteCharacteristic(ConfigCharUUID, data); err != nil {
			e.reportPushError(err)
			return
		}
		log.Printf("SYNC: push complete, awaiting ack")
		e.hub.Broadcast(utils.WebSocketEvent{Type: "sync/status", Payload: e.Status()})
		return
	}

	chunks := (len(data) + ConfigChunkSize - 1) / ConfigChunkSize
	log.Printf("SYNC: pushing %d bytes in %d chunks", len(data), chunks)

	if err := e.writer.WriteCharacteristic(ConfigCharUUID, []byte(ConfigStartMarker)); err != nil {
		e.reportPushError(err)
		return
	}
	for off := 0; off < len(data); off += ConfigChunkSize {
		time.Sleep(e.chunkDelay)
		end := off + ConfigChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := e.writer.WriteCharacteristic(ConfigCharUUID, data[off:end]); err != nil {
			e.reportPushError(err)
			return
		}
	}
	time.Sleep(e.chunkDelay)
	if err := e.writer.WriteCharacteristic(ConfigCharUUID, []byte(ConfigEndMarker)); err != nil {
		e.reportPushError(err)
		return
	}

	log.Printf("SYNC: push complete, awaiting ack")
	e.hub.Broadcast(utils.WebSocketEvent{Type: "sync/status", Payload: e.Status()})
}

func (e *SyncEngine) reportPushError(err error) {
	log.Printf("SYNC: push aborted: %v", err)
	e.hub.Broadcast(utils.WebSocketEvent{
		Type:    "sync/error",
		Payload: map[string]string{"error": err.Error()},
	})
}

// HandleInbound processes one notification from the config characteristic:
// a framing marker, a chunk of an active transfer, an ack, or a small
// document that fits a single packet.
func (e *SyncEngine) HandleInbound(data []byte) {
	payload := string(data)

	switch payload {
	case ConfigStartMarker:
		e.mu.Lock()
		if e.rxActive {
			log.Printf("SYNC: new transfer started mid-stream, discarding %d buffered bytes", e.rxBuf.Len())
		}
		e.rxBuf.Reset()
		e.rxActive = true
		e.mu.Unlock()
		return

	case ConfigEndMarker:
		e.mu.Lock()
		text := e.rxBuf.String()
		e.rxBuf.Reset()
		e.rxActive = false
		e.mu.Unlock()
		e.adoptDocument([]byte(text))
		return
	}

	// Acks are never buffer content, even mid-transfer: a chunk fragment is
	// not standalone JSON, so anything that parses with a success field is
	// the firmware responding to the last push.
	var ack configAck
	if err := json.Unmarshal(data, &ack); err == nil && ack.Success != nil {
		e.handleAck(*ack.Success, ack.Message)
		return
	}

	e.mu.Lock()
	receiving := e.rxActive
	if receiving {
		e.rxBuf.WriteString(payload)
	}
	e.mu.Unlock()
	if receiving {
		return
	}

	var probe docProbe
	if err := json.Unmarshal(data, &probe); err == nil && probe.Version != nil {
		e.adoptDocument(data)
		return
	}

	log.Printf("SYNC: ignoring unrecognized config payload (%d bytes)", len(data))
}

// AbandonInbound discards any partial inbound transfer, on disconnect.
func (e *SyncEngine) AbandonInbound() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rxActive {
		log.Printf("SYNC: link lost mid-transfer, discarding %d buffered bytes", e.rxBuf.Len())
	}
	e.rxBuf.Reset()
	e.rxActive = false
}

// adoptDocument installs a document received from the hardware. The hardware
// copy is authoritative, so arrival means local and remote now agree.
func (e *SyncEngine) adoptDocument(data []byte) {
	doc, err := config.Decode(data)
	if err != nil {
		log.Printf("SYNC: inbound document rejected: %v", err)
		e.hub.Broadcast(utils.WebSocketEvent{
			Type:    "sync/error",
			Payload: map[string]string{"error": err.Error()},
		})
		return
	}

	e.mu.Lock()
	e.doc = doc
	e.pending = false
	e.lastSyncedAt = time.Now()
	status := e.statusLocked()
	e.mu.Unlock()

	e.store.Save(doc)
	log.Printf("SYNC: adopted document v%d from hardware", doc.Version)
	e.hub.Broadcast(utils.WebSocketEvent{Type: "config/received", Payload: doc})
	e.hub.Broadcast(utils.WebSocketEvent{Type: "sync/status", Payload: status})
}

// handleAck resolves the most recent push. A success clears the pending
// flag; a failure leaves it set so the UI can offer a retry.
func (e *SyncEngine) handleAck(success bool, message string) {
	e.mu.Lock()
	if success {
		e.pending = false
		e.lastSyncedAt = time.Now()
	}
	status := e.statusLocked()
	e.mu.Unlock()

	if success {
		log.Printf("SYNC: hardware acked config push")
	} else {
		log.Printf("SYNC: hardware rejected config push: %s", message)
	}
	e.hub.Broadcast(utils.WebSocketEvent{
		Type:    "config/ack",
		Payload: map[string]interface{}{"success": success, "message": message},
	})
	e.hub.Broadcast(utils.WebSocketEvent{Type: "sync/status", Payload: status})
}

// RequestConfig asks the scanner to send its current document.
func (e *SyncEngine) RequestConfig() error {
	return e.writer.WriteCharacteristic(CommandCharUUID, []byte(CmdGetConfig))
}

// SaveToFlash tells the scanner to persist its active document to flash.
func (e *SyncEngine) SaveToFlash() error {
	return e.writer.WriteCharacteristic(CommandCharUUID, []byte(CmdSaveConfig))
}

// FactoryResetHardware tells the scanner to restore its factory defaults.
// The scanner follows up with its new document on the config characteristic.
func (e *SyncEngine) FactoryResetHardware() error {
	return e.writer.WriteCharacteristic(CommandCharUUID, []byte(CmdResetConfig))
}
