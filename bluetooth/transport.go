package bluetooth

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by transports. Callers branch on these to pick a
// connection state, so transports must wrap platform errors into them.
var (
	ErrRadioUnavailable       = errors.New("bluetooth radio unavailable")
	ErrUnauthorized           = errors.New("bluetooth access not authorized")
	ErrPeripheralUnreachable  = errors.New("peripheral unreachable")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrNotReady               = errors.New("not connected")
)

// Peripheral is one discovered device during a scan.
type Peripheral struct {
	ID         string // transport-specific handle, stable per device
	Name       string
	RSSI       int
	HasService bool // advertised the scanner service UUID
	LastSeen   time.Time
}

// EventKind discriminates transport events.
type EventKind int

const (
	EventRadioOn EventKind = iota
	EventRadioOff
	EventRadioUnauthorized
	EventPeripheralFound
	EventDisconnected
	EventNotification
)

// Event is an asynchronous occurrence on the transport: radio state changes,
// scan results, link loss, and characteristic notifications.
type Event struct {
	Kind       EventKind
	Peripheral Peripheral // EventPeripheralFound
	CharUUID   string     // EventNotification
	Data       []byte     // EventNotification
	Err        error      // EventDisconnected reason, may be nil
}

// Transport abstracts the platform BLE stack so the connection logic and the
// protocol layers can be exercised against a fake. Connect and
// DiscoverCharacteristics block until done or failed; notifications and
// unsolicited state changes arrive on Events.
type Transport interface {
	StartScan(serviceUUID string) error
	StopScan() error
	Connect(peripheralID string) error
	Disconnect() error
	// DiscoverCharacteristics resolves the service and reports which of the
	// requested characteristic UUIDs exist on the connected peripheral.
	DiscoverCharacteristics(serviceUUID string, charUUIDs []string) (map[string]bool, error)
	SetNotify(charUUID string, enabled bool) error
	Write(charUUID string, data []byte, withResponse bool) error
	ReadRSSI() (int, error)
	Events() <-chan Event
	Close() error
}
