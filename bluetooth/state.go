package bluetooth

// ConnectionState tracks the lifecycle of the link to the scanner.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateScanning
	StateConnecting
	StateDiscovering
	StateReady
	StateBluetoothOff
	StateUnauthorized
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateBluetoothOff:
		return "bluetooth_off"
	case StateUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// CanWrite reports whether outbound characteristic writes are allowed.
// Everything outbound requires a fully discovered link.
func (s ConnectionState) CanWrite() bool {
	return s == StateReady
}
