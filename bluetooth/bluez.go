package bluetooth

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName = "org.bluez"

	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	serviceIface = "org.bluez.GattService1"
	charIface    = "org.bluez.GattCharacteristic1"

	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"

	servicesResolvedRetries = 10
	servicesResolvedDelay   = 500 * time.Millisecond
	connectAttempts         = 3
)

// BlueZTransport implements Transport on the Linux BlueZ stack over D-Bus.
type BlueZTransport struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
	events      chan Event
	signals     chan *dbus.Signal

	mu          sync.Mutex
	devicePath  dbus.ObjectPath            // connected device, empty otherwise
	charPaths   map[string]dbus.ObjectPath // char UUID -> object path
	notifyPaths map[dbus.ObjectPath]string // object path -> char UUID
	scanService string                     // service UUID filter for the active scan
	scanning    bool
	closed      bool
}

// NewBlueZTransport connects to the system bus and subscribes to the BlueZ
// signals the transport needs. The adapter is e.g. "hci0".
func NewBlueZTransport(adapter string) (*BlueZTransport, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %v", ErrRadioUnavailable, err)
	}

	t := &BlueZTransport{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapter),
		events:      make(chan Event, 64),
		signals:     make(chan *dbus.Signal, 64),
		charPaths:   make(map[string]dbus.ObjectPath),
		notifyPaths: make(map[dbus.ObjectPath]string),
	}

	// Verify the adapter exists and is powered before doing anything else.
	var powered dbus.Variant
	obj := conn.Object(bluezBusName, t.adapterPath)
	if err := obj.Call(propertiesIface+".Get", 0, adapterIface, "Powered").Store(&powered); err != nil {
		return nil, mapDBusError(fmt.Errorf("adapter %s: %w", adapter, err))
	}
	if on, ok := powered.Value().(bool); ok && !on {
		log.Printf("BLE: adapter %s present but powered off", adapter)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(objectManagerIface),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		return nil, fmt.Errorf("subscribe InterfacesAdded: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return nil, fmt.Errorf("subscribe PropertiesChanged: %w", err)
	}

	conn.Signal(t.signals)
	go t.signalLoop()

	return t, nil
}

func (t *BlueZTransport) Events() <-chan Event {
	return t.events
}

func (t *BlueZTransport) StartScan(serviceUUID string) error {
	t.mu.Lock()
	t.scanService = strings.ToLower(serviceUUID)
	t.mu.Unlock()

	obj := t.conn.Object(bluezBusName, t.adapterPath)

	filter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": false,
	}
	if err := obj.Call(adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		log.Printf("BLE: discovery filter not applied: %v", err)
	}

	if err := obj.Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		if !strings.Contains(err.Error(), "InProgress") {
			return mapDBusError(fmt.Errorf("start discovery: %w", err))
		}
	}
	t.mu.Lock()
	t.scanning = true
	t.mu.Unlock()

	// Devices BlueZ already knows about never re-announce via
	// InterfacesAdded, so surface them from the object tree immediately.
	go t.emitKnownDevices()

	return nil
}

func (t *BlueZTransport) StopScan() error {
	t.mu.Lock()
	wasScanning := t.scanning
	t.scanning = false
	t.mu.Unlock()
	if !wasScanning {
		return nil
	}

	obj := t.conn.Object(bluezBusName, t.adapterPath)
	if err := obj.Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
		if !strings.Contains(err.Error(), "No discovery started") {
			return mapDBusError(fmt.Errorf("stop discovery: %w", err))
		}
	}
	return nil
}

func (t *BlueZTransport) Connect(peripheralID string) error {
	devicePath := dbus.ObjectPath(peripheralID)
	obj := t.conn.Object(bluezBusName, devicePath)

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		call := obj.Call(deviceIface+".Connect", 0)
		if call.Err == nil {
			t.mu.Lock()
			t.devicePath = devicePath
			t.mu.Unlock()
			return nil
		}
		lastErr = call.Err
		if strings.Contains(call.Err.Error(), "Already Connected") {
			t.mu.Lock()
			t.devicePath = devicePath
			t.mu.Unlock()
			return nil
		}
		log.Printf("BLE: connect attempt %d/%d failed: %v", attempt, connectAttempts, call.Err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return fmt.Errorf("%w: %v", ErrPeripheralUnreachable, lastErr)
}

func (t *BlueZTransport) Disconnect() error {
	t.mu.Lock()
	devicePath := t.devicePath
	t.mu.Unlock()
	if devicePath == "" {
		return nil
	}

	obj := t.conn.Object(bluezBusName, devicePath)
	if err := obj.Call(deviceIface+".Disconnect", 0).Err; err != nil {
		return mapDBusError(fmt.Errorf("disconnect: %w", err))
	}
	return nil
}

// DiscoverCharacteristics waits for BlueZ to resolve GATT services on the
// connected device, then walks the object tree to locate the requested
// characteristics under the given service.
func (t *BlueZTransport) DiscoverCharacteristics(serviceUUID string, charUUIDs []string) (map[string]bool, error) {
	t.mu.Lock()
	devicePath := t.devicePath
	t.mu.Unlock()
	if devicePath == "" {
		return nil, ErrNotReady
	}

	if err := t.waitServicesResolved(devicePath); err != nil {
		return nil, err
	}

	objects, err := t.managedObjects()
	if err != nil {
		return nil, err
	}

	serviceUUID = strings.ToLower(serviceUUID)
	var servicePath dbus.ObjectPath
	for path, ifaces := range objects {
		props, ok := ifaces[serviceIface]
		if !ok || !strings.HasPrefix(string(path), string(devicePath)) {
			continue
		}
		if uuid, ok := props["UUID"].Value().(string); ok && strings.ToLower(uuid) == serviceUUID {
			servicePath = path
			break
		}
	}
	if servicePath == "" {
		return nil, fmt.Errorf("%w: service %s", ErrCharacteristicNotFound, serviceUUID)
	}

	found := make(map[string]bool, len(charUUIDs))
	t.mu.Lock()
	for path, ifaces := range objects {
		props, ok := ifaces[charIface]
		if !ok || !strings.HasPrefix(string(path), string(servicePath)) {
			continue
		}
		uuid, ok := props["UUID"].Value().(string)
		if !ok {
			continue
		}
		uuid = strings.ToLower(uuid)
		for _, want := range charUUIDs {
			if uuid == strings.ToLower(want) {
				t.charPaths[uuid] = path
				found[uuid] = true
			}
		}
	}
	t.mu.Unlock()

	return found, nil
}

func (t *BlueZTransport) SetNotify(charUUID string, enabled bool) error {
	charUUID = strings.ToLower(charUUID)
	t.mu.Lock()
	path, ok := t.charPaths[charUUID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
	}

	obj := t.conn.Object(bluezBusName, path)
	method := charIface + ".StartNotify"
	if !enabled {
		method = charIface + ".StopNotify"
	}
	if err := obj.Call(method, 0).Err; err != nil {
		return mapDBusError(fmt.Errorf("notify %s: %w", charUUID, err))
	}

	t.mu.Lock()
	if enabled {
		t.notifyPaths[path] = charUUID
	} else {
		delete(t.notifyPaths, path)
	}
	t.mu.Unlock()
	return nil
}

func (t *BlueZTransport) Write(charUUID string, data []byte, withResponse bool) error {
	charUUID = strings.ToLower(charUUID)
	t.mu.Lock()
	path, ok := t.charPaths[charUUID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
	}

	writeType := "request"
	if !withResponse {
		writeType = "command"
	}
	options := map[string]interface{}{"type": writeType}

	obj := t.conn.Object(bluezBusName, path)
	if err := obj.Call(charIface+".WriteValue", 0, data, options).Err; err != nil {
		return mapDBusError(fmt.Errorf("write %s: %w", charUUID, err))
	}
	return nil
}

func (t *BlueZTransport) ReadRSSI() (int, error) {
	t.mu.Lock()
	devicePath := t.devicePath
	t.mu.Unlock()
	if devicePath == "" {
		return 0, ErrNotReady
	}

	var rssi dbus.Variant
	obj := t.conn.Object(bluezBusName, devicePath)
	if err := obj.Call(propertiesIface+".Get", 0, deviceIface, "RSSI").Store(&rssi); err != nil {
		return 0, mapDBusError(fmt.Errorf("read rssi: %w", err))
	}
	if v, ok := rssi.Value().(int16); ok {
		return int(v), nil
	}
	return 0, fmt.Errorf("read rssi: unexpected type %T", rssi.Value())
}

func (t *BlueZTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.conn.RemoveSignal(t.signals)
	close(t.signals)
	return nil
}

func (t *BlueZTransport) signalLoop() {
	for sig := range t.signals {
		switch sig.Name {
		case objectManagerIface + ".InterfacesAdded":
			t.handleInterfacesAdded(sig)
		case propertiesIface + ".PropertiesChanged":
			t.handlePropertiesChanged(sig)
		}
	}
}

func (t *BlueZTransport) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	props, ok := ifaces[deviceIface]
	if !ok {
		return
	}
	t.emitPeripheral(path, props)
}

func (t *BlueZTransport) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	switch iface {
	case adapterIface:
		if sig.Path != t.adapterPath {
			return
		}
		if v, ok := changed["Powered"]; ok {
			if on, ok := v.Value().(bool); ok {
				if on {
					t.emit(Event{Kind: EventRadioOn})
				} else {
					t.emit(Event{Kind: EventRadioOff})
				}
			}
		}

	case deviceIface:
		t.mu.Lock()
		devicePath := t.devicePath
		scanning := t.scanning
		t.mu.Unlock()

		if v, ok := changed["Connected"]; ok && sig.Path == devicePath {
			if connected, ok := v.Value().(bool); ok && !connected {
				t.mu.Lock()
				t.devicePath = ""
				t.charPaths = make(map[string]dbus.ObjectPath)
				t.notifyPaths = make(map[dbus.ObjectPath]string)
				t.mu.Unlock()
				t.emit(Event{Kind: EventDisconnected})
				return
			}
		}
		if _, ok := changed["RSSI"]; ok && scanning {
			// Re-read the full property set so the scan list stays fresh.
			if props, err := t.deviceProperties(sig.Path); err == nil {
				t.emitPeripheral(sig.Path, props)
			}
		}

	case charIface:
		v, ok := changed["Value"]
		if !ok {
			return
		}
		t.mu.Lock()
		uuid, subscribed := t.notifyPaths[sig.Path]
		t.mu.Unlock()
		if !subscribed {
			return
		}
		data, ok := v.Value().([]byte)
		if !ok {
			return
		}
		// Copy before handing off; dbus may reuse the backing array.
		buf := make([]byte, len(data))
		copy(buf, data)
		t.emit(Event{Kind: EventNotification, CharUUID: uuid, Data: buf})
	}
}

func (t *BlueZTransport) emitKnownDevices() {
	objects, err := t.managedObjects()
	if err != nil {
		log.Printf("BLE: listing known devices: %v", err)
		return
	}
	for path, ifaces := range objects {
		if props, ok := ifaces[deviceIface]; ok {
			t.emitPeripheral(path, props)
		}
	}
}

func (t *BlueZTransport) emitPeripheral(path dbus.ObjectPath, props map[string]dbus.Variant) {
	p := Peripheral{ID: string(path), LastSeen: time.Now()}
	if v, ok := props["Name"]; ok {
		p.Name, _ = v.Value().(string)
	}
	if p.Name == "" {
		if v, ok := props["Alias"]; ok {
			p.Name, _ = v.Value().(string)
		}
	}
	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			p.RSSI = int(rssi)
		}
	}

	t.mu.Lock()
	scanService := t.scanService
	t.mu.Unlock()
	if v, ok := props["UUIDs"]; ok {
		if uuids, ok := v.Value().([]string); ok {
			for _, u := range uuids {
				if strings.ToLower(u) == scanService {
					p.HasService = true
					break
				}
			}
		}
	}

	t.emit(Event{Kind: EventPeripheralFound, Peripheral: p})
}

func (t *BlueZTransport) deviceProperties(path dbus.ObjectPath) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	obj := t.conn.Object(bluezBusName, path)
	if err := obj.Call(propertiesIface+".GetAll", 0, deviceIface).Store(&props); err != nil {
		return nil, err
	}
	return props, nil
}

func (t *BlueZTransport) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := t.conn.Object(bluezBusName, "/")
	if err := obj.Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, mapDBusError(fmt.Errorf("get managed objects: %w", err))
	}
	return objects, nil
}

func (t *BlueZTransport) waitServicesResolved(devicePath dbus.ObjectPath) error {
	obj := t.conn.Object(bluezBusName, devicePath)
	for i := 0; i < servicesResolvedRetries; i++ {
		var resolved dbus.Variant
		if err := obj.Call(propertiesIface+".Get", 0, deviceIface, "ServicesResolved").Store(&resolved); err != nil {
			return mapDBusError(fmt.Errorf("services resolved: %w", err))
		}
		if v, ok := resolved.Value().(bool); ok && v {
			return nil
		}
		time.Sleep(servicesResolvedDelay)
	}
	return fmt.Errorf("%w: services never resolved", ErrPeripheralUnreachable)
}

func (t *BlueZTransport) emit(ev Event) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		log.Printf("BLE: event queue full, dropping %v", ev.Kind)
	}
}

// mapDBusError folds BlueZ error names into the transport sentinels.
func mapDBusError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NotAuthorized"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case strings.Contains(msg, "NotReady"), strings.Contains(msg, "No such adapter"),
		strings.Contains(msg, "org.bluez was not provided"):
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	case strings.Contains(msg, "Not connected"), strings.Contains(msg, "le-connection-abort"):
		return fmt.Errorf("%w: %v", ErrPeripheralUnreachable, err)
	default:
		return err
	}
}
