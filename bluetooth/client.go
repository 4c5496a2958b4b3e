package bluetooth

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

// requiredCharUUIDs must all exist on a peripheral for it to count as
// scanner hardware. Anything missing one is incompatible.
var requiredCharUUIDs = []string{
	DetectionCharUUID,
	CommandCharUUID,
	StreamCharUUID,
	ConfigCharUUID,
}

// Client drives the connection lifecycle against a Transport: scanning with
// timeout, connect, characteristic discovery, notification subscriptions,
// RSSI polling while connected, and teardown on link loss. It is also the
// write gate: outbound traffic is refused unless the link is Ready.
type Client struct {
	transport   Transport
	hub         *utils.WebSocketHub
	autoConnect bool

	router *Router
	sync   *SyncEngine

	mu          sync.Mutex
	state       ConnectionState
	statusText  string
	peripherals map[string]Peripheral
	connectedID string
	lastRSSI    int
	scanTimer   *time.Timer
	rssiStop    chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewClient(transport Transport, hub *utils.WebSocketHub, autoConnect bool) *Client {
	return &Client{
		transport:   transport,
		hub:         hub,
		autoConnect: autoConnect,
		state:       StateDisconnected,
		peripherals: make(map[string]Peripheral),
		stopChan:    make(chan struct{}),
	}
}

// Attach wires in the notification router and sync engine. Both need the
// client as their write path, so they are built after it.
func (c *Client) Attach(router *Router, sync *SyncEngine) {
	c.router = router
	c.sync = sync
}

// Start launches the transport event loop.
func (c *Client) Start() {
	go c.eventLoop()
}

// Stop tears down the link and the event loop.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.transport.StopScan()
	c.transport.Disconnect()
	c.transport.Close()
}

// State returns the current connection state and its status text.
func (c *Client) State() (ConnectionState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.statusText
}

// LastRSSI returns the most recent signal strength reading, 0 until polled.
func (c *Client) LastRSSI() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRSSI
}

// Peripherals returns the devices seen during scanning.
func (c *Client) Peripherals() []utils.PeripheralPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]utils.PeripheralPayload, 0, len(c.peripherals))
	for _, p := range c.peripherals {
		out = append(out, utils.PeripheralPayload{
			ID:         p.ID,
			Name:       p.Name,
			RSSI:       p.RSSI,
			HasService: p.HasService,
			LastSeen:   p.LastSeen.Unix(),
		})
	}
	return out
}

// StartScan begins discovery. Scanning ends on connect, explicit stop, or
// the scan timeout.
func (c *Client) StartScan() error {
	c.mu.Lock()
	switch c.state {
	case StateScanning:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateDiscovering, StateReady:
		c.mu.Unlock()
		return fmt.Errorf("cannot scan while %s", c.state)
	case StateBluetoothOff:
		c.mu.Unlock()
		return ErrRadioUnavailable
	case StateUnauthorized:
		c.mu.Unlock()
		return ErrUnauthorized
	}
	c.peripherals = make(map[string]Peripheral)
	c.mu.Unlock()

	if err := c.transport.StartScan(ServiceUUID); err != nil {
		c.applyRadioError(err)
		return err
	}

	c.mu.Lock()
	if c.scanTimer != nil {
		c.scanTimer.Stop()
	}
	c.scanTimer = time.AfterFunc(ScanTimeout, c.scanTimedOut)
	c.mu.Unlock()

	c.setState(StateScanning, "scanning for scanner hardware")
	return nil
}

// StopScan halts discovery without connecting.
func (c *Client) StopScan() error {
	c.mu.Lock()
	if c.state != StateScanning {
		c.mu.Unlock()
		return nil
	}
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
	c.peripherals = make(map[string]Peripheral)
	c.mu.Unlock()

	err := c.transport.StopScan()
	c.setState(StateDisconnected, "scan stopped")
	return err
}

func (c *Client) scanTimedOut() {
	c.mu.Lock()
	if c.state != StateScanning {
		c.mu.Unlock()
		return
	}
	c.scanTimer = nil
	c.peripherals = make(map[string]Peripheral)
	c.mu.Unlock()

	log.Printf("BLE: scan timed out after %s", ScanTimeout)
	c.transport.StopScan()
	c.setState(StateDisconnected, "no scanner found")
}

// ConnectTo starts a connection attempt to a specific peripheral.
func (c *Client) ConnectTo(id string) error {
	c.mu.Lock()
	switch c.state {
	case StateBluetoothOff:
		c.mu.Unlock()
		return ErrRadioUnavailable
	case StateUnauthorized:
		c.mu.Unlock()
		return ErrUnauthorized
	}
	c.mu.Unlock()

	if !c.claimConnect() {
		state, _ := c.State()
		return fmt.Errorf("already %s", state)
	}
	go c.connect(id)
	return nil
}

// claimConnect atomically moves Scanning/Disconnected to Connecting. Exactly
// one connect flow may hold the claim; duplicate peripheral sightings and
// concurrent ConnectTo calls lose the race and do nothing.
func (c *Client) claimConnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateScanning, StateDisconnected:
		c.state = StateConnecting
		return true
	}
	return false
}

// Disconnect drops the current link. Auto-connect does not re-arm after an
// explicit disconnect; the user asked for silence.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.autoConnect = false
	c.mu.Unlock()
	return c.transport.Disconnect()
}

// SendCommand writes a plain-text command to the command characteristic.
// Commands are fire and forget; any response arrives as a notification.
func (c *Client) SendCommand(cmd string) error {
	return c.WriteCharacteristic(CommandCharUUID, []byte(cmd))
}

// WriteCharacteristic is the guarded write path used by the sync engine and
// command senders.
func (c *Client) WriteCharacteristic(charUUID string, data []byte) error {
	c.mu.Lock()
	ready := c.state.CanWrite()
	c.mu.Unlock()
	if !ready {
		return ErrNotReady
	}
	return c.transport.Write(charUUID, data, true)
}

func (c *Client) connect(id string) {
	c.mu.Lock()
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
	name := c.peripherals[id].Name
	c.mu.Unlock()

	c.transport.StopScan()
	c.setState(StateConnecting, fmt.Sprintf("connecting to %s", displayName(name, id)))

	if err := c.transport.Connect(id); err != nil {
		log.Printf("BLE: connect to %s failed: %v", id, err)
		c.setState(StateDisconnected, "connection failed")
		c.maybeRescan()
		return
	}

	c.setState(StateDiscovering, "discovering services")
	found, err := c.transport.DiscoverCharacteristics(ServiceUUID, requiredCharUUIDs)
	if err != nil {
		log.Printf("BLE: discovery on %s failed: %v", id, err)
		c.transport.Disconnect()
		c.setState(StateDisconnected, "service discovery failed")
		c.maybeRescan()
		return
	}
	for _, uuid := range requiredCharUUIDs {
		if !found[uuid] {
			log.Printf("BLE: %s is missing characteristic %s", id, uuid)
			c.transport.Disconnect()
			c.setState(StateDisconnected, "incompatible device")
			c.maybeRescan()
			return
		}
	}

	for _, uuid := range []string{DetectionCharUUID, StreamCharUUID, ConfigCharUUID} {
		if err := c.transport.SetNotify(uuid, true); err != nil {
			log.Printf("BLE: subscribe %s failed: %v", uuid, err)
			c.transport.Disconnect()
			c.setState(StateDisconnected, "subscription failed")
			c.maybeRescan()
			return
		}
	}

	c.mu.Lock()
	c.connectedID = id
	c.rssiStop = make(chan struct{})
	rssiStop := c.rssiStop
	c.mu.Unlock()

	c.setState(StateReady, fmt.Sprintf("connected to %s", displayName(name, id)))
	go c.pollRSSI(rssiStop)
}

func (c *Client) pollRSSI(stop chan struct{}) {
	ticker := time.NewTicker(RSSIPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			rssi, err := c.transport.ReadRSSI()
			if err != nil {
				continue
			}
			c.mu.Lock()
			c.lastRSSI = rssi
			c.mu.Unlock()
			c.hub.Broadcast(utils.WebSocketEvent{
				Type:    "connection/rssi",
				Payload: map[string]int{"rssi": rssi},
			})
		}
	}
}

func (c *Client) eventLoop() {
	events := c.transport.Events()
	for {
		select {
		case <-c.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Client) handleEvent(ev Event) {
	switch ev.Kind {
	case EventPeripheralFound:
		c.handlePeripheralFound(ev.Peripheral)

	case EventNotification:
		if c.router != nil {
			c.router.HandleNotification(ev.CharUUID, ev.Data)
		}

	case EventDisconnected:
		c.handleDisconnected(ev.Err)

	case EventRadioOff:
		c.teardownLink()
		c.setState(StateBluetoothOff, "bluetooth is off")

	case EventRadioOn:
		c.mu.Lock()
		wasOff := c.state == StateBluetoothOff || c.state == StateUnauthorized
		c.mu.Unlock()
		if wasOff {
			c.setState(StateDisconnected, "bluetooth is on")
			c.maybeRescan()
		}

	case EventRadioUnauthorized:
		c.teardownLink()
		c.setState(StateUnauthorized, "bluetooth access denied")
	}
}

func (c *Client) handlePeripheralFound(p Peripheral) {
	c.mu.Lock()
	c.peripherals[p.ID] = p
	scanning := c.state == StateScanning
	auto := c.autoConnect
	c.mu.Unlock()

	if !scanning {
		return
	}

	c.hub.Broadcast(utils.WebSocketEvent{
		Type: "scan/peripheral",
		Payload: utils.PeripheralPayload{
			ID:         p.ID,
			Name:       p.Name,
			RSSI:       p.RSSI,
			HasService: p.HasService,
			LastSeen:   p.LastSeen.Unix(),
		},
	})

	if auto && (p.HasService || MatchesHardwareName(p.Name)) && c.claimConnect() {
		log.Printf("BLE: auto-connecting to %s", displayName(p.Name, p.ID))
		go c.connect(p.ID)
	}
}

func (c *Client) handleDisconnected(reason error) {
	c.teardownLink()
	if reason != nil {
		c.setState(StateDisconnected, fmt.Sprintf("connection lost: %v", reason))
	} else {
		c.setState(StateDisconnected, "connection lost")
	}
	c.maybeRescan()
}

// teardownLink releases everything tied to the current connection: the RSSI
// poller and any half-received config transfer.
func (c *Client) teardownLink() {
	c.mu.Lock()
	c.connectedID = ""
	c.lastRSSI = 0
	if c.rssiStop != nil {
		close(c.rssiStop)
		c.rssiStop = nil
	}
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
	c.mu.Unlock()

	if c.sync != nil {
		c.sync.AbandonInbound()
	}
}

func (c *Client) maybeRescan() {
	c.mu.Lock()
	auto := c.autoConnect
	state := c.state
	c.mu.Unlock()
	if auto && state == StateDisconnected {
		if err := c.StartScan(); err != nil {
			log.Printf("BLE: rescan failed: %v", err)
		}
	}
}

func (c *Client) applyRadioError(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		c.setState(StateUnauthorized, "bluetooth access denied")
	case errors.Is(err, ErrRadioUnavailable):
		c.setState(StateBluetoothOff, "bluetooth unavailable")
	}
}

func (c *Client) setState(state ConnectionState, status string) {
	c.mu.Lock()
	if c.state == state && c.statusText == status {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.statusText = status
	c.mu.Unlock()

	log.Printf("BLE: state -> %s (%s)", state, status)
	c.hub.Broadcast(utils.WebSocketEvent{
		Type: "connection/state",
		Payload: utils.ConnectionStatePayload{
			State:     state.String(),
			Status:    status,
			Timestamp: time.Now().Unix(),
		},
	})
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
