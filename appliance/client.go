// Package appliance maintains the WebSocket session to the vessel monitoring
// appliance and decodes its tank and battery telemetry.
package appliance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"seabridge/logging"
)

const (
	DefaultKeepAliveToken    = "ping"
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultRequestInterval   = 5 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultDialTimeout       = 10 * time.Second
)

// ErrClientClosed is returned after Disconnect has been called.
var ErrClientClosed = errors.New("appliance client closed")

var errNotConnected = errors.New("appliance not connected")

// State represents the session state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// DataRequest is a periodic fetch_map request for one data category.
type DataRequest struct {
	Category   string
	Interval   time.Duration
	CallbackID int
}

// DefaultRequests returns the tank and battery map requests.
func DefaultRequests() []DataRequest {
	return []DataRequest{
		{Category: ClassTank, Interval: DefaultRequestInterval, CallbackID: 1},
		{Category: ClassBattery, Interval: DefaultRequestInterval, CallbackID: 2},
	}
}

// LogFunc is a printf-style log sink.
type LogFunc func(format string, args ...interface{})

// Options configures a Client. Zero values select the defaults.
type Options struct {
	KeepAliveToken    string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration

	// Requests defaults to DefaultRequests when nil. An empty non-nil slice
	// disables data requests.
	Requests []DataRequest

	Dialer Dialer

	Debug LogFunc
	Error LogFunc

	// OnStateChange is called after every state transition.
	OnStateChange func(State)
}

func (o Options) withDefaults() (Options, error) {
	if o.KeepAliveToken == "" {
		o.KeepAliveToken = DefaultKeepAliveToken
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Requests == nil {
		o.Requests = DefaultRequests()
	}

	requests := make([]DataRequest, len(o.Requests))
	seen := make(map[int]string, len(o.Requests))
	for i, req := range o.Requests {
		if req.Category == "" {
			return o, fmt.Errorf("data request %d: category is required", i)
		}
		if req.Interval <= 0 {
			req.Interval = DefaultRequestInterval
		}
		if req.CallbackID == 0 {
			req.CallbackID = i + 1
		}
		if other, dup := seen[req.CallbackID]; dup {
			return o, fmt.Errorf("data request %s: callback_id %d already used by %s", req.Category, req.CallbackID, other)
		}
		seen[req.CallbackID] = req.Category
		requests[i] = req
	}
	o.Requests = requests

	if o.Dialer == nil {
		o.Dialer = &WebsocketDialer{}
	}
	if o.Debug == nil || o.Error == nil {
		debug, errorf := logging.ConsoleSink("appliance")
		if o.Debug == nil {
			o.Debug = debug
		}
		if o.Error == nil {
			o.Error = errorf
		}
	}
	return o, nil
}

// Stats are cumulative counters for a Client.
type Stats struct {
	FramesReceived  uint64
	FramesMalformed uint64
	Reconnects      uint64
}

// Client owns one appliance session: the transport, the heartbeat and data
// request tickers, frame decoding, the latest-value stores and listener dispatch.
//
// All frame handling, ticker sends, listener calls and state callbacks run on
// a single session goroutine. Connect and Disconnect never block on the network.
type Client struct {
	endpoint  Endpoint
	opts      Options
	listeners *registry

	tanks     *Store[TankReading]
	batteries *Store[BatteryReading]

	mu        sync.Mutex
	state     State
	transport Transport
	running   bool
	closed    bool // set by Disconnect; suppresses reconnect
	cancel    context.CancelFunc
	done      chan struct{}
	lastErr   error

	// writeMu serializes frame writes. It is never taken while mu is held.
	writeMu sync.Mutex

	framesReceived  atomic.Uint64
	framesMalformed atomic.Uint64
	reconnects      atomic.Uint64
}

// NewClient creates a client for endpoint. It does not connect.
func NewClient(endpoint Endpoint, opts Options) (*Client, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:  endpoint,
		opts:      opts,
		tanks:     NewStore[TankReading](),
		batteries: NewStore[BatteryReading](),
		state:     StateDisconnected,
	}
	c.listeners = newRegistry(c.onListenerFault)
	return c, nil
}

// Endpoint returns the appliance endpoint.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the session is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// LastError returns the most recent transport error, cleared on a successful connect.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Stats returns the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		FramesReceived:  c.framesReceived.Load(),
		FramesMalformed: c.framesMalformed.Load(),
		Reconnects:      c.reconnects.Load(),
	}
}

// Tank returns the latest reading for a tank.
func (c *Client) Tank(name string) (TankReading, bool) {
	return c.tanks.Get(name)
}

// Battery returns the latest reading for a battery.
func (c *Client) Battery(name string) (BatteryReading, bool) {
	return c.batteries.Get(name)
}

// Tanks returns a copy of all latest tank readings.
func (c *Client) Tanks() map[string]TankReading {
	return c.tanks.Snapshot()
}

// Batteries returns a copy of all latest battery readings.
func (c *Client) Batteries() map[string]BatteryReading {
	return c.batteries.Snapshot()
}

// Subscribe registers fn for events of the given kind.
func (c *Client) Subscribe(kind EventKind, fn Listener) {
	c.listeners.subscribe(kind, fn)
}

// SubscribeTankUpdates registers fn for every decoded tank reading.
func (c *Client) SubscribeTankUpdates(fn func(TankReading)) {
	c.listeners.subscribe(EventTankUpdate, func(e Event) { fn(e.Tank) })
}

// SubscribeBatteryUpdates registers fn for every decoded battery reading.
func (c *Client) SubscribeBatteryUpdates(fn func(BatteryReading)) {
	c.listeners.subscribe(EventBatteryUpdate, func(e Event) { fn(e.Battery) })
}

// SubscribeTransportErrors registers fn for transport faults and malformed frames.
func (c *Client) SubscribeTransportErrors(fn func(error)) {
	c.listeners.subscribe(EventTransportError, func(e Event) { fn(e.Err) })
}

// Connect starts the session goroutine and returns immediately. Calling it
// while already running is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Disconnect permanently stops the client: tickers and any pending reconnect
// are cancelled and the transport is released. It is idempotent and may be
// called before Connect or while a connection attempt is in flight.
//
// Closing the transport unblocks a write stalled on the peer, so Disconnect
// returns promptly. No frame is written once it has returned.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		logging.DebugDisconnect("appliance", c.endpoint.URL(), "disconnect requested")
		t.Close()
	}

	// Wait out a write that passed the closed check before it was set.
	c.writeMu.Lock()
	c.writeMu.Unlock()
}

// Wait blocks until the session goroutine has exited. It returns immediately
// if Connect was never called.
func (c *Client) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StateDisconnected)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.reconnects.Add(1)
		}
		c.session(ctx)
		if ctx.Err() != nil {
			return
		}

		c.opts.Debug("reconnecting to %s in %v", c.endpoint.URL(), c.opts.ReconnectDelay)
		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

type inbound struct {
	data []byte
	err  error
}

// session runs one connection from dial to close.
func (c *Client) session(ctx context.Context) {
	url := c.endpoint.URL()
	c.setState(StateConnecting)
	logging.DebugConnect("appliance", url)

	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.DialTimeout)
	t, err := c.opts.Dialer.Dial(dialCtx, url)
	cancelDial()
	if err != nil {
		c.setState(StateDisconnected)
		if ctx.Err() == nil {
			logging.DebugConnectError("appliance", url, err)
			c.transportError(fmt.Errorf("connect %s: %w", url, err))
		}
		return
	}

	if !c.attach(t) {
		t.Close()
		return
	}

	sessionCtx, stop := context.WithCancel(ctx)
	defer func() {
		if ctx.Err() != nil {
			c.setState(StateClosing)
		}
		stop()
		c.detach(t)
	}()

	logging.DebugConnectSuccess("appliance", url, "session open")
	c.opts.Debug("connected to %s", url)
	c.setState(StateOpen)

	frames := make(chan inbound, 16)
	go readLoop(sessionCtx, t, frames)

	due := make(chan int)
	for i := range c.opts.Requests {
		go schedule(sessionCtx, c.opts.Requests[i].Interval, i, due)
	}

	heartbeat := time.NewTicker(c.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for i := range c.opts.Requests {
		if err := c.request(i); err != nil {
			c.sendFailed(ctx, err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case in := <-frames:
			if in.err != nil {
				c.readFailed(ctx, in.err)
				return
			}
			c.handleFrame(in.data)

		case <-heartbeat.C:
			if err := c.send([]byte(c.opts.KeepAliveToken)); err != nil {
				c.sendFailed(ctx, err)
				return
			}

		case i := <-due:
			if err := c.request(i); err != nil {
				c.sendFailed(ctx, err)
				return
			}
		}
	}
}

func readLoop(ctx context.Context, t Transport, frames chan<- inbound) {
	for {
		data, err := t.ReadMessage()
		select {
		case frames <- inbound{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func schedule(ctx context.Context, interval time.Duration, index int, due chan<- int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case due <- index:
			case <-ctx.Done():
				return
			}
		}
	}
}

// attach installs t as the live transport unless Disconnect got there first.
func (c *Client) attach(t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.transport = t
	c.lastErr = nil
	return true
}

func (c *Client) detach(t Transport) {
	c.mu.Lock()
	if c.transport == t {
		c.transport = nil
	}
	c.mu.Unlock()

	t.Close()
	c.setState(StateDisconnected)
}

// send writes one frame. The client lock only covers the closed check, so
// State and Disconnect never wait on the peer.
func (c *Client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	closed, t := c.closed, c.transport
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	if t == nil {
		return errNotConnected
	}

	logging.DebugTX("appliance", data)
	if err := t.WriteMessage(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) request(index int) error {
	data, err := EncodeRequest(c.opts.Requests[index])
	if err != nil {
		return err
	}
	return c.send(data)
}

func (c *Client) sendFailed(ctx context.Context, err error) {
	if ctx.Err() != nil || errors.Is(err, ErrClientClosed) {
		return
	}
	c.setState(StateClosing)
	c.transportError(err)
}

func (c *Client) readFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	c.setState(StateClosing)
	logging.DebugDisconnect("appliance", c.endpoint.URL(), err.Error())

	if errors.Is(err, ErrTransportClosed) {
		c.opts.Debug("appliance closed the connection: %v", err)
		return
	}
	c.transportError(fmt.Errorf("read: %w", err))
}

func (c *Client) transportError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	c.opts.Error("transport error: %v", err)
	c.listeners.notify(Event{Kind: EventTransportError, Err: err})
}

func (c *Client) handleFrame(raw []byte) {
	c.framesReceived.Add(1)
	logging.DebugRX("appliance", raw)

	frame, err := Decode(raw, c.opts.KeepAliveToken)
	if err != nil {
		c.framesMalformed.Add(1)
		c.opts.Error("dropping frame: %v", err)
		c.listeners.notify(Event{Kind: EventTransportError, Err: err})
		return
	}

	switch frame.Kind {
	case FrameKeepAlive:
		return

	case FrameTank:
		reading := TranslateTank(frame.Tank)
		c.tanks.Put(reading.Name, reading)
		c.listeners.notify(Event{Kind: EventTankUpdate, Tank: reading})

	case FrameBattery:
		reading := TranslateBattery(frame.Battery)
		c.batteries.Put(reading.Name, reading)
		c.listeners.notify(Event{Kind: EventBatteryUpdate, Battery: reading})

	default:
		c.opts.Debug("ignoring frame with class %q", frame.Class)
	}
}

func (c *Client) onListenerFault(kind EventKind, index int, fault error) {
	c.opts.Error("%s listener %d: %v", kind, index, fault)
}

// setState records a transition and notifies OnStateChange. Only the session
// goroutine calls it, so callbacks arrive in transition order. Once Disconnect
// has been called the client can no longer move to Connecting or Open.
func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s || (c.closed && (s == StateConnecting || s == StateOpen)) {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.opts.OnStateChange
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
