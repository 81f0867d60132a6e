package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"seabridge/appliance"
	"seabridge/config"
	"seabridge/kafka"
	"seabridge/logging"
	"seabridge/mqtt"
	"seabridge/signalk"
	"seabridge/valkey"
)

// LogFunc is the logging callback signature shared with the appliance client.
type LogFunc = appliance.LogFunc

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig *config.Config
	LogFunc   LogFunc

	// Dialer overrides the appliance WebSocket dialer.
	Dialer appliance.Dialer
}

// SourceLabel identifies the bridge as the source of every delta.
const SourceLabel = "seabridge"

// MaxPublishQueueSize bounds the work queued from the appliance session to
// the publishers. Work beyond it is dropped.
const MaxPublishQueueSize = 256

// Engine owns the appliance client and the publishers and moves readings
// between them. The REST API and the CLI are thin consumers.
type Engine struct {
	cfg   *config.Config
	logFn LogFunc

	client    *appliance.Client
	mapper    *signalk.Mapper
	mqttMgr   *mqtt.Manager
	valkeyMgr *valkey.Manager
	kafkaMgr  *kafka.Manager

	Events *EventBus

	mu       sync.Mutex
	started  bool
	jobs     chan func()
	dropped  atomic.Int64
	stopChan chan struct{}
	wg       sync.WaitGroup
	dialer   appliance.Dialer
}

// New creates a new Engine. Call Start() to connect and begin publishing.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Engine{
		cfg:       c.AppConfig,
		logFn:     logFn,
		dialer:    c.Dialer,
		mapper:    signalk.NewMapper(SourceLabel, c.AppConfig.Tanks, c.AppConfig.Batteries),
		mqttMgr:   mqtt.NewManager(),
		valkeyMgr: valkey.NewManager(),
		kafkaMgr:  kafka.NewManager(),
		Events:    NewEventBus(),
		jobs:      make(chan func(), MaxPublishQueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Start creates the appliance client, wires it to the publishers, starts the
// enabled publishers and connects.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	cfg := e.cfg
	client, err := appliance.NewClient(
		appliance.Endpoint{Host: cfg.Appliance.Host, Port: cfg.Appliance.Port},
		e.clientOptions(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	e.client = client

	e.mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)
	e.valkeyMgr.LoadFromConfig(cfg.Valkey, cfg.Namespace)
	e.kafkaMgr.LoadFromConfig(cfg.Kafka, cfg.Namespace)

	e.setupListeners()

	// A (re)connected broker gets every current value again.
	e.mqttMgr.SetOnConnect(e.forcePublishAllValuesToMQTT)
	e.valkeyMgr.SetOnConnectCallback(e.forcePublishAllValuesToValkey)

	e.wg.Add(2)
	go e.publishWorker()
	go e.publishHealthLoop()

	go e.mqttMgr.StartAll()
	go e.valkeyMgr.StartAll()
	e.kafkaMgr.ConnectEnabled()

	e.started = true
	if err := client.Connect(); err != nil {
		return err
	}
	logging.DebugLog("engine", "Started: appliance %s, %d tank and %d battery mappings",
		client.Endpoint(), len(cfg.Tanks), len(cfg.Batteries))
	return nil
}

// clientOptions converts the appliance section of the config.
func (e *Engine) clientOptions() appliance.Options {
	a := e.cfg.Appliance
	opts := appliance.Options{
		KeepAliveToken:    a.KeepAliveToken,
		HeartbeatInterval: a.HeartbeatInterval,
		ReconnectDelay:    a.ReconnectDelay,
		Dialer:            e.dialer,
		Debug: func(format string, args ...interface{}) {
			logging.DebugLog("appliance", format, args...)
		},
		Error:         e.logFn,
		OnStateChange: e.onStateChange,
	}
	if a.Requests != nil {
		opts.Requests = make([]appliance.DataRequest, len(a.Requests))
		for i, r := range a.Requests {
			opts.Requests[i] = appliance.DataRequest{
				Category:   r.Category,
				Interval:   r.Interval,
				CallbackID: r.CallbackID,
			}
		}
	}
	return opts
}

// Stop disconnects from the appliance and shuts down all publishers.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopChan)
	client := e.client
	e.mu.Unlock()

	client.Disconnect()
	client.Wait()
	e.wg.Wait()

	// Final health so consumers see the bridge go offline.
	e.publishHealth(false, appliance.StateDisconnected.String(), "")

	e.mqttMgr.StopAll()
	e.valkeyMgr.StopAll()
	e.kafkaMgr.StopAll()
}

// enqueue hands work to the publish worker without blocking the caller.
func (e *Engine) enqueue(job func()) bool {
	select {
	case e.jobs <- job:
		return true
	default:
		e.dropped.Add(1)
		logging.DebugLog("engine", "Publish queue full, dropping work")
		return false
	}
}

// Dropped returns how many publish jobs were dropped because the queue was full.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

func (e *Engine) emit(t EventType, payload interface{}) {
	e.Events.Emit(Event{Type: t, Payload: payload})
}

func (e *Engine) GetConfig() *config.Config { return e.cfg }
func (e *Engine) GetMapper() *signalk.Mapper { return e.mapper }
func (e *Engine) GetMQTTMgr() *mqtt.Manager { return e.mqttMgr }
func (e *Engine) GetValkeyMgr() *valkey.Manager { return e.valkeyMgr }
func (e *Engine) GetKafkaMgr() *kafka.Manager { return e.kafkaMgr }

// GetClient returns the appliance client, or nil before Start.
func (e *Engine) GetClient() *appliance.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// Subscribe registers fn for every engine event.
func (e *Engine) Subscribe(fn func(Event)) int {
	return e.Events.Subscribe(fn)
}

// Unsubscribe removes a subscription made with Subscribe.
func (e *Engine) Unsubscribe(id int) {
	e.Events.Unsubscribe(id)
}
