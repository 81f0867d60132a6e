package engine

import (
	"time"

	"seabridge/appliance"
	"seabridge/logging"
)

// HealthInterval is how often bridge health is republished between state changes.
const HealthInterval = 10 * time.Second

// setupListeners subscribes the engine to the appliance client. Listeners run
// on the session goroutine, so they only emit events and queue publish work.
func (e *Engine) setupListeners() {
	e.client.SubscribeTankUpdates(func(r appliance.TankReading) {
		e.emit(EventTankUpdated, ReadingEvent{Name: r.Name, Reading: r})
		e.enqueue(func() { e.publishTank(r, false) })
	})

	e.client.SubscribeBatteryUpdates(func(r appliance.BatteryReading) {
		e.emit(EventBatteryUpdated, ReadingEvent{Name: r.Name, Reading: r})
		e.enqueue(func() { e.publishBattery(r, false) })
	})

	e.client.SubscribeTransportErrors(func(err error) {
		e.emit(EventTransportError, ErrorEvent{Error: err.Error()})
	})
}

// onStateChange emits the new state and publishes health for it.
func (e *Engine) onStateChange(s appliance.State) {
	var errMsg string
	if e.client != nil {
		if err := e.client.LastError(); err != nil {
			errMsg = err.Error()
		}
	}

	e.emit(EventStateChanged, StateEvent{State: s.String(), Error: errMsg})
	e.enqueue(func() { e.publishHealth(s == appliance.StateOpen, s.String(), errMsg) })
}

// publishWorker runs queued publish work until the engine stops.
func (e *Engine) publishWorker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopChan:
			return
		case job := <-e.jobs:
			job()
		}
	}
}

// publishTank sends a tank reading to every publisher. Readings without a
// Signal K mapping are still stored as raw readings in Valkey.
func (e *Engine) publishTank(r appliance.TankReading, force bool) {
	e.valkeyMgr.PublishReading("tank", r.Name, r)

	d, ok := e.mapper.TankDelta(r)
	if !ok {
		logging.DebugLog("engine", "No mapping for tank %q", r.Name)
		return
	}
	e.mqttMgr.PublishDelta(d, force)
	e.valkeyMgr.PublishDelta(d)
	e.kafkaMgr.PublishDelta(r.Name, d, force)
}

// publishBattery sends a battery reading to every publisher.
func (e *Engine) publishBattery(r appliance.BatteryReading, force bool) {
	e.valkeyMgr.PublishReading("battery", r.Name, r)

	d, ok := e.mapper.BatteryDelta(r)
	if !ok {
		logging.DebugLog("engine", "No mapping for battery %q", r.Name)
		return
	}
	e.mqttMgr.PublishDelta(d, force)
	e.valkeyMgr.PublishDelta(d)
	e.kafkaMgr.PublishDelta(r.Name, d, force)
}

// publishHealth sends bridge health to every publisher.
func (e *Engine) publishHealth(online bool, state, errMsg string) {
	endpoint := ""
	if e.client != nil {
		endpoint = e.client.Endpoint().URL()
	}
	e.mqttMgr.PublishHealth(endpoint, online, state, errMsg)
	e.valkeyMgr.PublishHealth(endpoint, online, state, errMsg)
	e.kafkaMgr.PublishHealth(endpoint, online, state, errMsg)
}

// publishHealthLoop republishes health every HealthInterval.
func (e *Engine) publishHealthLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			s := e.client.State()
			var errMsg string
			if err := e.client.LastError(); err != nil {
				errMsg = err.Error()
			}
			e.enqueue(func() { e.publishHealth(s == appliance.StateOpen, s.String(), errMsg) })
		}
	}
}

// forcePublishAllValuesToMQTT republishes every stored reading to MQTT brokers.
func (e *Engine) forcePublishAllValuesToMQTT() {
	tanks, batteries := e.client.Tanks(), e.client.Batteries()
	e.logFn("Publishing %d tanks and %d batteries to MQTT", len(tanks), len(batteries))
	for _, r := range tanks {
		if d, ok := e.mapper.TankDelta(r); ok {
			e.mqttMgr.PublishDelta(d, true)
		}
	}
	for _, r := range batteries {
		if d, ok := e.mapper.BatteryDelta(r); ok {
			e.mqttMgr.PublishDelta(d, true)
		}
	}
}

// forcePublishAllValuesToValkey rewrites every stored reading to Valkey servers.
func (e *Engine) forcePublishAllValuesToValkey() {
	tanks, batteries := e.client.Tanks(), e.client.Batteries()
	e.logFn("Publishing %d tanks and %d batteries to Valkey", len(tanks), len(batteries))
	for _, r := range tanks {
		e.valkeyMgr.PublishReading("tank", r.Name, r)
		if d, ok := e.mapper.TankDelta(r); ok {
			e.valkeyMgr.PublishDelta(d)
		}
	}
	for _, r := range batteries {
		e.valkeyMgr.PublishReading("battery", r.Name, r)
		if d, ok := e.mapper.BatteryDelta(r); ok {
			e.valkeyMgr.PublishDelta(d)
		}
	}
}

// forcePublishAllValues republishes every stored reading to all services.
func (e *Engine) forcePublishAllValues() {
	for _, r := range e.client.Tanks() {
		e.publishTank(r, true)
	}
	for _, r := range e.client.Batteries() {
		e.publishBattery(r, true)
	}
}
