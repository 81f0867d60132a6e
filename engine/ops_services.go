package engine

import (
	"fmt"
	"sort"
	"strings"

	"seabridge/kafka"
)

// Publisher kinds accepted by the service operations.
const (
	ServiceMQTT   = "mqtt"
	ServiceValkey = "valkey"
	ServiceKafka  = "kafka"
)

// ServiceStatus describes one configured publisher.
type ServiceStatus struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Services lists every configured publisher, ordered by kind then name.
func (e *Engine) Services() []ServiceStatus {
	var out []ServiceStatus

	for _, pub := range e.mqttMgr.List() {
		out = append(out, ServiceStatus{
			Kind:    ServiceMQTT,
			Name:    pub.Name(),
			Address: pub.Address(),
			Enabled: pub.Config().Enabled,
			Running: pub.IsRunning(),
		})
	}
	for _, pub := range e.valkeyMgr.List() {
		out = append(out, ServiceStatus{
			Kind:    ServiceValkey,
			Name:    pub.Name(),
			Address: pub.Address(),
			Enabled: pub.Config().Enabled,
			Running: pub.IsRunning(),
		})
	}
	for _, name := range e.kafkaMgr.ListClusters() {
		p := e.kafkaMgr.GetProducer(name)
		if p == nil {
			continue
		}
		st := ServiceStatus{
			Kind:    ServiceKafka,
			Name:    name,
			Address: strings.Join(p.Config().Brokers, ","),
			Enabled: p.Config().Enabled,
			Running: p.GetStatus() == kafka.StatusConnected,
		}
		if err := p.GetError(); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// StartService starts (or connects) the named publisher.
func (e *Engine) StartService(kind, name string) error {
	var err error
	switch kind {
	case ServiceMQTT:
		pub := e.mqttMgr.Get(name)
		if pub == nil {
			return fmt.Errorf("%w: MQTT broker '%s'", ErrNotFound, name)
		}
		err = pub.Start()
	case ServiceValkey:
		pub := e.valkeyMgr.Get(name)
		if pub == nil {
			return fmt.Errorf("%w: Valkey server '%s'", ErrNotFound, name)
		}
		err = pub.Start()
	case ServiceKafka:
		if e.kafkaMgr.GetProducer(name) == nil {
			return fmt.Errorf("%w: Kafka cluster '%s'", ErrNotFound, name)
		}
		err = e.kafkaMgr.Connect(name)
	default:
		return fmt.Errorf("%w: unknown service kind '%s'", ErrInvalidInput, kind)
	}
	if err != nil {
		return err
	}

	e.emit(EventServiceStarted, ServiceEvent{Kind: kind, Name: name})
	return nil
}

// StopService stops (or disconnects) the named publisher.
func (e *Engine) StopService(kind, name string) error {
	switch kind {
	case ServiceMQTT:
		pub := e.mqttMgr.Get(name)
		if pub == nil {
			return fmt.Errorf("%w: MQTT broker '%s'", ErrNotFound, name)
		}
		pub.Stop()
	case ServiceValkey:
		pub := e.valkeyMgr.Get(name)
		if pub == nil {
			return fmt.Errorf("%w: Valkey server '%s'", ErrNotFound, name)
		}
		pub.Stop()
	case ServiceKafka:
		p := e.kafkaMgr.GetProducer(name)
		if p == nil {
			return fmt.Errorf("%w: Kafka cluster '%s'", ErrNotFound, name)
		}
		p.Disconnect()
	default:
		return fmt.Errorf("%w: unknown service kind '%s'", ErrInvalidInput, kind)
	}

	e.emit(EventServiceStopped, ServiceEvent{Kind: kind, Name: name})
	return nil
}

// ForcePublishAll queues a full republish of every stored reading to all
// services, bypassing change detection.
func (e *Engine) ForcePublishAll() error {
	if e.GetClient() == nil {
		return ErrNotStarted
	}
	if !e.enqueue(e.forcePublishAllValues) {
		return fmt.Errorf("publish queue full")
	}
	e.emit(EventForcePublished, SystemEvent{Detail: "all"})
	return nil
}
