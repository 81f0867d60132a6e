package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"seabridge/config"
	"seabridge/signalk"
)

// HealthMessage is the JSON structure published to the health topic.
type HealthMessage struct {
	Appliance string `json:"appliance"`
	Online    bool   `json:"online"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// publishJob represents a pending Kafka publish operation.
type publishJob struct {
	producer *Producer
	topic    string
	key      []byte
	payload  []byte
	cacheKey string
	value    string // change-detection fingerprint; empty for health
}

// Manager manages multiple Kafka producer connections.
type Manager struct {
	producers  map[string]*Producer
	mu         sync.RWMutex
	lastValues map[string]string // cluster/key -> fingerprint of last published delta
	lastMu     sync.RWMutex

	// Worker pool for bounded publish goroutines
	publishQueue chan publishJob
	wg           sync.WaitGroup
	stopChan     chan struct{}
	started      bool
	dropped      int64
}

// MaxPublishWorkers is the maximum number of concurrent publish goroutines.
const MaxPublishWorkers = 4

// MaxPublishQueueSize is the maximum number of pending publish jobs.
const MaxPublishQueueSize = 1000

// NewManager creates a new Kafka manager.
func NewManager() *Manager {
	m := newManager()
	m.startWorkers()
	return m
}

func newManager() *Manager {
	return &Manager{
		producers:    make(map[string]*Producer),
		lastValues:   make(map[string]string),
		publishQueue: make(chan publishJob, MaxPublishQueueSize),
		stopChan:     make(chan struct{}),
	}
}

// startWorkers starts the publish worker goroutines.
func (m *Manager) startWorkers() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	queue := m.publishQueue
	stop := m.stopChan
	m.mu.Unlock()

	for i := 0; i < MaxPublishWorkers; i++ {
		m.wg.Add(1)
		go m.publishWorker(queue, stop)
	}
}

// publishWorker processes publish jobs from the queue.
func (m *Manager) publishWorker(queue <-chan publishJob, stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case job := <-queue:
			cfg := job.producer.config
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := job.producer.ProduceWithRetry(ctx, job.topic, job.key, job.payload, cfg.MaxRetries, cfg.RetryBackoff)
			cancel()
			if err != nil {
				logKafka("Failed to publish %s: %v", job.cacheKey, err)
				continue
			}
			if job.value != "" {
				m.remember(job.cacheKey, job.value)
			}
		}
	}
}

// enqueue queues a job without blocking. Returns false if the job was dropped.
func (m *Manager) enqueue(job publishJob) bool {
	m.mu.RLock()
	queue := m.publishQueue
	m.mu.RUnlock()

	select {
	case queue <- job:
		return true
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		logKafka("Publish queue full, dropping message for %s", job.cacheKey)
		return false
	}
}

// Dropped returns how many messages were dropped because the queue was full.
func (m *Manager) Dropped() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}

// AddCluster adds a new Kafka cluster configuration.
func (m *Manager) AddCluster(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.producers[cfg.Name]; exists {
		return
	}
	m.producers[cfg.Name] = NewProducer(cfg)
}

// RemoveCluster removes a Kafka cluster and disconnects.
func (m *Manager) RemoveCluster(name string) {
	m.mu.Lock()
	producer, exists := m.producers[name]
	if exists {
		delete(m.producers, name)
	}
	m.mu.Unlock()

	if exists && producer != nil {
		producer.Disconnect()
	}
}

// GetProducer returns the producer for the named cluster.
func (m *Manager) GetProducer(name string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producers[name]
}

// ListClusters returns all cluster names, sorted.
func (m *Manager) ListClusters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.producers))
	for name := range m.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) producerList() []*Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	producers := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		producers = append(producers, p)
	}
	return producers
}

// Connect connects to the named Kafka cluster.
func (m *Manager) Connect(name string) error {
	producer := m.GetProducer(name)
	if producer == nil {
		return fmt.Errorf("kafka cluster not found: %s", name)
	}
	return producer.Connect()
}

// ConnectEnabled connects to all enabled Kafka clusters in the background.
func (m *Manager) ConnectEnabled() {
	m.startWorkers()
	for _, p := range m.producerList() {
		if p.config.Enabled {
			go func(p *Producer) {
				if err := p.Connect(); err != nil {
					logKafka("Failed to connect %s: %v", p.config.Name, err)
				}
			}(p)
		}
	}
}

// StopAll disconnects from all Kafka clusters and stops workers. A later
// ConnectEnabled or publish restarts the workers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	wasStarted := m.started
	oldStopChan := m.stopChan
	if wasStarted {
		m.stopChan = make(chan struct{})
		m.publishQueue = make(chan publishJob, MaxPublishQueueSize)
		m.started = false
	}
	m.mu.Unlock()

	if wasStarted {
		close(oldStopChan)

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			logKafka("Timeout waiting for publish workers to stop")
		}
	}

	for _, p := range m.producerList() {
		p.Disconnect()
	}
}

// GetClusterStatus returns the status of a specific cluster.
func (m *Manager) GetClusterStatus(name string) (ConnectionStatus, error) {
	producer := m.GetProducer(name)
	if producer == nil {
		return StatusDisconnected, fmt.Errorf("cluster not found")
	}
	return producer.GetStatus(), producer.GetError()
}

// LoadFromConfig resolves and adds persisted cluster entries.
func (m *Manager) LoadFromConfig(cfgs []config.KafkaConfig, ns string) {
	for i := range cfgs {
		resolved := FromAppConfig(&cfgs[i], ns)
		m.AddCluster(&resolved)
	}
}

// DebugLogger is an interface for debug logging.
type DebugLogger interface {
	LogKafka(format string, args ...interface{})
}

var debugLog DebugLogger

// SetDebugLogger sets the debug logger for Kafka.
func SetDebugLogger(logger DebugLogger) {
	debugLog = logger
}

func logKafka(format string, args ...interface{}) {
	if debugLog != nil {
		debugLog.LogKafka(format, args...)
	}
}

// publishing reports whether p should receive bridge messages.
func publishing(p *Producer) bool {
	return p.GetStatus() == StatusConnected && p.config.PublishChanges && p.config.Topic != ""
}

// PublishDelta queues d for every publishing cluster, keyed by the reading
// name so one reading's deltas stay ordered on a partition. Unchanged deltas
// are skipped unless force is set.
func (m *Manager) PublishDelta(key string, d *signalk.Delta, force bool) {
	m.startWorkers()

	payload, err := d.JSON()
	if err != nil {
		logKafka("Failed to encode delta for %s: %v", key, err)
		return
	}
	fingerprint := deltaFingerprint(d)

	for _, p := range m.producerList() {
		if !publishing(p) {
			continue
		}

		cacheKey := p.config.Name + "/" + key
		if !m.shouldPublish(cacheKey, fingerprint, force) {
			continue
		}

		m.enqueue(publishJob{
			producer: p,
			topic:    p.config.Topic,
			key:      []byte(key),
			payload:  payload,
			cacheKey: cacheKey,
			value:    fingerprint,
		})
	}
}

// PublishHealth queues bridge health for every publishing cluster.
func (m *Manager) PublishHealth(appliance string, online bool, state, errMsg string) {
	m.startWorkers()

	payload, err := json.Marshal(HealthMessage{
		Appliance: appliance,
		Online:    online,
		State:     state,
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	for _, p := range m.producerList() {
		if !publishing(p) {
			continue
		}
		m.enqueue(publishJob{
			producer: p,
			topic:    p.config.HealthTopic(),
			key:      []byte(appliance),
			payload:  payload,
			cacheKey: p.config.Name + "/health",
		})
	}
}

// AnyPublishing returns true if any cluster has PublishChanges enabled and is connected.
func (m *Manager) AnyPublishing() bool {
	for _, p := range m.producerList() {
		if publishing(p) {
			return true
		}
	}
	return false
}

// ClearLastValues clears the change tracking cache, forcing republish of all values.
func (m *Manager) ClearLastValues() {
	m.lastMu.Lock()
	m.lastValues = make(map[string]string)
	m.lastMu.Unlock()
}

func (m *Manager) shouldPublish(cacheKey, fingerprint string, force bool) bool {
	if force {
		return true
	}
	m.lastMu.RLock()
	last, exists := m.lastValues[cacheKey]
	m.lastMu.RUnlock()
	return !exists || last != fingerprint
}

func (m *Manager) remember(cacheKey, fingerprint string) {
	m.lastMu.Lock()
	m.lastValues[cacheKey] = fingerprint
	m.lastMu.Unlock()
}

// deltaFingerprint renders the paths and values of d, ignoring timestamps.
func deltaFingerprint(d *signalk.Delta) string {
	var sb strings.Builder
	for _, v := range d.Values() {
		fmt.Fprintf(&sb, "%s=%v;", v.Path, v.Value)
	}
	return sb.String()
}
