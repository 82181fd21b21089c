package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlexRomero01/Bridge-Server/config"
	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/metrics"
	"github.com/AlexRomero01/Bridge-Server/normalize"
	"github.com/AlexRomero01/Bridge-Server/record"
	"github.com/AlexRomero01/Bridge-Server/sink"
	"github.com/AlexRomero01/Bridge-Server/validator"
	"github.com/AlexRomero01/Bridge-Server/window"
)

// submitTimeout bounds how long a delivery callback may block on a full
// commit queue before the sealed entry is dropped and counted.
const submitTimeout = 5 * time.Second

// Manager owns the subscription and drives the whole pipeline: each inbound
// message is normalized, decoded, validated and ingested synchronously;
// sealed entries are handed to a bounded pool of commit workers so slow
// sinks never stall the delivery loop.
type Manager struct {
	client      *Client
	window      *window.Window
	sinks       *sink.Manager
	normalizers *normalize.Manager

	commitCh chan record.CommitRecord
	workers  int
	wg       sync.WaitGroup

	commitCtx    context.Context
	commitCancel context.CancelFunc
	quit         chan struct{}

	sendMu sync.RWMutex
	closed bool
}

// NewManager wires the pipeline together.
func NewManager(cfg *config.Config, normalizers *normalize.Manager, sinks *sink.Manager) (*Manager, error) {
	workers := cfg.Window.CommitWorkers
	if workers <= 0 {
		workers = 4
	}
	queue := cfg.Window.CommitQueue
	if queue <= 0 {
		queue = 256
	}

	m := &Manager{
		sinks:       sinks,
		normalizers: normalizers,
		commitCh:    make(chan record.CommitRecord, queue),
		workers:     workers,
	}

	m.window = window.New(window.Config{
		Resolution: cfg.Window.Resolution,
		Timeout:    cfg.Window.Timeout,
		MaxOpen:    cfg.Window.MaxOpen,
		DedupFor:   cfg.Window.DedupFor,
		Expected:   expectedVariants(cfg.Window.ExpectedVariants),
	}, m.submitSealed)

	client, err := newClient(cfg.MQTT, m.handleMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT client: %v", err)
	}
	m.client = client

	return m, nil
}

// expectedVariants converts the config's string sets to typed variants.
func expectedVariants(byClass map[string][]string) map[string][]record.Variant {
	out := make(map[string][]record.Variant, len(byClass))
	for class, names := range byClass {
		variants := make([]record.Variant, 0, len(names))
		for _, name := range names {
			variants = append(variants, record.Variant(name))
		}
		out[class] = variants
	}
	return out
}

// Start connects, subscribes to all configured topics and starts the commit
// workers. The manager is only considered subscribed once every topic
// subscription succeeded.
func (m *Manager) Start() error {
	m.startPipeline()

	if err := m.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %v", err)
	}
	// Subscriptions happen in the OnConnect handler so they survive
	// reconnects; verify the initial round explicitly so a bad topic fails
	// startup instead of being logged and forgotten.
	for _, topic := range m.client.config.Topics {
		if err := m.client.Subscribe(topic); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %v", topic, err)
		}
	}

	return nil
}

// startPipeline starts the commit workers and the gauge updater.
func (m *Manager) startPipeline() {
	m.commitCtx, m.commitCancel = context.WithCancel(context.Background())
	m.quit = make(chan struct{})

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.commitWorker()
	}

	m.wg.Add(1)
	go m.openGaugeUpdater()
}

// ApplyConfig applies a hot-reloaded configuration: normalizer scripts and
// expected variant sets take effect without a restart. Broker and sink
// settings need a restart. The normalizer set is replaced wholesale, so a
// kind deleted from the config stops rewriting payloads.
func (m *Manager) ApplyConfig(cfg *config.Config) error {
	if err := m.normalizers.ReplaceAll(cfg.Normalizers); err != nil {
		return err
	}
	m.window.SetExpected(expectedVariants(cfg.Window.ExpectedVariants))
	return nil
}

// handleMessage is the per-message pipeline. Every failure is contained:
// logged, counted, and the message dropped without touching the delivery
// loop.
func (m *Manager) handleMessage(topic string, payload []byte) {
	metrics.MessagesReceived.Inc()

	normalized, applied, err := m.normalizers.Apply(topic, payload)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("normalize").Inc()
		logger.Error("normalizer failed for topic %s: %v", topic, err)
		return
	}
	if applied {
		logger.Debug("normalized payload for topic %s", topic)
	}

	rec, err := record.Decode(topic, normalized)
	if err != nil {
		reason := "malformed_payload"
		if record.IsUnknownTopic(err) {
			reason = "unknown_topic"
		}
		metrics.DecodeErrors.WithLabelValues(reason).Inc()
		logger.Warn("dropped message: %v", err)
		return
	}

	if err := validator.ValidateRecord(rec); err != nil {
		metrics.DecodeErrors.WithLabelValues("out_of_range").Inc()
		logger.Warn("dropped message: %v", err)
		return
	}

	metrics.RecordsIngested.WithLabelValues(string(rec.Variant())).Inc()

	if sealed := m.window.Ingest(rec); sealed != nil {
		m.submitSealed(*sealed)
	}
}

// submitSealed hands a sealed entry to the commit workers with a bounded
// wait. Dropping here only happens when the queue has been saturated for
// the full submit timeout, which means both sinks are down anyway.
func (m *Manager) submitSealed(cr record.CommitRecord) {
	metrics.EntriesSealed.WithLabelValues(cr.SealReason).Inc()

	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.closed {
		logger.Error("commit queue closed, dropping sealed entry %s", cr.Key)
		metrics.CommitQueueDrops.Inc()
		return
	}

	timer := time.NewTimer(submitTimeout)
	defer timer.Stop()
	select {
	case m.commitCh <- cr:
	case <-timer.C:
		metrics.CommitQueueDrops.Inc()
		logger.Error("commit queue saturated, dropping sealed entry %s", cr.Key)
	}
}

// commitWorker drains the commit queue.
func (m *Manager) commitWorker() {
	defer m.wg.Done()

	for cr := range m.commitCh {
		result := m.sinks.Commit(m.commitCtx, cr)

		status := "ok"
		for _, res := range result.Results {
			if res.Err != nil {
				status = "partial"
				metrics.SinkWriteFailures.WithLabelValues(res.Sink).Inc()
			}
		}
		if len(result.Failed()) == len(result.Results) && len(result.Results) > 0 {
			status = "failed"
		}
		metrics.Commits.WithLabelValues(status).Inc()

		if result.Ok() {
			logger.Debug("%s", result)
		} else {
			logger.Error("%s", result)
		}
	}
}

// openGaugeUpdater keeps the open-entries gauge current.
func (m *Manager) openGaugeUpdater() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			metrics.EntriesOpen.Set(float64(m.window.Open()))
		}
	}
}

// Stop shuts the pipeline down: unsubscribe so no new messages arrive,
// force-seal and commit whatever the window still holds, then give in-flight
// commits the grace period before cancelling them.
func (m *Manager) Stop(grace time.Duration) {
	if err := m.client.Unsubscribe(); err != nil {
		logger.Warn("unsubscribe failed: %v", err)
	}
	m.stopPipeline(grace)
	m.client.Disconnect()
}

// stopPipeline drains the window and the commit queue.
func (m *Manager) stopPipeline(grace time.Duration) {
	for _, cr := range m.window.Drain() {
		m.submitSealed(cr)
	}

	m.sendMu.Lock()
	m.closed = true
	close(m.commitCh)
	m.sendMu.Unlock()
	close(m.quit)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("shutdown grace period expired, abandoning in-flight commits")
	}
	m.commitCancel()
}
