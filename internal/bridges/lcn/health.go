package lcn

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Publisher is the part of the MQTT client the health reporter needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// healthReporter publishes the health of one PCHK connection, once on
// every status change and periodically when an interval is set.
type healthReporter struct {
	entryID   string
	host      string
	interval  time.Duration
	publisher Publisher
	status    func() (HealthStatus, string)
	entities  int
	logger    Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newHealthReporter(rt *entryRuntime, publisher Publisher, interval time.Duration, logger Logger) *healthReporter {
	return &healthReporter{
		entryID:   rt.entryID,
		host:      rt.data.Host,
		interval:  interval,
		publisher: publisher,
		status:    rt.healthStatus,
		entities:  len(rt.entities),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start publishes the current status and, with an interval, keeps
// publishing until Stop or ctx is done.
func (h *healthReporter) Start(ctx context.Context) {
	h.PublishNow()
	if h.interval <= 0 {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				h.PublishNow()
			}
		}
	}()
}

// Stop ends periodic reporting and publishes a final offline status.
// Safe to call multiple times.
func (h *healthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.publish(HealthOffline, "entry unloaded")
	})
}

// PublishNow publishes the current status.
func (h *healthReporter) PublishNow() {
	status, reason := h.status()
	h.publish(status, reason)
}

func (h *healthReporter) publish(status HealthStatus, reason string) {
	if h.publisher == nil {
		return
	}

	msg := HealthMessage{
		EntryID:   h.entryID,
		Host:      h.host,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Entities:  h.entities,
		Reason:    reason,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal health", "entry_id", h.entryID, "error", err)
		return
	}
	if err := h.publisher.Publish(HealthTopic(h.entryID), payload, 1, true); err != nil {
		h.logger.Warn("failed to publish health", "entry_id", h.entryID, "error", err)
	}
}
