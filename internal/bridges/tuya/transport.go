package tuya

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Transport constants.
const (
	// defaultQueueSize is used when TransportOptions.QueueSize is not set.
	defaultQueueSize = 64
)

// TransportStats contains device transport counters.
type TransportStats struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Coalesced uint64 `json:"coalesced"`
	Errors    uint64 `json:"errors"`
	Queued    int    `json:"queued"`
}

// outbound is one queued datapoint write.
type outbound struct {
	deviceID string
	dp       Datapoint
}

// writeKey identifies a pending write slot.
type writeKey struct {
	deviceID string
	id       DatapointID
}

// Transport carries datapoints between the bridge and an MQTT-attached Tuya
// MCU gateway.
//
// Reports arrive on {prefix}/{device}/dp/report as a single datapoint or a
// JSON array of datapoints. Writes are published to {prefix}/{device}/dp/set,
// one datapoint per message.
//
// Send never blocks: writes go into a bounded queue that one writer
// goroutine drains, waiting at least CommandInterval between publishes.
// The queue holds at most one pending write per device datapoint. A newer
// value for a datapoint that is still queued replaces the older one in
// place, so the device always receives the latest value. Only a write for a
// new datapoint can find the queue full, and that write is dropped.
//
// Thread Safety: All methods are safe for concurrent use.
type Transport struct {
	mqtt    MQTTClient
	prefix  string
	qos     byte
	limiter *rate.Limiter

	size      int
	pending   map[writeKey]Datapoint
	order     []writeKey
	pendingMu sync.Mutex
	wake      chan struct{}

	onDatapoint   func(deviceID string, dp Datapoint)
	onDatapointMu sync.RWMutex

	sent     atomic.Uint64
	received atomic.Uint64
	dropped   atomic.Uint64
	coalesced atomic.Uint64
	errs      atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// TransportOptions holds configuration for creating a transport.
type TransportOptions struct {
	// MQTTClient is the client connected to the gateway broker.
	MQTTClient MQTTClient

	// TopicPrefix is the gateway topic prefix. Default: "tuya".
	TopicPrefix string

	// QoS for gateway topics.
	QoS byte

	// QueueSize bounds the number of distinct pending writes. Default: 64.
	QueueSize int

	// CommandInterval is the minimum gap between two publishes.
	// Zero disables pacing.
	CommandInterval time.Duration
}

// NewTransport creates a transport. Call Start to begin operation.
func NewTransport(opts TransportOptions) (*Transport, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	prefix := opts.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	limit := rate.Inf
	if opts.CommandInterval > 0 {
		limit = rate.Every(opts.CommandInterval)
	}

	return &Transport{
		mqtt:    opts.MQTTClient,
		prefix:  prefix,
		qos:     opts.QoS,
		limiter: rate.NewLimiter(limit, 1),
		size:    size,
		pending: make(map[writeKey]Datapoint),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

// SetOnDatapoint sets the callback for reported datapoints.
// The callback runs on the MQTT delivery goroutine.
func (t *Transport) SetOnDatapoint(fn func(deviceID string, dp Datapoint)) {
	t.onDatapointMu.Lock()
	t.onDatapoint = fn
	t.onDatapointMu.Unlock()
}

// SetLogger sets the logger for the transport.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// Start subscribes to device reports and starts the writer.
func (t *Transport) Start(ctx context.Context) error {
	topic := ReportSubscribeTopic(t.prefix)
	if err := t.mqtt.Subscribe(topic, t.qos, t.handleReport); err != nil {
		return fmt.Errorf("subscribe to reports: %w", err)
	}
	t.logInfo("subscribed to device reports", "topic", topic)

	t.wg.Add(1)
	go t.writeLoop(ctx)

	return nil
}

// Stop stops the writer. Queued writes that have not been published are
// discarded.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.wg.Wait()
	})
}

// Send queues a datapoint write for deviceID. A write still pending for the
// same datapoint takes the new value.
//
// Returns:
//   - error: ErrUnsupportedType for types other than boolean and integer,
//     ErrQueueFull when the queue is full, ErrBridgeStopped after Stop
func (t *Transport) Send(deviceID string, dp Datapoint) error {
	if !dp.Type.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, dp.Type)
	}

	select {
	case <-t.done:
		return ErrBridgeStopped
	default:
	}

	key := writeKey{deviceID: deviceID, id: dp.ID}

	t.pendingMu.Lock()
	if _, ok := t.pending[key]; ok {
		t.pending[key] = dp
		t.pendingMu.Unlock()
		t.coalesced.Add(1)
		return nil
	}
	if len(t.order) >= t.size {
		t.pendingMu.Unlock()
		t.dropped.Add(1)
		return fmt.Errorf("%w: %s %s", ErrQueueFull, deviceID, dp)
	}
	t.pending[key] = dp
	t.order = append(t.order, key)
	t.pendingMu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

// queued returns the number of pending writes.
func (t *Transport) queued() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.order)
}

// next removes and returns the oldest pending write.
func (t *Transport) next() (outbound, bool) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	if len(t.order) == 0 {
		return outbound{}, false
	}
	key := t.order[0]
	t.order = t.order[1:]
	dp := t.pending[key]
	delete(t.pending, key)
	return outbound{deviceID: key.deviceID, dp: dp}, true
}

// Stats returns the transport counters.
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		Sent:     t.sent.Load(),
		Received: t.received.Load(),
		Dropped:   t.dropped.Load(),
		Coalesced: t.coalesced.Load(),
		Errors:    t.errs.Load(),
		Queued:    t.queued(),
	}
}

// IsConnected reports whether the gateway broker is reachable.
func (t *Transport) IsConnected() bool {
	return t.mqtt.IsConnected()
}

// writeLoop publishes queued writes, pacing them with the limiter.
// A write leaves the queue only once the limiter allows it, so values that
// arrive while it waits still replace it.
func (t *Transport) writeLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-t.wake:
		}

		for t.queued() > 0 {
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case <-t.done:
				return
			default:
			}
			if msg, ok := t.next(); ok {
				t.publish(msg)
			}
		}
	}
}

// publish writes one datapoint to the gateway.
func (t *Transport) publish(msg outbound) {
	payload, err := json.Marshal(msg.dp)
	if err != nil {
		t.errs.Add(1)
		t.logError("failed to encode datapoint", err)
		return
	}

	topic := SetTopic(t.prefix, msg.deviceID)
	if err := t.mqtt.Publish(topic, payload, t.qos, false); err != nil {
		t.errs.Add(1)
		t.logError("failed to publish datapoint", fmt.Errorf("%s: %w", topic, err))
		return
	}

	t.sent.Add(1)
}

// handleReport decodes a report message and hands each datapoint on.
func (t *Transport) handleReport(topic string, payload []byte) {
	deviceID := deviceIDFromReportTopic(t.prefix, topic)
	if deviceID == "" {
		t.logDebug("ignoring report on unexpected topic", "topic", topic)
		return
	}

	dps, err := DecodeReport(payload)
	if err != nil {
		t.errs.Add(1)
		t.logError("failed to decode report", fmt.Errorf("device=%s: %w", deviceID, err))
		return
	}

	t.onDatapointMu.RLock()
	fn := t.onDatapoint
	t.onDatapointMu.RUnlock()

	for _, dp := range dps {
		t.received.Add(1)
		if fn != nil {
			fn(deviceID, dp)
		}
	}
}

// DecodeReport decodes a report payload holding one datapoint object or an
// array of them. Datapoints of unsupported types are skipped; the result is
// empty only if none could be used.
func DecodeReport(payload []byte) ([]Datapoint, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidDatapoint)
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDatapoint, err)
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}

	out := make([]Datapoint, 0, len(raws))
	var firstErr error
	for _, raw := range raws {
		var dp Datapoint
		if err := json.Unmarshal(raw, &dp); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, dp)
	}

	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// logInfo logs an info message if logger is set.
func (t *Transport) logInfo(msg string, keysAndValues ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (t *Transport) logError(msg string, err error) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (t *Transport) logDebug(msg string, keysAndValues ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
