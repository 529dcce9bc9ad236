package tuya

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sender delivers outbound datapoints to a device. Satisfied by *Transport.
type Sender interface {
	Send(deviceID string, dp Datapoint) error
}

// HubStats contains per-device datapoint counters.
type HubStats struct {
	DatapointsRx uint64    `json:"datapoints_rx"`
	DatapointsTx uint64    `json:"datapoints_tx"`
	ErrorsTotal  uint64    `json:"errors_total"`
	LastActivity time.Time `json:"last_activity"`
}

// Hub is the datapoint endpoint of one Tuya device.
//
// Inbound datapoints are cached and dispatched to the listeners registered
// for their id, in registration order. Outbound datapoints are forwarded to
// the Sender without waiting for the device.
//
// Thread Safety: RegisterListener, HandleDatapoint and SetDatapointValue are
// called from the bridge event loop. Datapoints and Stats are safe for
// concurrent use.
type Hub struct {
	deviceID string
	sender   Sender

	listeners map[DatapointID][]func(Datapoint)

	values   map[DatapointID]Datapoint
	valuesMu sync.RWMutex

	rx           atomic.Uint64
	tx           atomic.Uint64
	errs         atomic.Uint64
	lastActivity atomic.Int64

	// onWrite observes every datapoint handed to the sender (optional).
	onWrite func(deviceID string, dp Datapoint)

	logger Logger
}

// Ensure Hub implements Parent.
var _ Parent = (*Hub)(nil)

// NewHub creates the hub for deviceID.
func NewHub(deviceID string, sender Sender) *Hub {
	return &Hub{
		deviceID:  deviceID,
		sender:    sender,
		listeners: make(map[DatapointID][]func(Datapoint)),
		values:    make(map[DatapointID]Datapoint),
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// SetOnWrite sets a callback invoked for every outbound datapoint.
func (h *Hub) SetOnWrite(fn func(deviceID string, dp Datapoint)) {
	h.onWrite = fn
}

// RegisterListener implements Parent.
func (h *Hub) RegisterListener(id DatapointID, fn func(Datapoint)) {
	h.listeners[id] = append(h.listeners[id], fn)
}

// SetDatapointValue implements Parent. Send failures are counted and logged.
func (h *Hub) SetDatapointValue(dp Datapoint) {
	if h.sender == nil {
		h.errs.Add(1)
		h.logWarn("no sender for device", "device_id", h.deviceID, "datapoint", dp.String())
		return
	}

	if err := h.sender.Send(h.deviceID, dp); err != nil {
		h.errs.Add(1)
		h.logWarn("datapoint write failed",
			"device_id", h.deviceID,
			"datapoint", dp.String(),
			"error", err)
		return
	}

	h.tx.Add(1)
	h.touch()

	if h.onWrite != nil {
		h.onWrite(h.deviceID, dp)
	}
}

// HandleDatapoint records an inbound datapoint and dispatches it.
func (h *Hub) HandleDatapoint(dp Datapoint) {
	h.rx.Add(1)
	h.touch()

	h.valuesMu.Lock()
	h.values[dp.ID] = dp
	h.valuesMu.Unlock()

	for _, fn := range h.listeners[dp.ID] {
		fn(dp)
	}
}

// Datapoints returns the last known value of every reported datapoint,
// ordered by id.
func (h *Hub) Datapoints() []Datapoint {
	h.valuesMu.RLock()
	out := make([]Datapoint, 0, len(h.values))
	for _, dp := range h.values {
		out = append(out, dp)
	}
	h.valuesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubStats {
	stats := HubStats{
		DatapointsRx: h.rx.Load(),
		DatapointsTx: h.tx.Load(),
		ErrorsTotal:  h.errs.Load(),
	}
	if ts := h.lastActivity.Load(); ts != 0 {
		stats.LastActivity = time.Unix(0, ts).UTC()
	}
	return stats
}

func (h *Hub) touch() {
	h.lastActivity.Store(time.Now().UnixNano())
}

// logWarn logs a warning if logger is set.
func (h *Hub) logWarn(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, keysAndValues...)
	}
}
