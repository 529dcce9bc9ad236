package tuya

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// DatapointRecorder records datapoints reported by devices.
// This is optional - if nil, the bridge operates without recording.
type DatapointRecorder interface {
	RecordDatapoint(deviceID string, dp Datapoint)
}

// KnownDatapoint is a datapoint the recorder has seen on a device.
type KnownDatapoint struct {
	DeviceID     string      `json:"device_id"`
	ID           DatapointID `json:"dp_id"`
	Type         string      `json:"dp_type"`
	LastValue    int64       `json:"last_value"`
	LastSeen     time.Time   `json:"last_seen"`
	MessageCount int64       `json:"message_count"`
}

// Recorder passively records every datapoint a device reports into the
// tuya_datapoints table. It shows which dpIds a device actually uses and
// their last raw values, which helps when mapping a new device.
//
// The recorder never feeds values back into light state.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time

	// Prepared upsert statement (created once, reused)
	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex
}

// Ensure Recorder implements DatapointRecorder.
var _ DatapointRecorder = (*Recorder)(nil)

// NewRecorder creates a recorder. The tuya_datapoints table must exist
// (see migrations).
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{
		db:  db,
		now: time.Now,
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the recorder for use.
// Must be called before RecordDatapoint.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil // Already started
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO tuya_datapoints (device_id, dp_id, dp_type, last_value, last_seen, message_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(device_id, dp_id) DO UPDATE SET
			dp_type = excluded.dp_type,
			last_value = excluded.last_value,
			last_seen = excluded.last_seen,
			message_count = message_count + 1
	`)
	if err != nil {
		return fmt.Errorf("preparing datapoint upsert statement: %w", err)
	}

	r.upsertStmt = stmt
	r.logInfo("datapoint recorder started")
	return nil
}

// Stop closes the recorder and releases resources.
func (r *Recorder) Stop() {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
		r.logInfo("datapoint recorder stopped")
	}
}

// RecordDatapoint upserts a reported datapoint. Errors are logged.
// It is a no-op before Start and after Stop.
func (r *Recorder) RecordDatapoint(deviceID string, dp Datapoint) {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt == nil {
		return
	}

	if _, err := r.upsertStmt.Exec(deviceID, int64(dp.ID), dp.Type.String(), dp.NumericValue(), r.now().Unix()); err != nil {
		r.logError("recording datapoint", err)
	}
}

// Known returns the datapoints seen on deviceID, ordered by dp id.
func (r *Recorder) Known(ctx context.Context, deviceID string) ([]KnownDatapoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, dp_id, dp_type, last_value, last_seen, message_count
		FROM tuya_datapoints
		WHERE device_id = ?
		ORDER BY dp_id ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying datapoints: %w", err)
	}
	defer rows.Close()

	var out []KnownDatapoint
	for rows.Next() {
		var (
			k        KnownDatapoint
			dpID     int64
			lastSeen int64
		)
		if err := rows.Scan(&k.DeviceID, &dpID, &k.Type, &k.LastValue, &lastSeen, &k.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning datapoint: %w", err)
		}
		// #nosec G115 -- dp_id is constrained to 0-255 by the schema
		k.ID = DatapointID(dpID)
		k.LastSeen = time.Unix(lastSeen, 0).UTC()
		out = append(out, k)
	}

	return out, rows.Err()
}

// Count returns the number of recorded datapoints across all devices.
func (r *Recorder) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tuya_datapoints`).Scan(&count)
	return count, err
}

// logInfo logs an info message if logger is set.
func (r *Recorder) logInfo(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
