package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// DiscoveredDatapoint is one datapoint seen on a device.
type DiscoveredDatapoint struct {
	ID           uint8  `json:"id"`
	Type         string `json:"type"`
	LastValue    int64  `json:"last_value"`
	LastSeen     string `json:"last_seen"`
	LastSeenAgo  string `json:"last_seen_ago"`
	MessageCount int64  `json:"message_count"`
}

// handleListDevices returns every configured device with its hub statistics.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device snapshot with its last-known datapoints.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	snap, err := s.bridge.Device(chi.URLParam(r, "id"))
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListDatapoints returns the datapoints recorded for a device.
// Unconfigured device ids are allowed: the recorder stores every report
// it sees, which is how unmapped devices are discovered.
func (s *Server) handleListDatapoints(w http.ResponseWriter, r *http.Request) {
	if s.datapoints == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "datapoint recorder not available")
		return
	}

	deviceID := chi.URLParam(r, "id")
	known, err := s.datapoints.Known(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("listing datapoints failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to list datapoints")
		return
	}

	now := time.Now()
	out := make([]DiscoveredDatapoint, 0, len(known))
	for _, k := range known {
		out = append(out, DiscoveredDatapoint{
			ID:           uint8(k.ID),
			Type:         k.Type,
			LastValue:    k.LastValue,
			LastSeen:     k.LastSeen.UTC().Format(time.RFC3339),
			LastSeenAgo:  now.Sub(k.LastSeen).Truncate(time.Second).String(),
			MessageCount: k.MessageCount,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  deviceID,
		"datapoints": out,
		"count":      len(out),
	})
}
