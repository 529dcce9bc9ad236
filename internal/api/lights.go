package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
)

// LightStateRequest is the body of PUT /api/v1/lights/{id}/state.
//
// Fields are optional but at least one of on, level or toggle is required:
//
//	{"on": false}                          -> off
//	{"on": true}                           -> on at the previous brightness
//	{"level": 40}                          -> dim to 40%, turning the light on
//	{"on": true, "level": 40}              -> on at 40%
//	{"level": 0}                           -> off, brightness kept
//	{"toggle": true}                       -> toggle
//	{"level": 80, "transition": 2.5}       -> dim over 2.5 s
type LightStateRequest struct {
	On         *bool    `json:"on,omitempty"`
	Level      *float64 `json:"level,omitempty"`
	Transition *float64 `json:"transition,omitempty"`
	Toggle     bool     `json:"toggle,omitempty"`
}

// toCommand maps the request onto a bridge command.
func (req LightStateRequest) toCommand(lightID string) (tuya.CommandMessage, error) {
	cmd := tuya.CommandMessage{
		LightID:    lightID,
		Source:     "api",
		Parameters: map[string]any{},
	}

	switch {
	case req.Toggle:
		cmd.Command = tuya.CommandToggle
	case req.On != nil && !*req.On:
		cmd.Command = tuya.CommandOff
	case req.On != nil && *req.On:
		cmd.Command = tuya.CommandOn
		if req.Level != nil {
			cmd.Parameters["level"] = *req.Level
		}
	case req.Level != nil:
		cmd.Command = tuya.CommandDim
		cmd.Parameters["level"] = *req.Level
	default:
		return cmd, errors.New("one of on, level or toggle is required")
	}

	if req.Transition != nil {
		cmd.Parameters["transition"] = *req.Transition
	}
	return cmd, nil
}

// handleListLights returns snapshots of every configured light.
func (s *Server) handleListLights(w http.ResponseWriter, _ *http.Request) {
	lights := s.bridge.Lights()
	writeJSON(w, http.StatusOK, map[string]any{
		"lights": lights,
		"count":  len(lights),
	})
}

// handleGetLight returns one light snapshot.
func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.bridge.Light(id)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetLightState applies a state change through the bridge event loop
// and returns the light as it stands once the change has been applied.
func (s *Server) handleSetLightState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req LightStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := req.toCommand(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if err := s.bridge.SubmitCommand(r.Context(), cmd); err != nil {
		s.writeBridgeError(w, err)
		return
	}

	snap, err := s.bridge.Light(id)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// writeBridgeError maps bridge errors to HTTP responses.
func (s *Server) writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tuya.ErrLightNotFound):
		writeNotFound(w, "light not found")
	case errors.Is(err, tuya.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, tuya.ErrInvalidCommand), errors.Is(err, tuya.ErrInvalidParameters):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, tuya.ErrBridgeStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge is not running")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "command not applied in time")
	default:
		s.logger.Error("bridge request failed", "error", err)
		writeInternalError(w, "bridge error")
	}
}
