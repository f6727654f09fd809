package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/pairdesk/qr-auth-server/internal/errors"
	"github.com/pairdesk/qr-auth-server/internal/middleware"
	"github.com/pairdesk/qr-auth-server/internal/model"
	"github.com/pairdesk/qr-auth-server/internal/service"
	"github.com/pairdesk/qr-auth-server/internal/sse"
)

type PairingHandler struct {
	pairingService *service.PairingService
	broker         *sse.Broker
	auth           func(http.Handler) http.Handler
}

func NewPairingHandler(pairingService *service.PairingService, broker *sse.Broker, auth func(http.Handler) http.Handler) *PairingHandler {
	return &PairingHandler{
		pairingService: pairingService,
		broker:         broker,
		auth:           auth,
	}
}

// Routes returns the pairing endpoints. Generate and scan are reached without
// a session; the event stream and device listing belong to the device that
// initiated pairing and require one.
func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/generate", h.Generate)
	r.Post("/scan", h.Scan)

	r.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Get("/events", h.Events)
		r.Get("/devices", h.Devices)
	})

	return r
}

// POST /api/qr/generate
func (h *PairingHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Request body must be valid JSON"))
		return
	}

	if req.UserID == "" {
		writeError(w, apperrors.MissingRequired("userId"))
		return
	}

	result, err := h.pairingService.GenerateCode(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dataImage": result.DataImage,
		"expiresAt": result.ExpiresAt,
	})
}

// POST /api/qr/scan
func (h *PairingHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token             string           `json:"token"`
		DeviceInformation model.DeviceInfo `json:"deviceInformation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Request body must be valid JSON"))
		return
	}

	if req.Token == "" {
		writeError(w, apperrors.MissingRequired("token"))
		return
	}
	if req.DeviceInformation.DeviceName == "" {
		writeError(w, apperrors.MissingRequired("deviceInformation.deviceName"))
		return
	}

	result, err := h.pairingService.RedeemCode(r.Context(), req.Token, req.DeviceInformation)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": result.SessionToken})
}

// GET /api/qr/devices
func (h *PairingHandler) Devices(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	devices, err := h.pairingService.ListDevices(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list devices")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}

// GET /api/qr/events
//
// SSE stream telling the initiating device when its pairing code is redeemed.
func (h *PairingHandler) Events(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(user.ID)
	defer h.broker.Unsubscribe(client)

	h.sendEvent(w, flusher, "connected", map[string]string{"userId": user.ID})

	ctx := r.Context()
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-client.Done:
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case event := <-client.Events:
			h.sendEvent(w, flusher, event.Type, event.Data)
		}
	}
}

func (h *PairingHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}
