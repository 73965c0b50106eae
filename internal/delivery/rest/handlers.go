// Path: internal/delivery/rest/handlers.go
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"push-broker/internal/domain"
	"push-broker/internal/logger"
	"push-broker/internal/service"
)

const maxBodyBytes = 1 << 20

// producerService defines the interface required by the producer handlers
// from the core service.
type producerService interface {
	SendEvent(ctx context.Context, in domain.SendEventInput) (int, error)
	SendTestEvent(ctx context.Context, userID string) (int, error)
	Connections(ctx context.Context) (domain.ConnectionsSnapshot, error)
}

// ProducerHandlers holds dependencies for the producer API.
type ProducerHandlers struct {
	service producerService
	log     *slog.Logger
}

// NewProducerHandlers creates a new handler struct.
func NewProducerHandlers(s producerService, log *slog.Logger) *ProducerHandlers {
	return &ProducerHandlers{service: s, log: log}
}

// SendEvent handles POST /sse/events.
func (h *ProducerHandlers) SendEvent(w http.ResponseWriter, r *http.Request) {
	var in domain.SendEventInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	h.log.Info("sending event",
		logger.EventType(in.Type),
		logger.Owner(in.UserID),
		slog.Bool("broadcast", bool(in.Broadcast)),
	)
	n, err := h.service.SendEvent(r.Context(), in)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("failed to send event", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to send SSE event")
		return
	}

	writeJSON(w, http.StatusOK, domain.SendResult{
		Success:            true,
		ConnectionsReached: n,
		Message:            fmt.Sprintf("Event sent to %d connections", n),
	})
}

// SendTestEvent handles POST /sse/test. The body is optional.
func (h *ProducerHandlers) SendTestEvent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(w, r, &in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	n, err := h.service.SendTestEvent(r.Context(), in.UserID)
	if err != nil {
		h.log.Error("failed to send test event", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to send test event")
		return
	}

	writeJSON(w, http.StatusOK, domain.SendResult{
		Success:            true,
		ConnectionsReached: n,
		Message:            fmt.Sprintf("Test event sent to %d connections", n),
	})
}

// Connections handles GET /sse/connections.
func (h *ProducerHandlers) Connections(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Connections(r.Context())
	if err != nil {
		h.log.Error("failed to get connections", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get SSE connections")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func healthz(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}
