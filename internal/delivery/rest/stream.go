// Path: internal/delivery/rest/stream.go
package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"push-broker/internal/config"
	"push-broker/internal/domain"
	"push-broker/internal/events"
	"push-broker/internal/logger"
	"push-broker/internal/sse"
)

const connectedMessage = "SSE connection established"

// channelRegistry is the part of the broker that owns channel lifecycles.
type channelRegistry interface {
	Register(ctx context.Context, id, owner string, h events.Handle) error
	Unregister(ctx context.Context, id string) events.CleanupResult
}

// StreamHandlers serves the event stream endpoint.
type StreamHandlers struct {
	broker channelRegistry
	cfg    config.ServerConfig
	log    *slog.Logger
	newID  func() string
	now    func() time.Time
}

// NewStreamHandlers creates a new handler struct.
func NewStreamHandlers(b channelRegistry, cfg config.ServerConfig, log *slog.Logger) *StreamHandlers {
	return &StreamHandlers{
		broker: b,
		cfg:    cfg,
		log:    log,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Stream handles GET /sse?userId=<owner>. The connection stays open until the
// client goes away or the broker closes the channel.
func (h *StreamHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	id := h.newID()
	owner := r.URL.Query().Get("userId")
	rc := http.NewResponseController(w)

	hdr := w.Header()
	hdr.Set("Content-Type", sse.ContentType)
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	initial, err := sse.Format(id+"-init", string(domain.EventConnected), domain.Connected{
		ConnectionID: id,
		Timestamp:    h.now().UnixMilli(),
		Message:      connectedMessage,
	})
	if err != nil {
		h.log.Error("failed to encode connected event", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to establish SSE connection")
		return
	}

	handle := events.NewQueueHandle(h.cfg.ChannelBuffer)
	if err := h.broker.Register(r.Context(), id, owner, handle); err != nil {
		if errors.Is(err, events.ErrBrokerClosed) {
			writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		if !errors.Is(err, events.ErrStore) {
			h.log.Error("failed to register channel", logger.ChannelID(id), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to establish SSE connection")
			return
		}
		// The channel is live locally; the registry catches up on the next heartbeat.
		h.log.Warn("channel registered without full registry state", logger.ChannelID(id), logger.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		h.broker.Unregister(ctx, id)
	}()

	w.WriteHeader(http.StatusOK)
	if err := writeFrame(w, rc, initial); err != nil {
		return
	}

	keepAlive := time.Duration(h.cfg.KeepAliveSeconds) * time.Second
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case frame := <-handle.Frames():
			if err := writeFrame(w, rc, frame); err != nil {
				h.log.Debug("stream write failed", logger.ChannelID(id), logger.Error(err))
				return
			}
		case <-ticker.C:
			if err := writeFrame(w, rc, sse.Comment("keep-alive")); err != nil {
				return
			}
		case <-handle.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, rc *http.ResponseController, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return rc.Flush()
}
