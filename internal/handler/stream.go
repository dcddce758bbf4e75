package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ai-talk/chat-backend/internal/middleware"
	"github.com/ai-talk/chat-backend/internal/model"
	"github.com/ai-talk/chat-backend/internal/service"
	"github.com/ai-talk/chat-backend/pkg/logger"
	"github.com/ai-talk/chat-backend/pkg/metrics"
)

// StreamHandler handles the SSE message-exchange endpoint.
type StreamHandler struct {
	service *service.MessageService
	logger  *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.MessageService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{service: svc, logger: log}
}

// setStreamHeaders commits the response to event-stream framing. After
// this point all failures are reported in-band.
func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
}

// writeEvent frames one event and flushes it to the transport before
// returning, so each event reaches the client before the next unit of
// work begins.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, event model.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// Send handles POST /api/conversations/:id/messages/stream
//
// The response is always a nominally successful event stream: ownership,
// validation, provider, and storage failures are all delivered as in-band
// error events followed by the terminal done event, never as HTTP error
// statuses. The only pre-stream rejection is a transport that cannot
// flush at all.
func (h *StreamHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The server-wide write timeout would sever streams that outlive it;
	// lift the deadline for this response only.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	emit := func(event model.StreamEvent) error {
		return writeEvent(w, flusher, event)
	}
	fail := func(msg string) {
		if emit(model.ErrorEvent(msg)) != nil {
			return
		}
		_ = emit(model.DoneEvent())
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	conversationID, idErr := middleware.ParseConversationID(chi.URLParam(r, "id"))

	var req model.SendMessageRequest
	decodeErr := json.NewDecoder(r.Body).Decode(&req)

	setStreamHeaders(w)

	if idErr != nil {
		fail(idErr.Error())
		return
	}
	if decodeErr != nil {
		fail("invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		fail(err.Error())
		return
	}

	h.service.Stream(ctx, userID, conversationID, req.Content, emit)
}
