package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hperssn/tourguide/internal/runner"
)

// EventSource is the part of runner.TourManager the stream reads from.
type EventSource interface {
	Events(ctx context.Context, userID, tour string) (<-chan runner.Event, error)
}

// StreamTourEvents serves a user's tour events as server-sent events. The
// event name is the event type so pages can use addEventListener.
func StreamTourEvents(source EventSource, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tour := chi.URLParam(r, "tour")
		userID := GetUserID(r)

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		events, err := source.Events(r.Context(), userID, tour)
		if errors.Is(err, runner.ErrTourNotFound) {
			http.Error(w, "tour not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to open event stream", zap.String("tour", tour), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}

				data, err := json.Marshal(event)
				if err != nil {
					logger.Error("failed to encode event", zap.Error(err))
					continue
				}
				w.Write([]byte("event: " + string(event.Type) + "\n"))
				w.Write([]byte("data: "))
				w.Write(data)
				w.Write([]byte("\n\n"))

				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}
