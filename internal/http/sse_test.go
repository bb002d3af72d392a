package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hperssn/tourguide/internal/runner"
)

type fakeSource struct {
	events chan runner.Event
	user   string
	tour   string
}

func (s *fakeSource) Events(_ context.Context, userID, tour string) (<-chan runner.Event, error) {
	if tour != "scanner" {
		return nil, runner.ErrTourNotFound
	}
	s.user, s.tour = userID, tour
	return s.events, nil
}

func newStreamRouter(source EventSource) http.Handler {
	r := chi.NewRouter()
	r.Use(ExtractUserMiddleware(zap.NewNop()))
	r.Get("/tours/{tour}/events", StreamTourEvents(source, zap.NewNop()))
	return r
}

func TestStreamTourEvents(t *testing.T) {
	source := &fakeSource{events: make(chan runner.Event, 4)}
	source.events <- runner.Event{Type: runner.EventPanel, Panel: "panel-scan"}
	source.events <- runner.Event{Type: runner.EventCaption, Title: "Scanner", Description: "Scan food samples."}
	close(source.events)

	req := httptest.NewRequest(http.MethodGet, "/tours/scanner/events", nil)
	req.Header.Set("X-Auth-User", "alice")
	rec := httptest.NewRecorder()

	newStreamRouter(source).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "alice", source.user)

	body := rec.Body.String()
	assert.Contains(t, body, "event: panel\ndata: {\"type\":\"panel\",\"panel\":\"panel-scan\"}\n\n")
	assert.Contains(t, body, "event: caption\n")
	assert.Equal(t, 2, strings.Count(body, "data: "))
}

func TestStreamTourEventsUnknownTour(t *testing.T) {
	source := &fakeSource{events: make(chan runner.Event)}

	req := httptest.NewRequest(http.MethodGet, "/tours/nowhere/events", nil)
	rec := httptest.NewRecorder()

	newStreamRouter(source).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, source.user, "no stream opened")
}

func TestStreamTourEventsStopsOnDisconnect(t *testing.T) {
	source := &fakeSource{events: make(chan runner.Event)}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/tours/scanner/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		newStreamRouter(source).ServeHTTP(rec, req)
		close(done)
	}()

	cancel()
	<-done
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractUserMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"auth header", map[string]string{"X-Auth-User": "alice", "Remote-User": "bob"}, "alice"},
		{"forwarded", map[string]string{"X-Forwarded-User": "carol"}, "carol"},
		{"remote user", map[string]string{"Remote-User": "dave"}, "dave"},
		{"none", nil, DevUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := ExtractUserMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetUserID(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}
