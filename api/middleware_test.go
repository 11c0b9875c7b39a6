package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"patrol-hub/core/utils"
)

func TestStatusRecorderCapturesStatusAndSize(t *testing.T) {
	handler := requestLogger(utils.NewLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}
	if rr.Body.String() != "short and stout" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestStatusRecorderPreservesFlusher(t *testing.T) {
	var sawFlusher bool
	handler := requestLogger(utils.NewLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawFlusher = w.(http.Flusher)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/incidents/events", nil))
	if !sawFlusher {
		t.Fatal("recorder hid http.Flusher from downstream handlers")
	}
}
