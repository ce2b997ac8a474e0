package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

type fakeConsumer struct {
	ready bool
	parts []int32
}

func (f fakeConsumer) Readiness() (bool, []int32) { return f.ready, f.parts }

func probe(t *testing.T, h http.HandlerFunc) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json %q: %v", rr.Body.String(), err)
	}
	return rr.Code, body
}

func TestReadiness_DatabaseOnly(t *testing.T) {
	code, body := probe(t, Readiness(fakeDB{}, nil, nil))
	if code != http.StatusOK || body["status"] != "ready" || body["database"] != "ok" {
		t.Fatalf("code=%d body=%v", code, body)
	}
	if _, ok := body["consumer"]; ok {
		t.Fatalf("consumer reported without one: %v", body)
	}

	code, body = probe(t, Readiness(fakeDB{err: errors.New("refused")}, nil, nil))
	if code != http.StatusServiceUnavailable || body["database"] != "unreachable" {
		t.Fatalf("code=%d body=%v", code, body)
	}
}

func TestReadiness_Consumer(t *testing.T) {
	code, body := probe(t, Readiness(fakeDB{}, nil, fakeConsumer{ready: true, parts: []int32{0, 2}}))
	if code != http.StatusOK || body["consumer"] != "assigned" {
		t.Fatalf("code=%d body=%v", code, body)
	}
	if parts, ok := body["partitions"].([]any); !ok || len(parts) != 2 {
		t.Fatalf("partitions %v", body["partitions"])
	}

	code, body = probe(t, Readiness(fakeDB{}, nil, fakeConsumer{}))
	if code != http.StatusServiceUnavailable || body["consumer"] != "unassigned" {
		t.Fatalf("code=%d body=%v", code, body)
	}
}

func TestReadiness_CacheDoesNotGate(t *testing.T) {
	code, body := probe(t, Readiness(fakeDB{}, fakeDB{err: errors.New("timeout")}, nil))
	if code != http.StatusOK || body["cache"] != "unreachable" {
		t.Fatalf("code=%d body=%v", code, body)
	}
	_, body = probe(t, Readiness(fakeDB{}, fakeDB{}, nil))
	if body["cache"] != "ok" {
		t.Fatalf("body=%v", body)
	}
}
