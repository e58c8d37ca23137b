package controller

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	appErr "stressjudge/pkg/errors"

	"github.com/gorilla/websocket"
)

func TestOriginHosts(t *testing.T) {
	cases := []struct {
		addr string
		want []string
	}{
		{addr: "127.0.0.1:8090", want: []string{"localhost:8090", "127.0.0.1:8090"}},
		{addr: ":9000", want: []string{"localhost:9000", "127.0.0.1:9000"}},
		{addr: "judge.internal:80", want: []string{"judge.internal:80"}},
		{addr: "no-port", want: nil},
	}
	for _, tc := range cases {
		if got := OriginHosts(tc.addr); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("OriginHosts(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestOriginAllowed(t *testing.T) {
	h := NewRunController(nil, "127.0.0.1:8090", "http://LOCALHOST:5173")
	cases := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://127.0.0.1:8090", want: true},
		{origin: "http://localhost:5173", want: true},
		{origin: "http://localhost:8090", want: false},
		{origin: "https://evil.example", want: false},
		{origin: "null", want: false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := h.originAllowed(req); got != tc.want {
			t.Fatalf("origin %q: allowed=%v, want %v", tc.origin, got, tc.want)
		}
	}

	sameHost := NewRunController(nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Origin", "http://example.com")
	if !sameHost.originAllowed(req) {
		t.Fatalf("same-host origin should pass without configured hosts")
	}
	req.Header.Set("Origin", "http://other.example")
	if sameHost.originAllowed(req) {
		t.Fatalf("foreign origin should be rejected without configured hosts")
	}
}

func TestCrossSiteRequestsRejected(t *testing.T) {
	router, svc, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"mode":"validator","tests":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), `"code":10005`) {
		t.Fatalf("expected forbidden, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"mode":"validator","tests":1}`))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for a non-JSON body, got %d", rec.Code)
	}
	if len(svc.Active()) != 0 {
		t.Fatalf("rejected requests must not start runs")
	}

	rec, resp := doRequest(t, router, http.MethodGet, "/api/v1/runs", "")
	if rec.Code != http.StatusOK || resp.Code != appErr.Success {
		t.Fatalf("requests without an origin should pass, got %d", rec.Code)
	}
}

func TestEventsRejectForeignOrigin(t *testing.T) {
	router, _, _ := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	runID := startRun(t, router, 2)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/runs/" + runID + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		conn.Close()
		t.Fatalf("expected the handshake to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %v", resp)
	}
}
