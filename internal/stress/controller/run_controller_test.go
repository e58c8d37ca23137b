package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"stressjudge/internal/stress/observer"
	"stressjudge/internal/stress/repository"
	"stressjudge/internal/stress/sandbox/engine"
	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/sandbox/spec"
	"stressjudge/internal/stress/service"
	appErr "stressjudge/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type gatedEngine struct {
	gate chan struct{}
}

func (g *gatedEngine) Run(ctx context.Context, req engine.StageRequest) (result.StageOutcome, error) {
	if req.Role == spec.RoleCandidate {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return result.StageOutcome{Role: req.Role, Status: result.StageCanceled, ExitCode: -1}, nil
		}
	}
	return result.StageOutcome{Role: req.Role, Status: result.StageExited, Stdout: []byte("1\n")}, nil
}

type apiResponse struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *service.Service, *gatedEngine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	eng := &gatedEngine{gate: make(chan struct{})}
	svc, err := service.NewService(service.Config{
		Engine: eng,
		Modes: map[string]spec.PipelineSpec{
			spec.ModeValidator: spec.ValidatorSpec([]string{"gen"}, []string{"sol"}, []string{"judge"}),
		},
		Store:    repository.NewMemoryStore(),
		TempRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	t.Cleanup(svc.StopAll)
	return NewRouter(NewRunController(svc)), svc, eng
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v body=%s", err, rec.Body.String())
	}
	return rec, resp
}

func startRun(t *testing.T, router http.Handler, tests int) string {
	t.Helper()
	rec, resp := doRequest(t, router, http.MethodPost, "/api/v1/runs", `{"mode":"validator","tests":`+strconv.Itoa(tests)+`,"workers":2}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var started StartRunResponse
	if err := json.Unmarshal(resp.Data, &started); err != nil || started.RunID == "" {
		t.Fatalf("unexpected start payload: %s %v", resp.Data, err)
	}
	return started.RunID
}

func TestStartStopAndGetRun(t *testing.T) {
	router, svc, _ := newTestRouter(t)
	runID := startRun(t, router, 4)

	rec, resp := doRequest(t, router, http.MethodGet, "/api/v1/runs/"+runID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var status service.RunStatus
	if err := json.Unmarshal(resp.Data, &status); err != nil || status.State != service.RunStateRunning {
		t.Fatalf("unexpected live status: %s %v", resp.Data, err)
	}

	rec, resp = doRequest(t, router, http.MethodPost, "/api/v1/runs", `{"mode":"validator","tests":1}`)
	if rec.Code != http.StatusConflict || resp.Code != appErr.RunAlreadyActive {
		t.Fatalf("expected conflict, got %d %d", rec.Code, resp.Code)
	}

	rec, _ = doRequest(t, router, http.MethodPost, "/api/v1/runs/"+runID+"/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop failed: %d", rec.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(svc.Active()) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish after stop")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec, resp = doRequest(t, router, http.MethodGet, "/api/v1/runs/"+runID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stored run lookup failed: %d", rec.Code)
	}
	var stored repository.RunRecord
	if err := json.Unmarshal(resp.Data, &stored); err != nil || stored.RunID != runID {
		t.Fatalf("unexpected stored record: %s %v", resp.Data, err)
	}

	rec, resp = doRequest(t, router, http.MethodGet, "/api/v1/runs?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rec.Code)
	}
	var list ListRunsResponse
	if err := json.Unmarshal(resp.Data, &list); err != nil || len(list.History) != 1 || len(list.Active) != 0 {
		t.Fatalf("unexpected list: %s %v", resp.Data, err)
	}
}

func TestRunErrors(t *testing.T) {
	router, _, _ := newTestRouter(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   appErr.ErrorCode
	}{
		{name: "malformed body", method: http.MethodPost, path: "/api/v1/runs", body: `{"mode":`, status: http.StatusBadRequest, code: appErr.InvalidParams},
		{name: "missing tests", method: http.MethodPost, path: "/api/v1/runs", body: `{"mode":"validator"}`, status: http.StatusBadRequest, code: appErr.InvalidParams},
		{name: "unknown mode", method: http.MethodPost, path: "/api/v1/runs", body: `{"mode":"nope","tests":3}`, status: http.StatusNotFound, code: appErr.ModeNotFound},
		{name: "too many tests", method: http.MethodPost, path: "/api/v1/runs", body: `{"mode":"validator","tests":1000000}`, status: http.StatusBadRequest, code: appErr.ValidationFailed},
		{name: "unknown run", method: http.MethodGet, path: "/api/v1/runs/missing", status: http.StatusNotFound, code: appErr.RunNotFound},
		{name: "stop unknown run", method: http.MethodPost, path: "/api/v1/runs/missing/stop", status: http.StatusNotFound, code: appErr.RunNotFound},
		{name: "events for unknown run", method: http.MethodGet, path: "/api/v1/runs/missing/events", status: http.StatusNotFound, code: appErr.RunNotFound},
		{name: "bad limit", method: http.MethodGet, path: "/api/v1/runs?limit=x", status: http.StatusBadRequest, code: appErr.InvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := doRequest(t, router, tt.method, tt.path, tt.body)
			if rec.Code != tt.status || resp.Code != tt.code {
				t.Fatalf("expected %d/%d, got %d/%d: %s", tt.status, tt.code, rec.Code, resp.Code, rec.Body.String())
			}
		})
	}
}

func TestModesAndTraceHeader(t *testing.T) {
	router, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/modes", nil)
	req.Header.Set("X-Trace-Id", "trace-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := rec.Header().Get("X-Trace-Id"); got != "trace-123" {
		t.Fatalf("trace id not echoed: %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"trace_id":"trace-123"`) || !strings.Contains(rec.Body.String(), `"validator"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestEventsStreamUntilRunFinishes(t *testing.T) {
	router, _, eng := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	runID := startRun(t, router, 3)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/runs/" + runID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	close(eng.gate)

	completed := 0
	var allPassed *bool
	for {
		var ev observer.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("unexpected read error: %v", err)
			}
			break
		}
		switch ev.Type {
		case observer.EventTestCompleted:
			completed++
		case observer.EventAllTestsCompleted:
			allPassed = ev.AllPassed
		}
	}
	if completed != 3 {
		t.Fatalf("expected 3 completed events, got %d", completed)
	}
	if allPassed == nil || !*allPassed {
		t.Fatalf("expected allPassed=true")
	}
}
