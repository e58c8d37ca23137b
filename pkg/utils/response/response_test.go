package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"stressjudge/pkg/errors"

	"github.com/gin-gonic/gin"
)

func TestResponses(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		handler    gin.HandlerFunc
		wantStatus int
		wantCode   errors.ErrorCode
	}{
		{name: "success", handler: func(c *gin.Context) { Success(c, gin.H{"ok": true}) }, wantStatus: http.StatusOK, wantCode: errors.Success},
		{name: "accepted", handler: func(c *gin.Context) { Accepted(c, nil) }, wantStatus: http.StatusAccepted, wantCode: errors.Success},
		{name: "coded error", handler: func(c *gin.Context) { Error(c, errors.New(errors.RunAlreadyActive)) }, wantStatus: http.StatusConflict, wantCode: errors.RunAlreadyActive},
		{name: "plain error", handler: func(c *gin.Context) { Error(c, stderrors.New("boom")) }, wantStatus: http.StatusInternalServerError, wantCode: errors.InternalServerError},
		{name: "bad request", handler: func(c *gin.Context) { BadRequest(c, "") }, wantStatus: http.StatusBadRequest, wantCode: errors.InvalidParams},
		{name: "not found", handler: func(c *gin.Context) { NotFound(c, "no run") }, wantStatus: http.StatusNotFound, wantCode: errors.NotFound},
		{name: "forbidden", handler: func(c *gin.Context) { Forbidden(c, "") }, wantStatus: http.StatusForbidden, wantCode: errors.Forbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/", func(c *gin.Context) {
				c.Set("trace_id", "t-1")
				tt.handler(c)
			})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			var resp Response
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if rec.Code != tt.wantStatus || resp.Code != tt.wantCode {
				t.Fatalf("expected %d/%d, got %d/%d", tt.wantStatus, tt.wantCode, rec.Code, resp.Code)
			}
			if resp.TraceID != "t-1" || resp.Message == "" {
				t.Fatalf("unexpected envelope: %+v", resp)
			}
		})
	}
}
