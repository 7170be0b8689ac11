package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(fn func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)
	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := perform(func(c *gin.Context) { Success(c, gin.H{"balance": "50"}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "success", resp.Message)
	assert.Equal(t, "50", resp.Data.(map[string]interface{})["balance"])
}

func TestSuccessPage(t *testing.T) {
	w, resp := perform(func(c *gin.Context) { SuccessPage(c, []int{1, 2}, 12, 2, 2) })
	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(12), data["total"])
	assert.Equal(t, float64(2), data["page"])
	assert.Len(t, data["list"], 2)
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		fn         func(c *gin.Context)
		wantStatus int
		wantCode   int
		wantMsg    string
	}{
		{"business error", func(c *gin.Context) { Error(c, 3006, "余额不足") }, http.StatusOK, 3006, "余额不足"},
		{"bad request", func(c *gin.Context) { BadRequest(c, "参数错误") }, http.StatusBadRequest, 400, "参数错误"},
		{"unauthorized default", func(c *gin.Context) { Unauthorized(c, "") }, http.StatusUnauthorized, 401, "unauthorized"},
		{"forbidden default", func(c *gin.Context) { Forbidden(c, "") }, http.StatusForbidden, 403, "forbidden"},
		{"internal default", func(c *gin.Context) { InternalError(c, "") }, http.StatusInternalServerError, 500, "internal server error"},
		{"unavailable", func(c *gin.Context) { ServiceUnavailable(c, 10200, "稍后重试") }, http.StatusServiceUnavailable, 10200, "稍后重试"},
		{"too many requests default", func(c *gin.Context) { TooManyRequests(c, "") }, http.StatusTooManyRequests, 429, "too many requests"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := perform(tt.fn)
			require.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantMsg, resp.Message)
			assert.Nil(t, resp.Data)
		})
	}
}
