package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/response"
	"github.com/dumeirei/mall-ledger/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
		wantMsg    string
	}{
		{"client error keeps message", errors.ErrBalanceInsufficient, http.StatusOK, 3006, "余额不足"},
		{"state conflict", errors.ErrWithdrawalStatus.WithMessage("当前状态不可审核"), http.StatusOK, 10101, "当前状态不可审核"},
		{"retryable gateway error", errors.ErrGatewayError, http.StatusServiceUnavailable, 10200, errors.ErrGatewayError.Message},
		{"database error is hidden", errors.ErrDatabaseError.WithError(stderrors.New("pq: deadlock")), http.StatusInternalServerError, 500, "系统繁忙，请稍后重试"},
		{"plain error is hidden", stderrors.New("nil pointer"), http.StatusInternalServerError, 500, "系统繁忙，请稍后重试"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext("/")
			assert.True(t, HandleError(c, tt.err))
			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantMsg, resp.Message)
		})
	}

	c, _ := newContext("/")
	assert.False(t, HandleError(c, nil))
}

func TestMustSucceed(t *testing.T) {
	c, w := newContext("/")
	MustSucceed(c, nil, gin.H{"ok": true})
	assert.Equal(t, 0, decode(t, w).Code)
}

func TestRequireUserID(t *testing.T) {
	c, w := newContext("/")
	_, ok := RequireUserID(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, _ = newContext("/")
	c.Set(middleware.ContextKeyUserID, int64(9))
	id, ok := RequireUserID(c)
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)
}

func TestParseID(t *testing.T) {
	c, _ := newContext("/")
	c.Params = gin.Params{{Key: "id", Value: "15"}}
	id, ok := ParseID(c, "提现")
	assert.True(t, ok)
	assert.Equal(t, int64(15), id)

	for _, v := range []string{"abc", "0", "-3"} {
		c, w := newContext("/")
		c.Params = gin.Params{{Key: "id", Value: v}}
		_, ok := ParseID(c, "提现")
		assert.False(t, ok, v)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestParseQueryInt(t *testing.T) {
	c, _ := newContext("/?status=3")
	v, ok := ParseQueryInt(c, "status")
	require.True(t, ok)
	assert.Equal(t, 3, *v)

	c, _ = newContext("/")
	v, ok = ParseQueryInt(c, "status")
	assert.True(t, ok)
	assert.Nil(t, v)

	c, w := newContext("/?status=x")
	_, ok = ParseQueryInt(c, "status")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBindPagination(t *testing.T) {
	c, _ := newContext("/?page=2&page_size=500")
	p := BindPagination(c)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 100, p.PageSize)
}

func TestParseQueryTime(t *testing.T) {
	c, _ := newContext("/?start=2026-03-01")
	v, ok := ParseQueryTime(c, "start")
	require.True(t, ok)
	assert.Equal(t, 2026, v.Year())
	assert.Equal(t, time.March, v.Month())

	c, _ = newContext("/?start=2026-03-01T08:00:00Z")
	v, ok = ParseQueryTime(c, "start")
	require.True(t, ok)
	assert.Equal(t, 8, v.Hour())

	c, w := newContext("/?start=yesterday")
	_, ok = ParseQueryTime(c, "start")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
