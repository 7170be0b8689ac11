package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Endpoint:   srv.URL,
		MchID:      "mch_1",
		AppID:      "app_1",
		APIKey:     "secret",
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestClient_Transfer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body transferBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "W001", body.OutBillNo)
		assert.Equal(t, int64(15000), body.Amount)
		assert.Equal(t, "alipay", body.Method)
		assert.Equal(t, "张三", body.Name)

		actual, fee := int64(14800), int64(200)
		_ = json.NewEncoder(w).Encode(transferResponse{
			OutBillNo:    body.OutBillNo,
			TransferID:   "T123",
			Status:       "success",
			ActualAmount: &actual,
			Fee:          &fee,
		})
	})

	res, err := c.Transfer(context.Background(), &TransferRequest{
		OutBillNo: "W001",
		Amount:    decimal.RequireFromString("150.00"),
		Method:    "alipay",
		Account:   AccountInfo{Name: "张三", AccountNo: "13800000000"},
	})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "T123", res.TransferID)
	require.NotNil(t, res.ActualAmount)
	assert.True(t, res.ActualAmount.Equal(decimal.RequireFromString("148")))
	assert.True(t, res.Fee.Equal(decimal.RequireFromString("2")))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(transferResponse{OutBillNo: "W002", Status: StatusProcessing})
	})

	res, err := c.QueryTransfer(context.Background(), "W002")
	require.NoError(t, err)
	assert.True(t, res.Pending())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_NotFoundIsPermanent(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.QueryTransfer(context.Background(), "W404")
	assert.True(t, errors.Is(err, ErrTransferNotFound))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_BadRequestNotRetried(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid account"}`))
	})

	_, err := c.Transfer(context.Background(), &TransferRequest{OutBillNo: "W003", Amount: decimal.NewFromInt(1)})
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestRequestError_Rejected(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusForbidden, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusUnauthorized, false},
		{http.StatusConflict, false},
		{http.StatusTooManyRequests, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, (&RequestError{StatusCode: tt.status}).Rejected(), "status %d", tt.status)
	}
}

func TestMockClient_QueryError(t *testing.T) {
	m := NewMockClient()
	_, err := m.Transfer(context.Background(), &TransferRequest{OutBillNo: "W010", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	m.SetQueryError(&RequestError{StatusCode: http.StatusTooManyRequests})
	_, err = m.QueryTransfer(context.Background(), "W010")
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))

	m.SetQueryError(nil)
	res, err := m.QueryTransfer(context.Background(), "W010")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
}

func TestTransferResult_States(t *testing.T) {
	tests := []struct {
		status            string
		ok, fail, pending bool
	}{
		{StatusSuccess, true, false, false},
		{StatusRejected, false, true, false},
		{StatusFailed, false, true, false},
		{StatusAccepted, false, false, true},
		{StatusProcessing, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			r := &TransferResult{Status: tt.status}
			assert.Equal(t, tt.ok, r.Succeeded())
			assert.Equal(t, tt.fail, r.Failed())
			assert.Equal(t, tt.pending, r.Pending())
		})
	}
}

func TestFen(t *testing.T) {
	assert.Equal(t, int64(12345), ToFen(decimal.RequireFromString("123.45")))
	assert.True(t, FromFen(12345).Equal(decimal.RequireFromString("123.45")))
}

func TestMockClient(t *testing.T) {
	ctx := context.Background()
	m := NewMockClient()
	m.Enqueue(
		Outcome{Status: StatusAccepted},
		Outcome{Err: errors.New("timeout")},
	)

	amount := decimal.NewFromInt(100)
	res, err := m.Transfer(ctx, &TransferRequest{OutBillNo: "A", Amount: amount})
	require.NoError(t, err)
	assert.True(t, res.Pending())

	// 重复单号返回首次结果
	again, err := m.Transfer(ctx, &TransferRequest{OutBillNo: "A", Amount: amount})
	require.NoError(t, err)
	assert.Equal(t, res.TransferID, again.TransferID)

	_, err = m.Transfer(ctx, &TransferRequest{OutBillNo: "B", Amount: amount})
	assert.Error(t, err)
	_, err = m.QueryTransfer(ctx, "B")
	assert.ErrorIs(t, err, ErrTransferNotFound)

	require.NoError(t, m.Resolve("A", amount, Outcome{Status: StatusSuccess, Fee: decimal.NewFromInt(1)}))
	got, err := m.QueryTransfer(ctx, "A")
	require.NoError(t, err)
	assert.True(t, got.Succeeded())
	assert.True(t, got.ActualAmount.Equal(decimal.NewFromInt(99)))
	assert.Equal(t, 3, m.Calls())
}
