package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/crypto"
	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/common/response"
	"github.com/dumeirei/mall-ledger/internal/middleware"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
	"github.com/dumeirei/mall-ledger/internal/service/distribution"
	"github.com/dumeirei/mall-ledger/internal/service/ledger"
	"github.com/dumeirei/mall-ledger/internal/testutil"
	"github.com/dumeirei/mall-ledger/pkg/payout"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type page[T any] struct {
	List  []T   `json:"list"`
	Total int64 `json:"total"`
}

type fixture struct {
	router      *gin.Engine
	ledger      *ledger.Service
	distributor *distribution.DistributorService
}

func setup(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	log := testutil.NewLogger()
	m := metrics.New("test", nil)
	auditSvc := audit.NewService(repository.NewAuditLogRepository(db), log)
	distributorRepo := repository.NewDistributorRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)
	ledgerSvc := ledger.NewService(db, distributorRepo, repository.NewLedgerEntryRepository(db), withdrawalRepo, auditSvc, m, log)
	cipher, err := crypto.NewAES("test-secret", "withdraw-account")
	require.NoError(t, err)

	distributorSvc := distribution.NewDistributorService(db, distributorRepo, withdrawalRepo, auditSvc, log)
	commissionSvc := distribution.NewCommissionService(db, repository.NewCommissionRepository(db), distributorRepo, repository.NewOrderRepository(db), ledgerSvc, auditSvc,
		&config.DistributionConfig{Level1Rate: 0.1, Level2Rate: 0.05, MaxLevel: 2, SettleDelayDays: 7}, m, log)
	withdrawSvc := distribution.NewWithdrawService(db, withdrawalRepo, ledgerSvc, auditSvc, payout.NewMockClient(), cipher,
		&config.DistributionConfig{MinWithdrawAmount: 10, WithdrawFeeRate: 0.006, MaxPendingWithdraw: 5},
		&config.PayoutConfig{Timeout: 1, MaxQueryAttempts: 3}, m, log)

	h := NewHandler(distributorSvc, commissionSvc, withdrawSvc, ledgerSvc)
	r := gin.New()
	g := r.Group("/api/v1/distribution", func(c *gin.Context) {
		if id, err := strconv.ParseInt(c.GetHeader("X-User"), 10, 64); err == nil {
			c.Set(middleware.ContextKeyUserID, id)
		}
		c.Next()
	})
	h.RegisterRoutes(g)
	return &fixture{router: r, ledger: ledgerSvc, distributor: distributorSvc}
}

func (f *fixture) do(t *testing.T, method, path string, userID int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1/distribution"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set("X-User", strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestHandler_RegisterAndWithdraw(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	w := f.do(t, http.MethodPost, "/register", 1, map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)
	reg := decode[models.Distributor](t, w)
	require.Equal(t, 0, reg.Code, reg.Message)
	assert.Equal(t, int8(models.DistributorStatusPending), reg.Data.Status)

	_, err := f.distributor.Approve(ctx, reg.Data.ID, 99, true)
	require.NoError(t, err)
	_, err = f.ledger.Credit(ctx, &ledger.Mutation{DistributorID: reg.Data.ID, Amount: testutil.Money("100")})
	require.NoError(t, err)

	w = f.do(t, http.MethodPost, "/withdrawals", 1, map[string]interface{}{
		"amount":          "50",
		"withdraw_method": "alipay",
		"account":         map[string]string{"name": "张三", "account_no": "zhangsan@example.com"},
	})
	applied := decode[models.Withdrawal](t, w)
	require.Equal(t, 0, applied.Code, applied.Message)
	assert.Equal(t, models.WithdrawalStatusPending, applied.Data.Status)
	assert.Equal(t, "****.com", applied.Data.AccountMask)

	w = f.do(t, http.MethodGet, "/overview", 1, nil)
	overview := decode[distribution.Overview](t, w)
	require.Equal(t, 0, overview.Code)
	assert.True(t, overview.Data.Distributor.Available.Equal(testutil.Money("50")))
	assert.True(t, overview.Data.Distributor.Frozen.Equal(testutil.Money("50")))

	w = f.do(t, http.MethodGet, "/ledger?page=1&page_size=10", 1, nil)
	entries := decode[page[models.LedgerEntry]](t, w)
	require.Equal(t, 0, entries.Code)
	assert.Equal(t, int64(3), entries.Data.Total)

	w = f.do(t, http.MethodGet, "/ledger?bucket=bogus", 1, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/withdrawals", 1, nil)
	list := decode[page[models.Withdrawal]](t, w)
	require.Equal(t, 0, list.Code)
	assert.Equal(t, int64(1), list.Data.Total)

	path := "/withdrawals/" + strconv.FormatInt(applied.Data.ID, 10)
	w = f.do(t, http.MethodGet, path, 1, nil)
	assert.Equal(t, 0, decode[models.Withdrawal](t, w).Code)

	// 他人的提现单不可见
	w = f.do(t, http.MethodPost, "/register", 2, map[string]string{})
	require.Equal(t, 0, decode[models.Distributor](t, w).Code)
	w = f.do(t, http.MethodGet, path, 2, nil)
	assert.Equal(t, errors.ErrWithdrawalNotFound.Code, decode[models.Withdrawal](t, w).Code)
}

func TestHandler_Errors(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/overview", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/overview", 5, nil)
	assert.Equal(t, errors.ErrDistributorNotFound.Code, decode[response.PageData](t, w).Code)

	w = f.do(t, http.MethodPost, "/register", 5, map[string]string{"invite_code": "NOPE"})
	assert.Equal(t, errors.ErrInviteCodeInvalid.Code, decode[models.Distributor](t, w).Code)

	w = f.do(t, http.MethodPost, "/register", 5, map[string]string{})
	require.Equal(t, 0, decode[models.Distributor](t, w).Code)
	w = f.do(t, http.MethodGet, "/withdrawals/abc", 5, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_WithdrawFee(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/withdrawals/fee?amount=100", 1, nil)
	quote := decode[FeeQuote](t, w)
	require.Equal(t, 0, quote.Code)
	assert.True(t, quote.Data.Fee.Equal(testutil.Money("0.6")))
	assert.True(t, quote.Data.Actual.Equal(testutil.Money("99.4")))

	w = f.do(t, http.MethodGet, "/withdrawals/fee?amount=-1", 1, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
