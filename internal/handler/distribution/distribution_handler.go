// Package distribution 提供分销商端的 HTTP Handler
package distribution

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/handler"
	"github.com/dumeirei/mall-ledger/internal/common/response"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/distribution"
	"github.com/dumeirei/mall-ledger/internal/service/ledger"
)

// Handler 分销处理器
type Handler struct {
	distributorService *distribution.DistributorService
	commissionService  *distribution.CommissionService
	withdrawService    *distribution.WithdrawService
	ledgerService      *ledger.Service
	withdrawLimit      gin.HandlerFunc
}

// NewHandler 创建分销处理器
func NewHandler(
	distributorSvc *distribution.DistributorService,
	commissionSvc *distribution.CommissionService,
	withdrawSvc *distribution.WithdrawService,
	ledgerSvc *ledger.Service,
) *Handler {
	return &Handler{
		distributorService: distributorSvc,
		commissionService:  commissionSvc,
		withdrawService:    withdrawSvc,
		ledgerService:      ledgerSvc,
	}
}

// WithWithdrawLimit 为提现申请挂载限流中间件
func (h *Handler) WithWithdrawLimit(limit gin.HandlerFunc) *Handler {
	h.withdrawLimit = limit
	return h
}

// RegisterRoutes 注册分销商端路由，调用方负责挂载认证中间件
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/register", h.Register)
	r.GET("/overview", h.GetOverview)
	r.GET("/ledger", h.ListLedger)
	r.GET("/commissions", h.ListCommissions)
	r.GET("/withdrawals", h.ListWithdrawals)
	r.GET("/withdrawals/fee", h.GetWithdrawFee)
	r.GET("/withdrawals/:id", h.GetWithdrawal)
	r.POST("/withdrawals", handler.Chain(h.ApplyWithdraw, h.withdrawLimit)...)
}

// current 当前登录用户对应的分销商，失败时已写响应
func (h *Handler) current(c *gin.Context) (*models.Distributor, bool) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return nil, false
	}
	d, err := h.distributorService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return nil, false
	}
	return d, true
}

// Register 申请成为分销商
// @Summary 申请成为分销商
// @Tags 分销
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body distribution.RegisterRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Distributor}
// @Router /api/v1/distribution/register [post]
func (h *Handler) Register(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req distribution.RegisterRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	req.UserID = userID

	d, err := h.distributorService.Register(c.Request.Context(), &req)
	handler.MustSucceed(c, err, d)
}

// GetOverview 获取账户概览
// @Summary 获取账户概览
// @Tags 分销
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=distribution.Overview}
// @Router /api/v1/distribution/overview [get]
func (h *Handler) GetOverview(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}
	overview, err := h.distributorService.GetOverview(c.Request.Context(), d.ID)
	handler.MustSucceed(c, err, overview)
}

// ListLedger 获取余额流水
// @Summary 获取余额流水
// @Tags 分销
// @Produce json
// @Security Bearer
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param bucket query string false "科目: pending/available/frozen/withdrawn/fee"
// @Param type query string false "流水类型"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/distribution/ledger [get]
func (h *Handler) ListLedger(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	filter := &repository.LedgerEntryFilter{
		DistributorID: d.ID,
		Bucket:        models.Bucket(c.Query("bucket")),
		Type:          c.Query("type"),
	}
	if filter.Bucket != "" && !filter.Bucket.Valid() {
		response.BadRequest(c, "无效的科目")
		return
	}

	entries, total, err := h.ledgerService.ListEntries(c.Request.Context(), filter, &p)
	handler.MustSucceedPage(c, err, entries, total, p)
}

// ListCommissions 获取佣金记录
// @Summary 获取佣金记录
// @Tags 分销
// @Produce json
// @Security Bearer
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param status query int false "状态: 0待结算 1已结算 2冻结 3已冲回"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/distribution/commissions [get]
func (h *Handler) ListCommissions(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}

	status, ok := handler.ParseQueryInt(c, "status")
	if !ok {
		return
	}
	p := handler.BindPagination(c)
	filter := &repository.CommissionFilter{DistributorID: d.ID}
	if status != nil {
		s := int8(*status)
		filter.Status = &s
	}

	commissions, total, err := h.commissionService.List(c.Request.Context(), filter, &p)
	handler.MustSucceedPage(c, err, commissions, total, p)
}

// ApplyWithdraw 申请提现
// @Summary 申请提现
// @Tags 分销
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body distribution.ApplyRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Withdrawal}
// @Router /api/v1/distribution/withdrawals [post]
func (h *Handler) ApplyWithdraw(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}

	var req distribution.ApplyRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	req.DistributorID = d.ID

	w, err := h.withdrawService.Apply(c.Request.Context(), &req)
	handler.MustSucceed(c, err, w)
}

// ListWithdrawals 获取提现记录
// @Summary 获取提现记录
// @Tags 分销
// @Produce json
// @Security Bearer
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/distribution/withdrawals [get]
func (h *Handler) ListWithdrawals(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	withdrawals, total, err := h.withdrawService.ListByDistributor(c.Request.Context(), d.ID, &p)
	handler.MustSucceedPage(c, err, withdrawals, total, p)
}

// GetWithdrawal 获取提现详情
// @Summary 获取提现详情
// @Tags 分销
// @Produce json
// @Security Bearer
// @Param id path int true "提现ID"
// @Success 200 {object} response.Response{data=models.Withdrawal}
// @Router /api/v1/distribution/withdrawals/{id} [get]
func (h *Handler) GetWithdrawal(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "提现")
	if !ok {
		return
	}

	w, err := h.withdrawService.GetByID(c.Request.Context(), id)
	if err == nil && w.DistributorID != d.ID {
		err = errors.ErrWithdrawalNotFound
	}
	handler.MustSucceed(c, err, w)
}

// FeeQuote 手续费试算
type FeeQuote struct {
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Actual decimal.Decimal `json:"actual"`
}

// GetWithdrawFee 试算提现手续费，以打款渠道实际扣费为准
// @Summary 试算提现手续费
// @Tags 分销
// @Produce json
// @Security Bearer
// @Param amount query string true "提现金额"
// @Success 200 {object} response.Response{data=FeeQuote}
// @Router /api/v1/distribution/withdrawals/fee [get]
func (h *Handler) GetWithdrawFee(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() {
		response.BadRequest(c, "无效的金额")
		return
	}
	fee := h.withdrawService.Fee(amount)
	response.Success(c, FeeQuote{Amount: amount, Fee: fee, Actual: amount.Sub(fee)})
}
