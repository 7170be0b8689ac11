// Package admin 管理端 HTTP Handler
package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dumeirei/mall-ledger/internal/common/handler"
	"github.com/dumeirei/mall-ledger/internal/common/response"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
	"github.com/dumeirei/mall-ledger/internal/service/distribution"
	"github.com/dumeirei/mall-ledger/internal/service/ledger"
)

// FinanceHandler 财务管理处理器：提现审核打款、账本调账与对账、审计日志
type FinanceHandler struct {
	withdrawService *distribution.WithdrawService
	ledgerService   *ledger.Service
	auditService    *audit.Service
	adjustLimit     gin.HandlerFunc
}

// NewFinanceHandler 创建财务管理处理器
func NewFinanceHandler(
	withdrawSvc *distribution.WithdrawService,
	ledgerSvc *ledger.Service,
	auditSvc *audit.Service,
) *FinanceHandler {
	return &FinanceHandler{
		withdrawService: withdrawSvc,
		ledgerService:   ledgerSvc,
		auditService:    auditSvc,
	}
}

// WithAdjustLimit 为人工调账挂载限流中间件
func (h *FinanceHandler) WithAdjustLimit(limit gin.HandlerFunc) *FinanceHandler {
	h.adjustLimit = limit
	return h
}

// RegisterRoutes 注册财务路由，调用方负责挂载认证与资金权限中间件
func (h *FinanceHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/withdrawals", h.ListWithdrawals)
	r.GET("/withdrawals/:id", h.GetWithdrawal)
	r.GET("/withdrawals/by-no/:withdrawal_no", h.GetWithdrawalByNo)
	r.POST("/withdrawals/:id/handle", h.HandleWithdrawal)
	r.POST("/withdrawals/batch", h.BatchHandleWithdrawals)

	r.GET("/ledger/entries", h.ListEntries)
	r.POST("/ledger/adjust", handler.Chain(h.Adjust, h.adjustLimit)...)
	r.POST("/ledger/entries/:id/reverse", h.ReverseEntry)
	r.GET("/ledger/verify/:id", h.Verify)

	r.GET("/audit-logs", h.ListAuditLogs)
}

// ListWithdrawals 获取提现列表
// @Summary 获取提现列表
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param distributor_id query int false "分销商ID"
// @Param withdrawal_no query string false "提现单号"
// @Param status query int false "状态: 0待审核 1已审核 2已拒绝 3打款中 4已完成 5打款失败"
// @Param start_time query string false "开始时间"
// @Param end_time query string false "结束时间"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/finance/withdrawals [get]
func (h *FinanceHandler) ListWithdrawals(c *gin.Context) {
	status, ok := handler.ParseQueryInt(c, "status")
	if !ok {
		return
	}
	distributorID, ok := handler.ParseQueryInt(c, "distributor_id")
	if !ok {
		return
	}
	start, ok := handler.ParseQueryTime(c, "start_time")
	if !ok {
		return
	}
	end, ok := handler.ParseQueryTime(c, "end_time")
	if !ok {
		return
	}

	filter := &repository.WithdrawalFilter{
		WithdrawalNo: c.Query("withdrawal_no"),
		StartTime:    start,
		EndTime:      end,
	}
	if status != nil {
		s := int8(*status)
		filter.Status = &s
	}
	if distributorID != nil {
		filter.DistributorID = int64(*distributorID)
	}

	p := handler.BindPagination(c)
	withdrawals, total, err := h.withdrawService.List(c.Request.Context(), filter, &p)
	handler.MustSucceedPage(c, err, withdrawals, total, p)
}

// GetWithdrawal 获取提现详情
// @Summary 获取提现详情
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param id path int true "提现ID"
// @Success 200 {object} response.Response{data=models.Withdrawal}
// @Router /api/v1/admin/finance/withdrawals/{id} [get]
func (h *FinanceHandler) GetWithdrawal(c *gin.Context) {
	id, ok := handler.ParseID(c, "提现")
	if !ok {
		return
	}
	w, err := h.withdrawService.GetByID(c.Request.Context(), id)
	handler.MustSucceed(c, err, w)
}

// GetWithdrawalByNo 按提现单号查询，对账时按打款渠道返回的单号反查
// @Summary 按单号获取提现单
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param withdrawal_no path string true "提现单号"
// @Success 200 {object} response.Response{data=models.Withdrawal}
// @Router /api/v1/admin/finance/withdrawals/by-no/{withdrawal_no} [get]
func (h *FinanceHandler) GetWithdrawalByNo(c *gin.Context) {
	w, err := h.withdrawService.GetByNo(c.Request.Context(), c.Param("withdrawal_no"))
	handler.MustSucceed(c, err, w)
}

// WithdrawalActionRequest 提现操作请求
type WithdrawalActionRequest struct {
	Action string `json:"action" binding:"required,oneof=approve reject process sync"`
	Reason string `json:"reason"`
}

// HandleWithdrawal 处理提现：审核通过、拒绝、发起打款、同步打款结果
// @Summary 处理提现
// @Tags 管理-财务
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "提现ID"
// @Param request body WithdrawalActionRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Withdrawal}
// @Router /api/v1/admin/finance/withdrawals/{id}/handle [post]
func (h *FinanceHandler) HandleWithdrawal(c *gin.Context) {
	operatorID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "提现")
	if !ok {
		return
	}

	var req WithdrawalActionRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if req.Action == "reject" && req.Reason == "" {
		response.BadRequest(c, "请填写拒绝原因")
		return
	}

	w, err := h.handleWithdrawal(c, id, operatorID, req.Action, req.Reason)
	handler.MustSucceed(c, err, w)
}

func (h *FinanceHandler) handleWithdrawal(c *gin.Context, id, operatorID int64, action, reason string) (*models.Withdrawal, error) {
	ctx := c.Request.Context()
	switch action {
	case "approve":
		return h.withdrawService.Approve(ctx, id, operatorID)
	case "reject":
		return h.withdrawService.Reject(ctx, id, operatorID, reason)
	case "process":
		return h.withdrawService.Process(ctx, id, operatorID)
	default:
		return h.withdrawService.Sync(ctx, id)
	}
}

// BatchWithdrawalRequest 批量提现操作请求
type BatchWithdrawalRequest struct {
	IDs    []int64 `json:"ids" binding:"required,min=1,max=100"`
	Action string  `json:"action" binding:"required,oneof=approve reject process"`
	Reason string  `json:"reason"`
}

// BatchResult 批量操作结果
type BatchResult struct {
	Succeeded []int64          `json:"succeeded"`
	Failed    map[int64]string `json:"failed"`
}

// BatchHandleWithdrawals 批量处理提现，逐笔执行，单笔失败不影响其他
// @Summary 批量处理提现
// @Tags 管理-财务
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body BatchWithdrawalRequest true "请求参数"
// @Success 200 {object} response.Response{data=BatchResult}
// @Router /api/v1/admin/finance/withdrawals/batch [post]
func (h *FinanceHandler) BatchHandleWithdrawals(c *gin.Context) {
	operatorID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req BatchWithdrawalRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if req.Action == "reject" && req.Reason == "" {
		response.BadRequest(c, "请填写拒绝原因")
		return
	}

	// 逐笔处理
	result := BatchResult{Succeeded: make([]int64, 0, len(req.IDs)), Failed: make(map[int64]string)}
	for _, id := range req.IDs {
		if _, err := h.handleWithdrawal(c, id, operatorID, req.Action, req.Reason); err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	response.Success(c, result)
}

// ListEntries 查询账本流水
// @Summary 查询账本流水
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param distributor_id query int false "分销商ID"
// @Param bucket query string false "科目"
// @Param type query string false "流水类型"
// @Param ref_no query string false "关联单号"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/finance/ledger/entries [get]
func (h *FinanceHandler) ListEntries(c *gin.Context) {
	distributorID, ok := handler.ParseQueryInt(c, "distributor_id")
	if !ok {
		return
	}
	filter := &repository.LedgerEntryFilter{
		Bucket: models.Bucket(c.Query("bucket")),
		Type:   c.Query("type"),
		RefNo:  c.Query("ref_no"),
	}
	if filter.Bucket != "" && !filter.Bucket.Valid() {
		response.BadRequest(c, "无效的科目")
		return
	}
	if distributorID != nil {
		filter.DistributorID = int64(*distributorID)
	}

	p := handler.BindPagination(c)
	entries, total, err := h.ledgerService.ListEntries(c.Request.Context(), filter, &p)
	handler.MustSucceedPage(c, err, entries, total, p)
}

// AdjustRequest 人工调账请求，Amount 为正数，Direction 决定增减
type AdjustRequest struct {
	DistributorID int64           `json:"distributor_id" binding:"required"`
	Bucket        models.Bucket   `json:"bucket"`
	Direction     string          `json:"direction" binding:"required,oneof=credit debit"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason" binding:"required"`
}

// Adjust 人工调账
// @Summary 人工调账
// @Tags 管理-财务
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body AdjustRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.LedgerEntry}
// @Router /api/v1/admin/finance/ledger/adjust [post]
func (h *FinanceHandler) Adjust(c *gin.Context) {
	operatorID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req AdjustRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	entry, err := h.ledgerService.Adjust(c.Request.Context(), &ledger.Mutation{
		DistributorID: req.DistributorID,
		Bucket:        req.Bucket,
		Amount:        req.Amount,
		RefType:       models.RefTypeManual,
		Reason:        req.Reason,
		OperatorID:    operatorID,
	}, req.Direction == "credit")
	handler.MustSucceed(c, err, entry)
}

// ReverseRequest 冲正请求
type ReverseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ReverseEntry 冲正一笔流水
// @Summary 冲正流水
// @Tags 管理-财务
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "流水ID"
// @Param request body ReverseRequest true "请求参数"
// @Success 200 {object} response.Response{data=[]models.LedgerEntry}
// @Router /api/v1/admin/finance/ledger/entries/{id}/reverse [post]
func (h *FinanceHandler) ReverseEntry(c *gin.Context) {
	operatorID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "流水")
	if !ok {
		return
	}

	var req ReverseRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	entries, err := h.ledgerService.Reverse(c.Request.Context(), id, operatorID, req.Reason)
	handler.MustSucceed(c, err, entries)
}

// Verify 核对分销商余额与流水
// @Summary 账户对账
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param id path int true "分销商ID"
// @Success 200 {object} response.Response{data=ledger.VerifyResult}
// @Router /api/v1/admin/finance/ledger/verify/{id} [get]
func (h *FinanceHandler) Verify(c *gin.Context) {
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	result, err := h.ledgerService.Verify(c.Request.Context(), id)
	handler.MustSucceed(c, err, result)
}

// ListAuditLogs 查询审计日志
// @Summary 查询审计日志
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param distributor_id query int false "分销商ID"
// @Param event_type query string false "事件类型"
// @Param target_type query string false "对象类型"
// @Param target_no query string false "对象单号"
// @Param start_time query string false "开始时间"
// @Param end_time query string false "结束时间"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/finance/audit-logs [get]
func (h *FinanceHandler) ListAuditLogs(c *gin.Context) {
	distributorID, ok := handler.ParseQueryInt(c, "distributor_id")
	if !ok {
		return
	}
	start, ok := handler.ParseQueryTime(c, "start_time")
	if !ok {
		return
	}
	end, ok := handler.ParseQueryTime(c, "end_time")
	if !ok {
		return
	}

	filter := &repository.AuditLogFilter{
		EventType:  c.Query("event_type"),
		TargetType: c.Query("target_type"),
		TargetNo:   c.Query("target_no"),
		StartTime:  start,
		EndTime:    end,
	}
	if distributorID != nil {
		filter.DistributorID = int64(*distributorID)
	}

	p := handler.BindPagination(c)
	logs, total, err := h.auditService.List(c.Request.Context(), filter, &p)
	handler.MustSucceedPage(c, err, logs, total, p)
}
