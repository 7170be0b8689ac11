package admin

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/mall-ledger/internal/common/handler"
	"github.com/dumeirei/mall-ledger/internal/common/response"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/distribution"
)

// DistributionHandler 分销管理处理器
type DistributionHandler struct {
	distributorService *distribution.DistributorService
	commissionService  *distribution.CommissionService
}

// NewDistributionHandler 创建分销管理处理器
func NewDistributionHandler(distributorSvc *distribution.DistributorService, commissionSvc *distribution.CommissionService) *DistributionHandler {
	return &DistributionHandler{
		distributorService: distributorSvc,
		commissionService:  commissionSvc,
	}
}

// RegisterRoutes 注册分销管理路由
func (h *DistributionHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/distributors", h.ListDistributors)
	r.GET("/distributors/:id", h.GetDistributor)
	r.POST("/distributors/:id/approve", h.ApproveDistributor)
	r.POST("/distributors/:id/disable", h.DisableDistributor)
	r.POST("/distributors/:id/enable", h.EnableDistributor)

	r.GET("/commissions", h.ListCommissions)
	r.GET("/commissions/:id", h.GetCommission)
	r.POST("/commissions/accrue", h.AccrueCommission)
	r.POST("/commissions/:id/settle", h.SettleCommission)
	r.POST("/commissions/settle-due", h.SettleDue)
	r.POST("/commissions/retry-frozen", h.RetryFrozen)
}

// ListDistributors 获取分销商列表
// @Summary 获取分销商列表
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param status query int false "状态: 0待审核 1正常 2禁用"
// @Param parent_id query int false "上级分销商ID"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/distribution/distributors [get]
func (h *DistributionHandler) ListDistributors(c *gin.Context) {
	status, ok := handler.ParseQueryInt(c, "status")
	if !ok {
		return
	}
	parentID, ok := handler.ParseQueryInt(c, "parent_id")
	if !ok {
		return
	}

	filter := &repository.DistributorFilter{}
	if status != nil {
		s := int8(*status)
		filter.Status = &s
	}
	if parentID != nil {
		filter.ParentID = int64(*parentID)
	}

	p := handler.BindPagination(c)
	distributors, total, err := h.distributorService.List(c.Request.Context(), filter, &p)
	handler.MustSucceedPage(c, err, distributors, total, p)
}

// GetDistributor 获取分销商账户概览
// @Summary 获取分销商详情
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Param id path int true "分销商ID"
// @Success 200 {object} response.Response{data=distribution.Overview}
// @Router /api/v1/admin/distribution/distributors/{id} [get]
func (h *DistributionHandler) GetDistributor(c *gin.Context) {
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	overview, err := h.distributorService.GetOverview(c.Request.Context(), id)
	handler.MustSucceed(c, err, overview)
}

// ApproveRequest 审核请求
type ApproveRequest struct {
	Approved bool `json:"approved"`
}

// ApproveDistributor 审核分销商申请
// @Summary 审核分销商
// @Tags 管理-分销
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "分销商ID"
// @Param request body ApproveRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Distributor}
// @Router /api/v1/admin/distribution/distributors/{id}/approve [post]
func (h *DistributionHandler) ApproveDistributor(c *gin.Context) {
	operatorID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	var req ApproveRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	d, err := h.distributorService.Approve(c.Request.Context(), id, operatorID, req.Approved)
	handler.MustSucceed(c, err, d)
}

// DisableDistributor 禁用分销商
// @Summary 禁用分销商
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Param id path int true "分销商ID"
// @Success 200 {object} response.Response{data=models.Distributor}
// @Router /api/v1/admin/distribution/distributors/{id}/disable [post]
func (h *DistributionHandler) DisableDistributor(c *gin.Context) {
	operatorID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	d, err := h.distributorService.Disable(c.Request.Context(), id, operatorID)
	handler.MustSucceed(c, err, d)
}

// EnableDistributor 启用分销商
// @Summary 启用分销商
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Param id path int true "分销商ID"
// @Success 200 {object} response.Response{data=models.Distributor}
// @Router /api/v1/admin/distribution/distributors/{id}/enable [post]
func (h *DistributionHandler) EnableDistributor(c *gin.Context) {
	operatorID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	d, err := h.distributorService.Enable(c.Request.Context(), id, operatorID)
	handler.MustSucceed(c, err, d)
}

// ListCommissions 获取佣金列表
// @Summary 获取佣金列表
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Param distributor_id query int false "分销商ID"
// @Param order_no query string false "订单号"
// @Param status query int false "状态: 0待结算 1已结算 2冻结 3已冲回"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/distribution/commissions [get]
func (h *DistributionHandler) ListCommissions(c *gin.Context) {
	status, ok := handler.ParseQueryInt(c, "status")
	if !ok {
		return
	}
	distributorID, ok := handler.ParseQueryInt(c, "distributor_id")
	if !ok {
		return
	}

	filter := &repository.CommissionFilter{OrderNo: c.Query("order_no")}
	if status != nil {
		s := int8(*status)
		filter.Status = &s
	}
	if distributorID != nil {
		filter.DistributorID = int64(*distributorID)
	}

	p := handler.BindPagination(c)
	commissions, total, err := h.commissionService.List(c.Request.Context(), filter, &p)
	handler.MustSucceedPage(c, err, commissions, total, p)
}

// GetCommission 获取佣金详情
// @Summary 获取佣金详情
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Param id path int true "佣金ID"
// @Success 200 {object} response.Response{data=models.Commission}
// @Router /api/v1/admin/distribution/commissions/{id} [get]
func (h *DistributionHandler) GetCommission(c *gin.Context) {
	id, ok := handler.ParseID(c, "佣金")
	if !ok {
		return
	}
	commission, err := h.commissionService.GetByID(c.Request.Context(), id)
	handler.MustSucceed(c, err, commission)
}

// AccrueRequest 计佣请求
type AccrueRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
}

// AccrueCommission 为已完成订单计算佣金，订单服务完成订单后回调
// @Summary 订单计佣
// @Tags 管理-分销
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body AccrueRequest true "请求参数"
// @Success 200 {object} response.Response{data=[]models.Commission}
// @Router /api/v1/admin/distribution/commissions/accrue [post]
func (h *DistributionHandler) AccrueCommission(c *gin.Context) {
	var req AccrueRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	commissions, err := h.commissionService.Accrue(c.Request.Context(), req.OrderNo)
	handler.MustSucceed(c, err, commissions)
}

// SettleCommission 提前结算单笔佣金
// @Summary 结算佣金
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Param id path int true "佣金ID"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/distribution/commissions/{id}/settle [post]
func (h *DistributionHandler) SettleCommission(c *gin.Context) {
	id, ok := handler.ParseID(c, "佣金")
	if !ok {
		return
	}
	handler.MustSucceed(c, h.commissionService.Settle(c.Request.Context(), id), nil)
}

// CountResult 批处理条数
type CountResult struct {
	Count int `json:"count"`
}

// SettleDue 立即结算所有已到期佣金
// @Summary 批量结算到期佣金
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=CountResult}
// @Router /api/v1/admin/distribution/commissions/settle-due [post]
func (h *DistributionHandler) SettleDue(c *gin.Context) {
	n, err := h.commissionService.SettleDue(c.Request.Context(), time.Now())
	handler.MustSucceed(c, err, CountResult{Count: n})
}

// RetryFrozen 重试挂账中的佣金冲正
// @Summary 重试冻结佣金冲正
// @Tags 管理-分销
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=CountResult}
// @Router /api/v1/admin/distribution/commissions/retry-frozen [post]
func (h *DistributionHandler) RetryFrozen(c *gin.Context) {
	n, err := h.commissionService.RetryFrozen(c.Request.Context())
	if handler.HandleError(c, err) {
		return
	}
	response.Success(c, CountResult{Count: n})
}
