package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/mall-ledger/internal/common/handler"
	"github.com/dumeirei/mall-ledger/internal/service/refund"
)

// OrderHandler 订单退货处理器
type OrderHandler struct {
	returnService *refund.ReturnService
}

// NewOrderHandler 创建订单退货处理器
func NewOrderHandler(returnSvc *refund.ReturnService) *OrderHandler {
	return &OrderHandler{returnService: returnSvc}
}

// RegisterRoutes 注册退货路由
func (h *OrderHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/returns/preview", h.PreviewReturn)
	r.POST("/returns", h.CreateReturn)
	r.GET("/returns/:return_no", h.GetReturn)
	r.GET("/orders/:order_no/returns", h.ListReturns)
}

// PreviewReturn 试算退货金额
// @Summary 试算退货金额
// @Tags 管理-订单
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body refund.ReturnRequest true "请求参数"
// @Success 200 {object} response.Response{data=refund.Result}
// @Router /api/v1/admin/returns/preview [post]
func (h *OrderHandler) PreviewReturn(c *gin.Context) {
	var req refund.ReturnRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	result, err := h.returnService.Preview(c.Request.Context(), &req)
	handler.MustSucceed(c, err, result)
}

// CreateReturn 创建退货单：分摊优惠与积分、退回积分、冲回佣金
// @Summary 创建退货单
// @Tags 管理-订单
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body refund.ReturnRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.OrderReturn}
// @Router /api/v1/admin/returns [post]
func (h *OrderHandler) CreateReturn(c *gin.Context) {
	operatorID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	var req refund.ReturnRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	req.OperatorID = operatorID

	ret, err := h.returnService.Create(c.Request.Context(), &req)
	handler.MustSucceed(c, err, ret)
}

// GetReturn 获取退货单
// @Summary 获取退货单
// @Tags 管理-订单
// @Produce json
// @Security Bearer
// @Param return_no path string true "退货单号"
// @Success 200 {object} response.Response{data=models.OrderReturn}
// @Router /api/v1/admin/returns/{return_no} [get]
func (h *OrderHandler) GetReturn(c *gin.Context) {
	ret, err := h.returnService.Get(c.Request.Context(), c.Param("return_no"))
	handler.MustSucceed(c, err, ret)
}

// ListReturns 获取订单的全部退货单
// @Summary 获取订单退货单
// @Tags 管理-订单
// @Produce json
// @Security Bearer
// @Param order_no path string true "订单号"
// @Success 200 {object} response.Response{data=[]models.OrderReturn}
// @Router /api/v1/admin/orders/{order_no}/returns [get]
func (h *OrderHandler) ListReturns(c *gin.Context) {
	list, err := h.returnService.ListByOrder(c.Request.Context(), c.Param("order_no"))
	handler.MustSucceed(c, err, list)
}
