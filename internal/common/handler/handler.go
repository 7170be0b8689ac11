// Package handler 提供 API Handler 的通用辅助函数
package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/response"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/middleware"
)

// HandleError 处理错误并发送响应，返回 true 表示调用方应直接 return
//
// 可纠正的业务错误原样返回错误码与消息；可重试错误返回 503；
// 其余错误只返回通用提示，细节写入日志。
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	_ = c.Error(err)

	appErr := errors.GetAppError(err)
	switch {
	case errors.IsClientError(err):
		response.Error(c, appErr.Code, appErr.Message)
	case appErr.Retryable:
		response.ServiceUnavailable(c, appErr.Code, appErr.Message)
	default:
		logger.GetLogger().Error("request failed",
			logger.RequestID(middleware.GetRequestID(c)),
			logger.Module("http"),
			logger.Err(err),
		)
		response.InternalError(c, "系统繁忙，请稍后重试")
	}
	return true
}

// MustSucceed 有错误返回错误响应，否则返回成功响应；调用后必须 return
func MustSucceed(c *gin.Context, err error, data interface{}) {
	if HandleError(c, err) {
		return
	}
	response.Success(c, data)
}

// MustSucceedPage 分页响应版本
func MustSucceedPage(c *gin.Context, err error, list interface{}, total int64, p utils.Pagination) {
	if HandleError(c, err) {
		return
	}
	response.SuccessPage(c, list, total, p.Page, p.PageSize)
}

// RequireUserID 获取当前调用者 ID，未登录时已发送 401
func RequireUserID(c *gin.Context) (int64, bool) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "请先登录")
		return 0, false
	}
	return userID, true
}

// ParseID 解析路径参数 "id"
func ParseID(c *gin.Context, resourceName string) (int64, bool) {
	return ParseParamID(c, "id", resourceName)
}

// ParseParamID 解析指定路径参数为 int64，失败时已发送 400
func ParseParamID(c *gin.Context, paramName, resourceName string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(paramName), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "无效的"+resourceName+"ID")
		return 0, false
	}
	return id, true
}

// ParseQueryInt 解析可选整数查询参数，空值返回 nil
func ParseQueryInt(c *gin.Context, name string) (*int, bool) {
	s := c.Query(name)
	if s == "" {
		return nil, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		response.BadRequest(c, "无效的参数: "+name)
		return nil, false
	}
	return &v, true
}

// ParseQueryTime 解析可选时间查询参数，支持 RFC3339 与 2006-01-02，空值返回 nil
func ParseQueryTime(c *gin.Context, name string) (*time.Time, bool) {
	s := c.Query(name)
	if s == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, true
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		response.BadRequest(c, "无效的时间: "+name)
		return nil, false
	}
	return &t, true
}

// BindPagination 从查询参数绑定并规范化分页参数
func BindPagination(c *gin.Context) utils.Pagination {
	var p utils.Pagination
	p.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	p.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "10"))
	p.Normalize()
	return p
}

// BindJSON 绑定请求体，失败时已发送 400
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return false
	}
	return true
}

// Chain 在处理函数前挂载可选的路由级中间件，nil 跳过
func Chain(fn gin.HandlerFunc, middlewares ...gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	for _, m := range middlewares {
		if m != nil {
			chain = append(chain, m)
		}
	}
	return append(chain, fn)
}
