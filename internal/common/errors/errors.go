// Package errors 定义业务错误码和错误处理
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError 应用错误
type AppError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"-"`
	Err       error  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，使 errors.Is(err, ErrXxx) 对 WithMessage/WithError 派生的错误同样成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建新的应用错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithMessage 修改错误消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:      e.Code,
		Message:   message,
		Retryable: e.Retryable,
		Err:       e.Err,
	}
}

// WithError 添加原始错误
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Err:       err,
	}
}

// 通用错误码 (1000-1999)
var (
	ErrUnknown         = New(1000, "未知错误")
	ErrInvalidParams   = New(1001, "参数错误")
	ErrNotFound        = New(1002, "资源不存在")
	ErrAlreadyExists   = New(1003, "资源已存在")
	ErrDatabaseError   = New(1004, "数据库错误")
	ErrCacheError      = New(1005, "缓存错误")
	ErrInternalError   = New(1006, "内部错误")
	ErrExternalService = New(1007, "外部服务错误")
	ErrOperationFailed = New(1009, "操作失败")
)

// 认证错误码 (2000-2999)
var (
	ErrUnauthorized     = New(2000, "未登录")
	ErrTokenExpired     = New(2001, "登录已过期")
	ErrTokenInvalid     = New(2002, "无效的令牌")
	ErrPermissionDenied = New(2004, "权限不足")
)

// 用户错误码 (3000-3999)
var (
	ErrUserNotFound        = New(3000, "用户不存在")
	ErrBalanceInsufficient = New(3006, "余额不足")
	ErrWithdrawFailed      = New(3007, "提现失败")
)

// 订单错误码 (5000-5999)
var (
	ErrOrderNotFound     = New(5000, "订单不存在")
	ErrOrderStatusError  = New(5001, "订单状态异常")
	ErrOrderItemNotFound = New(5010, "订单商品不存在")
)

// 退款错误码 (6000-6999)
var (
	ErrRefundNotFound       = New(6003, "退款记录不存在")
	ErrRefundAmountExceed   = New(6005, "退款金额超限")
	ErrReturnQuantityExceed = New(6008, "退货数量超出可退数量")
	ErrReturnItemsEmpty     = New(6009, "退货商品不能为空")
)

// 分销账本错误码 (10000-10999)
var (
	ErrInvalidAmount        = New(10000, "金额必须大于0")
	ErrDistributorNotFound  = New(10001, "分销商不存在")
	ErrDistributorDisabled  = New(10002, "分销商已禁用")
	ErrLedgerEntryNotFound  = New(10003, "流水记录不存在")
	ErrAlreadyReversed      = New(10004, "流水已冲正")
	ErrReversalNotAllowed   = New(10005, "该流水不允许冲正")
	ErrCommissionNotFound   = New(10006, "佣金记录不存在")
	ErrCommissionStatus     = New(10007, "佣金状态不允许此操作")
	ErrInviteCodeInvalid    = New(10008, "邀请码无效")
	ErrDistributorStatus    = New(10009, "分销商状态不允许此操作")
	ErrBucketNotAdjustable  = New(10010, "该余额科目不允许人工调账")
	ErrWithdrawalNotFound   = New(10100, "提现记录不存在")
	ErrWithdrawalStatus     = New(10101, "提现状态不允许此操作")
	ErrWithdrawBelowMinimum = New(10102, "提现金额低于最低限额")
	ErrWithdrawTooMany      = New(10103, "待处理的提现申请过多")
	ErrWithdrawMethod       = New(10104, "不支持的提现方式")
	ErrGatewayError         = &AppError{Code: 10200, Message: "打款渠道异常，请稍后重试", Retryable: true}
)

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return ErrUnknown.WithError(err)
}

// IsRetryable 是否为可重试错误
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// IsClientError 是否为调用方可纠正的错误（参数、状态、余额等）
func IsClientError(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case ErrUnknown.Code, ErrDatabaseError.Code, ErrCacheError.Code, ErrInternalError.Code, ErrExternalService.Code:
		return false
	}
	return !appErr.Retryable
}
