// Package payout 提现打款渠道
//
// 渠道以 out_bill_no（提现单号）作为幂等键：同一单号重复发起转账只会打款一次，
// 并且可以随时按单号查询结果。
package payout

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// 转账状态
const (
	StatusSuccess    = "SUCCESS"    // 已到账
	StatusAccepted   = "ACCEPTED"   // 已受理，结果待查询
	StatusProcessing = "PROCESSING" // 处理中
	StatusRejected   = "REJECTED"   // 渠道拒绝（账户信息错误等）
	StatusFailed     = "FAILED"     // 打款失败
)

// ErrTransferNotFound 渠道没有该单号的转账记录
var ErrTransferNotFound = errors.New("payout: transfer not found")

// Gateway 打款渠道
type Gateway interface {
	// Transfer 发起转账，按 OutBillNo 幂等
	Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)
	// QueryTransfer 按单号查询转账结果，不存在时返回 ErrTransferNotFound
	QueryTransfer(ctx context.Context, outBillNo string) (*TransferResult, error)
}

// AccountInfo 收款账户
type AccountInfo struct {
	Name      string `json:"name"`
	AccountNo string `json:"account_no,omitempty"`
	BankName  string `json:"bank_name,omitempty"`
	OpenID    string `json:"openid,omitempty"`
}

// TransferRequest 转账请求
type TransferRequest struct {
	OutBillNo string
	Amount    decimal.Decimal
	Method    string
	Account   AccountInfo
	Remark    string
}

// TransferResult 转账结果
type TransferResult struct {
	OutBillNo    string
	TransferID   string
	Status       string
	ActualAmount *decimal.Decimal // 渠道未返回时为 nil
	Fee          *decimal.Decimal
	FailReason   string
}

// Succeeded 是否已到账
func (r *TransferResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Failed 是否为确定失败（资金未出账）
func (r *TransferResult) Failed() bool {
	return r.Status == StatusRejected || r.Status == StatusFailed
}

// Pending 是否仍需查询
func (r *TransferResult) Pending() bool {
	return !r.Succeeded() && !r.Failed()
}
