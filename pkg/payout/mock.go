package payout

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome 模拟渠道对一笔转账的处理结果
type Outcome struct {
	Status     string
	Fee        decimal.Decimal
	FailReason string
	Err        error // 非空时 Transfer 直接返回该错误（模拟网络超时等）
}

// MockClient 内存打款渠道，开发环境与测试使用
//
// 同一单号重复转账返回首次结果；Resolve 可以把受理中的转账改为最终状态。
type MockClient struct {
	mu        sync.Mutex
	transfers map[string]*TransferResult
	outcomes  []Outcome
	fallback  Outcome
	queryErr  error
	calls     int
}

// NewMockClient 默认全部立即到账、无手续费
func NewMockClient() *MockClient {
	return &MockClient{
		transfers: make(map[string]*TransferResult),
		fallback:  Outcome{Status: StatusSuccess},
	}
}

// SetDefault 设置默认处理结果
func (m *MockClient) SetDefault(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = o
}

// Enqueue 依次为后续的新转账指定结果
func (m *MockClient) Enqueue(outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcomes...)
}

// SetQueryError 之后的查询直接返回 err，传 nil 恢复
func (m *MockClient) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

// Calls 调用 Transfer 的次数
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Transfer 模拟转账
func (m *MockClient) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if existing, ok := m.transfers[req.OutBillNo]; ok {
		return copyResult(existing), nil
	}

	o := m.fallback
	if len(m.outcomes) > 0 {
		o = m.outcomes[0]
		m.outcomes = m.outcomes[1:]
	}
	if o.Err != nil {
		return nil, o.Err
	}

	res := &TransferResult{
		OutBillNo:  req.OutBillNo,
		TransferID: uuid.New().String(),
		Status:     o.Status,
		FailReason: o.FailReason,
	}
	if o.Status == StatusSuccess {
		res.setAmounts(req.Amount, o.Fee)
	}
	m.transfers[req.OutBillNo] = res
	return copyResult(res), nil
}

// QueryTransfer 查询
func (m *MockClient) QueryTransfer(ctx context.Context, outBillNo string) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queryErr != nil {
		return nil, m.queryErr
	}
	res, ok := m.transfers[outBillNo]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return copyResult(res), nil
}

// Resolve 把已受理的转账改为最终状态，amount 为原申请金额
func (m *MockClient) Resolve(outBillNo string, amount decimal.Decimal, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.transfers[outBillNo]
	if !ok {
		return fmt.Errorf("payout mock: unknown transfer %s", outBillNo)
	}
	res.Status = o.Status
	res.FailReason = o.FailReason
	if o.Status == StatusSuccess {
		res.setAmounts(amount, o.Fee)
	}
	return nil
}

// Record 直接登记一笔渠道侧已存在的转账（模拟超时后实际已打款）
func (m *MockClient) Record(res *TransferResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[res.OutBillNo] = copyResult(res)
}

func (r *TransferResult) setAmounts(amount, fee decimal.Decimal) {
	f := fee
	actual := amount.Sub(fee)
	r.Fee = &f
	r.ActualAmount = &actual
}

func copyResult(r *TransferResult) *TransferResult {
	c := *r
	return &c
}
