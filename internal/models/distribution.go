package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bucket 分销商余额科目
type Bucket string

// 余额科目
const (
	BucketPending   Bucket = "pending"   // 待结算佣金
	BucketAvailable Bucket = "available" // 可提现余额
	BucketFrozen    Bucket = "frozen"    // 提现冻结
	BucketWithdrawn Bucket = "withdrawn" // 累计已提现（到账金额）
	BucketFee       Bucket = "fee"       // 累计提现手续费
)

// AllBuckets 全部科目
var AllBuckets = []Bucket{BucketPending, BucketAvailable, BucketFrozen, BucketWithdrawn, BucketFee}

// Valid 是否为已知科目
func (b Bucket) Valid() bool {
	for _, v := range AllBuckets {
		if v == b {
			return true
		}
	}
	return false
}

// Adjustable 是否允许人工调账，冻结、已提现与手续费只由提现流程变动
func (b Bucket) Adjustable() bool {
	return b == BucketPending || b == BucketAvailable
}

// Column 科目对应的余额列名
func (b Bucket) Column() string {
	return string(b) + "_commission"
}

// Balances 分销商各科目余额，均不得为负
type Balances struct {
	Pending   decimal.Decimal `gorm:"column:pending_commission;type:decimal(12,2);not null;default:0" json:"pending_commission"`
	Available decimal.Decimal `gorm:"column:available_commission;type:decimal(12,2);not null;default:0" json:"available_commission"`
	Frozen    decimal.Decimal `gorm:"column:frozen_commission;type:decimal(12,2);not null;default:0" json:"frozen_commission"`
	Withdrawn decimal.Decimal `gorm:"column:withdrawn_commission;type:decimal(12,2);not null;default:0" json:"withdrawn_commission"`
	Fee       decimal.Decimal `gorm:"column:fee_commission;type:decimal(12,2);not null;default:0" json:"fee_commission"`
}

// Get 读取科目余额
func (b *Balances) Get(bucket Bucket) decimal.Decimal {
	switch bucket {
	case BucketPending:
		return b.Pending
	case BucketAvailable:
		return b.Available
	case BucketFrozen:
		return b.Frozen
	case BucketWithdrawn:
		return b.Withdrawn
	case BucketFee:
		return b.Fee
	}
	return decimal.Zero
}

// Set 写入科目余额
func (b *Balances) Set(bucket Bucket, v decimal.Decimal) {
	switch bucket {
	case BucketPending:
		b.Pending = v
	case BucketAvailable:
		b.Available = v
	case BucketFrozen:
		b.Frozen = v
	case BucketWithdrawn:
		b.Withdrawn = v
	case BucketFee:
		b.Fee = v
	}
}

// Settled 已结算佣金总额（可提现 + 冻结 + 已提现 + 手续费）
func (b *Balances) Settled() decimal.Decimal {
	return b.Available.Add(b.Frozen).Add(b.Withdrawn).Add(b.Fee)
}

// BalanceColumns 余额列，用于 Select 指定更新列
func BalanceColumns() []string {
	cols := make([]string, 0, len(AllBuckets))
	for _, b := range AllBuckets {
		cols = append(cols, b.Column())
	}
	return cols
}

// Distributor 分销商账户
type Distributor struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64      `gorm:"uniqueIndex;not null" json:"user_id"`
	Level      int        `gorm:"not null;default:1" json:"level"`
	ParentID   *int64     `gorm:"index" json:"parent_id,omitempty"`
	InviteCode string     `gorm:"type:varchar(20);uniqueIndex;not null" json:"invite_code"`
	Balances   `gorm:"embedded"`
	Status     int8       `gorm:"type:smallint;not null;default:0" json:"status"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Distributor) TableName() string {
	return "distributors"
}

// IsActive 是否正常
func (d *Distributor) IsActive() bool {
	return d.Status == DistributorStatusActive
}

// DistributorStatus 分销商状态
const (
	DistributorStatusPending  = 0 // 待审核
	DistributorStatusActive   = 1 // 正常
	DistributorStatusDisabled = 2 // 禁用
)

// DistributorLevel 分销商等级
const (
	DistributorLevelPrimary = 1 // 初级
	DistributorLevelSenior  = 2 // 高级
	DistributorLevelExpert  = 3 // 专家
)

// Commission 佣金记录，金额创建后不变，只流转状态
type Commission struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	DistributorID  int64           `gorm:"index;not null" json:"distributor_id"`
	OrderID        int64           `gorm:"index;not null" json:"order_id"`
	OrderNo        string          `gorm:"type:varchar(64);not null" json:"order_no"`
	OrderItemID    int64           `gorm:"uniqueIndex:uk_commission_item_level;not null" json:"order_item_id"`
	SourceUserID   int64           `gorm:"not null" json:"source_user_id"`
	Level          int             `gorm:"uniqueIndex:uk_commission_item_level;not null" json:"level"`
	OrderAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"order_amount"`
	CommissionRate decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	ReversedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"reversed_amount"`
	OwedAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"owed_amount"` // 待追回金额，仅 frozen 状态非零
	Status         int8            `gorm:"type:smallint;not null;default:0;index" json:"status"`
	AccrueEntryID  int64           `json:"accrue_entry_id"`
	SettleEntryID  *int64          `json:"settle_entry_id,omitempty"`
	ReverseEntryID *int64          `json:"reverse_entry_id,omitempty"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
	ReversedAt     *time.Time      `json:"reversed_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Commission) TableName() string {
	return "commissions"
}

// Remaining 尚未冲回也未挂账的佣金
func (c *Commission) Remaining() decimal.Decimal {
	return c.Amount.Sub(c.ReversedAmount).Sub(c.OwedAmount)
}

// CommissionStatus 佣金状态
const (
	CommissionStatusPending  = 0 // 待结算
	CommissionStatusSettled  = 1 // 已结算
	CommissionStatusFrozen   = 2 // 待追回：已结算但可提现余额不足以冲回
	CommissionStatusReversed = 3 // 已冲回
)

// CommissionLevel 佣金层级
const (
	CommissionLevelDirect = 1 // 直接推荐
	CommissionLevelSecond = 2 // 二级推荐
)

// Withdrawal 提现申请
type Withdrawal struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	DistributorID        int64           `gorm:"index;not null" json:"distributor_id"`
	UserID               int64           `gorm:"index;not null" json:"user_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Fee                  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"fee"`
	ActualAmount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"actual_amount"`
	WithdrawMethod       string          `gorm:"type:varchar(20);not null" json:"withdraw_method"`
	AccountInfoEncrypted string          `gorm:"type:text;not null" json:"-"`
	AccountMask          string          `gorm:"type:varchar(32)" json:"account_mask"`
	Status               int8            `gorm:"type:smallint;not null;default:0;index" json:"status"`
	HoldEntryID          int64           `gorm:"not null" json:"hold_entry_id"`
	ReleaseEntryID       *int64          `json:"release_entry_id,omitempty"`
	PayoutEntryID        *int64          `json:"payout_entry_id,omitempty"`
	TransactionID        *string         `gorm:"type:varchar(64)" json:"transaction_id,omitempty"`
	RejectReason         *string         `gorm:"type:varchar(255)" json:"reject_reason,omitempty"`
	FailReason           *string         `gorm:"type:varchar(255)" json:"fail_reason,omitempty"`
	GatewayAttempts      int             `gorm:"not null;default:0" json:"gateway_attempts"`
	OperatorID           *int64          `json:"operator_id,omitempty"`
	AppliedAt            time.Time       `gorm:"not null" json:"applied_at"`
	AuditedAt            *time.Time      `json:"audited_at,omitempty"`
	ProcessedAt          *time.Time      `json:"processed_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Withdrawal) TableName() string {
	return "withdrawals"
}

// IsTerminal 是否已终结
func (w *Withdrawal) IsTerminal() bool {
	return IsWithdrawalTerminal(w.Status)
}

// WithdrawMethod 提现方式
const (
	WithdrawMethodWechat = "wechat" // 微信
	WithdrawMethodAlipay = "alipay" // 支付宝
	WithdrawMethodBank   = "bank"   // 银行卡
)

// ValidWithdrawMethod 是否为支持的提现方式
func ValidWithdrawMethod(m string) bool {
	return m == WithdrawMethodWechat || m == WithdrawMethodAlipay || m == WithdrawMethodBank
}

// WithdrawalStatus 提现状态
const (
	WithdrawalStatusPending    int8 = 0 // 待审核
	WithdrawalStatusApproved   int8 = 1 // 已批准
	WithdrawalStatusRejected   int8 = 2 // 已拒绝
	WithdrawalStatusProcessing int8 = 3 // 打款中
	WithdrawalStatusCompleted  int8 = 4 // 已完成
	WithdrawalStatusFailed     int8 = 5 // 打款失败
)

// WithdrawalTransitions 合法的状态迁移
var WithdrawalTransitions = map[int8][]int8{
	WithdrawalStatusPending:    {WithdrawalStatusApproved, WithdrawalStatusRejected},
	WithdrawalStatusApproved:   {WithdrawalStatusProcessing},
	WithdrawalStatusProcessing: {WithdrawalStatusCompleted, WithdrawalStatusFailed},
}

// CanTransition 是否允许从 from 迁移到 to
func CanTransition(from, to int8) bool {
	for _, s := range WithdrawalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsWithdrawalTerminal 是否为终态
func IsWithdrawalTerminal(status int8) bool {
	return status == WithdrawalStatusRejected || status == WithdrawalStatusCompleted || status == WithdrawalStatusFailed
}

// WithdrawalStatusName 状态名，用于日志与指标标签
func WithdrawalStatusName(status int8) string {
	switch status {
	case WithdrawalStatusPending:
		return "pending"
	case WithdrawalStatusApproved:
		return "approved"
	case WithdrawalStatusRejected:
		return "rejected"
	case WithdrawalStatusProcessing:
		return "processing"
	case WithdrawalStatusCompleted:
		return "completed"
	case WithdrawalStatusFailed:
		return "failed"
	}
	return "unknown"
}

// OutstandingWithdrawalStatuses 仍持有冻结金额的状态
var OutstandingWithdrawalStatuses = []int8{
	WithdrawalStatusPending,
	WithdrawalStatusApproved,
	WithdrawalStatusProcessing,
}
