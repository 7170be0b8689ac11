package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry 账本流水，只追加不修改
//
// 一次余额变动（如冻结：可提现 -x、冻结 +x）写入同一 TxnNo 下的多条流水，
// 冲正时整组反向。
type LedgerEntry struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TxnNo         string          `gorm:"type:varchar(36);index;not null" json:"txn_no"`
	DistributorID int64           `gorm:"index;not null" json:"distributor_id"`
	Bucket        Bucket          `gorm:"type:varchar(16);not null" json:"bucket"`
	Type          string          `gorm:"type:varchar(32);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_after"`
	RefType       string          `gorm:"type:varchar(32)" json:"ref_type,omitempty"`
	RefNo         string          `gorm:"type:varchar(64);index" json:"ref_no,omitempty"`
	Reason        string          `gorm:"type:varchar(255)" json:"reason,omitempty"`
	OperatorID    int64           `gorm:"not null;default:0" json:"operator_id"`
	ReversalOf    *int64          `gorm:"uniqueIndex" json:"reversal_of,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 表名
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// IsReversal 是否为冲正流水
func (e *LedgerEntry) IsReversal() bool {
	return e.ReversalOf != nil
}

// WorkflowOwned 佣金与提现流程产生的流水，只能由对应流程冲回
func (e *LedgerEntry) WorkflowOwned() bool {
	switch e.Type {
	case EntryTypeCommissionAccrue, EntryTypeCommissionSettle, EntryTypeCommissionReverse,
		EntryTypeWithdrawHold, EntryTypeWithdrawPayout:
		return true
	}
	return false
}

// 流水类型
const (
	EntryTypeCommissionAccrue  = "commission_accrue"  // 佣金入账（待结算）
	EntryTypeCommissionSettle  = "commission_settle"  // 佣金结算
	EntryTypeCommissionReverse = "commission_reverse" // 退货冲回佣金
	EntryTypeWithdrawHold      = "withdraw_hold"      // 提现冻结
	EntryTypeWithdrawPayout    = "withdraw_payout"    // 提现到账
	EntryTypeManualAdjust      = "manual_adjust"      // 人工调账
	EntryTypeReversal          = "reversal"           // 冲正
)

// 流水关联单据类型
const (
	RefTypeOrder      = "order"
	RefTypeCommission = "commission"
	RefTypeWithdrawal = "withdrawal"
	RefTypeReturn     = "return"
	RefTypeManual     = "manual"
)

// AuditLog 审计事件，与业务写入同事务提交，之后由投递任务发布到事件流
type AuditLog struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"event_id"`
	EventType     string          `gorm:"type:varchar(48);index;not null" json:"event_type"`
	DistributorID int64           `gorm:"index" json:"distributor_id,omitempty"`
	TargetType    string          `gorm:"type:varchar(32);not null" json:"target_type"`
	TargetID      int64           `gorm:"not null;default:0" json:"target_id"`
	TargetNo      string          `gorm:"type:varchar(64);index" json:"target_no,omitempty"`
	FromStatus    *int8           `gorm:"type:smallint" json:"from_status,omitempty"`
	ToStatus      *int8           `gorm:"type:smallint" json:"to_status,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	OperatorID    int64           `gorm:"not null;default:0" json:"operator_id"`
	Payload       JSON            `gorm:"type:jsonb" json:"payload,omitempty"`
	PublishedAt   *time.Time      `gorm:"index" json:"published_at,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// 审计事件类型
const (
	AuditLedgerCredit  = "ledger.credit"
	AuditLedgerDebit   = "ledger.debit"
	AuditLedgerTxn     = "ledger.transfer"
	AuditLedgerReverse = "ledger.reverse"

	AuditWithdrawalApplied    = "withdrawal.applied"
	AuditWithdrawalApproved   = "withdrawal.approved"
	AuditWithdrawalRejected   = "withdrawal.rejected"
	AuditWithdrawalProcessing = "withdrawal.processing"
	AuditWithdrawalCompleted  = "withdrawal.completed"
	AuditWithdrawalFailed     = "withdrawal.failed"

	AuditCommissionAccrued  = "commission.accrued"
	AuditCommissionSettled  = "commission.settled"
	AuditCommissionReversed = "commission.reversed"
	AuditCommissionFrozen   = "commission.frozen"

	AuditReturnCreated = "return.created"

	AuditDistributorRegistered = "distributor.registered"
	AuditDistributorStatus     = "distributor.status"
)

// 审计目标类型
const (
	AuditTargetLedgerEntry = "ledger_entry"
	AuditTargetWithdrawal  = "withdrawal"
	AuditTargetCommission  = "commission"
	AuditTargetReturn      = "order_return"
	AuditTargetDistributor = "distributor"
)
