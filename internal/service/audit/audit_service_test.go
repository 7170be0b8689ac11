package audit

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/testutil"
)

func newEvent(no string) *Event {
	return &Event{
		Type:          models.AuditWithdrawalApproved,
		DistributorID: 3,
		TargetType:    models.AuditTargetWithdrawal,
		TargetID:      9,
		TargetNo:      no,
		FromStatus:    StatusPtr(models.WithdrawalStatusPending),
		ToStatus:      StatusPtr(models.WithdrawalStatusApproved),
		Amount:        decimal.NewFromInt(150),
		OperatorID:    7,
		Payload:       map[string]interface{}{"reason": "ok"},
	}
}

func TestService_RecordTx(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(repository.NewAuditLogRepository(db), testutil.NewLogger())
	ctx := context.Background()

	var recorded *models.AuditLog
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		recorded, err = svc.RecordTx(ctx, tx, newEvent("W1"))
		return err
	})
	require.NoError(t, err)
	assert.Len(t, recorded.EventID, 36)

	logs, total, err := svc.List(ctx, &repository.AuditLogFilter{TargetNo: "W1"}, &utils.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int8(models.WithdrawalStatusApproved), *logs[0].ToStatus)
	assert.Equal(t, "ok", logs[0].Payload["reason"])
}

func TestService_RecordTx_RolledBackWithCaller(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(repository.NewAuditLogRepository(db), nil)
	ctx := context.Background()

	boom := stderrors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.RecordTx(ctx, tx, newEvent("W1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	db.Model(&models.AuditLog{}).Count(&count)
	assert.Zero(t, count)
}

func TestPublisher_Relay(t *testing.T) {
	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	repo := repository.NewAuditLogRepository(db)
	svc := NewService(repo, nil)
	pub := NewPublisher(repo, rdb, &config.AuditConfig{Stream: "test:audit", BatchSize: 2}, metrics.New("test", nil), nil)
	ctx := context.Background()

	for _, no := range []string{"W1", "W2", "W3"} {
		_, err := svc.RecordTx(ctx, db, newEvent(no))
		require.NoError(t, err)
	}

	n, err := pub.RelayAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := mr.Stream("test:audit")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	fields := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		fields[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, "W1", fields["target_no"])
	assert.Equal(t, "150.00", fields["amount"])
	assert.Equal(t, "0", fields["from_status"])
	assert.JSONEq(t, `{"reason":"ok"}`, fields["payload"])

	unpublished, err := repo.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unpublished)

	// 无新日志时不再投递
	n, err = pub.Relay(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublisher_RedisDownKeepsOutbox(t *testing.T) {
	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	repo := repository.NewAuditLogRepository(db)
	pub := NewPublisher(repo, rdb, nil, nil, nil)
	ctx := context.Background()

	_, err := NewService(repo, nil).RecordTx(ctx, db, newEvent("W1"))
	require.NoError(t, err)

	mr.Close()
	_, err = pub.Relay(ctx)
	assert.Error(t, err)

	unpublished, err := repo.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unpublished, 1)
}
