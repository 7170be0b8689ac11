package distribution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
	"github.com/dumeirei/mall-ledger/internal/testutil"
)

func setupDistributor(t *testing.T) (*DistributorService, *gorm.DB) {
	db := testutil.NewDB(t)
	svc := NewDistributorService(db,
		repository.NewDistributorRepository(db),
		repository.NewWithdrawalRepository(db),
		audit.NewService(repository.NewAuditLogRepository(db), nil),
		testutil.NewLogger(),
	)
	return svc, db
}

func TestDistributorService_RegisterAndApprove(t *testing.T) {
	svc, db := setupDistributor(t)
	ctx := context.Background()
	parent := testutil.CreateDistributor(t, db, 1, nil, models.Balances{})

	d, err := svc.Register(ctx, &RegisterRequest{UserID: 2, InviteCode: parent.InviteCode})
	require.NoError(t, err)
	assert.Equal(t, int8(models.DistributorStatusPending), d.Status)
	require.NotNil(t, d.ParentID)
	assert.Equal(t, parent.ID, *d.ParentID)
	assert.Len(t, d.InviteCode, 8)

	_, err = svc.Register(ctx, &RegisterRequest{UserID: 2})
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)

	// 待审核的分销商的邀请码不可用
	_, err = svc.Register(ctx, &RegisterRequest{UserID: 3, InviteCode: d.InviteCode})
	assert.ErrorIs(t, err, errors.ErrInviteCodeInvalid)
	_, err = svc.Register(ctx, &RegisterRequest{UserID: 3, InviteCode: "NOPE1234"})
	assert.ErrorIs(t, err, errors.ErrInviteCodeInvalid)

	approved, err := svc.Approve(ctx, d.ID, 9, true)
	require.NoError(t, err)
	assert.Equal(t, int8(models.DistributorStatusActive), approved.Status)
	assert.NotNil(t, approved.ApprovedAt)

	_, err = svc.Approve(ctx, d.ID, 9, true)
	assert.ErrorIs(t, err, errors.ErrDistributorStatus)

	var logs int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("target_type = ? AND target_id = ?", models.AuditTargetDistributor, d.ID).Count(&logs).Error)
	assert.Equal(t, int64(2), logs)
}

func TestDistributorService_DisableEnable(t *testing.T) {
	svc, db := setupDistributor(t)
	ctx := context.Background()
	d := testutil.CreateDistributor(t, db, 1, nil, models.Balances{Available: testutil.Money("12.5")})

	disabled, err := svc.Disable(ctx, d.ID, 9)
	require.NoError(t, err)
	assert.False(t, disabled.IsActive())

	_, err = svc.Disable(ctx, d.ID, 9)
	assert.ErrorIs(t, err, errors.ErrDistributorStatus)

	enabled, err := svc.Enable(ctx, d.ID, 9)
	require.NoError(t, err)
	assert.True(t, enabled.IsActive())

	// 状态变更不动余额
	assertMoney(t, "12.5", testutil.ReloadDistributor(t, db, d.ID).Available)

	_, err = svc.Disable(ctx, 999, 9)
	assert.ErrorIs(t, err, errors.ErrDistributorNotFound)
}

func TestDistributorService_ReadsAndOverview(t *testing.T) {
	svc, db := setupDistributor(t)
	ctx := context.Background()
	parent := testutil.CreateDistributor(t, db, 1, nil, models.Balances{
		Available: testutil.Money("50"),
		Withdrawn: testutil.Money("148"),
		Fee:       testutil.Money("2"),
	})
	testutil.CreateDistributor(t, db, 2, &parent.ID, models.Balances{})
	testutil.CreateDistributor(t, db, 3, &parent.ID, models.Balances{})

	got, err := svc.GetByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, got.ID)
	_, err = svc.GetByUserID(ctx, 42)
	assert.ErrorIs(t, err, errors.ErrDistributorNotFound)

	team, total, err := svc.List(ctx, &repository.DistributorFilter{ParentID: parent.ID}, &utils.Pagination{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, team, 2)

	ov, err := svc.GetOverview(ctx, parent.ID)
	require.NoError(t, err)
	assertMoney(t, "200", ov.Settled)
	assert.Equal(t, int64(0), ov.Withdrawals.PendingCount)
}
