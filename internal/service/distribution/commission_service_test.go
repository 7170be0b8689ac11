package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
	"github.com/dumeirei/mall-ledger/internal/service/ledger"
	"github.com/dumeirei/mall-ledger/internal/service/refund"
	"github.com/dumeirei/mall-ledger/internal/testutil"
)

type commissionFixture struct {
	db      *gorm.DB
	ledger  *ledger.Service
	svc     *CommissionService
	returns *refund.ReturnService
}

func setupCommission(t *testing.T) *commissionFixture {
	db := testutil.NewDB(t)
	m := metrics.New("test", nil)
	auditSvc := audit.NewService(repository.NewAuditLogRepository(db), nil)
	distributorRepo := repository.NewDistributorRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	ledgerSvc := ledger.NewService(
		db,
		distributorRepo,
		repository.NewLedgerEntryRepository(db),
		repository.NewWithdrawalRepository(db),
		auditSvc,
		m,
		testutil.NewLogger(),
	)
	svc := NewCommissionService(db, repository.NewCommissionRepository(db), distributorRepo, orderRepo, ledgerSvc, auditSvc,
		&config.DistributionConfig{Level1Rate: 0.10, Level2Rate: 0.05, MaxLevel: 2, SettleDelayDays: 7},
		m, testutil.NewLogger())
	returns := refund.NewReturnService(db, orderRepo, repository.NewReturnRepository(db), svc, auditSvc,
		&config.RefundConfig{ReconcileRemainder: true}, m, testutil.NewLogger())
	return &commissionFixture{db: db, ledger: ledgerSvc, svc: svc, returns: returns}
}

// seed 上级 P、直推 C，以及一笔由 C 推广的已完成订单：100×1 + 50×2，优惠 20
func (f *commissionFixture) seed(t *testing.T) (parent, child *models.Distributor, order *models.Order) {
	parent = testutil.CreateDistributor(t, f.db, 1, nil, models.Balances{})
	child = testutil.CreateDistributor(t, f.db, 2, &parent.ID, models.Balances{})
	order = testutil.CreateOrder(t, f.db, "M1001", 100, &child.ID, "20", "0", 0,
		testutil.OrderLine{Price: "100", Quantity: 1},
		testutil.OrderLine{Price: "50", Quantity: 2},
	)
	return parent, child, order
}

func (f *commissionFixture) commission(t *testing.T, distributorID, itemID int64) *models.Commission {
	t.Helper()
	var c models.Commission
	require.NoError(t, f.db.Where("distributor_id = ? AND order_item_id = ?", distributorID, itemID).First(&c).Error)
	return &c
}

func TestCommissionService_Accrue(t *testing.T) {
	f := setupCommission(t)
	ctx := context.Background()
	parent, child, order := f.seed(t)

	created, err := f.svc.Accrue(ctx, order.OrderNo)
	require.NoError(t, err)
	require.Len(t, created, 4)

	for _, it := range order.Items {
		direct := f.commission(t, child.ID, it.ID)
		assert.Equal(t, models.CommissionLevelDirect, direct.Level)
		assertMoney(t, "90", direct.OrderAmount)
		assertMoney(t, "9", direct.Amount)
		assert.NotZero(t, direct.AccrueEntryID)

		indirect := f.commission(t, parent.ID, it.ID)
		assert.Equal(t, models.CommissionLevelSecond, indirect.Level)
		assertMoney(t, "4.5", indirect.Amount)
	}

	assertMoney(t, "18", testutil.ReloadDistributor(t, f.db, child.ID).Pending)
	assertMoney(t, "9", testutil.ReloadDistributor(t, f.db, parent.ID).Pending)

	_, err = f.svc.Accrue(ctx, order.OrderNo)
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)
	assertMoney(t, "18", testutil.ReloadDistributor(t, f.db, child.ID).Pending)
}

func TestCommissionService_AccrueGuards(t *testing.T) {
	f := setupCommission(t)
	ctx := context.Background()
	parent, child, _ := f.seed(t)

	_, err := f.svc.Accrue(ctx, "NOPE")
	assert.ErrorIs(t, err, errors.ErrOrderNotFound)

	paid := testutil.CreateOrder(t, f.db, "M1002", 100, &child.ID, "0", "0", 0, testutil.OrderLine{Price: "10", Quantity: 1})
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", paid.ID).Update("status", models.OrderStatusPaid).Error)
	_, err = f.svc.Accrue(ctx, paid.OrderNo)
	assert.ErrorIs(t, err, errors.ErrOrderStatusError)

	direct := testutil.CreateOrder(t, f.db, "M1003", 100, nil, "0", "0", 0, testutil.OrderLine{Price: "10", Quantity: 1})
	created, err := f.svc.Accrue(ctx, direct.OrderNo)
	require.NoError(t, err)
	assert.Empty(t, created)

	// 上级被禁用时只计直推
	require.NoError(t, f.db.Model(&models.Distributor{}).Where("id = ?", parent.ID).
		Update("status", models.DistributorStatusDisabled).Error)
	one := testutil.CreateOrder(t, f.db, "M1004", 100, &child.ID, "0", "0", 0, testutil.OrderLine{Price: "10", Quantity: 1})
	created, err = f.svc.Accrue(ctx, one.OrderNo)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, child.ID, created[0].DistributorID)
	assertMoney(t, "1", created[0].Amount)
}

func TestCommissionService_SettleAndSettleDue(t *testing.T) {
	f := setupCommission(t)
	ctx := context.Background()
	parent, child, order := f.seed(t)
	_, err := f.svc.Accrue(ctx, order.OrderNo)
	require.NoError(t, err)

	c := f.commission(t, child.ID, order.Items[0].ID)
	require.NoError(t, f.svc.Settle(ctx, c.ID))
	assert.ErrorIs(t, f.svc.Settle(ctx, c.ID), errors.ErrCommissionStatus)

	got := testutil.ReloadDistributor(t, f.db, child.ID)
	assertMoney(t, "9", got.Pending)
	assertMoney(t, "9", got.Available)

	settled, err := f.svc.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int8(models.CommissionStatusSettled), settled.Status)
	assert.NotNil(t, settled.SettleEntryID)
	assert.NotNil(t, settled.SettledAt)

	// 未到结算期
	n, err := f.svc.SettleDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.svc.SettleDue(ctx, time.Now().AddDate(0, 0, 8))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got = testutil.ReloadDistributor(t, f.db, child.ID)
	assert.True(t, got.Pending.IsZero())
	assertMoney(t, "18", got.Available)
	assertMoney(t, "9", testutil.ReloadDistributor(t, f.db, parent.ID).Available)

	status := int8(models.CommissionStatusSettled)
	list, total, err := f.svc.List(ctx, &repository.CommissionFilter{DistributorID: child.ID, Status: &status}, &utils.Pagination{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)

	for _, id := range []int64{child.ID, parent.ID} {
		res, err := f.ledger.Verify(ctx, id)
		require.NoError(t, err)
		assert.True(t, res.Balanced)
	}
}

func TestCommissionService_PartialReturnReversesPending(t *testing.T) {
	f := setupCommission(t)
	ctx := context.Background()
	parent, child, order := f.seed(t)
	_, err := f.svc.Accrue(ctx, order.OrderNo)
	require.NoError(t, err)
	item := order.Items[1]

	_, err = f.returns.Create(ctx, &refund.ReturnRequest{
		OrderNo: order.OrderNo,
		Items:   []refund.ReturnItem{{OrderItemID: item.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	direct := f.commission(t, child.ID, item.ID)
	assert.Equal(t, int8(models.CommissionStatusPending), direct.Status)
	assertMoney(t, "4.5", direct.ReversedAmount)
	indirect := f.commission(t, parent.ID, item.ID)
	assertMoney(t, "2.25", indirect.ReversedAmount)

	assertMoney(t, "13.5", testutil.ReloadDistributor(t, f.db, child.ID).Pending)
	assertMoney(t, "6.75", testutil.ReloadDistributor(t, f.db, parent.ID).Pending)

	// 结算只转入未冲回部分
	require.NoError(t, f.svc.Settle(ctx, direct.ID))
	got := testutil.ReloadDistributor(t, f.db, child.ID)
	assertMoney(t, "4.5", got.Available)
	assertMoney(t, "9", got.Pending)

	// 退完剩余数量，已结算佣金从可提现余额扣回
	_, err = f.returns.Create(ctx, &refund.ReturnRequest{
		OrderNo: order.OrderNo,
		Items:   []refund.ReturnItem{{OrderItemID: item.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	direct = f.commission(t, child.ID, item.ID)
	assert.Equal(t, int8(models.CommissionStatusReversed), direct.Status)
	assertMoney(t, "9", direct.ReversedAmount)
	assert.NotNil(t, direct.ReversedAt)
	indirect = f.commission(t, parent.ID, item.ID)
	assert.Equal(t, int8(models.CommissionStatusReversed), indirect.Status)

	got = testutil.ReloadDistributor(t, f.db, child.ID)
	assert.True(t, got.Available.IsZero())
	assertMoney(t, "9", got.Pending)
	assertMoney(t, "4.5", testutil.ReloadDistributor(t, f.db, parent.ID).Pending)

	for _, id := range []int64{child.ID, parent.ID} {
		res, err := f.ledger.Verify(ctx, id)
		require.NoError(t, err)
		assert.True(t, res.Balanced)
	}
}

func TestCommissionService_SettledShortfallFreezesThenRecovers(t *testing.T) {
	f := setupCommission(t)
	ctx := context.Background()
	_, child, order := f.seed(t)
	_, err := f.svc.Accrue(ctx, order.OrderNo)
	require.NoError(t, err)
	_, err = f.svc.SettleDue(ctx, time.Now().AddDate(0, 0, 8))
	require.NoError(t, err)

	// 可提现只剩 2 元
	_, err = f.ledger.Debit(ctx, &ledger.Mutation{DistributorID: child.ID, Amount: testutil.Money("16"), Reason: "人工扣减"})
	require.NoError(t, err)

	item := order.Items[0]
	_, err = f.returns.Create(ctx, &refund.ReturnRequest{
		OrderNo:    order.OrderNo,
		Items:      []refund.ReturnItem{{OrderItemID: item.ID, Quantity: 1}},
		OperatorID: 9,
	})
	require.NoError(t, err)

	c := f.commission(t, child.ID, item.ID)
	assert.Equal(t, int8(models.CommissionStatusFrozen), c.Status)
	assertMoney(t, "9", c.OwedAmount)
	assert.True(t, c.ReversedAmount.IsZero())
	assertMoney(t, "2", testutil.ReloadDistributor(t, f.db, child.ID).Available)

	var frozenLogs int64
	require.NoError(t, f.db.Model(&models.AuditLog{}).Where("event_type = ? AND target_id = ?", models.AuditCommissionFrozen, c.ID).Count(&frozenLogs).Error)
	assert.Equal(t, int64(1), frozenLogs)

	// 余额仍不足时保持挂账
	n, err := f.svc.RetryFrozen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.ledger.Credit(ctx, &ledger.Mutation{DistributorID: child.ID, Amount: testutil.Money("10"), Reason: "补入"})
	require.NoError(t, err)
	n, err = f.svc.RetryFrozen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c = f.commission(t, child.ID, item.ID)
	assert.Equal(t, int8(models.CommissionStatusReversed), c.Status)
	assertMoney(t, "9", c.ReversedAmount)
	assert.True(t, c.OwedAmount.IsZero())
	assertMoney(t, "3", testutil.ReloadDistributor(t, f.db, child.ID).Available)

	res, err := f.ledger.Verify(ctx, child.ID)
	require.NoError(t, err)
	assert.True(t, res.Balanced)
}

func TestReverseShare(t *testing.T) {
	c := &models.Commission{Amount: testutil.Money("10"), ReversedAmount: testutil.Money("3.33")}

	assertMoney(t, "3.33", reverseShare(c, refund.ReturnedItem{Quantity: 1, ItemQuantity: 3}))
	assertMoney(t, "6.67", reverseShare(c, refund.ReturnedItem{Quantity: 1, ItemQuantity: 3, Closing: true}))
	assertMoney(t, "6.67", reverseShare(c, refund.ReturnedItem{Quantity: 3, ItemQuantity: 3}))
}
