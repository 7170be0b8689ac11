//go:build integration

package ledger

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
	"github.com/dumeirei/mall-ledger/internal/testutil"
)

// 真实行锁下并发扣减不会透支，流水与余额保持一致
func TestIntegration_ConcurrentDebits(t *testing.T) {
	db := testutil.NewPostgres(t)
	svc := NewService(
		db,
		repository.NewDistributorRepository(db),
		repository.NewLedgerEntryRepository(db),
		repository.NewWithdrawalRepository(db),
		audit.NewService(repository.NewAuditLogRepository(db), nil),
		metrics.New("test", nil),
		testutil.NewLogger(),
	)
	ctx := context.Background()

	d := testutil.CreateDistributor(t, db, 1, nil, models.Balances{})
	_, err := svc.Credit(ctx, &Mutation{DistributorID: d.ID, Amount: testutil.Money("100"), Reason: "初始入账"})
	require.NoError(t, err)

	const workers = 20
	var (
		wg           sync.WaitGroup
		succeeded    int32
		insufficient int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, &Mutation{DistributorID: d.ID, Amount: testutil.Money("10"), Reason: "并发扣减"})
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case stderrors.Is(err, errors.ErrBalanceInsufficient):
				atomic.AddInt32(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded)
	assert.Equal(t, int32(10), insufficient)

	got := testutil.ReloadDistributor(t, db, d.ID)
	assert.True(t, got.Available.IsZero(), got.Available.String())

	result, err := svc.Verify(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, result.Balanced)

	unbalanced, err := svc.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, unbalanced)
}

// 并发划转与入账交错，各科目余额仍与流水一致
func TestIntegration_ConcurrentTransfers(t *testing.T) {
	db := testutil.NewPostgres(t)
	svc := NewService(
		db,
		repository.NewDistributorRepository(db),
		repository.NewLedgerEntryRepository(db),
		repository.NewWithdrawalRepository(db),
		audit.NewService(repository.NewAuditLogRepository(db), nil),
		nil,
		testutil.NewLogger(),
	)
	ctx := context.Background()
	d := testutil.CreateDistributor(t, db, 2, nil, models.Balances{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, &Mutation{DistributorID: d.ID, Bucket: models.BucketPending, Amount: testutil.Money("5.5"), Reason: "待结算"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, &Mutation{DistributorID: d.ID, Amount: testutil.Money("3.25"), Reason: "入账"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := svc.Transfer(ctx, &TransferRequest{
		DistributorID: d.ID,
		From:          models.BucketPending,
		To:            models.BucketAvailable,
		Amount:        testutil.Money("55"),
		Type:          models.EntryTypeCommissionSettle,
		Reason:        "结算",
	})
	require.NoError(t, err)

	got := testutil.ReloadDistributor(t, db, d.ID)
	assert.True(t, got.Pending.IsZero())
	assert.True(t, got.Available.Equal(testutil.Money("87.5")), got.Available.String())

	result, err := svc.Verify(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, result.Balanced)
}
