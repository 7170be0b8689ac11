package repository

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/mall-ledger/internal/models"
)

func newEntry(distributorID int64, txnNo string, bucket models.Bucket, amount string) *models.LedgerEntry {
	return &models.LedgerEntry{
		TxnNo:         txnNo,
		DistributorID: distributorID,
		Bucket:        bucket,
		Type:          models.EntryTypeManualAdjust,
		Amount:        decimal.RequireFromString(amount),
		RefType:       models.RefTypeManual,
		RefNo:         txnNo,
	}
}

func TestLedgerEntryRepository_CreateAndGroup(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	a := newEntry(1, "txn-1", models.BucketAvailable, "-30")
	b := newEntry(1, "txn-1", models.BucketFrozen, "30")
	require.NoError(t, repo.Create(ctx, db, a, b))
	require.NoError(t, repo.Create(ctx, db, newEntry(1, "txn-2", models.BucketAvailable, "5")))
	require.NoError(t, repo.Create(ctx, db))

	group, err := repo.ListByTxnNo(ctx, nil, "txn-1")
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.Equal(t, a.ID, group[0].ID)
	assert.Equal(t, models.BucketFrozen, group[1].Bucket)

	found, err := repo.GetByID(ctx, nil, b.ID)
	require.NoError(t, err)
	assert.True(t, found.Amount.Equal(decimal.NewFromInt(30)))
	assert.False(t, found.IsReversal())
}

func TestLedgerEntryRepository_ReversalOfUnique(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	orig := newEntry(1, "txn-1", models.BucketAvailable, "10")
	require.NoError(t, repo.Create(ctx, db, orig))

	exists, err := repo.ExistsReversalOf(ctx, nil, orig.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	rev := newEntry(1, "txn-2", models.BucketAvailable, "-10")
	rev.ReversalOf = &orig.ID
	require.NoError(t, repo.Create(ctx, db, rev))

	exists, err = repo.ExistsReversalOf(ctx, nil, orig.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	dup := newEntry(1, "txn-3", models.BucketAvailable, "-10")
	dup.ReversalOf = &orig.ID
	assert.Error(t, repo.Create(ctx, db, dup))
}

func TestLedgerEntryRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, db,
		newEntry(1, "t1", models.BucketPending, "10"),
		newEntry(1, "t2", models.BucketAvailable, "20"),
		newEntry(2, "t3", models.BucketAvailable, "30"),
	))

	entries, total, err := repo.List(ctx, &LedgerEntryFilter{DistributorID: 1}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "t2", entries[0].TxnNo)

	entries, total, err = repo.List(ctx, &LedgerEntryFilter{Bucket: models.BucketAvailable}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 1)
}

func TestLedgerEntryRepository_SumByBucket(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, db,
		newEntry(1, "t1", models.BucketAvailable, "200"),
		newEntry(1, "t2", models.BucketAvailable, "-150"),
		newEntry(1, "t2", models.BucketFrozen, "150"),
		newEntry(2, "t3", models.BucketAvailable, "99"),
	))

	sums, err := repo.SumByBucket(ctx, 1)
	require.NoError(t, err)
	assert.True(t, sums[models.BucketAvailable].Equal(decimal.NewFromInt(50)))
	assert.True(t, sums[models.BucketFrozen].Equal(decimal.NewFromInt(150)))
	assert.True(t, sums[models.BucketWithdrawn].IsZero())
	assert.Len(t, sums, len(models.AllBuckets))
}
