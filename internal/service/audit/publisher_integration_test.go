//go:build integration

package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/testutil"
)

func TestIntegration_PublisherRelay(t *testing.T) {
	db := testutil.NewPostgres(t)
	rdb := testutil.NewRedisContainer(t)
	repo := repository.NewAuditLogRepository(db)
	svc := NewService(repo, nil)
	pub := NewPublisher(repo, rdb, &config.AuditConfig{Stream: "it:audit", BatchSize: 2}, nil, nil)
	ctx := context.Background()

	for _, no := range []string{"W1", "W2", "W3", "W4", "W5"} {
		_, err := svc.RecordTx(ctx, db, newEvent(no))
		require.NoError(t, err)
	}

	n, err := pub.RelayAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	msgs, err := rdb.XRange(ctx, "it:audit", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "W1", msgs[0].Values["target_no"])
	assert.Equal(t, "W5", msgs[4].Values["target_no"])
	assert.Equal(t, "150.00", msgs[0].Values["amount"])
	assert.NotEmpty(t, msgs[0].Values["event_id"])

	unpublished, err := repo.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unpublished)

	n, err = pub.RelayAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
