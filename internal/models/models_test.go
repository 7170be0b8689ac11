package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []int8{
		WithdrawalStatusPending,
		WithdrawalStatusApproved,
		WithdrawalStatusRejected,
		WithdrawalStatusProcessing,
		WithdrawalStatusCompleted,
		WithdrawalStatusFailed,
	}
	allowed := map[[2]int8]bool{
		{WithdrawalStatusPending, WithdrawalStatusApproved}:     true,
		{WithdrawalStatusPending, WithdrawalStatusRejected}:     true,
		{WithdrawalStatusApproved, WithdrawalStatusProcessing}:  true,
		{WithdrawalStatusProcessing, WithdrawalStatusCompleted}: true,
		{WithdrawalStatusProcessing, WithdrawalStatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]int8{from, to}], CanTransition(from, to),
				"%s -> %s", WithdrawalStatusName(from), WithdrawalStatusName(to))
		}
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	for _, s := range []int8{WithdrawalStatusRejected, WithdrawalStatusCompleted, WithdrawalStatusFailed} {
		assert.True(t, IsWithdrawalTerminal(s))
		assert.Empty(t, WithdrawalTransitions[s])
	}
	for _, s := range OutstandingWithdrawalStatuses {
		assert.False(t, IsWithdrawalTerminal(s))
	}
}

func TestBalances(t *testing.T) {
	var b Balances
	for i, bucket := range AllBuckets {
		b.Set(bucket, decimal.NewFromInt(int64(i+1)))
	}
	assert.True(t, b.Get(BucketPending).Equal(decimal.NewFromInt(1)))
	assert.True(t, b.Get(BucketFee).Equal(decimal.NewFromInt(5)))
	// 2 + 3 + 4 + 5
	assert.True(t, b.Settled().Equal(decimal.NewFromInt(14)))

	assert.Equal(t, []string{
		"pending_commission",
		"available_commission",
		"frozen_commission",
		"withdrawn_commission",
		"fee_commission",
	}, BalanceColumns())

	assert.True(t, BucketFrozen.Valid())
	assert.False(t, Bucket("total").Valid())
	assert.True(t, b.Get(Bucket("total")).IsZero())
}

func TestJSONScan(t *testing.T) {
	var j JSON
	require.NoError(t, j.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, float64(1), j["a"])

	require.NoError(t, j.Scan(`{"b":"x"}`))
	assert.Equal(t, "x", j["b"])

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)

	assert.Error(t, j.Scan(42))

	v, err := JSON{"k": "v"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, v)
}

func TestValidWithdrawMethod(t *testing.T) {
	assert.True(t, ValidWithdrawMethod(WithdrawMethodBank))
	assert.False(t, ValidWithdrawMethod("cash"))
}
