package database

import (
	"testing"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type pageRow struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: newGormLogger(&config.DatabaseConfig{LogMode: false}, zap.NewNop()),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&pageRow{}))
	for i := 1; i <= 25; i++ {
		require.NoError(t, db.Create(&pageRow{ID: int64(i), Name: "row"}).Error)
	}
	return db
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, logLevel(true))
	assert.Equal(t, gormlogger.Warn, logLevel(false))
}

func TestPaginate(t *testing.T) {
	db := setupDB(t)

	tests := []struct {
		name     string
		page     int
		pageSize int
		wantLen  int
		firstID  int64
	}{
		{"first page", 1, 10, 10, 1},
		{"last partial page", 3, 10, 5, 21},
		{"invalid page defaults to 1", 0, 10, 10, 1},
		{"invalid size defaults to 10", 1, 0, 10, 1},
		{"size capped at 100", 1, 500, 25, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rows []pageRow
			require.NoError(t, db.Scopes(Paginate(tt.page, tt.pageSize)).Order("id ASC").Find(&rows).Error)
			assert.Len(t, rows, tt.wantLen)
			assert.Equal(t, tt.firstID, rows[0].ID)
		})
	}
}

func TestOrderByIDDesc(t *testing.T) {
	db := setupDB(t)
	var rows []pageRow
	require.NoError(t, db.Scopes(OrderByIDDesc).Limit(2).Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(25), rows[0].ID)
}

func TestForUpdate_SqliteIsNoop(t *testing.T) {
	db := setupDB(t)
	var row pageRow
	require.NoError(t, ForUpdate(db).First(&row, 3).Error)
	assert.Equal(t, int64(3), row.ID)
}

func TestClose(t *testing.T) {
	assert.NoError(t, Close(nil))
	db := setupDB(t)
	assert.NoError(t, Close(db))
}
