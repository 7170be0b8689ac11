// Package models 定义账本相关的持久化模型
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// JSON 通用 JSON 字段
type JSON map[string]interface{}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON source type %T", value)
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(raw, j)
}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&Distributor{},
		&Commission{},
		&Withdrawal{},
		&LedgerEntry{},
		&AuditLog{},
		&Order{},
		&OrderItem{},
		&OrderReturn{},
		&ReturnAllocation{},
	}
}

// AutoMigrate 迁移表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
