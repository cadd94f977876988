package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServicePrice is a price catalog entry. A missing or inactive entry means the
// service is not charged.
type ServicePrice struct {
	ServiceCode string          `gorm:"primaryKey;size:64" json:"service_code"`
	ServiceName string          `gorm:"size:128;not null" json:"service_name"`
	Price       decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"price"`
	CostPrice   decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"cost_price"`
	IsActive    bool            `gorm:"not null" json:"is_active"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ServicePrice) TableName() string { return "service_price" }
