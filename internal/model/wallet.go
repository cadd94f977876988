package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the single balance record of a tenant. Balance only moves through
// the conditioned updates in repo; Version is bumped on every balance write.
type Wallet struct {
	ID                  uint64           `gorm:"primaryKey;column:id" json:"id"`
	TenantID            string           `gorm:"size:64;not null;uniqueIndex" json:"tenant_id"`
	Balance             decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"balance"`
	Currency            string           `gorm:"size:3;not null" json:"currency"`
	IsFrozen            bool             `gorm:"not null;default:false" json:"is_frozen"`
	AutoRecharge        bool             `gorm:"not null;default:false" json:"auto_recharge"`
	AutoRechargeTrigger *decimal.Decimal `gorm:"type:numeric(20,4)" json:"auto_recharge_trigger,omitempty"`
	AutoRechargeAmount  *decimal.Decimal `gorm:"type:numeric(20,4)" json:"auto_recharge_amount,omitempty"`
	SavedPaymentToken   *string          `gorm:"size:255" json:"-"`
	Version             uint64           `gorm:"not null;default:0" json:"version"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallet" }

// HasSufficientFunds reports whether the balance covers amt.
func (w *Wallet) HasSufficientFunds(amt decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amt)
}

// RechargeDue reports whether auto-recharge is on and the balance fell below
// the configured trigger.
func (w *Wallet) RechargeDue() bool {
	if !w.AutoRecharge || w.AutoRechargeTrigger == nil {
		return false
	}
	return w.Balance.LessThan(*w.AutoRechargeTrigger)
}
