package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxCredit = "CREDIT"
	TxDebit  = "DEBIT"
	TxRefund = "REFUND"

	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
)

// Transaction is an immutable ledger row. The unique index over
// (type, reference_type, reference_id) makes a referenced operation land at
// most once; rows without a reference are not constrained.
type Transaction struct {
	ID            uint64          `gorm:"primaryKey" json:"id"`
	WalletID      uint64          `gorm:"not null;index" json:"wallet_id"`
	Type          string          `gorm:"size:16;not null;uniqueIndex:ux_transaction_reference,priority:1" json:"type"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"balance_after"`
	Description   string          `gorm:"size:255;not null;default:''" json:"description"`
	ReferenceType string          `gorm:"size:64;not null;default:'';uniqueIndex:ux_transaction_reference,priority:2" json:"reference_type,omitempty"`
	ReferenceID   *string         `gorm:"size:128;uniqueIndex:ux_transaction_reference,priority:3" json:"reference_id,omitempty"`
	Status        string          `gorm:"size:16;not null" json:"status"`
	Metadata      Metadata        `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string { return "transaction" }

// Signed returns the amount with the sign it applies to the balance.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == TxDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Metadata is an opaque string bag stored as JSON text.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		out = nil
	}
	*m = out
	return nil
}
