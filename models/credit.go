package models

import (
	"errors"
	"fmt"
	"time"
)

// CreditType is the closed set of consumable entitlements.
type CreditType string

const (
	CreditAnonymous  CreditType = "anonymous"
	CreditLateSubmit CreditType = "lateSubmit"
	CreditSneakPeek  CreditType = "sneakPeek"
	CreditBoost      CreditType = "boost"
	CreditExtraTakes CreditType = "extraTakes"
	CreditDelete     CreditType = "delete"
)

// CreditTypes lists every credit type in display order.
var CreditTypes = []CreditType{
	CreditAnonymous,
	CreditLateSubmit,
	CreditSneakPeek,
	CreditBoost,
	CreditExtraTakes,
	CreditDelete,
}

// ErrUnknownCreditType is returned for values outside the enumeration.
var ErrUnknownCreditType = errors.New("unknown credit type")

// ParseCreditType validates a raw credit type coming from a request.
func ParseCreditType(raw string) (CreditType, error) {
	for _, t := range CreditTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCreditType, raw)
}

// CreditReason explains a history entry.
type CreditReason string

const (
	ReasonPurchase    CreditReason = "purchase"
	ReasonGrant       CreditReason = "grant"
	ReasonSpend       CreditReason = "spend"
	ReasonRefund      CreditReason = "refund"
	ReasonAdminAdjust CreditReason = "admin_adjust"
)

// CreditBalance holds the current balance for one (user, type). Never negative.
type CreditBalance struct {
	UserID     uint       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CreditType CreditType `gorm:"primaryKey;size:32" json:"credit_type"`
	Balance    int64      `gorm:"not null;default:0" json:"balance"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CreditHistory is an append-only audit row. The deltas of a (user, type)
// always sum to its CreditBalance.
type CreditHistory struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	UserID            uint         `gorm:"not null;index:idx_credit_history_user_type,priority:1;uniqueIndex:idx_credit_history_idem,priority:1" json:"user_id"`
	CreditType        CreditType   `gorm:"size:32;not null;index:idx_credit_history_user_type,priority:2" json:"credit_type"`
	Delta             int64        `gorm:"not null" json:"delta"`
	BalanceAfter      int64        `gorm:"not null" json:"balance_after"`
	Reason            CreditReason `gorm:"size:32;not null" json:"reason"`
	Reference         string       `gorm:"size:128" json:"reference,omitempty"`
	ExternalReceiptID *string      `gorm:"size:128;uniqueIndex" json:"external_receipt_id,omitempty"`
	IdempotencyKey    *string      `gorm:"size:128;uniqueIndex:idx_credit_history_idem,priority:2" json:"-"`
	RefundOf          *uint        `gorm:"uniqueIndex" json:"refund_of,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// TableName keeps the history table name singular like the ledger it mirrors.
func (CreditHistory) TableName() string { return "credit_history" }
