package models

import "time"

// Transaction tracks one payment for one booking. The fee split is fixed
// at creation: PlatformFee + HospitalShare == Amount.
type Transaction struct {
	ID               int64     `json:"id"`
	BookingID        int64     `json:"booking_id"`
	UserID           int64     `json:"user_id"`
	HospitalID       int64     `json:"hospital_id"`
	Amount           int64     `json:"amount"`
	PlatformFee      int64     `json:"platform_fee"`
	HospitalShare    int64     `json:"hospital_share"`
	Status           string    `json:"status"` // pending, processing, completed, failed, refunded
	GatewayReference string    `json:"gateway_reference,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"version"`
}

// SplitAmount computes the fee split for an amount at a platform percentage.
// The hospital share takes the rounding remainder so the parts always sum
// back to the amount.
func SplitAmount(amount int64, platformFeePercent int64) (platformFee, hospitalShare int64) {
	platformFee = amount * platformFeePercent / 100
	hospitalShare = amount - platformFee
	return platformFee, hospitalShare
}

// AccountBalance is one row per ledger account, created lazily. User,
// hospital and platform accounts all live here.
type AccountBalance struct {
	AccountID int64     `json:"account_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// BalanceTransaction is an append-only posting. Amount is signed; the sum
// over an account must equal the current AccountBalance.
type BalanceTransaction struct {
	ID                   int64     `json:"id"`
	AccountID            int64     `json:"account_id"`
	RelatedTransactionID int64     `json:"related_transaction_id,omitempty"`
	Type                 string    `json:"type"` // credit, debit, refund, fee
	Amount               int64     `json:"amount"`
	BalanceBefore        int64     `json:"balance_before"`
	BalanceAfter         int64     `json:"balance_after"`
	CreatedAt            time.Time `json:"created_at"`
}
