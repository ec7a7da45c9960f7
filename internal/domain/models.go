package domain

import "time"

// User represents a registered bot user.
type User struct {
	UserID       int64     `bson:"user_id"`
	Balance      float64   `bson:"balance"`
	SentAccounts int       `bson:"sent_accounts"`
	PendingPhone string    `bson:"pending_phone,omitempty"`
	OTPMsgID     int       `bson:"otp_msg_id,omitempty"`
	CountryCode  string    `bson:"country_code,omitempty"`
	RegisteredAt time.Time `bson:"registered_at"`
}

// PendingStatus is the lifecycle status of a submitted number.
type PendingStatus string

const (
	PendingStatusPending           PendingStatus = "pending"
	PendingStatusWaiting           PendingStatus = "waiting"
	PendingStatusSuccess           PendingStatus = "success"
	PendingStatusFailed            PendingStatus = "failed"
	PendingStatusError             PendingStatus = "error"
	PendingStatusCancelled         PendingStatus = "cancelled"
	PendingStatusAutoCancelled     PendingStatus = "auto_cancelled"
	PendingStatusDeviceCheckFailed PendingStatus = "device_check_failed"
)

// PendingNumber is a number that passed login and awaits the claim-time
// re-validation. One live record per phone number; a resubmission
// overwrites the stale record.
type PendingNumber struct {
	ID                       string        `bson:"-"`
	UserID                   int64         `bson:"user_id"`
	PhoneNumber              string        `bson:"phone_number"`
	Price                    float64       `bson:"price"`
	ClaimTime                int           `bson:"claim_time"`
	Status                   PendingStatus `bson:"status"`
	HasBackgroundVerify      bool          `bson:"has_background_verification"`
	BackgroundVerifyStarted  time.Time     `bson:"background_verification_started,omitempty"`
	AutoCancelReason         string        `bson:"auto_cancel_reason,omitempty"`
	CreatedAt                time.Time     `bson:"created_at"`
	LastUpdated              time.Time     `bson:"last_updated"`
}

// Country is an admin-configured dialing code with purchase terms.
type Country struct {
	CountryCode string  `bson:"country_code"`
	Capacity    int     `bson:"capacity"`
	Price       float64 `bson:"price"`
	ClaimTime   int     `bson:"claim_time"`
	Name        string  `bson:"name,omitempty"`
	Flag        string  `bson:"flag,omitempty"`
}

// WithdrawalType selects the payout destination kind.
type WithdrawalType string

const (
	WithdrawalTypeLeaderCard WithdrawalType = "leader_card"
	WithdrawalTypeBinance    WithdrawalType = "binance"
)

// WithdrawalStatus is the lifecycle status of a payout request.
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// Withdrawal is a single payout request in the ledger.
type Withdrawal struct {
	ID              string           `bson:"-"`
	UserID          int64            `bson:"user_id"`
	Amount          float64          `bson:"amount"`
	Destination     string           `bson:"destination"`
	CardName        string           `bson:"card_name,omitempty"`
	BinanceID       string           `bson:"binance_id,omitempty"`
	Type            WithdrawalType   `bson:"withdrawal_type"`
	Status          WithdrawalStatus `bson:"status"`
	RejectionReason string           `bson:"rejection_reason,omitempty"`
	Timestamp       time.Time        `bson:"timestamp"`
	RejectedAt      time.Time        `bson:"rejected_at,omitempty"`
}

// LeaderCard is an approved payout card name.
type LeaderCard struct {
	CardName string `bson:"card_name"`
}

// Transaction is an append-only balance change record.
type Transaction struct {
	ID          string    `bson:"-"`
	UserID      int64     `bson:"user_id"`
	Type        string    `bson:"transaction_type"`
	Amount      float64   `bson:"amount"`
	Description string    `bson:"description"`
	PhoneNumber string    `bson:"phone_number,omitempty"`
	Timestamp   time.Time `bson:"timestamp"`
	Status      string    `bson:"status"`
}

// CodeStatus is the tagged outcome of a login code or password submission.
type CodeStatus string

const (
	CodeStatusVerified         CodeStatus = "verified"
	CodeStatusPasswordRequired CodeStatus = "password_required"
	CodeStatusInvalidCode      CodeStatus = "invalid_code"
	CodeStatusExpiredCode      CodeStatus = "expired_code"
	CodeStatusRateLimited      CodeStatus = "rate_limited"
	CodeStatusTransportError   CodeStatus = "transport_error"
)

// CodeResult carries the outcome of a code/password submission.
// RetryAfter is set only for CodeStatusRateLimited.
type CodeResult struct {
	Status     CodeStatus
	RetryAfter time.Duration
	Message    string
}

// WithdrawalStats aggregates ledger totals for a leader card.
type WithdrawalStats struct {
	PendingCount    int
	ApprovedCount   int
	PendingBalance  float64
	ApprovedBalance float64
}
