package domain

import (
	"context"
	"time"
)

// UserRepository manages user documents.
type UserRepository interface {
	Get(ctx context.Context, userID int64) (*User, error)
	Upsert(ctx context.Context, userID int64, fields map[string]interface{}) error
	// AddBalance atomically increments the balance and returns the new value.
	AddBalance(ctx context.Context, userID int64, amount float64) (float64, error)
	// IncrementSentAccounts bumps the successful verification counter.
	IncrementSentAccounts(ctx context.Context, userID int64) error
	Delete(ctx context.Context, userID int64) error
}

// PendingNumberRepository manages pending-number records.
type PendingNumberRepository interface {
	// Upsert creates or overwrites the record keyed by phone number and
	// returns its id.
	Upsert(ctx context.Context, p *PendingNumber) (string, error)
	UpdateStatus(ctx context.Context, id string, status PendingStatus) error
	MarkBackgroundStarted(ctx context.Context, phoneNumber string) error
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	// ListStaleBackground returns live records whose background
	// verification started longer ago than maxAge.
	ListStaleBackground(ctx context.Context, maxAge time.Duration) ([]PendingNumber, error)
	AutoCancel(ctx context.Context, id string, reason string) error
}

// UsedNumberRepository is the claimed-number hash set.
type UsedNumberRepository interface {
	// IsUsed reports whether the number was claimed. Lookup errors count
	// as used.
	IsUsed(ctx context.Context, phoneNumber string) bool
	Mark(ctx context.Context, phoneNumber string, userID int64) error
	Unmark(ctx context.Context, phoneNumber string) error
}

// CountryRepository manages country configurations.
type CountryRepository interface {
	GetByCode(ctx context.Context, countryCode string) (*Country, error)
	List(ctx context.Context) ([]Country, error)
	Upsert(ctx context.Context, c *Country) error
	Delete(ctx context.Context, countryCode string) error
}

// WithdrawalRepository manages the payout ledger.
type WithdrawalRepository interface {
	Create(ctx context.Context, w *Withdrawal) (string, error)
	GetPendingByUser(ctx context.Context, userID int64) (*Withdrawal, error)
	ListByUser(ctx context.Context, userID int64) ([]Withdrawal, error)
	ApproveByUser(ctx context.Context, userID int64) (int64, error)
	// RejectByUser marks pending withdrawals rejected and returns them.
	RejectByUser(ctx context.Context, userID int64, reason string) ([]Withdrawal, error)
	ListPendingByCard(ctx context.Context, cardName string) ([]Withdrawal, error)
	ApproveByCard(ctx context.Context, cardName string) (int64, error)
	StatsByCard(ctx context.Context, cardName string) (*WithdrawalStats, error)
}

// CardRepository manages approved leader cards.
type CardRepository interface {
	Add(ctx context.Context, cardName string) error
	Exists(ctx context.Context, cardName string) (bool, error)
	Delete(ctx context.Context, cardName string) error
	List(ctx context.Context) ([]LeaderCard, error)
}

// TransactionRepository records balance changes.
type TransactionRepository interface {
	Log(ctx context.Context, t *Transaction) (string, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]Transaction, error)
}

// SessionStore manages session credential files on disk.
type SessionStore interface {
	// TempPath creates the country directory and returns a fresh temp
	// session path inside it.
	TempPath(countryCode string) (string, error)
	// FinalPath returns the permanent path for a verified number.
	FinalPath(countryCode, phoneNumber string) string
	// Finalize renames a non-empty temp session into its permanent path.
	Finalize(tempPath, countryCode, phoneNumber string) (string, error)
	// DisposableCopy copies a session file to a throwaway path the caller
	// must remove.
	DisposableCopy(path string) (string, error)
	Remove(countryCode, phoneNumber string) error
	CountByCountry() (map[string]int, error)
	PurgeCountry(countryCode string) (int, error)
	// CleanupTemp removes temp session files older than maxAge and empty
	// country directories, returning the number of files removed.
	CleanupTemp(maxAge time.Duration) (int, error)
}

// LoginState is the explicit login flow state for a user.
type LoginState string

const (
	LoginStateAwaitingCode     LoginState = "awaiting_code"
	LoginStateAwaitingPassword LoginState = "awaiting_password"
)

// Verifier drives Telegram login flows and session validation.
type Verifier interface {
	RequestCode(ctx context.Context, userID int64, phoneNumber, sessionPath string) error
	SubmitCode(ctx context.Context, userID int64, code string) (CodeResult, error)
	SubmitPassword(ctx context.Context, userID int64, password string) (CodeResult, error)
	// Release disconnects the user's login client, keeping the session
	// file, and returns the phone number and temp session path.
	Release(ctx context.Context, userID int64) (string, string, error)
	// Abort disconnects and forgets the user's login flow. The temp
	// session path is returned so the caller can remove it.
	Abort(ctx context.Context, userID int64) (string, error)
	// ActiveState reports the login flow state for the user, if any.
	ActiveState(userID int64) (LoginState, bool)
	ActiveCount() int
	// CountAuthorizedDevices opens the session at path and counts all
	// authorized devices. Failures wrap ErrDeviceCountUnknown.
	CountAuthorizedDevices(ctx context.Context, path string) (int, error)
}

// AuditPublisher emits audit events for balance-affecting decisions.
type AuditPublisher interface {
	Publish(ctx context.Context, event AuditEvent) error
	IsHealthy() bool
}

// AuditEvent is a single audit record.
type AuditEvent struct {
	Kind        string    `json:"kind"`
	UserID      int64     `json:"user_id"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Amount      float64   `json:"amount,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier sends and edits user-facing bot messages.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

// VerificationUseCase drives the number submission pipeline. Handle
// methods return the reply text; an empty reply means the use case
// already messaged the user itself.
type VerificationUseCase interface {
	HandleStart(ctx context.Context, userID int64, username string) (string, error)
	HandlePhoneNumber(ctx context.Context, userID int64, phoneNumber string) (string, error)
	HandleCode(ctx context.Context, userID int64, code string) (string, error)
	HandlePassword(ctx context.Context, userID int64, password string) (string, error)
	HandleCancel(ctx context.Context, userID int64) (string, error)
	// LoginState reports which secret the user is expected to send next.
	LoginState(userID int64) (LoginState, bool)
	// AutoCancelStale cancels background verifications stuck for too long
	// and returns how many were cancelled.
	AutoCancelStale(ctx context.Context) (int, error)
	ActiveVerifications() int
	Shutdown(ctx context.Context)
}

// WithdrawalUseCase manages payout requests and their approval.
type WithdrawalUseCase interface {
	HandleWithdraw(ctx context.Context, userID int64, args string) (string, error)
	ApproveUser(ctx context.Context, userID int64) (string, error)
	RejectUser(ctx context.Context, userID int64, reason string) (string, error)
	ApproveCard(ctx context.Context, cardName string) (string, error)
}

// AdminUseCase covers country, card and session administration.
type AdminUseCase interface {
	AddCountry(ctx context.Context, args string) (string, error)
	ListCountries(ctx context.Context) (string, error)
	RemoveCountry(ctx context.Context, countryCode string) (string, error)
	AddCard(ctx context.Context, cardName string) (string, error)
	DeleteCard(ctx context.Context, cardName string) (string, error)
	SessionStats(ctx context.Context) (string, error)
	PurgeSessions(ctx context.Context, countryCode string) (string, error)
	ProxyStats(ctx context.Context) (string, error)
	SetCleanupEnabled(enabled bool) string
}
