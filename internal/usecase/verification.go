package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/ttacon/libphonenumber"

	"github.com/HyperCyx/otpbot/internal/domain"
)

var phonePattern = regexp.MustCompile(`^\+\d{6,18}$`)

// deviceCheckTimeout bounds the claim-time session re-validation.
const deviceCheckTimeout = 45 * time.Second

// VerificationConfig holds pipeline settings.
type VerificationConfig struct {
	AdminIDs      []int64
	AutoCancelAge time.Duration
}

// verificationUseCase implements domain.VerificationUseCase
type verificationUseCase struct {
	users        domain.UserRepository
	pending      domain.PendingNumberRepository
	used         domain.UsedNumberRepository
	countries    domain.CountryRepository
	transactions domain.TransactionRepository
	sessions     domain.SessionStore
	verifier     domain.Verifier
	audit        domain.AuditPublisher
	notifier     domain.Notifier
	registry     *Registry
	cfg          VerificationConfig
	logger       zerolog.Logger
}

// NewVerificationUseCase creates the number verification pipeline
func NewVerificationUseCase(
	users domain.UserRepository,
	pending domain.PendingNumberRepository,
	used domain.UsedNumberRepository,
	countries domain.CountryRepository,
	transactions domain.TransactionRepository,
	sessions domain.SessionStore,
	verifier domain.Verifier,
	audit domain.AuditPublisher,
	notifier domain.Notifier,
	registry *Registry,
	cfg VerificationConfig,
	logger zerolog.Logger,
) domain.VerificationUseCase {
	if cfg.AutoCancelAge <= 0 {
		cfg.AutoCancelAge = 30 * time.Minute
	}
	return &verificationUseCase{
		users:        users,
		pending:      pending,
		used:         used,
		countries:    countries,
		transactions: transactions,
		sessions:     sessions,
		verifier:     verifier,
		audit:        audit,
		notifier:     notifier,
		registry:     registry,
		cfg:          cfg,
		logger:       logger.With().Str("component", "verification").Logger(),
	}
}

// HandleStart registers the user and returns the account summary.
func (u *verificationUseCase) HandleStart(ctx context.Context, userID int64, username string) (string, error) {
	if err := u.users.Upsert(ctx, userID, map[string]interface{}{}); err != nil {
		return "", fmt.Errorf("register user: %w", err)
	}

	user, err := u.users.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}

	u.logger.Info().Int64("user_id", userID).Str("username", username).Msg("User started bot")

	return fmt.Sprintf(
		"👋 Welcome!\n\n"+
			"Send a phone number in international format (for example +9989xxxxxxx) to begin.\n\n"+
			"💰 Balance: $%.2f\n"+
			"📱 Accounts sold: %d\n\n"+
			"Commands:\n"+
			"/cancel - cancel the current number\n"+
			"/withdraw - request a payout",
		user.Balance, user.SentAccounts,
	), nil
}

// HandlePhoneNumber validates a submitted number and requests a login
// code for it. A previous in-flight submission by the same user is
// cancelled first.
func (u *verificationUseCase) HandlePhoneNumber(ctx context.Context, userID int64, phoneNumber string) (string, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if !phonePattern.MatchString(phoneNumber) {
		return "", domain.ErrInvalidPhoneNumber
	}
	parsed, err := libphonenumber.Parse(phoneNumber, "")
	if err != nil || !libphonenumber.IsValidNumber(parsed) {
		return "", domain.ErrInvalidPhoneNumber
	}

	if u.used.IsUsed(ctx, phoneNumber) {
		return "", domain.ErrNumberUsed
	}

	country, err := u.resolveCountry(ctx, phoneNumber)
	if err != nil {
		return "", err
	}
	if country.Capacity <= 0 {
		return "", domain.ErrNoCapacity
	}

	// One live submission per user.
	u.dropActive(ctx, userID)

	tempPath, err := u.sessions.TempPath(country.CountryCode)
	if err != nil {
		return "", fmt.Errorf("create temp session: %w", err)
	}

	if err := u.verifier.RequestCode(ctx, userID, phoneNumber, tempPath); err != nil {
		os.Remove(tempPath)
		if errors.Is(err, domain.ErrTooManyStates) {
			return "⏳ The server is busy right now, please try again in a few minutes.", nil
		}
		u.logger.Warn().Err(err).Int64("user_id", userID).Msg("Code request failed")
		return "❌ Could not send a login code to this number. Please try again later.", nil
	}

	err = u.users.Upsert(ctx, userID, map[string]interface{}{
		"pending_phone": phoneNumber,
		"country_code":  country.CountryCode,
		"otp_msg_id":    0,
	})
	if err != nil {
		u.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to save pending phone")
	}

	return fmt.Sprintf(
		"%s %s\n💵 Price: $%.2f\n⏱ Claim time: %ds\n\n"+
			"📩 A login code was sent to the number. Reply with the code.",
		country.Flag, country.CountryCode, country.Price, country.ClaimTime,
	), nil
}

// HandleCode submits the login code for the user's active flow.
func (u *verificationUseCase) HandleCode(ctx context.Context, userID int64, code string) (string, error) {
	result, err := u.verifier.SubmitCode(ctx, userID, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveLogin) {
			return "", domain.ErrNoActiveLogin
		}
		return "", fmt.Errorf("submit code: %w", err)
	}

	switch result.Status {
	case domain.CodeStatusVerified:
		return u.finalize(ctx, userID)

	case domain.CodeStatusPasswordRequired:
		return "🔐 This account has a two-step password. Reply with the password.", nil

	case domain.CodeStatusInvalidCode:
		return "❌ Invalid code. Check it and send again.", nil

	case domain.CodeStatusExpiredCode:
		u.abortFlow(ctx, userID)
		u.clearPendingFields(ctx, userID)
		return "⌛ The code expired. Send the phone number again to restart.", nil

	case domain.CodeStatusRateLimited:
		return fmt.Sprintf("⏳ Too many attempts. Try again in %s.", result.RetryAfter.Round(time.Second)), nil
	}

	u.abortFlow(ctx, userID)
	return "❌ Verification failed. Send the phone number again to restart.", nil
}

// HandlePassword submits the two-step password for the user's active flow.
func (u *verificationUseCase) HandlePassword(ctx context.Context, userID int64, password string) (string, error) {
	result, err := u.verifier.SubmitPassword(ctx, userID, strings.TrimSpace(password))
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveLogin) {
			return "", domain.ErrNoActiveLogin
		}
		return "", fmt.Errorf("submit password: %w", err)
	}

	switch result.Status {
	case domain.CodeStatusVerified:
		return u.finalize(ctx, userID)

	case domain.CodeStatusInvalidCode:
		return "❌ Wrong password. Try again.", nil

	case domain.CodeStatusRateLimited:
		return fmt.Sprintf("⏳ Too many attempts. Try again in %s.", result.RetryAfter.Round(time.Second)), nil
	}

	u.abortFlow(ctx, userID)
	return "❌ Verification failed. Send the phone number again to restart.", nil
}

// finalize persists the fresh session, records the pending number and
// starts the claim-time background verification. The number is not
// marked used until the device check passes.
func (u *verificationUseCase) finalize(ctx context.Context, userID int64) (string, error) {
	phoneNumber, tempPath, err := u.verifier.Release(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("release login flow: %w", err)
	}

	country, err := u.resolveCountry(ctx, phoneNumber)
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("resolve country: %w", err)
	}

	sessionPath, err := u.sessions.Finalize(tempPath, country.CountryCode, phoneNumber)
	if err != nil {
		os.Remove(tempPath)
		if errors.Is(err, domain.ErrEmptySession) {
			return "❌ Login produced no usable session. Send the number again.", nil
		}
		return "", fmt.Errorf("finalize session: %w", err)
	}

	pendingID, err := u.pending.Upsert(ctx, &domain.PendingNumber{
		UserID:              userID,
		PhoneNumber:         phoneNumber,
		Price:               country.Price,
		ClaimTime:           country.ClaimTime,
		Status:              domain.PendingStatusWaiting,
		HasBackgroundVerify: true,
	})
	if err != nil {
		return "", fmt.Errorf("record pending number: %w", err)
	}

	msgID, err := u.notifier.Send(ctx, userID, fmt.Sprintf(
		"✅ Account received.\n\n⏱ The number will be checked in %d seconds. "+
			"Keep the account signed in on this device only.", country.ClaimTime))
	if err != nil {
		u.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to send waiting message")
	}

	err = u.users.Upsert(ctx, userID, map[string]interface{}{
		"pending_phone": phoneNumber,
		"country_code":  country.CountryCode,
		"otp_msg_id":    msgID,
	})
	if err != nil {
		u.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to save waiting state")
	}

	taskCtx, finish, err := u.registry.Start(userID, phoneNumber)
	if err != nil {
		u.pending.UpdateStatus(ctx, pendingID, domain.PendingStatusError)
		u.removeSession(country.CountryCode, phoneNumber)
		return "⏳ The server is busy right now, please try again in a few minutes.", nil
	}

	go u.runVerification(taskCtx, finish, verificationJob{
		userID:      userID,
		phoneNumber: phoneNumber,
		pendingID:   pendingID,
		country:     *country,
		sessionPath: sessionPath,
		messageID:   msgID,
	})

	return "", nil
}

type verificationJob struct {
	userID      int64
	phoneNumber string
	pendingID   string
	country     domain.Country
	sessionPath string
	messageID   int
}

// runVerification waits out the claim time, re-opens the session and
// writes the reward decision.
func (u *verificationUseCase) runVerification(ctx context.Context, finish func(), job verificationJob) {
	defer finish()

	log := u.logger.With().Int64("user_id", job.userID).Str("pending_id", job.pendingID).Logger()

	if err := u.pending.MarkBackgroundStarted(ctx, job.phoneNumber); err != nil {
		log.Warn().Err(err).Msg("Failed to mark background verification started")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Background verification cancelled during wait")
		return
	case <-time.After(claimWait(job.country.ClaimTime)):
	}

	checkCtx, cancelCheck := context.WithTimeout(ctx, deviceCheckTimeout)
	count, err := u.countDevices(checkCtx, job.sessionPath)
	cancelCheck()

	if ctx.Err() != nil {
		log.Info().Msg("Background verification cancelled during device check")
		return
	}

	// The task context may be cancelled from here on; the decision must
	// still be written out completely.
	opCtx, cancelOp := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelOp()

	u.decideReward(opCtx, job, count, err)
}

// decideReward applies the device policy to a completed check: exactly
// one authorized device earns the reward, anything else blocks it.
func (u *verificationUseCase) decideReward(ctx context.Context, job verificationJob, count int, err error) {
	log := u.logger.With().Int64("user_id", job.userID).Str("pending_id", job.pendingID).Logger()

	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Device count indeterminate, blocking reward")
		u.block(ctx, job, domain.PendingStatusDeviceCheckFailed, "device check failed",
			"❌ Verification failed: the session could not be checked. The number is released, you may submit it again.")

	case count == 1:
		u.credit(ctx, job)

	default:
		log.Info().Int("devices", count).Msg("Device count rejected, blocking reward")
		u.block(ctx, job, domain.PendingStatusFailed, fmt.Sprintf("%d authorized devices", count),
			fmt.Sprintf("❌ Verification failed: %d devices are signed in to the account. The number is released, you may submit it again.", count))
	}
}

// countDevices checks the session through a disposable copy so the
// stored file is never touched by the probe client.
func (u *verificationUseCase) countDevices(ctx context.Context, sessionPath string) (int, error) {
	copyPath, err := u.sessions.DisposableCopy(sessionPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrDeviceCountUnknown, err)
	}
	defer os.Remove(copyPath)

	return u.verifier.CountAuthorizedDevices(ctx, copyPath)
}

// credit pays out a verified number.
func (u *verificationUseCase) credit(ctx context.Context, job verificationJob) {
	log := u.logger.With().Int64("user_id", job.userID).Str("pending_id", job.pendingID).Logger()

	// Claim the number first; an unclaimed credit must never happen.
	if err := u.used.Mark(ctx, job.phoneNumber, job.userID); err != nil {
		log.Error().Err(err).Msg("Failed to mark number used, blocking reward")
		u.block(ctx, job, domain.PendingStatusError, "used-number write failed",
			"❌ Verification failed due to a server error. The number is released, you may submit it again.")
		return
	}

	if err := u.pending.UpdateStatus(ctx, job.pendingID, domain.PendingStatusSuccess); err != nil {
		log.Error().Err(err).Msg("Failed to update pending status")
	}

	balance, err := u.users.AddBalance(ctx, job.userID, job.country.Price)
	if err != nil {
		log.Error().Err(err).Msg("Failed to credit balance")
		u.notifyResult(ctx, job, "⚠️ The account was verified but crediting failed. Contact support.")
		return
	}

	if _, err := u.transactions.Log(ctx, &domain.Transaction{
		UserID:      job.userID,
		Type:        "account_sale",
		Amount:      job.country.Price,
		Description: fmt.Sprintf("Reward for verified account %s", job.country.CountryCode),
		PhoneNumber: job.phoneNumber,
		Status:      "completed",
	}); err != nil {
		log.Error().Err(err).Msg("Failed to log transaction")
	}

	if err := u.users.IncrementSentAccounts(ctx, job.userID); err != nil {
		log.Error().Err(err).Msg("Failed to update sent accounts")
	}

	u.clearPendingFields(ctx, job.userID)

	if err := u.audit.Publish(ctx, domain.AuditEvent{
		Kind:        "reward_credited",
		UserID:      job.userID,
		PhoneNumber: job.phoneNumber,
		Amount:      job.country.Price,
		Timestamp:   time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish audit event")
	}

	u.notifyResult(ctx, job, fmt.Sprintf(
		"🎉 Account verified!\n\n💵 +$%.2f\n💰 Balance: $%.2f", job.country.Price, balance))

	log.Info().Float64("amount", job.country.Price).Msg("Reward credited")
}

// block marks a failed verification and leaves the number available
// for another attempt. The stored session is kept so the account owner
// can sign out the bot's login elsewhere and retry; a later retry
// overwrites the file on finalization.
func (u *verificationUseCase) block(ctx context.Context, job verificationJob, status domain.PendingStatus, reason, message string) {
	log := u.logger.With().Int64("user_id", job.userID).Str("pending_id", job.pendingID).Logger()

	if err := u.pending.UpdateStatus(ctx, job.pendingID, status); err != nil {
		log.Error().Err(err).Msg("Failed to update pending status")
	}

	u.clearPendingFields(ctx, job.userID)

	if err := u.audit.Publish(ctx, domain.AuditEvent{
		Kind:        "reward_blocked",
		UserID:      job.userID,
		PhoneNumber: job.phoneNumber,
		Reason:      reason,
		Timestamp:   time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish audit event")
	}

	u.notifyResult(ctx, job, message)
}

func (u *verificationUseCase) notifyResult(ctx context.Context, job verificationJob, text string) {
	if job.messageID != 0 {
		if err := u.notifier.Edit(ctx, job.userID, job.messageID, text); err == nil {
			return
		}
	}
	if _, err := u.notifier.Send(ctx, job.userID, text); err != nil {
		u.logger.Warn().Err(err).Int64("user_id", job.userID).Msg("Failed to deliver verification result")
	}
}

// HandleCancel cancels the user's submission end to end and releases
// the number.
func (u *verificationUseCase) HandleCancel(ctx context.Context, userID int64) (string, error) {
	hadTask := u.registry.CancelWait(ctx, userID)
	hadFlow := u.abortFlow(ctx, userID)

	user, err := u.users.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("load user: %w", err)
	}

	hadPending := false
	if user != nil && user.PendingPhone != "" {
		hadPending = true
		u.releaseNumber(ctx, userID, user.PendingPhone)
	}

	if !hadTask && !hadFlow && !hadPending {
		return "You have no active submission.", nil
	}

	u.logger.Info().Int64("user_id", userID).Msg("Submission cancelled by user")
	return "❌ Cancelled. The number was released and can be submitted again.", nil
}

// releaseNumber defensively unwinds everything a submission created.
func (u *verificationUseCase) releaseNumber(ctx context.Context, userID int64, phoneNumber string) {
	if err := u.used.Unmark(ctx, phoneNumber); err != nil {
		u.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to release used number")
	}
	if country, err := u.resolveCountry(ctx, phoneNumber); err == nil {
		u.removeSession(country.CountryCode, phoneNumber)
	}
	if _, err := u.pending.DeleteByUser(ctx, userID); err != nil {
		u.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to delete pending records")
	}
	u.clearPendingFields(ctx, userID)
}

// dropActive silently discards a previous in-flight submission when a
// new number arrives.
func (u *verificationUseCase) dropActive(ctx context.Context, userID int64) {
	hadTask := u.registry.CancelWait(ctx, userID)
	hadFlow := u.abortFlow(ctx, userID)
	if !hadTask && !hadFlow {
		return
	}

	if user, err := u.users.Get(ctx, userID); err == nil && user.PendingPhone != "" {
		u.releaseNumber(ctx, userID, user.PendingPhone)
	}
}

// abortFlow stops the user's login flow and removes its temp session.
func (u *verificationUseCase) abortFlow(ctx context.Context, userID int64) bool {
	path, err := u.verifier.Abort(ctx, userID)
	if err != nil {
		return false
	}
	if path != "" {
		os.Remove(path)
	}
	return true
}

// AutoCancelStale cancels background verifications stuck for longer
// than the configured age and reports to the admins.
func (u *verificationUseCase) AutoCancelStale(ctx context.Context) (int, error) {
	stale, err := u.pending.ListStaleBackground(ctx, u.cfg.AutoCancelAge)
	if err != nil {
		return 0, fmt.Errorf("list stale verifications: %w", err)
	}

	cancelled := 0
	for _, p := range stale {
		u.registry.Cancel(p.UserID)

		if err := u.pending.AutoCancel(ctx, p.ID, "background verification timed out"); err != nil {
			u.logger.Error().Err(err).Str("pending_id", p.ID).Msg("Failed to auto-cancel pending number")
			continue
		}

		u.releaseNumber(ctx, p.UserID, p.PhoneNumber)

		if err := u.audit.Publish(ctx, domain.AuditEvent{
			Kind:        "auto_cancelled",
			UserID:      p.UserID,
			PhoneNumber: p.PhoneNumber,
			Reason:      "background verification timed out",
			Timestamp:   time.Now().UTC(),
		}); err != nil {
			u.logger.Warn().Err(err).Msg("Failed to publish audit event")
		}

		if _, err := u.notifier.Send(ctx, p.UserID,
			"⌛ Your number verification timed out and was cancelled. You may submit the number again."); err != nil {
			u.logger.Warn().Err(err).Int64("user_id", p.UserID).Msg("Failed to notify user about auto-cancel")
		}
		cancelled++
	}

	if cancelled > 0 {
		text := fmt.Sprintf("⚠️ Auto-cancelled %d stuck verification(s).", cancelled)
		for _, adminID := range u.cfg.AdminIDs {
			if _, err := u.notifier.Send(ctx, adminID, text); err != nil {
				u.logger.Warn().Err(err).Int64("admin_id", adminID).Msg("Failed to notify admin")
			}
		}
		u.logger.Info().Int("count", cancelled).Msg("Auto-cancelled stuck verifications")
	}
	return cancelled, nil
}

// LoginState reports which secret the user is expected to send next.
func (u *verificationUseCase) LoginState(userID int64) (domain.LoginState, bool) {
	return u.verifier.ActiveState(userID)
}

// ActiveVerifications returns the number of running background tasks.
func (u *verificationUseCase) ActiveVerifications() int {
	return u.registry.Size()
}

// Shutdown stops all background verification tasks.
func (u *verificationUseCase) Shutdown(ctx context.Context) {
	u.registry.Shutdown(ctx)
}

func (u *verificationUseCase) clearPendingFields(ctx context.Context, userID int64) {
	err := u.users.Upsert(ctx, userID, map[string]interface{}{
		"pending_phone": "",
		"otp_msg_id":    0,
	})
	if err != nil {
		u.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to clear pending fields")
	}
}

func (u *verificationUseCase) removeSession(countryCode, phoneNumber string) {
	if err := u.sessions.Remove(countryCode, phoneNumber); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to remove session files")
	}
}

// resolveCountry matches the longest configured dialing prefix, trying
// lengths 4 down to 1.
func (u *verificationUseCase) resolveCountry(ctx context.Context, phoneNumber string) (*domain.Country, error) {
	digits := strings.TrimPrefix(phoneNumber, "+")
	for l := 4; l >= 1; l-- {
		if len(digits) < l {
			continue
		}
		country, err := u.countries.GetByCode(ctx, "+"+digits[:l])
		if err == nil {
			return country, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("resolve country: %w", err)
		}
	}
	return nil, domain.ErrCountryNotSupported
}

// claimWait returns the background delay before the device check. The
// check runs 10 seconds before the claim time is up, never sooner than
// 10 seconds after finalization.
func claimWait(claimTime int) time.Duration {
	d := time.Duration(claimTime-10) * time.Second
	if d < 10*time.Second {
		d = 10 * time.Second
	}
	return d
}
