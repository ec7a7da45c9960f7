package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// WithdrawalConfig holds payout limits and the admin log destination.
type WithdrawalConfig struct {
	MinLeaderCard float64
	MinBinance    float64
	LogChatID     int64
}

// withdrawalUseCase implements domain.WithdrawalUseCase
type withdrawalUseCase struct {
	users        domain.UserRepository
	withdrawals  domain.WithdrawalRepository
	cards        domain.CardRepository
	transactions domain.TransactionRepository
	audit        domain.AuditPublisher
	notifier     domain.Notifier
	cfg          WithdrawalConfig
	logger       zerolog.Logger
}

// NewWithdrawalUseCase creates the payout use case
func NewWithdrawalUseCase(
	users domain.UserRepository,
	withdrawals domain.WithdrawalRepository,
	cards domain.CardRepository,
	transactions domain.TransactionRepository,
	audit domain.AuditPublisher,
	notifier domain.Notifier,
	cfg WithdrawalConfig,
	logger zerolog.Logger,
) domain.WithdrawalUseCase {
	if cfg.MinLeaderCard <= 0 {
		cfg.MinLeaderCard = 2
	}
	if cfg.MinBinance <= 0 {
		cfg.MinBinance = 5
	}
	return &withdrawalUseCase{
		users:        users,
		withdrawals:  withdrawals,
		cards:        cards,
		transactions: transactions,
		audit:        audit,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger.With().Str("component", "withdrawal").Logger(),
	}
}

const withdrawUsage = "Usage:\n" +
	"/withdraw card <card_name> [amount]\n" +
	"/withdraw binance <binance_id> [amount]\n\n" +
	"Without an amount your full balance is requested."

// HandleWithdraw creates a payout request. One pending request per
// user; the balance is deducted on approval, not here.
func (u *withdrawalUseCase) HandleWithdraw(ctx context.Context, userID int64, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return withdrawUsage, nil
	}

	var wType domain.WithdrawalType
	var minimum float64
	switch strings.ToLower(fields[0]) {
	case "card":
		wType = domain.WithdrawalTypeLeaderCard
		minimum = u.cfg.MinLeaderCard
	case "binance":
		wType = domain.WithdrawalTypeBinance
		minimum = u.cfg.MinBinance
	default:
		return withdrawUsage, nil
	}
	destination := fields[1]

	if _, err := u.withdrawals.GetPendingByUser(ctx, userID); err == nil {
		return "⏳ You already have a pending withdrawal. Wait for it to be processed.", nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("check pending withdrawal: %w", err)
	}

	user, err := u.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "Send /start first.", nil
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	amount := user.Balance
	if len(fields) >= 3 {
		amount, err = strconv.ParseFloat(fields[2], 64)
		if err != nil || amount <= 0 {
			return "❌ Invalid amount.", nil
		}
	}

	if amount < minimum {
		return fmt.Sprintf("❌ Minimum withdrawal for this method is $%.2f.", minimum), nil
	}
	if amount > user.Balance {
		return fmt.Sprintf("❌ Insufficient balance. You have $%.2f.", user.Balance), nil
	}

	if wType == domain.WithdrawalTypeLeaderCard {
		known, err := u.cards.Exists(ctx, destination)
		if err != nil {
			return "", fmt.Errorf("check card: %w", err)
		}
		if !known {
			return "❌ Unknown card name. Ask your leader for the exact card name.", nil
		}
	}

	id, err := u.withdrawals.Create(ctx, &domain.Withdrawal{
		UserID:      userID,
		Amount:      amount,
		Destination: destination,
		Type:        wType,
		Status:      domain.WithdrawalStatusPending,
	})
	if err != nil {
		return "", fmt.Errorf("create withdrawal: %w", err)
	}

	if err := u.audit.Publish(ctx, domain.AuditEvent{
		Kind:      "withdrawal_requested",
		UserID:    userID,
		Amount:    amount,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to publish audit event")
	}

	if u.cfg.LogChatID != 0 {
		_, err := u.notifier.Send(ctx, u.cfg.LogChatID, fmt.Sprintf(
			"💸 Withdrawal request\nUser: %d\nAmount: $%.2f\nMethod: %s\nDestination: %s",
			userID, amount, wType, destination))
		if err != nil {
			u.logger.Warn().Err(err).Msg("Failed to post withdrawal to log chat")
		}
	}

	u.logger.Info().Int64("user_id", userID).Float64("amount", amount).
		Str("withdrawal_id", id).Msg("Withdrawal requested")

	return fmt.Sprintf("✅ Withdrawal of $%.2f requested. You will be notified once it is processed.", amount), nil
}

// ApproveUser approves the user's pending withdrawal, deducts the
// balance and logs the payout.
func (u *withdrawalUseCase) ApproveUser(ctx context.Context, userID int64) (string, error) {
	w, err := u.withdrawals.GetPendingByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("User %d has no pending withdrawal.", userID), nil
		}
		return "", fmt.Errorf("load pending withdrawal: %w", err)
	}

	if _, err := u.withdrawals.ApproveByUser(ctx, userID); err != nil {
		return "", fmt.Errorf("approve withdrawal: %w", err)
	}

	u.settle(ctx, *w, "withdrawal", "Withdrawal paid out")

	if err := u.audit.Publish(ctx, domain.AuditEvent{
		Kind:      "withdrawal_approved",
		UserID:    userID,
		Amount:    w.Amount,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to publish audit event")
	}

	if _, err := u.notifier.Send(ctx, userID, fmt.Sprintf(
		"✅ Your withdrawal of $%.2f was approved and paid out.", w.Amount)); err != nil {
		u.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to notify user")
	}

	u.logger.Info().Int64("user_id", userID).Float64("amount", w.Amount).Msg("Withdrawal approved")
	return fmt.Sprintf("✅ Paid $%.2f to user %d.", w.Amount, userID), nil
}

// RejectUser rejects the user's pending withdrawals. The requested
// amount is deducted as well, so abusive requests cost the abuser.
func (u *withdrawalUseCase) RejectUser(ctx context.Context, userID int64, reason string) (string, error) {
	if reason == "" {
		reason = "rejected by admin"
	}

	rejected, err := u.withdrawals.RejectByUser(ctx, userID, reason)
	if err != nil {
		return "", fmt.Errorf("reject withdrawals: %w", err)
	}
	if len(rejected) == 0 {
		return fmt.Sprintf("User %d has no pending withdrawal.", userID), nil
	}

	var total float64
	for _, w := range rejected {
		u.settle(ctx, w, "withdrawal_rejected", "Withdrawal rejected: "+reason)
		total += w.Amount
	}

	if err := u.audit.Publish(ctx, domain.AuditEvent{
		Kind:      "withdrawal_rejected",
		UserID:    userID,
		Amount:    total,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to publish audit event")
	}

	if _, err := u.notifier.Send(ctx, userID, fmt.Sprintf(
		"❌ Your withdrawal of $%.2f was rejected.\nReason: %s", total, reason)); err != nil {
		u.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to notify user")
	}

	u.logger.Info().Int64("user_id", userID).Float64("amount", total).Str("reason", reason).
		Msg("Withdrawal rejected")
	return fmt.Sprintf("❌ Rejected $%.2f for user %d.", total, userID), nil
}

// ApproveCard approves every pending withdrawal on a leader card and
// reports the card's ledger totals.
func (u *withdrawalUseCase) ApproveCard(ctx context.Context, cardName string) (string, error) {
	pending, err := u.withdrawals.ListPendingByCard(ctx, cardName)
	if err != nil {
		return "", fmt.Errorf("list card withdrawals: %w", err)
	}
	if len(pending) == 0 {
		stats, err := u.withdrawals.StatsByCard(ctx, cardName)
		if err != nil {
			return "", fmt.Errorf("card stats: %w", err)
		}
		return fmt.Sprintf("Card %s has no pending withdrawals.\nApproved so far: %d ($%.2f).",
			cardName, stats.ApprovedCount, stats.ApprovedBalance), nil
	}

	if _, err := u.withdrawals.ApproveByCard(ctx, cardName); err != nil {
		return "", fmt.Errorf("approve card withdrawals: %w", err)
	}

	var total float64
	for _, w := range pending {
		u.settle(ctx, w, "withdrawal", "Withdrawal paid out via "+cardName)
		total += w.Amount

		if _, err := u.notifier.Send(ctx, w.UserID, fmt.Sprintf(
			"✅ Your withdrawal of $%.2f was approved and paid out.", w.Amount)); err != nil {
			u.logger.Warn().Err(err).Int64("user_id", w.UserID).Msg("Failed to notify user")
		}
	}

	if err := u.audit.Publish(ctx, domain.AuditEvent{
		Kind:      "withdrawal_approved",
		Amount:    total,
		Reason:    "card " + cardName,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to publish audit event")
	}

	u.logger.Info().Str("card", cardName).Int("count", len(pending)).Float64("amount", total).
		Msg("Card withdrawals approved")
	return fmt.Sprintf("✅ Paid %d withdrawal(s) totalling $%.2f via card %s.",
		len(pending), total, cardName), nil
}

// settle deducts the withdrawal amount from the user and records the
// balance change.
func (u *withdrawalUseCase) settle(ctx context.Context, w domain.Withdrawal, txType, description string) {
	if _, err := u.users.AddBalance(ctx, w.UserID, -w.Amount); err != nil {
		u.logger.Error().Err(err).Int64("user_id", w.UserID).Float64("amount", w.Amount).
			Msg("Failed to deduct balance")
		return
	}
	if _, err := u.transactions.Log(ctx, &domain.Transaction{
		UserID:      w.UserID,
		Type:        txType,
		Amount:      -w.Amount,
		Description: description,
		Status:      "completed",
	}); err != nil {
		u.logger.Error().Err(err).Int64("user_id", w.UserID).Msg("Failed to log transaction")
	}
}
