package telegram

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
	infratg "github.com/HyperCyx/otpbot/internal/infrastructure/telegram"
)

var (
	phonePattern = regexp.MustCompile(`^\+\d{6,18}$`)
	codePattern  = regexp.MustCompile(`^\d{4,8}$`)
)

// Handler routes bot updates to the use cases.
type Handler struct {
	bot          *infratg.Bot
	verification domain.VerificationUseCase
	withdrawal   domain.WithdrawalUseCase
	admin        domain.AdminUseCase
	adminIDs     map[int64]struct{}
	logger       zerolog.Logger
}

// NewHandler creates the update router
func NewHandler(
	bot *infratg.Bot,
	verification domain.VerificationUseCase,
	withdrawal domain.WithdrawalUseCase,
	admin domain.AdminUseCase,
	adminIDs []int64,
	logger zerolog.Logger,
) *Handler {
	ids := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		ids[id] = struct{}{}
	}

	return &Handler{
		bot:          bot,
		verification: verification,
		withdrawal:   withdrawal,
		admin:        admin,
		adminIDs:     ids,
		logger:       logger.With().Str("component", "handler").Logger(),
	}
}

// Register wires every command route and the free-text handler.
func (h *Handler) Register() {
	raw := h.bot.Raw()

	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.handleStart)
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/cancel", tgbot.MatchTypeExact, h.handleCancel)
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/withdraw", tgbot.MatchTypePrefix, h.handleWithdraw)

	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/add ", tgbot.MatchTypePrefix, h.adminOnly("/add", h.handleAddCountry))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/countries", tgbot.MatchTypeExact, h.adminOnly("/countries", h.handleListCountries))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/removecountry", tgbot.MatchTypePrefix, h.adminOnly("/removecountry", h.handleRemoveCountry))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/pay ", tgbot.MatchTypePrefix, h.adminOnly("/pay", h.handlePay))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/paycard", tgbot.MatchTypePrefix, h.adminOnly("/paycard", h.handlePayCard))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/rejectpayment", tgbot.MatchTypePrefix, h.adminOnly("/rejectpayment", h.handleRejectPayment))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/addcard", tgbot.MatchTypePrefix, h.adminOnly("/addcard", h.handleAddCard))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/delcard", tgbot.MatchTypePrefix, h.adminOnly("/delcard", h.handleDelCard))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/sessions", tgbot.MatchTypeExact, h.adminOnly("/sessions", h.handleSessions))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/purgesessions", tgbot.MatchTypePrefix, h.adminOnly("/purgesessions", h.handlePurgeSessions))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/proxystats", tgbot.MatchTypeExact, h.adminOnly("/proxystats", h.handleProxyStats))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/enablecleanup", tgbot.MatchTypeExact, h.adminOnly("/enablecleanup", h.handleEnableCleanup))
	raw.RegisterHandler(tgbot.HandlerTypeMessageText, "/disablecleanup", tgbot.MatchTypeExact, h.adminOnly("/disablecleanup", h.handleDisableCleanup))

	h.bot.SetDefaultHandler(h.handleText)

	h.logger.Info().Msg("All command handlers registered successfully")
}

func (h *Handler) isAdmin(userID int64) bool {
	_, ok := h.adminIDs[userID]
	return ok
}

// adminOnly guards a handler behind the admin allow-list.
func (h *Handler) adminOnly(command string, fn tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		if !h.isAdmin(update.Message.From.ID) {
			h.logger.Warn().
				Int64("user_id", update.Message.From.ID).
				Str("command", command).
				Msg("Unauthorized admin command")
			h.sendMessage(ctx, update.Message.Chat.ID, "⛔ Admins only.")
			return
		}
		fn(ctx, bot, update)
	}
}

func (h *Handler) handleStart(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	h.logCommand(userID, "/start", "processing")

	result, err := h.verification.HandleStart(ctx, userID, update.Message.From.Username)
	if err != nil {
		h.logError(userID, "/start", err)
		h.sendMessage(ctx, chatID, "❌ Something went wrong. Try again later.")
		return
	}

	h.sendMessage(ctx, chatID, result)
	h.logCommand(userID, "/start", "success")
}

func (h *Handler) handleCancel(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	h.logCommand(userID, "/cancel", "processing")

	result, err := h.verification.HandleCancel(ctx, userID)
	if err != nil {
		h.logError(userID, "/cancel", err)
		h.sendMessage(ctx, chatID, "❌ Cancellation failed. Try again.")
		return
	}

	h.sendMessage(ctx, chatID, result)
	h.logCommand(userID, "/cancel", "success")
}

func (h *Handler) handleWithdraw(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text, "/withdraw")

	h.logCommand(userID, "/withdraw", "processing")

	result, err := h.withdrawal.HandleWithdraw(ctx, userID, args)
	if err != nil {
		h.logError(userID, "/withdraw", err)
		h.sendMessage(ctx, chatID, "❌ Withdrawal request failed. Try again later.")
		return
	}

	h.sendMessage(ctx, chatID, result)
	h.logCommand(userID, "/withdraw", "success")
}

func (h *Handler) handleAddCountry(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/add", func(ctx context.Context) (string, error) {
		return h.admin.AddCountry(ctx, commandArgs(update.Message.Text, "/add"))
	})
}

func (h *Handler) handleListCountries(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/countries", func(ctx context.Context) (string, error) {
		return h.admin.ListCountries(ctx)
	})
}

func (h *Handler) handleRemoveCountry(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/removecountry", func(ctx context.Context) (string, error) {
		return h.admin.RemoveCountry(ctx, commandArgs(update.Message.Text, "/removecountry"))
	})
}

func (h *Handler) handlePay(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/pay", func(ctx context.Context) (string, error) {
		userID, err := strconv.ParseInt(commandArgs(update.Message.Text, "/pay"), 10, 64)
		if err != nil {
			return "Usage: /pay <user_id>", nil
		}
		return h.withdrawal.ApproveUser(ctx, userID)
	})
}

func (h *Handler) handlePayCard(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/paycard", func(ctx context.Context) (string, error) {
		cardName := commandArgs(update.Message.Text, "/paycard")
		if cardName == "" {
			return "Usage: /paycard <card_name>", nil
		}
		return h.withdrawal.ApproveCard(ctx, cardName)
	})
}

func (h *Handler) handleRejectPayment(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/rejectpayment", func(ctx context.Context) (string, error) {
		args := strings.Fields(commandArgs(update.Message.Text, "/rejectpayment"))
		if len(args) == 0 {
			return "Usage: /rejectpayment <user_id> [reason]", nil
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "Usage: /rejectpayment <user_id> [reason]", nil
		}
		return h.withdrawal.RejectUser(ctx, userID, strings.Join(args[1:], " "))
	})
}

func (h *Handler) handleAddCard(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/addcard", func(ctx context.Context) (string, error) {
		return h.admin.AddCard(ctx, commandArgs(update.Message.Text, "/addcard"))
	})
}

func (h *Handler) handleDelCard(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/delcard", func(ctx context.Context) (string, error) {
		return h.admin.DeleteCard(ctx, commandArgs(update.Message.Text, "/delcard"))
	})
}

func (h *Handler) handleSessions(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/sessions", func(ctx context.Context) (string, error) {
		return h.admin.SessionStats(ctx)
	})
}

func (h *Handler) handlePurgeSessions(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/purgesessions", func(ctx context.Context) (string, error) {
		return h.admin.PurgeSessions(ctx, commandArgs(update.Message.Text, "/purgesessions"))
	})
}

func (h *Handler) handleProxyStats(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/proxystats", func(ctx context.Context) (string, error) {
		return h.admin.ProxyStats(ctx)
	})
}

func (h *Handler) handleEnableCleanup(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/enablecleanup", func(ctx context.Context) (string, error) {
		return h.admin.SetCleanupEnabled(true), nil
	})
}

func (h *Handler) handleDisableCleanup(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	h.runAdmin(ctx, update, "/disablecleanup", func(ctx context.Context) (string, error) {
		return h.admin.SetCleanupEnabled(false), nil
	})
}

// runAdmin executes an admin command and reports its result.
func (h *Handler) runAdmin(ctx context.Context, update *models.Update, command string, fn func(context.Context) (string, error)) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	h.logCommand(userID, command, "processing")

	result, err := fn(ctx)
	if err != nil {
		h.logError(userID, command, err)
		h.sendMessage(ctx, chatID, "❌ Command failed. Check the logs.")
		return
	}

	h.sendMessage(ctx, chatID, result)
	h.logCommand(userID, command, "success")
}

// handleText routes free-form messages: phone numbers start a
// submission, digits answer a pending code prompt, anything else
// answers a pending password prompt.
func (h *Handler) handleText(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID
	text := strings.TrimSpace(update.Message.Text)

	if strings.HasPrefix(text, "+") {
		h.submitPhone(ctx, userID, chatID, text)
		return
	}

	state, active := h.verification.LoginState(userID)
	if !active {
		h.sendMessage(ctx, chatID, "Send a phone number in international format, for example +99891xxxxxxx.")
		return
	}

	switch {
	case state == domain.LoginStateAwaitingCode && codePattern.MatchString(text):
		h.submitSecret(ctx, userID, chatID, "code", func(ctx context.Context) (string, error) {
			return h.verification.HandleCode(ctx, userID, text)
		})
	case state == domain.LoginStateAwaitingCode:
		h.sendMessage(ctx, chatID, "Send the login code you received (digits only).")
	case state == domain.LoginStateAwaitingPassword:
		h.submitSecret(ctx, userID, chatID, "password", func(ctx context.Context) (string, error) {
			return h.verification.HandlePassword(ctx, userID, text)
		})
	}
}

func (h *Handler) submitPhone(ctx context.Context, userID, chatID int64, text string) {
	if !phonePattern.MatchString(text) {
		h.sendMessage(ctx, chatID, "❌ Invalid number format. Example: +99891xxxxxxx")
		return
	}

	result, err := h.verification.HandlePhoneNumber(ctx, userID, text)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPhoneNumber):
			h.sendMessage(ctx, chatID, "❌ Invalid number format. Example: +99891xxxxxxx")
		case errors.Is(err, domain.ErrNumberUsed):
			h.sendMessage(ctx, chatID, "❌ This number was already sold.")
		case errors.Is(err, domain.ErrCountryNotSupported):
			h.sendMessage(ctx, chatID, "❌ This country is not supported right now.")
		case errors.Is(err, domain.ErrNoCapacity):
			h.sendMessage(ctx, chatID, "❌ No capacity left for this country. Try again later.")
		default:
			h.logError(userID, "phone", err)
			h.sendMessage(ctx, chatID, "❌ Something went wrong. Try again later.")
		}
		return
	}

	h.sendMessage(ctx, chatID, result)
	h.logCommand(userID, "phone", "code requested")
}

func (h *Handler) submitSecret(ctx context.Context, userID, chatID int64, kind string, fn func(context.Context) (string, error)) {
	result, err := fn(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveLogin) {
			h.sendMessage(ctx, chatID, "No active login. Send a phone number first.")
			return
		}
		h.logError(userID, kind, err)
		h.sendMessage(ctx, chatID, "❌ Something went wrong. Try again.")
		return
	}

	// An empty reply means the pipeline already messaged the user.
	if result != "" {
		h.sendMessage(ctx, chatID, result)
	}
	h.logCommand(userID, kind, "processed")
}

// commandArgs strips the command itself from the message text.
func commandArgs(text, command string) string {
	return strings.TrimSpace(strings.TrimPrefix(text, command))
}

func (h *Handler) sendMessage(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := h.bot.Send(ctx, chatID, text)
	if err != nil {
		h.logger.Error().
			Int64("chat_id", chatID).
			Err(err).
			Msg("Failed to send Telegram message")
	}
}

func (h *Handler) logCommand(userID int64, command, result string) {
	h.logger.Info().
		Int64("user_id", userID).
		Str("command", command).
		Str("result", result).
		Msg("Telegram command processed")
}

func (h *Handler) logError(userID int64, command string, err error) {
	h.logger.Error().
		Int64("user_id", userID).
		Str("command", command).
		Err(err).
		Msg("Telegram command failed")
}
