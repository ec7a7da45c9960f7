package usecase

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
	"github.com/HyperCyx/otpbot/internal/infrastructure/proxy"
)

// adminUseCase implements domain.AdminUseCase
type adminUseCase struct {
	countries domain.CountryRepository
	cards     domain.CardRepository
	sessions  domain.SessionStore
	pool      *proxy.Pool
	sweeper   *Sweeper
	logger    zerolog.Logger
}

// NewAdminUseCase creates the administration use case
func NewAdminUseCase(
	countries domain.CountryRepository,
	cards domain.CardRepository,
	sessions domain.SessionStore,
	pool *proxy.Pool,
	sweeper *Sweeper,
	logger zerolog.Logger,
) domain.AdminUseCase {
	return &adminUseCase{
		countries: countries,
		cards:     cards,
		sessions:  sessions,
		pool:      pool,
		sweeper:   sweeper,
		logger:    logger.With().Str("component", "admin").Logger(),
	}
}

const addCountryUsage = "Usage: /add <code> <capacity> <price> <claim_seconds> [name] [flag]\n" +
	"Example: /add +998 50 0.85 600 Uzbekistan 🇺🇿"

// AddCountry creates or updates a country configuration.
func (u *adminUseCase) AddCountry(ctx context.Context, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) < 4 {
		return addCountryUsage, nil
	}

	code := fields[0]
	if !strings.HasPrefix(code, "+") {
		code = "+" + code
	}

	capacity, err := strconv.Atoi(fields[1])
	if err != nil || capacity < 0 {
		return addCountryUsage, nil
	}
	price, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || price <= 0 {
		return addCountryUsage, nil
	}
	claimTime, err := strconv.Atoi(fields[3])
	if err != nil || claimTime <= 0 {
		return addCountryUsage, nil
	}

	country := &domain.Country{
		CountryCode: code,
		Capacity:    capacity,
		Price:       price,
		ClaimTime:   claimTime,
	}
	if len(fields) >= 5 {
		country.Name = fields[4]
	}
	if len(fields) >= 6 {
		country.Flag = fields[5]
	}

	if err := u.countries.Upsert(ctx, country); err != nil {
		return "", fmt.Errorf("save country: %w", err)
	}

	u.logger.Info().Str("country", code).Int("capacity", capacity).Float64("price", price).
		Msg("Country saved")
	return fmt.Sprintf("✅ Country %s saved: capacity %d, price $%.2f, claim %ds.",
		code, capacity, price, claimTime), nil
}

// ListCountries renders the configured countries.
func (u *adminUseCase) ListCountries(ctx context.Context) (string, error) {
	countries, err := u.countries.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list countries: %w", err)
	}
	if len(countries) == 0 {
		return "No countries configured. Use /add to create one.", nil
	}

	var b strings.Builder
	b.WriteString("🌍 Countries:\n\n")
	for _, c := range countries {
		name := c.Name
		if name == "" {
			name = c.CountryCode
		}
		fmt.Fprintf(&b, "%s %s (%s): capacity %d, $%.2f, claim %ds\n",
			c.Flag, name, c.CountryCode, c.Capacity, c.Price, c.ClaimTime)
	}
	return b.String(), nil
}

// RemoveCountry deletes a country configuration.
func (u *adminUseCase) RemoveCountry(ctx context.Context, countryCode string) (string, error) {
	if countryCode == "" {
		return "Usage: /removecountry <code>", nil
	}
	if !strings.HasPrefix(countryCode, "+") {
		countryCode = "+" + countryCode
	}

	if err := u.countries.Delete(ctx, countryCode); err != nil {
		if err == domain.ErrNotFound {
			return fmt.Sprintf("Country %s is not configured.", countryCode), nil
		}
		return "", fmt.Errorf("delete country: %w", err)
	}

	u.logger.Info().Str("country", countryCode).Msg("Country removed")
	return fmt.Sprintf("✅ Country %s removed.", countryCode), nil
}

// AddCard registers a leader card for withdrawals.
func (u *adminUseCase) AddCard(ctx context.Context, cardName string) (string, error) {
	if cardName == "" {
		return "Usage: /addcard <name>", nil
	}

	if err := u.cards.Add(ctx, cardName); err != nil {
		return "", fmt.Errorf("add card: %w", err)
	}

	u.logger.Info().Str("card", cardName).Msg("Leader card added")
	return fmt.Sprintf("✅ Card %s added.", cardName), nil
}

// DeleteCard removes a leader card.
func (u *adminUseCase) DeleteCard(ctx context.Context, cardName string) (string, error) {
	if cardName == "" {
		return "Usage: /delcard <name>", nil
	}

	if err := u.cards.Delete(ctx, cardName); err != nil {
		if err == domain.ErrNotFound {
			return fmt.Sprintf("Card %s is not registered.", cardName), nil
		}
		return "", fmt.Errorf("delete card: %w", err)
	}

	u.logger.Info().Str("card", cardName).Msg("Leader card removed")
	return fmt.Sprintf("✅ Card %s removed.", cardName), nil
}

// SessionStats reports stored session counts per country.
func (u *adminUseCase) SessionStats(ctx context.Context) (string, error) {
	counts, err := u.sessions.CountByCountry()
	if err != nil {
		return "", fmt.Errorf("count sessions: %w", err)
	}
	if len(counts) == 0 {
		return "No stored sessions.", nil
	}

	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	total := 0
	var b strings.Builder
	b.WriteString("📂 Stored sessions:\n\n")
	for _, code := range codes {
		fmt.Fprintf(&b, "%s: %d\n", code, counts[code])
		total += counts[code]
	}
	fmt.Fprintf(&b, "\nTotal: %d", total)
	return b.String(), nil
}

// PurgeSessions deletes every stored session for a country.
func (u *adminUseCase) PurgeSessions(ctx context.Context, countryCode string) (string, error) {
	if countryCode == "" {
		return "Usage: /purgesessions <code>", nil
	}
	if !strings.HasPrefix(countryCode, "+") {
		countryCode = "+" + countryCode
	}

	removed, err := u.sessions.PurgeCountry(countryCode)
	if err != nil {
		return "", fmt.Errorf("purge sessions: %w", err)
	}

	u.logger.Info().Str("country", countryCode).Int("removed", removed).Msg("Sessions purged")
	return fmt.Sprintf("🗑 Removed %d session(s) for %s.", removed, countryCode), nil
}

// ProxyStats reports the proxy pool state.
func (u *adminUseCase) ProxyStats(ctx context.Context) (string, error) {
	if u.pool == nil || u.pool.Size() == 0 {
		return "No proxies configured. Connections go direct.", nil
	}

	stats := u.pool.Stats()
	return fmt.Sprintf("🌐 Proxies: %d total, %d working, %d failed.",
		stats.Total, stats.Working, stats.Failed), nil
}

// SetCleanupEnabled toggles the periodic temp session cleanup.
func (u *adminUseCase) SetCleanupEnabled(enabled bool) string {
	u.sweeper.SetCleanupEnabled(enabled)
	if enabled {
		return "✅ Session cleanup enabled."
	}
	return "⏸ Session cleanup disabled."
}
