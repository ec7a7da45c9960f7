package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/HyperCyx/otpbot/internal/domain"
	"github.com/HyperCyx/otpbot/internal/infrastructure/proxy"
)

const (
	connectTimeout = 10 * time.Second
	maxLoginFlows  = 500
	maxFlowAge     = time.Hour
)

// loginFlow is one in-progress login, holding its own connected client.
type loginFlow struct {
	phone       string
	sessionPath string
	state       domain.LoginState
	codeHash    string
	startedAt   time.Time

	client  *telegram.Client
	cancel  context.CancelFunc
	runDone chan struct{}
}

// Verifier drives Telegram login flows over MTProto. Each user gets at
// most one flow; flows are tracked in a mutex-guarded table.
type Verifier struct {
	apiID    int
	apiHash  string
	twoFA    string
	pool     *proxy.Pool
	devices  *DevicePicker
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu    sync.Mutex
	flows map[int64]*loginFlow
}

var _ domain.Verifier = (*Verifier)(nil)

// VerifierConfig holds configuration for the Verifier
type VerifierConfig struct {
	APIID              int
	APIHash            string
	Default2FAPassword string
	Pool               *proxy.Pool
	Devices            *DevicePicker
	Logger             zerolog.Logger
}

// NewVerifier creates a login flow verifier
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.APIID == 0 {
		return nil, fmt.Errorf("APIID is required")
	}
	if cfg.APIHash == "" {
		return nil, fmt.Errorf("APIHash is required")
	}

	return &Verifier{
		apiID:   cfg.APIID,
		apiHash: cfg.APIHash,
		twoFA:   cfg.Default2FAPassword,
		pool:    cfg.Pool,
		devices: cfg.Devices,
		limiter: rate.NewLimiter(rate.Every(time.Second), 10),
		logger:  cfg.Logger.With().Str("component", "verifier").Logger(),
	}, nil
}

// isRPCError reports whether err is a Telegram RPC error rather than a
// transport failure.
func isRPCError(err error) bool {
	_, ok := tgerr.As(err)
	return ok
}

// maskPhoneNumber masks phone number for logging (keeps first 2 and last 2 digits)
func maskPhoneNumber(phone string) string {
	if len(phone) < 4 {
		return "***"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}

// RequestCode connects with a randomized device identity and asks
// Telegram to send a login code to the number. A previous flow for the
// same user is aborted first.
func (v *Verifier) RequestCode(ctx context.Context, userID int64, phoneNumber, sessionPath string) error {
	v.mu.Lock()
	if v.flows == nil {
		v.flows = make(map[int64]*loginFlow)
	}
	if old, ok := v.flows[userID]; ok {
		delete(v.flows, userID)
		go v.stopFlow(old)
	}
	if len(v.flows) >= maxLoginFlows {
		v.mu.Unlock()
		return domain.ErrTooManyStates
	}
	// Reserve the slot before the slow connect.
	flow := &loginFlow{
		phone:       phoneNumber,
		sessionPath: sessionPath,
		state:       domain.LoginStateAwaitingCode,
		startedAt:   time.Now(),
	}
	v.flows[userID] = flow
	v.mu.Unlock()

	if err := v.limiter.Wait(ctx); err != nil {
		v.forget(userID)
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	log := v.logger.With().Int64("user_id", userID).Str("phone", maskPhoneNumber(phoneNumber)).Logger()

	// Direct connection first, one proxy fallback on transport failure.
	// RPC errors came from Telegram itself, so a proxy will not help.
	err := v.startFlow(ctx, flow, nil, log)
	if err != nil && !isRPCError(err) && v.pool != nil && v.pool.Size() > 0 {
		if entry, ok := v.pool.Next(); ok {
			log.Warn().Err(err).Str("proxy", entry.Addr()).Msg("Direct connection failed, retrying via proxy")
			if perr := v.startFlow(ctx, flow, &entry, log); perr != nil {
				if !isRPCError(perr) {
					v.pool.MarkFailed(entry)
				}
				err = perr
			} else {
				err = nil
			}
		}
	}
	if err != nil {
		v.forget(userID)
		if wait, ok := tgerr.AsFloodWait(err); ok {
			return fmt.Errorf("telegram rate limit, retry after %s: %w", wait, err)
		}
		return fmt.Errorf("failed to request code: %w", err)
	}

	log.Info().Msg("Login code sent")
	return nil
}

// startFlow connects a fresh client, sends the login code and leaves the
// client running for the subsequent code/password submissions.
func (v *Verifier) startFlow(ctx context.Context, flow *loginFlow, via *proxy.Entry, log zerolog.Logger) error {
	device := v.devices.Pick()

	opts := telegram.Options{
		SessionStorage: newFileStorage(flow.sessionPath),
		Device:         device.Config(),
	}
	if via != nil {
		dial, err := v.pool.Dialer(*via)
		if err != nil {
			return err
		}
		opts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dial})
	}

	client := telegram.NewClient(v.apiID, v.apiHash, opts)

	runCtx, cancel := context.WithCancel(context.Background())
	readyChan := make(chan struct{})
	errChan := make(chan error, 1)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		err := client.Run(runCtx, func(ctx context.Context) error {
			sent, err := client.Auth().SendCode(ctx, flow.phone, auth.SendCodeOptions{})
			if err != nil {
				return fmt.Errorf("send code: %w", err)
			}

			code, ok := sent.(*tg.AuthSentCode)
			if !ok {
				return fmt.Errorf("unexpected sent code type %T", sent)
			}
			flow.codeHash = code.PhoneCodeHash

			close(readyChan)

			// Keep the connection alive for the code submission.
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case errChan <- err:
		default:
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, connectTimeout)
	defer waitCancel()

	select {
	case <-readyChan:
		flow.client = client
		flow.cancel = cancel
		flow.runDone = runDone
		return nil
	case err := <-errChan:
		cancel()
		if err == nil {
			err = fmt.Errorf("client stopped before code was sent")
		}
		return err
	case <-waitCtx.Done():
		cancel()
		return waitCtx.Err()
	}
}

// SubmitCode submits the login code and reports a tagged outcome.
// InvalidCode keeps the flow alive for a retry; ExpiredCode requires the
// caller to abort the flow.
func (v *Verifier) SubmitCode(ctx context.Context, userID int64, code string) (domain.CodeResult, error) {
	flow, ok := v.flow(userID)
	if !ok || flow.state != domain.LoginStateAwaitingCode {
		return domain.CodeResult{}, domain.ErrNoActiveLogin
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return domain.CodeResult{}, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	log := v.logger.With().Int64("user_id", userID).Str("phone", maskPhoneNumber(flow.phone)).Logger()

	_, err := flow.client.Auth().SignIn(ctx, flow.phone, code, flow.codeHash)
	switch {
	case err == nil:
		if err := v.lockAccount(ctx, flow, ""); err != nil {
			log.Warn().Err(err).Msg("Could not set cloud password")
		}
		log.Info().Msg("Signed in without password")
		return domain.CodeResult{Status: domain.CodeStatusVerified}, nil

	case errors.Is(err, auth.ErrPasswordAuthNeeded) || tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		v.setState(userID, domain.LoginStateAwaitingPassword)
		log.Info().Msg("Account requires 2FA password")
		return domain.CodeResult{Status: domain.CodeStatusPasswordRequired}, nil

	case tgerr.Is(err, "PHONE_CODE_INVALID"):
		return domain.CodeResult{Status: domain.CodeStatusInvalidCode}, nil

	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return domain.CodeResult{Status: domain.CodeStatusExpiredCode}, nil
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return domain.CodeResult{Status: domain.CodeStatusRateLimited, RetryAfter: wait}, nil
	}

	log.Error().Err(err).Msg("Sign-in failed")
	return domain.CodeResult{Status: domain.CodeStatusTransportError, Message: err.Error()}, nil
}

// SubmitPassword completes 2FA sign-in and rotates the cloud password to
// the configured default.
func (v *Verifier) SubmitPassword(ctx context.Context, userID int64, password string) (domain.CodeResult, error) {
	flow, ok := v.flow(userID)
	if !ok || flow.state != domain.LoginStateAwaitingPassword {
		return domain.CodeResult{}, domain.ErrNoActiveLogin
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return domain.CodeResult{}, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	log := v.logger.With().Int64("user_id", userID).Str("phone", maskPhoneNumber(flow.phone)).Logger()

	_, err := flow.client.Auth().Password(ctx, password)
	if err != nil {
		if tgerr.Is(err, "PASSWORD_HASH_INVALID") {
			return domain.CodeResult{Status: domain.CodeStatusInvalidCode, Message: "invalid password"}, nil
		}
		if wait, ok := tgerr.AsFloodWait(err); ok {
			return domain.CodeResult{Status: domain.CodeStatusRateLimited, RetryAfter: wait}, nil
		}
		log.Error().Err(err).Msg("Password sign-in failed")
		return domain.CodeResult{Status: domain.CodeStatusTransportError, Message: err.Error()}, nil
	}

	if err := v.lockAccount(ctx, flow, password); err != nil {
		log.Warn().Err(err).Msg("Could not rotate cloud password")
	}

	log.Info().Msg("Signed in with password")
	return domain.CodeResult{Status: domain.CodeStatusVerified}, nil
}

// lockAccount sets the bot-controlled cloud password on the freshly
// signed-in account.
func (v *Verifier) lockAccount(ctx context.Context, flow *loginFlow, current string) error {
	if v.twoFA == "" {
		return nil
	}

	opts := auth.UpdatePasswordOptions{}
	if current != "" {
		opts.Password = func(ctx context.Context) (string, error) {
			return current, nil
		}
	}

	return flow.client.Auth().UpdatePassword(ctx, v.twoFA, opts)
}

// Release disconnects the user's login client, keeping the session
// file, and returns the phone number and temp session path.
func (v *Verifier) Release(ctx context.Context, userID int64) (string, string, error) {
	v.mu.Lock()
	flow, ok := v.flows[userID]
	if ok {
		delete(v.flows, userID)
	}
	v.mu.Unlock()

	if !ok {
		return "", "", domain.ErrNoActiveLogin
	}

	v.stopFlowCtx(ctx, flow)
	return flow.phone, flow.sessionPath, nil
}

// Abort disconnects and forgets the user's login flow, returning the
// temp session path so the caller can remove it.
func (v *Verifier) Abort(ctx context.Context, userID int64) (string, error) {
	v.mu.Lock()
	flow, ok := v.flows[userID]
	if ok {
		delete(v.flows, userID)
	}
	v.mu.Unlock()

	if !ok {
		return "", domain.ErrNoActiveLogin
	}

	v.stopFlowCtx(ctx, flow)
	return flow.sessionPath, nil
}

// ActiveState reports the login flow state for the user, if any.
func (v *Verifier) ActiveState(userID int64) (domain.LoginState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	flow, ok := v.flows[userID]
	if !ok {
		return "", false
	}
	return flow.state, true
}

// ActiveCount returns the number of in-progress login flows.
func (v *Verifier) ActiveCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.flows)
}

// SweepStale drops flows older than maxFlowAge and returns how many
// were removed. Their temp session files are left to the file cleanup.
func (v *Verifier) SweepStale() int {
	cutoff := time.Now().Add(-maxFlowAge)

	v.mu.Lock()
	var stale []*loginFlow
	for userID, flow := range v.flows {
		if flow.startedAt.Before(cutoff) {
			stale = append(stale, flow)
			delete(v.flows, userID)
		}
	}
	v.mu.Unlock()

	for _, flow := range stale {
		v.stopFlow(flow)
	}

	if len(stale) > 0 {
		v.logger.Info().Int("count", len(stale)).Msg("Swept stale login flows")
	}
	return len(stale)
}

// Shutdown stops every login flow.
func (v *Verifier) Shutdown(ctx context.Context) {
	v.mu.Lock()
	flows := v.flows
	v.flows = nil
	v.mu.Unlock()

	for _, flow := range flows {
		v.stopFlowCtx(ctx, flow)
	}
}

// CountAuthorizedDevices opens the session at path with a fresh client
// and counts all authorized devices on the account. Any failure wraps
// domain.ErrDeviceCountUnknown.
func (v *Verifier) CountAuthorizedDevices(ctx context.Context, path string) (int, error) {
	client := telegram.NewClient(v.apiID, v.apiHash, telegram.Options{
		SessionStorage: newFileStorage(path),
	})

	count := 0
	err := client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			// Session no longer signed in: zero devices, a known answer.
			return nil
		}

		auths, err := client.API().AccountGetAuthorizations(ctx)
		if err != nil {
			return fmt.Errorf("get authorizations: %w", err)
		}
		count = len(auths.Authorizations)
		return nil
	})
	if err != nil {
		v.logger.Error().Err(err).Msg("Device count check failed")
		return 0, fmt.Errorf("%w: %v", domain.ErrDeviceCountUnknown, err)
	}

	return count, nil
}

func (v *Verifier) flow(userID int64) (*loginFlow, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	flow, ok := v.flows[userID]
	return flow, ok
}

func (v *Verifier) forget(userID int64) {
	v.mu.Lock()
	delete(v.flows, userID)
	v.mu.Unlock()
}

func (v *Verifier) setState(userID int64, state domain.LoginState) {
	v.mu.Lock()
	if flow, ok := v.flows[userID]; ok {
		flow.state = state
	}
	v.mu.Unlock()
}

func (v *Verifier) stopFlow(flow *loginFlow) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v.stopFlowCtx(ctx, flow)
}

func (v *Verifier) stopFlowCtx(ctx context.Context, flow *loginFlow) {
	if flow.cancel == nil {
		return
	}
	flow.cancel()
	if flow.runDone != nil {
		select {
		case <-flow.runDone:
		case <-ctx.Done():
			v.logger.Warn().Str("phone", maskPhoneNumber(flow.phone)).Msg("Timeout waiting for login client shutdown")
		}
	}
}
