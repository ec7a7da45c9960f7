package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
)

const (
	testUserID = int64(42)
	testPhone  = "+998901234567"
)

type verificationDeps struct {
	users        *mockUserRepo
	pending      *mockPendingRepo
	used         *mockUsedRepo
	countries    *mockCountryRepo
	transactions *mockTransactionRepo
	sessions     *mockSessionStore
	verifier     *mockVerifier
	audit        *mockAudit
	notifier     *mockNotifier
	registry     *Registry
}

func newVerificationForTest(t *testing.T) (*verificationUseCase, *verificationDeps) {
	t.Helper()

	deps := &verificationDeps{
		users:        &mockUserRepo{},
		pending:      &mockPendingRepo{},
		used:         &mockUsedRepo{},
		countries:    &mockCountryRepo{countries: map[string]domain.Country{
			"+998": {CountryCode: "+998", Capacity: 5, Price: 0.85, ClaimTime: 600, Flag: "🇺🇿"},
		}},
		transactions: &mockTransactionRepo{},
		sessions:     &mockSessionStore{},
		verifier:     &mockVerifier{},
		audit:        &mockAudit{},
		notifier:     &mockNotifier{},
		registry:     NewRegistry(zerolog.Nop()),
	}

	uc := NewVerificationUseCase(
		deps.users,
		deps.pending,
		deps.used,
		deps.countries,
		deps.transactions,
		deps.sessions,
		deps.verifier,
		deps.audit,
		deps.notifier,
		deps.registry,
		VerificationConfig{AdminIDs: []int64{99}},
		zerolog.Nop(),
	).(*verificationUseCase)

	return uc, deps
}

func TestHandlePhoneNumberRejectsInvalidFormat(t *testing.T) {
	uc, _ := newVerificationForTest(t)

	for _, input := range []string{"998901234567", "+12ab", "+123", "hello", "+1234567890123456789"} {
		_, err := uc.HandlePhoneNumber(context.Background(), testUserID, input)
		if !errors.Is(err, domain.ErrInvalidPhoneNumber) {
			t.Errorf("input %q: expected ErrInvalidPhoneNumber, got %v", input, err)
		}
	}
}

func TestHandlePhoneNumberRejectsUsedNumber(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.used.isUsedFunc = func(ctx context.Context, phoneNumber string) bool { return true }

	_, err := uc.HandlePhoneNumber(context.Background(), testUserID, testPhone)
	if !errors.Is(err, domain.ErrNumberUsed) {
		t.Fatalf("expected ErrNumberUsed, got %v", err)
	}
}

func TestHandlePhoneNumberRejectsUnsupportedCountry(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.countries.countries = nil

	_, err := uc.HandlePhoneNumber(context.Background(), testUserID, testPhone)
	if !errors.Is(err, domain.ErrCountryNotSupported) {
		t.Fatalf("expected ErrCountryNotSupported, got %v", err)
	}
}

func TestHandlePhoneNumberRejectsExhaustedCapacity(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.countries.countries["+998"] = domain.Country{
		CountryCode: "+998", Capacity: 0, Price: 0.85, ClaimTime: 600,
	}

	_, err := uc.HandlePhoneNumber(context.Background(), testUserID, testPhone)
	if !errors.Is(err, domain.ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity, got %v", err)
	}
}

func TestHandlePhoneNumberRequestsCode(t *testing.T) {
	uc, deps := newVerificationForTest(t)

	var gotPhone, gotPath string
	deps.verifier.requestCodeFunc = func(ctx context.Context, userID int64, phoneNumber, sessionPath string) error {
		gotPhone = phoneNumber
		gotPath = sessionPath
		return nil
	}

	reply, err := uc.HandlePhoneNumber(context.Background(), testUserID, testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPhone != testPhone {
		t.Errorf("expected code request for %s, got %s", testPhone, gotPhone)
	}
	if gotPath == "" {
		t.Error("expected a temp session path")
	}
	if !strings.Contains(reply, "$0.85") {
		t.Errorf("expected reply to mention the price, got %q", reply)
	}
}

func TestResolveCountryPrefersLongestPrefix(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.countries.countries = map[string]domain.Country{
		"+9":    {CountryCode: "+9"},
		"+998":  {CountryCode: "+998"},
		"+9989": {CountryCode: "+9989"},
	}

	country, err := uc.resolveCountry(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if country.CountryCode != "+9989" {
		t.Errorf("expected +9989, got %s", country.CountryCode)
	}

	delete(deps.countries.countries, "+9989")
	country, err = uc.resolveCountry(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if country.CountryCode != "+998" {
		t.Errorf("expected +998, got %s", country.CountryCode)
	}
}

func TestHandleCodeInvalidKeepsFlow(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.verifier.submitCodeFunc = func(ctx context.Context, userID int64, code string) (domain.CodeResult, error) {
		return domain.CodeResult{Status: domain.CodeStatusInvalidCode}, nil
	}

	reply, err := uc.HandleCode(context.Background(), testUserID, "12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Invalid code") {
		t.Errorf("expected invalid code reply, got %q", reply)
	}
	if len(deps.verifier.aborted) != 0 {
		t.Error("invalid code must not abort the login flow")
	}
}

func TestHandleCodeExpiredAbortsFlow(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.verifier.submitCodeFunc = func(ctx context.Context, userID int64, code string) (domain.CodeResult, error) {
		return domain.CodeResult{Status: domain.CodeStatusExpiredCode}, nil
	}
	deps.verifier.abortFunc = func(ctx context.Context, userID int64) (string, error) {
		return "", nil
	}

	reply, err := uc.HandleCode(context.Background(), testUserID, "12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "expired") {
		t.Errorf("expected expired reply, got %q", reply)
	}
	if len(deps.verifier.aborted) != 1 {
		t.Error("expired code must abort the login flow")
	}
	if len(deps.users.upserts) != 1 || deps.users.upserts[0]["pending_phone"] != "" {
		t.Errorf("expected pending phone cleared, got %v", deps.users.upserts)
	}
}

func TestHandleCodePasswordRequired(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.verifier.submitCodeFunc = func(ctx context.Context, userID int64, code string) (domain.CodeResult, error) {
		return domain.CodeResult{Status: domain.CodeStatusPasswordRequired}, nil
	}

	reply, err := uc.HandleCode(context.Background(), testUserID, "12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "password") {
		t.Errorf("expected password prompt, got %q", reply)
	}
}

func TestHandleCodeVerifiedStartsBackgroundVerification(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.verifier.releaseFunc = func(ctx context.Context, userID int64) (string, string, error) {
		return testPhone, "/tmp/test-sessions/+998/tmp_x.session", nil
	}

	reply, err := uc.HandleCode(context.Background(), testUserID, "12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "" {
		t.Errorf("expected empty reply after finalization, got %q", reply)
	}
	if deps.registry.Size() != 1 {
		t.Fatalf("expected one background task, got %d", deps.registry.Size())
	}
	if len(deps.notifier.sent) == 0 || !strings.Contains(deps.notifier.sent[0], "checked in 600 seconds") {
		t.Errorf("expected waiting message, got %v", deps.notifier.sent)
	}

	uc.Shutdown(context.Background())
}

func TestCreditPaysReward(t *testing.T) {
	uc, deps := newVerificationForTest(t)

	job := verificationJob{
		userID:      testUserID,
		phoneNumber: testPhone,
		pendingID:   "pending-1",
		country:     domain.Country{CountryCode: "+998", Capacity: 5, Price: 0.85, ClaimTime: 600},
		sessionPath: "/tmp/test-sessions/+998/" + testPhone + ".session",
		messageID:   7,
	}
	uc.credit(context.Background(), job)

	if len(deps.used.marked) != 1 || deps.used.marked[0] != testPhone {
		t.Errorf("expected number marked used, got %v", deps.used.marked)
	}
	if deps.pending.statuses["pending-1"] != domain.PendingStatusSuccess {
		t.Errorf("expected success status, got %v", deps.pending.statuses)
	}
	if len(deps.users.balanceAdds) != 1 || deps.users.balanceAdds[0] != 0.85 {
		t.Errorf("expected balance credit of 0.85, got %v", deps.users.balanceAdds)
	}
	if len(deps.transactions.logged) != 1 || deps.transactions.logged[0].Type != "account_sale" {
		t.Errorf("expected account_sale transaction, got %v", deps.transactions.logged)
	}
	if len(deps.audit.events) != 1 || deps.audit.events[0].Kind != "reward_credited" {
		t.Errorf("expected reward_credited audit event, got %v", deps.audit.events)
	}
	if len(deps.users.sentIncs) != 1 || deps.users.sentIncs[0] != testUserID {
		t.Errorf("expected sent accounts counter bumped, got %v", deps.users.sentIncs)
	}
	if len(deps.countries.upserted) != 0 {
		t.Errorf("capacity must not change on credit, got %v", deps.countries.upserted)
	}
	if len(deps.notifier.edited) != 1 || !strings.Contains(deps.notifier.edited[0], "+$0.85") {
		t.Errorf("expected success edit, got %v", deps.notifier.edited)
	}
}

func TestCreditFailsClosedWhenClaimFails(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.used.markFunc = func(ctx context.Context, phoneNumber string, userID int64) error {
		return errors.New("write failed")
	}

	job := verificationJob{
		userID:      testUserID,
		phoneNumber: testPhone,
		pendingID:   "pending-1",
		country:     domain.Country{CountryCode: "+998", Capacity: 5, Price: 0.85},
	}
	uc.credit(context.Background(), job)

	if len(deps.users.balanceAdds) != 0 {
		t.Errorf("no credit may happen when the claim fails, got %v", deps.users.balanceAdds)
	}
	if deps.pending.statuses["pending-1"] != domain.PendingStatusError {
		t.Errorf("expected error status, got %v", deps.pending.statuses)
	}
}

func TestBlockReleasesNumber(t *testing.T) {
	uc, deps := newVerificationForTest(t)

	job := verificationJob{
		userID:      testUserID,
		phoneNumber: testPhone,
		pendingID:   "pending-1",
		country:     domain.Country{CountryCode: "+998"},
		messageID:   7,
	}
	uc.block(context.Background(), job, domain.PendingStatusFailed, "2 authorized devices",
		"verification failed")

	if deps.pending.statuses["pending-1"] != domain.PendingStatusFailed {
		t.Errorf("expected failed status, got %v", deps.pending.statuses)
	}
	if len(deps.used.marked) != 0 {
		t.Error("blocked number must stay unclaimed")
	}
	if len(deps.sessions.removed) != 0 {
		t.Errorf("stored session must survive a failed check, got %v", deps.sessions.removed)
	}
	if len(deps.audit.events) != 1 || deps.audit.events[0].Kind != "reward_blocked" {
		t.Errorf("expected reward_blocked audit event, got %v", deps.audit.events)
	}
	if len(deps.users.balanceAdds) != 0 {
		t.Error("blocked verification must not credit")
	}
}

func TestRewardDecisionByDeviceCount(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		countErr   error
		wantStatus domain.PendingStatus
		wantCredit bool
	}{
		{"single device credits", 1, nil, domain.PendingStatusSuccess, true},
		{"no devices blocks", 0, nil, domain.PendingStatusFailed, false},
		{"multiple devices block", 3, nil, domain.PendingStatusFailed, false},
		{"indeterminate count blocks", 0, errors.New("connect timeout"), domain.PendingStatusDeviceCheckFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc, deps := newVerificationForTest(t)
			deps.verifier.countDevicesFunc = func(ctx context.Context, path string) (int, error) {
				return tt.count, tt.countErr
			}

			job := verificationJob{
				userID:      testUserID,
				phoneNumber: testPhone,
				pendingID:   "pending-1",
				country:     domain.Country{CountryCode: "+998", Price: 0.85},
				sessionPath: "/tmp/test-sessions/+998/" + testPhone + ".session",
			}
			count, err := uc.countDevices(context.Background(), job.sessionPath)
			uc.decideReward(context.Background(), job, count, err)

			if deps.pending.statuses["pending-1"] != tt.wantStatus {
				t.Errorf("expected status %s, got %v", tt.wantStatus, deps.pending.statuses)
			}
			if tt.wantCredit {
				if len(deps.used.marked) != 1 || deps.used.marked[0] != testPhone {
					t.Errorf("expected number marked used, got %v", deps.used.marked)
				}
				if len(deps.users.balanceAdds) != 1 || deps.users.balanceAdds[0] != 0.85 {
					t.Errorf("expected balance credit of 0.85, got %v", deps.users.balanceAdds)
				}
			} else {
				if len(deps.used.marked) != 0 {
					t.Errorf("blocked number must stay unclaimed, got %v", deps.used.marked)
				}
				if len(deps.users.balanceAdds) != 0 {
					t.Errorf("blocked verification must not credit, got %v", deps.users.balanceAdds)
				}
			}
		})
	}
}

func TestCountDevicesIndeterminateOnCopyFailure(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.sessions.disposableCopyFunc = func(path string) (string, error) {
		return "", errors.New("disk full")
	}

	_, err := uc.countDevices(context.Background(), "/tmp/x.session")
	if !errors.Is(err, domain.ErrDeviceCountUnknown) {
		t.Fatalf("expected ErrDeviceCountUnknown, got %v", err)
	}
}

func TestHandleCancelWithoutSubmission(t *testing.T) {
	uc, _ := newVerificationForTest(t)

	reply, err := uc.HandleCancel(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "no active submission") {
		t.Errorf("expected no-op reply, got %q", reply)
	}
}

func TestHandleCancelReleasesEverything(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.users.getFunc = func(ctx context.Context, userID int64) (*domain.User, error) {
		return &domain.User{UserID: userID, PendingPhone: testPhone}, nil
	}
	deps.verifier.abortFunc = func(ctx context.Context, userID int64) (string, error) {
		return "", nil
	}

	reply, err := uc.HandleCancel(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Cancelled") {
		t.Errorf("expected cancellation reply, got %q", reply)
	}
	if len(deps.used.unmarked) != 1 || deps.used.unmarked[0] != testPhone {
		t.Errorf("expected number released, got %v", deps.used.unmarked)
	}
	if len(deps.sessions.removed) != 1 {
		t.Errorf("expected session files removed, got %v", deps.sessions.removed)
	}
	if len(deps.pending.deletedUsers) != 1 {
		t.Errorf("expected pending records deleted, got %v", deps.pending.deletedUsers)
	}
}

func TestAutoCancelStale(t *testing.T) {
	uc, deps := newVerificationForTest(t)
	deps.pending.listStaleFunc = func(ctx context.Context, maxAge time.Duration) ([]domain.PendingNumber, error) {
		return []domain.PendingNumber{{
			ID:          "pending-1",
			UserID:      testUserID,
			PhoneNumber: testPhone,
		}}, nil
	}

	count, err := uc.AutoCancelStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 cancellation, got %d", count)
	}
	if len(deps.pending.autoCancelled) != 1 || deps.pending.autoCancelled[0] != "pending-1" {
		t.Errorf("expected pending-1 auto-cancelled, got %v", deps.pending.autoCancelled)
	}
	if len(deps.used.unmarked) != 1 {
		t.Errorf("expected number released, got %v", deps.used.unmarked)
	}

	// The user and the admin both get notified.
	foundAdmin := false
	for _, chatID := range deps.notifier.chats {
		if chatID == 99 {
			foundAdmin = true
		}
	}
	if !foundAdmin {
		t.Errorf("expected admin notification, chats %v", deps.notifier.chats)
	}
	if len(deps.audit.events) != 1 || deps.audit.events[0].Kind != "auto_cancelled" {
		t.Errorf("expected auto_cancelled audit event, got %v", deps.audit.events)
	}
}

func TestClaimWait(t *testing.T) {
	cases := []struct {
		claimTime int
		want      time.Duration
	}{
		{600, 590 * time.Second},
		{30, 20 * time.Second},
		{15, 10 * time.Second},
		{5, 10 * time.Second},
		{0, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := claimWait(tc.claimTime); got != tc.want {
			t.Errorf("claimWait(%d) = %s, want %s", tc.claimTime, got, tc.want)
		}
	}
}
