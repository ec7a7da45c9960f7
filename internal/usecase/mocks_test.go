package usecase

import (
	"context"
	"time"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// mockUserRepo is a mock implementation of domain.UserRepository
type mockUserRepo struct {
	getFunc        func(ctx context.Context, userID int64) (*domain.User, error)
	addBalanceFunc func(ctx context.Context, userID int64, amount float64) (float64, error)

	upserts     []map[string]interface{}
	balanceAdds []float64
	sentIncs    []int64
}

func (m *mockUserRepo) Get(ctx context.Context, userID int64) (*domain.User, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockUserRepo) Upsert(ctx context.Context, userID int64, fields map[string]interface{}) error {
	m.upserts = append(m.upserts, fields)
	return nil
}

func (m *mockUserRepo) AddBalance(ctx context.Context, userID int64, amount float64) (float64, error) {
	m.balanceAdds = append(m.balanceAdds, amount)
	if m.addBalanceFunc != nil {
		return m.addBalanceFunc(ctx, userID, amount)
	}
	return amount, nil
}

func (m *mockUserRepo) IncrementSentAccounts(ctx context.Context, userID int64) error {
	m.sentIncs = append(m.sentIncs, userID)
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, userID int64) error {
	return nil
}

// mockPendingRepo is a mock implementation of domain.PendingNumberRepository
type mockPendingRepo struct {
	upsertFunc    func(ctx context.Context, p *domain.PendingNumber) (string, error)
	listStaleFunc func(ctx context.Context, maxAge time.Duration) ([]domain.PendingNumber, error)

	statuses      map[string]domain.PendingStatus
	autoCancelled []string
	deletedUsers  []int64
}

func (m *mockPendingRepo) Upsert(ctx context.Context, p *domain.PendingNumber) (string, error) {
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, p)
	}
	return "pending-1", nil
}

func (m *mockPendingRepo) UpdateStatus(ctx context.Context, id string, status domain.PendingStatus) error {
	if m.statuses == nil {
		m.statuses = make(map[string]domain.PendingStatus)
	}
	m.statuses[id] = status
	return nil
}

func (m *mockPendingRepo) MarkBackgroundStarted(ctx context.Context, phoneNumber string) error {
	return nil
}

func (m *mockPendingRepo) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	m.deletedUsers = append(m.deletedUsers, userID)
	return 1, nil
}

func (m *mockPendingRepo) ListStaleBackground(ctx context.Context, maxAge time.Duration) ([]domain.PendingNumber, error) {
	if m.listStaleFunc != nil {
		return m.listStaleFunc(ctx, maxAge)
	}
	return nil, nil
}

func (m *mockPendingRepo) AutoCancel(ctx context.Context, id string, reason string) error {
	m.autoCancelled = append(m.autoCancelled, id)
	return nil
}

// mockUsedRepo is a mock implementation of domain.UsedNumberRepository
type mockUsedRepo struct {
	isUsedFunc func(ctx context.Context, phoneNumber string) bool
	markFunc   func(ctx context.Context, phoneNumber string, userID int64) error

	marked   []string
	unmarked []string
}

func (m *mockUsedRepo) IsUsed(ctx context.Context, phoneNumber string) bool {
	if m.isUsedFunc != nil {
		return m.isUsedFunc(ctx, phoneNumber)
	}
	return false
}

func (m *mockUsedRepo) Mark(ctx context.Context, phoneNumber string, userID int64) error {
	if m.markFunc != nil {
		if err := m.markFunc(ctx, phoneNumber, userID); err != nil {
			return err
		}
	}
	m.marked = append(m.marked, phoneNumber)
	return nil
}

func (m *mockUsedRepo) Unmark(ctx context.Context, phoneNumber string) error {
	m.unmarked = append(m.unmarked, phoneNumber)
	return nil
}

// mockCountryRepo is a mock implementation of domain.CountryRepository
type mockCountryRepo struct {
	countries map[string]domain.Country

	upserted []domain.Country
}

func (m *mockCountryRepo) GetByCode(ctx context.Context, countryCode string) (*domain.Country, error) {
	if c, ok := m.countries[countryCode]; ok {
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockCountryRepo) List(ctx context.Context) ([]domain.Country, error) {
	var out []domain.Country
	for _, c := range m.countries {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockCountryRepo) Upsert(ctx context.Context, c *domain.Country) error {
	m.upserted = append(m.upserted, *c)
	if m.countries == nil {
		m.countries = make(map[string]domain.Country)
	}
	m.countries[c.CountryCode] = *c
	return nil
}

func (m *mockCountryRepo) Delete(ctx context.Context, countryCode string) error {
	if _, ok := m.countries[countryCode]; !ok {
		return domain.ErrNotFound
	}
	delete(m.countries, countryCode)
	return nil
}

// mockWithdrawalRepo is a mock implementation of domain.WithdrawalRepository
type mockWithdrawalRepo struct {
	getPendingByUserFunc  func(ctx context.Context, userID int64) (*domain.Withdrawal, error)
	rejectByUserFunc      func(ctx context.Context, userID int64, reason string) ([]domain.Withdrawal, error)
	listPendingByCardFunc func(ctx context.Context, cardName string) ([]domain.Withdrawal, error)
	statsByCardFunc       func(ctx context.Context, cardName string) (*domain.WithdrawalStats, error)

	created       []domain.Withdrawal
	approvedUsers []int64
	approvedCards []string
}

func (m *mockWithdrawalRepo) Create(ctx context.Context, w *domain.Withdrawal) (string, error) {
	m.created = append(m.created, *w)
	return "withdrawal-1", nil
}

func (m *mockWithdrawalRepo) GetPendingByUser(ctx context.Context, userID int64) (*domain.Withdrawal, error) {
	if m.getPendingByUserFunc != nil {
		return m.getPendingByUserFunc(ctx, userID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockWithdrawalRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Withdrawal, error) {
	return nil, nil
}

func (m *mockWithdrawalRepo) ApproveByUser(ctx context.Context, userID int64) (int64, error) {
	m.approvedUsers = append(m.approvedUsers, userID)
	return 1, nil
}

func (m *mockWithdrawalRepo) RejectByUser(ctx context.Context, userID int64, reason string) ([]domain.Withdrawal, error) {
	if m.rejectByUserFunc != nil {
		return m.rejectByUserFunc(ctx, userID, reason)
	}
	return nil, nil
}

func (m *mockWithdrawalRepo) ListPendingByCard(ctx context.Context, cardName string) ([]domain.Withdrawal, error) {
	if m.listPendingByCardFunc != nil {
		return m.listPendingByCardFunc(ctx, cardName)
	}
	return nil, nil
}

func (m *mockWithdrawalRepo) ApproveByCard(ctx context.Context, cardName string) (int64, error) {
	m.approvedCards = append(m.approvedCards, cardName)
	return 1, nil
}

func (m *mockWithdrawalRepo) StatsByCard(ctx context.Context, cardName string) (*domain.WithdrawalStats, error) {
	if m.statsByCardFunc != nil {
		return m.statsByCardFunc(ctx, cardName)
	}
	return &domain.WithdrawalStats{}, nil
}

// mockCardRepo is a mock implementation of domain.CardRepository
type mockCardRepo struct {
	existsFunc func(ctx context.Context, cardName string) (bool, error)

	added   []string
	deleted []string
}

func (m *mockCardRepo) Add(ctx context.Context, cardName string) error {
	m.added = append(m.added, cardName)
	return nil
}

func (m *mockCardRepo) Exists(ctx context.Context, cardName string) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, cardName)
	}
	return true, nil
}

func (m *mockCardRepo) Delete(ctx context.Context, cardName string) error {
	m.deleted = append(m.deleted, cardName)
	return nil
}

func (m *mockCardRepo) List(ctx context.Context) ([]domain.LeaderCard, error) {
	return nil, nil
}

// mockTransactionRepo is a mock implementation of domain.TransactionRepository
type mockTransactionRepo struct {
	logged []domain.Transaction
}

func (m *mockTransactionRepo) Log(ctx context.Context, t *domain.Transaction) (string, error) {
	m.logged = append(m.logged, *t)
	return "tx-1", nil
}

func (m *mockTransactionRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	return nil, nil
}

// mockSessionStore is a mock implementation of domain.SessionStore
type mockSessionStore struct {
	tempPathFunc       func(countryCode string) (string, error)
	finalizeFunc       func(tempPath, countryCode, phoneNumber string) (string, error)
	disposableCopyFunc func(path string) (string, error)
	countByCountryFunc func() (map[string]int, error)
	purgeCountryFunc   func(countryCode string) (int, error)

	removed []string
}

func (m *mockSessionStore) TempPath(countryCode string) (string, error) {
	if m.tempPathFunc != nil {
		return m.tempPathFunc(countryCode)
	}
	return "/tmp/test-sessions/" + countryCode + "/tmp_test.session", nil
}

func (m *mockSessionStore) FinalPath(countryCode, phoneNumber string) string {
	return "/tmp/test-sessions/" + countryCode + "/" + phoneNumber + ".session"
}

func (m *mockSessionStore) Finalize(tempPath, countryCode, phoneNumber string) (string, error) {
	if m.finalizeFunc != nil {
		return m.finalizeFunc(tempPath, countryCode, phoneNumber)
	}
	return m.FinalPath(countryCode, phoneNumber), nil
}

func (m *mockSessionStore) DisposableCopy(path string) (string, error) {
	if m.disposableCopyFunc != nil {
		return m.disposableCopyFunc(path)
	}
	return path + ".check", nil
}

func (m *mockSessionStore) Remove(countryCode, phoneNumber string) error {
	m.removed = append(m.removed, countryCode+"/"+phoneNumber)
	return nil
}

func (m *mockSessionStore) CountByCountry() (map[string]int, error) {
	if m.countByCountryFunc != nil {
		return m.countByCountryFunc()
	}
	return nil, nil
}

func (m *mockSessionStore) PurgeCountry(countryCode string) (int, error) {
	if m.purgeCountryFunc != nil {
		return m.purgeCountryFunc(countryCode)
	}
	return 0, nil
}

func (m *mockSessionStore) CleanupTemp(maxAge time.Duration) (int, error) {
	return 0, nil
}

// mockVerifier is a mock implementation of domain.Verifier
type mockVerifier struct {
	requestCodeFunc    func(ctx context.Context, userID int64, phoneNumber, sessionPath string) error
	submitCodeFunc     func(ctx context.Context, userID int64, code string) (domain.CodeResult, error)
	submitPasswordFunc func(ctx context.Context, userID int64, password string) (domain.CodeResult, error)
	releaseFunc        func(ctx context.Context, userID int64) (string, string, error)
	abortFunc          func(ctx context.Context, userID int64) (string, error)
	activeStateFunc    func(userID int64) (domain.LoginState, bool)
	countDevicesFunc   func(ctx context.Context, path string) (int, error)

	aborted []int64
}

func (m *mockVerifier) RequestCode(ctx context.Context, userID int64, phoneNumber, sessionPath string) error {
	if m.requestCodeFunc != nil {
		return m.requestCodeFunc(ctx, userID, phoneNumber, sessionPath)
	}
	return nil
}

func (m *mockVerifier) SubmitCode(ctx context.Context, userID int64, code string) (domain.CodeResult, error) {
	if m.submitCodeFunc != nil {
		return m.submitCodeFunc(ctx, userID, code)
	}
	return domain.CodeResult{Status: domain.CodeStatusVerified}, nil
}

func (m *mockVerifier) SubmitPassword(ctx context.Context, userID int64, password string) (domain.CodeResult, error) {
	if m.submitPasswordFunc != nil {
		return m.submitPasswordFunc(ctx, userID, password)
	}
	return domain.CodeResult{Status: domain.CodeStatusVerified}, nil
}

func (m *mockVerifier) Release(ctx context.Context, userID int64) (string, string, error) {
	if m.releaseFunc != nil {
		return m.releaseFunc(ctx, userID)
	}
	return "", "", domain.ErrNoActiveLogin
}

func (m *mockVerifier) Abort(ctx context.Context, userID int64) (string, error) {
	if m.abortFunc != nil {
		m.aborted = append(m.aborted, userID)
		return m.abortFunc(ctx, userID)
	}
	return "", domain.ErrNoActiveLogin
}

func (m *mockVerifier) ActiveState(userID int64) (domain.LoginState, bool) {
	if m.activeStateFunc != nil {
		return m.activeStateFunc(userID)
	}
	return "", false
}

func (m *mockVerifier) ActiveCount() int {
	return 0
}

func (m *mockVerifier) CountAuthorizedDevices(ctx context.Context, path string) (int, error) {
	if m.countDevicesFunc != nil {
		return m.countDevicesFunc(ctx, path)
	}
	return 1, nil
}

// mockAudit is a mock implementation of domain.AuditPublisher
type mockAudit struct {
	events []domain.AuditEvent
}

func (m *mockAudit) Publish(ctx context.Context, event domain.AuditEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *mockAudit) IsHealthy() bool {
	return true
}

// mockNotifier is a mock implementation of domain.Notifier
type mockNotifier struct {
	sent   []string
	edited []string
	chats  []int64
}

func (m *mockNotifier) Send(ctx context.Context, chatID int64, text string) (int, error) {
	m.sent = append(m.sent, text)
	m.chats = append(m.chats, chatID)
	return len(m.sent), nil
}

func (m *mockNotifier) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	m.edited = append(m.edited, text)
	return nil
}
