package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"chargepay/backend/services/payments-service/internal/clients/checkout"
	"chargepay/backend/services/payments-service/internal/clients/oracle"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/repository"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

const (
	evmWallet = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"
	testUser  = "user-1"
)

type memSessions struct {
	mu       sync.Mutex
	sessions []*models.Session
	now      func() time.Time
}

func (s *memSessions) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = fmt.Sprintf("sess-%d", len(s.sessions)+1)
	}
	session.CreatedAt = s.now()
	session.UpdatedAt = session.CreatedAt
	copied := *session
	s.sessions = append(s.sessions, &copied)
	return nil
}

func (s *memSessions) GetByID(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.ID == id {
			copied := *session
			return &copied, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (s *memSessions) Finish(_ context.Context, id, status string, finalCost decimal.Decimal) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.ID == id && session.Status == models.SessionStatusInProgress {
			session.Status = status
			session.FinalCost = finalCost
			session.UpdatedAt = s.now()
			copied := *session
			return &copied, nil
		}
	}
	return nil, repository.ErrSessionNotInProgress
}

func (s *memSessions) ListByUser(_ context.Context, userID string, limit int) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, 0)
	for i := len(s.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.sessions[i].UserID == userID {
			out = append(out, *s.sessions[i])
		}
	}
	return out, nil
}

func (s *memSessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type memChecks struct {
	mu      sync.Mutex
	checks  []*models.BalanceCheck
	saves   int
	saveErr error
	now     func() time.Time
}

func (s *memChecks) Save(_ context.Context, check *models.BalanceCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	if check.ID == "" {
		check.ID = fmt.Sprintf("bc-%d", len(s.checks)+1)
	}
	if check.CreatedAt.IsZero() {
		check.CreatedAt = s.now()
	}
	check.UpdatedAt = check.CreatedAt
	copied := *check
	s.checks = append(s.checks, &copied)
	return nil
}

func (s *memChecks) GetByID(_ context.Context, id string) (*models.BalanceCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.checks {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, repository.ErrBalanceCheckNotFound
}

func (s *memChecks) ListByUser(_ context.Context, userID string, limit int) ([]models.BalanceCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	out := make([]models.BalanceCheck, 0)
	for _, c := range s.checks {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memChecks) LatestSufficient(_ context.Context, userID, walletAddress, chain string, amount decimal.Decimal, since time.Time) (*models.BalanceCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.BalanceCheck
	for _, c := range s.checks {
		if c.UserID != userID || c.WalletAddress != walletAddress || c.Chain != chain ||
			!c.RequestedAmount.Equal(amount) || c.Status != models.BalanceStatusSufficient || !c.CreatedAt.After(since) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *memChecks) all() []models.BalanceCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BalanceCheck, 0, len(s.checks))
	for _, c := range s.checks {
		out = append(out, *c)
	}
	return out
}

type memLinks struct {
	mu        sync.Mutex
	links     []*models.PaymentLink
	updateErr error
	now       func() time.Time
}

func (s *memLinks) CreateSupersedingPending(_ context.Context, link *models.PaymentLink) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired int64
	for _, l := range s.links {
		if l.SessionID == link.SessionID && l.Status == models.LinkStatusPending {
			l.Status = models.LinkStatusExpired
			expired++
		}
	}
	if link.ID == "" {
		link.ID = fmt.Sprintf("link-%d", len(s.links)+1)
	}
	link.CreatedAt = s.now()
	link.UpdatedAt = link.CreatedAt
	copied := *link
	s.links = append(s.links, &copied)
	return expired, nil
}

func (s *memLinks) Latest(_ context.Context, sessionID string) (*models.PaymentLink, error) {
	return s.latest(func(l *models.PaymentLink) bool { return l.SessionID == sessionID })
}

func (s *memLinks) LatestWithStatus(_ context.Context, sessionID, status string) (*models.PaymentLink, error) {
	return s.latest(func(l *models.PaymentLink) bool { return l.SessionID == sessionID && l.Status == status })
}

func (s *memLinks) GetByCheckoutRef(_ context.Context, checkoutRef string) (*models.PaymentLink, error) {
	return s.latest(func(l *models.PaymentLink) bool { return l.CheckoutRef == checkoutRef })
}

func (s *memLinks) ListBySession(_ context.Context, sessionID string) ([]models.PaymentLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PaymentLink, 0)
	for i := len(s.links) - 1; i >= 0; i-- {
		if s.links[i].SessionID == sessionID {
			out = append(out, *s.links[i])
		}
	}
	return out, nil
}

func (s *memLinks) UpdateStatus(_ context.Context, id, fromStatus string, update repository.LinkUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return false, s.updateErr
	}
	for _, l := range s.links {
		if l.ID == id && l.Status == fromStatus {
			l.Status = update.Status
			if update.PaymentIntentRef != nil {
				ref := *update.PaymentIntentRef
				l.PaymentIntentRef = &ref
			}
			l.Metadata = update.Metadata
			l.UpdatedAt = s.now()
			return true, nil
		}
	}
	return false, nil
}

func (s *memLinks) latest(match func(*models.PaymentLink) bool) (*models.PaymentLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.links) - 1; i >= 0; i-- {
		if match(s.links[i]) {
			copied := *s.links[i]
			return &copied, nil
		}
	}
	return nil, repository.ErrLinkNotFound
}

func (s *memLinks) add(link models.PaymentLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.ID == "" {
		link.ID = fmt.Sprintf("link-%d", len(s.links)+1)
	}
	s.links = append(s.links, &link)
}

func (s *memLinks) forSession(sessionID string) []models.PaymentLink {
	links, _ := s.ListBySession(context.Background(), sessionID)
	return links
}

type fakeOracle struct {
	mu       sync.Mutex
	balances oracle.Balances
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeOracle) GetBalances(ctx context.Context, _, _ string) (oracle.Balances, error) {
	f.mu.Lock()
	f.calls++
	balances, err, delay := f.balances, f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return oracle.Balances{}, ctx.Err()
		}
	}
	return balances, err
}

type fakeCheckout struct {
	mu        sync.Mutex
	created   []checkout.Request
	createErr error
	snapshot  *checkout.Checkout
	refund    *checkout.Refund
	refundErr error
	refunded  []string
	event     *checkout.Event
	verifyErr error
}

func (f *fakeCheckout) CreateCheckout(_ context.Context, req checkout.Request) (*checkout.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	n := len(f.created)
	return &checkout.Checkout{
		Ref:       fmt.Sprintf("cs_test_%d", n),
		URL:       fmt.Sprintf("https://checkout.example.com/cs_test_%d", n),
		Status:    checkout.StatusOpen,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

func (f *fakeCheckout) GetCheckout(_ context.Context, ref string) (*checkout.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return nil, errors.New("no snapshot")
	}
	snapshot := *f.snapshot
	snapshot.Ref = ref
	return &snapshot, nil
}

func (f *fakeCheckout) Refund(_ context.Context, paymentIntentRef string) (*checkout.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunded = append(f.refunded, paymentIntentRef)
	return f.refund, nil
}

func (f *fakeCheckout) VerifyAndParse(_ []byte, _ string) (*checkout.Event, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.event, nil
}

func (f *fakeCheckout) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type memProcessed struct {
	mu      sync.Mutex
	ids     map[string]string
	seenErr error
}

func (m *memProcessed) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenErr != nil {
		return false, m.seenErr
	}
	_, ok := m.ids[eventID]
	return ok, nil
}

func (m *memProcessed) MarkProcessed(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = make(map[string]string)
	}
	m.ids[eventID] = eventType
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	links []models.PaymentLink
}

func (n *recordingNotifier) NotifyLink(link *models.PaymentLink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, *link)
}

type harness struct {
	sessions  *memSessions
	checks    *memChecks
	links     *memLinks
	oracle    *fakeOracle
	checkout  *fakeCheckout
	processed *memProcessed
	notifier  *recordingNotifier
	logs      *observer.ObservedLogs

	verifier   *BalanceVerifier
	manager    *PaymentLinkManager
	lifecycle  *SessionLifecycle
	reconciler *WebhookReconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := func() time.Time { return testNow }
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	h := &harness{
		sessions:  &memSessions{now: now},
		checks:    &memChecks{now: now},
		links:     &memLinks{now: now},
		oracle:    &fakeOracle{},
		checkout:  &fakeCheckout{},
		processed: &memProcessed{},
		notifier:  &recordingNotifier{},
		logs:      logs,
	}

	providers := NewProviders().
		Register(ProviderStripe, h.oracle).
		Register(ProviderCoinbaseCDP, h.oracle)

	h.verifier = NewBalanceVerifier(providers, h.checks, 200*time.Millisecond, nil, logger)
	h.verifier.now = now
	h.manager = NewPaymentLinkManager(h.links, h.checkout, LinkConfig{CardPaymentsEnabled: true}, h.notifier, nil, logger)
	h.manager.now = now
	h.lifecycle = NewSessionLifecycle(h.sessions, h.verifier, h.manager, SessionConfig{}, nil, logger)
	h.lifecycle.now = now
	h.reconciler = NewWebhookReconciler(h.checkout, h.manager, h.processed, nil, logger)
	h.reconciler.now = now
	return h
}

func (h *harness) inProgressSession(t *testing.T) *models.Session {
	t.Helper()
	session := &models.Session{
		UserID:    testUser,
		ChargerID: "charger-7",
		Status:    models.SessionStatusInProgress,
		FinalCost: decimal.Zero,
	}
	if err := h.sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (h *harness) completedSession(t *testing.T, cost string) *models.Session {
	t.Helper()
	session := h.inProgressSession(t)
	finished, err := h.sessions.Finish(context.Background(), session.ID, models.SessionStatusCompleted, decimal.RequireFromString(cost))
	if err != nil {
		t.Fatalf("finish session: %v", err)
	}
	return finished
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string {
	return &s
}
