package welcome_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/service/welcome"
)

// memStore backs every welcome repository interface for unit testing.
type memStore struct {
	mu          sync.Mutex
	emails      map[string]*domain.WelcomeEmail // keyed by id
	templates   []domain.WelcomeTemplate
	subscribers map[string]*domain.Subscriber
	progress    map[string]*domain.ProgressRecord
}

func newMemStore() *memStore {
	return &memStore{
		emails:      make(map[string]*domain.WelcomeEmail),
		subscribers: make(map[string]*domain.Subscriber),
		progress:    make(map[string]*domain.ProgressRecord),
	}
}

func (m *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.WelcomeEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WelcomeEmail
	for _, e := range m.emails {
		if e.Status == domain.WelcomeScheduled && !e.ScheduledAt.After(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, subscriberID string, sequence int) (*domain.WelcomeEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.emails {
		if e.SubscriberID == subscriberID && e.SequenceNumber == sequence {
			cp := *e
			return &cp, nil
		}
	}
	return nil, welcome.ErrNotFound
}

func (m *memStore) GetByProviderMessageID(_ context.Context, messageID string) (*domain.WelcomeEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.emails {
		if e.ProviderMessageID == messageID && messageID != "" {
			cp := *e
			return &cp, nil
		}
	}
	return nil, welcome.ErrNotFound
}

func (m *memStore) Schedule(_ context.Context, rows []domain.WelcomeEmail) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, row := range rows {
		dup := false
		for _, e := range m.emails {
			if e.SubscriberID == row.SubscriberID && e.SequenceNumber == row.SequenceNumber {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		cp := row
		m.emails[cp.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (m *memStore) MarkSent(_ context.Context, id, providerMessageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return welcome.ErrNotFound
	}
	e.Status = domain.WelcomeSent
	e.SentAt = &at
	e.ProviderMessageID = providerMessageID
	e.ErrorMessage = ""
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return welcome.ErrNotFound
	}
	e.Status = domain.WelcomeFailed
	e.ErrorMessage = reason
	return nil
}

func (m *memStore) ApplyEvent(_ context.Context, id string, status domain.WelcomeStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return welcome.ErrNotFound
	}
	if !e.Status.CanAdvanceTo(status) {
		return nil
	}
	e.Status = status
	switch status {
	case domain.WelcomeOpened:
		e.OpenedAt = &at
	case domain.WelcomeClicked:
		e.ClickedAt = &at
	}
	return nil
}

func (m *memStore) ResetToScheduled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return welcome.ErrNotFound
	}
	e.Status = domain.WelcomeScheduled
	e.ScheduledAt = at
	e.SentAt = nil
	e.ErrorMessage = ""
	return nil
}

func (m *memStore) ListBySubscriber(_ context.Context, subscriberID string) ([]domain.WelcomeEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WelcomeEmail
	for _, e := range m.emails {
		if e.SubscriberID == subscriberID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *memStore) CountByStatus(_ context.Context, subscriberID string) (map[domain.WelcomeStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.WelcomeStatus]int)
	for _, e := range m.emails {
		if subscriberID != "" && e.SubscriberID != subscriberID {
			continue
		}
		counts[e.Status]++
	}
	return counts, nil
}

func (m *memStore) GetActive(_ context.Context, sequence int) (*domain.WelcomeTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.SequenceNumber == sequence && t.IsActive {
			cp := t
			return &cp, nil
		}
	}
	return nil, welcome.ErrNotFound
}

func (m *memStore) ListActive(_ context.Context) ([]domain.WelcomeTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WelcomeTemplate
	for _, t := range m.templates {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *memStore) GetSubscriber(_ context.Context, id string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[id]
	if !ok {
		return nil, welcome.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetProgress(_ context.Context, subscriberID string) (*domain.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[subscriberID]
	if !ok {
		return nil, welcome.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// subscriberReader adapts memStore to the narrower SubscriberReader.
type subscriberReader struct{ *memStore }

func (r subscriberReader) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	return r.GetSubscriber(ctx, id)
}

// fakeSender records sends; a non-empty failReason scripts failure.
type fakeSender struct {
	mu         sync.Mutex
	sent       []domain.RenderedMessage
	recipients []string
	failReason string
	nextID     int
}

func (f *fakeSender) Send(_ context.Context, to string, msg domain.RenderedMessage) (*domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReason != "" {
		return &domain.SendResult{OK: false, Class: domain.FailurePermanent, Reason: f.failReason}, nil
	}
	f.sent = append(f.sent, msg)
	f.recipients = append(f.recipients, to)
	f.nextID++
	return &domain.SendResult{OK: true, ProviderMessageID: fmt.Sprintf("prov-%d", f.nextID), SentAt: time.Now()}, nil
}

func setup(store *memStore) (*welcome.Service, *fakeSender) {
	sender := &fakeSender{}
	p := welcome.NewPersonalizer("https://cipher-academy.com")
	svc := welcome.NewService(store, store, subscriberReader{store}, store, sender, p)
	return svc, sender
}

func seedTemplates(store *memStore) {
	store.templates = []domain.WelcomeTemplate{
		{SequenceNumber: 1, Name: "welcome", Subject: "Welcome, {{ user_name }}!",
			HTMLContent: "<p>Hello {{ user_name }}</p>", TextContent: "Hello {{ user_name }}",
			DelayHours: 0, RequiredVars: []string{"user_name"}, IsActive: true},
		{SequenceNumber: 2, Name: "first-week", Subject: "Level {{ current_level }} awaits",
			HTMLContent: "<p>{{ weeks_completed }} weeks in, {{ accuracy_rate }}% accuracy</p>",
			TextContent: "{{ weeks_completed }} weeks in", DelayHours: 48, IsActive: true},
	}
}

func seedSubscriber(store *memStore, id, email string) {
	store.subscribers[id] = &domain.Subscriber{
		ID: id, Email: email, IsActive: true, CurrentWeek: 1,
		CreatedAt: time.Now().Add(-72 * time.Hour),
	}
}

func TestOnboardSchedulesSeries(t *testing.T) {
	store := newMemStore()
	seedTemplates(store)
	seedSubscriber(store, "user-1", "alice@test.com")

	svc, _ := setup(store)
	n, err := svc.Onboard(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 scheduled, got %d", n)
	}

	rows, _ := svc.Progress(context.Background(), "user-1")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if got := rows[1].ScheduledAt.Sub(rows[0].ScheduledAt); got != 48*time.Hour {
		t.Fatalf("expected 48h between sequence emails, got %v", got)
	}
}

func TestOnboardIdempotent(t *testing.T) {
	store := newMemStore()
	seedTemplates(store)
	seedSubscriber(store, "user-1", "alice@test.com")

	svc, _ := setup(store)
	svc.Onboard(context.Background(), "user-1")
	n, err := svc.Onboard(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second onboard: %v", err)
	}
	if n != 0 {
		t.Fatalf("second onboard must insert nothing, got %d", n)
	}
}

func TestProcessPendingSendsDue(t *testing.T) {
	store := newMemStore()
	seedTemplates(store)
	seedSubscriber(store, "user-1", "alice@test.com")
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 1,
		Status: domain.WelcomeScheduled, ScheduledAt: time.Now().Add(-time.Minute),
	}
	store.emails["e2"] = &domain.WelcomeEmail{
		ID: "e2", SubscriberID: "user-1", SequenceNumber: 2,
		Status: domain.WelcomeScheduled, ScheduledAt: time.Now().Add(time.Hour),
	}

	svc, sender := setup(store)
	sent, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if sent != 1 {
		t.Fatalf("only the due email should send, got %d", sent)
	}
	if store.emails["e1"].Status != domain.WelcomeSent || store.emails["e1"].SentAt == nil {
		t.Fatalf("e1 should be sent, got %+v", store.emails["e1"])
	}
	if store.emails["e1"].ProviderMessageID == "" {
		t.Fatal("sent row must carry the provider message id")
	}
	if store.emails["e2"].Status != domain.WelcomeScheduled {
		t.Fatal("future email must stay scheduled")
	}
	if !strings.Contains(sender.sent[0].Subject, "Alice") {
		t.Fatalf("subject should greet by name, got %q", sender.sent[0].Subject)
	}
}

func TestProcessPendingPersonalizationDefaults(t *testing.T) {
	store := newMemStore()
	seedTemplates(store)
	seedSubscriber(store, "user-1", "alice@test.com")
	// No progress row: defaults must apply.
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 2,
		Status: domain.WelcomeScheduled, ScheduledAt: time.Now().Add(-time.Minute),
	}

	svc, sender := setup(store)
	if _, err := svc.ProcessPending(context.Background()); err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].HTML, "0 weeks in, 0% accuracy") {
		t.Fatalf("defaults not applied: %q", sender.sent[0].HTML)
	}
	if !strings.Contains(sender.sent[0].Subject, "Level 1") {
		t.Fatalf("default level not applied: %q", sender.sent[0].Subject)
	}
}

func TestProcessPendingMissingVariableFails(t *testing.T) {
	store := newMemStore()
	store.templates = []domain.WelcomeTemplate{
		{SequenceNumber: 1, Name: "broken", Subject: "Hi",
			HTMLContent: "x", TextContent: "x",
			RequiredVars: []string{"secret_code"}, IsActive: true},
	}
	seedSubscriber(store, "user-1", "alice@test.com")
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 1,
		Status: domain.WelcomeScheduled, ScheduledAt: time.Now().Add(-time.Minute),
	}

	svc, sender := setup(store)
	sent, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("drain must continue past bad rows: %v", err)
	}
	if sent != 0 || len(sender.sent) != 0 {
		t.Fatal("nothing should send with a missing required variable")
	}
	if store.emails["e1"].Status != domain.WelcomeFailed {
		t.Fatalf("row should be failed, got %s", store.emails["e1"].Status)
	}
	if !strings.Contains(store.emails["e1"].ErrorMessage, "secret_code") {
		t.Fatalf("error should name the missing variable: %q", store.emails["e1"].ErrorMessage)
	}
}

func TestProcessPendingSendFailure(t *testing.T) {
	store := newMemStore()
	seedTemplates(store)
	seedSubscriber(store, "user-1", "alice@test.com")
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 1,
		Status: domain.WelcomeScheduled, ScheduledAt: time.Now().Add(-time.Minute),
	}

	svc, sender := setup(store)
	sender.failReason = "mailbox does not exist"
	sent, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if sent != 0 {
		t.Fatalf("expected 0 sent, got %d", sent)
	}
	if store.emails["e1"].Status != domain.WelcomeFailed {
		t.Fatalf("row should be failed, got %s", store.emails["e1"].Status)
	}
}

func TestApplyEmailEventAdvances(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 1,
		Status: domain.WelcomeSent, SentAt: &now, ProviderMessageID: "prov-1",
	}

	svc, _ := setup(store)
	ev := domain.EmailEvent{ProviderMessageID: "prov-1", Event: domain.EventOpened, Timestamp: now}
	if err := svc.ApplyEmailEvent(context.Background(), ev); err != nil {
		t.Fatalf("apply event: %v", err)
	}
	if store.emails["e1"].Status != domain.WelcomeOpened {
		t.Fatalf("expected opened, got %s", store.emails["e1"].Status)
	}
	if store.emails["e1"].OpenedAt == nil {
		t.Fatal("opened_at must be recorded")
	}
}

func TestApplyEmailEventOutOfOrder(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 1,
		Status: domain.WelcomeSent, SentAt: &now, ProviderMessageID: "prov-1",
	}

	svc, _ := setup(store)
	click := domain.EmailEvent{ProviderMessageID: "prov-1", Event: domain.EventClicked, Timestamp: now}
	open := domain.EmailEvent{ProviderMessageID: "prov-1", Event: domain.EventOpened, Timestamp: now.Add(-time.Minute)}

	if err := svc.ApplyEmailEvent(context.Background(), click); err != nil {
		t.Fatalf("apply click: %v", err)
	}
	if err := svc.ApplyEmailEvent(context.Background(), open); err != nil {
		t.Fatalf("apply stale open: %v", err)
	}
	if store.emails["e1"].Status != domain.WelcomeClicked {
		t.Fatalf("stale open must not regress clicked, got %s", store.emails["e1"].Status)
	}
}

func TestApplyEmailEventUnknownMessageID(t *testing.T) {
	svc, _ := setup(newMemStore())
	ev := domain.EmailEvent{ProviderMessageID: "never-sent", Event: domain.EventDelivered}
	if err := svc.ApplyEmailEvent(context.Background(), ev); err != nil {
		t.Fatalf("unknown message ids must be ignored, got %v", err)
	}
}

func TestResendResetsRow(t *testing.T) {
	store := newMemStore()
	sentAt := time.Now().Add(-time.Hour)
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 1,
		Status: domain.WelcomeFailed, SentAt: &sentAt, ErrorMessage: "bounced",
	}

	svc, _ := setup(store)
	if err := svc.Resend(context.Background(), "user-1", 1); err != nil {
		t.Fatalf("resend: %v", err)
	}
	e := store.emails["e1"]
	if e.Status != domain.WelcomeScheduled {
		t.Fatalf("expected scheduled, got %s", e.Status)
	}
	if e.SentAt != nil || e.ErrorMessage != "" {
		t.Fatal("resend must clear sent_at and error_message")
	}
}

func TestResendUnknownRow(t *testing.T) {
	svc, _ := setup(newMemStore())
	if err := svc.Resend(context.Background(), "ghost", 1); err != welcome.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatsRates(t *testing.T) {
	store := newMemStore()
	add := func(id string, status domain.WelcomeStatus) {
		store.emails[id] = &domain.WelcomeEmail{ID: id, SubscriberID: "user-1", Status: status}
	}
	add("a", domain.WelcomeSent)
	add("b", domain.WelcomeDelivered)
	add("c", domain.WelcomeDelivered)
	add("d", domain.WelcomeOpened)
	add("e", domain.WelcomeClicked)
	add("f", domain.WelcomeFailed)

	svc, _ := setup(store)
	stats, err := svc.Stats(context.Background(), "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalEmails != 6 {
		t.Fatalf("expected 6 total, got %d", stats.TotalEmails)
	}
	// delivered = 2 delivered + 1 opened + 1 clicked = 4; opened = 2; clicked = 1
	if stats.DeliveredCount != 4 || stats.OpenedCount != 2 || stats.ClickedCount != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.OpenRate != 50.0 {
		t.Fatalf("expected open rate 50.00, got %v", stats.OpenRate)
	}
	if stats.ClickRate != 25.0 {
		t.Fatalf("expected click rate 25.00, got %v", stats.ClickRate)
	}
	if stats.FailedCount != 1 {
		t.Fatalf("expected 1 failed, got %d", stats.FailedCount)
	}
}

func TestStatsEmpty(t *testing.T) {
	svc, _ := setup(newMemStore())
	stats, err := svc.Stats(context.Background(), "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.OpenRate != 0 || stats.ClickRate != 0 {
		t.Fatalf("empty series must report zero rates, got %+v", stats)
	}
}
