package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/service/delivery"
	"github.com/cipheracademy/dispatch/internal/service/progress"
	"github.com/cipheracademy/dispatch/internal/service/welcome"
)

// fakeStore backs every repository interface the handlers reach through
// their services. State is preloaded per test; no locking needed because
// httptest serves requests synchronously here.
type fakeStore struct {
	subscribers []domain.Subscriber
	items       map[string]*domain.ContentItem
	ledger      map[string]bool
	emails      map[string]*domain.WelcomeEmail // keyed by id
	templates   []domain.WelcomeTemplate
	submissions []domain.Submission
	records     map[string]*domain.ProgressRecord
	providerErr map[string]error // lookup failures by provider message id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:       make(map[string]*domain.ContentItem),
		ledger:      make(map[string]bool),
		emails:      make(map[string]*domain.WelcomeEmail),
		records:     make(map[string]*domain.ProgressRecord),
		providerErr: make(map[string]error),
	}
}

func key(week int, day domain.DayOfWeek) string {
	return string(day) + "/" + strconv.Itoa(week)
}

func (f *fakeStore) ListActiveWithContact(_ context.Context) ([]domain.Subscriber, error) {
	return f.subscribers, nil
}

func (f *fakeStore) GetItem(_ context.Context, week int, day domain.DayOfWeek) (*domain.ContentItem, error) {
	it, ok := f.items[key(week, day)]
	if !ok {
		return nil, progress.ErrNotFound
	}
	return it, nil
}

func (f *fakeStore) ListWeek(_ context.Context, week int) ([]domain.ContentItem, error) {
	var out []domain.ContentItem
	for _, day := range domain.DeliveryDays {
		if it, ok := f.items[key(week, day)]; ok {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStore) HasCorrectSubmission(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

func (f *fakeStore) HasDelivery(_ context.Context, id string, week int, day domain.DayOfWeek) (bool, error) {
	return f.ledger[id+key(week, day)], nil
}

func (f *fakeStore) RecordDelivery(_ context.Context, rec domain.DeliveryRecord) error {
	f.ledger[rec.SubscriberID+key(rec.WeekNumber, rec.DayOfWeek)] = true
	return nil
}

func (f *fakeStore) ListDue(_ context.Context, _ time.Time, _ int) ([]domain.WelcomeEmail, error) {
	return nil, nil
}

func (f *fakeStore) Get(_ context.Context, subscriberID string, seq int) (*domain.WelcomeEmail, error) {
	for _, e := range f.emails {
		if e.SubscriberID == subscriberID && e.SequenceNumber == seq {
			return e, nil
		}
	}
	return nil, welcome.ErrNotFound
}

func (f *fakeStore) GetByProviderMessageID(_ context.Context, messageID string) (*domain.WelcomeEmail, error) {
	if err := f.providerErr[messageID]; err != nil {
		return nil, err
	}
	for _, e := range f.emails {
		if e.ProviderMessageID == messageID {
			return e, nil
		}
	}
	return nil, welcome.ErrNotFound
}

func (f *fakeStore) Schedule(_ context.Context, rows []domain.WelcomeEmail) (int, error) {
	inserted := 0
	for _, row := range rows {
		if _, err := f.Get(context.Background(), row.SubscriberID, row.SequenceNumber); err == nil {
			continue
		}
		cp := row
		f.emails[row.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) MarkSent(_ context.Context, _, _ string, _ time.Time) error { return nil }

func (f *fakeStore) MarkFailed(_ context.Context, _, _ string) error { return nil }

func (f *fakeStore) ApplyEvent(_ context.Context, id string, status domain.WelcomeStatus, at time.Time) error {
	if e, ok := f.emails[id]; ok && e.Status.CanAdvanceTo(status) {
		e.Status = status
	}
	return nil
}

func (f *fakeStore) ResetToScheduled(_ context.Context, id string, at time.Time) error {
	e, ok := f.emails[id]
	if !ok {
		return welcome.ErrNotFound
	}
	e.Status = domain.WelcomeScheduled
	e.SentAt = nil
	e.ErrorMessage = ""
	return nil
}

func (f *fakeStore) ListBySubscriber(_ context.Context, subscriberID string) ([]domain.WelcomeEmail, error) {
	var out []domain.WelcomeEmail
	for _, e := range f.emails {
		if e.SubscriberID == subscriberID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) CountByStatus(_ context.Context, subscriberID string) (map[domain.WelcomeStatus]int, error) {
	counts := make(map[domain.WelcomeStatus]int)
	for _, e := range f.emails {
		if subscriberID != "" && e.SubscriberID != subscriberID {
			continue
		}
		counts[e.Status]++
	}
	return counts, nil
}

func (f *fakeStore) GetActive(_ context.Context, seq int) (*domain.WelcomeTemplate, error) {
	for _, t := range f.templates {
		if t.SequenceNumber == seq {
			return &t, nil
		}
	}
	return nil, welcome.ErrNotFound
}

func (f *fakeStore) ListActive(_ context.Context) ([]domain.WelcomeTemplate, error) {
	return f.templates, nil
}

func (f *fakeStore) Create(_ context.Context, s *domain.Submission) error {
	f.submissions = append(f.submissions, *s)
	return nil
}

func (f *fakeStore) GetProgress(_ context.Context, subscriberID string) (*domain.ProgressRecord, error) {
	rec, ok := f.records[subscriberID]
	if !ok {
		return nil, progress.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Upsert(_ context.Context, rec *domain.ProgressRecord) error {
	cp := *rec
	f.records[rec.SubscriberID] = &cp
	return nil
}

// subscriberGetter satisfies welcome.SubscriberReader against the fake store.
type subscriberGetter struct{ *fakeStore }

func (g subscriberGetter) Get(_ context.Context, id string) (*domain.Subscriber, error) {
	for _, s := range g.subscribers {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, welcome.ErrNotFound
}

type okSender struct{}

func (okSender) Send(_ context.Context, _ string, _ domain.RenderedMessage) (*domain.SendResult, error) {
	return &domain.SendResult{OK: true, ProviderMessageID: "prov-1", SentAt: time.Now()}, nil
}

func setupTestServer(t *testing.T, store *fakeStore) http.Handler {
	t.Helper()

	renderer := delivery.NewRenderer("https://cipher-academy.com", 200)
	orch := delivery.NewOrchestrator(store, store, store, store, okSender{}, nil, renderer)

	personalizer := welcome.NewPersonalizer("https://cipher-academy.com")
	welcomeSvc := welcome.NewService(store, store, subscriberGetter{store}, store, okSender{}, personalizer)

	progressSvc := progress.NewService(store, store, store)

	h := NewHandlers(orch, welcomeSvc, progressSvc, nil)
	return SetupRoutes(h)
}

func TestHealthCheck(t *testing.T) {
	handler := setupTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestRunPeriodInvalidDay(t *testing.T) {
	handler := setupTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/run-period/Tuesday", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunPeriodDelivers(t *testing.T) {
	store := newFakeStore()
	store.subscribers = []domain.Subscriber{
		{ID: "user-1", Email: "alice@test.com", IsActive: true, CurrentWeek: 1},
	}
	store.items[key(1, domain.DaySunday)] = &domain.ContentItem{
		ID: "item-1", WeekNumber: 1, DayOfWeek: domain.DaySunday,
		Title: "The Caesar Shift", Body: "Decrypt: KHOOR", Answer: "HELLO", PointsValue: 100,
	}
	handler := setupTestServer(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/run-period/sunday", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
}

func TestSchedulerStatusWithoutScheduler(t *testing.T) {
	handler := setupTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/scheduler/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["running"])
}

func TestEmailEventsWebhook(t *testing.T) {
	store := newFakeStore()
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 1,
		Status: domain.WelcomeSent, ProviderMessageID: "prov-1",
	}
	handler := setupTestServer(t, store)

	payload := `[
		{"sg_message_id":"prov-1","event":"open","timestamp":1756700000},
		{"sg_message_id":"never-sent","event":"click","timestamp":1756700001},
		{"sg_message_id":"","event":"open"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/email-events", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// The blank message id is skipped; the unknown one is tolerated.
	assert.Equal(t, 2, body["processed"])
	assert.Equal(t, domain.WelcomeOpened, store.emails["e1"].Status)
}

func TestEmailEventsWebhookPartialFailure(t *testing.T) {
	store := newFakeStore()
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 1,
		Status: domain.WelcomeSent, ProviderMessageID: "prov-1",
	}
	store.providerErr["prov-bad"] = errors.New("connection reset by peer")
	handler := setupTestServer(t, store)

	// The failing lookup comes first so the batch proves it keeps going.
	payload := `[
		{"sg_message_id":"prov-bad","event":"open","timestamp":1756700000},
		{"sg_message_id":"prov-1","event":"open","timestamp":1756700001}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/email-events", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body["processed"])
	assert.Equal(t, 1, body["failed"])
	assert.Equal(t, domain.WelcomeOpened, store.emails["e1"].Status)
}

func TestScheduleWelcomeSeries(t *testing.T) {
	store := newFakeStore()
	store.subscribers = []domain.Subscriber{
		{ID: "user-1", Email: "alice@test.com", IsActive: true, CreatedAt: time.Now()},
	}
	store.templates = []domain.WelcomeTemplate{
		{SequenceNumber: 1, Subject: "Welcome", TextContent: "hi", IsActive: true},
		{SequenceNumber: 2, Subject: "Day two", TextContent: "hi again", DelayHours: 48, IsActive: true},
	}
	handler := setupTestServer(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/welcome-emails/schedule/user-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["scheduled"])

	// Scheduling again fills nothing new.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/welcome-emails/schedule/user-1", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["scheduled"])
}

func TestScheduleWelcomeSeriesUnknownSubscriber(t *testing.T) {
	handler := setupTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/api/welcome-emails/schedule/ghost", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResendNotFound(t *testing.T) {
	handler := setupTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/api/welcome-emails/resend/ghost/1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResendAccepted(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.emails["e1"] = &domain.WelcomeEmail{
		ID: "e1", SubscriberID: "user-1", SequenceNumber: 2,
		Status: domain.WelcomeFailed, SentAt: &now, ErrorMessage: "bounced",
	}
	handler := setupTestServer(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/welcome-emails/resend/user-1/2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.WelcomeScheduled, store.emails["e1"].Status)
}

func TestSubmitChallengeRequiresUserID(t *testing.T) {
	handler := setupTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/api/submissions", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitChallengeGrades(t *testing.T) {
	store := newFakeStore()
	store.items[key(1, domain.DaySunday)] = &domain.ContentItem{
		ID: "item-1", WeekNumber: 1, DayOfWeek: domain.DaySunday,
		Title: "The Caesar Shift", Body: "Decrypt: KHOOR", Answer: "HELLO", PointsValue: 100,
	}
	handler := setupTestServer(t, store)

	payload := `{"week_number":1,"day_of_week":"Sunday","answer":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/submissions?user_id=user-1", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res progress.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Correct)
	assert.Equal(t, 100, res.PointsEarned)
}

func TestWeekChallengesHidesAnswers(t *testing.T) {
	store := newFakeStore()
	store.items[key(2, domain.DayFriday)] = &domain.ContentItem{
		ID: "item-1", WeekNumber: 2, DayOfWeek: domain.DayFriday,
		Title: "Vigenere", Body: "Decrypt this", Answer: "SECRET", PointsValue: 150,
	}
	handler := setupTestServer(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/challenges/week/2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "SECRET")
	assert.Contains(t, rec.Body.String(), "Vigenere")
}

func TestWeekChallengesInvalidWeek(t *testing.T) {
	handler := setupTestServer(t, newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/api/challenges/week/0", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWelcomeStats(t *testing.T) {
	store := newFakeStore()
	store.emails["e1"] = &domain.WelcomeEmail{ID: "e1", SubscriberID: "u1", Status: domain.WelcomeDelivered}
	store.emails["e2"] = &domain.WelcomeEmail{ID: "e2", SubscriberID: "u1", Status: domain.WelcomeOpened}
	handler := setupTestServer(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/welcome-emails/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stats domain.WelcomeStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalEmails)
	assert.Equal(t, 2, stats.DeliveredCount)
	assert.Equal(t, 50.0, stats.OpenRate)
}
