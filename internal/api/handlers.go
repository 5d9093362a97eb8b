package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/pkg/httputil"
	"github.com/cipheracademy/dispatch/internal/service/delivery"
	"github.com/cipheracademy/dispatch/internal/service/progress"
	"github.com/cipheracademy/dispatch/internal/service/welcome"
	"github.com/cipheracademy/dispatch/internal/worker"
)

// SchedulerStatus exposes the trigger scheduler's snapshot to the admin API.
type SchedulerStatus interface {
	Status() worker.Status
}

// Handlers carries the service dependencies for all HTTP endpoints.
type Handlers struct {
	delivery  *delivery.Orchestrator
	welcome   *welcome.Service
	progress  *progress.Service
	scheduler SchedulerStatus // nil when running without the background scheduler
}

// NewHandlers creates the handler set. scheduler may be nil.
func NewHandlers(d *delivery.Orchestrator, w *welcome.Service, p *progress.Service, s SchedulerStatus) *Handlers {
	return &Handlers{delivery: d, welcome: w, progress: p, scheduler: s}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// RunPeriod manually fires one delivery period. It goes through the same
// idempotent path as the scheduler, so re-running a completed period only
// skips.
func (h *Handlers) RunPeriod(w http.ResponseWriter, r *http.Request) {
	day, ok := domain.ParseDayOfWeek(chi.URLParam(r, "day"))
	if !ok {
		httputil.BadRequest(w, "day must be Sunday, Wednesday, or Friday")
		return
	}

	result, err := h.delivery.RunPeriod(r.Context(), day)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, result)
}

// ProcessWelcomeEmails manually drains the welcome queue.
func (h *Handlers) ProcessWelcomeEmails(w http.ResponseWriter, r *http.Request) {
	sent, err := h.welcome.ProcessPending(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"sent": sent})
}

// GetSchedulerStatus returns the trigger scheduler snapshot.
func (h *Handlers) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		httputil.OK(w, map[string]any{"running": false})
		return
	}
	httputil.OK(w, h.scheduler.Status())
}

// inboundEvent is one provider webhook event. SendGrid posts sg_message_id;
// the generic field name is accepted too.
type inboundEvent struct {
	ProviderMessageID string `json:"provider_message_id"`
	SGMessageID       string `json:"sg_message_id"`
	Event             string `json:"event"`
	Timestamp         int64  `json:"timestamp"`
}

func (e inboundEvent) messageID() string {
	if e.ProviderMessageID != "" {
		return e.ProviderMessageID
	}
	return e.SGMessageID
}

// EmailEvents ingests a provider webhook batch. Unknown events and message
// ids are skipped silently; the provider retries whole batches on non-2xx,
// so per-event problems must not fail the request. Events that hit a
// repository error are counted as failed and the rest of the batch still
// applies; the provider's next replay retries them through the same
// monotonic path.
func (h *Handlers) EmailEvents(w http.ResponseWriter, r *http.Request) {
	var events []inboundEvent
	if !httputil.Decode(w, r, &events) {
		return
	}

	processed, failed := 0, 0
	for _, ev := range events {
		if ev.messageID() == "" || ev.Event == "" {
			continue
		}
		var at time.Time
		if ev.Timestamp > 0 {
			at = time.Unix(ev.Timestamp, 0)
		}
		err := h.welcome.ApplyEmailEvent(r.Context(), domain.EmailEvent{
			ProviderMessageID: ev.messageID(),
			Event:             domain.EmailEventType(ev.Event),
			Timestamp:         at,
		})
		if err != nil {
			log.Printf("[API] email event %s for message %s failed: %v", ev.Event, ev.messageID(), err)
			failed++
			continue
		}
		processed++
	}
	httputil.OK(w, map[string]int{"processed": processed, "failed": failed})
}

// WelcomeStats returns series counters, scoped by the optional user_id
// query parameter.
func (h *Handlers) WelcomeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.welcome.Stats(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// ResendWelcomeEmail reschedules one series email for the next drain.
func (h *Handlers) ResendWelcomeEmail(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil || seq < 1 {
		httputil.BadRequest(w, "sequence must be a positive integer")
		return
	}

	if err := h.welcome.Resend(r.Context(), userID, seq); err != nil {
		if errors.Is(err, welcome.ErrNotFound) {
			httputil.NotFound(w, "welcome email not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]any{
		"user_id":  userID,
		"sequence": seq,
		"status":   string(domain.WelcomeScheduled),
	})
}

// ScheduleWelcomeSeries schedules the onboarding series for a subscriber.
// The account subsystem calls this at signup; re-calls only fill sequence
// positions that are not scheduled yet.
func (h *Handlers) ScheduleWelcomeSeries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	n, err := h.welcome.Onboard(r.Context(), userID)
	if err != nil {
		if errors.Is(err, welcome.ErrNotFound) {
			httputil.NotFound(w, "subscriber not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]any{"user_id": userID, "scheduled": n})
}

// WelcomeProgress returns a subscriber's per-sequence series rows.
func (h *Handlers) WelcomeProgress(w http.ResponseWriter, r *http.Request) {
	rows, err := h.welcome.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"emails": rows, "total": len(rows)})
}

// SubmitChallenge grades one answer attempt.
func (h *Handlers) SubmitChallenge(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id query parameter is required")
		return
	}

	var in progress.SubmitInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.SubscriberID = userID

	res, err := h.progress.SubmitAnswer(r.Context(), in)
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			httputil.NotFound(w, "challenge not found")
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, res)
}

// UserProgress returns a subscriber's progress record.
func (h *Handlers) UserProgress(w http.ResponseWriter, r *http.Request) {
	rec, err := h.progress.GetProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// WeekChallenges lists a week's published items, answers omitted.
func (h *Handlers) WeekChallenges(w http.ResponseWriter, r *http.Request) {
	week, err := strconv.Atoi(chi.URLParam(r, "week"))
	if err != nil || week < 1 {
		httputil.BadRequest(w, "week must be a positive integer")
		return
	}

	items, err := h.progress.WeekChallenges(r.Context(), week)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"week": week, "challenges": items, "total": len(items)})
}
