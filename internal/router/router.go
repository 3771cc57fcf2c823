// Package router validates inbound event envelopes, dispatches each to the
// one mission that handles its event type and records an audit entry for
// every invocation.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/missiond/internal/storage"
	"github.com/kalambet/missiond/internal/telemetry"
)

// Missions implements one method per event type.
type Missions interface {
	ProcessMessage(ctx context.Context, env Envelope) error
	InvoiceFollowup(ctx context.Context, env Envelope) error
	ConvertLead(ctx context.Context, env Envelope) error
	SendReply(ctx context.Context, env Envelope) error
	DailyDigest(ctx context.Context, env Envelope) error
	MilestoneReminder(ctx context.Context, env Envelope) error
	ProjectStatusCheck(ctx context.Context, env Envelope) error
}

// AuditLog stores mission log records.
type AuditLog interface {
	SaveMissionLog(ctx context.Context, l storage.MissionLog) (storage.MissionLog, error)
}

// Publisher announces audit records to other services. It never fails.
type Publisher interface {
	PublishMission(ctx context.Context, l storage.MissionLog)
}

// Result is the outcome of one Route call.
type Result struct {
	Dispatched bool   `json:"dispatched"`
	Mission    string `json:"mission,omitempty"`
	Error      string `json:"error,omitempty"`

	// Status is the audit status recorded for the call.
	Status string `json:"-"`
}

// HandlerFailed reports whether a mission ran and returned an error, as
// opposed to the envelope being rejected.
func (r Result) HandlerFailed() bool {
	return !r.Dispatched && r.Mission != ""
}

type handlerFunc func(ctx context.Context, env Envelope) error

// Router dispatches envelopes to missions.
type Router struct {
	missions  Missions
	audit     AuditLog
	publisher Publisher
	metrics   *telemetry.MissionMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithPublisher publishes every audit record after it is written.
func WithPublisher(p Publisher) Option {
	return func(r *Router) { r.publisher = p }
}

// WithMetrics records mission counters and durations.
func WithMetrics(m *telemetry.MissionMetrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a Router.
func New(missions Missions, audit AuditLog, opts ...Option) *Router {
	r := &Router{
		missions: missions,
		audit:    audit,
		tracer:   otel.Tracer("github.com/kalambet/missiond/internal/router"),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// lookup maps an event type to its mission. ok is false for event types
// outside the closed set.
func (r *Router) lookup(ev Event) (mission string, h handlerFunc, ok bool) {
	switch ev {
	case EventMessageReceived:
		return MissionProcessMessage, r.missions.ProcessMessage, true
	case EventInvoiceOverdue:
		return MissionInvoiceFollowup, r.missions.InvoiceFollowup, true
	case EventLeadConverted:
		return MissionConvertLead, r.missions.ConvertLead, true
	case EventDraftApproved:
		return MissionSendReply, r.missions.SendReply, true
	case EventTimerDailyDigest:
		return MissionDailyDigest, r.missions.DailyDigest, true
	case EventTimerMilestoneReminder:
		return MissionMilestoneReminder, r.missions.MilestoneReminder, true
	case EventTimerProjectStatusCheck:
		return MissionProjectStatusCheck, r.missions.ProjectStatusCheck, true
	}
	return "", nil, false
}

// Route validates env, runs its mission and writes exactly one audit
// record. Every failure is reported in the Result; Route never panics.
func (r *Router) Route(ctx context.Context, env Envelope) (res Result) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "route "+env.Event, trace.WithAttributes(
		attribute.String("missiond.event", env.Event),
		attribute.String("missiond.resource_id", env.ResourceID),
	))
	log := r.logger.With("event", env.Event, "resource", env.ResourceID, "user", env.UserID)

	defer func() {
		r.record(ctx, env, res, time.Since(start))
		if res.Error != "" {
			span.SetStatus(codes.Error, res.Error)
		}
		span.SetAttributes(attribute.String("missiond.status", res.Status))
		span.End()
	}()

	if missing := env.missing(); len(missing) > 0 {
		res = Result{
			Error:  "missing required fields: " + strings.Join(missing, ", "),
			Status: storage.MissionError,
		}
		log.Warn("event rejected", "error", res.Error)
		return res
	}

	mission, handler, ok := r.lookup(Event(env.Event))
	if !ok {
		res = Result{
			Error:  fmt.Sprintf("unknown event %q", env.Event),
			Status: storage.MissionUnknownEvent,
		}
		log.Warn("event has no mission")
		return res
	}

	if err := invoke(ctx, handler, env); err != nil {
		res = Result{Mission: mission, Error: err.Error(), Status: storage.MissionError}
		log.Error("mission failed", "mission", mission, "error", err)
		return res
	}

	log.Info("mission dispatched", "mission", mission, "duration_ms", time.Since(start).Milliseconds())
	return Result{Dispatched: true, Mission: mission, Status: storage.MissionDispatched}
}

// invoke runs h, converting a panic into an error.
func invoke(ctx context.Context, h handlerFunc, env Envelope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("mission panicked: %v", p)
		}
	}()
	return h(ctx, env)
}

// record writes the audit entry, then publishes it and updates metrics.
// None of these steps can fail the call.
func (r *Router) record(ctx context.Context, env Envelope, res Result, d time.Duration) {
	ctx = context.WithoutCancel(ctx)
	entry := storage.MissionLog{
		Event:      env.Event,
		Handler:    res.Mission,
		Status:     res.Status,
		Error:      res.Error,
		ResourceID: env.ResourceID,
		UserID:     env.UserID,
		CreatedAt:  time.Now().UTC(),
	}
	saved, err := r.audit.SaveMissionLog(ctx, entry)
	if err != nil {
		r.logger.Error("writing mission log failed", "event", env.Event, "status", res.Status, "error", err)
	} else {
		entry = saved
		if r.publisher != nil {
			r.publisher.PublishMission(ctx, entry)
		}
	}
	if r.metrics != nil {
		r.metrics.Record(ctx, env.Event, res.Status, d)
	}
}
